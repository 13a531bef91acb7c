/*
 * @module service/vectorstore/qdrant_client
 * @description Qdrant 向量数据库 REST 客户端，提供集合管理、索引创建与点位读写
 * @architecture 分层架构 - 基础设施层
 * @documentReference dev_docs/vector_store.md
 * @stateFlow 确认集合存在 -> 写入/读取点位
 * @rules 所有响应按 {status, result} 包络解析，status 非 ok 视为失败
 * @dependencies net/http
 * @refs service/settings/settings_manager.go
 */

package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// Point Qdrant 点位
type Point struct {
	ID      interface{}            `json:"id"`
	Vector  []float64              `json:"vector,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// qdrantEnvelope Qdrant REST 响应包络
type qdrantEnvelope struct {
	Status interface{}     `json:"status"`
	Result json.RawMessage `json:"result"`
}

// QdrantClient Qdrant REST 客户端
type QdrantClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewQdrantClient 创建 Qdrant 客户端
func NewQdrantClient(baseURL, apiKey string) *QdrantClient {
	return &QdrantClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

// doRequest 执行请求并解析响应包络
func (c *QdrantClient) doRequest(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求Qdrant失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("Qdrant返回状态码 %d: %s", resp.StatusCode, string(data))
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if status, ok := envelope.Status.(string); ok && status != "ok" && status != "" {
		return nil, fmt.Errorf("Qdrant操作失败: %s", status)
	}
	return envelope.Result, nil
}

// HealthCheck 检查 Qdrant 服务可达性
func (c *QdrantClient) HealthCheck(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/collections", nil)
	return err
}

// CollectionExists 检查集合是否存在
func (c *QdrantClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/collections/"+name, nil)
	if err != nil {
		return false, fmt.Errorf("创建请求失败: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("请求Qdrant失败: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("Qdrant返回状态码 %d", resp.StatusCode)
	}
}

// EnsureCollection 创建集合，已存在时不做任何修改
func (c *QdrantClient) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	exists, err := c.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	_, err = c.doRequest(ctx, http.MethodPut, "/collections/"+name, body)
	return err
}

// CreateFieldIndex 为集合的 payload 字段创建索引
func (c *QdrantClient) CreateFieldIndex(ctx context.Context, collection, field, fieldType string) error {
	body := map[string]interface{}{
		"field_name":   field,
		"field_schema": fieldType,
	}
	_, err := c.doRequest(ctx, http.MethodPut, "/collections/"+collection+"/index", body)
	return err
}

// UpsertPoints 写入或覆盖点位
func (c *QdrantClient) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	body := map[string]interface{}{"points": points}
	_, err := c.doRequest(ctx, http.MethodPut, "/collections/"+collection+"/points", body)
	return err
}

// GetPoints 按 ID 读取点位
func (c *QdrantClient) GetPoints(ctx context.Context, collection string, ids []interface{}, withPayload bool) ([]Point, error) {
	body := map[string]interface{}{
		"ids":          ids,
		"with_payload": withPayload,
	}
	result, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points", body)
	if err != nil {
		return nil, err
	}

	var points []Point
	if err := json.Unmarshal(result, &points); err != nil {
		return nil, fmt.Errorf("解析点位失败: %w", err)
	}
	return points, nil
}
