/*
 * @module service/provider/ollama_client
 * @description Ollama REST 客户端，提供健康检查、模型列表、对话、向量化与模型拉取
 * @architecture 分层架构 - 基础设施层
 * @documentReference dev_docs/provider_management.md
 * @stateFlow 健康检查 -> 模型可用性确认 -> 对话/向量化调用
 * @rules 对话与向量化均使用非流式接口，模型拉取按 NDJSON 流消费进度
 * @dependencies net/http
 * @refs service/provider/provider_manager.go, service/settings/settings_manager.go
 */

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	ollamaRequestTimeout = 120 * time.Second
	ollamaHealthTimeout  = 10 * time.Second
)

// OllamaClient Ollama REST 客户端
type OllamaClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewOllamaClient 创建 Ollama 客户端
func NewOllamaClient(endpoint string) *OllamaClient {
	return &OllamaClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: ollamaRequestTimeout,
		},
	}
}

// Endpoint 返回服务地址
func (c *OllamaClient) Endpoint() string {
	return c.endpoint
}

// ollamaModel /api/tags 返回的模型条目
type ollamaModel struct {
	Name string `json:"name"`
}

type ollamaTagsResponse struct {
	Models []ollamaModel `json:"models"`
}

// HealthCheck 检查 Ollama 服务可达性
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ollamaHealthTimeout)
	defer cancel()

	_, err := c.ListModels(ctx)
	return err
}

// ListModels 列出本地已安装的模型名
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求Ollama失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Ollama返回状态码 %d", resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("解析模型列表失败: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, model := range tags.Models {
		names = append(names, model.Name)
	}
	return names, nil
}

// HasModel 检查指定模型是否已安装
func (c *OllamaClient) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, name := range models {
		if name == model {
			return true, nil
		}
	}
	return false, nil
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}

// Chat 执行一轮非流式对话
func (c *OllamaClient) Chat(ctx context.Context, model, systemPrompt, userMessage string) (string, error) {
	messages := make([]ollamaChatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: userMessage})

	body := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	}

	var result ollamaChatResponse
	if err := c.postJSON(ctx, "/api/chat", body, &result); err != nil {
		return "", err
	}
	return result.Message.Content, nil
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed 向量化单条文本
func (c *OllamaClient) Embed(ctx context.Context, model, text string) ([]float64, error) {
	body := ollamaEmbeddingRequest{Model: model, Prompt: text}

	var result ollamaEmbeddingResponse
	if err := c.postJSON(ctx, "/api/embeddings", body, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("Ollama返回空向量")
	}
	return result.Embedding, nil
}

// PullProgress 模型拉取进度回调
type PullProgress func(status string, completed, total int64)

type ollamaPullStatus struct {
	Status    string `json:"status"`
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
	Error     string `json:"error"`
}

// PullModel 拉取模型，按 NDJSON 流消费进度直到结束
func (c *OllamaClient) PullModel(ctx context.Context, model string, progress PullProgress) error {
	body := map[string]interface{}{"name": model}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/pull", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// 模型拉取耗时无上界，不使用客户端超时
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("请求Ollama失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Ollama返回状态码 %d: %s", resp.StatusCode, string(payload))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var status ollamaPullStatus
		if err := json.Unmarshal(line, &status); err != nil {
			continue
		}
		if status.Error != "" {
			return fmt.Errorf("模型拉取失败: %s", status.Error)
		}
		if progress != nil {
			progress(status.Status, status.Completed, status.Total)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("读取拉取进度失败: %w", err)
	}
	return nil
}

func (c *OllamaClient) postJSON(ctx context.Context, path string, body, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求Ollama失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Ollama返回状态码 %d: %s", resp.StatusCode, string(payload))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// OllamaChatProvider 基于 Ollama 的对话提供方
type OllamaChatProvider struct {
	client *OllamaClient
	model  string
}

// NewOllamaChatProvider 创建 Ollama 对话提供方
func NewOllamaChatProvider(client *OllamaClient, model string) *OllamaChatProvider {
	return &OllamaChatProvider{client: client, model: model}
}

func (p *OllamaChatProvider) Name() string  { return "ollama" }
func (p *OllamaChatProvider) Model() string { return p.model }

func (p *OllamaChatProvider) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return p.client.Chat(ctx, p.model, systemPrompt, userMessage)
}

// OllamaEmbeddingProvider 基于 Ollama 的向量化提供方
type OllamaEmbeddingProvider struct {
	client *OllamaClient
	model  string
}

// NewOllamaEmbeddingProvider 创建 Ollama 向量化提供方
func NewOllamaEmbeddingProvider(client *OllamaClient, model string) *OllamaEmbeddingProvider {
	return &OllamaEmbeddingProvider{client: client, model: model}
}

func (p *OllamaEmbeddingProvider) Name() string  { return "ollama" }
func (p *OllamaEmbeddingProvider) Model() string { return p.model }

func (p *OllamaEmbeddingProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, 0, len(texts))
	for _, text := range texts {
		vector, err := p.client.Embed(ctx, p.model, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}
