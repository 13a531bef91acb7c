/*
 * @module service/settings/settings_store
 * @description 系统设置持久化层，将设置快照作为单条点位整体存入向量数据库
 * @architecture 数据访问层
 * @documentReference dev_docs/settings_management.md
 * @stateFlow 确认集合存在 -> 读取点位 1 -> 整体覆盖写回
 * @rules 设置点位固定 id=1，载荷携带 setting_type=system 标记；向量由载荷内容确定性派生
 * @dependencies crypto/sha256
 * @refs service/vectorstore/qdrant_client.go, service/settings/settings_manager.go
 */

package settings

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"zenith-service/service/models"
	"zenith-service/service/vectorstore"
)

const (
	settingsCollection = "zenith_settings"
	settingsPointID    = 1
	settingsVectorDim  = 384
)

// VectorStore 设置存储所需的向量数据库操作子集
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, vectorSize int) error
	CreateFieldIndex(ctx context.Context, collection, field, fieldType string) error
	UpsertPoints(ctx context.Context, collection string, points []vectorstore.Point) error
	GetPoints(ctx context.Context, collection string, ids []interface{}, withPayload bool) ([]vectorstore.Point, error)
	HealthCheck(ctx context.Context) error
}

// Store 设置存储
type Store struct {
	vectors VectorStore
}

// NewStore 创建设置存储
func NewStore(vectors VectorStore) *Store {
	return &Store{vectors: vectors}
}

// settingsVector 从载荷内容确定性派生固定维度向量。
// 存储层要求点位必须携带向量，内容哈希保证相同设置产生相同向量。
func settingsVector(payload models.JSONB) []float64 {
	data, _ := json.Marshal(payload)
	digest := sha256.Sum256(data)

	vector := make([]float64, settingsVectorDim)
	block := digest[:]
	for i := 0; i < settingsVectorDim; i++ {
		if i > 0 && i%len(block) == 0 {
			next := sha256.Sum256(append(block, byte(i/len(block))))
			block = next[:]
		}
		vector[i] = float64(block[i%len(block)]) / 255.0
	}
	return vector
}

// Init 确保设置集合与索引存在
func (s *Store) Init(ctx context.Context) error {
	if err := s.vectors.EnsureCollection(ctx, settingsCollection, settingsVectorDim); err != nil {
		return fmt.Errorf("创建设置集合失败: %w", err)
	}
	if err := s.vectors.CreateFieldIndex(ctx, settingsCollection, "setting_type", "keyword"); err != nil {
		// 索引已存在时部分版本返回错误，不阻断启动
		return nil
	}
	return nil
}

// Load 读取设置快照，不存在时返回 (nil, nil)
func (s *Store) Load(ctx context.Context) (*models.SystemSettings, error) {
	points, err := s.vectors.GetPoints(ctx, settingsCollection, []interface{}{settingsPointID}, true)
	if err != nil {
		return nil, fmt.Errorf("读取设置点位失败: %w", err)
	}
	if len(points) == 0 || points[0].Payload == nil {
		return nil, nil
	}

	payload := points[0].Payload
	if nested, ok := payload["settings"].(map[string]interface{}); ok {
		payload = nested
	}
	return models.SystemSettingsFromMap(models.JSONB(payload))
}

// Save 整体覆盖写入设置快照
func (s *Store) Save(ctx context.Context, settings *models.SystemSettings) error {
	payload, err := settings.ToMap()
	if err != nil {
		return err
	}

	point := vectorstore.Point{
		ID:     settingsPointID,
		Vector: settingsVector(payload),
		Payload: map[string]interface{}{
			"setting_type": "system",
			"settings":     map[string]interface{}(payload),
		},
	}
	if err := s.vectors.UpsertPoints(ctx, settingsCollection, []vectorstore.Point{point}); err != nil {
		return fmt.Errorf("写入设置点位失败: %w", err)
	}
	return nil
}

// HealthCheck 检查设置存储可达性
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.vectors.HealthCheck(ctx)
}
