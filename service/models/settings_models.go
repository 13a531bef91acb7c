/*
 * @module service/models/settings_models
 * @description 系统设置快照模型，作为单条记录整体存储在向量数据库中
 * @architecture 数据访问层 - 数据模型
 * @documentReference dev_docs/settings_management.md
 * @stateFlow 读取 -> 拷贝修改 -> 整体写回（存储层不支持局部更新）
 * @rules 每次更新产生全新的不可变快照实例替换旧快照
 * @dependencies encoding/json
 * @refs service/settings, service/vectorstore
 */

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// 支持的模型提供方
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// SystemSettings 系统设置快照，settings_id = 1 的单例记录
type SystemSettings struct {
	// OpenAI 配置，BaseURL 为空时使用官方端点
	OpenAIAPIKey         string `json:"openai_api_key"`
	OpenAIBaseURL        string `json:"openai_base_url"`
	OpenAIChatModel      string `json:"openai_chat_model"`
	OpenAIEmbeddingModel string `json:"openai_embedding_model"`

	// Ollama 配置
	OllamaEnabled        bool   `json:"ollama_enabled"`
	OllamaEndpoint       string `json:"ollama_endpoint"`
	OllamaChatModel      string `json:"ollama_chat_model"`
	OllamaEmbeddingModel string `json:"ollama_embedding_model"`

	// 提供方选择（管理员设置优先于环境变量）
	PreferredChatProvider      string `json:"preferred_chat_provider"`
	PreferredEmbeddingProvider string `json:"preferred_embedding_provider"`

	// Qdrant 配置
	QdrantMode           string `json:"qdrant_mode"` // local 或 cloud
	QdrantCloudURL       string `json:"qdrant_cloud_url"`
	QdrantCloudAPIKey    string `json:"qdrant_cloud_api_key"`
	QdrantLocalHost      string `json:"qdrant_local_host"`
	QdrantLocalPort      int    `json:"qdrant_local_port"`
	QdrantCollectionName string `json:"qdrant_collection_name"`

	// 文档处理参数
	ChunkSize         int `json:"chunk_size"`
	ChunkOverlap      int `json:"chunk_overlap"`
	MaxChunksPerQuery int `json:"max_chunks_per_query"`
	MaxFileSizeMB     int `json:"max_file_size_mb"`

	// MinIO 对象存储配置
	MinIOEnabled   bool   `json:"minio_enabled"`
	MinIOEndpoint  string `json:"minio_endpoint"`
	MinIOAccessKey string `json:"minio_access_key"`
	MinIOSecretKey string `json:"minio_secret_key"`
	MinIOSecure    bool   `json:"minio_secure"`

	// 用户管理策略
	AllowUserRegistration bool `json:"allow_user_registration"`
	RequireAdminApproval  bool `json:"require_admin_approval"`
	SessionDurationHours  int  `json:"session_duration_hours"`
	MaxUsers              int  `json:"max_users"`

	// 快照版本，每次成功更新单调递增，用于检测外部漂移
	SettingsVersion int64     `json:"settings_version"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DefaultSystemSettings 返回默认系统设置
func DefaultSystemSettings() *SystemSettings {
	return &SystemSettings{
		OpenAIChatModel:            "gpt-3.5-turbo",
		OpenAIEmbeddingModel:       "text-embedding-ada-002",
		OllamaEnabled:              false,
		OllamaEndpoint:             "http://localhost:11434",
		OllamaChatModel:            "llama2",
		OllamaEmbeddingModel:       "nomic-embed-text",
		PreferredChatProvider:      ProviderOpenAI,
		PreferredEmbeddingProvider: ProviderOpenAI,
		QdrantMode:                 "cloud",
		QdrantLocalHost:            "localhost",
		QdrantLocalPort:            6333,
		QdrantCollectionName:       "zenith_documents",
		ChunkSize:                  1000,
		ChunkOverlap:               200,
		MaxChunksPerQuery:          5,
		MaxFileSizeMB:              50,
		AllowUserRegistration:      true,
		RequireAdminApproval:       false,
		SessionDurationHours:       24,
		MaxUsers:                   100,
		SettingsVersion:            1,
		UpdatedAt:                  time.Now(),
	}
}

// ToMap 转换为存储载荷
func (s *SystemSettings) ToMap() (JSONB, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("序列化系统设置失败: %w", err)
	}

	var payload JSONB
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("转换系统设置失败: %w", err)
	}
	return payload, nil
}

// SystemSettingsFromMap 从存储载荷构建设置快照
func SystemSettingsFromMap(payload JSONB) (*SystemSettings, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化设置载荷失败: %w", err)
	}

	settings := DefaultSystemSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("解析设置载荷失败: %w", err)
	}
	return settings, nil
}

// Clone 深拷贝快照
func (s *SystemSettings) Clone() *SystemSettings {
	copied := *s
	return &copied
}

// EffectiveChatProvider 获取实际生效的对话提供方。
// Ollama 启用时优先使用 Ollama，否则使用偏好设置。
func (s *SystemSettings) EffectiveChatProvider() string {
	if s.OllamaEnabled {
		return ProviderOllama
	}
	return s.PreferredChatProvider
}

// EffectiveEmbeddingProvider 获取实际生效的向量化提供方
func (s *SystemSettings) EffectiveEmbeddingProvider() string {
	if s.OllamaEnabled {
		return ProviderOllama
	}
	return s.PreferredEmbeddingProvider
}
