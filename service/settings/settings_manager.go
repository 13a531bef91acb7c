/*
 * @module service/settings/settings_manager
 * @description 系统设置管理器，串行执行校验、差异计算、连通性实测、持久化与变更通知
 * @architecture 分层架构 - 业务服务层
 * @documentReference dev_docs/settings_management.md
 * @stateFlow 校验 -> 合并 -> 差异 -> 实测 -> 持久化 -> 通知与回写；任一步失败则整体放弃，快照保持不变
 * @rules 校验到持久化在单一互斥锁内串行执行，通知与回写在锁外进行；无差异的更新不持久化也不触发事件
 * @dependencies encoding/json
 * @refs service/settings/settings_store.go, service/provider/provider_manager.go
 */

package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zenith-service/service/models"
	"zenith-service/service/provider"
)

const redactedMarker = "[REDACTED]"

// 载荷中不回显明文的字段
var secretFields = map[string]bool{
	"openai_api_key":       true,
	"qdrant_cloud_api_key": true,
	"minio_secret_key":     true,
}

// EventSink 设置变更事件的接收方
type EventSink interface {
	OnSettingsChange(event provider.ChangeEvent)
}

// ConfigMirror 动态配置层的写入口，用于在设置更新后回写关键运行参数，
// 保证只读动态配置的旧组件看到一致的值
type ConfigMirror interface {
	SetConfig(key string, value interface{}) bool
}

// Manager 系统设置管理器
type Manager struct {
	mu      sync.Mutex
	store   *Store
	current *models.SystemSettings
	sink    EventSink
	mirror  ConfigMirror
}

// NewManager 创建设置管理器
func NewManager(store *Store) *Manager {
	return &Manager{
		store:   store,
		current: models.DefaultSystemSettings(),
	}
}

// SetEventSink 设置变更事件接收方
func (m *Manager) SetEventSink(sink EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// SetConfigMirror 设置动态配置回写目标
func (m *Manager) SetConfigMirror(mirror ConfigMirror) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirror = mirror
}

// Init 初始化存储并加载持久化设置，无持久化记录时写入默认值
func (m *Manager) Init(ctx context.Context) error {
	if err := m.store.Init(ctx); err != nil {
		return err
	}

	loaded, err := m.store.Load(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if loaded != nil {
		m.current = loaded
		slog.Info("系统设置已加载", "version", loaded.SettingsVersion)
		return nil
	}

	if err := m.store.Save(ctx, m.current); err != nil {
		return fmt.Errorf("写入默认设置失败: %w", err)
	}
	slog.Info("系统设置不存在，已写入默认值")
	return nil
}

// CurrentSettings 返回当前设置快照的拷贝
func (m *Manager) CurrentSettings() *models.SystemSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// GetSettings 返回脱敏后的设置载荷，供 API 层回显
func (m *Manager) GetSettings() (map[string]interface{}, error) {
	payload, err := m.CurrentSettings().ToMap()
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}(payload)
	for field := range secretFields {
		if str, ok := result[field].(string); ok && str != "" {
			result[field] = redactedMarker
		}
	}
	return result, nil
}

// UpdateSettings 更新系统设置。
// 校验、合并、差异计算、连通性实测与持久化在单一互斥锁内串行执行；
// 事件通知与配置回写在锁外进行，接收方可以安全回读当前设置。
// 任一步失败时快照保持不变并返回失败消息。无差异的更新直接成功返回。
func (m *Manager) UpdateSettings(ctx context.Context, updates map[string]interface{}) (bool, []string) {
	ok, messages, events, merged := m.applyUpdate(ctx, updates)
	if ok && merged != nil {
		m.notify(events)
		m.mirrorSettings(merged)
	}
	return ok, messages
}

// applyUpdate 在互斥锁内执行更新管线，成功时返回待通知事件与新快照
func (m *Manager) applyUpdate(ctx context.Context, updates map[string]interface{}) (bool, []string, []provider.ChangeEvent, *models.SystemSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.current

	merged, err := mergeSettings(old, updates)
	if err != nil {
		return false, []string{fmt.Sprintf("Invalid settings update: %v", err)}, nil, nil
	}

	if errs := validateSettings(merged); len(errs) > 0 {
		return false, errs, nil, nil
	}

	changed := diffSettings(old, merged)
	if len(changed) == 0 {
		return true, []string{"No changes detected"}, nil, nil
	}

	if messages, ok := m.runLiveTests(ctx, old, merged, changed); !ok {
		return false, messages, nil, nil
	}

	merged.SettingsVersion = old.SettingsVersion + 1
	merged.UpdatedAt = time.Now()

	if err := m.store.Save(ctx, merged); err != nil {
		return false, []string{fmt.Sprintf("Failed to persist settings: %v", err)}, nil, nil
	}

	m.current = merged
	slog.Info("系统设置已更新", "version", merged.SettingsVersion, "changed_fields", changed)

	messages := make([]string, 0, len(changed)+1)
	for _, field := range changed {
		messages = append(messages, "Updated: "+field)
	}
	messages = append(messages, fmt.Sprintf("Settings updated successfully (version %d)", merged.SettingsVersion))
	return true, messages, buildChangeEvents(old, merged, changed), merged
}

// ForceReinitialize 强制重建提供方。
// 先对当前设置重新执行连通性实测，Ollama 启用且未跳过时补拉缺失模型，
// 最后广播 ForceReinitialize 事件触发全部提供方重建。
func (m *Manager) ForceReinitialize(ctx context.Context, skipModelPull bool) (bool, []string) {
	m.mu.Lock()
	settings := m.current.Clone()
	m.mu.Unlock()

	var messages []string

	if settings.OllamaEnabled {
		client := provider.NewOllamaClient(settings.OllamaEndpoint)
		if err := client.HealthCheck(ctx); err != nil {
			return false, []string{fmt.Sprintf("Ollama validation failed: %v", err)}
		}
		messages = append(messages, "Ollama connection verified")

		if !skipModelPull {
			if err := ensureOllamaModels(ctx, client, settings.OllamaChatModel, settings.OllamaEmbeddingModel); err != nil {
				return false, []string{fmt.Sprintf("Ollama validation failed: %v", err)}
			}
			messages = append(messages, "Ollama models verified")
		}
	} else if settings.OpenAIAPIKey != "" {
		if err := provider.TestOpenAIConnection(ctx, settings.OpenAIAPIKey, settings.OpenAIBaseURL); err != nil {
			return false, []string{fmt.Sprintf("OpenAI validation failed: %v", err)}
		}
		messages = append(messages, "OpenAI connection verified")
	}

	m.notify([]provider.ChangeEvent{provider.ForceReinitialize{SkipModelPull: skipModelPull}})
	messages = append(messages, "Providers reinitialized")
	return true, messages
}

// TestOllamaConnection 实测 Ollama 服务连通性并返回已安装模型
func (m *Manager) TestOllamaConnection(ctx context.Context, endpoint string) (bool, []string, error) {
	if endpoint == "" {
		endpoint = m.CurrentSettings().OllamaEndpoint
	}

	client := provider.NewOllamaClient(endpoint)
	installedModels, err := client.ListModels(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("Ollama validation failed: %w", err)
	}
	return true, installedModels, nil
}

// TestOpenAIConnection 实测 OpenAI 凭据有效性
func (m *Manager) TestOpenAIConnection(ctx context.Context, apiKey string) error {
	settings := m.CurrentSettings()
	if apiKey == "" {
		apiKey = settings.OpenAIAPIKey
	}
	return provider.TestOpenAIConnection(ctx, apiKey, settings.OpenAIBaseURL)
}

// HealthCheck 设置子系统健康状态
func (m *Manager) HealthCheck(ctx context.Context) map[string]interface{} {
	settings := m.CurrentSettings()
	status := map[string]interface{}{
		"settings_version": settings.SettingsVersion,
		"store_accessible": false,
	}
	if err := m.store.HealthCheck(ctx); err != nil {
		status["error"] = err.Error()
	} else {
		status["store_accessible"] = true
	}
	return status
}

// notify 在锁外逐个事件通知接收方
func (m *Manager) notify(events []provider.ChangeEvent) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()

	if sink == nil {
		return
	}
	for _, event := range events {
		sink.OnSettingsChange(event)
	}
}

// mirrorSettings 将关键运行参数回写到动态配置层，失败仅记录日志
func (m *Manager) mirrorSettings(settings *models.SystemSettings) {
	m.mu.Lock()
	mirror := m.mirror
	m.mu.Unlock()

	if mirror == nil {
		return
	}

	qdrantURL := settings.QdrantCloudURL
	if settings.QdrantMode == "local" {
		qdrantURL = fmt.Sprintf("http://%s:%d", settings.QdrantLocalHost, settings.QdrantLocalPort)
	}

	mirrored := map[string]interface{}{
		"chunking.chunk_size":            settings.ChunkSize,
		"chunking.chunk_overlap":         settings.ChunkOverlap,
		"retrieval.max_chunks_per_query": settings.MaxChunksPerQuery,
		"uploads.max_file_size_mb":       settings.MaxFileSizeMB,
	}
	if qdrantURL != "" {
		mirrored["qdrant.url"] = qdrantURL
	}

	for key, value := range mirrored {
		if !mirror.SetConfig(key, value) {
			slog.Warn("设置回写动态配置失败", "key", key)
		}
	}
}

// runLiveTests 对受变更影响的提供方执行连通性实测。
// 生效提供方发生切换、或某一提供方自身的设置被修改时，对切换后仍被选中的
// 提供方实测；Ollama 实测包含所需模型检查，缺失时现场补拉。
func (m *Manager) runLiveTests(ctx context.Context, old, merged *models.SystemSettings, changed []string) ([]string, bool) {
	changedSet := make(map[string]bool, len(changed))
	for _, field := range changed {
		changedSet[field] = true
	}

	ollamaTouched := changedSet["ollama_enabled"] || changedSet["ollama_endpoint"] ||
		changedSet["ollama_chat_model"] || changedSet["ollama_embedding_model"]
	openaiTouched := changedSet["openai_api_key"] || changedSet["openai_base_url"] ||
		changedSet["openai_chat_model"] || changedSet["openai_embedding_model"]
	providerSwitched := old.EffectiveChatProvider() != merged.EffectiveChatProvider() ||
		old.EffectiveEmbeddingProvider() != merged.EffectiveEmbeddingProvider()

	ollamaSelected := merged.EffectiveChatProvider() == models.ProviderOllama ||
		merged.EffectiveEmbeddingProvider() == models.ProviderOllama
	if ollamaSelected && (ollamaTouched || providerSwitched) {
		client := provider.NewOllamaClient(merged.OllamaEndpoint)
		if err := client.HealthCheck(ctx); err != nil {
			return []string{fmt.Sprintf("Ollama validation failed: %v", err)}, false
		}
		if err := ensureOllamaModels(ctx, client, merged.OllamaChatModel, merged.OllamaEmbeddingModel); err != nil {
			return []string{fmt.Sprintf("Ollama validation failed: %v", err)}, false
		}
	}

	openaiSelected := merged.EffectiveChatProvider() == models.ProviderOpenAI ||
		merged.EffectiveEmbeddingProvider() == models.ProviderOpenAI
	if merged.OpenAIAPIKey != "" && (openaiTouched || (openaiSelected && providerSwitched)) {
		if err := provider.TestOpenAIConnection(ctx, merged.OpenAIAPIKey, merged.OpenAIBaseURL); err != nil {
			return []string{fmt.Sprintf("OpenAI validation failed: %v", err)}, false
		}
	}

	return nil, true
}

// ensureOllamaModels 检查所需模型是否已安装，缺失时现场拉取
func ensureOllamaModels(ctx context.Context, client *provider.OllamaClient, modelNames ...string) error {
	for _, model := range modelNames {
		if model == "" {
			continue
		}
		has, err := client.HasModel(ctx, model)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		slog.Info("Ollama模型缺失，开始拉取", "model", model)
		if err := client.PullModel(ctx, model, nil); err != nil {
			return fmt.Errorf("pull model %s: %w", model, err)
		}
	}
	return nil
}

// mergeSettings 将更新字段合并到快照拷贝，拒绝未知字段与类型不匹配
func mergeSettings(current *models.SystemSettings, updates map[string]interface{}) (*models.SystemSettings, error) {
	payload, err := current.ToMap()
	if err != nil {
		return nil, err
	}

	base := map[string]interface{}(payload)
	for field, value := range updates {
		base[field] = value
	}

	data, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}

	merged := &models.SystemSettings{}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// validateSettings 语义校验，返回全部错误而非首个
func validateSettings(s *models.SystemSettings) []string {
	var errs []string

	if s.PreferredChatProvider != models.ProviderOpenAI && s.PreferredChatProvider != models.ProviderOllama {
		errs = append(errs, fmt.Sprintf("Invalid chat provider: %s", s.PreferredChatProvider))
	}
	if s.PreferredEmbeddingProvider != models.ProviderOpenAI && s.PreferredEmbeddingProvider != models.ProviderOllama {
		errs = append(errs, fmt.Sprintf("Invalid embedding provider: %s", s.PreferredEmbeddingProvider))
	}
	if s.ChunkSize <= 0 {
		errs = append(errs, "chunk_size must be positive")
	}
	if s.ChunkOverlap < 0 {
		errs = append(errs, "chunk_overlap must not be negative")
	}
	if s.ChunkSize > 0 && s.ChunkOverlap >= s.ChunkSize {
		errs = append(errs, "chunk_overlap must be smaller than chunk_size")
	}
	if s.MaxChunksPerQuery <= 0 {
		errs = append(errs, "max_chunks_per_query must be positive")
	}
	if s.MaxFileSizeMB <= 0 {
		errs = append(errs, "max_file_size_mb must be positive")
	}
	if s.SessionDurationHours <= 0 {
		errs = append(errs, "session_duration_hours must be positive")
	}
	if s.MaxUsers <= 0 {
		errs = append(errs, "max_users must be positive")
	}
	if s.OllamaEnabled && s.OllamaEndpoint == "" {
		errs = append(errs, "ollama_endpoint is required when Ollama is enabled")
	}
	if s.QdrantMode != "local" && s.QdrantMode != "cloud" {
		errs = append(errs, fmt.Sprintf("Invalid qdrant_mode: %s", s.QdrantMode))
	}

	return errs
}

// diffSettings 计算变更字段名，忽略版本与时间戳
func diffSettings(old, merged *models.SystemSettings) []string {
	oldPayload, err := old.ToMap()
	if err != nil {
		return nil
	}
	newPayload, err := merged.ToMap()
	if err != nil {
		return nil
	}

	var changed []string
	for field, newValue := range newPayload {
		if field == "settings_version" || field == "updated_at" {
			continue
		}
		oldData, _ := json.Marshal(oldPayload[field])
		newData, _ := json.Marshal(newValue)
		if !bytes.Equal(oldData, newData) {
			changed = append(changed, field)
		}
	}
	return changed
}

// buildChangeEvents 从前后快照构造类型化变更事件
func buildChangeEvents(old, merged *models.SystemSettings, changed []string) []provider.ChangeEvent {
	changedSet := make(map[string]bool, len(changed))
	for _, field := range changed {
		changedSet[field] = true
	}

	var events []provider.ChangeEvent

	if oldProvider, newProvider := old.EffectiveChatProvider(), merged.EffectiveChatProvider(); oldProvider != newProvider {
		events = append(events, provider.ChatProviderChanged{
			OldProvider: oldProvider,
			NewProvider: newProvider,
		})
	}
	if oldProvider, newProvider := old.EffectiveEmbeddingProvider(), merged.EffectiveEmbeddingProvider(); oldProvider != newProvider {
		events = append(events, provider.EmbeddingProviderChanged{
			OldProvider: oldProvider,
			NewProvider: newProvider,
		})
	}

	if changedSet["ollama_enabled"] || changedSet["ollama_endpoint"] ||
		changedSet["ollama_chat_model"] || changedSet["ollama_embedding_model"] {
		events = append(events, provider.OllamaSettingsChanged{
			Endpoint:       merged.OllamaEndpoint,
			ChatModel:      merged.OllamaChatModel,
			EmbeddingModel: merged.OllamaEmbeddingModel,
			Enabled:        merged.OllamaEnabled,
		})
	}

	if changedSet["openai_api_key"] || changedSet["openai_base_url"] ||
		changedSet["openai_chat_model"] || changedSet["openai_embedding_model"] {
		events = append(events, provider.OpenAISettingsChanged{
			ChatModel:      merged.OpenAIChatModel,
			EmbeddingModel: merged.OpenAIEmbeddingModel,
		})
	}

	return events
}
