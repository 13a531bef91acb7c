/*
 * @module service/provider/provider_manager
 * @description 提供方管理器，按当前系统设置惰性构造对话与向量化提供方，响应设置变更进行热切换并向下游组件广播
 * @architecture 分层架构 - 业务服务层
 * @documentReference dev_docs/provider_management.md
 * @stateFlow 读取生效提供方 -> 缓存命中或惰性构造 -> 设置变更时失效缓存、重建生效提供方并广播
 * @rules Ollama 启用时强制生效提供方为 ollama，无视偏好设置；构造失败缓存哨兵错误直到下次设置变更；组件回调异常不中断广播
 * @dependencies github.com/prometheus/client_golang
 * @refs service/settings/settings_manager.go, service/provider/provider.go
 */

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"zenith-service/service/models"
)

var providerSwaps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "zenith_provider_swaps_total",
	Help: "提供方热切换次数",
}, []string{"kind"})

// SettingsSource 当前系统设置的只读来源
type SettingsSource interface {
	CurrentSettings() *models.SystemSettings
}

// Manager 提供方管理器
type Manager struct {
	settings SettingsSource

	mu                 sync.Mutex
	chatProviders      map[string]ChatProvider
	embeddingProviders map[string]EmbeddingProvider
	chatErrors         map[string]error
	embeddingErrors    map[string]error
	ollamaClients      map[string]*OllamaClient

	componentsMu sync.RWMutex
	components   []Component
}

// NewManager 创建提供方管理器
func NewManager(settings SettingsSource) *Manager {
	return &Manager{
		settings:           settings,
		chatProviders:      make(map[string]ChatProvider),
		embeddingProviders: make(map[string]EmbeddingProvider),
		chatErrors:         make(map[string]error),
		embeddingErrors:    make(map[string]error),
		ollamaClients:      make(map[string]*OllamaClient),
	}
}

// RegisterComponent 注册接收提供方变更通知的组件
func (m *Manager) RegisterComponent(component Component) {
	m.componentsMu.Lock()
	defer m.componentsMu.Unlock()
	m.components = append(m.components, component)
	slog.Info("组件已注册提供方变更通知", "component", component.ComponentName())
}

// UnregisterComponent 按组件名移除通知注册，组件销毁时调用
func (m *Manager) UnregisterComponent(name string) {
	m.componentsMu.Lock()
	defer m.componentsMu.Unlock()
	kept := m.components[:0]
	for _, component := range m.components {
		if component.ComponentName() != name {
			kept = append(kept, component)
		}
	}
	m.components = kept
	slog.Info("组件已注销提供方变更通知", "component", name)
}

// ollamaClient 按端点复用客户端实例，调用方需持有 m.mu
func (m *Manager) ollamaClient(endpoint string) *OllamaClient {
	if client, ok := m.ollamaClients[endpoint]; ok {
		return client
	}
	client := NewOllamaClient(endpoint)
	m.ollamaClients[endpoint] = client
	return client
}

// GetChatProvider 获取当前生效的对话提供方，按需惰性构造。
// 构造失败缓存哨兵错误，在下一次设置变更前不重复尝试构造。
func (m *Manager) GetChatProvider() (ChatProvider, error) {
	settings := m.settings.CurrentSettings()
	name := settings.EffectiveChatProvider()

	m.mu.Lock()
	defer m.mu.Unlock()

	if provider, ok := m.chatProviders[name]; ok {
		return provider, nil
	}
	if err, ok := m.chatErrors[name]; ok {
		return nil, err
	}

	var provider ChatProvider
	switch name {
	case models.ProviderOllama:
		client, err := m.checkedOllamaClient(settings.OllamaEndpoint)
		if err != nil {
			m.chatErrors[name] = err
			return nil, err
		}
		provider = NewOllamaChatProvider(client, settings.OllamaChatModel)
	case models.ProviderOpenAI:
		p, err := NewOpenAIChatProvider(settings.OpenAIAPIKey, settings.OpenAIBaseURL, settings.OpenAIChatModel)
		if err != nil {
			m.chatErrors[name] = err
			return nil, err
		}
		provider = p
	default:
		err := fmt.Errorf("unknown chat provider %q: %w", name, ErrProviderUnavailable)
		m.chatErrors[name] = err
		return nil, err
	}

	m.chatProviders[name] = provider
	slog.Info("对话提供方已构造", "provider", name, "model", provider.Model())
	return provider, nil
}

// GetEmbeddingProvider 获取当前生效的向量化提供方，按需惰性构造。
// 构造失败缓存哨兵错误，在下一次设置变更前不重复尝试构造。
func (m *Manager) GetEmbeddingProvider() (EmbeddingProvider, error) {
	settings := m.settings.CurrentSettings()
	name := settings.EffectiveEmbeddingProvider()

	m.mu.Lock()
	defer m.mu.Unlock()

	if provider, ok := m.embeddingProviders[name]; ok {
		return provider, nil
	}
	if err, ok := m.embeddingErrors[name]; ok {
		return nil, err
	}

	var provider EmbeddingProvider
	switch name {
	case models.ProviderOllama:
		client, err := m.checkedOllamaClient(settings.OllamaEndpoint)
		if err != nil {
			m.embeddingErrors[name] = err
			return nil, err
		}
		provider = NewOllamaEmbeddingProvider(client, settings.OllamaEmbeddingModel)
	case models.ProviderOpenAI:
		p, err := NewOpenAIEmbeddingProvider(settings.OpenAIAPIKey, settings.OpenAIBaseURL, settings.OpenAIEmbeddingModel)
		if err != nil {
			m.embeddingErrors[name] = err
			return nil, err
		}
		provider = p
	default:
		err := fmt.Errorf("unknown embedding provider %q: %w", name, ErrProviderUnavailable)
		m.embeddingErrors[name] = err
		return nil, err
	}

	m.embeddingProviders[name] = provider
	slog.Info("向量化提供方已构造", "provider", name, "model", provider.Model())
	return provider, nil
}

// checkedOllamaClient 返回端点对应的客户端，构造时做一次连通性检查，
// 不可达的端点返回 ErrProviderUnavailable。调用方需持有 m.mu
func (m *Manager) checkedOllamaClient(endpoint string) (*OllamaClient, error) {
	client := m.ollamaClient(endpoint)
	if err := client.HealthCheck(context.Background()); err != nil {
		return nil, fmt.Errorf("ollama unreachable at %s: %v: %w", endpoint, err, ErrProviderUnavailable)
	}
	return client, nil
}

// OnSettingsChange 响应设置变更事件，失效受影响的缓存，
// 立即按新设置重建生效提供方，再向组件广播
func (m *Manager) OnSettingsChange(event ChangeEvent) {
	m.mu.Lock()
	switch e := event.(type) {
	case ChatProviderChanged:
		m.evictChat(e.OldProvider)
		m.evictChat(e.NewProvider)
		providerSwaps.WithLabelValues("chat").Inc()
	case EmbeddingProviderChanged:
		m.evictEmbedding(e.OldProvider)
		m.evictEmbedding(e.NewProvider)
		providerSwaps.WithLabelValues("embedding").Inc()
	case OllamaSettingsChanged:
		m.evictChat(models.ProviderOllama)
		m.evictEmbedding(models.ProviderOllama)
		m.ollamaClients = make(map[string]*OllamaClient)
		providerSwaps.WithLabelValues("ollama").Inc()
	case OpenAISettingsChanged:
		m.evictChat(models.ProviderOpenAI)
		m.evictEmbedding(models.ProviderOpenAI)
		providerSwaps.WithLabelValues("openai").Inc()
	case ForceReinitialize:
		m.chatProviders = make(map[string]ChatProvider)
		m.embeddingProviders = make(map[string]EmbeddingProvider)
		m.chatErrors = make(map[string]error)
		m.embeddingErrors = make(map[string]error)
		m.ollamaClients = make(map[string]*OllamaClient)
		providerSwaps.WithLabelValues("all").Inc()
	}
	m.mu.Unlock()

	slog.Info("提供方管理器已处理设置变更", "event", event.EventName())
	m.rebuildActive()
	m.broadcast(event)
}

// evictChat 失效指定对话提供方的实例与哨兵缓存，调用方需持有 m.mu
func (m *Manager) evictChat(name string) {
	delete(m.chatProviders, name)
	delete(m.chatErrors, name)
}

// evictEmbedding 失效指定向量化提供方的实例与哨兵缓存，调用方需持有 m.mu
func (m *Manager) evictEmbedding(name string) {
	delete(m.embeddingProviders, name)
	delete(m.embeddingErrors, name)
}

// rebuildActive 按当前设置预构造生效提供方，
// 让设置变更后的首个请求不承担构造开销；失败缓存哨兵等待下次变更
func (m *Manager) rebuildActive() {
	if _, err := m.GetChatProvider(); err != nil {
		slog.Warn("对话提供方预构造失败", "error", err)
	}
	if _, err := m.GetEmbeddingProvider(); err != nil {
		slog.Warn("向量化提供方预构造失败", "error", err)
	}
}

// broadcast 向全部注册组件同步广播事件，单个组件异常不影响其余组件
func (m *Manager) broadcast(event ChangeEvent) {
	m.componentsMu.RLock()
	components := make([]Component, len(m.components))
	copy(components, m.components)
	m.componentsMu.RUnlock()

	for _, component := range components {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("组件处理提供方变更异常",
						"component", component.ComponentName(), "event", event.EventName(), "panic", r)
				}
			}()
			component.OnProviderChange(event)
		}()
	}
}

// CheckOllamaModelsAvailability 检查设置中的 Ollama 模型是否已安装
func (m *Manager) CheckOllamaModelsAvailability(ctx context.Context) map[string]interface{} {
	settings := m.settings.CurrentSettings()
	result := map[string]interface{}{
		"endpoint":  settings.OllamaEndpoint,
		"reachable": false,
	}

	client := NewOllamaClient(settings.OllamaEndpoint)
	installed, err := client.ListModels(ctx)
	if err != nil {
		result["error"] = err.Error()
		return result
	}
	result["reachable"] = true

	installedSet := make(map[string]bool, len(installed))
	for _, name := range installed {
		installedSet[name] = true
	}

	var missing []string
	for _, model := range []string{settings.OllamaChatModel, settings.OllamaEmbeddingModel} {
		if model != "" && !installedSet[model] {
			missing = append(missing, model)
		}
	}

	result["installed_models"] = installed
	result["missing_models"] = missing
	result["all_available"] = len(missing) == 0
	return result
}

// GetProviderStatus 汇总当前提供方状态
func (m *Manager) GetProviderStatus(ctx context.Context) map[string]interface{} {
	settings := m.settings.CurrentSettings()

	status := map[string]interface{}{
		"effective_chat_provider":      settings.EffectiveChatProvider(),
		"effective_embedding_provider": settings.EffectiveEmbeddingProvider(),
		"chat_model":                   settings.OpenAIChatModel,
		"embedding_model":              settings.OpenAIEmbeddingModel,
		"ollama_enabled":               settings.OllamaEnabled,
		"openai_configured":            settings.OpenAIAPIKey != "",
	}
	if settings.EffectiveChatProvider() == models.ProviderOllama {
		status["chat_model"] = settings.OllamaChatModel
	}
	if settings.EffectiveEmbeddingProvider() == models.ProviderOllama {
		status["embedding_model"] = settings.OllamaEmbeddingModel
	}

	if settings.OllamaEnabled {
		client := NewOllamaClient(settings.OllamaEndpoint)
		if err := client.HealthCheck(ctx); err != nil {
			status["ollama_healthy"] = false
			status["ollama_error"] = err.Error()
		} else {
			status["ollama_healthy"] = true
		}
	}
	return status
}

// TestProvider 对指定类型的当前生效提供方执行连通性实测，kind 为 chat 或 embedding
func (m *Manager) TestProvider(ctx context.Context, kind string) map[string]interface{} {
	settings := m.settings.CurrentSettings()
	result := map[string]interface{}{
		"kind":    kind,
		"healthy": false,
	}

	var (
		name  string
		model string
		err   error
	)
	switch kind {
	case "chat":
		var p ChatProvider
		if p, err = m.GetChatProvider(); err == nil {
			name, model = p.Name(), p.Model()
		}
	case "embedding":
		var p EmbeddingProvider
		if p, err = m.GetEmbeddingProvider(); err == nil {
			name, model = p.Name(), p.Model()
		}
	default:
		result["error"] = fmt.Sprintf("unknown provider kind %q", kind)
		return result
	}
	if err != nil {
		result["error"] = err.Error()
		return result
	}

	result["provider"] = name
	result["model"] = model

	switch name {
	case models.ProviderOllama:
		err = NewOllamaClient(settings.OllamaEndpoint).HealthCheck(ctx)
	case models.ProviderOpenAI:
		err = TestOpenAIConnection(ctx, settings.OpenAIAPIKey, settings.OpenAIBaseURL)
	}
	if err != nil {
		result["error"] = err.Error()
		return result
	}
	result["healthy"] = true
	return result
}

// Cleanup 释放全部缓存的提供方与客户端并清空组件注册表
func (m *Manager) Cleanup() {
	m.mu.Lock()
	m.chatProviders = make(map[string]ChatProvider)
	m.embeddingProviders = make(map[string]EmbeddingProvider)
	m.chatErrors = make(map[string]error)
	m.embeddingErrors = make(map[string]error)
	m.ollamaClients = make(map[string]*OllamaClient)
	m.mu.Unlock()

	m.componentsMu.Lock()
	m.components = nil
	m.componentsMu.Unlock()
}

// EnsureOllamaModels 确保设置中的 Ollama 模型已安装，缺失时拉取
func (m *Manager) EnsureOllamaModels(ctx context.Context) error {
	settings := m.settings.CurrentSettings()
	client := NewOllamaClient(settings.OllamaEndpoint)

	for _, model := range []string{settings.OllamaChatModel, settings.OllamaEmbeddingModel} {
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

		slog.Info("开始拉取Ollama模型", "model", model)
		err = client.PullModel(ctx, model, func(status string, completed, total int64) {
			if total > 0 {
				slog.Debug("模型拉取进度", "model", model, "status", status, "completed", completed, "total", total)
			}
		})
		if err != nil {
			return fmt.Errorf("拉取模型 %s 失败: %w", model, err)
		}
		slog.Info("Ollama模型拉取完成", "model", model)
	}
	return nil
}
