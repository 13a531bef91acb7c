package provider

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenith-service/service/models"
)

// stubSettings 固定返回给定设置快照
type stubSettings struct {
	mu       sync.Mutex
	settings *models.SystemSettings
}

func (s *stubSettings) CurrentSettings() *models.SystemSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

func (s *stubSettings) set(settings *models.SystemSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// stubComponent 记录收到的事件
type stubComponent struct {
	name   string
	mu     sync.Mutex
	events []ChangeEvent
	panics bool
}

func (c *stubComponent) ComponentName() string { return c.name }

func (c *stubComponent) OnProviderChange(event ChangeEvent) {
	if c.panics {
		panic("component failure")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *stubComponent) received() []ChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChangeEvent(nil), c.events...)
}

func TestGetChatProviderOpenAI(t *testing.T) {
	settings := models.DefaultSystemSettings()
	settings.OpenAIAPIKey = "sk-test"
	manager := NewManager(&stubSettings{settings: settings})

	chat, err := manager.GetChatProvider()
	require.NoError(t, err)
	assert.Equal(t, "openai", chat.Name())
	assert.Equal(t, "gpt-3.5-turbo", chat.Model())

	// 二次获取命中缓存，返回同一实例
	again, err := manager.GetChatProvider()
	require.NoError(t, err)
	assert.Same(t, chat, again)
}

func TestGetChatProviderOpenAIWithoutKey(t *testing.T) {
	manager := NewManager(&stubSettings{settings: models.DefaultSystemSettings()})

	_, err := manager.GetChatProvider()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestOllamaEnabledForcesOllamaProvider(t *testing.T) {
	server := newOllamaServer(t)
	settings := models.DefaultSystemSettings()
	settings.OllamaEnabled = true
	settings.OllamaEndpoint = server.URL
	settings.PreferredChatProvider = models.ProviderOpenAI
	manager := NewManager(&stubSettings{settings: settings})

	chat, err := manager.GetChatProvider()
	require.NoError(t, err)
	assert.Equal(t, "ollama", chat.Name())
	assert.Equal(t, "llama2", chat.Model())

	embed, err := manager.GetEmbeddingProvider()
	require.NoError(t, err)
	assert.Equal(t, "ollama", embed.Name())
	assert.Equal(t, "nomic-embed-text", embed.Model())
}

func TestHotSwapOnSettingsChange(t *testing.T) {
	server := newOllamaServer(t)
	settings := models.DefaultSystemSettings()
	settings.OllamaEnabled = true
	settings.OllamaEndpoint = server.URL
	source := &stubSettings{settings: settings}
	manager := NewManager(source)

	first, err := manager.GetChatProvider()
	require.NoError(t, err)

	// 修改模型并通知变更，缓存失效后重建
	updated := settings.Clone()
	updated.OllamaChatModel = "mistral"
	source.set(updated)
	manager.OnSettingsChange(OllamaSettingsChanged{
		Endpoint:  updated.OllamaEndpoint,
		ChatModel: "mistral",
		Enabled:   true,
	})

	second, err := manager.GetChatProvider()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "mistral", second.Model())
}

func TestBroadcastToComponents(t *testing.T) {
	manager := NewManager(&stubSettings{settings: models.DefaultSystemSettings()})

	good := &stubComponent{name: "retriever"}
	bad := &stubComponent{name: "broken", panics: true}
	tail := &stubComponent{name: "indexer"}
	manager.RegisterComponent(good)
	manager.RegisterComponent(bad)
	manager.RegisterComponent(tail)

	event := ChatProviderChanged{OldProvider: "openai", NewProvider: "ollama"}
	manager.OnSettingsChange(event)

	// 异常组件不影响其余组件收到事件
	require.Len(t, good.received(), 1)
	require.Len(t, tail.received(), 1)
	assert.Equal(t, event, good.received()[0])
}

func TestForceReinitializeClearsAllProviders(t *testing.T) {
	server := newOllamaServer(t)
	settings := models.DefaultSystemSettings()
	settings.OllamaEnabled = true
	settings.OllamaEndpoint = server.URL
	manager := NewManager(&stubSettings{settings: settings})

	first, err := manager.GetChatProvider()
	require.NoError(t, err)

	manager.OnSettingsChange(ForceReinitialize{SkipModelPull: true})

	second, err := manager.GetChatProvider()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestCheckOllamaModelsAvailabilityUnreachable(t *testing.T) {
	settings := models.DefaultSystemSettings()
	settings.OllamaEndpoint = "http://127.0.0.1:1"
	manager := NewManager(&stubSettings{settings: settings})

	result := manager.CheckOllamaModelsAvailability(context.Background())
	assert.Equal(t, false, result["reachable"])
	assert.NotEmpty(t, result["error"])
}

func TestGetProviderStatus(t *testing.T) {
	settings := models.DefaultSystemSettings()
	settings.OpenAIAPIKey = "sk-test"
	manager := NewManager(&stubSettings{settings: settings})

	status := manager.GetProviderStatus(context.Background())
	assert.Equal(t, "openai", status["effective_chat_provider"])
	assert.Equal(t, "gpt-3.5-turbo", status["chat_model"])
	assert.Equal(t, true, status["openai_configured"])
	assert.Equal(t, false, status["ollama_enabled"])
}

func TestTestProviderOllama(t *testing.T) {
	server := newOllamaServer(t)
	settings := models.DefaultSystemSettings()
	settings.OllamaEnabled = true
	settings.OllamaEndpoint = server.URL
	manager := NewManager(&stubSettings{settings: settings})

	result := manager.TestProvider(context.Background(), "chat")
	assert.Equal(t, true, result["healthy"])
	assert.Equal(t, "ollama", result["provider"])
	assert.Equal(t, "llama2", result["model"])
}

func TestTestProviderUnreachableAndUnknownKind(t *testing.T) {
	settings := models.DefaultSystemSettings()
	settings.OllamaEnabled = true
	settings.OllamaEndpoint = "http://127.0.0.1:1"
	manager := NewManager(&stubSettings{settings: settings})

	result := manager.TestProvider(context.Background(), "embedding")
	assert.Equal(t, false, result["healthy"])
	assert.Contains(t, result, "error")

	result = manager.TestProvider(context.Background(), "tts")
	assert.Equal(t, false, result["healthy"])
	assert.Contains(t, result["error"], "unknown provider kind")
}

func TestCleanupResetsCachesAndComponents(t *testing.T) {
	settings := models.DefaultSystemSettings()
	settings.OpenAIAPIKey = "sk-test"
	manager := NewManager(&stubSettings{settings: settings})

	component := &stubComponent{name: "chat_engine"}
	manager.RegisterComponent(component)

	first, err := manager.GetChatProvider()
	require.NoError(t, err)

	manager.Cleanup()

	again, err := manager.GetChatProvider()
	require.NoError(t, err)
	assert.NotSame(t, first, again)

	manager.OnSettingsChange(ForceReinitialize{})
	assert.Empty(t, component.received())
}

func TestComponentBaseDefaults(t *testing.T) {
	base := ComponentBase{}
	assert.Equal(t, "component", base.ComponentName())

	named := ComponentBase{Name: "vector_search"}
	assert.Equal(t, "vector_search", named.ComponentName())
	named.OnProviderChange(ForceReinitialize{})
}

func TestUnregisterComponent(t *testing.T) {
	manager := NewManager(&stubSettings{settings: models.DefaultSystemSettings()})
	keep := &stubComponent{name: "retriever"}
	gone := &stubComponent{name: "chat_engine"}
	manager.RegisterComponent(keep)
	manager.RegisterComponent(gone)

	manager.UnregisterComponent("chat_engine")
	manager.OnSettingsChange(ChatProviderChanged{OldProvider: "openai", NewProvider: "ollama"})

	require.Len(t, keep.received(), 1)
	assert.Empty(t, gone.received())
}

func TestUnavailableProviderCachedAsSentinel(t *testing.T) {
	source := &stubSettings{settings: models.DefaultSystemSettings()}
	manager := NewManager(source)

	_, err := manager.GetChatProvider()
	require.ErrorIs(t, err, ErrProviderUnavailable)

	// 设置已修复但没有变更事件，哨兵错误保持生效，不重复尝试构造
	fixed := models.DefaultSystemSettings()
	fixed.OpenAIAPIKey = "sk-test"
	source.set(fixed)

	_, err = manager.GetChatProvider()
	require.ErrorIs(t, err, ErrProviderUnavailable)

	// 变更事件清除哨兵后恢复
	manager.OnSettingsChange(OpenAISettingsChanged{ChatModel: fixed.OpenAIChatModel})
	chat, err := manager.GetChatProvider()
	require.NoError(t, err)
	assert.Equal(t, "openai", chat.Name())
}

func TestSettingsChangeEagerlyRebuildsProviders(t *testing.T) {
	server := newOllamaServer(t)
	settings := models.DefaultSystemSettings()
	settings.OllamaEnabled = true
	settings.OllamaEndpoint = server.URL
	source := &stubSettings{settings: settings}
	manager := NewManager(source)

	first, err := manager.GetChatProvider()
	require.NoError(t, err)

	manager.OnSettingsChange(OllamaSettingsChanged{Endpoint: server.URL, Enabled: true})

	// 事件处理时已完成重建，之后端点不可达也能命中预构造实例
	unreachable := settings.Clone()
	unreachable.OllamaEndpoint = "http://127.0.0.1:1"
	source.set(unreachable)

	second, err := manager.GetChatProvider()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}
