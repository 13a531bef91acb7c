/*
 * @module service/provider/provider
 * @description AI 提供方抽象定义，包含对话与向量化接口、组件通知接口和封闭的变更事件集合
 * @architecture 分层架构 - 业务服务层
 * @documentReference dev_docs/provider_management.md
 * @stateFlow 设置变更 -> 构造类型化事件 -> 提供方管理器热切换 -> 组件广播
 * @rules 事件集合封闭，新增事件类型必须实现 ChangeEvent 接口
 * @dependencies context
 * @refs service/provider/provider_manager.go, service/settings/settings_manager.go
 */

package provider

import (
	"context"
	"errors"
)

// ErrProviderUnavailable 提供方构造失败时的哨兵错误
var ErrProviderUnavailable = errors.New("provider unavailable")

// ChatProvider 对话提供方
type ChatProvider interface {
	// Name 提供方标识，ollama 或 openai
	Name() string
	// Model 当前使用的模型名
	Model() string
	// Chat 执行一轮对话，返回回答文本
	Chat(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// EmbeddingProvider 向量化提供方
type EmbeddingProvider interface {
	Name() string
	Model() string
	// EmbedTexts 批量向量化文本
	EmbedTexts(ctx context.Context, texts []string) ([][]float64, error)
}

// ChangeEvent 设置变更事件，集合封闭
type ChangeEvent interface {
	// EventName 事件标识，用于日志与审计
	EventName() string
}

// ChatProviderChanged 生效对话提供方发生变化
type ChatProviderChanged struct {
	OldProvider string
	NewProvider string
}

func (e ChatProviderChanged) EventName() string { return "chat_provider_changed" }

// EmbeddingProviderChanged 生效向量化提供方发生变化
type EmbeddingProviderChanged struct {
	OldProvider string
	NewProvider string
}

func (e EmbeddingProviderChanged) EventName() string { return "embedding_provider_changed" }

// OllamaSettingsChanged Ollama 连接或模型设置发生变化
type OllamaSettingsChanged struct {
	Endpoint       string
	ChatModel      string
	EmbeddingModel string
	Enabled        bool
}

func (e OllamaSettingsChanged) EventName() string { return "ollama_settings_changed" }

// OpenAISettingsChanged OpenAI 凭据或模型设置发生变化
type OpenAISettingsChanged struct {
	ChatModel      string
	EmbeddingModel string
}

func (e OpenAISettingsChanged) EventName() string { return "openai_settings_changed" }

// ForceReinitialize 管理员请求强制重建全部提供方
type ForceReinitialize struct {
	SkipModelPull bool
}

func (e ForceReinitialize) EventName() string { return "force_reinitialize" }

// Component 接收提供方变更通知的下游组件
type Component interface {
	// ComponentName 组件标识，用于日志
	ComponentName() string
	// OnProviderChange 提供方切换后同步回调，实现方不应阻塞
	OnProviderChange(event ChangeEvent)
}

// ComponentBase 组件默认实现，嵌入后只需覆盖关心的方法
type ComponentBase struct {
	Name string
}

// ComponentName 组件标识
func (b ComponentBase) ComponentName() string {
	if b.Name == "" {
		return "component"
	}
	return b.Name
}

// OnProviderChange 默认忽略全部事件
func (ComponentBase) OnProviderChange(ChangeEvent) {}
