/*
 * @module service/provider/openai
 * @description OpenAI 对话与向量化提供方，基于官方 SDK 实现
 * @architecture 分层架构 - 基础设施层
 * @documentReference dev_docs/provider_management.md
 * @stateFlow 凭据校验 -> 客户端构造 -> 对话/向量化调用
 * @rules API Key 为空时构造失败，返回 ErrProviderUnavailable
 * @dependencies github.com/openai/openai-go
 * @refs service/provider/provider_manager.go
 */

package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func newOpenAIClient(apiKey, baseURL string) (openai.Client, error) {
	if apiKey == "" {
		return openai.Client{}, fmt.Errorf("OpenAI API key is not configured: %w", ErrProviderUnavailable)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...), nil
}

// TestOpenAIConnection 验证凭据有效性，通过列出可用模型实现
func TestOpenAIConnection(ctx context.Context, apiKey, baseURL string) error {
	client, err := newOpenAIClient(apiKey, baseURL)
	if err != nil {
		return err
	}

	if _, err := client.Models.List(ctx); err != nil {
		return fmt.Errorf("OpenAI connection test failed: %w", err)
	}
	return nil
}

// OpenAIChatProvider 基于 OpenAI 的对话提供方
type OpenAIChatProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIChatProvider 创建 OpenAI 对话提供方
func NewOpenAIChatProvider(apiKey, baseURL, model string) (*OpenAIChatProvider, error) {
	client, err := newOpenAIClient(apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	return &OpenAIChatProvider{client: client, model: model}, nil
}

func (p *OpenAIChatProvider) Name() string  { return "openai" }
func (p *OpenAIChatProvider) Model() string { return p.model }

func (p *OpenAIChatProvider) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userMessage))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(p.model),
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIEmbeddingProvider 基于 OpenAI 的向量化提供方
type OpenAIEmbeddingProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbeddingProvider 创建 OpenAI 向量化提供方
func NewOpenAIEmbeddingProvider(apiKey, baseURL, model string) (*OpenAIEmbeddingProvider, error) {
	client, err := newOpenAIClient(apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	return &OpenAIEmbeddingProvider{client: client, model: model}, nil
}

func (p *OpenAIEmbeddingProvider) Name() string  { return "openai" }
func (p *OpenAIEmbeddingProvider) Model() string { return p.model }

func (p *OpenAIEmbeddingProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embedding failed: %w", err)
	}

	vectors := make([][]float64, 0, len(resp.Data))
	for _, item := range resp.Data {
		vectors = append(vectors, item.Embedding)
	}
	return vectors, nil
}
