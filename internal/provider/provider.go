package provider

import (
	"context"

	"nox/internal/chat"
)

// ChatRequest 封装一次模型请求
// ChatRequest wraps a single model call
type ChatRequest struct {
	Model       string
	Messages    []chat.Message
	Temperature *float64
	MaxTokens   int
	Stream      bool
}

// StreamCallbacks 流式响应的回调集
// StreamCallbacks is the callback set for streaming responses
type StreamCallbacks struct {
	OnTextChunk      func(chunk string)
	OnReasoningChunk func(chunk string)
	OnUsage          func(usage Usage)
}

func (cb *StreamCallbacks) text(chunk string) {
	if cb != nil && cb.OnTextChunk != nil && chunk != "" {
		cb.OnTextChunk(chunk)
	}
}

func (cb *StreamCallbacks) reasoning(chunk string) {
	if cb != nil && cb.OnReasoningChunk != nil && chunk != "" {
		cb.OnReasoningChunk(chunk)
	}
}

func (cb *StreamCallbacks) usage(u Usage) {
	if cb != nil && cb.OnUsage != nil {
		cb.OnUsage(u)
	}
}

// Usage token 用量统计
// Usage reports token consumption
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse 完整响应
// ChatResponse is the complete response
type ChatResponse struct {
	Content      string
	Reasoning    string
	FinishReason string
	Usage        Usage
}

// ModelInfo 模型基本信息
// ModelInfo describes a model
type ModelInfo struct {
	ID      string
	OwnedBy string
}

// Provider 文本生成后端
// Provider is the text-generation backend the conversation engine talks to.
// Failures are reported as ErrBackendTimeout or ErrBackendUnavailable where
// they can be classified.
type Provider interface {
	// Chat 发送聊天请求并返回响应（支持流式回调）
	// Chat sends a request and returns a response (supports streaming callbacks)
	Chat(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error)

	// ListModels 列出可用模型
	// ListModels lists available models
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Name returns the provider name
	Name() string

	// CurrentModel returns the current active model
	CurrentModel() string

	// SetModel switches the active model
	SetModel(model string) error
}
