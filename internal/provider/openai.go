package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"nox/internal/chat"
)

// OpenAIProvider 面向 OpenAI 兼容服务（llama.cpp / Ollama / vLLM / OpenAI）的 Provider
// OpenAIProvider implements Provider against OpenAI-compatible servers
// through the go-openai SDK. When an SDK stream cannot be decoded before any
// output arrived, the call is repeated through a lenient SSE reader that
// understands the reasoning fields and content arrays local servers emit.
type OpenAIProvider struct {
	client     *openai.Client
	httpClient *http.Client
	cfg        OpenAIConfig

	mu    sync.RWMutex
	model string
}

// OpenAIConfig SDK provider 配置
// OpenAIConfig is the SDK provider configuration
type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	TimeoutMS int
}

// NewOpenAIProvider 创建基于 SDK 的 provider
// NewOpenAIProvider creates an SDK-based provider
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL

	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	config.HTTPClient = httpClient

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(config),
		httpClient: httpClient,
		cfg:        cfg,
		model:      cfg.Model,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) CurrentModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

func (p *OpenAIProvider) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("model is empty")
	}
	p.mu.Lock()
	p.model = model
	p.mu.Unlock()
	return nil
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", Classify(err))
	}
	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, ModelInfo{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	return models, nil
}

// Chat 单次调用，不做重试；重试策略由调用方决定
// Chat performs one attempt. Retrying is left to the caller, which can tell
// retryable failures apart with Retryable.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.CurrentModel()
	}
	var (
		resp ChatResponse
		err  error
	)
	if req.Stream {
		resp, err = p.chatStream(ctx, req, cb)
	} else {
		resp, err = p.chatOnce(ctx, req, cb)
	}
	if err != nil {
		return ChatResponse{}, Classify(err)
	}
	return resp, nil
}

func (p *OpenAIProvider) chatOnce(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, buildSDKRequest(req, false))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("chat response has no choices")
	}
	choice := resp.Choices[0]
	out := ChatResponse{
		Content:      choice.Message.Content,
		Reasoning:    choice.Message.ReasoningContent,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	cb.reasoning(out.Reasoning)
	cb.text(out.Content)
	cb.usage(out.Usage)
	return out, nil
}

func buildSDKRequest(req ChatRequest, stream bool) openai.ChatCompletionRequest {
	sdkReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessages(req.Messages),
		Stream:   stream,
	}
	if req.Temperature != nil {
		sdkReq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		sdkReq.MaxTokens = req.MaxTokens
	}
	return sdkReq
}

// chatStream 优先走 SDK 流；SDK 无法解码且尚未输出时回退到兼容解析
// chatStream streams through the SDK and falls back to the compat reader
// only when nothing was delivered yet and the failure was not a transport,
// status or cancellation error.
func (p *OpenAIProvider) chatStream(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error) {
	resp, received, err := p.chatStreamSDK(ctx, req, cb)
	if err == nil && received > 0 {
		return resp, nil
	}
	if received > 0 || (err != nil && !decodeFailure(err)) {
		return ChatResponse{}, err
	}
	return p.chatStreamCompat(ctx, req, cb)
}

func (p *OpenAIProvider) chatStreamSDK(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, int, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, buildSDKRequest(req, true))
	if err != nil {
		return ChatResponse{}, 0, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	var (
		content   strings.Builder
		reasoning strings.Builder
		out       ChatResponse
		received  int
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// 已有部分内容时返回已有内容 / keep a partial answer
			if content.Len() > 0 {
				break
			}
			return ChatResponse{}, received, fmt.Errorf("recv stream: %w", err)
		}
		received++
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				out.FinishReason = string(choice.FinishReason)
			}
			if d := choice.Delta.ReasoningContent; d != "" {
				reasoning.WriteString(d)
				cb.reasoning(d)
			}
			if d := choice.Delta.Content; d != "" {
				content.WriteString(d)
				cb.text(d)
			}
		}
		if chunk.Usage != nil {
			out.Usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
	}
	out.Content = content.String()
	out.Reasoning = reasoning.String()
	cb.usage(out.Usage)
	return out, received, nil
}

// decodeFailure reports errors the compat reader may get past: anything that
// is not a cancellation, an HTTP status or a transport failure.
func decodeFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if statusOf(err) != 0 {
		return false
	}
	var netErr net.Error
	return !errors.As(err, &netErr)
}

type compatChatRequest struct {
	Model       string         `json:"model"`
	Messages    []chat.Message `json:"messages"`
	Stream      bool           `json:"stream"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
}

func (p *OpenAIProvider) chatStreamCompat(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error) {
	if p.cfg.BaseURL == "" {
		return ChatResponse{}, fmt.Errorf("base_url is empty")
	}
	body, err := json.Marshal(compatChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(p.cfg.APIKey); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return ChatResponse{}, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "text/event-stream") {
		// Some servers ignore stream=true and answer in one piece.
		return parseNonStream(resp.Body, cb)
	}
	return parseStream(resp.Body, cb)
}

func convertMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}
	return out
}
