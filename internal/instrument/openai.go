package instrument

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIInvoker queries an OpenAI-compatible chat endpoint.
type OpenAIInvoker struct {
	client *openai.Client
	model  string
}

func NewOpenAIInvoker(baseURL, apiKey, model string, timeoutMS int) *OpenAIInvoker {
	cfg := openai.DefaultConfig(apiKey)
	if u := strings.TrimRight(strings.TrimSpace(baseURL), "/"); u != "" {
		cfg.BaseURL = u
	}
	httpClient := &http.Client{}
	if timeoutMS > 0 {
		httpClient.Timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	cfg.HTTPClient = httpClient
	return &OpenAIInvoker{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAIInvoker) Invoke(ctx context.Context, query string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
