package instrument

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = anthropic.ModelClaude3_7SonnetLatest

// AnthropicInvoker queries the Anthropic Messages API. An empty API key
// leaves the SDK to read ANTHROPIC_API_KEY.
type AnthropicInvoker struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewAnthropicInvoker(baseURL, apiKey, model string, timeoutMS int) *AnthropicInvoker {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if strings.TrimSpace(apiKey) != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeoutMS > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(timeoutMS)*time.Millisecond))
	}
	m := anthropic.Model(strings.TrimSpace(model))
	if m == "" {
		m = defaultAnthropicModel
	}
	return &AnthropicInvoker{client: anthropic.NewClient(opts...), model: m, maxTokens: 1024}
}

func (a *AnthropicInvoker) Invoke(ctx context.Context, query string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(query)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			b.WriteString(v.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("message has no text content")
	}
	return b.String(), nil
}
