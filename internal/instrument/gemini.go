package instrument

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiInvoker queries Gemini through google.golang.org/genai. The client
// is created on first use so a missing key only fails the queries routed
// to it.
type GeminiInvoker struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiInvoker(baseURL, apiKey, model string, timeoutMS int) *GeminiInvoker {
	if strings.TrimSpace(model) == "" {
		model = defaultGeminiModel
	}
	g := &GeminiInvoker{baseURL: strings.TrimSpace(baseURL), apiKey: strings.TrimSpace(apiKey), model: model}
	if timeoutMS > 0 {
		g.timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	return g
}

func (g *GeminiInvoker) getClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	cc := &genai.ClientConfig{
		APIKey:     g.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: g.timeout},
	}
	if g.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	g.client = client
	return client, nil
}

func (g *GeminiInvoker) Invoke(ctx context.Context, query string) (string, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(query, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		},
	)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("response has no text content")
	}
	return text, nil
}
