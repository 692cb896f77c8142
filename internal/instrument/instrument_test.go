package instrument

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nox/internal/config"
)

func echo(prefix string) InvokerFunc {
	return func(_ context.Context, q string) (string, error) { return prefix + q, nil }
}

func TestRegistryRegisterLookupResolve(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Descriptor{Label: "gpt-4o", Match: PrefixMatcher("gpt-4o"), Invoke: echo("a:")}))
	require.NoError(t, reg.Register(Descriptor{Label: "claude", Match: PrefixMatcher("claude"), Invoke: echo("b:")}))

	err := reg.Register(Descriptor{Label: "Claude", Invoke: echo("c:")})
	assert.ErrorIs(t, err, ErrDuplicateLabel)
	assert.Error(t, reg.Register(Descriptor{Label: " ", Invoke: echo("")}))
	assert.Error(t, reg.Register(Descriptor{Label: "x"}))

	assert.Equal(t, []string{"gpt-4o", "claude"}, reg.Labels())

	d, ok := reg.Lookup("CLAUDE")
	require.True(t, ok)
	assert.Equal(t, "claude", d.Label)

	d, err = reg.Resolve("gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", d.Label)

	_, err = reg.Resolve("grok")
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestRegistryInvoke(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Invoke(context.Background(), "", "q")
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	require.NoError(t, reg.Register(Descriptor{Label: "first", Invoke: echo("1:")}))
	require.NoError(t, reg.Register(Descriptor{Label: "second", Invoke: echo("2:")}))
	require.NoError(t, reg.Register(Descriptor{Label: "broken", Invoke: InvokerFunc(func(context.Context, string) (string, error) {
		return "", errors.New("boom")
	})}))

	got, err := reg.Invoke(context.Background(), "", "q")
	require.NoError(t, err)
	assert.Equal(t, "1:q", got)

	got, err = reg.Invoke(context.Background(), "Second", " q ")
	require.NoError(t, err)
	assert.Equal(t, "2: q", got)

	_, err = reg.Invoke(context.Background(), "broken", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instrument broken")
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Instrument.Roster = []string{"claude", "llama"}
	cfg.Instrument.Providers = map[string]config.InstrumentProvider{
		"Claude": {Kind: config.InstrumentKindAnthropic, Model: "claude-sonnet", APIKey: "k"},
		"gemini": {Kind: config.InstrumentKindGemini, APIKey: "k"},
	}
	reg, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "llama", "gemini"}, reg.Labels())

	d, ok := reg.Lookup("claude")
	require.True(t, ok)
	assert.Equal(t, config.InstrumentKindAnthropic, d.Kind)
	assert.IsType(t, &AnthropicInvoker{}, d.Invoke)

	d, ok = reg.Lookup("llama")
	require.True(t, ok)
	assert.IsType(t, &OpenAIInvoker{}, d.Invoke)
	assert.Equal(t, "llama", d.Invoke.(*OpenAIInvoker).model)

	d, ok = reg.Lookup("gemini")
	require.True(t, ok)
	assert.IsType(t, &GeminiInvoker{}, d.Invoke)

	cfg.Instrument.Providers = map[string]config.InstrumentProvider{"claude": {Kind: "pigeon"}}
	_, err = FromConfig(cfg, nil)
	assert.Error(t, err)
}

func TestOpenAIInvokerAgainstServer(t *testing.T) {
	var body struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"It is 42."},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	inv := NewOpenAIInvoker(srv.URL+"/v1", "k", "llama", 2000)
	got, err := inv.Invoke(context.Background(), "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, "It is 42.", got)
	assert.Equal(t, "llama", body.Model)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "what is the answer?", body.Messages[1].Content)
}

func TestAnthropicInvokerAgainstServer(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet",
"content":[{"type":"text","text":"Paris."}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	inv := NewAnthropicInvoker(srv.URL, "secret", "claude-sonnet", 2000)
	got, err := inv.Invoke(context.Background(), "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris.", got)
	assert.True(t, strings.HasSuffix(gotPath, "/messages"), gotPath)
	assert.Equal(t, "secret", gotKey)
}

func TestAnthropicInvokerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inv := NewAnthropicInvoker(srv.URL, "secret", "", 2000)
	_, err := inv.Invoke(context.Background(), "q")
	assert.Error(t, err)
}
