package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nox/internal/chat"
)

func TestParseContent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "plain string chinese", raw: `"你好，我可以帮你做什么？"`, want: "你好，我可以帮你做什么？"},
		{name: "typed text array", raw: `[{"type":"text","text":"我肚子有点疼。"}]`, want: "我肚子有点疼。"},
		{name: "mixed reasoning and text", raw: `[{"type":"reasoning","text":"内部推理"},{"type":"text","text":"建议先休息并补水。"}]`, want: "建议先休息并补水。"},
		{name: "nested content object", raw: `{"content":[{"type":"text","text":"请描述更多症状。"}]}`, want: "请描述更多症状。"},
		{name: "fallback to compact json", raw: `{"foo": "bar"}`, want: `{"foo":"bar"}`},
		{name: "null", raw: `null`, want: ""},
		{name: "invalid json", raw: `not-json`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseContent(json.RawMessage(tc.raw), true)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected content: got=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestParseStream(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"choices":[{"delta":{"reasoning_content":"thinking"}}]}`,
		``,
		`: keep-alive`,
		`data: {"choices":[{"delta":{"content":"你"}}]}`,
		``,
		`data: not json at all`,
		``,
		`data: {"choices":[{"delta":{"content":[{"type":"text","text":"好"}]}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		``,
		`data: [DONE]`,
		``,
		`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
		``,
	}, "\n")

	var chunks, thoughts []string
	var usage Usage
	resp, err := parseStream(strings.NewReader(payload), &StreamCallbacks{
		OnTextChunk:      func(c string) { chunks = append(chunks, c) },
		OnReasoningChunk: func(c string) { thoughts = append(thoughts, c) },
		OnUsage:          func(u Usage) { usage = u },
	})
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if resp.Content != "你好" || resp.Reasoning != "thinking" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(chunks) != 2 || len(thoughts) != 1 {
		t.Fatalf("chunks=%q thoughts=%q", chunks, thoughts)
	}
	if resp.FinishReason != "stop" || usage.TotalTokens != 5 {
		t.Fatalf("finish=%q usage=%+v", resp.FinishReason, usage)
	}
}

func TestParseNonStreamEmitsChunk(t *testing.T) {
	raw := `{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`
	var got string
	resp, err := parseNonStream(strings.NewReader(raw), &StreamCallbacks{OnTextChunk: func(c string) { got += c }})
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if resp.Content != "hello" || got != "hello" {
		t.Fatalf("content=%q callback=%q", resp.Content, got)
	}
}

func TestOpenAIProviderStreamsFromServer(t *testing.T) {
	var gotBody compatChatRequest
	var gotAuth string
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"there\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "k", Model: "local", TimeoutMS: 2000})
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []chat.Message{chat.System("be brief"), chat.User("hello")},
		Stream:   true,
	}, nil)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.Content != "Hi there" {
		t.Fatalf("content=%q", resp.Content)
	}
	if gotBody.Model != "local" || len(gotBody.Messages) != 2 || !gotBody.Stream {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
	if gotAuth != "Bearer k" {
		t.Fatalf("authorization=%q", gotAuth)
	}
	if hits.Load() != 1 {
		t.Fatalf("a well-formed stream must not be fetched twice, got %d requests", hits.Load())
	}
}

func TestOpenAIProviderStreamFallsBackForNonSSEReply(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":[{"type":"text","text":"hello"}]},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	var streamed string
	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m", TimeoutMS: 2000})
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []chat.Message{chat.User("hi")},
		Stream:   true,
	}, &StreamCallbacks{OnTextChunk: func(c string) { streamed += c }})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.Content != "hello" || streamed != "hello" {
		t.Fatalf("content=%q streamed=%q", resp.Content, streamed)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected SDK attempt then compat attempt, got %d requests", hits.Load())
	}
}

func TestOpenAIProviderClassifiesFailures(t *testing.T) {
	t.Run("server error is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
		_, err := p.Chat(context.Background(), ChatRequest{Stream: true}, nil)
		if !errors.Is(err, ErrBackendUnavailable) || !Retryable(err) {
			t.Fatalf("expected ErrBackendUnavailable, got %v", err)
		}
		var be *BackendError
		if !errors.As(err, &be) || be.Status != http.StatusServiceUnavailable {
			t.Fatalf("expected status on BackendError, got %v", err)
		}
	})

	t.Run("bad request is not retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad model", http.StatusBadRequest)
		}))
		defer srv.Close()
		p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
		_, err := p.Chat(context.Background(), ChatRequest{Stream: true}, nil)
		if err == nil || Retryable(err) || errors.Is(err, ErrBackendTimeout) {
			t.Fatalf("expected plain error, got %v", err)
		}
	})

	t.Run("slow server times out", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)
		p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m", TimeoutMS: 50})
		_, err := p.Chat(context.Background(), ChatRequest{Stream: true}, nil)
		if !errors.Is(err, ErrBackendTimeout) {
			t.Fatalf("expected ErrBackendTimeout, got %v", err)
		}
	})

	t.Run("refused connection is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		p := NewOpenAIProvider(OpenAIConfig{BaseURL: url, Model: "m", TimeoutMS: 1000})
		_, err := p.Chat(context.Background(), ChatRequest{Stream: true}, nil)
		if !errors.Is(err, ErrBackendUnavailable) {
			t.Fatalf("expected ErrBackendUnavailable, got %v", err)
		}
	})
}

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("nil stays nil")
	}
	if err := Classify(context.Canceled); !errors.Is(err, context.Canceled) || errors.Is(err, ErrBackendTimeout) {
		t.Fatalf("cancellation must pass through, got %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	if err := Classify(ctx.Err()); !errors.Is(err, ErrBackendTimeout) {
		t.Fatalf("deadline should be a timeout, got %v", err)
	}
	once := Classify(&statusError{Code: 502})
	if twice := Classify(once); twice != once {
		t.Fatalf("classified errors must pass through unchanged")
	}
}

func TestOpenAIProviderSetModel(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{BaseURL: "http://127.0.0.1:8080/v1", Model: "m1"})
	if p.CurrentModel() != "m1" || p.Name() != "openai" {
		t.Fatalf("unexpected provider: %s %s", p.Name(), p.CurrentModel())
	}
	if err := p.SetModel("m2"); err != nil || p.CurrentModel() != "m2" {
		t.Fatalf("SetModel: %v model=%s", err, p.CurrentModel())
	}
	if err := p.SetModel(" "); err == nil {
		t.Fatal("SetModel empty should error")
	}
}
