package provider

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content          json.RawMessage `json:"content"`
			Reasoning        string          `json:"reasoning,omitempty"`
			ReasoningContent string          `json:"reasoning_content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

type completionBody struct {
	Choices []struct {
		Message struct {
			Content          json.RawMessage `json:"content"`
			ReasoningContent string          `json:"reasoning_content,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// parseStream 读取 SSE 流："data: {json}" 事件，以空行分隔，"[DONE]" 结束
// parseStream reads an SSE body of "data:" events separated by blank lines,
// stopping at "[DONE]". A stream cut short after some text was received
// still yields that text.
func parseStream(body io.Reader, cb *StreamCallbacks) (ChatResponse, error) {
	var (
		content   strings.Builder
		reasoning strings.Builder
		out       ChatResponse
		dataLines []string
		done      bool
	)

	processEvent := func(payload string) error {
		payload = strings.TrimSpace(payload)
		if payload == "" {
			return nil
		}
		if payload == "[DONE]" {
			done = true
			return nil
		}
		var event streamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			// Servers occasionally interleave keep-alive or log lines.
			return nil
		}
		for _, choice := range event.Choices {
			if choice.FinishReason != nil && strings.TrimSpace(*choice.FinishReason) != "" {
				out.FinishReason = strings.TrimSpace(*choice.FinishReason)
			}
			text, err := parseContent(choice.Delta.Content, false)
			if err != nil {
				return err
			}
			if text != "" {
				content.WriteString(text)
				cb.text(text)
			}
			r := choice.Delta.ReasoningContent
			if r == "" {
				r = choice.Delta.Reasoning
			}
			if r != "" {
				reasoning.WriteString(r)
				cb.reasoning(r)
			}
		}
		if event.Usage != nil {
			out.Usage = Usage{
				PromptTokens:     event.Usage.PromptTokens,
				CompletionTokens: event.Usage.CompletionTokens,
				TotalTokens:      event.Usage.TotalTokens,
			}
		}
		return nil
	}

	reader := bufio.NewReader(body)
	for !done {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			if content.Len() > 0 || reasoning.Len() > 0 {
				break
			}
			return ChatResponse{}, fmt.Errorf("read stream: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if len(dataLines) > 0 {
				if perr := processEvent(strings.Join(dataLines, "\n")); perr != nil {
					return ChatResponse{}, perr
				}
				dataLines = dataLines[:0]
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if err == io.EOF {
			break
		}
	}
	if len(dataLines) > 0 && !done {
		if err := processEvent(strings.Join(dataLines, "\n")); err != nil {
			return ChatResponse{}, err
		}
	}

	out.Content = content.String()
	out.Reasoning = reasoning.String()
	cb.usage(out.Usage)
	return out, nil
}

func parseNonStream(body io.Reader, cb *StreamCallbacks) (ChatResponse, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("read chat response: %w", err)
	}
	var raw completionBody
	if err := json.Unmarshal(data, &raw); err != nil {
		return ChatResponse{}, fmt.Errorf("parse chat response: %w", err)
	}
	if len(raw.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("chat response has no choices")
	}
	msg := raw.Choices[0].Message
	content, err := parseContent(msg.Content, true)
	if err != nil {
		return ChatResponse{}, err
	}
	out := ChatResponse{
		Content:      content,
		Reasoning:    msg.ReasoningContent,
		FinishReason: raw.Choices[0].FinishReason,
	}
	if raw.Usage != nil {
		out.Usage = Usage{
			PromptTokens:     raw.Usage.PromptTokens,
			CompletionTokens: raw.Usage.CompletionTokens,
			TotalTokens:      raw.Usage.TotalTokens,
		}
	}
	cb.reasoning(out.Reasoning)
	cb.text(out.Content)
	cb.usage(out.Usage)
	return out, nil
}

// parseContent accepts content as a plain string or as typed parts; only
// text parts are kept. With compactFallback, unrecognized JSON is returned
// compacted instead of dropped.
func parseContent(raw json.RawMessage, compactFallback bool) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("parse response content: %w", err)
	}
	if text := extractText(generic); text != "" || !compactFallback {
		return text, nil
	}
	compact, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("compact response content: %w", err)
	}
	return string(compact), nil
}

func isTextPart(kind string) bool {
	kind = strings.ToLower(strings.TrimSpace(kind))
	return kind == "" || kind == "text" || kind == "output_text"
}

func extractText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		var b strings.Builder
		for _, item := range val {
			b.WriteString(extractText(item))
		}
		return b.String()
	case map[string]any:
		if kind, ok := val["type"].(string); ok && !isTextPart(kind) {
			return ""
		}
		for _, key := range []string{"text", "output_text"} {
			if text, ok := val[key].(string); ok && text != "" {
				return text
			}
		}
		for _, key := range []string{"content", "value"} {
			if nested, ok := val[key]; ok {
				if text := extractText(nested); text != "" {
					return text
				}
			}
		}
	}
	return ""
}
