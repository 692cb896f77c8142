package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"nox/internal/chat"
	"nox/internal/config"
	"nox/internal/logging"
	"nox/internal/markup"
	"nox/internal/provider"
)

// Scorer 对候选回复打分，范围 [0, 1]，越低越需要 instrument
// Scorer rates a candidate reply in [0, 1]; lower means an instrument is
// more likely needed.
type Scorer interface {
	Score(ctx context.Context, prompt, reply string) (float64, error)
}

// ScorerFor picks the scorer named by instrument.scorer.
func ScorerFor(name string, backend provider.Provider, logger *zap.Logger) Scorer {
	if name == config.ScorerBackend && backend != nil {
		return &BackendScorer{Backend: backend, Logger: logger}
	}
	return HeuristicScorer{}
}

const hedgeScore = 0.3

var hedges = []string{
	"i'm not sure", "i am not sure", "i'm not certain", "i am not certain",
	"i don't know", "i do not know", "i can't be certain", "i cannot be certain",
	"i don't have access", "i do not have access", "beyond my knowledge",
	"my knowledge cutoff", "i'm unable to", "i am unable to",
	"不确定", "我不知道",
}

// HeuristicScorer 基于措辞的启发式评分
// HeuristicScorer returns 0 for empty replies and instrument requests,
// a low score for hedging replies and 1 otherwise.
type HeuristicScorer struct{}

func (HeuristicScorer) Score(_ context.Context, _ string, reply string) (float64, error) {
	r := strings.TrimSpace(reply)
	if r == "" || markup.WantsInstrument(r) {
		return 0, nil
	}
	lower := strings.ToLower(strings.ReplaceAll(r, "’", "'"))
	for _, h := range hedges {
		if strings.Contains(lower, h) {
			return hedgeScore, nil
		}
	}
	return 1, nil
}

const ratingPrompt = `Rate how completely and reliably the reply answers the request, from 0 (not at all) to 10 (fully).
Respond with the number only.`

var ratingPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// BackendScorer 让后端模型给回复打 0-10 分；失败时回退到启发式
// BackendScorer asks the backend for a 0-10 rating and falls back to the
// heuristic when the call fails or the answer has no number.
type BackendScorer struct {
	Backend  provider.Provider
	Fallback Scorer
	Logger   *zap.Logger
}

func (s *BackendScorer) fallback(ctx context.Context, prompt, reply string) (float64, error) {
	if s.Fallback != nil {
		return s.Fallback.Score(ctx, prompt, reply)
	}
	return HeuristicScorer{}.Score(ctx, prompt, reply)
}

func (s *BackendScorer) Score(ctx context.Context, prompt, reply string) (float64, error) {
	if strings.TrimSpace(reply) == "" || markup.WantsInstrument(reply) {
		return 0, nil
	}
	resp, err := s.Backend.Chat(ctx, provider.ChatRequest{
		Messages: []chat.Message{
			chat.System(ratingPrompt),
			chat.User(fmt.Sprintf("Request:\n%s\n\nReply:\n%s", prompt, reply)),
		},
		MaxTokens: 8,
	}, nil)
	if err != nil {
		logging.OrNop(s.Logger).Warn("backend scoring failed, using heuristic", zap.Error(err))
		return s.fallback(ctx, prompt, reply)
	}
	raw := ratingPattern.FindString(markup.StripReasoning(resp.Content))
	v, perr := strconv.ParseFloat(raw, 64)
	if raw == "" || perr != nil {
		logging.OrNop(s.Logger).Warn("backend rating unreadable, using heuristic", zap.String("rating", resp.Content))
		return s.fallback(ctx, prompt, reply)
	}
	v = min(max(v, 0), 10)
	return v / 10, nil
}
