package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nox/internal/markup"
	"nox/internal/sanitize"
	"nox/internal/vault"
)

type memLog struct {
	turns []vault.Turn
	fail  error
}

func (m *memLog) Append(t vault.Turn) error {
	if m.fail != nil {
		return m.fail
	}
	m.turns = append(m.turns, t)
	return nil
}

func newProtocol(log *memLog, mutate func(*Options)) *Protocol {
	opts := Options{
		Roster:    []string{"claude", "gpt-4o"},
		Sanitizer: sanitize.New([]string{"Alice"}),
		Log:       log,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func TestDetect(t *testing.T) {
	assert.True(t, Detect(0.3, 0.5, "fine"))
	assert.True(t, Detect(0.5, 0.5, "fine"), "score equal to threshold triggers")
	assert.False(t, Detect(0.9, 0.5, "fine"))
	assert.True(t, Detect(0.9, 0.5, "this requires an instrument"))
	assert.True(t, Detect(0.9, 0.5, markup.FormatQuery("", "q")))
}

func TestRaiseManualFlow(t *testing.T) {
	log := &memLog{}
	p := newProtocol(log, nil)

	req, err := p.Raise(context.Background(), Need{Query: "Ask Alice at alice@example.com", Label: "claude"})
	require.NoError(t, err)
	assert.Equal(t, WaitingManual, p.State())
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, "claude", req.Label)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "Ask [REDACTED:NAME] at [REDACTED:EMAIL]", req.Query)

	require.Len(t, log.turns, 1)
	assert.Equal(t, vault.RoleInstrumentQuery, log.turns[0].Role)
	assert.True(t, log.turns[0].Sanitized)
	seg, ok := markup.Find(markup.Lex(log.turns[0].Content), markup.QueryMarker)
	require.True(t, ok)
	assert.Equal(t, "claude", seg.Label)

	res, err := p.Submit("Paris, obviously")
	require.NoError(t, err)
	assert.Equal(t, "Paris, obviously", res.Text)
	assert.Equal(t, ResultConsumed, p.State())
	require.Len(t, log.turns, 2)
	assert.Equal(t, vault.RoleInstrumentResult, log.turns[1].Role)
	assert.False(t, log.turns[1].Sanitized)

	last, ok := p.Last()
	require.True(t, ok)
	assert.Equal(t, StatusManuallyHandled, last.Status)
	assert.True(t, last.Consumed)

	_, err = p.Submit("again")
	assert.ErrorIs(t, err, ErrNoPendingRequest)
	assert.Len(t, log.turns, 2)

	p.Settle()
	assert.Equal(t, Idle, p.State())
}

func TestSecondRaiseRejectedWithoutMutation(t *testing.T) {
	log := &memLog{}
	p := newProtocol(log, nil)
	first, err := p.Raise(context.Background(), Need{Query: "one", Label: "claude"})
	require.NoError(t, err)

	_, err = p.Raise(context.Background(), Need{Query: "two", Label: "gpt-4o"})
	assert.ErrorIs(t, err, ErrRequestPending)
	assert.Equal(t, WaitingManual, p.State())
	pending, ok := p.Pending()
	require.True(t, ok)
	assert.Equal(t, first.ID, pending.ID)
	assert.Len(t, log.turns, 1)
}

func TestAutomationRequiresResultMarker(t *testing.T) {
	log := &memLog{}
	p := newProtocol(log, func(o *Options) { o.Automation = true })

	_, err := p.Raise(context.Background(), Need{Query: "capital of France", Label: "claude"})
	require.NoError(t, err)
	assert.Equal(t, WaitingAutomation, p.State())

	_, err = p.Submit("Paris")
	assert.ErrorIs(t, err, ErrProtocolMismatch)
	assert.Equal(t, WaitingAutomation, p.State())
	assert.Len(t, log.turns, 1)

	_, err = p.Submit(markup.FormatResult("gpt-4o", "Paris"))
	assert.ErrorIs(t, err, ErrProtocolMismatch, "label must match the request")

	res, err := p.Submit(markup.FormatResult("Claude", "Paris"))
	require.NoError(t, err)
	assert.Equal(t, "Paris", res.Text)
	assert.True(t, res.Automated)
	last, _ := p.Last()
	assert.Equal(t, StatusAutomated, last.Status)
}

func TestAutomationAcceptsAnswerMentioningMarkers(t *testing.T) {
	log := &memLog{}
	p := newProtocol(log, func(o *Options) { o.Automation = true })

	_, err := p.Raise(context.Background(), Need{Query: "how do I title a chat?", Label: "claude"})
	require.NoError(t, err)

	answer := "Wrap the name in [SET TITLE] tags, then [/SET TITLE]."
	res, err := p.Submit(markup.FormatResult("claude", answer))
	require.NoError(t, err)
	assert.Equal(t, answer, res.Text)
	assert.Equal(t, ResultConsumed, p.State())

	require.Len(t, log.turns, 2)
	seg, ok := markup.ParseResult(log.turns[1].Content)
	require.True(t, ok)
	assert.Equal(t, answer, seg.Body)
}

func TestSubmitWithNothingPending(t *testing.T) {
	log := &memLog{}
	p := newProtocol(log, nil)
	_, err := p.Submit("orphan")
	assert.ErrorIs(t, err, ErrNoPendingRequest)
	assert.Empty(t, log.turns)
}

func TestAnonymizedResult(t *testing.T) {
	log := &memLog{}
	p := newProtocol(log, func(o *Options) { o.Anonymize = true })
	_, err := p.Raise(context.Background(), Need{Query: "who?", Label: "claude"})
	require.NoError(t, err)
	res, err := p.Submit("It was Alice")
	require.NoError(t, err)
	assert.Equal(t, "It was [REDACTED:NAME]", res.Text)
	assert.True(t, log.turns[1].Sanitized)
}

func TestLabelResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("default label", func(t *testing.T) {
		p := newProtocol(&memLog{}, func(o *Options) { o.DefaultLabel = "gpt-4o" })
		req, err := p.Raise(ctx, Need{Query: "q"})
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", req.Label)
	})

	t.Run("explicit beats default", func(t *testing.T) {
		p := newProtocol(&memLog{}, func(o *Options) { o.DefaultLabel = "gpt-4o" })
		req, err := p.Raise(ctx, Need{Query: "q", Label: "claude"})
		require.NoError(t, err)
		assert.Equal(t, "claude", req.Label)
	})

	t.Run("interactive selector", func(t *testing.T) {
		var offered []string
		p := newProtocol(&memLog{}, func(o *Options) {
			o.Interactive = true
			o.Selector = func(_ context.Context, roster []string) (string, error) {
				offered = roster
				return "gpt-4o", nil
			}
		})
		req, err := p.Raise(ctx, Need{Query: "q"})
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", req.Label)
		assert.Equal(t, []string{"claude", "gpt-4o"}, offered)
	})

	t.Run("selector failure returns to idle", func(t *testing.T) {
		log := &memLog{}
		p := newProtocol(log, func(o *Options) {
			o.Interactive = true
			o.Selector = func(context.Context, []string) (string, error) { return "", context.Canceled }
		})
		_, err := p.Raise(ctx, Need{Query: "q"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, Idle, p.State())
		assert.Empty(t, log.turns)
	})

	t.Run("non-interactive with roster sends unlabelled", func(t *testing.T) {
		p := newProtocol(&memLog{}, nil)
		req, err := p.Raise(ctx, Need{Query: "q"})
		require.NoError(t, err)
		assert.Equal(t, "", req.Label)
	})

	t.Run("no roster fails", func(t *testing.T) {
		log := &memLog{}
		p := newProtocol(log, func(o *Options) { o.Roster = nil })
		_, err := p.Raise(ctx, Need{Query: "q"})
		assert.ErrorIs(t, err, ErrNoInstrument)
		assert.Equal(t, Idle, p.State())
		assert.Empty(t, log.turns)
	})
}

func TestRaiseAppendFailureReturnsToIdle(t *testing.T) {
	log := &memLog{fail: errors.New("disk full")}
	p := newProtocol(log, nil)
	_, err := p.Raise(context.Background(), Need{Query: "q", Label: "claude"})
	require.Error(t, err)
	assert.Equal(t, Idle, p.State())
	_, ok := p.Pending()
	assert.False(t, ok)
}

func TestResetCancelsPending(t *testing.T) {
	log := &memLog{}
	p := newProtocol(log, nil)
	req, err := p.Raise(context.Background(), Need{Query: "q", Label: "claude"})
	require.NoError(t, err)

	cancelled, ok := p.Reset()
	require.True(t, ok)
	assert.Equal(t, req.ID, cancelled.ID)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, Idle, p.State())
	assert.Len(t, log.turns, 1, "query turn stays in the log and no result is written")

	_, err = p.Submit("late answer")
	assert.ErrorIs(t, err, ErrNoPendingRequest)
}

func TestRestoreTreatsTrailingQueryAsAbandoned(t *testing.T) {
	log := &memLog{}
	p := newProtocol(log, nil)
	_, err := p.Raise(context.Background(), Need{Query: "population of Lyon", Label: "claude"})
	require.NoError(t, err)

	// Simulated restart: a fresh protocol over the same turns.
	reloaded := newProtocol(&memLog{}, nil)
	reloaded.Restore(append([]vault.Turn{{Role: vault.RoleUser, Content: "hi"}}, log.turns...))
	assert.Equal(t, Idle, reloaded.State())
	_, pending := reloaded.Pending()
	assert.False(t, pending)
	abandoned, ok := reloaded.LastAbandoned()
	require.True(t, ok)
	assert.Equal(t, StatusAbandoned, abandoned.Status)
	assert.Equal(t, "claude", abandoned.Label)
	assert.Equal(t, "population of Lyon", abandoned.Query)

	_, err = reloaded.Raise(context.Background(), Need{Query: "new question", Label: "claude"})
	assert.NoError(t, err, "an abandoned request must not block a new one")
}

func TestRestoreWithAnsweredQuery(t *testing.T) {
	p := newProtocol(&memLog{}, nil)
	p.Restore([]vault.Turn{
		{Role: vault.RoleInstrumentQuery, Content: markup.FormatQuery("claude", "q")},
		{Role: vault.RoleInstrumentResult, Content: markup.FormatResult("claude", "a")},
		{Role: vault.RoleAssistant, Content: "done"},
	})
	_, ok := p.LastAbandoned()
	assert.False(t, ok)
}

func TestRosterIsCleaned(t *testing.T) {
	p := New(Options{Roster: []string{" claude ", "", "Claude", "gemini"}})
	assert.Equal(t, []string{"claude", "gemini"}, p.Roster())
}
