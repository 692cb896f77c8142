package automation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nox/internal/markup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestMailbox(t *testing.T) *Mailbox {
	t.Helper()
	mb, err := Open(filepath.Join(t.TempDir(), "automation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mb.Close() })
	return mb
}

func TestMailboxLifecycle(t *testing.T) {
	ctx := context.Background()
	mb := newTestMailbox(t)

	require.NoError(t, mb.Post(ctx, Entry{ID: "r1", SessionID: "s1", Label: "claude", Query: "first"}))
	require.NoError(t, mb.Post(ctx, Entry{ID: "r2", SessionID: "s1", Query: "second"}))
	assert.Error(t, mb.Post(ctx, Entry{ID: "r1", Query: "dup"}))
	assert.ErrorIs(t, mb.Post(ctx, Entry{ID: "r3", Query: "  "}), ErrEmptyQuery)

	n, err := mb.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e, ok, err := mb.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", e.ID)
	assert.Equal(t, StatusClaimed, e.Status)
	assert.Equal(t, "claude", e.Label)

	require.NoError(t, mb.Resolve(ctx, "r1", "answer"))
	assert.ErrorIs(t, mb.Resolve(ctx, "r1", "again"), ErrNotOpen)
	assert.ErrorIs(t, mb.Resolve(ctx, "nope", "x"), ErrNotFound)

	got, err := mb.Await(ctx, "r1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "answer", got.Result)

	e, ok, err = mb.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r2", e.ID)
	require.NoError(t, mb.Fail(ctx, "r2", "backend down"))
	_, err = mb.Await(ctx, "r2", time.Millisecond)
	assert.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, err.Error(), "backend down")

	_, ok, err = mb.Claim(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMailboxAbandon(t *testing.T) {
	ctx := context.Background()
	mb := newTestMailbox(t)
	require.NoError(t, mb.Post(ctx, Entry{ID: "a", SessionID: "s", Query: "q"}))
	require.NoError(t, mb.Post(ctx, Entry{ID: "b", SessionID: "s", Query: "q"}))
	require.NoError(t, mb.Post(ctx, Entry{ID: "c", SessionID: "other", Query: "q"}))

	require.NoError(t, mb.Abandon(ctx, "a"))
	require.NoError(t, mb.Abandon(ctx, "a"), "abandoning twice is fine")
	_, err := mb.Await(ctx, "a", time.Millisecond)
	assert.ErrorIs(t, err, ErrAbandoned)

	n, err := mb.AbandonSession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e, ok, err := mb.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", e.ID)
}

func TestAwaitHonoursCancellation(t *testing.T) {
	mb := newTestMailbox(t)
	require.NoError(t, mb.Post(context.Background(), Entry{ID: "r", Query: "q"}))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := mb.Await(ctx, "r", 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fakeAnswerer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeAnswerer) Invoke(_ context.Context, label, query string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, label+":"+query)
	f.mu.Unlock()
	if strings.Contains(query, "fail") {
		return "", errors.New("instrument exploded")
	}
	return "answer to " + query, nil
}

func TestRouterDrain(t *testing.T) {
	ctx := context.Background()
	mb := newTestMailbox(t)
	require.NoError(t, mb.Post(ctx, Entry{ID: "ok", Label: "claude", Query: "why"}))
	require.NoError(t, mb.Post(ctx, Entry{ID: "bad", Query: "please fail"}))

	ans := &fakeAnswerer{}
	n, err := NewRouter(mb, ans, RouterOptions{Concurrency: 1}).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e, err := mb.Get(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, e.Status)
	seg, ok := markup.ParseResult(e.Result)
	require.True(t, ok, "result must be a well-formed result block: %q", e.Result)
	assert.Equal(t, "claude", seg.Label)

	e, err = mb.Get(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, e.Status)
	assert.Contains(t, e.Error, "exploded")
}

func TestRouterRunStopsCleanly(t *testing.T) {
	mb := newTestMailbox(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	r := NewRouter(mb, &fakeAnswerer{}, RouterOptions{Poll: 5 * time.Millisecond})
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, mb.Post(context.Background(), Entry{ID: "live", Query: "ping"}))
	e, err := mb.Await(context.Background(), "live", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Contains(t, e.Result, "answer to ping")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop")
	}
}
