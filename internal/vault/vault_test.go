package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestVault(t *testing.T) (*Vault, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 10, 16, 12, 34, 56, 0, time.UTC)}
	v, err := Open(t.TempDir(), Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	return v, clock
}

func mustAppend(t *testing.T, l *Live, role Role, content string) {
	t.Helper()
	if err := l.Append(Turn{Role: role, Content: content}); err != nil {
		t.Fatalf("Append(%s) error: %v", role, err)
	}
}

func TestCreateAppendReadRoundTrip(t *testing.T) {
	v, clock := newTestVault(t)
	l, err := v.Create("local-model")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if l.ID() != "session-20261016-123456" {
		t.Fatalf("unexpected id: %s", l.ID())
	}
	mustAppend(t, l, RoleSystem, "you are nox")
	clock.advance(time.Second)
	mustAppend(t, l, RoleUser, "hello")
	clock.advance(time.Second)
	mustAppend(t, l, RoleAssistant, "hi there")

	turns, err := v.ReadTurns(l.ID())
	if err != nil {
		t.Fatalf("ReadTurns error: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	for i, want := range []string{"you are nox", "hello", "hi there"} {
		if turns[i].Content != want {
			t.Fatalf("turn %d content=%q, want %q", i, turns[i].Content, want)
		}
	}
	if turns[0].Role != RoleSystem || turns[2].Role != RoleAssistant {
		t.Fatalf("roles not preserved: %+v", turns)
	}

	sess, err := v.Load(l.ID())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if sess.Meta.Turns != 3 || sess.Meta.Model != "local-model" {
		t.Fatalf("unexpected meta: %+v", sess.Meta)
	}
	if sess.Meta.UpdatedAt.Before(sess.Meta.CreatedAt) {
		t.Fatalf("updated_at before created_at: %+v", sess.Meta)
	}

	r, err := v.Rollup(clock.t, false)
	if err != nil {
		t.Fatalf("Rollup error: %v", err)
	}
	if got := r.Sessions[l.ID()].Turns; got != 3 {
		t.Fatalf("rollup turns=%d, want 3", got)
	}
}

func TestAppendInvalidUTF8MatchesDisk(t *testing.T) {
	v, _ := newTestVault(t)
	l, err := v.Create("")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	mustAppend(t, l, RoleUser, "bad utf8 \xff\xfe end")
	mustAppend(t, l, RoleAssistant, "line one\n\t\"quoted\"  ")
	mustAppend(t, l, RoleAssistant, "")

	disk, err := v.ReadTurns(l.ID())
	if err != nil {
		t.Fatalf("ReadTurns error: %v", err)
	}
	live := l.Turns()
	if len(disk) != len(live) {
		t.Fatalf("disk has %d turns, live view %d", len(disk), len(live))
	}
	for i := range disk {
		if disk[i].Content != live[i].Content {
			t.Fatalf("turn %d: disk=%q live=%q", i, disk[i].Content, live[i].Content)
		}
	}
	if disk[0].Content != "bad utf8 \uFFFD end" {
		t.Fatalf("invalid bytes not replaced: %q", disk[0].Content)
	}
}

func TestCreateSameSecondGetsSuffix(t *testing.T) {
	v, _ := newTestVault(t)
	a, err := v.Create("")
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	b, err := v.Create("")
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}
	c, err := v.Create("")
	if err != nil {
		t.Fatalf("Create c: %v", err)
	}
	if a.ID() != "session-20261016-123456" || b.ID() != "session-20261016-123456-2" || c.ID() != "session-20261016-123456-3" {
		t.Fatalf("ids: %s %s %s", a.ID(), b.ID(), c.ID())
	}
	if got := DisplayName(b.ID()); got != "Session 2026-10-16 12:34:56 UTC #2" {
		t.Fatalf("DisplayName=%q", got)
	}
}

func TestBeginIsLazy(t *testing.T) {
	v, _ := newTestVault(t)
	l := v.Begin("m")
	if l.ID() != "" {
		t.Fatalf("lazy session should have no id yet")
	}
	res, err := v.List(ListOptions{})
	if err != nil || len(res.Sessions) != 0 {
		t.Fatalf("expected empty listing, got %+v err=%v", res, err)
	}
	mustAppend(t, l, RoleUser, "first")
	res, err = v.List(ListOptions{})
	if err != nil || len(res.Sessions) != 1 || res.Sessions[0].ID != l.ID() {
		t.Fatalf("expected one session after append, got %+v err=%v", res, err)
	}
}

func TestAppendRejectsUnknownRole(t *testing.T) {
	v, _ := newTestVault(t)
	l, err := v.Create("")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	err = l.Append(Turn{Role: "narrator", Content: "x"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestReadTurnsStopsAtCorruptLine(t *testing.T) {
	v, _ := newTestVault(t)
	l, err := v.Create("")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	mustAppend(t, l, RoleUser, "one")
	mustAppend(t, l, RoleAssistant, "two")
	id := l.ID()
	if err := l.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	path := filepath.Join(v.Root(), "sessions", "2026-10-16", id+logExt)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	_, _ = f.WriteString("{not json\n{\"role\":\"user\",\"content\":\"after\"}\n")
	_ = f.Close()

	turns, err := v.ReadTurns(id)
	if len(turns) != 2 {
		t.Fatalf("expected the 2 turns before the corrupt line, got %d", len(turns))
	}
	var corrupt *CorruptLogError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptLogError, got %v", err)
	}
	if !errors.Is(err, ErrCorruptLog) {
		t.Fatalf("expected errors.Is ErrCorruptLog")
	}
	if corrupt.Line != 3 || corrupt.Offset != info.Size() || corrupt.SessionID != id {
		t.Fatalf("unexpected corrupt info: %+v (log size %d)", corrupt, info.Size())
	}

	if _, err := v.Resume(id); !errors.Is(err, ErrCorruptLog) {
		t.Fatalf("Resume on corrupt log should fail, got %v", err)
	}
}

func TestAppendFailureLeavesLiveViewUnchanged(t *testing.T) {
	v, _ := newTestVault(t)
	l, err := v.Create("")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	mustAppend(t, l, RoleUser, "kept")

	path := filepath.Join(v.Root(), "sessions", "2026-10-16", l.ID()+logExt)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove log: %v", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir at log path: %v", err)
	}

	err = l.Append(Turn{Role: RoleAssistant, Content: "lost"})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	var verr *Error
	if !errors.As(err, &verr) || verr.SessionID != l.ID() {
		t.Fatalf("error should carry the session id: %v", err)
	}
	if got := l.Turns(); len(got) != 1 || got[0].Content != "kept" {
		t.Fatalf("live view changed after failed append: %+v", got)
	}
	if l.Meta().Turns != 1 {
		t.Fatalf("meta turns=%d, want 1", l.Meta().Turns)
	}
}

func TestRename(t *testing.T) {
	v, clock := newTestVault(t)
	l, err := v.Create("")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	mustAppend(t, l, RoleUser, "something")
	id := l.ID()

	if _, err := v.Rename(id, "while live"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("renaming a live session should fail, got %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := v.Rename(id, "   "); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("blank title should fail, got %v", err)
	}
	if _, err := v.Rename("session-19990101-000000", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id should fail with ErrNotFound, got %v", err)
	}

	clock.advance(time.Minute)
	meta, err := v.Rename(id, "  Trip planning ")
	if err != nil {
		t.Fatalf("Rename error: %v", err)
	}
	if meta.Title != "Trip planning" || !meta.CustomTitle {
		t.Fatalf("unexpected meta after rename: %+v", meta)
	}
	if !meta.UpdatedAt.Equal(clock.t) {
		t.Fatalf("updated_at=%v, want %v", meta.UpdatedAt, clock.t)
	}
	r, err := v.Rollup(clock.t, false)
	if err != nil {
		t.Fatalf("Rollup error: %v", err)
	}
	if r.Sessions[id].Title != "Trip planning" {
		t.Fatalf("rollup not updated: %+v", r.Sessions[id])
	}
}

func TestMerge(t *testing.T) {
	v, clock := newTestVault(t)
	a, _ := v.Create("")
	mustAppend(t, a, RoleSystem, "SYS1")
	mustAppend(t, a, RoleUser, "U1")
	mustAppend(t, a, RoleAssistant, "A1")
	_ = a.Close()
	clock.advance(time.Second)
	b, _ := v.Create("")
	mustAppend(t, b, RoleSystem, "SYS2")
	mustAppend(t, b, RoleUser, "U2")
	mustAppend(t, b, RoleAssistant, "A2")
	_ = b.Close()
	if _, err := v.Rename(a.ID(), "Alpha"); err != nil {
		t.Fatalf("Rename error: %v", err)
	}
	if _, err := v.Rename(b.ID(), "Beta"); err != nil {
		t.Fatalf("Rename error: %v", err)
	}

	clock.advance(time.Minute)
	meta, err := v.Merge([]string{a.ID(), b.ID()}, "")
	if err != nil {
		t.Fatalf("Merge error: %v", err)
	}
	if meta.Title != "Merged: Alpha | Beta" || meta.CustomTitle || !meta.Concluded {
		t.Fatalf("unexpected merged meta: %+v", meta)
	}
	if len(meta.Sources) != 2 || meta.Sources[0] != a.ID() || meta.Sources[1] != b.ID() {
		t.Fatalf("sources=%v", meta.Sources)
	}
	if got := DisplayName(meta.ID); got != "Merged session 2026-10-16 12:35:57 UTC" {
		t.Fatalf("DisplayName=%q", got)
	}

	turns, err := v.ReadTurns(meta.ID)
	if err != nil {
		t.Fatalf("ReadTurns error: %v", err)
	}
	var got []string
	for _, turn := range turns {
		got = append(got, turn.Content)
	}
	want := []string{"SYS1", "U1", "A1", "U2", "A2"}
	if len(got) != len(want) {
		t.Fatalf("merged turns=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merged turns=%v, want %v", got, want)
		}
	}

	src, err := v.ReadTurns(b.ID())
	if err != nil || len(src) != 3 {
		t.Fatalf("input session changed: %d turns err=%v", len(src), err)
	}

	custom, err := v.Merge([]string{a.ID(), b.ID()}, "Both")
	if err != nil {
		t.Fatalf("Merge with title error: %v", err)
	}
	if custom.Title != "Both" || !custom.CustomTitle || custom.ID == meta.ID {
		t.Fatalf("unexpected titled merge: %+v", custom)
	}
}

func TestRenameMergedLeavesInputsAlone(t *testing.T) {
	v, clock := newTestVault(t)
	a, _ := v.Create("")
	mustAppend(t, a, RoleUser, "U1")
	mustAppend(t, a, RoleAssistant, "A1")
	_ = a.Close()
	clock.advance(time.Second)
	b, _ := v.Create("")
	mustAppend(t, b, RoleUser, "U2")
	mustAppend(t, b, RoleAssistant, "A2")
	_ = b.Close()

	before := map[string]Session{}
	for _, id := range []string{a.ID(), b.ID()} {
		sess, err := v.Load(id)
		if err != nil {
			t.Fatalf("Load(%s) error: %v", id, err)
		}
		before[id] = sess
	}

	clock.advance(time.Minute)
	merged, err := v.Merge([]string{a.ID(), b.ID()}, "")
	if err != nil {
		t.Fatalf("Merge error: %v", err)
	}
	clock.advance(time.Minute)
	if _, err := v.Rename(merged.ID, "Renamed merge"); err != nil {
		t.Fatalf("Rename merged error: %v", err)
	}

	for id, want := range before {
		got, err := v.Load(id)
		if err != nil {
			t.Fatalf("Load(%s) error: %v", id, err)
		}
		if got.Meta.Title != want.Meta.Title || got.Meta.CustomTitle != want.Meta.CustomTitle {
			t.Fatalf("%s meta changed: got %+v want %+v", id, got.Meta, want.Meta)
		}
		if !got.Meta.UpdatedAt.Equal(want.Meta.UpdatedAt) {
			t.Fatalf("%s updated_at changed: %v -> %v", id, want.Meta.UpdatedAt, got.Meta.UpdatedAt)
		}
		if len(got.Turns) != len(want.Turns) {
			t.Fatalf("%s turns changed: %d -> %d", id, len(want.Turns), len(got.Turns))
		}
		for i := range want.Turns {
			g, w := got.Turns[i], want.Turns[i]
			if g.Role != w.Role || g.Content != w.Content || !g.Timestamp.Equal(w.Timestamp) {
				t.Fatalf("%s turn %d changed: %+v -> %+v", id, i, want.Turns[i], got.Turns[i])
			}
		}
	}
}

func TestMergeErrors(t *testing.T) {
	v, _ := newTestVault(t)
	a, _ := v.Create("")
	mustAppend(t, a, RoleUser, "x")
	_ = a.Close()

	if _, err := v.Merge([]string{a.ID()}, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("single input should fail, got %v", err)
	}
	if _, err := v.Merge([]string{a.ID(), a.ID()}, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("duplicate input should fail, got %v", err)
	}
	if _, err := v.Merge([]string{a.ID(), "session-20000101-000000"}, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown input should fail, got %v", err)
	}
}

func TestArchiveEarly(t *testing.T) {
	v, clock := newTestVault(t)
	old, _ := v.Create("")
	mustAppend(t, old, RoleUser, "old")
	_ = old.Close()

	clock.advance(24 * time.Hour)
	recent, _ := v.Create("")
	mustAppend(t, recent, RoleUser, "recent")
	_ = recent.Close()

	live, _ := v.Create("")
	mustAppend(t, live, RoleUser, "still talking")

	cutoff := clock.t.Add(time.Hour)
	cutoff = time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, time.UTC)
	moved, err := v.ArchiveEarly(cutoff)
	if err != nil {
		t.Fatalf("ArchiveEarly error: %v", err)
	}
	if len(moved) != 1 || moved[0] != old.ID() {
		t.Fatalf("moved=%v, want [%s]", moved, old.ID())
	}
	if _, err := os.Stat(filepath.Join(v.Root(), "archive", "2026-10-16", old.ID()+logExt)); err != nil {
		t.Fatalf("archived log missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(v.Root(), "sessions", "2026-10-16")); !os.IsNotExist(err) {
		t.Fatalf("empty day directory should be removed, stat err=%v", err)
	}

	again, err := v.ArchiveEarly(cutoff)
	if err != nil || len(again) != 0 {
		t.Fatalf("second run should move nothing, got %v err=%v", again, err)
	}

	all, err := v.ArchiveEarly(clock.t.Add(time.Hour))
	if err != nil {
		t.Fatalf("ArchiveEarly error: %v", err)
	}
	if len(all) != 1 || all[0] != recent.ID() {
		t.Fatalf("live session must be skipped, moved=%v", all)
	}

	archived, err := v.List(ListOptions{Archived: true})
	if err != nil {
		t.Fatalf("List archived error: %v", err)
	}
	if len(archived.Sessions) != 2 || !archived.Sessions[0].Archived {
		t.Fatalf("unexpected archive listing: %+v", archived.Sessions)
	}
	r, err := v.Rollup(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), true)
	if err != nil {
		t.Fatalf("Rollup error: %v", err)
	}
	if _, ok := r.Sessions[old.ID()]; !ok {
		t.Fatalf("archive rollup missing %s: %+v", old.ID(), r)
	}

	sess, err := v.Load(old.ID())
	if err != nil || !sess.Meta.Archived {
		t.Fatalf("archived session should still load: %+v err=%v", sess.Meta, err)
	}
	if _, err := v.Resume(old.ID()); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("archived session must not resume, got %v", err)
	}
}

func TestLatestCutoffKeepsNewest(t *testing.T) {
	v, clock := newTestVault(t)
	var ids []string
	for i := 0; i < 3; i++ {
		l, _ := v.Create("")
		mustAppend(t, l, RoleUser, "msg")
		_ = l.Close()
		ids = append(ids, l.ID())
		clock.advance(time.Minute)
	}
	cutoff, err := v.LatestCutoff()
	if err != nil {
		t.Fatalf("LatestCutoff error: %v", err)
	}
	moved, err := v.ArchiveEarly(cutoff)
	if err != nil {
		t.Fatalf("ArchiveEarly error: %v", err)
	}
	if len(moved) != 2 {
		t.Fatalf("moved=%v, want the two older sessions", moved)
	}
	res, _ := v.List(ListOptions{})
	if len(res.Sessions) != 1 || res.Sessions[0].ID != ids[2] {
		t.Fatalf("latest session should remain: %+v", res.Sessions)
	}
}

func TestListAndIndexReferences(t *testing.T) {
	v, clock := newTestVault(t)
	first, _ := v.Create("")
	mustAppend(t, first, RoleUser, "Weather in Lyon")
	_ = first.Close()
	clock.advance(time.Minute)
	second, _ := v.Create("")
	mustAppend(t, second, RoleUser, "groceries")
	_ = second.Close()

	res, err := v.List(ListOptions{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(res.Sessions) != 2 || res.Sessions[0].ID != second.ID() {
		t.Fatalf("expected newest first: %+v", res.Sessions)
	}

	filtered, _ := v.List(ListOptions{Filter: "LYON"})
	if len(filtered.Sessions) != 1 || filtered.Sessions[0].ID != first.ID() {
		t.Fatalf("filter mismatch: %+v", filtered.Sessions)
	}

	sess, err := v.Load("2")
	if err != nil || sess.Meta.ID != first.ID() {
		t.Fatalf("Load(2)=%s err=%v", sess.Meta.ID, err)
	}
	for _, ref := range []string{"0", "3", "99"} {
		if _, err := v.Load(ref); !errors.Is(err, ErrAmbiguousReference) {
			t.Fatalf("Load(%s) should be ambiguous, got %v", ref, err)
		}
	}
	if _, err := v.Load("session-20000101-000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id should be ErrNotFound, got %v", err)
	}
}

func TestListReportsUnreadableMeta(t *testing.T) {
	v, _ := newTestVault(t)
	good, _ := v.Create("")
	mustAppend(t, good, RoleUser, "fine")
	_ = good.Close()

	dir := filepath.Join(v.Root(), "sessions", "2026-10-16")
	if err := os.WriteFile(filepath.Join(dir, "session-broken"+metaExt), []byte("{"), 0o644); err != nil {
		t.Fatalf("write broken meta: %v", err)
	}
	res, err := v.List(ListOptions{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(res.Sessions) != 1 || len(res.Problems) != 1 {
		t.Fatalf("sessions=%d problems=%d", len(res.Sessions), len(res.Problems))
	}
}

func TestRollupHealsAndDedupes(t *testing.T) {
	v, clock := newTestVault(t)
	a, _ := v.Create("")
	mustAppend(t, a, RoleUser, "a")
	mustAppend(t, a, RoleUser, "a again")
	_ = a.Close()
	b, _ := v.Create("")
	mustAppend(t, b, RoleUser, "b")
	_ = b.Close()

	r, err := v.Rollup(clock.t, false)
	if err != nil {
		t.Fatalf("Rollup error: %v", err)
	}
	if len(r.Sessions) != 2 || r.Sessions[a.ID()].Turns != 2 {
		t.Fatalf("rollup should hold one entry per session: %+v", r.Sessions)
	}

	path := filepath.Join(v.Root(), "sessions", "2026-10-16", rollupFile)
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("corrupt rollup: %v", err)
	}
	n, err := v.RebuildRollups()
	if err != nil || n != 1 {
		t.Fatalf("RebuildRollups n=%d err=%v", n, err)
	}
	r, err = v.Rollup(clock.t, false)
	if err != nil || len(r.Sessions) != 2 {
		t.Fatalf("rebuilt rollup=%+v err=%v", r, err)
	}
}

func TestCloseAutoTitle(t *testing.T) {
	v, _ := newTestVault(t)
	l, _ := v.Create("")
	mustAppend(t, l, RoleSystem, "system prompt")
	mustAppend(t, l, RoleUser, "/help")
	mustAppend(t, l, RoleUser, "  what   is the tallest mountain in the whole wide world  ")
	createdMeta := l.Meta()
	if err := l.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	sess, err := v.Load(l.ID())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if sess.Meta.Title != "what is the tallest mountain in the whole" {
		t.Fatalf("title=%q", sess.Meta.Title)
	}
	if sess.Meta.CustomTitle || !sess.Meta.Concluded {
		t.Fatalf("unexpected flags: %+v", sess.Meta)
	}
	if !sess.Meta.UpdatedAt.Equal(createdMeta.UpdatedAt) {
		t.Fatalf("Close must not bump updated_at")
	}

	resumed, err := v.Resume(l.ID())
	if err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	mustAppend(t, resumed, RoleUser, "completely different topic")
	_ = resumed.Close()
	sess, _ = v.Load(l.ID())
	if sess.Meta.Title != "what is the tallest mountain in the whole" || len(sess.Turns) != 4 {
		t.Fatalf("auto-title must not fire twice: %+v (%d turns)", sess.Meta, len(sess.Turns))
	}
}

func TestCloseKeepsCustomTitle(t *testing.T) {
	v, _ := newTestVault(t)
	l, _ := v.Create("")
	mustAppend(t, l, RoleUser, "hello there")
	if err := l.SetTitle("Mine"); err != nil {
		t.Fatalf("SetTitle error: %v", err)
	}
	_ = l.Close()
	sess, _ := v.Load(l.ID())
	if sess.Meta.Title != "Mine" || !sess.Meta.CustomTitle {
		t.Fatalf("custom title lost: %+v", sess.Meta)
	}
}

func TestResumeRejectsLiveSession(t *testing.T) {
	v, _ := newTestVault(t)
	l, _ := v.Create("")
	mustAppend(t, l, RoleUser, "hi")
	if _, err := v.Resume(l.ID()); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
