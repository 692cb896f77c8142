package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Live 是正在进行的会话的内存视图；单写者
// Live is the in-memory view of the session currently being written. It
// assumes a single writer; Append is serialized internally.
type Live struct {
	v *Vault

	mu      sync.Mutex
	loc     location
	meta    Meta
	turns   []Turn
	created bool
	closed  bool
}

// Begin 返回一个延迟创建的会话：首次 Append 时才落盘
// Begin returns a lazily created session. Nothing touches disk until the
// first Append.
func (v *Vault) Begin(model string) *Live {
	return &Live{v: v, meta: Meta{Model: model}}
}

// Create 立即分配 id 并写入初始元数据
// Create allocates an id and writes the initial metadata right away.
func (v *Vault) Create(model string) (*Live, error) {
	l := v.Begin(model)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := v.materialize(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Resume 以可追加方式重新打开已存在的会话
// Resume reopens a stored session for appending. Archived sessions and logs
// with a corrupt line are refused.
func (v *Vault) Resume(id string) (*Live, error) {
	loc, err := v.locate(id)
	if err != nil {
		return nil, err
	}
	if loc.archived {
		return nil, newError(ErrInvalidArgument, "resume", id, errors.New("archived sessions are read-only"))
	}
	meta, err := v.readMeta(loc)
	if err != nil {
		return nil, err
	}
	turns, err := v.readTurnsAt(loc)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.live[id]; ok {
		return nil, newError(ErrInvalidArgument, "resume", id, errors.New("session is already live"))
	}
	v.live[id] = struct{}{}
	meta.Turns = len(turns)
	return &Live{v: v, loc: loc, meta: meta, turns: turns, created: true}, nil
}

// materialize must be called with l.mu held.
func (v *Vault) materialize(l *Live) error {
	now := v.now().UTC()

	v.mu.Lock()
	id := v.allocateID(sessionPrefix, now)
	loc := location{id: id, dir: filepath.Join(v.sessionsDir, now.Format(dayLayout))}
	meta := l.meta
	meta.ID = id
	meta.CreatedAt = now
	meta.UpdatedAt = now
	err := createSessionFiles(loc, meta, nil)
	if err == nil {
		v.live[id] = struct{}{}
	}
	v.mu.Unlock()

	if err != nil {
		return newError(ErrPersistence, "create", id, err)
	}
	l.loc = loc
	l.meta = meta
	l.created = true
	v.upsertRollup(loc, meta)
	v.log.Debug("session created", zap.String("session", id))
	return nil
}

// createSessionFiles writes a new log holding turns plus its meta sidecar.
// On failure nothing is left behind.
func createSessionFiles(loc location, meta Meta, turns []Turn) error {
	if err := os.MkdirAll(loc.dir, 0o755); err != nil {
		return fmt.Errorf("create day dir: %w", err)
	}
	f, err := os.OpenFile(loc.logPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create log: %w", err)
	}
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(loc.logPath())
		return err
	}
	for _, t := range turns {
		line, err := json.Marshal(t)
		if err != nil {
			return fail(fmt.Errorf("encode turn: %w", err))
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fail(fmt.Errorf("write log: %w", err))
		}
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("sync log: %w", err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(loc.logPath())
		return fmt.Errorf("close log: %w", err)
	}
	if err := writeJSONAtomic(loc.metaPath(), meta); err != nil {
		_ = os.Remove(loc.logPath())
		return err
	}
	return nil
}

// ID returns the session id, or "" before the first append of a lazy session.
func (l *Live) ID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta.ID
}

// Meta returns a copy of the current metadata.
func (l *Live) Meta() Meta {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.meta
	if m.Instrument != nil {
		info := *m.Instrument
		m.Instrument = &info
	}
	m.Sources = append([]string(nil), m.Sources...)
	return m
}

// Turns returns a copy of the committed turns.
func (l *Live) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Turn(nil), l.turns...)
}

// Append 以一行 JSON 写入日志并 fsync；失败时截断回原长度，内存视图不变
// Append writes the turn as one JSON line and fsyncs it. On failure the log
// is truncated back to its previous size, the live view is left unchanged,
// and an ErrPersistence error is returned. Metadata and rollup refreshes
// after the line is committed are best-effort.
func (l *Live) Append(t Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return newError(ErrInvalidArgument, "append", l.meta.ID, errors.New("session is closed"))
	}
	if !t.Role.Valid() {
		return newError(ErrInvalidArgument, "append", l.meta.ID, fmt.Errorf("unknown role %q", t.Role))
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = l.v.now().UTC()
	}
	// JSON can only carry valid UTF-8; keep the live view identical to disk.
	t.Content = strings.ToValidUTF8(t.Content, "\uFFFD")
	if !l.created {
		if err := l.v.materialize(l); err != nil {
			return err
		}
	}

	line, err := json.Marshal(t)
	if err != nil {
		return newError(ErrInvalidArgument, "append", l.meta.ID, err)
	}
	if err := appendLine(l.loc.logPath(), line); err != nil {
		l.v.log.Error("append failed", zap.String("session", l.meta.ID), zap.Int("turn", len(l.turns)), zap.Error(err))
		return newError(ErrPersistence, "append", l.meta.ID, fmt.Errorf("turn %d: %w", len(l.turns), err))
	}

	l.turns = append(l.turns, t)
	l.meta.Turns = len(l.turns)
	l.meta.UpdatedAt = l.v.stamp(l.meta)
	if err := l.v.writeMeta(l.loc, l.meta); err != nil {
		l.v.log.Warn("meta refresh failed", zap.String("session", l.meta.ID), zap.Error(err))
	}
	l.v.upsertRollup(l.loc, l.meta)
	return nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	size := info.Size()
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Truncate(size)
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Truncate(size)
		_ = f.Close()
		return err
	}
	// The line is durable once Sync returns.
	_ = f.Close()
	return nil
}

// SetTitle 显式重命名当前会话
// SetTitle renames the live session and marks the title as custom.
func (l *Live) SetTitle(title string) error {
	title = trimTitle(title)
	l.mu.Lock()
	defer l.mu.Unlock()
	if title == "" {
		return newError(ErrInvalidArgument, "rename", l.meta.ID, errors.New("title is empty"))
	}
	l.meta.Title = title
	l.meta.CustomTitle = true
	if !l.created {
		return nil
	}
	l.meta.UpdatedAt = l.v.stamp(l.meta)
	if err := l.v.writeMeta(l.loc, l.meta); err != nil {
		return newError(ErrPersistence, "rename", l.meta.ID, err)
	}
	l.v.upsertRollup(l.loc, l.meta)
	return nil
}

// SetInstrument records the session's default instrument.
func (l *Live) SetInstrument(info *InstrumentInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if info != nil {
		copied := *info
		info = &copied
	}
	l.meta.Instrument = info
	if !l.created {
		return nil
	}
	if err := l.v.writeMeta(l.loc, l.meta); err != nil {
		return newError(ErrPersistence, "set instrument", l.meta.ID, err)
	}
	l.v.upsertRollup(l.loc, l.meta)
	return nil
}

// Close 结束会话：若标题未自定义且从未结束过，则自动生成标题
// Close concludes the session. When the title was never customized and the
// session never concluded before, a title is computed from the turns. The
// auto-title never fires again afterwards.
func (l *Live) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if !l.created {
		return nil
	}
	defer l.v.release(l.meta.ID)

	if !l.meta.CustomTitle && !l.meta.Concluded {
		if title := ComputeTitle(l.turns); title != "" {
			l.meta.Title = title
		}
	}
	l.meta.Concluded = true
	if err := l.v.writeMeta(l.loc, l.meta); err != nil {
		return newError(ErrPersistence, "close", l.meta.ID, err)
	}
	l.v.upsertRollup(l.loc, l.meta)
	return nil
}
