package vault

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	logExt     = ".jsonl"
	metaExt    = ".meta.json"
	rollupFile = "day.json"
)

// Options 配置 Vault；零值可用
// Options configures a Vault. The zero value is usable.
type Options struct {
	Now    func() time.Time
	Logger *zap.Logger
}

// Vault 基于文件的会话存储：按天分目录的 JSONL 日志、元数据与 day rollup
// Vault is the file-backed session store: per-day directories holding
// append-only JSONL logs, metadata sidecars and a day rollup.
//
//	<root>/sessions/<YYYY-MM-DD>/<id>.jsonl
//	<root>/sessions/<YYYY-MM-DD>/<id>.meta.json
//	<root>/sessions/<YYYY-MM-DD>/day.json
//	<root>/archive/<YYYY-MM-DD>/...
type Vault struct {
	root        string
	sessionsDir string
	archiveDir  string
	now         func() time.Time
	log         *zap.Logger

	mu   sync.Mutex
	live map[string]struct{}

	rollupMu sync.Mutex
}

// Open 打开（必要时创建）位于 root 的 vault
// Open opens, creating when needed, the vault rooted at root.
func Open(root string, opts Options) (*Vault, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("vault root is empty")
	}
	v := &Vault{
		root:        root,
		sessionsDir: filepath.Join(root, "sessions"),
		archiveDir:  filepath.Join(root, "archive"),
		now:         opts.Now,
		log:         opts.Logger,
		live:        map[string]struct{}{},
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.log == nil {
		v.log = zap.NewNop()
	}
	for _, dir := range []string{v.root, v.sessionsDir, v.archiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create vault dir %s: %w", dir, err)
		}
	}
	return v, nil
}

// Root returns the vault's base directory.
func (v *Vault) Root() string { return v.root }

type location struct {
	id       string
	dir      string
	archived bool
}

func (l location) logPath() string  { return filepath.Join(l.dir, l.id+logExt) }
func (l location) metaPath() string { return filepath.Join(l.dir, l.id+metaExt) }
func (l location) day() string      { return filepath.Base(l.dir) }

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("session id is empty")
	}
	if strings.ContainsAny(id, `/\*?[]`) || strings.Contains(id, "..") {
		return fmt.Errorf("malformed session id %q", id)
	}
	return nil
}

func (v *Vault) locate(id string) (location, error) {
	if err := validateID(id); err != nil {
		return location{}, newError(ErrInvalidArgument, "locate", id, err)
	}
	for _, base := range []struct {
		dir      string
		archived bool
	}{{v.sessionsDir, false}, {v.archiveDir, true}} {
		for _, ext := range []string{metaExt, logExt} {
			matches, _ := filepath.Glob(filepath.Join(base.dir, "*", id+ext))
			if len(matches) > 0 {
				return location{id: id, dir: filepath.Dir(matches[0]), archived: base.archived}, nil
			}
		}
	}
	return location{}, newError(ErrNotFound, "locate", id, nil)
}

// scan lists every session location below base, one per id.
func (v *Vault) scan(base string, archived bool) ([]location, []error) {
	days, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{newError(ErrPersistence, "scan", "", err)}
	}
	var (
		locs     []location
		problems []error
	)
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		dir := filepath.Join(base, day.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			problems = append(problems, newError(ErrPersistence, "scan", "", fmt.Errorf("read %s: %w", dir, err)))
			continue
		}
		seen := map[string]struct{}{}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			id, ok := idFromName(e.Name())
			if !ok {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			locs = append(locs, location{id: id, dir: dir, archived: archived})
		}
	}
	return locs, problems
}

func (v *Vault) readMeta(loc location) (Meta, error) {
	var meta Meta
	data, err := os.ReadFile(loc.metaPath())
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &meta); err != nil {
			return Meta{}, newError(ErrPersistence, "read meta", loc.id, fmt.Errorf("parse %s: %w", loc.metaPath(), err))
		}
	case errors.Is(err, os.ErrNotExist):
		// Log without a sidecar: derive what we can from the turns.
		meta, err = v.metaFromLog(loc)
		if err != nil {
			return Meta{}, err
		}
	default:
		return Meta{}, newError(ErrPersistence, "read meta", loc.id, err)
	}
	if meta.ID == "" {
		meta.ID = loc.id
	}
	meta.Archived = loc.archived
	return meta, nil
}

func (v *Vault) metaFromLog(loc location) (Meta, error) {
	info, err := os.Stat(loc.logPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Meta{}, newError(ErrNotFound, "read meta", loc.id, nil)
		}
		return Meta{}, newError(ErrPersistence, "read meta", loc.id, err)
	}
	turns, _ := v.readTurnsAt(loc)
	meta := Meta{ID: loc.id, Turns: len(turns), CreatedAt: info.ModTime().UTC(), UpdatedAt: info.ModTime().UTC()}
	if len(turns) > 0 {
		meta.CreatedAt = turns[0].Timestamp
		meta.UpdatedAt = turns[len(turns)-1].Timestamp
	}
	return meta, nil
}

func (v *Vault) writeMeta(loc location, meta Meta) error {
	return writeJSONAtomic(loc.metaPath(), meta)
}

// stamp returns a fresh updated_at that never precedes created_at.
func (v *Vault) stamp(meta Meta) time.Time {
	now := v.now().UTC()
	if now.Before(meta.CreatedAt) {
		return meta.CreatedAt
	}
	return now
}

// ReadTurns 顺序读取会话日志；遇到损坏行时返回之前的 turn 与 *CorruptLogError
// ReadTurns reads a session log in order. On a corrupt line it returns the
// turns before it together with a *CorruptLogError.
func (v *Vault) ReadTurns(id string) ([]Turn, error) {
	loc, err := v.locate(id)
	if err != nil {
		return nil, err
	}
	return v.readTurnsAt(loc)
}

func (v *Vault) readTurnsAt(loc location) ([]Turn, error) {
	f, err := os.Open(loc.logPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, newError(ErrPersistence, "read", loc.id, err)
	}
	defer f.Close()

	var (
		turns  []Turn
		offset int64
		line   int
	)
	r := bufio.NewReader(f)
	for {
		data, readErr := r.ReadBytes('\n')
		if len(data) > 0 {
			line++
			if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 {
				var t Turn
				err := json.Unmarshal(trimmed, &t)
				if err == nil && !t.Role.Valid() {
					err = fmt.Errorf("unknown role %q", t.Role)
				}
				if err != nil {
					return turns, &CorruptLogError{SessionID: loc.id, Line: line, Offset: offset, Err: err}
				}
				turns = append(turns, t)
			}
			offset += int64(len(data))
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return turns, nil
			}
			return turns, newError(ErrPersistence, "read", loc.id, readErr)
		}
	}
}

// Resolve 将 id 或 1 起始的列表序号解析为会话 id
// Resolve maps a literal id, or a 1-based index into the newest-first
// listing, to a session id. Out-of-range indexes fail with
// ErrAmbiguousReference; they are never clamped.
func (v *Vault) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", newError(ErrInvalidArgument, "resolve", "", errors.New("empty session reference"))
	}
	if !isIndex(ref) {
		if _, err := v.locate(ref); err != nil {
			return "", err
		}
		return ref, nil
	}
	res, err := v.List(ListOptions{})
	if err != nil {
		return "", err
	}
	n, convErr := strconv.Atoi(ref)
	if convErr != nil || n < 1 || n > len(res.Sessions) {
		return "", newError(ErrAmbiguousReference, "resolve", "",
			fmt.Errorf("index %s out of range (1-%d)", ref, len(res.Sessions)))
	}
	return res.Sessions[n-1].ID, nil
}

func isIndex(ref string) bool {
	for _, r := range ref {
		if r < '0' || r > '9' {
			return false
		}
	}
	return ref != ""
}

// Load 按 id 或序号读取完整会话；日志损坏时返回已读部分与错误
// Load reads a full session by id or index. With a corrupt log the partial
// session is returned along with the *CorruptLogError.
func (v *Vault) Load(ref string) (Session, error) {
	id, err := v.Resolve(ref)
	if err != nil {
		return Session{}, err
	}
	loc, err := v.locate(id)
	if err != nil {
		return Session{}, err
	}
	meta, err := v.readMeta(loc)
	if err != nil {
		return Session{}, err
	}
	turns, err := v.readTurnsAt(loc)
	return Session{Meta: meta, Turns: turns}, err
}

// Rename 设置自定义标题；不适用于正在进行的会话
// Rename sets a custom title on a stored session. Live sessions are renamed
// through their Live handle instead.
func (v *Vault) Rename(id, title string) (Meta, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Meta{}, newError(ErrInvalidArgument, "rename", id, errors.New("title is empty"))
	}
	loc, err := v.locate(id)
	if err != nil {
		return Meta{}, err
	}
	if v.isLive(id) {
		return Meta{}, newError(ErrInvalidArgument, "rename", id, errors.New("session is live"))
	}
	meta, err := v.readMeta(loc)
	if err != nil {
		return Meta{}, err
	}
	meta.Title = title
	meta.CustomTitle = true
	meta.UpdatedAt = v.stamp(meta)
	if err := v.writeMeta(loc, meta); err != nil {
		return Meta{}, newError(ErrPersistence, "rename", id, err)
	}
	v.upsertRollup(loc, meta)
	return meta, nil
}

func (v *Vault) isLive(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.live[id]
	return ok
}

func (v *Vault) release(id string) {
	v.mu.Lock()
	delete(v.live, id)
	v.mu.Unlock()
}

// allocateID must be called with v.mu held.
func (v *Vault) allocateID(prefix string, now time.Time) string {
	base := prefix + now.UTC().Format(idLayout)
	candidate := base
	for n := 2; v.idTaken(candidate); n++ {
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return candidate
}

func (v *Vault) idTaken(id string) bool {
	if _, ok := v.live[id]; ok {
		return true
	}
	_, err := v.locate(id)
	return err == nil
}

func writeJSONAtomic(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func readJSONFile(path string, value any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
