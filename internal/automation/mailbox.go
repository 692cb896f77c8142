// Package automation carries instrument requests between the dispatch
// protocol and whatever answers them automatically. Delivery is best
// effort: nothing in flight is replayed after a restart.
package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusResolved  Status = "resolved"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

var (
	ErrNotFound   = errors.New("mailbox request not found")
	ErrNotOpen    = errors.New("mailbox request is no longer open")
	ErrFailed     = errors.New("instrument request failed")
	ErrAbandoned  = errors.New("instrument request abandoned")
	ErrEmptyQuery = errors.New("mailbox query is empty")
)

// Entry 是邮箱中的一条 instrument 请求
// Entry is one instrument request in the mailbox.
type Entry struct {
	ID        string
	SessionID string
	Label     string
	Query     string
	Status    Status
	Result    string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Mailbox 基于 SQLite (WAL 模式) 的请求邮箱
// Mailbox is a SQLite (WAL) request table shared by the REPL and the router.
type Mailbox struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open 创建并初始化邮箱数据库
// Open creates and initializes the mailbox database at dbPath.
func Open(dbPath string) (*Mailbox, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("mailbox db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 单连接：PRAGMA 是连接级的，且同一进程内的写入本就串行
	// One connection, so the per-connection PRAGMAs below always apply.
	db.SetMaxOpenConns(1)

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	mb := &Mailbox{db: db, path: dbPath, now: time.Now}
	if err := mb.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return mb, nil
}

func (m *Mailbox) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL DEFAULT '',
		label       TEXT NOT NULL DEFAULT '',
		query       TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'pending',
		result      TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_requests_session ON requests(session_id);
	`
	_, err := m.db.Exec(schema)
	return err
}

// Path returns the database file.
func (m *Mailbox) Path() string { return m.path }

// Close 关闭数据库连接 / Close the database connection
func (m *Mailbox) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// timeLayout is fixed-width so stored stamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (m *Mailbox) stamp() string {
	return m.now().UTC().Format(timeLayout)
}

// Post queues a pending request. Reposting an id is an error.
func (m *Mailbox) Post(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("post request: id is empty")
	}
	if strings.TrimSpace(e.Query) == "" {
		return fmt.Errorf("post request %s: %w", e.ID, ErrEmptyQuery)
	}
	now := m.stamp()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO requests (id, session_id, label, query, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Label, e.Query, StatusPending, now, now)
	if err != nil {
		return fmt.Errorf("post request %s: %w", e.ID, err)
	}
	return nil
}

// Claim 原子地取出最早的待处理请求
// Claim atomically moves the oldest pending request to claimed. ok is
// false when nothing is pending.
func (m *Mailbox) Claim(ctx context.Context) (Entry, bool, error) {
	row := m.db.QueryRowContext(ctx, `
		UPDATE requests SET status=?, updated_at=?
		WHERE id = (
			SELECT id FROM requests WHERE status=? ORDER BY created_at, rowid LIMIT 1
		) AND status=?
		RETURNING `+entryColumns,
		StatusClaimed, m.stamp(), StatusPending, StatusPending)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("claim request: %w", err)
	}
	return e, true, nil
}

func (m *Mailbox) Resolve(ctx context.Context, id, result string) error {
	return m.finish(ctx, "resolve", id, StatusResolved, result, "")
}

func (m *Mailbox) Fail(ctx context.Context, id, reason string) error {
	return m.finish(ctx, "fail", id, StatusFailed, "", reason)
}

// Abandon closes a request nobody will wait for any more. Closing an
// already finished request is not an error.
func (m *Mailbox) Abandon(ctx context.Context, id string) error {
	err := m.finish(ctx, "abandon", id, StatusAbandoned, "", "")
	if errors.Is(err, ErrNotOpen) {
		return nil
	}
	return err
}

// AbandonSession abandons every open request of a session.
func (m *Mailbox) AbandonSession(ctx context.Context, sessionID string) (int, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE requests SET status=?, updated_at=?
		WHERE session_id=? AND status IN (?, ?)`,
		StatusAbandoned, m.stamp(), sessionID, StatusPending, StatusClaimed)
	if err != nil {
		return 0, fmt.Errorf("abandon session %s: %w", sessionID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (m *Mailbox) finish(ctx context.Context, op, id string, status Status, result, reason string) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE requests SET status=?, result=?, error=?, updated_at=?
		WHERE id=? AND status IN (?, ?)`,
		status, result, reason, m.stamp(), id, StatusPending, StatusClaimed)
	if err != nil {
		return fmt.Errorf("%s request %s: %w", op, id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := m.Get(ctx, id); err != nil {
		return fmt.Errorf("%s request: %w", op, err)
	}
	return fmt.Errorf("%s request %s: %w", op, id, ErrNotOpen)
}

func (m *Mailbox) Get(ctx context.Context, id string) (Entry, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM requests WHERE id=?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("load request %s: %w", id, err)
	}
	return e, nil
}

// Await 轮询直到请求被处理、失败、放弃或 ctx 结束
// Await polls until the request is resolved, failed or abandoned, or ctx
// ends. A failed request returns the entry with an error wrapping ErrFailed.
func (m *Mailbox) Await(ctx context.Context, id string, poll time.Duration) (Entry, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		e, err := m.Get(ctx, id)
		if err != nil {
			return Entry{}, err
		}
		switch e.Status {
		case StatusResolved:
			return e, nil
		case StatusFailed:
			return e, fmt.Errorf("request %s: %w: %s", id, ErrFailed, e.Error)
		case StatusAbandoned:
			return e, fmt.Errorf("request %s: %w", id, ErrAbandoned)
		}
		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Pending counts open requests.
func (m *Mailbox) Pending(ctx context.Context) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests WHERE status IN (?, ?)`,
		StatusPending, StatusClaimed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

const entryColumns = `id, session_id, label, query, status, result, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e                    Entry
		status               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&e.ID, &e.SessionID, &e.Label, &e.Query, &status, &e.Result, &e.Error, &createdAt, &updatedAt); err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	e.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return e, nil
}
