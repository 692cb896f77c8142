// Package engine drives one conversation: it talks to the backend, keeps
// the live session in the vault, and runs the instrument dispatch protocol.
package engine

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"go.uber.org/zap"

	"nox/internal/automation"
	"nox/internal/config"
	"nox/internal/contextmgr"
	"nox/internal/devshell"
	"nox/internal/dispatch"
	"nox/internal/logging"
	"nox/internal/provider"
	"nox/internal/sanitize"
	"nox/internal/vault"
)

// Mailbox is the part of *automation.Mailbox the engine needs.
type Mailbox interface {
	Post(ctx context.Context, e automation.Entry) error
	Await(ctx context.Context, id string, poll time.Duration) (automation.Entry, error)
	Abandon(ctx context.Context, id string) error
}

// ConfirmFunc asks the operator a yes/no question.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

type Options struct {
	Config      config.Config
	Tokenizer   contextmgr.Counter
	Scorer      Scorer
	Mailbox     Mailbox
	Selector    dispatch.Selector
	Interactive bool
	Confirm     ConfirmFunc
	Shell       *devshell.Runner
	// OnText receives public reply text as it streams in.
	OnText func(chunk string)
	Logger *zap.Logger
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Reply is what one call to Turn produced.
type Reply struct {
	Text          string
	Dispatched    *dispatch.Request
	Waiting       bool
	Title         string
	ShellCommands []string
	// FollowUp is the reply generated after an automated instrument result.
	FollowUp string
	// Notice is an operator-facing status line.
	Notice  string
	Command bool
}

// Engine 单个会话的对话引擎；不支持并发调用
// Engine is the conversation engine for one operator. It is not safe for
// concurrent use.
type Engine struct {
	backend   provider.Provider
	vault     *vault.Vault
	cfg       config.Config
	proto     *dispatch.Protocol
	live      *vault.Live
	sanitizer *sanitize.Sanitizer
	scorer    Scorer
	tok       contextmgr.Counter
	mailbox   Mailbox
	confirm   ConfirmFunc
	shell     *devshell.Runner
	onText    func(string)
	log       *zap.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	devMode   bool
	armed     *armedSelection
	lastShell string
}

// armedSelection is a one-shot explicit instrument choice that sends the
// next exchange to the instrument regardless of the score.
type armedSelection struct {
	label string
}

func New(backend provider.Provider, v *vault.Vault, opts Options) *Engine {
	cfg := opts.Config
	e := &Engine{
		backend:   backend,
		vault:     v,
		cfg:       cfg,
		sanitizer: sanitize.New(cfg.Instrument.RedactNames),
		scorer:    opts.Scorer,
		tok:       opts.Tokenizer,
		mailbox:   opts.Mailbox,
		confirm:   opts.Confirm,
		shell:     opts.Shell,
		onText:    opts.OnText,
		log:       logging.OrNop(opts.Logger),
		now:       opts.Now,
		sleep:     opts.Sleep,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	if e.tok == nil {
		e.tok = contextmgr.DefaultTokenizer()
	}
	if e.scorer == nil {
		e.scorer = ScorerFor(cfg.Instrument.Scorer, backend, e.log)
	}
	e.live = v.Begin(backend.CurrentModel())
	e.proto = dispatch.New(dispatch.Options{
		Roster:       cfg.Instrument.Roster,
		DefaultLabel: cfg.Instrument.Default,
		Automation:   cfg.Instrument.Automation,
		Interactive:  opts.Interactive,
		Anonymize:    cfg.Instrument.Anonymize,
		Sanitizer:    e.sanitizer,
		Selector:     opts.Selector,
		Log:          e.live,
		Logger:       e.log,
		Now:          e.now,
	})
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SessionID returns the live session id, "" until the first turn is stored.
func (e *Engine) SessionID() string { return e.live.ID() }

// Session returns the live session's metadata.
func (e *Engine) Session() vault.Meta { return e.live.Meta() }

// Turns returns the live session's stored turns.
func (e *Engine) Turns() []vault.Turn { return e.live.Turns() }

func (e *Engine) Protocol() *dispatch.Protocol { return e.proto }

func (e *Engine) DevMode() bool { return e.devMode }

// CheckPassphrase 校验开发者口令；未配置口令时开发者模式不可用
// CheckPassphrase reports whether attempt unlocks developer mode. Without a
// configured passphrase developer mode stays locked.
func CheckPassphrase(configured, attempt string) bool {
	configured = strings.TrimSpace(configured)
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(strings.TrimSpace(attempt))) == 1
}

// UnlockDev enables developer mode when attempt matches the configured
// passphrase.
func (e *Engine) UnlockDev(attempt string) bool {
	if CheckPassphrase(e.cfg.Developer.Passphrase, attempt) {
		e.devMode = true
		e.log.Info("developer mode unlocked")
	}
	return e.devMode
}

// Reset 清空 dispatch 状态并从系统提示词重新开始新的会话；磁盘上的历史不变
// Reset cancels any pending request and starts a fresh live session from
// the system prompt. Stored history is untouched; the previous session is
// concluded.
func (e *Engine) Reset() error {
	if req, ok := e.proto.Reset(); ok {
		e.abandon(req.ID)
	}
	e.armed = nil
	e.lastShell = ""
	err := e.live.Close()
	e.live = e.vault.Begin(e.backend.CurrentModel())
	e.proto.Bind(e.live)
	e.proto.SetDefaultLabel(e.cfg.Instrument.Default)
	return err
}

// Load 恢复已保存的会话；结尾未完成的请求记为 abandoned，不会阻塞
// Load resumes a stored session by reference (list index or id). A query
// left without a result is recorded as abandoned and does not block.
func (e *Engine) Load(ref string) (vault.Meta, error) {
	id, err := e.vault.Resolve(ref)
	if err != nil {
		return vault.Meta{}, err
	}
	if id == e.live.ID() {
		return e.live.Meta(), nil
	}
	live, err := e.vault.Resume(id)
	if err != nil {
		return vault.Meta{}, err
	}
	if req, ok := e.proto.Reset(); ok {
		e.abandon(req.ID)
	}
	if cerr := e.live.Close(); cerr != nil {
		e.log.Warn("close previous session", zap.String("session", e.live.ID()), zap.Error(cerr))
	}
	e.live = live
	e.armed = nil
	e.proto.Bind(live)
	turns := live.Turns()
	e.proto.Restore(turns)

	meta := live.Meta()
	label := e.cfg.Instrument.Default
	if meta.Instrument != nil {
		label = meta.Instrument.Label
	}
	e.proto.SetDefaultLabel(label)

	e.lastShell = ""
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == vault.RoleDevShellCommand {
			e.lastShell = turns[i].Content
			break
		}
	}
	e.log.Info("session loaded", zap.String("session", id), zap.Int("turns", len(turns)))
	return meta, nil
}

// Close concludes the live session (auto-title) and abandons any request
// still in the mailbox.
func (e *Engine) Close() error {
	if req, ok := e.proto.Pending(); ok {
		e.abandon(req.ID)
	}
	return e.live.Close()
}

func (e *Engine) abandon(id string) {
	if e.mailbox == nil || id == "" {
		return
	}
	if err := e.mailbox.Abandon(context.Background(), id); err != nil {
		e.log.Warn("abandon mailbox request", zap.String("request", id), zap.Error(err))
	}
}
