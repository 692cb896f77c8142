package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nox/internal/markup"
	"nox/internal/sanitize"
	"nox/internal/vault"
)

// TurnLog 接收协议产生的 turn；*vault.Live 满足该接口
// TurnLog receives the turns the protocol emits. *vault.Live satisfies it.
type TurnLog interface {
	Append(vault.Turn) error
}

// Selector asks the operator to pick a label from the roster. An empty
// label with a nil error means "send unlabelled".
type Selector func(ctx context.Context, roster []string) (string, error)

// Options 协议配置，由调用方显式构造
type Options struct {
	Roster       []string
	DefaultLabel string
	Automation   bool
	Interactive  bool
	Anonymize    bool
	Sanitizer    *sanitize.Sanitizer
	Selector     Selector
	Log          TurnLog
	Logger       *zap.Logger
	Now          func() time.Time
}

// Protocol 是单个会话的 Dispatch Protocol 状态机；同一时刻最多一个 pending 请求
// Protocol is the per-session Dispatch Protocol. At most one request is
// pending at any time.
type Protocol struct {
	mu sync.Mutex

	roster       []string
	defaultLabel string
	automation   bool
	interactive  bool
	anonymize    bool
	sanitizer    *sanitize.Sanitizer
	selector     Selector
	turns        TurnLog
	log          *zap.Logger
	now          func() time.Time

	state     State
	pending   *Request
	last      *Request
	abandoned *Request
}

// New creates an idle protocol.
func New(opts Options) *Protocol {
	p := &Protocol{
		roster:       cleanRoster(opts.Roster),
		defaultLabel: strings.TrimSpace(opts.DefaultLabel),
		automation:   opts.Automation,
		interactive:  opts.Interactive,
		anonymize:    opts.Anonymize,
		sanitizer:    opts.Sanitizer,
		selector:     opts.Selector,
		turns:        opts.Log,
		log:          opts.Logger,
		now:          opts.Now,
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

func cleanRoster(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, label := range in {
		label = strings.TrimSpace(label)
		key := strings.ToLower(label)
		if label == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, label)
	}
	return out
}

// Detect 判断是否需要求助 instrument：自评分不高于阈值，或回复中请求了 instrument
// Detect reports whether a candidate reply needs an instrument: its score is
// at or below threshold, or the reply itself asks for one.
func Detect(score, threshold float64, reply string) bool {
	return score <= threshold || markup.WantsInstrument(reply)
}

// Bind points the protocol at the log of the current live session.
func (p *Protocol) Bind(log TurnLog) {
	p.mu.Lock()
	p.turns = log
	p.mu.Unlock()
}

// Automation reports whether requests wait for the automation collaborator.
func (p *Protocol) Automation() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.automation
}

func (p *Protocol) setState(s State) {
	if p.state != s {
		p.log.Debug("dispatch transition", zap.Stringer("from", p.state), zap.Stringer("to", s))
	}
	p.state = s
}

// Raise 发起一次 instrument 请求：解析标签、脱敏、写入 query turn
// Raise walks Idle → NeedDetected → LabelResolved → QueryEmitted → Waiting*.
// With a request already pending it fails with ErrRequestPending and leaves
// every piece of state untouched. Any failure before the query turn is
// written returns the protocol to Idle.
func (p *Protocol) Raise(ctx context.Context, need Need) (Request, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending != nil {
		return Request{}, ErrRequestPending
	}
	p.setState(NeedDetected)

	query := strings.TrimSpace(need.Query)
	if query == "" {
		p.setState(Idle)
		return Request{}, ErrEmptyQuery
	}

	label, err := p.resolveLabel(ctx, need.Label)
	if err != nil {
		p.setState(Idle)
		return Request{}, err
	}
	p.setState(LabelResolved)

	if p.turns == nil {
		p.setState(Idle)
		return Request{}, fmt.Errorf("dispatch: no session log bound")
	}
	body := p.sanitizer.Sanitize(query)
	turn := vault.Turn{
		Role:      vault.RoleInstrumentQuery,
		Content:   markup.FormatQuery(label, body),
		Timestamp: p.now().UTC(),
		Sanitized: true,
	}
	if err := p.turns.Append(turn); err != nil {
		p.setState(Idle)
		return Request{}, fmt.Errorf("dispatch: record query: %w", err)
	}
	p.setState(QueryEmitted)

	req := &Request{
		ID:        uuid.NewString(),
		Label:     label,
		Query:     body,
		Status:    StatusPending,
		Automated: p.automation,
		RaisedAt:  turn.Timestamp,
	}
	p.pending = req
	if p.automation {
		p.setState(WaitingAutomation)
	} else {
		p.setState(WaitingManual)
	}
	p.log.Info("instrument request raised",
		zap.String("request", req.ID),
		zap.String("label", label),
		zap.Bool("automated", req.Automated),
		zap.String("reason", need.Reason))
	return *req, nil
}

// resolveLabel: explicit > session default > interactive choice > unlabelled
// when a roster exists. Call with p.mu held.
func (p *Protocol) resolveLabel(ctx context.Context, explicit string) (string, error) {
	if label := strings.TrimSpace(explicit); label != "" {
		return label, nil
	}
	if p.defaultLabel != "" {
		return p.defaultLabel, nil
	}
	if len(p.roster) == 0 {
		return "", ErrNoInstrument
	}
	if p.interactive && p.selector != nil {
		label, err := p.selector(ctx, append([]string(nil), p.roster...))
		if err != nil {
			return "", fmt.Errorf("dispatch: select instrument: %w", err)
		}
		return strings.TrimSpace(label), nil
	}
	return "", nil
}

// Submit 将下一条输入绑定为 pending 请求的结果
// Submit binds raw as the result of the pending request. In automation mode
// raw must be exactly one result marker, otherwise ErrProtocolMismatch is
// returned with the state unchanged; manual mode accepts free text. A
// request is consumed once: further submissions fail with
// ErrNoPendingRequest.
func (p *Protocol) Submit(raw string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req := p.pending
	if req == nil || !p.state.Waiting() {
		return Result{}, ErrNoPendingRequest
	}

	var text string
	if p.state == WaitingAutomation {
		seg, ok := markup.ParseResult(raw)
		if !ok {
			return Result{}, ErrProtocolMismatch
		}
		if seg.Label != "" && req.Label != "" && !strings.EqualFold(seg.Label, req.Label) {
			return Result{}, fmt.Errorf("%w: result labelled %q, request %q", ErrProtocolMismatch, seg.Label, req.Label)
		}
		text = seg.Body
	} else {
		text = markup.UnwrapResult(raw)
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: empty result", ErrProtocolMismatch)
	}

	sanitized := false
	if p.anonymize {
		text = p.sanitizer.Sanitize(text)
		sanitized = true
	}
	if p.turns == nil {
		return Result{}, fmt.Errorf("dispatch: no session log bound")
	}
	turn := vault.Turn{
		Role:      vault.RoleInstrumentResult,
		Content:   markup.FormatResult(req.Label, text),
		Timestamp: p.now().UTC(),
		Sanitized: sanitized,
	}
	if err := p.turns.Append(turn); err != nil {
		return Result{}, fmt.Errorf("dispatch: record result: %w", err)
	}

	req.Consumed = true
	if p.state == WaitingAutomation {
		req.Status = StatusAutomated
	} else {
		req.Status = StatusManuallyHandled
	}
	res := Result{RequestID: req.ID, Label: req.Label, Raw: raw, Text: text, Automated: req.Automated}
	p.last = req
	p.pending = nil
	p.setState(ResultConsumed)
	p.log.Info("instrument result consumed", zap.String("request", req.ID), zap.String("status", string(req.Status)))
	return res, nil
}

// Settle returns to Idle once generation has resumed after a result.
func (p *Protocol) Settle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == ResultConsumed {
		p.setState(Idle)
	}
}

// Reset 取消 pending 请求并回到 Idle；已写入的 query turn 保留在日志中
// Reset discards any pending request, marking it cancelled, and returns to
// Idle. Nothing is written; the query turn already logged stays there.
func (p *Protocol) Reset() (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var (
		cancelled Request
		ok        bool
	)
	if p.pending != nil {
		p.pending.Status = StatusCancelled
		p.last = p.pending
		cancelled, ok = *p.pending, true
		p.pending = nil
		p.log.Info("instrument request cancelled", zap.String("request", cancelled.ID))
	}
	p.setState(Idle)
	return cancelled, ok
}

// Restore 重新载入会话时调用：结尾未得到结果的 query 记为 abandoned，不阻塞新请求
// Restore rebuilds protocol state from a reloaded session. A trailing query
// with no result after it is recorded as abandoned; it never blocks new
// turns. The protocol ends Idle.
func (p *Protocol) Restore(turns []vault.Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = nil
	p.abandoned = nil
	p.setState(Idle)
	for i := len(turns) - 1; i >= 0; i-- {
		switch turns[i].Role {
		case vault.RoleInstrumentResult:
			return
		case vault.RoleInstrumentQuery:
			req := &Request{Status: StatusAbandoned, RaisedAt: turns[i].Timestamp}
			if seg, ok := markup.Find(markup.Lex(turns[i].Content), markup.QueryMarker); ok {
				req.Label, req.Query = seg.Label, seg.Body
			} else {
				req.Query = strings.TrimSpace(turns[i].Content)
			}
			p.abandoned = req
			p.last = req
			p.log.Info("pending request abandoned on reload", zap.String("label", req.Label))
			return
		}
	}
}

// Pending returns the request awaiting a result, if any.
func (p *Protocol) Pending() (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return Request{}, false
	}
	return *p.pending, true
}

// Last returns the most recently finished request: consumed, cancelled or
// abandoned.
func (p *Protocol) Last() (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Request{}, false
	}
	return *p.last, true
}

// LastAbandoned returns the request Restore found without a result.
func (p *Protocol) LastAbandoned() (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned == nil {
		return Request{}, false
	}
	return *p.abandoned, true
}

// State returns the current state.
func (p *Protocol) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetDefaultLabel sets the session's default instrument; "" clears it.
func (p *Protocol) SetDefaultLabel(label string) {
	p.mu.Lock()
	p.defaultLabel = strings.TrimSpace(label)
	p.mu.Unlock()
}

// DefaultLabel returns the session's default instrument.
func (p *Protocol) DefaultLabel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaultLabel
}

// Roster returns a copy of the configured roster.
func (p *Protocol) Roster() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.roster...)
}
