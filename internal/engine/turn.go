package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"nox/internal/automation"
	"nox/internal/chat"
	"nox/internal/contextmgr"
	"nox/internal/dispatch"
	"nox/internal/markup"
	"nox/internal/provider"
	"nox/internal/vault"
)

// Turn 处理一条操作者输入：结果提交、斜杠命令或普通对话
// Turn handles one line of operator input. While a request is pending the
// input is a result submission; slash commands run as commands; anything
// else is a conversation turn.
func (e *Engine) Turn(ctx context.Context, input string) (Reply, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Reply{}, nil
	}
	if isCommand(input) {
		return e.RunCommand(ctx, input)
	}
	if req, ok := e.proto.Pending(); ok {
		reply, err := e.SubmitResult(ctx, input)
		if errors.Is(err, dispatch.ErrProtocolMismatch) {
			reply.Waiting = true
			reply.Dispatched = &req
			reply.Notice = fmt.Sprintf("expected a result block such as %s, or /cancel",
				markup.FormatResult(req.Label, "..."))
		}
		return reply, err
	}
	return e.converse(ctx, input)
}

func (e *Engine) converse(ctx context.Context, input string) (Reply, error) {
	resp, err := e.complete(ctx, e.contextMessages(chat.User(input)))
	if err != nil {
		// Nothing is persisted and dispatch stays idle.
		return Reply{}, fmt.Errorf("generate reply: %w", err)
	}
	p := e.parseReply(resp.Content)

	if err := e.persistUser(input); err != nil {
		return Reply{}, err
	}
	reply := Reply{Text: p.visible, Title: p.title, ShellCommands: p.shells}
	if err := e.recordReply(p); err != nil {
		return reply, err
	}

	armed := e.armed
	e.armed = nil
	score, err := e.scorer.Score(ctx, input, p.text)
	if err != nil {
		e.log.Warn("scoring failed", zap.Error(err))
		score = 1
	}
	e.log.Debug("reply scored", zap.Float64("score", score), zap.Float64("threshold", e.cfg.Instrument.ScoreThreshold))
	if armed == nil && !dispatch.Detect(score, e.cfg.Instrument.ScoreThreshold, p.text) {
		return reply, nil
	}

	need := dispatch.Need{Query: input, Reason: fmt.Sprintf("score %.2f", score)}
	if p.query != nil && strings.TrimSpace(p.query.Body) != "" {
		need.Query, need.Label, need.Reason = p.query.Body, p.query.Label, "reply asked for an instrument"
	}
	if armed != nil {
		need.Query, need.Reason = input, "explicit selection"
		if armed.label != "" {
			need.Label = armed.label
		}
	}
	return e.dispatch(ctx, reply, need)
}

// dispatch raises need and, with automation on, drives the request through
// the mailbox.
func (e *Engine) dispatch(ctx context.Context, reply Reply, need dispatch.Need) (Reply, error) {
	req, err := e.proto.Raise(ctx, need)
	switch {
	case errors.Is(err, dispatch.ErrNoInstrument):
		reply.Notice = "an instrument could help here, but none is configured"
		return reply, nil
	case err != nil:
		return reply, err
	}
	reply.Dispatched = &req
	reply.Waiting = true

	if !e.proto.Automation() {
		reply.Notice = fmt.Sprintf("instrument query for %s is pending: paste the answer, or /cancel", labelOrAny(req.Label))
		return reply, nil
	}
	if e.mailbox == nil {
		reply.Notice = fmt.Sprintf("no router attached: paste %s, or /cancel", markup.FormatResult(req.Label, "..."))
		return reply, nil
	}

	follow, err := e.automate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return reply, err
		}
		e.log.Warn("automated instrument call failed", zap.String("request", req.ID), zap.Error(err))
		reply.Notice = fmt.Sprintf("automated call to %s failed (%v): paste the result manually, or /cancel", labelOrAny(req.Label), err)
		return reply, nil
	}
	reply.Waiting = false
	reply.FollowUp = follow.Text
	if follow.Title != "" {
		reply.Title = follow.Title
	}
	reply.ShellCommands = append(reply.ShellCommands, follow.ShellCommands...)
	return reply, nil
}

func labelOrAny(label string) string {
	if label == "" {
		return "any instrument"
	}
	return label
}

// automate posts req to the mailbox, waits for the router and feeds the
// answer back through the strict result path. On failure the request stays
// pending for manual entry.
func (e *Engine) automate(ctx context.Context, req dispatch.Request) (Reply, error) {
	entry := automation.Entry{ID: req.ID, SessionID: e.live.ID(), Label: req.Label, Query: req.Query}
	if err := e.mailbox.Post(ctx, entry); err != nil {
		return Reply{}, err
	}
	waitCtx := ctx
	if ms := e.cfg.Instrument.WaitTimeoutMS; ms > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}
	got, err := e.mailbox.Await(waitCtx, req.ID, time.Duration(e.cfg.Instrument.PollMS)*time.Millisecond)
	if err != nil {
		e.abandon(req.ID)
		return Reply{}, err
	}
	return e.SubmitResult(ctx, got.Result)
}

// SubmitResult 将 text 作为 pending 请求的结果并恢复生成
// SubmitResult consumes text as the pending request's result and resumes
// generation. Without a pending request the text is kept as an ordinary
// user turn and ErrNoPendingRequest is returned.
func (e *Engine) SubmitResult(ctx context.Context, text string) (Reply, error) {
	res, err := e.proto.Submit(text)
	if errors.Is(err, dispatch.ErrNoPendingRequest) {
		if perr := e.persistUser(text); perr != nil {
			return Reply{}, errors.Join(err, perr)
		}
		return Reply{}, err
	}
	if err != nil {
		return Reply{}, err
	}
	defer e.proto.Settle()

	resp, err := e.complete(ctx, e.followUpMessages())
	if err != nil {
		return Reply{}, fmt.Errorf("resume after result %s: %w", res.RequestID, err)
	}
	p := e.parseReply(resp.Content)
	reply := Reply{Text: p.visible, Title: p.title, ShellCommands: p.shells}
	if err := e.recordReply(p); err != nil {
		return reply, err
	}
	return reply, nil
}

// followUpMessages is the stored context with the follow-up prompt placed
// right before the result turn.
func (e *Engine) followUpMessages() []chat.Message {
	msgs := e.contextMessages()
	if len(msgs) == 0 {
		return []chat.Message{chat.System(FollowUpPrompt)}
	}
	out := make([]chat.Message, 0, len(msgs)+1)
	out = append(out, msgs[:len(msgs)-1]...)
	out = append(out, chat.System(FollowUpPrompt), msgs[len(msgs)-1])
	return out
}

func (e *Engine) systemPrompt() string {
	prompt := strings.TrimSpace(e.cfg.Runtime.SystemPrompt)
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	return prompt
}

// contextMessages maps the stored turns to chat messages, appends extra and
// windows the result to the token budget.
func (e *Engine) contextMessages(extra ...chat.Message) []chat.Message {
	turns := e.live.Turns()
	system := e.systemPrompt()
	if len(turns) > 0 && turns[0].Role == vault.RoleSystem {
		system = turns[0].Content
		turns = turns[1:]
	}
	if e.devMode {
		system += "\n\n" + devModePrompt
	}
	msgs := make([]chat.Message, 0, len(turns)+len(extra)+1)
	msgs = append(msgs, chat.System(system))
	for _, t := range turns {
		if m, ok := messageFor(t); ok {
			msgs = append(msgs, m)
		}
	}
	msgs = append(msgs, extra...)
	res := contextmgr.Window(msgs, e.cfg.Runtime.ContextTokenLimit, e.tok)
	if res.Dropped > 0 {
		e.log.Debug("context windowed", zap.Int("dropped", res.Dropped), zap.Int("tokens", res.Tokens))
	}
	return res.Messages
}

// messageFor maps a stored turn to the role the backend sees: instrument
// queries and shell commands came from the assistant, their results come
// back as user input.
func messageFor(t vault.Turn) (chat.Message, bool) {
	switch t.Role {
	case vault.RoleUser, vault.RoleInstrumentResult, vault.RoleDevShellResult:
		return chat.User(t.Content), true
	case vault.RoleAssistant, vault.RoleInstrumentQuery:
		return chat.Assistant(t.Content), true
	case vault.RoleDevShellCommand:
		return chat.Assistant(markup.FormatShellCommand(t.Content)), true
	case vault.RoleSystem:
		return chat.System(t.Content), true
	}
	return chat.Message{}, false
}

// complete calls the backend, retrying unavailable backends with
// exponential backoff. Timeouts are surfaced immediately.
func (e *Engine) complete(ctx context.Context, msgs []chat.Message) (provider.ChatResponse, error) {
	rt := e.cfg.Runtime
	req := provider.ChatRequest{
		Model:     e.backend.CurrentModel(),
		Messages:  msgs,
		MaxTokens: rt.MaxTokens,
		Stream:    rt.Stream,
	}
	temperature := rt.Temperature
	req.Temperature = &temperature
	backoff := time.Duration(rt.RetryBackoffMS) * time.Millisecond
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := backoff * time.Duration(1<<(attempt-1))
			e.log.Warn("backend unavailable, retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay))
			if err := e.sleep(ctx, delay); err != nil {
				return provider.ChatResponse{}, err
			}
		}
		cb, flush := e.callbacks()
		resp, err := e.backend.Chat(ctx, req, cb)
		if err == nil {
			flush()
			return resp, nil
		}
		if !errors.Is(err, provider.ErrBackendUnavailable) || attempt >= rt.MaxRetries || ctx.Err() != nil {
			return provider.ChatResponse{}, err
		}
	}
}

// callbacks streams public text to OnText, holding back reasoning blocks
// when they are being stripped. flush emits what the stream still holds.
func (e *Engine) callbacks() (cb *provider.StreamCallbacks, flush func()) {
	if e.onText == nil {
		return nil, func() {}
	}
	if !e.cfg.Runtime.StripReasoning {
		return &provider.StreamCallbacks{OnTextChunk: e.onText}, func() {}
	}
	stream := &markup.PublicStream{}
	cb = &provider.StreamCallbacks{OnTextChunk: func(chunk string) {
		if out := stream.Push(chunk); out != "" {
			e.onText(out)
		}
	}}
	return cb, func() {
		if out := stream.Flush(); out != "" {
			e.onText(out)
		}
	}
}

type parsedReply struct {
	text    string // reply with reasoning stripped, markers intact
	visible string
	title   string
	shells  []string
	query   *markup.Segment
}

func (e *Engine) parseReply(raw string) parsedReply {
	text := raw
	if e.cfg.Runtime.StripReasoning {
		text = markup.StripReasoning(text)
	}
	segs := markup.Lex(text)
	p := parsedReply{text: text, visible: markup.CleanReply(text)}
	if seg, ok := markup.Find(segs, markup.TitleMarker); ok {
		p.title = strings.TrimSpace(seg.Body)
	}
	if seg, ok := markup.Find(segs, markup.QueryMarker); ok {
		p.query = &seg
	}
	if e.devMode {
		for _, seg := range markup.All(segs, markup.ShellMarker) {
			if cmd := strings.TrimSpace(seg.Body); cmd != "" {
				p.shells = append(p.shells, cmd)
			}
		}
	}
	return p
}

func (e *Engine) ensureSystemTurn() error {
	if len(e.live.Turns()) > 0 {
		return nil
	}
	return e.live.Append(vault.Turn{Role: vault.RoleSystem, Content: e.systemPrompt(), Timestamp: e.now().UTC()})
}

func (e *Engine) persistUser(input string) error {
	if err := e.ensureSystemTurn(); err != nil {
		return err
	}
	t := vault.Turn{Role: vault.RoleUser, Content: input, Timestamp: e.now().UTC()}
	if e.cfg.Privacy.Sanitize {
		t.Content = e.sanitizer.Sanitize(input)
		t.Sanitized = true
	}
	return e.live.Append(t)
}

// recordReply stores the visible reply, applies a title marker and records
// proposed shell commands.
func (e *Engine) recordReply(p parsedReply) error {
	if p.visible != "" {
		if err := e.live.Append(vault.Turn{Role: vault.RoleAssistant, Content: p.visible, Timestamp: e.now().UTC()}); err != nil {
			return err
		}
	}
	if p.title != "" {
		if err := e.live.SetTitle(p.title); err != nil {
			e.log.Warn("apply title marker", zap.String("title", p.title), zap.Error(err))
		}
	}
	for _, cmd := range p.shells {
		if err := e.live.Append(vault.Turn{Role: vault.RoleDevShellCommand, Content: cmd, Timestamp: e.now().UTC()}); err != nil {
			return err
		}
		e.lastShell = cmd
	}
	return nil
}
