package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"nox/internal/devshell"
	"nox/internal/dispatch"
	"nox/internal/markup"
	"nox/internal/vault"
)

// parseSlashCommand 解析 "/" 内建命令，返回命令名与参数
// parseSlashCommand splits "/name args" into a lower-cased name and args.
func parseSlashCommand(input string) (command string, args string, ok bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "/"))
	if rest == "" {
		return "", "", true
	}
	parts := strings.SplitN(rest, " ", 2)
	command = strings.ToLower(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	return command, args, true
}

var commands = map[string]bool{
	"help": true, "reset": true, "title": true, "rename": true, "sessions": true,
	"load": true, "merge": true, "archive": true, "show": true, "instrument": true,
	"instruments": true, "ask": true, "cancel": true, "shell": true, "dev": true,
}

// isCommand reports whether input names a built-in command. Other text
// starting with "/" (paths, for instance) is ordinary input.
func isCommand(input string) bool {
	name, _, ok := parseSlashCommand(input)
	return ok && (name == "" || commands[name])
}

const helpText = `Commands:
  /help
  /reset                 start a fresh session (history on disk is kept)
  /title <title>         rename the current session
  /rename <ref> <title>  rename a stored session
  /sessions [filter]     list sessions, newest first
  /load <ref>            resume a stored session
  /show <ref>            print a stored session
  /merge <ref> <ref>...  merge sessions into a new one
  /archive               archive every session except the most recently updated one
  /instrument [label|off]
  /instruments           show roster and automation status
  /ask [label] <query>   ask an instrument now
  /cancel                cancel the pending instrument request
  /dev <passphrase>      unlock developer mode
  /shell                 run the last proposed shell command (developer mode)`

// RunCommand 处理 "/" 内建命令；未知命令返回提示
// RunCommand handles a built-in slash command. Unknown commands return a
// hint rather than an error.
func (e *Engine) RunCommand(ctx context.Context, input string) (Reply, error) {
	command, args, ok := parseSlashCommand(input)
	if !ok {
		return Reply{}, fmt.Errorf("not a command: %q", input)
	}
	out, err := e.runSlashCommand(ctx, command, args)
	if err != nil {
		return Reply{Command: true}, err
	}
	out.Command = true
	return out, nil
}

func (e *Engine) runSlashCommand(ctx context.Context, command, args string) (Reply, error) {
	switch command {
	case "", "help":
		return Reply{Text: helpText}, nil

	case "reset":
		if err := e.Reset(); err != nil {
			return Reply{}, err
		}
		return Reply{Text: "started a fresh session"}, nil

	case "title":
		if args == "" {
			return Reply{Text: "usage: /title <title>"}, nil
		}
		if err := e.live.SetTitle(args); err != nil {
			return Reply{}, err
		}
		return Reply{Text: "title set: " + e.live.Meta().Title, Title: e.live.Meta().Title}, nil

	case "rename":
		ref, title, _ := strings.Cut(args, " ")
		if ref == "" || strings.TrimSpace(title) == "" {
			return Reply{Text: "usage: /rename <ref> <title>"}, nil
		}
		id, err := e.vault.Resolve(ref)
		if err != nil {
			return Reply{}, err
		}
		if id == e.live.ID() {
			if err := e.live.SetTitle(title); err != nil {
				return Reply{}, err
			}
			return Reply{Text: "renamed current session: " + e.live.Meta().Title}, nil
		}
		meta, err := e.vault.Rename(id, title)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: fmt.Sprintf("renamed %s: %s", meta.ID, meta.Title)}, nil

	case "sessions":
		res, err := e.vault.List(vault.ListOptions{Filter: args})
		if err != nil {
			return Reply{}, err
		}
		text := FormatListing(res.Sessions, e.live.ID())
		if len(res.Problems) > 0 {
			var b strings.Builder
			b.WriteString(text)
			fmt.Fprintf(&b, "\nskipped %d unreadable session(s):\n", len(res.Problems))
			for _, p := range res.Problems {
				e.log.Warn("unreadable session", zap.Error(p))
				fmt.Fprintf(&b, "  %v\n", p)
			}
			text = strings.TrimRight(b.String(), "\n")
		}
		return Reply{Text: text}, nil

	case "load":
		if args == "" {
			return Reply{Text: "usage: /load <ref>"}, nil
		}
		meta, err := e.Load(args)
		if err != nil {
			return Reply{}, err
		}
		text := fmt.Sprintf("loaded %s (%d turns)", meta.DisplayTitle(), meta.Turns)
		if req, ok := e.proto.LastAbandoned(); ok {
			text += fmt.Sprintf("\nthe last instrument query (%s) never got a result and was abandoned", labelOrAny(req.Label))
		}
		return Reply{Text: text}, nil

	case "show":
		ref := args
		if ref == "" {
			if e.live.ID() == "" {
				return Reply{Text: "nothing stored yet"}, nil
			}
			ref = e.live.ID()
		}
		sess, err := e.vault.Load(ref)
		if err != nil && !errors.Is(err, vault.ErrCorruptLog) {
			return Reply{}, err
		}
		text := FormatTranscript(sess)
		if err != nil {
			text += "\n(log is damaged: " + err.Error() + ")"
		}
		return Reply{Text: text}, nil

	case "merge":
		refs := strings.Fields(args)
		if len(refs) < 2 {
			return Reply{Text: "usage: /merge <ref> <ref>..."}, nil
		}
		meta, err := e.vault.Merge(refs, "")
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: fmt.Sprintf("merged %d sessions into %s", len(refs), meta.ID)}, nil

	case "archive":
		cutoff, err := e.vault.LatestCutoff()
		if err != nil {
			return Reply{}, err
		}
		moved, err := e.vault.ArchiveEarly(cutoff)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: fmt.Sprintf("archived %d sessions", len(moved))}, nil

	case "instrument":
		return e.instrumentCommand(args)

	case "instruments":
		return Reply{Text: e.describeInstruments()}, nil

	case "ask":
		return e.askCommand(ctx, args)

	case "cancel":
		req, ok := e.proto.Reset()
		if !ok {
			return Reply{Text: "no pending instrument request"}, nil
		}
		e.abandon(req.ID)
		return Reply{Text: "cancelled instrument request for " + labelOrAny(req.Label)}, nil

	case "dev":
		if e.devMode {
			return Reply{Text: "developer mode is on"}, nil
		}
		if strings.TrimSpace(e.cfg.Developer.Passphrase) == "" {
			return Reply{Text: "developer mode is not configured"}, nil
		}
		if !e.UnlockDev(args) {
			return Reply{Text: "wrong passphrase"}, nil
		}
		return Reply{Text: "developer mode on"}, nil

	case "shell":
		return e.shellCommand(ctx)

	default:
		return Reply{Text: fmt.Sprintf("unknown command /%s (try /help)", command)}, nil
	}
}

func (e *Engine) instrumentCommand(args string) (Reply, error) {
	label := strings.TrimSpace(args)
	switch strings.ToLower(label) {
	case "":
		return Reply{Text: "default instrument: " + labelOrNone(e.proto.DefaultLabel())}, nil
	case "off", "none":
		e.proto.SetDefaultLabel("")
		if err := e.live.SetInstrument(nil); err != nil {
			return Reply{}, err
		}
		return Reply{Text: "default instrument cleared"}, nil
	}
	e.proto.SetDefaultLabel(label)
	info := &vault.InstrumentInfo{Label: label, Automated: e.proto.Automation()}
	if err := e.live.SetInstrument(info); err != nil {
		return Reply{}, err
	}
	return Reply{Text: "default instrument: " + label}, nil
}

func labelOrNone(label string) string {
	if label == "" {
		return "(none)"
	}
	return label
}

func (e *Engine) describeInstruments() string {
	var b strings.Builder
	roster := e.proto.Roster()
	if len(roster) == 0 {
		b.WriteString("no instruments configured\n")
	} else {
		fmt.Fprintf(&b, "roster: %s\n", strings.Join(roster, ", "))
	}
	fmt.Fprintf(&b, "default: %s\n", labelOrNone(e.proto.DefaultLabel()))
	mode := "manual"
	if e.proto.Automation() {
		mode = "automated"
		if e.mailbox == nil {
			mode += " (no router attached)"
		}
	}
	fmt.Fprintf(&b, "mode: %s\n", mode)
	fmt.Fprintf(&b, "state: %s", e.proto.State())
	if req, ok := e.proto.Pending(); ok {
		fmt.Fprintf(&b, "\npending: %s %q", labelOrAny(req.Label), req.Query)
	}
	return b.String()
}

// askCommand handles "/ask [label] <query>" and "/ask <label>". The first
// word is taken as a label when it names a roster entry. A label alone arms
// a one-shot selection for the next turn.
func (e *Engine) askCommand(ctx context.Context, args string) (Reply, error) {
	if args == "" {
		return Reply{Text: "usage: /ask [label] <query>"}, nil
	}
	label, query := "", args
	first, rest, _ := strings.Cut(args, " ")
	if e.inRoster(first) {
		label, query = first, strings.TrimSpace(rest)
	}
	if query == "" {
		e.armed = &armedSelection{label: label}
		return Reply{Text: fmt.Sprintf("your next message goes to %s", label)}, nil
	}
	if _, pending := e.proto.Pending(); pending {
		return Reply{}, dispatch.ErrRequestPending
	}
	if err := e.persistUser(query); err != nil {
		return Reply{}, err
	}
	return e.dispatch(ctx, Reply{}, dispatch.Need{Query: query, Label: label, Reason: "explicit selection"})
}

func (e *Engine) inRoster(word string) bool {
	for _, label := range e.proto.Roster() {
		if strings.EqualFold(label, word) {
			return true
		}
	}
	return false
}

// shellCommand runs the last proposed shell command after the operator
// confirms it and records the outcome.
func (e *Engine) shellCommand(ctx context.Context) (Reply, error) {
	if !e.devMode {
		return Reply{Text: "developer mode is off"}, nil
	}
	if e.lastShell == "" {
		return Reply{Text: "no shell command proposed yet"}, nil
	}
	if e.shell == nil || e.confirm == nil {
		return Reply{Text: "shell execution is not available here"}, nil
	}
	cmd := e.lastShell
	prompt := fmt.Sprintf("run %q?", cmd)
	if risk := devshell.Assess(cmd, e.shell.Dir); risk.Confirm {
		prompt = fmt.Sprintf("run %q? warning: %s", cmd, risk.Reason)
	}
	ok, err := e.confirm(ctx, prompt)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return Reply{Text: "not run"}, nil
	}
	outcome, err := e.shell.Run(ctx, cmd)
	if err != nil {
		return Reply{}, err
	}
	transcript := outcome.Transcript()
	turn := vault.Turn{Role: vault.RoleDevShellResult, Content: markup.FormatShellResult(transcript), Timestamp: e.now().UTC()}
	if err := e.live.Append(turn); err != nil {
		return Reply{}, err
	}
	e.lastShell = ""
	e.log.Info("dev shell command ran", zap.String("command", cmd), zap.Int("exit", outcome.ExitCode))
	return Reply{Text: transcript}, nil
}
