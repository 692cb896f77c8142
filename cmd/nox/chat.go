package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nox/internal/automation"
	"nox/internal/contextmgr"
	"nox/internal/devshell"
	"nox/internal/engine"
	"nox/internal/i18n"
	"nox/internal/instrument"
	"nox/internal/provider"
	"nox/internal/tui"
	"nox/internal/vault"
)

const devAttemptEnv = "NOX_DEV_PASSPHRASE_ATTEMPT"

func addChatFlags(cmd *cobra.Command, a *app) {
	cmd.Flags().BoolVar(&a.dev, "dev", false, "unlock developer mode (prompts for the passphrase)")
	cmd.Flags().StringVar(&a.resume, "session", "", "resume a stored session by id or list index")
}

func newChatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat (default)",
		Args:  cobra.NoArgs,
		RunE:  a.runChat,
	}
	addChatFlags(cmd, a)
	return cmd
}

func mailboxPath(baseDir string) string {
	return filepath.Join(baseDir, "automation.db")
}

// startRouter opens the mailbox and serves it in-process until ctx ends.
func (a *app) startRouter(ctx context.Context, g *errgroup.Group) (*automation.Mailbox, error) {
	registry, err := instrument.FromConfig(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	mb, err := automation.Open(mailboxPath(a.cfg.Storage.BaseDir))
	if err != nil {
		return nil, err
	}
	router := automation.NewRouter(mb, registry, automation.RouterOptions{
		Poll:   time.Duration(a.cfg.Instrument.PollMS) * time.Millisecond,
		Logger: a.logger,
	})
	g.Go(func() error { return router.Run(ctx) })
	a.logger.Info("instrument router started", zap.Strings("instruments", registry.Labels()), zap.String("mailbox", mb.Path()))
	return mb, nil
}

func (a *app) runChat(cmd *cobra.Command, _ []string) (err error) {
	cfg := a.cfg
	out := cmd.OutOrStdout()
	theme := tui.DarkTheme()

	v, err := a.openVault()
	if err != nil {
		return err
	}
	backend := provider.NewOpenAIProvider(provider.OpenAIConfig{
		BaseURL:   cfg.Provider.BaseURL,
		APIKey:    cfg.Provider.APIKey,
		Model:     cfg.Provider.Model,
		TimeoutMS: cfg.Provider.TimeoutMS,
	})

	tty := isTerminal(os.Stdin)
	pretty := tty && isTerminal(os.Stdout)
	input, inputErr := newLineInput(filepath.Join(cfg.Storage.BaseDir, "repl.history"), tty)
	if inputErr != nil {
		fmt.Fprintln(os.Stderr, i18n.T("input.fallback", inputErr))
	}
	defer input.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve cwd: %w", err)
	}
	streamed := false
	opts := engine.Options{
		Config:      cfg,
		Tokenizer:   contextmgr.NewTokenizerForModel(cfg.Provider.Model),
		Selector:    selectorPrompt(input, out),
		Interactive: tty,
		Confirm:     confirmPrompt(input),
		Shell: &devshell.Runner{
			Dir:         cwd,
			Timeout:     time.Duration(cfg.Developer.ShellTimeoutMS) * time.Millisecond,
			OutputLimit: cfg.Developer.OutputLimitBytes,
		},
		Logger: a.logger,
	}
	if cfg.Runtime.Stream && pretty {
		opts.OnText = func(chunk string) {
			if !streamed {
				fmt.Fprintf(out, "%s ", tui.RoleLabel(vault.RoleAssistant, theme))
				streamed = true
			}
			fmt.Fprint(out, chunk)
		}
	}
	var mb *automation.Mailbox
	if cfg.Instrument.Automation {
		mb, err = a.startRouter(gctx, g)
		if err != nil {
			return fmt.Errorf("start instrument router: %w", err)
		}
		opts.Mailbox = mb
	}

	eng := engine.New(backend, v, opts)
	defer func() {
		if cerr := eng.Close(); cerr != nil && err == nil {
			err = cerr
		}
		cancel()
		if werr := g.Wait(); werr != nil && err == nil {
			err = werr
		}
		if mb != nil {
			_ = mb.Close()
		}
	}()

	if err := a.unlockDev(eng); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if a.resume != "" {
		meta, err := eng.Load(a.resume)
		if err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
		fmt.Fprintln(out, i18n.T("banner.resumed", meta.DisplayTitle(), meta.Turns))
	}

	fmt.Fprintln(out, i18n.T("banner.header", backend.CurrentModel(), instrumentMode(eng)))
	if eng.DevMode() {
		fmt.Fprintln(out, theme.NoticeStyle.Render(i18n.T("banner.dev")))
	}
	fmt.Fprintln(out, theme.MutedStyle.Render(i18n.T("banner.help")))

	for {
		prompt := i18n.T("prompt.input")
		if _, pending := eng.Protocol().Pending(); pending {
			prompt = i18n.T("prompt.result")
		}
		line, err := input.ReadLine(prompt)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				fmt.Fprintln(out)
				return nil
			case isInterrupt(err):
				continue
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return nil
		}

		streamed = false
		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		reply, err := eng.Turn(turnCtx, line)
		stop()
		printReply(out, reply, theme, pretty, streamed)
		if err != nil {
			fmt.Fprintln(out, theme.ErrorStyle.Render(i18n.T("reply.error", err)))
		}
	}
}

// unlockDev tries NOX_DEV_PASSPHRASE_ATTEMPT first, then the --dev prompt.
func (a *app) unlockDev(eng *engine.Engine) error {
	attempt, fromEnv := os.LookupEnv(devAttemptEnv)
	if !fromEnv && !a.dev {
		return nil
	}
	if strings.TrimSpace(a.cfg.Developer.Passphrase) == "" {
		return errors.New(i18n.T("dev.unconfigured"))
	}
	if !fromEnv {
		var err error
		attempt, err = readPassphrase(i18n.T("prompt.passphrase"))
		if err != nil {
			return fmt.Errorf("developer mode: %w", err)
		}
	}
	if !eng.UnlockDev(attempt) {
		return errors.New(i18n.T("dev.wrong"))
	}
	return nil
}

func instrumentMode(eng *engine.Engine) string {
	p := eng.Protocol()
	roster := p.Roster()
	if len(roster) == 0 {
		return i18n.T("instruments.none")
	}
	key := "instruments.manual"
	if p.Automation() {
		key = "instruments.auto"
	}
	return i18n.T(key, strings.Join(roster, ", "))
}

func printReply(out io.Writer, reply engine.Reply, theme tui.Theme, pretty, streamed bool) {
	if reply.Command {
		if reply.Text != "" {
			fmt.Fprintln(out, reply.Text)
		}
	} else if reply.Text != "" || reply.FollowUp != "" {
		if streamed {
			fmt.Fprintln(out)
		} else {
			printAssistant(out, reply.Text, theme, pretty)
		}
	}
	if reply.Title != "" && !reply.Command {
		fmt.Fprintln(out, theme.MutedStyle.Render(i18n.T("reply.title", reply.Title)))
	}
	if req := reply.Dispatched; req != nil {
		label := req.Label
		if label == "" {
			label = i18n.T("reply.any")
		}
		fmt.Fprintf(out, "%s %s\n", tui.RoleLabel(vault.RoleInstrumentQuery, theme), i18n.T("reply.asked", label, req.Query))
	}
	if reply.FollowUp != "" && !streamed {
		printAssistant(out, reply.FollowUp, theme, pretty)
	}
	for _, c := range reply.ShellCommands {
		fmt.Fprintf(out, "%s %s  %s\n", tui.RoleLabel(vault.RoleDevShellCommand, theme), c, theme.MutedStyle.Render(i18n.T("reply.shell")))
	}
	if reply.Notice != "" {
		fmt.Fprintln(out, theme.NoticeStyle.Render(reply.Notice))
	}
}

func printAssistant(out io.Writer, text string, theme tui.Theme, pretty bool) {
	if text == "" {
		return
	}
	label := tui.RoleLabel(vault.RoleAssistant, theme)
	if pretty {
		fmt.Fprintln(out, label)
		fmt.Fprintln(out, tui.RenderMarkdown(text, terminalWidth()))
		return
	}
	fmt.Fprintf(out, "%s %s\n", label, text)
}
