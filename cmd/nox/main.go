package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nox/internal/config"
	"nox/internal/i18n"
	"nox/internal/logging"
	"nox/internal/vault"
)

// app 持有各子命令共享的配置与 logger
// app holds what every subcommand shares.
type app struct {
	configPath string
	verbose    bool

	// chat flags
	dev    bool
	resume string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "nox",
		Short: "Conversational assistant with instrument dispatch and a session vault",
		Long: `nox talks to a local OpenAI-compatible model. When the model is unsure it
asks an instrument (another model, a human, or an automated router) and
resumes with the answer. Every session is kept in an append-only vault.

Run without arguments to start a chat.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: a.runChat,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config JSON/JSONC")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging to stderr")
	addChatFlags(root, a)

	root.AddCommand(
		newChatCmd(a),
		newSessionsCmd(a),
		newRouteCmd(a),
		newInitCmd(a),
	)
	return root
}

// setup loads configuration and builds the logger. Interactive chat logs
// to a file under the vault root unless --verbose or logging.file says
// otherwise, so diagnostics do not interleave with the conversation.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	i18n.Init("")

	opts := logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File, Verbose: a.verbose}
	if opts.File == "" && !a.verbose && isChat(cmd) {
		opts.File = filepath.Join(cfg.Storage.BaseDir, "logs", "nox.log")
	}
	logger, err := logging.New(opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.logger = logger
	return nil
}

func isChat(cmd *cobra.Command) bool {
	return !cmd.HasParent() || cmd.Name() == "chat"
}

func (a *app) openVault() (*vault.Vault, error) {
	v, err := vault.Open(a.cfg.Storage.BaseDir, vault.Options{Logger: a.logger})
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	return v, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
