package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nox/internal/automation"
	"nox/internal/i18n"
	"nox/internal/instrument"
)

func newRouteCmd(a *app) *cobra.Command {
	var (
		once        bool
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Answer queued instrument requests from the automation mailbox",
		Long: `route serves the automation mailbox outside a chat process. Each pending
request is sent to its instrument and the formatted result is written back
for the waiting chat to pick up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := instrument.FromConfig(a.cfg, a.logger)
			if err != nil {
				return err
			}
			mb, err := automation.Open(mailboxPath(a.cfg.Storage.BaseDir))
			if err != nil {
				return err
			}
			defer mb.Close()

			router := automation.NewRouter(mb, registry, automation.RouterOptions{
				Poll:        time.Duration(a.cfg.Instrument.PollMS) * time.Millisecond,
				Concurrency: concurrency,
				Logger:      a.logger,
			})
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if once {
				n, err := router.Drain(ctx)
				fmt.Fprintln(out, i18n.T("router.handled", n))
				return err
			}
			a.logger.Info("routing", zap.String("mailbox", mb.Path()), zap.Strings("instruments", registry.Labels()))
			fmt.Fprintln(out, i18n.T("router.started", mb.Path()))
			return router.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "handle what is pending now, then exit")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "requests answered in parallel")
	return cmd
}
