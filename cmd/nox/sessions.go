package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nox/internal/engine"
	"nox/internal/export"
	"nox/internal/tui"
	"nox/internal/vault"
)

const formatText = "text"

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session", "s"},
		Short:   "List, inspect and maintain stored sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(a),
		newSessionsShowCmd(a),
		newSessionsRenameCmd(a),
		newSessionsMergeCmd(a),
		newSessionsArchiveCmd(a),
		newSessionsExportCmd(a),
		newSessionsBrowseCmd(a),
		newSessionsRebuildCmd(a),
	)
	return cmd
}

func newSessionsListCmd(a *app) *cobra.Command {
	var (
		filter   string
		limit    int
		archived bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			res, err := v.List(vault.ListOptions{Filter: filter, Limit: limit, Archived: archived})
			if err != nil {
				return err
			}
			a.reportProblems(res.Problems)
			if len(res.Sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), engine.FormatListing(res.Sessions, ""))
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "only sessions whose title or content contains this text")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many sessions")
	cmd.Flags().BoolVar(&archived, "archived", false, "list the archive instead")
	return cmd
}

func newSessionsShowCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <id|index>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			sess, err := a.loadSession(v, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == formatText {
				fmt.Fprint(out, engine.FormatTranscript(sess))
				return nil
			}
			exp, err := export.ByName(format)
			if err != nil {
				return err
			}
			return exp.Export(sess, out)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "text, or one of: "+strings.Join(export.Formats(), ", "))
	return cmd
}

func newSessionsRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id|index> <title...>",
		Short: "Set a custom session title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			id, err := v.Resolve(args[0])
			if err != nil {
				return err
			}
			meta, err := v.Rename(id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %s to %q\n", meta.ID, meta.Title)
			return nil
		},
	}
}

func newSessionsMergeCmd(a *app) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "merge <id|index> <id|index>...",
		Short: "Merge sessions into a new one, ordered by turn time",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			meta, err := v.Merge(args, title)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d sessions into %s (%d turns)\n", len(args), meta.ID, meta.Turns)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "title of the merged session")
	return cmd
}

func newSessionsArchiveCmd(a *app) *cobra.Command {
	var (
		before     string
		keepLatest bool
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move earlier sessions to the archive (all but the latest by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			var cutoff time.Time
			switch {
			case before != "":
				cutoff, err = parseCutoff(before)
			case keepLatest:
				cutoff, err = v.LatestCutoff()
			default:
				return errors.New("nothing selected: pass --before or keep --keep-latest")
			}
			if err != nil {
				return err
			}
			moved, err := v.ArchiveEarly(cutoff)
			out := cmd.OutOrStdout()
			for _, id := range moved {
				fmt.Fprintf(out, "archived %s\n", id)
			}
			if err != nil {
				return err
			}
			if len(moved) == 0 {
				fmt.Fprintln(out, "nothing to archive")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "archive sessions last updated before this date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().BoolVar(&keepLatest, "keep-latest", true, "archive everything except the most recently updated session")
	return cmd
}

// parseCutoff accepts a local date or a full RFC 3339 timestamp.
func parseCutoff(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --before %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func newSessionsExportCmd(a *app) *cobra.Command {
	var (
		format string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export <id|index>...",
		Short: "Write sessions to files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := export.ByName(format)
			if err != nil {
				return err
			}
			v, err := a.openVault()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			for _, ref := range args {
				path, err := a.exportOne(v, exp, ref, outDir)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "one of: "+strings.Join(export.Formats(), ", "))
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	return cmd
}

func (a *app) exportOne(v *vault.Vault, exp export.Exporter, ref, dir string) (path string, err error) {
	sess, err := a.loadSession(v, ref)
	if err != nil {
		return "", err
	}
	path = filepath.Join(dir, sess.Meta.ID+"."+exp.Extension())
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := exp.Export(sess, f); err != nil {
		return "", fmt.Errorf("export %s: %w", sess.Meta.ID, err)
	}
	return path, nil
}

func newSessionsBrowseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse sessions in a full-screen viewer",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			return tui.Run(v)
		},
	}
}

func newSessionsRebuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Regenerate the per-day rollup files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.openVault()
			if err != nil {
				return err
			}
			n, err := v.RebuildRollups()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d day rollups\n", n)
			return nil
		},
	}
}

// loadSession tolerates a corrupt log: the readable prefix is still shown.
func (a *app) loadSession(v *vault.Vault, ref string) (vault.Session, error) {
	sess, err := v.Load(ref)
	if err != nil {
		if !errors.Is(err, vault.ErrCorruptLog) {
			return vault.Session{}, err
		}
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return sess, nil
}

func (a *app) reportProblems(problems []error) {
	for _, p := range problems {
		a.logger.Warn("skipped unreadable session", zap.Error(p))
		fmt.Fprintf(os.Stderr, "warning: %v\n", p)
	}
}
