package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nox/internal/config"
)

func newInitCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a project config scaffold (./.nox/config.json)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			path, err := config.InitProjectConfigScaffold(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "project config: %s\n", path)
			return nil
		},
	}
}
