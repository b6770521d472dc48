package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/splax/sitedeploy/internal/retention"
)

func newSweepCmd(root *rootOptions) *cobra.Command {
	var (
		dir    string
		window time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired deploy output once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cli()
			if !cmd.Flags().Changed("root") {
				dir = cfg.OutputRoot
			}
			if !cmd.Flags().Changed("window") {
				window = cfg.RetentionWindow
			}
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			sweeper := retention.New(dir, 0, window, log)
			if sweeper == nil {
				return errors.New("--root is required")
			}
			report := sweeper.Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d directories, freed %d bytes, %d errors\n", report.Removed, report.FreedBytes, report.Errors)
			if report.Errors > 0 {
				return errors.New("sweep finished with errors")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "root", "", "output root to sweep (default $DEPLOY_OUTPUT_ROOT)")
	cmd.Flags().DurationVar(&window, "window", retention.DefaultWindow, "retention window")
	return cmd
}
