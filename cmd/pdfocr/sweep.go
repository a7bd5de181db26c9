package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scandoc/pdfocr/checkpoint"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale conversion checkpoints and their temp files",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

var sweepMaxAge time.Duration

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().DurationVar(&sweepMaxAge, "max-age", 24*time.Hour, "remove checkpoints older than this")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := checkpoint.NewStore(cfg.CheckpointDir)
	if err != nil {
		return err
	}
	cleaned, err := store.Sweep(sweepMaxAge)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d checkpoint(s)\n", cleaned)

	incomplete, err := store.Incomplete()
	if err != nil {
		return err
	}
	for _, c := range incomplete {
		fmt.Fprintf(cmd.OutOrStdout(), "resumable: %s (%d%% done)\n", c.InputPath, c.ProgressPercent())
	}
	return nil
}
