package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scandoc/pdfocr/pool"
	"github.com/scandoc/pdfocr/task"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show system capabilities and today's conversion statistics",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

var infoGPU bool

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoGPU, "gpu", false, "assume recognition runs on a GPU")
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	sys := pool.DetectSystem(infoGPU)
	fmt.Fprintf(out, "cpu cores:           %d\n", sys.Cores)
	if sys.AvailableMB > 0 {
		fmt.Fprintf(out, "available memory:    %d MiB\n", sys.AvailableMB)
	} else {
		fmt.Fprintf(out, "available memory:    unknown\n")
	}
	fmt.Fprintf(out, "sibling workers:     %d\n", sys.SiblingWorkers)
	fmt.Fprintf(out, "gpu:                 %v\n", sys.GPU)
	fmt.Fprintf(out, "recommended workers: %d\n", pool.Recommend(sys))

	log, err := task.NewRunLog(cfg.LogDir)
	if err != nil {
		return err
	}
	stats, err := log.TodayStats()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "today: %d file(s), %d page(s), %.1fs total\n",
		stats.TotalFiles, stats.TotalPages, stats.TotalSeconds)
	return nil
}
