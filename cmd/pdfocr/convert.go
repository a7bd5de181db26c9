package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scandoc/pdfocr/task"
)

var convertCmd = &cobra.Command{
	Use:   "convert <file|dir> [more...]",
	Short: "Convert scanned PDFs into searchable PDFs",
	Long: `Convert one or more scanned PDFs. Directory arguments are expanded to
the PDFs they contain. Each output lands next to its input (or in
--output-dir) with the configured suffix. An interrupted conversion
resumes where it stopped when run again with the same settings.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

var (
	convertOutputDir string
	convertSuffix    string
	convertLangs     []string
	convertDPI       int
	convertWorkers   int
	convertGPU       bool
	convertNoSkip    bool
	convertNoFall    bool
	convertRecursive bool
)

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringVarP(&convertOutputDir, "output-dir", "o", "", "output directory (default: next to input)")
	convertCmd.Flags().StringVar(&convertSuffix, "suffix", "", "output filename suffix (default \"_ocr\")")
	convertCmd.Flags().StringSliceVarP(&convertLangs, "lang", "l", nil, "recognition languages (e.g. eng,chi_sim)")
	convertCmd.Flags().IntVar(&convertDPI, "dpi", 0, "render resolution")
	convertCmd.Flags().IntVar(&convertWorkers, "workers", 0, "OCR worker processes (0 = auto)")
	convertCmd.Flags().BoolVar(&convertGPU, "gpu", false, "recognition runs on a GPU (forces one worker)")
	convertCmd.Flags().BoolVar(&convertNoSkip, "no-skip-text", false, "recognize pages even when they already carry text")
	convertCmd.Flags().BoolVar(&convertNoFall, "no-fallback", false, "fail the run instead of copying unrecognizable pages")
	convertCmd.Flags().BoolVarP(&convertRecursive, "recursive", "r", false, "recurse into directories")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if convertOutputDir != "" {
		cfg.OutputDir = convertOutputDir
	}
	if convertSuffix != "" {
		cfg.OutputSuffix = convertSuffix
	}
	if len(convertLangs) > 0 {
		cfg.Languages = convertLangs
	}
	if convertDPI > 0 {
		cfg.DPI = convertDPI
	}
	if convertWorkers > 0 {
		cfg.Workers = convertWorkers
	}
	if convertGPU {
		cfg.GPU = true
	}
	if convertNoSkip {
		cfg.SkipExistingText = false
	}
	if convertNoFall {
		cfg.AllowFallbackCopy = false
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	logger := newLogger()
	runner, err := task.NewRunner(cfg, task.WithRunnerLogger(logger))
	if err != nil {
		return err
	}

	// Reclaim checkpoints orphaned by crashed runs before starting.
	if cleaned, err := runner.Store().Sweep(24 * time.Hour); err == nil && cleaned > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "swept %d stale checkpoint(s)\n", cleaned)
	}

	manager := newConvertManager(cmd, runner)
	queued := 0
	for _, arg := range args {
		info, err := os.Stat(arg)
		switch {
		case err != nil:
			return err
		case info.IsDir():
			tasks, err := manager.AddDir(arg, convertRecursive)
			if err != nil {
				return err
			}
			queued += len(tasks)
		default:
			if _, ok := manager.Add(arg); !ok {
				return fmt.Errorf("%s: not a PDF", arg)
			}
			queued++
		}
	}
	if queued == 0 {
		return errors.New("no PDFs to convert")
	}

	manager.Start(cmd.Context())
	manager.Wait()

	failed := 0
	for _, t := range manager.Tasks() {
		if t.Status == task.StatusFailed {
			failed++
		}
		if t.Status == task.StatusCancelled {
			return errors.New("cancelled; progress saved, rerun to resume")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, queued)
	}
	return nil
}

// newConvertManager wires progress and completion output for the terminal.
func newConvertManager(cmd *cobra.Command, runner *task.Runner) *task.Manager {
	out := cmd.OutOrStdout()
	var manager *task.Manager
	manager = task.NewManager(runner, task.Callbacks{
		OnProgress: func(t task.Task) {
			fmt.Fprintf(out, "\r%s: page %d/%d (%d%%)", t.Filename(), t.CurrentPage, t.TotalPages, t.Progress)
		},
		OnFileComplete: func(t task.Task) {
			fmt.Fprintf(out, "\r%s: done", t.Filename())
			if o := t.Outcome; o != nil {
				fmt.Fprintf(out, " (%d recognized, %d skipped", o.ProcessedPages, o.SkippedPages)
				if len(o.FallbackPages) > 0 {
					fmt.Fprintf(out, ", %d copied as image only", len(o.FallbackPages))
				}
				fmt.Fprintf(out, ", %.1fs)", o.ElapsedS)
			}
			fmt.Fprintln(out)
		},
		OnError: func(t task.Task, err error) {
			fmt.Fprintf(out, "\r%s: failed: %v\n", t.Filename(), err)
		},
		OnAllComplete: func() { manager.Stop() },
	})
	return manager
}
