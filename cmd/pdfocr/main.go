// Command pdfocr converts scanned PDFs into searchable PDFs by adding an
// invisible recognized-text layer over each page image.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scandoc/pdfocr/observability"
	"github.com/scandoc/pdfocr/task"
)

var rootCmd = &cobra.Command{
	Use:           "pdfocr",
	Short:         "Make scanned PDFs searchable",
	Long:          "pdfocr renders scanned PDF pages, recognizes their text and writes a searchable PDF with an invisible text layer. Interrupted conversions resume from a checkpoint.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagConfig  string
	flagVerbose bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

// loadConfig reads the configuration file named by --config.
func loadConfig() (task.Config, error) {
	return task.LoadConfig(flagConfig)
}

// newLogger builds the process logger. Log output goes to stderr so piped
// exports stay clean.
func newLogger() observability.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return observability.NewSlogLogger(slog.New(h))
}

func main() {
	// SIGINT cancels the run context; the pipeline then saves its
	// checkpoint and the deferred pool shutdown still runs. A second
	// signal kills the process the hard way via the default handler.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "pdfocr:", err)
		os.Exit(1)
	}
}
