package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/scandoc/pdfocr/ocr/tesseract"
	"github.com/scandoc/pdfocr/pool"
)

// workerCmd is the process the pool re-executes this binary as. It speaks
// the length-prefixed task protocol on stdin/stdout and logs to stderr,
// which the parent forwards. Hidden: operators never run it by hand.
var workerCmd = &cobra.Command{
	Use:    pool.WorkerArg,
	Short:  "Run as an OCR worker process",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

var workerLangs []string

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringSliceVar(&workerLangs, "lang", nil, "recognition languages")
}

func runWorker(cmd *cobra.Command, args []string) error {
	engine := tesseract.NewEngine()
	defer engine.Close()
	return pool.RunWorker(cmd.Context(), os.Stdin, os.Stdout, engine, newLogger())
}
