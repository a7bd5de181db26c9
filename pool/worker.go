package pool

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"io"

	"github.com/scandoc/pdfocr/observability"
	"github.com/scandoc/pdfocr/ocr"
)

// RunWorker is the worker-side loop: read tasks from in, recognize, write
// results to out. It returns nil on a clean end of stream (parent closed
// our stdin) and an error only when the transport itself breaks. Per-task
// recognition failures travel back inside the result frame.
//
// The engine is constructed by the caller before the loop starts, so model
// loading happens once per process, not once per page.
func RunWorker(ctx context.Context, in io.Reader, out io.Writer, engine ocr.Engine, logger observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	logger.Info("worker ready", observability.String("engine", engine.Name()))
	for {
		task, err := readTask(in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("worker shutting down")
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res := resultFrame{ID: task.ID}
		if _, err := jpeg.DecodeConfig(bytes.NewReader(task.Image)); err != nil {
			// A raster that does not even parse is this task's failure,
			// not the worker's.
			res.Err = "undecodable page raster: " + err.Error()
		} else if regions, err := engine.Recognize(ctx, task); err != nil {
			res.Err = err.Error()
		} else {
			res.Regions = regions
		}

		if res.Err != "" {
			logger.Warn("task failed",
				observability.String("task", task.ID),
				observability.String("cause", res.Err))
		}
		if err := writeResult(out, res); err != nil {
			return err
		}
	}
}
