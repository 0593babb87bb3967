package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/epubnorm/internal/epub"
	"github.com/dgallion1/epubnorm/internal/storage"
)

// Worker processes a single book job.
type Worker struct {
	store storage.Adapter
	log   *slog.Logger
}

func NewWorker(store storage.Adapter, log *slog.Logger) *Worker {
	return &Worker{
		store: store,
		log:   log,
	}
}

// Process runs the normalization pipeline for a job. Output goes under the
// job ID in the worker's store.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)
	runner := &Runner{Log: log}

	// Phase 1: Load
	job.SetStatus(StatusLoading, "loading")
	data := job.FileData()
	b, err := epub.OpenReader(bytes.NewReader(data), int64(len(data)), log)
	if err != nil {
		log.Error("load failed", "error", err)
		job.AddError(fmt.Sprintf("load: %s", err))
		job.SetStatus(StatusFailed, "loading")
		return
	}
	defer b.Close()
	if job.Title != "" {
		b.Metadata.Title = job.Title
	}

	// Phase 2: Detect, normalize images, write output.
	job.SetStatus(StatusNormalizing, "normalizing")
	res, err := runner.Normalize(ctx, b, OutputStore(w.store, job.ID))
	if err != nil {
		log.Error("normalize failed", "error", err)
		job.AddError(fmt.Sprintf("normalize: %s", err))
		job.SetStatus(StatusFailed, "normalizing")
		return
	}
	res.OutputDir = job.ID

	job.Complete(res)
	log.Info("job complete",
		"chapters", res.Plan.Summary.Chapters,
		"images", len(res.Images),
		"warnings", len(res.Warnings),
	)
}

// OutputStore is the storage a job's output is written to.
func OutputStore(store storage.Adapter, jobID string) storage.Adapter {
	return storage.Sub(store, jobID)
}
