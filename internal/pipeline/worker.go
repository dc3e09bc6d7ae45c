package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/examseg/internal/docmodel"
	"github.com/dgallion1/examseg/internal/extract"
)

// Worker processes one document job at a time. It owns its engine, so
// workers never share extraction state.
type Worker struct {
	engine   *extract.Engine
	exporter *Exporter
	stats    *extract.ExtractionStats
	log      *slog.Logger
}

// NewWorker returns a worker. exporter and stats may be nil.
func NewWorker(engine *extract.Engine, exporter *Exporter, stats *extract.ExtractionStats, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Worker{
		engine:   engine,
		exporter: exporter,
		stats:    stats,
		log:      log,
	}
}

// Process runs extraction, image persistence and export for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID, "filename", job.Filename)
	start := time.Now()

	// Phase 1: segment and assemble.
	job.SetStatus(StatusExtracting, "extracting")
	data := job.FileData()
	doc, err := docmodel.Parse(bytes.NewReader(data), int64(len(data)), job.Filename)
	if err != nil {
		fe := &extract.FatalError{Path: job.Filename, Err: err}
		log.Error("document unreadable", "error", err)
		job.SetResult(extract.Failed(fe))
		job.AddError(fe.Error())
		job.SetStatus(StatusFailed, "extracting")
		job.SetFileData(nil)
		return
	}
	res := w.engine.Extract(doc)
	job.SetResult(res)
	log.Info("extraction complete",
		"questions", res.TotalQuestions,
		"images", res.TotalImages,
		"issues", len(res.Validation.Issues),
		"success_rate", res.Validation.SuccessRate,
	)

	// Phase 2: save images question by question.
	job.SetStatus(StatusImages, "images")
	saved := 0
	for i, q := range res.Questions {
		if ctx.Err() != nil {
			job.AddError(fmt.Sprintf("canceled: %s", ctx.Err()))
			job.SetStatus(StatusFailed, "images")
			return
		}
		id := uuid.NewString()
		imgs := w.engine.ExtractImages(doc, q, id)
		saved += len(imgs)
		job.AddQuestionImages(i, id, imgs)
	}
	job.SetFileData(nil)

	is := w.engine.ImageStats()
	log.Info("images saved", "saved", saved, "skipped", is.Skipped, "duplicates", is.Duplicates, "write_failed", is.WriteFailed)
	if w.stats != nil {
		w.stats.Record(time.Since(start).Milliseconds(), res.TotalQuestions, saved)
	}

	if w.exporter == nil {
		job.SetStatus(StatusCompleted, "done")
		return
	}

	// Phase 3: export to pathstore.
	job.SetStatus(StatusExporting, "exporting")
	exists, existingDocID, err := w.exporter.Exported(ctx, job.ContentHash)
	if err != nil {
		log.Warn("export dedup check failed, proceeding", "error", err)
	} else if exists {
		log.Info("document already exported, skipping", "existing_doc_id", existingDocID)
		job.SetStatus(StatusCompleted, "already_exported")
		return
	}

	stored, err := w.exporter.Export(ctx, job)
	job.AddExported(stored)
	if err != nil {
		job.AddError(fmt.Sprintf("export: %s", err))
		if stored > 0 {
			job.SetStatus(StatusPartial, "done")
		} else {
			job.SetStatus(StatusFailed, "exporting")
		}
		return
	}
	log.Info("export complete", "stored", stored)
	job.SetStatus(StatusCompleted, "done")
}
