package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/examseg/internal/config"
	"github.com/dgallion1/examseg/internal/extract"
	"github.com/dgallion1/examseg/internal/imagestore"
)

// Orchestrator manages the document extraction pipeline.
type Orchestrator struct {
	jobs     *JobStore
	queue    chan *Job
	store    imagestore.Store
	exporter *Exporter
	stats    *extract.ExtractionStats
	log      *slog.Logger
	cfg      config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. exporter may be nil.
func NewOrchestrator(cfg config.Config, store imagestore.Store, exporter *Exporter, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		jobs:     NewJobStore(cfg.JobTTL),
		queue:    make(chan *Job, cfg.MaxQueueSize),
		store:    store,
		exporter: exporter,
		stats:    extract.NewExtractionStats(time.Hour),
		log:      log,
		cfg:      cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			engine := extract.NewEngine(o.store, o.cfg.Baselines(), o.log)
			w := NewWorker(engine, o.exporter, o.stats, o.log)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Stats returns the rolling extraction statistics.
func (o *Orchestrator) Stats() *extract.ExtractionStats {
	return o.stats
}

// Exporter returns the pathstore exporter, or nil when export is disabled.
func (o *Orchestrator) Exporter() *Exporter {
	return o.exporter
}

// ImageStore returns the store extracted images are written to.
func (o *Orchestrator) ImageStore() imagestore.Store {
	return o.store
}
