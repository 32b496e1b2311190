// Package downloader runs the concurrent delivery stage: fetching original
// photo bytes and committing them to every enabled storage backend. The
// sequential detail-opening stage feeds jobs in; a single consumer drains
// results and records successes in the history ledger.
package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"photowatch/pkg/backend"
	"photowatch/pkg/config"
	"photowatch/pkg/logger"
	"photowatch/pkg/retry"
)

// DeliveryJob is one photo to fetch and commit.
type DeliveryJob struct {
	// Fingerprint is the dedup key; the ledger records it on success.
	Fingerprint string

	// ThumbnailRef is the listing reference the fingerprint was derived
	// from. It travels with the job so the ledger can retain it for audit.
	ThumbnailRef string

	// FullRef is the full-resolution URL extracted from the detail view,
	// the fetch target.
	FullRef string

	// ResolvedName is the file name the photo is stored under.
	ResolvedName string

	// Degraded marks a fallback fingerprint.
	Degraded bool
}

// DeliveryResult is the outcome of one delivery job.
type DeliveryResult struct {
	Job      DeliveryJob
	Success  bool
	Error    error
	Duration time.Duration
	Size     int
}

// Fetcher retrieves photo bytes from a source URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// WorkerPool manages concurrent delivery workers. A job succeeds only when
// the fetch and every backend commit succeed; any failure leaves the item
// unrecorded so the next cycle picks it up again.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan DeliveryJob
	resultQueue chan DeliveryResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	fetcher  Fetcher
	backends []backend.Backend

	retryAttempts int
	retryDelay    time.Duration

	logger logger.Logger
}

// NewWorkerPool creates a delivery worker pool.
func NewWorkerPool(
	cfg config.DeliveryConfig,
	fetcher Fetcher,
	backends []backend.Backend,
	log logger.Logger,
) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers:    cfg.Workers,
		jobQueue:      make(chan DeliveryJob, cfg.Workers*2),
		resultQueue:   make(chan DeliveryResult, cfg.Workers),
		ctx:           ctx,
		cancel:        cancel,
		fetcher:       fetcher,
		backends:      backends,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		logger:        log,
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("Starting delivery pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
		"backends":    len(wp.backends),
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop gracefully shuts down the worker pool
func (wp *WorkerPool) Stop() {
	wp.logger.Debug("Stopping delivery pool")

	// Close job queue to signal no more jobs will be added
	close(wp.jobQueue)

	// Wait for all workers to finish processing remaining jobs
	wp.wg.Wait()

	// Close result queue
	close(wp.resultQueue)

	// Cancel context
	wp.cancel()

	wp.logger.Debug("Delivery pool stopped")
}

// Submit adds a new delivery job to the queue
func (wp *WorkerPool) Submit(job DeliveryJob) error {
	select {
	case wp.jobQueue <- job:
		wp.logger.DebugWithFields("Job submitted to queue", map[string]interface{}{
			"fingerprint": job.Fingerprint,
			"name":        job.ResolvedName,
		})
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("delivery pool is shutting down")
	}
}

// Results returns the result channel for consuming delivery results
func (wp *WorkerPool) Results() <-chan DeliveryResult {
	return wp.resultQueue
}

// worker is the main worker routine
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.DebugWithFields("Worker started", map[string]interface{}{
		"worker_id": id,
	})

	for job := range wp.jobQueue {
		select {
		case <-wp.ctx.Done():
			wp.logger.DebugWithFields("Worker stopping - context cancelled", map[string]interface{}{
				"worker_id": id,
			})
			return
		default:
		}

		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			wp.logger.DebugWithFields("Worker stopping - context cancelled while sending result", map[string]interface{}{
				"worker_id": id,
			})
			return
		}
	}

	wp.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

// retryConfig builds the per-operation retry policy: a bounded number of
// attempts with a fixed delay, cancelled with the pool.
func (wp *WorkerPool) retryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts: wp.retryAttempts,
		Backoff:     &retry.ConstantBackoff{Delay: wp.retryDelay},
		RetryIf:     retry.DefaultRetryIf,
		Context:     wp.ctx,
		Logger:      wp.logger,
	}
}

// processJob handles a single delivery job
func (wp *WorkerPool) processJob(job DeliveryJob, workerID int) DeliveryResult {
	start := time.Now()
	result := DeliveryResult{
		Job:     job,
		Success: false,
	}

	wp.logger.DebugWithFields("Worker processing job", map[string]interface{}{
		"worker_id":   workerID,
		"fingerprint": job.Fingerprint,
		"name":        job.ResolvedName,
	})

	// Fetch the original bytes
	data, err := retry.DoWithResult(func() ([]byte, error) {
		return wp.fetcher.Fetch(wp.ctx, job.FullRef)
	}, wp.retryConfig())
	if err != nil {
		result.Error = fmt.Errorf("fetch failed: %w", err)
		result.Duration = time.Since(start)

		wp.logger.ErrorWithFields("Worker failed to fetch original", map[string]interface{}{
			"worker_id":   workerID,
			"fingerprint": job.Fingerprint,
			"error":       err.Error(),
			"duration":    result.Duration,
		})

		return result
	}

	result.Size = len(data)

	// Commit to every enabled backend. Recording requires all of them, so
	// the first definitive failure fails the whole job.
	for _, b := range wp.backends {
		commitErr := retry.Do(func() error {
			return b.Commit(wp.ctx, job.ResolvedName, data)
		}, wp.retryConfig())
		if commitErr != nil {
			result.Error = fmt.Errorf("commit to %s failed: %w", b.Name(), commitErr)
			result.Duration = time.Since(start)

			wp.logger.ErrorWithFields("Worker failed to commit photo", map[string]interface{}{
				"worker_id":   workerID,
				"fingerprint": job.Fingerprint,
				"backend":     b.Name(),
				"error":       commitErr.Error(),
				"size":        result.Size,
			})

			return result
		}
	}

	result.Success = true
	result.Duration = time.Since(start)

	wp.logger.DebugWithFields("Worker completed delivery", map[string]interface{}{
		"worker_id":   workerID,
		"fingerprint": job.Fingerprint,
		"size":        result.Size,
		"duration":    result.Duration,
	})

	return result
}

// GetQueueSize returns the current number of jobs in the queue
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}

// GetActiveWorkers returns the number of active workers
func (wp *WorkerPool) GetActiveWorkers() int {
	return wp.numWorkers
}
