package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driving"
	"github.com/custodia-labs/tutor-core/internal/core/services"
)

// Worker processes tasks from the task queue: queued outline builds,
// paragraph prefetch and orphan purges.
type Worker struct {
	taskQueue  driven.TaskQueue
	outlines   driving.OutlineService
	paragraphs driving.ParagraphService
	progress   driving.ProgressService
	scheduler  *services.Scheduler
	logger     *slog.Logger

	// Configuration
	concurrency    int
	dequeueTimeout int // seconds

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue      driven.TaskQueue
	Outlines       driving.OutlineService
	Paragraphs     driving.ParagraphService
	Progress       driving.ProgressService
	Scheduler      *services.Scheduler // Optional
	Logger         *slog.Logger
	Concurrency    int // Number of concurrent task processors
	DequeueTimeout int // Seconds to wait for a task before checking again
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		outlines:       cfg.Outlines,
		paragraphs:     cfg.Paragraphs,
		progress:       cfg.Progress,
		scheduler:      cfg.Scheduler,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	if w.scheduler != nil {
		if err := w.scheduler.Start(ctx); err != nil {
			w.logger.Error("failed to start scheduler", "error", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker. In-flight tasks finish first.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Debug("worker stop signal received")
			return
		default:
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			case <-w.stopCh:
			}
			continue
		}
		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "owner_id", task.OwnerID)
	logger.Info("processing task", "attempt", task.Attempts)

	startTime := time.Now()
	var err error

	switch task.Type {
	case domain.TaskTypeGenerateOutline:
		err = w.handleGenerateOutline(ctx, task)
	case domain.TaskTypePrefetchParagraph:
		err = w.handlePrefetchParagraph(ctx, task)
	case domain.TaskTypePurgeOrphans:
		err = w.handlePurgeOrphans(ctx)
	default:
		err = fmt.Errorf("unknown task type: %s", task.Type)
	}

	duration := time.Since(startTime)

	// Another holder is generating the same content. Retry later: if that
	// generation fails, this task is the only outstanding request for it.
	if errors.Is(err, domain.ErrGenerationInProgress) {
		logger.Info("task deferred, generation in progress elsewhere", "duration", duration)
		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "nack_error", nackErr)
		}
		return
	}

	if err != nil {
		logger.Error("task failed", "duration", duration, "error", err)
		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "nack_error", nackErr)
		}
		return
	}

	logger.Info("task completed", "duration", duration)
	if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", "ack_error", ackErr)
	}
}

func (w *Worker) handleGenerateOutline(ctx context.Context, task *domain.Task) error {
	topicID := task.TopicID()
	if topicID == "" {
		return fmt.Errorf("topic_id not found in task payload")
	}
	_, err := w.outlines.Ensure(ctx, driving.GenerateOutlineRequest{
		OwnerID: task.OwnerID,
		TopicID: topicID,
		Options: task.OutlineOptions(),
	})
	return err
}

func (w *Worker) handlePrefetchParagraph(ctx context.Context, task *domain.Task) error {
	topicID, paragraphID := task.TopicID(), task.ParagraphID()
	if topicID == "" || paragraphID == "" {
		return fmt.Errorf("topic_id and paragraph_id required in task payload")
	}
	_, err := w.paragraphs.Generate(ctx, driving.GenerateParagraphRequest{
		OwnerID:     task.OwnerID,
		TopicID:     topicID,
		ParagraphID: paragraphID,
		Options:     task.ParagraphOptions(),
	})
	// The outline moved on since the prefetch was queued
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStaleReference) {
		w.logger.Debug("prefetch target gone", "topic_id", topicID, "paragraph_id", paragraphID)
		return nil
	}
	return err
}

func (w *Worker) handlePurgeOrphans(ctx context.Context) error {
	_, err := w.progress.PurgeOrphans(ctx)
	return err
}

// Health returns health status of the worker.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{Running: running}
	if err := w.taskQueue.Ping(ctx); err != nil {
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}
	return health
}
