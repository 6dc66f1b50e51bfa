package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jonno85/columbiastream-uploader/internal/adapter"
	"github.com/jonno85/columbiastream-uploader/internal/domain"
	"github.com/jonno85/columbiastream-uploader/internal/service/utils"
)

const (
	DefaultPollTimeout = 5 * time.Second
	bookkeepingRetries = 3
	bookkeepingDelay   = 200 * time.Millisecond
)

// UploadNotifier is told about every completed upload.
type UploadNotifier interface {
	PublishUploaded(ctx context.Context, event domain.VideoUploadedEvent) error
}

// UploadWorkerService feeds queued drop-folder files through the orchestrator, one at a time.
type UploadWorkerService struct {
	queue        adapter.RedisOperationalClient
	orchestrator *Orchestrator
	notifier     UploadNotifier
	pollTimeout  time.Duration
	logger       *slog.Logger
}

// NewUploadWorkerService creates the worker. notifier may be nil.
func NewUploadWorkerService(queue adapter.RedisOperationalClient, orchestrator *Orchestrator, notifier UploadNotifier, logger *slog.Logger) *UploadWorkerService {
	return &UploadWorkerService{
		queue:        queue,
		orchestrator: orchestrator,
		notifier:     notifier,
		pollTimeout:  DefaultPollTimeout,
		logger:       logger,
	}
}

// ProcessPendingQueue puts jobs interrupted by a previous run back in line.
func (w *UploadWorkerService) ProcessPendingQueue(ctx context.Context) error {
	moved, err := w.queue.RequeueStale(ctx)
	if err != nil {
		return fmt.Errorf("requeue stale jobs: %w", err)
	}
	w.logger.Info("Pending jobs requeued", "count", moved)
	return nil
}

// ProcessQueue runs until ctx is done.
func (w *UploadWorkerService) ProcessQueue(ctx context.Context) error {
	w.logger.Info("Starting upload worker")
	for {
		if ctx.Err() != nil {
			w.logger.Info("Upload worker stopped")
			return nil
		}
		name, err := w.queue.DequeueInProgress(ctx, w.pollTimeout)
		if errors.Is(err, adapter.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("Error dequeuing job", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(w.pollTimeout):
			}
			continue
		}
		w.logger.Info("Dequeued job", "job", name)
		if err := w.ProcessJob(ctx, name); err != nil {
			w.logger.Error("Error processing job", "job", name, "err", err)
		}
	}
}

// ProcessJob uploads one queued file and records its terminal snapshot.
func (w *UploadWorkerService) ProcessJob(ctx context.Context, name adapter.JobName) error {
	job, err := w.queue.GetJob(ctx, name)
	if errors.Is(err, adapter.ErrJobNotFound) {
		// a duplicate entry for a job that already finished
		w.logger.Warn("Dropping stale queue entry", "job", name)
		return w.queue.Discard(ctx, name)
	}
	if err != nil {
		return w.finish(ctx, name, failedSession("", fmt.Sprintf("job lookup failed: %v", err)))
	}

	file, err := adapter.OpenVideoFile(job.Path)
	if err != nil {
		return w.finish(ctx, name, failedSession(job.Title, err.Error()))
	}

	req := domain.UploadRequest{
		Title:        job.Title,
		OfferingID:   job.OfferingID,
		ProfessorUNI: job.ProfessorUNI,
		File:         file,
	}
	snapshots, err := w.orchestrator.Submit(ctx, req)
	if err != nil {
		if closeErr := closeContent(file); closeErr != nil {
			w.logger.Warn("Failed to close video file", "path", job.Path, "err", closeErr)
		}
		return w.finish(ctx, name, failedSession(job.Title, err.Error()))
	}

	var last domain.UploadSession
	for s := range snapshots {
		last = s
		if err := w.queue.SetSnapshot(ctx, name, s); err != nil {
			w.logger.Debug("Failed to record snapshot", "job", name, "err", err)
		}
	}

	if last.ErrorKind == domain.KindCancelled && ctx.Err() != nil {
		// left in-progress so the next start requeues it
		w.logger.Warn("Upload interrupted by shutdown", "job", name)
		if err := w.orchestrator.Reset(); err != nil {
			w.logger.Error("Failed to reset orchestrator", "err", err)
		}
		return nil
	}

	finishErr := w.finish(ctx, name, last)
	if last.State == domain.StateComplete && w.notifier != nil {
		if err := w.notifier.PublishUploaded(ctx, domain.NewVideoUploadedEvent(req, last)); err != nil {
			w.logger.Error("Failed to publish upload event", "job", name, "video_id", last.VideoID(), "err", err)
		}
	}
	if err := w.orchestrator.Reset(); err != nil {
		w.logger.Error("Failed to reset orchestrator", "err", err)
	}
	return finishErr
}

func (w *UploadWorkerService) finish(ctx context.Context, name adapter.JobName, session domain.UploadSession) error {
	w.logger.Info("Job finished", "job", name, "state", session.State, "status", session.StatusLine())
	_, err := utils.Retry(ctx, bookkeepingRetries, bookkeepingDelay, func() (struct{}, error) {
		return struct{}{}, w.queue.Finish(ctx, name, session)
	})
	return err
}

func failedSession(title, msg string) domain.UploadSession {
	return domain.UploadSession{
		State:     domain.StateFailed,
		Error:     msg,
		Title:     title,
		UpdatedAt: time.Now(),
	}
}

func closeContent(file domain.VideoFile) error {
	if c, ok := file.Content.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
