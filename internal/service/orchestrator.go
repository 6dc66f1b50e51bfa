package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonno85/columbiastream-uploader/internal/adapter"
	"github.com/jonno85/columbiastream-uploader/internal/domain"
	"github.com/jonno85/columbiastream-uploader/internal/metrics"
)

// snapshotBuffer holds every snapshot one attempt can produce: metadata_sent,
// transferring at 0, one per percent step, and the terminal snapshot.
const snapshotBuffer = 128

// Registrar performs the metadata phase and returns the upload ticket.
type Registrar interface {
	Register(ctx context.Context, reg domain.RegistrationRequest) (domain.UploadTicket, error)
}

// Transferrer performs the binary phase against a ticket's signed URL.
type Transferrer interface {
	Transfer(ctx context.Context, ticket domain.UploadTicket, file domain.VideoFile, onProgress func(sent, total int64)) error
}

// Orchestrator drives one two-phase upload at a time.
type Orchestrator struct {
	registrar   Registrar
	transferrer Transferrer
	logger      *slog.Logger

	mu      sync.Mutex
	session domain.UploadSession
	attempt *attempt
	file    io.Reader
}

type attempt struct {
	out       chan domain.UploadSession
	lastPct   int
	finished  bool
	cancelled bool
}

func NewOrchestrator(registrar Registrar, transferrer Transferrer, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registrar:   registrar,
		transferrer: transferrer,
		logger:      logger,
		session:     domain.IdleSession(),
	}
}

// Submit validates req and starts the upload in the background. The returned
// channel yields every state change and is closed after exactly one complete
// or failed snapshot. Network failures never surface as the returned error.
func (o *Orchestrator) Submit(ctx context.Context, req domain.UploadRequest) (<-chan domain.UploadSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session.State.Active() {
		return nil, &domain.AlreadyInProgressError{State: o.session.State}
	}
	if err := req.Validate(); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			metrics.ValidationRejected.WithLabelValues(verr.Field).Inc()
		}
		o.logger.Warn("Rejected upload request", "err", err)
		return nil, err
	}
	reg, err := req.Registration()
	if err != nil {
		return nil, err
	}

	// A terminal session from a previous attempt is discarded here.
	a := &attempt{out: make(chan domain.UploadSession, snapshotBuffer)}
	o.attempt = a
	o.file = req.File.Content
	o.session = domain.UploadSession{
		State:     domain.StateMetadataSent,
		Title:     req.Title,
		UpdatedAt: time.Now(),
	}
	a.out <- o.session

	metrics.UploadsStarted.Inc()
	o.logger.Info("Upload submitted", "title", req.Title, "offering_id", reg.OfferingID, "mime_type", reg.MimeType, "size", req.File.Size)

	go o.run(ctx, a, req, reg)
	return a.out, nil
}

func (o *Orchestrator) run(ctx context.Context, a *attempt, req domain.UploadRequest, reg domain.RegistrationRequest) {
	start := time.Now()
	ticket, err := o.registrar.Register(ctx, reg)
	metrics.RegistrationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		kind, msg := registrationFailure(ctx, err)
		o.logger.Error("Registration failed", "title", req.Title, "kind", kind, "err", err)
		o.fail(a, kind, msg)
		return
	}
	o.logger.Info("Registered upload", "video_id", ticket.VideoID)

	o.emit(a, func(s *domain.UploadSession) {
		t := ticket
		s.Ticket = &t
		s.State = domain.StateTransferring
		s.ProgressPercent = 0
	})

	start = time.Now()
	err = o.transferrer.Transfer(ctx, ticket, req.File, func(sent, total int64) {
		o.progress(ctx, a, domain.ProgressPercent(sent, total))
	})
	metrics.TransferDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		kind, msg := transferFailure(ctx, err)
		o.logger.Error("Transfer failed", "video_id", ticket.VideoID, "kind", kind, "err", err)
		o.fail(a, kind, msg)
		return
	}

	o.finish(a, func(s *domain.UploadSession) {
		s.State = domain.StateComplete
		s.ProgressPercent = 100
	})
	metrics.UploadsCompleted.Inc()
	metrics.BytesUploaded.Observe(float64(req.File.Size))
	o.logger.Info("Upload complete", "video_id", ticket.VideoID, "duration", time.Since(start).String())
}

// progress checks ctx under the lock so nothing is emitted once cancellation is observed.
func (o *Orchestrator) progress(ctx context.Context, a *attempt, pct int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ctx.Err() != nil {
		a.cancelled = true
	}
	if a.cancelled || a.finished || o.attempt != a || pct <= a.lastPct {
		return
	}
	a.lastPct = pct
	o.session.ProgressPercent = pct
	o.session.UpdatedAt = time.Now()
	a.out <- o.session
}

func (o *Orchestrator) emit(a *attempt, mutate func(*domain.UploadSession)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a.finished || o.attempt != a {
		return
	}
	mutate(&o.session)
	o.session.UpdatedAt = time.Now()
	a.out <- o.session
}

func (o *Orchestrator) finish(a *attempt, mutate func(*domain.UploadSession)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a.finished {
		return
	}
	mutate(&o.session)
	o.session.UpdatedAt = time.Now()
	a.out <- o.session
	a.finished = true
	close(a.out)
}

func (o *Orchestrator) fail(a *attempt, kind domain.ErrorKind, msg string) {
	metrics.UploadsFailed.WithLabelValues(string(kind)).Inc()
	o.finish(a, func(s *domain.UploadSession) {
		s.State = domain.StateFailed
		s.ErrorKind = kind
		s.Error = msg
		// a ticket is single-use
		s.Ticket = nil
	})
}

// Snapshot returns the current session.
func (o *Orchestrator) Snapshot() domain.UploadSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Reset returns a finished orchestrator to idle and releases the submitted file.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session.State.Active() {
		return domain.ErrResetWhileActive
	}
	if closer, ok := o.file.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			o.logger.Warn("Failed to release video file", "err", err)
		}
	}
	o.file = nil
	o.attempt = nil
	o.session = domain.IdleSession()
	return nil
}

// Last drains a snapshot stream and returns its terminal snapshot.
func Last(snapshots <-chan domain.UploadSession) domain.UploadSession {
	var last domain.UploadSession
	for s := range snapshots {
		last = s
	}
	return last
}

func registrationFailure(ctx context.Context, err error) (domain.ErrorKind, string) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.KindCancelled, domain.CancelledMessage
	}
	if adapter.IsTimeout(err) {
		return domain.KindTimeout, domain.DefaultRegistrationMessage + ": timeout"
	}
	var regErr *domain.RegistrationError
	if errors.As(err, &regErr) && regErr.Message != "" {
		return domain.KindRegistration, regErr.Message
	}
	return domain.KindRegistration, domain.DefaultRegistrationMessage
}

func transferFailure(ctx context.Context, err error) (domain.ErrorKind, string) {
	if errors.Is(ctx.Err(), context.Canceled) {
		err = &domain.TransferError{Kind: domain.KindCancelled, Err: err}
	}
	var tErr *domain.TransferError
	if !errors.As(err, &tErr) {
		kind := domain.KindNetwork
		if adapter.IsTimeout(err) {
			kind = domain.KindTimeout
		}
		tErr = &domain.TransferError{Kind: kind, Err: err}
	}
	return tErr.Kind, tErr.Error()
}
