package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/italolelis/downloadhub/internal/dc"
	"github.com/italolelis/downloadhub/internal/download"
	"github.com/italolelis/downloadhub/internal/events"
	"github.com/italolelis/downloadhub/internal/logctx"
	"github.com/italolelis/downloadhub/internal/storage"
	"github.com/italolelis/downloadhub/internal/telemetry"
)

const (
	DefaultInterval = time.Second

	// FailedMessage is stored and published when the engine reports a job as failed.
	FailedMessage = "Download failed in torrent engine"

	listenerTimeout = 30 * time.Second
)

// Indexer registers completed files in the library.
type Indexer interface {
	Register(ctx context.Context, path, downloadID string) (*storage.LibraryFile, error)
}

// Listener is told about downloads reaching COMPLETED or FAILED. Calls run off the loop
// goroutine with their own timeout.
type Listener interface {
	DownloadCompleted(ctx context.Context, d download.Download)
	DownloadFailed(ctx context.Context, d download.Download)
}

// Reconciler periodically mirrors engine job state into the download store.
type Reconciler struct {
	engine    dc.Engine
	repo      storage.DownloadRepository
	library   Indexer
	publisher events.Publisher
	telemetry *telemetry.Telemetry
	listeners []Listener
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	pending sync.WaitGroup
}

type Option func(*Reconciler)

func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithListeners(listeners ...Listener) Option {
	return func(r *Reconciler) {
		r.listeners = append(r.listeners, listeners...)
	}
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Reconciler) {
		r.telemetry = tel
	}
}

func New(engine dc.Engine, repo storage.DownloadRepository, library Indexer, publisher events.Publisher, opts ...Option) *Reconciler {
	r := &Reconciler{
		engine:    engine,
		repo:      repo,
		library:   library,
		publisher: publisher,
		interval:  DefaultInterval,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start launches the loop. Calling it while running does nothing.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	logctx.LoggerFromContext(ctx).Info("starting reconciliation loop", "interval", r.interval)

	go r.run(loopCtx, r.done)
}

// Stop halts the loop and waits for the running tick and pending listener calls.
// It is safe to call more than once.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	r.pending.Wait()
}

// Running reports whether the loop is active.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cancel != nil
}

func (r *Reconciler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciliation loop shutdown", "reason", "context_cancelled")

			return
		case <-ticker.C:
			r.safeTick(ctx)
		}
	}
}

// safeTick keeps the loop alive when a tick panics.
func (r *Reconciler) safeTick(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("reconciliation tick panic",
				"operation", "tick",
				"panic", rec,
				"stack", string(debug.Stack()))

			r.telemetry.RecordSystemError(ctx, "reconciler", "panic")
		}
	}()

	if err := r.Tick(ctx); err != nil {
		logger.Error("reconciliation tick failed", "err", err)
	}
}

// Tick runs one reconciliation pass.
func (r *Reconciler) Tick(ctx context.Context) error {
	return r.telemetry.InstrumentTick(ctx, r.tick)
}

func (r *Reconciler) tick(ctx context.Context) (bool, error) {
	logger := logctx.LoggerFromContext(ctx)

	if !r.engine.IsEnabled() {
		return true, nil
	}

	if !r.engine.IsConnected() {
		// one login attempt per tick; the next tick picks up a restarted engine
		if r.engine.Login(ctx) {
			logger.Info("reconnected to torrent engine")
		}

		return true, nil
	}

	jobs := r.engine.ListJobs(ctx)

	active, err := r.repo.ListActive(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list active downloads: %w", err)
	}

	for i := range active {
		d := &active[i]
		if !d.HasHandle() {
			continue
		}

		job, ok := dc.FindJob(jobs, d.Handle)
		if !ok {
			logger.Warn("torrent not found in engine", "download_id", d.ID, "hash", d.Handle)
			r.telemetry.RecordUnmatchedJob(ctx)

			continue
		}

		if err := r.reconcile(ctx, d, job); err != nil {
			logger.Error("failed to reconcile download", "download_id", d.ID, "hash", d.Handle, "err", err)
		}
	}

	return false, nil
}

func (r *Reconciler) reconcile(ctx context.Context, d *download.Download, job dc.Job) error {
	logger := logctx.LoggerFromContext(ctx).With("download_id", d.ID, "hash", d.Handle)

	update := storage.ProgressUpdate{
		Progress: download.ProgressPercent(job.Progress),
		ETA:      download.SaneETA(job.ETA),
	}

	size := job.Size
	if size > 0 {
		update.SizeBytes = &size
	} else if d.SizeBytes != nil {
		size = *d.SizeBytes
	}

	update.DownloadedBytes = download.ClampDownloaded(job.Downloaded, size)

	progress, applied, err := r.repo.UpdateProgress(ctx, d.ID, update)
	if err != nil {
		return fmt.Errorf("failed to persist progress: %w", err)
	}

	if !applied {
		logger.Debug("download reached a final status concurrently, skipping progress")

		return nil
	}

	r.publisher.Publish(ctx, events.ProgressEvent(events.ProgressPayload{
		DownloadID:      d.ID,
		Progress:        progress,
		DownloadedBytes: update.DownloadedBytes,
		ETA:             update.ETA,
		DownloadSpeed:   job.DLSpeed,
		UploadSpeed:     job.UPSpeed,
	}))

	next, ok := MapState(job.State)
	if !ok || next == d.Status {
		return nil
	}

	if !d.Status.CanTransitionTo(next) {
		logger.Warn("ignoring illegal status transition", "from", d.Status, "to", next, "engine_state", job.State)

		return nil
	}

	var errorMessage string
	if next == download.StatusFailed {
		errorMessage = FailedMessage
	}

	applied, err = r.repo.UpdateStatus(ctx, d.ID, next, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to persist status: %w", err)
	}

	if !applied {
		logger.Warn("download reached a final status concurrently, skipping", "to", next)

		return nil
	}

	logger.Info("download status changed", "from", d.Status, "to", next, "engine_state", job.State)
	r.telemetry.RecordStatusTransition(ctx, string(next), "reconciler")

	d.Status = next
	d.ErrorMessage = errorMessage
	d.Progress = progress

	if update.SizeBytes != nil {
		d.SizeBytes = update.SizeBytes
	}

	r.publisher.Publish(ctx, events.StatusChangeEvent(d.ID, next, errorMessage))

	switch next {
	case download.StatusCompleted:
		r.complete(ctx, d, job)
	case download.StatusFailed:
		r.publisher.Publish(ctx, events.FailedEvent(d.ID, errorMessage))
		r.notify(ctx, *d, Listener.DownloadFailed)
	}

	return nil
}

func (r *Reconciler) complete(ctx context.Context, d *download.Download, job dc.Job) {
	logger := logctx.LoggerFromContext(ctx).With("download_id", d.ID, "hash", d.Handle)

	if err := r.repo.SetSavePath(ctx, d.ID, job.SavePath); err != nil {
		logger.Error("failed to persist save path", "err", err)
	}

	d.SavePath = job.SavePath

	r.publisher.Publish(ctx, events.CompletedEvent(d.ID))

	for _, f := range r.engine.ListJobFiles(ctx, d.Handle) {
		path := filepath.Join(job.SavePath, filepath.FromSlash(f.Name))

		if _, err := os.Stat(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("cannot stat completed file", "path", path, "err", err)
			}

			continue
		}

		if _, err := r.library.Register(ctx, path, d.ID); err != nil {
			logger.Error("failed to add file to library", "path", path, "err", err)
		}
	}

	r.notify(ctx, *d, Listener.DownloadCompleted)
}

func (r *Reconciler) notify(ctx context.Context, d download.Download, call func(Listener, context.Context, download.Download)) {
	for _, l := range r.listeners {
		r.pending.Add(1)

		go func() {
			defer r.pending.Done()

			lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listenerTimeout)
			defer cancel()

			call(l, lctx, d)
		}()
	}
}
