package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/google/uuid"
	"github.com/italolelis/downloadhub/internal/audit"
	"github.com/italolelis/downloadhub/internal/dc"
	"github.com/italolelis/downloadhub/internal/download"
	"github.com/italolelis/downloadhub/internal/events"
	"github.com/italolelis/downloadhub/internal/logctx"
	"github.com/italolelis/downloadhub/internal/source"
	"github.com/italolelis/downloadhub/internal/storage"
	"github.com/italolelis/downloadhub/internal/telemetry"
)

// AddFailedMessage is stored when the engine refuses a confirmed download.
const AddFailedMessage = "Failed to add to torrent engine"

const transitionSource = "user"

// Service turns confirmed search results into engine jobs and applies user actions.
type Service struct {
	engine    dc.Engine
	repo      storage.DownloadRepository
	sources   *source.Registry
	publisher events.Publisher
	telemetry *telemetry.Telemetry
	audit     *audit.Recorder
	savePath  string
}

func NewService(
	engine dc.Engine,
	repo storage.DownloadRepository,
	sources *source.Registry,
	publisher events.Publisher,
	savePath string,
	tel *telemetry.Telemetry,
	auditor *audit.Recorder,
) *Service {
	return &Service{
		engine:    engine,
		repo:      repo,
		sources:   sources,
		publisher: publisher,
		telemetry: tel,
		audit:     auditor,
		savePath:  savePath,
	}
}

// Providers lists the registered content sources.
func (s *Service) Providers() []string {
	return s.sources.Names()
}

// Search queries one provider.
func (s *Service) Search(ctx context.Context, provider, query string) ([]source.Result, error) {
	src, err := s.source(provider)
	if err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &download.ValidationError{Field: "query", Reason: "must not be empty"}
	}

	s.audit.Record(ctx, audit.ActionDownloadRequest, map[string]any{"query": query, "provider": provider})

	results, err := src.Search(ctx, query)
	if err != nil {
		return nil, &source.Error{Provider: provider, Operation: "search", Err: err}
	}

	return results, nil
}

// Confirm resolves a search result to a magnet or torrent URL, records the download and hands
// it to the engine. An engine refusal is not an error: the returned download is FAILED.
func (s *Service) Confirm(ctx context.Context, provider, resultID string) (*download.Download, error) {
	logger := logctx.LoggerFromContext(ctx).With("provider", provider, "result_id", resultID)

	src, err := s.source(provider)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(resultID) == "" {
		return nil, &download.ValidationError{Field: "resultId", Reason: "must not be empty"}
	}

	raw, err := src.Magnet(ctx, resultID)
	if err != nil {
		if errors.Is(err, source.ErrResultNotFound) {
			return nil, &download.NotFoundError{Resource: "search result", ID: resultID, Err: err}
		}

		return nil, &source.Error{Provider: provider, Operation: "resolve magnet", Err: err}
	}

	uri, isTorrentURL := source.SplitMagnet(raw)
	if err := validateURI(uri, isTorrentURL); err != nil {
		return nil, err
	}

	d := &download.Download{
		ID:       uuid.NewString(),
		Name:     s.resolveName(ctx, src, resultID),
		Status:   download.StatusQueued,
		Provider: provider,
		ResultID: resultID,
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create download: %w", err)
	}

	logger = logger.With("download_id", d.ID)

	s.audit.Record(ctx, audit.ActionDownloadConfirm, map[string]any{
		"downloadId": d.ID,
		"provider":   provider,
		"resultId":   resultID,
	})

	if err := s.repo.SetMagnet(ctx, d.ID, uri); err != nil {
		return nil, fmt.Errorf("failed to store magnet: %w", err)
	}

	if err := s.setStatus(ctx, d, download.StatusFetchingMagnet, ""); err != nil {
		return nil, err
	}

	if !s.engine.IsEnabled() {
		logger.Info("torrent engine disabled, download queued")

		if err := s.setStatus(ctx, d, download.StatusQueued, ""); err != nil {
			return nil, err
		}

		return s.finishConfirm(ctx, d)
	}

	if err := s.setStatus(ctx, d, download.StatusAddingToEngine, ""); err != nil {
		return nil, err
	}

	handle, ok := s.engine.AddJob(ctx, uri, s.savePath)
	if !ok {
		logger.Warn("torrent engine refused download")

		if err := s.setStatus(ctx, d, download.StatusFailed, AddFailedMessage); err != nil {
			return nil, err
		}

		return s.finishConfirm(ctx, d)
	}

	if _, err := s.repo.SetHandle(ctx, d.ID, handle); err != nil {
		return nil, fmt.Errorf("failed to store engine handle: %w", err)
	}

	if err := s.setStatus(ctx, d, download.StatusDownloading, ""); err != nil {
		return nil, err
	}

	logger.Info("download added to torrent engine", "hash", handle, "torrent_url", isTorrentURL)

	return s.finishConfirm(ctx, d)
}

func (s *Service) finishConfirm(ctx context.Context, d *download.Download) (*download.Download, error) {
	s.telemetry.RecordDownloadConfirmed(ctx, d.Provider, string(d.Status))
	s.publisher.Publish(ctx, events.StatusChangeEvent(d.ID, d.Status, d.ErrorMessage))

	return s.Get(ctx, d.ID)
}

// resolveName prefers the source's title and falls back to the result ID.
func (s *Service) resolveName(ctx context.Context, src source.Source, resultID string) string {
	detailer, ok := src.(source.Detailer)
	if !ok {
		return resultID
	}

	details, err := detailer.Details(ctx, resultID)
	if err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to fetch result details", "result_id", resultID, "err", err)

		return resultID
	}

	if title, ok := details["title"].(string); ok && strings.TrimSpace(title) != "" {
		return title
	}

	return resultID
}

func (s *Service) Get(ctx context.Context, id string) (*download.Download, error) {
	d, err := s.repo.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &download.NotFoundError{Resource: "download", ID: id, Err: err}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get download: %w", err)
	}

	return d, nil
}

func (s *Service) List(ctx context.Context, opts storage.ListOptions) ([]download.Download, int, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, 0, &download.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", opts.Status)}
	}

	return s.repo.List(ctx, opts)
}

// Pause stops a DOWNLOADING job.
func (s *Service) Pause(ctx context.Context, id string) (*download.Download, error) {
	return s.toggle(ctx, id, audit.ActionDownloadPause, download.StatusDownloading, download.StatusPaused, s.engine.Pause)
}

// Resume restarts a PAUSED job.
func (s *Service) Resume(ctx context.Context, id string) (*download.Download, error) {
	return s.toggle(ctx, id, audit.ActionDownloadResume, download.StatusPaused, download.StatusDownloading, s.engine.Resume)
}

func (s *Service) toggle(
	ctx context.Context,
	id string,
	audited audit.Action,
	from, to download.Status,
	call func(ctx context.Context, hash string) bool,
) (*download.Download, error) {
	action := strings.ToLower(strings.TrimPrefix(string(audited), "DOWNLOAD_"))

	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if d.Status != from {
		return nil, &download.PreconditionError{DownloadID: id, Action: action, Status: d.Status}
	}

	if d.HasHandle() && s.engine.IsEnabled() {
		if !call(ctx, d.Handle) {
			return nil, &download.EngineError{Operation: action, Handle: d.Handle}
		}
	}

	if err := s.setStatus(ctx, d, to, ""); err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.StatusChangeEvent(d.ID, to, ""))
	s.audit.Record(ctx, audited, map[string]any{"downloadId": d.ID})

	return s.Get(ctx, id)
}

// Cancel removes the job and its data from the engine and marks the download CANCELED. The
// engine's answer is only logged.
func (s *Service) Cancel(ctx context.Context, id string) (*download.Download, error) {
	logger := logctx.LoggerFromContext(ctx).With("download_id", id)

	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if d.Status.IsTerminal() {
		return nil, &download.PreconditionError{DownloadID: id, Action: "cancel", Status: d.Status}
	}

	if d.HasHandle() && s.engine.IsEnabled() {
		if !s.engine.Remove(ctx, d.Handle, true) {
			logger.Warn("torrent engine did not confirm removal", "hash", d.Handle)
		}
	}

	if err := s.setStatus(ctx, d, download.StatusCanceled, ""); err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.StatusChangeEvent(d.ID, download.StatusCanceled, ""))
	s.audit.Record(ctx, audit.ActionDownloadCancel, map[string]any{"downloadId": d.ID})

	return s.Get(ctx, id)
}

// Files lists the engine's files for a download; empty when the engine does not know it.
func (s *Service) Files(ctx context.Context, id string) ([]dc.JobFile, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !d.HasHandle() || !s.engine.IsEnabled() {
		return []dc.JobFile{}, nil
	}

	return s.engine.ListJobFiles(ctx, d.Handle), nil
}

// setStatus persists a transition. A row that turned terminal meanwhile yields a PreconditionError.
func (s *Service) setStatus(ctx context.Context, d *download.Download, to download.Status, errorMessage string) error {
	applied, err := s.repo.UpdateStatus(ctx, d.ID, to, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to update download status: %w", err)
	}

	if !applied {
		current, err := s.Get(ctx, d.ID)
		if err != nil {
			return err
		}

		return &download.PreconditionError{DownloadID: d.ID, Action: "move to " + string(to), Status: current.Status}
	}

	s.telemetry.RecordStatusTransition(ctx, string(to), transitionSource)

	d.Status = to
	d.ErrorMessage = errorMessage

	return nil
}

func (s *Service) source(provider string) (source.Source, error) {
	if strings.TrimSpace(provider) == "" {
		return nil, &download.ValidationError{Field: "provider", Reason: "must not be empty"}
	}

	src, err := s.sources.Get(provider)
	if err != nil {
		return nil, &download.ValidationError{Field: "provider", Reason: "unknown provider " + provider, Err: err}
	}

	return src, nil
}

// validateURI accepts magnet links with a btih hash and http(s) torrent URLs.
func validateURI(uri string, isTorrentURL bool) error {
	if isTorrentURL {
		u, err := url.Parse(uri)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &download.ValidationError{Field: "torrent url", Reason: "must be an absolute http(s) URL", Err: err}
		}

		return nil
	}

	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return &download.ValidationError{Field: "magnet uri", Reason: "cannot be parsed", Err: err}
	}

	if m.InfoHash == (metainfo.Hash{}) {
		return &download.ValidationError{Field: "magnet uri", Reason: "has no info hash"}
	}

	return nil
}
