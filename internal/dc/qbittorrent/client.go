package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/italolelis/downloadhub/internal/dc"
	"github.com/italolelis/downloadhub/internal/logctx"
)

const (
	defaultDiscoveryAttempts = 10
	defaultDiscoveryInterval = time.Second
	defaultTimeout           = 10 * time.Second
)

// Client adapts go-qbittorrent to dc.Engine. The library owns the session cookie and
// re-authenticates on 403; Client tracks whether the last login or poll succeeded.
type Client struct {
	api     *qbt.Client
	enabled bool

	discoveryAttempts int
	discoveryInterval time.Duration

	mu        sync.RWMutex
	connected bool
}

type settings struct {
	timeout           time.Duration
	discoveryAttempts int
	discoveryInterval time.Duration
}

// Option configures a Client.
type Option func(*settings)

// WithTimeout sets the per request timeout, rounded up to whole seconds.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHashDiscovery bounds how long AddJob polls for the handle of a torrent added by URL.
func WithHashDiscovery(attempts int, interval time.Duration) Option {
	return func(s *settings) {
		if attempts > 0 {
			s.discoveryAttempts = attempts
		}

		if interval > 0 {
			s.discoveryInterval = interval
		}
	}
}

func NewClient(baseURL, username, password string, enabled bool, opts ...Option) *Client {
	s := settings{
		timeout:           defaultTimeout,
		discoveryAttempts: defaultDiscoveryAttempts,
		discoveryInterval: defaultDiscoveryInterval,
	}

	for _, opt := range opts {
		opt(&s)
	}

	return &Client{
		api: qbt.NewClient(qbt.Config{
			Host:     strings.TrimRight(baseURL, "/"),
			Username: username,
			Password: password,
			Timeout:  int((s.timeout + time.Second - 1) / time.Second),
		}),
		enabled:           enabled,
		discoveryAttempts: s.discoveryAttempts,
		discoveryInterval: s.discoveryInterval,
	}
}

var _ dc.Engine = (*Client)(nil)

func (c *Client) IsEnabled() bool {
	return c.enabled
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = connected
}

// Login authenticates against the WebUI. Safe to call repeatedly.
func (c *Client) Login(ctx context.Context) bool {
	logger := logctx.LoggerFromContext(ctx).With("method", "auth/login")

	if !c.enabled {
		logger.Info("qBittorrent is disabled")

		return false
	}

	if err := c.api.LoginCtx(ctx); err != nil {
		logger.Error("failed to log in to qBittorrent", "err", err)
		c.setConnected(false)

		return false
	}

	c.setConnected(true)
	logger.Info("connected to qBittorrent")

	return true
}

// ensureConnected logs in when no session is held. It reports whether a request is worth making.
func (c *Client) ensureConnected(ctx context.Context) bool {
	if !c.enabled {
		return false
	}

	if c.IsConnected() {
		return true
	}

	return c.Login(ctx)
}

// AddJob submits a magnet URI or a .torrent URL. For magnets the handle is read from the btih
// parameter; for URLs the job listing is polled until a handle not seen before submission shows up.
func (c *Client) AddJob(ctx context.Context, uri, savePath string) (string, bool) {
	logger := logctx.LoggerFromContext(ctx).With("method", "torrents/add")

	if !c.ensureConnected(ctx) {
		return "", false
	}

	isMagnet := strings.HasPrefix(strings.ToLower(uri), "magnet:")

	var (
		magnetHash string
		existing   map[string]struct{}
	)

	if isMagnet {
		h, err := HashFromMagnet(uri)
		if err != nil {
			logger.Error("magnet link has no usable info hash", "err", err)

			return "", false
		}

		magnetHash = h
	} else {
		existing = make(map[string]struct{})
		for _, j := range c.ListJobs(ctx) {
			existing[strings.ToLower(j.Hash)] = struct{}{}
		}
	}

	options := map[string]string{}
	if savePath != "" {
		options["savepath"] = savePath
	}

	if err := c.api.AddTorrentFromUrlCtx(ctx, uri, options); err != nil {
		logger.Error("qBittorrent refused torrent", "err", err)

		return "", false
	}

	if isMagnet {
		logger.Info("torrent added from magnet", "hash", magnetHash)

		return magnetHash, true
	}

	logger.Info("torrent URL added, waiting for hash", "url", uri)

	return c.discoverHash(ctx, existing)
}

func (c *Client) discoverHash(ctx context.Context, existing map[string]struct{}) (string, bool) {
	logger := logctx.LoggerFromContext(ctx)

	timer := time.NewTimer(c.discoveryInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= c.discoveryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			logger.Warn("hash discovery canceled", "attempt", attempt, "err", ctx.Err())

			return "", false
		case <-timer.C:
		}

		for _, j := range c.ListJobs(ctx) {
			hash := strings.ToLower(j.Hash)
			if _, seen := existing[hash]; !seen {
				logger.Info("found hash for added torrent", "hash", hash, "attempt", attempt)

				return hash, true
			}
		}

		timer.Reset(c.discoveryInterval)
	}

	logger.Warn("could not determine hash for added torrent", "attempts", c.discoveryAttempts)

	return "", false
}

// ListJobs returns every torrent. A failed poll marks the client disconnected so the next
// call logs in again.
func (c *Client) ListJobs(ctx context.Context) []dc.Job {
	logger := logctx.LoggerFromContext(ctx).With("method", "torrents/info")

	if !c.ensureConnected(ctx) {
		return []dc.Job{}
	}

	torrents, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		logger.Error("failed to list torrents", "err", err)
		c.setConnected(false)

		return []dc.Job{}
	}

	jobs := make([]dc.Job, 0, len(torrents))
	for _, t := range torrents {
		jobs = append(jobs, toJob(t))
	}

	return jobs
}

func (c *Client) ListJobFiles(ctx context.Context, hash string) []dc.JobFile {
	logger := logctx.LoggerFromContext(ctx).With("method", "torrents/files", "hash", hash)

	if !c.ensureConnected(ctx) {
		return []dc.JobFile{}
	}

	files, err := c.api.GetFilesInformationCtx(ctx, hash)
	if err != nil {
		logger.Error("failed to list torrent files", "err", err)

		return []dc.JobFile{}
	}

	if files == nil {
		return []dc.JobFile{}
	}

	out := make([]dc.JobFile, 0, len(*files))
	for _, f := range *files {
		out = append(out, dc.JobFile{
			Index:    f.Index,
			Name:     f.Name,
			Size:     f.Size,
			Progress: float64(f.Progress),
			Priority: f.Priority,
		})
	}

	return out
}

// Pause stops a torrent. go-qbittorrent picks pause or stop from the WebUI API version.
func (c *Client) Pause(ctx context.Context, hash string) bool {
	return c.call(ctx, "torrents/pause", hash, func(ctx context.Context) error {
		return c.api.PauseCtx(ctx, []string{hash})
	})
}

func (c *Client) Resume(ctx context.Context, hash string) bool {
	return c.call(ctx, "torrents/resume", hash, func(ctx context.Context) error {
		return c.api.ResumeCtx(ctx, []string{hash})
	})
}

func (c *Client) Remove(ctx context.Context, hash string, deleteFiles bool) bool {
	return c.call(ctx, "torrents/delete", hash, func(ctx context.Context) error {
		return c.api.DeleteTorrentsCtx(ctx, []string{hash}, deleteFiles)
	})
}

func (c *Client) call(ctx context.Context, method, hash string, fn func(ctx context.Context) error) bool {
	logger := logctx.LoggerFromContext(ctx).With("method", method, "hash", hash)

	if !c.ensureConnected(ctx) {
		return false
	}

	if err := fn(ctx); err != nil {
		logger.Error("request failed", "err", err)

		return false
	}

	return true
}

func toJob(t qbt.Torrent) dc.Job {
	return dc.Job{
		Hash:       strings.ToLower(t.Hash),
		Name:       t.Name,
		Size:       t.Size,
		Progress:   t.Progress,
		DLSpeed:    t.DlSpeed,
		UPSpeed:    t.UpSpeed,
		ETA:        t.ETA,
		State:      string(t.State),
		SavePath:   t.SavePath,
		Downloaded: t.Downloaded,
		Uploaded:   t.Uploaded,
	}
}

// HashFromMagnet extracts the btih info hash (hex or base32) as lowercase hex.
func HashFromMagnet(uri string) (string, error) {
	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse magnet uri: %w", err)
	}

	if m.InfoHash == (metainfo.Hash{}) {
		return "", fmt.Errorf("magnet uri has no btih info hash")
	}

	return strings.ToLower(m.InfoHash.HexString()), nil
}
