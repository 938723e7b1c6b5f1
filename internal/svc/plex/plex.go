package plex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/italolelis/downloadhub/internal/download"
	"github.com/italolelis/downloadhub/internal/logctx"
	"golang.org/x/sync/errgroup"
)

// Client represents a Plex Media Server API client.
type Client struct {
	client  *http.Client
	token   string
	baseURL string
}

// NewClient creates a new Plex API client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Section is a Plex library section.
type Section struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type sectionsResponse struct {
	MediaContainer struct {
		Directory []Section `json:"Directory"`
	} `json:"MediaContainer"`
}

// Sections lists the server's library sections.
func (c *Client) Sections(ctx context.Context) ([]Section, error) {
	resp, err := c.get(ctx, "/library/sections", true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sections sectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&sections); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return sections.MediaContainer.Directory, nil
}

// Refresh triggers a scan of one library section.
func (c *Client) Refresh(ctx context.Context, key string) error {
	resp, err := c.get(ctx, "/library/sections/"+url.PathEscape(key)+"/refresh", false)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

// RefreshMedia refreshes every movie and show section and returns how many were triggered.
func (c *Client) RefreshMedia(ctx context.Context) (int, error) {
	sections, err := c.Sections(ctx)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	refreshed := 0

	for _, s := range sections {
		if s.Type != "movie" && s.Type != "show" {
			continue
		}

		refreshed++

		g.Go(func() error {
			if err := c.Refresh(gctx, s.Key); err != nil {
				return fmt.Errorf("failed to refresh section %s: %w", s.Title, err)
			}

			return nil
		})
	}

	return refreshed, g.Wait()
}

// DownloadCompleted refreshes the media sections so the finished download shows up in Plex.
func (c *Client) DownloadCompleted(ctx context.Context, d download.Download) {
	logger := logctx.LoggerFromContext(ctx).With("download_id", d.ID)

	n, err := c.RefreshMedia(ctx)
	if err != nil {
		logger.Error("failed to refresh plex libraries", "err", err)
		return
	}

	logger.Info("plex library refresh triggered", "sections", n)
}

func (c *Client) DownloadFailed(context.Context, download.Download) {}

func (c *Client) get(ctx context.Context, path string, decode bool) (*http.Response, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("failed to build url: %w", err)
	}

	q := u.Query()
	q.Set("X-Plex-Token", c.token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if decode {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Join(fmt.Errorf("path: %s, status: %d", path, resp.StatusCode), resp.Body.Close())
	}

	return resp, nil
}
