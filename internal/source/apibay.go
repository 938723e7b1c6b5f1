package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/italolelis/downloadhub/internal/logctx"
)

const (
	apibayName       = "apibay"
	apibayMaxBody    = 8 << 20
	apibayCacheLimit = 1024
)

var defaultTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://exodus.desync.com:6969/announce",
}

var (
	yearPattern    = regexp.MustCompile(`\b(19[0-9]{2}|20[0-9]{2})\b`)
	qualityPattern = regexp.MustCompile(`(?i)\b(2160p|1080p|720p|480p|4k)\b`)
)

type cachedResult struct {
	name     string
	infoHash string
}

// Apibay searches an apibay compatible JSON endpoint (q.php / t.php).
type Apibay struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	cache map[string]cachedResult
	order []string
}

func NewApibay(baseURL string, client *http.Client) *Apibay {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	return &Apibay{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		cache:   make(map[string]cachedResult),
	}
}

var (
	_ Source   = (*Apibay)(nil)
	_ Detailer = (*Apibay)(nil)
)

func (a *Apibay) Name() string {
	return apibayName
}

// Search returns results ordered by seeders, most first.
func (a *Apibay) Search(ctx context.Context, query string) ([]Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("provider", apibayName)

	query = strings.TrimSpace(query)
	if query == "" {
		return []Result{}, nil
	}

	var torrents []apibayTorrent
	if err := a.get(ctx, "/q.php", url.Values{"q": {query}}, &torrents); err != nil {
		return nil, fmt.Errorf("searching for %q: %w", query, err)
	}

	results := make([]Result, 0, len(torrents))

	for _, t := range torrents {
		// apibay answers an empty search with a single placeholder row
		if t.ID == 0 || isZeroHash(t.InfoHash) {
			continue
		}

		a.remember(t.id(), cachedResult{name: t.Name, infoHash: t.InfoHash})
		results = append(results, t.result())
	}

	sort.SliceStable(results, func(i, j int) bool {
		return derefInt(results[i].Seeds) > derefInt(results[j].Seeds)
	})

	logger.Info("search completed", "query", query, "results", len(results))

	return results, nil
}

// Magnet builds a magnet URI for a result, looking it up remotely when it was not part of a
// recent search.
func (a *Apibay) Magnet(ctx context.Context, resultID string) (string, error) {
	entry, ok := a.lookup(resultID)
	if !ok {
		t, err := a.torrent(ctx, resultID)
		if err != nil {
			return "", err
		}

		entry = cachedResult{name: t.Name, infoHash: t.InfoHash}
	}

	var hash metainfo.Hash
	if err := hash.FromHexString(entry.infoHash); err != nil {
		return "", fmt.Errorf("result %s has an invalid info hash: %w", resultID, err)
	}

	m := metainfo.Magnet{
		InfoHash:    hash,
		DisplayName: entry.name,
		Trackers:    defaultTrackers,
	}

	return m.String(), nil
}

func (a *Apibay) Details(ctx context.Context, resultID string) (map[string]any, error) {
	t, err := a.torrent(ctx, resultID)
	if err != nil {
		return nil, err
	}

	details := map[string]any{
		"title":     t.Name,
		"infoHash":  strings.ToLower(t.InfoHash),
		"sizeBytes": int64(t.Size),
		"seeds":     int(t.Seeders),
		"peers":     int(t.Leechers),
		"numFiles":  int(t.NumFiles),
	}

	if t.Added > 0 {
		details["added"] = time.Unix(int64(t.Added), 0).UTC()
	}

	if t.Description != "" {
		details["description"] = t.Description
	}

	if t.IMDB != "" {
		details["imdb"] = t.IMDB
	}

	return details, nil
}

func (a *Apibay) torrent(ctx context.Context, resultID string) (*apibayTorrent, error) {
	var t apibayTorrent
	if err := a.get(ctx, "/t.php", url.Values{"id": {resultID}}, &t); err != nil {
		return nil, fmt.Errorf("fetching result %s: %w", resultID, err)
	}

	if t.ID == 0 || t.Name == "" || isZeroHash(t.InfoHash) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, resultID)
	}

	return &t, nil
}

func (a *Apibay) get(ctx context.Context, path string, query url.Values, dst any) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building http request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	rsp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending http request: %w", err)
	}

	defer func() { err = errors.Join(err, rsp.Body.Close()) }()

	data, err := io.ReadAll(io.LimitReader(rsp.Body, apibayMaxBody))
	if err != nil {
		return fmt.Errorf("reading http response body: %w", err)
	}

	if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("non-%d response status %d: %s", http.StatusOK, rsp.StatusCode, data)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshaling http response: %w", err)
	}

	return nil
}

func (a *Apibay) remember(id string, r cachedResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.cache[id]; !ok {
		a.order = append(a.order, id)
	}

	a.cache[id] = r

	for len(a.order) > apibayCacheLimit {
		delete(a.cache, a.order[0])
		a.order = a.order[1:]
	}
}

func (a *Apibay) lookup(id string) (cachedResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.cache[id]

	return r, ok
}

type apibayTorrent struct {
	ID          intString `json:"id"`
	Name        string    `json:"name"`
	InfoHash    string    `json:"info_hash"`
	Leechers    intString `json:"leechers"`
	Seeders     intString `json:"seeders"`
	NumFiles    intString `json:"num_files"`
	Size        intString `json:"size"`
	Added       intString `json:"added"`
	Description string    `json:"descr"`
	IMDB        string    `json:"imdb"`
}

func (t apibayTorrent) id() string {
	return strconv.FormatInt(int64(t.ID), 10)
}

func (t apibayTorrent) result() Result {
	size := int64(t.Size)
	seeds := int(t.Seeders)
	peers := int(t.Leechers)

	r := Result{
		ID:        t.id(),
		Title:     t.Name,
		SizeBytes: &size,
		Seeds:     &seeds,
		Peers:     &peers,
		Provider:  apibayName,
	}

	if m := yearPattern.FindString(t.Name); m != "" {
		year, _ := strconv.Atoi(m)
		r.Year = &year
	}

	r.Quality = strings.ToLower(qualityPattern.FindString(t.Name))

	return r
}

// intString decodes integers apibay sends as strings ("123"), and plain numbers too.
type intString int64

func (i *intString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}

		*i = intString(n)

		return nil
	}

	if s == "" {
		*i = 0

		return nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}

	*i = intString(n)

	return nil
}

func isZeroHash(h string) bool {
	return strings.Trim(h, "0") == ""
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}

	return *p
}
