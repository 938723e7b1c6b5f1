package plex_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/italolelis/downloadhub/internal/download"
	"github.com/italolelis/downloadhub/internal/svc/plex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sectionsBody = `{"MediaContainer":{"Directory":[
	{"key":"1","title":"Movies","type":"movie"},
	{"key":"2","title":"TV Shows","type":"show"},
	{"key":"3","title":"Music","type":"artist"}
]}}`

type fakePlex struct {
	mu        sync.Mutex
	refreshed []string
	tokens    []string
	failKey   string
}

func (f *fakePlex) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/library/sections", func(w http.ResponseWriter, r *http.Request) {
		f.token(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sectionsBody))
	})

	mux.HandleFunc("/library/sections/{key}/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.token(r)

		key := r.PathValue("key")
		if key == f.failKey {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		f.mu.Lock()
		f.refreshed = append(f.refreshed, key)
		f.mu.Unlock()
	})

	return mux
}

func (f *fakePlex) token(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tokens = append(f.tokens, r.URL.Query().Get("X-Plex-Token"))
}

func TestRefreshMedia(t *testing.T) {
	fake := &fakePlex{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := plex.NewClient(srv.URL+"/", "secret")

	n, err := c.RefreshMedia(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sort.Strings(fake.refreshed)
	assert.Equal(t, []string{"1", "2"}, fake.refreshed, "music sections are left alone")

	for _, tok := range fake.tokens {
		assert.Equal(t, "secret", tok)
	}
}

func TestRefreshMediaSectionFailure(t *testing.T) {
	fake := &fakePlex{failKey: "2"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	_, err := plex.NewClient(srv.URL, "secret").RefreshMedia(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TV Shows")
}

func TestSectionsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := plex.NewClient(srv.URL, "bad").Sections(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestDownloadCompletedSwallowsErrors(t *testing.T) {
	c := plex.NewClient("http://127.0.0.1:1", "secret")

	assert.NotPanics(t, func() {
		c.DownloadCompleted(context.Background(), download.Download{ID: "x"})
		c.DownloadFailed(context.Background(), download.Download{ID: "x"})
	})
}
