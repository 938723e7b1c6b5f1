package source_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/italolelis/downloadhub/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchBody = `[
  {"id":"101","name":"Big Buck Bunny 2008 1080p","info_hash":"C12FE1C06BBA254A9DC9F519B335AA7C1367A88A","leechers":"3","seeders":"12","num_files":"2","size":"1073741824","username":"blender","added":"1700000000","status":"vip","category":"207","imdb":""},
  {"id":"102","name":"Sintel 720p","info_hash":"0123456789ABCDEF0123456789ABCDEF01234567","leechers":"1","seeders":"40","num_files":"1","size":"524288000","username":"blender","added":"1700000001","status":"member","category":"207","imdb":""}
]`

const noResultsBody = `[{"id":"0","name":"No results returned","info_hash":"0000000000000000000000000000000000000000","leechers":"0","seeders":"0","num_files":"0","size":"0","username":"","added":"0","status":"member","category":"0","imdb":""}]`

const detailBody = `{"id":303,"name":"Tears of Steel","info_hash":"ABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD","leechers":2,"seeders":5,"num_files":3,"size":2048,"added":1700000000,"descr":"short film","imdb":"tt2285752"}`

func newApibay(t *testing.T, handler http.HandlerFunc) *source.Apibay {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return source.NewApibay(srv.URL, srv.Client())
}

func TestApibay_Search(t *testing.T) {
	var gotQuery string

	a := newApibay(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/q.php", r.URL.Path)
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, searchBody)
	})

	results, err := a.Search(context.Background(), "  bunny  ")
	require.NoError(t, err)
	assert.Equal(t, "bunny", gotQuery)
	require.Len(t, results, 2)

	// most seeded first
	assert.Equal(t, "102", results[0].ID)
	assert.Equal(t, 40, *results[0].Seeds)
	assert.Equal(t, "720p", results[0].Quality)
	assert.Nil(t, results[0].Year)

	bunny := results[1]
	assert.Equal(t, "Big Buck Bunny 2008 1080p", bunny.Title)
	assert.Equal(t, int64(1073741824), *bunny.SizeBytes)
	assert.Equal(t, 3, *bunny.Peers)
	assert.Equal(t, 2008, *bunny.Year)
	assert.Equal(t, "1080p", bunny.Quality)
	assert.Equal(t, "apibay", bunny.Provider)
}

func TestApibay_Search_NoResults(t *testing.T) {
	a := newApibay(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, noResultsBody)
	})

	results, err := a.Search(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = a.Search(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestApibay_Search_UpstreamError(t *testing.T) {
	a := newApibay(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})

	_, err := a.Search(context.Background(), "bunny")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maintenance")
}

func TestApibay_Magnet_FromCache(t *testing.T) {
	var calls atomic.Int32

	a := newApibay(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, searchBody)
	})

	_, err := a.Search(context.Background(), "bunny")
	require.NoError(t, err)

	uri, err := a.Magnet(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	m, err := metainfo.ParseMagnetUri(uri)
	require.NoError(t, err)
	assert.Equal(t, "c12fe1c06bba254a9dc9f519b335aa7c1367a88a", m.InfoHash.HexString())
	assert.Equal(t, "Big Buck Bunny 2008 1080p", m.DisplayName)
	assert.NotEmpty(t, m.Trackers)
}

func TestApibay_Magnet_Remote(t *testing.T) {
	a := newApibay(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/t.php", r.URL.Path)

		if r.URL.Query().Get("id") != "303" {
			fmt.Fprint(w, `{"id":0,"name":"","info_hash":""}`)

			return
		}

		fmt.Fprint(w, detailBody)
	})

	uri, err := a.Magnet(context.Background(), "303")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "magnet:?xt=urn:btih:abcdefabcdef"), uri)

	_, err = a.Magnet(context.Background(), "999")
	assert.ErrorIs(t, err, source.ErrResultNotFound)
}

func TestApibay_Details(t *testing.T) {
	a := newApibay(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailBody)
	})

	details, err := a.Details(context.Background(), "303")
	require.NoError(t, err)
	assert.Equal(t, "Tears of Steel", details["title"])
	assert.Equal(t, "short film", details["description"])
	assert.Equal(t, "tt2285752", details["imdb"])
	assert.Equal(t, 3, details["numFiles"])
}

func TestRegistry(t *testing.T) {
	a := source.NewApibay("http://unused", nil)
	reg := source.NewRegistry(a)

	got, err := reg.Get("apibay")
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = reg.Get("nope")
	assert.ErrorIs(t, err, source.ErrUnknownSource)

	assert.True(t, reg.Register(source.NewApibay("http://other", nil)))
	assert.Equal(t, []string{"apibay"}, reg.Names())
}

func TestSplitMagnet(t *testing.T) {
	tests := []struct {
		raw         string
		wantURI     string
		wantTorrent bool
	}{
		{"magnet:?xt=urn:btih:abc", "magnet:?xt=urn:btih:abc", false},
		{"torrent:https://example.org/a.torrent", "https://example.org/a.torrent", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			uri, isTorrent := source.SplitMagnet(tt.raw)
			assert.Equal(t, tt.wantURI, uri)
			assert.Equal(t, tt.wantTorrent, isTorrent)
		})
	}
}
