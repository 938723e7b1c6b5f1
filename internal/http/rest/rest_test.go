package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/italolelis/downloadhub/internal/audit"
	"github.com/italolelis/downloadhub/internal/dc/dctest"
	"github.com/italolelis/downloadhub/internal/downloader"
	"github.com/italolelis/downloadhub/internal/events"
	"github.com/italolelis/downloadhub/internal/http/rest"
	"github.com/italolelis/downloadhub/internal/library"
	"github.com/italolelis/downloadhub/internal/source"
	"github.com/italolelis/downloadhub/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hash = "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"

type stubSource struct{}

func (stubSource) Name() string { return "stub" }

func (stubSource) Search(context.Context, string) ([]source.Result, error) {
	return []source.Result{{ID: "1", Title: "Big Buck Bunny", Provider: "stub"}}, nil
}

func (stubSource) Magnet(_ context.Context, id string) (string, error) {
	if id != "1" {
		return "", source.ErrResultNotFound
	}

	return "magnet:?xt=urn:btih:" + hash, nil
}

type fixture struct {
	engine  *dctest.Engine
	hub     *events.Hub
	library *library.Service
	audit   *audit.Recorder
	root    string
	srv     *httptest.Server
}

func newFixture(t *testing.T, username, password string) *fixture {
	t.Helper()

	db, err := sqlite.InitDB(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()

	lib, err := library.NewService(root, sqlite.NewLibraryRepository(db))
	require.NoError(t, err)

	f := &fixture{
		engine:  dctest.NewEngine(),
		hub:     events.NewHub(nil),
		library: lib,
		audit:   audit.NewRecorder(sqlite.NewAuditRepository(db)),
		root:    root,
	}
	f.engine.AddHash = hash

	svc := downloader.NewService(f.engine, sqlite.NewDownloadRepository(db), source.NewRegistry(stubSource{}), f.hub, root, nil, f.audit)

	f.srv = httptest.NewServer(rest.NewRouter(rest.RouterConfig{
		Downloads: svc,
		Library:   lib,
		Hub:       f.hub,
		Engine:    f.engine,
		Audit:     f.audit,
		Username:  username,
		Password:  password,
	}))
	t.Cleanup(f.srv.Close)
	t.Cleanup(func() { f.hub.Close(context.Background()) })

	return f
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, response) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return resp.StatusCode, out
}

func (f *fixture) confirm(t *testing.T) string {
	t.Helper()

	status, resp := f.do(t, http.MethodPost, "/api/downloads/confirm", map[string]string{"provider": "stub", "resultId": "1"})
	require.Equal(t, http.StatusCreated, status, resp.Error)

	var d struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &d))
	require.Equal(t, "DOWNLOADING", d.Status)

	return d.ID
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "", "")
	f.engine.Connected = false

	status, resp := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","engine":{"enabled":true,"connected":false},"subscribers":0}`, string(resp.Data))
}

func TestSources(t *testing.T) {
	f := newFixture(t, "", "")

	status, resp := f.do(t, http.MethodGet, "/api/sources", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `["stub"]`, string(resp.Data))
}

func TestSearchRequest(t *testing.T) {
	f := newFixture(t, "", "")

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "ok", body: map[string]string{"provider": "stub", "query": "bunny"}, status: http.StatusOK},
		{name: "missing query", body: map[string]string{"provider": "stub"}, status: http.StatusBadRequest},
		{name: "query too long", body: map[string]string{"provider": "stub", "query": strings.Repeat("a", 201)}, status: http.StatusBadRequest},
		{name: "unknown provider", body: map[string]string{"provider": "nope", "query": "bunny"}, status: http.StatusBadRequest},
		{name: "not json", body: "{", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := f.do(t, http.MethodPost, "/api/downloads/request", tt.body)
			assert.Equal(t, tt.status, status, resp.Error)
			assert.Equal(t, tt.status == http.StatusOK, resp.Success)
		})
	}
}

func TestConfirmAndActions(t *testing.T) {
	f := newFixture(t, "", "")
	id := f.confirm(t)

	status, _ := f.do(t, http.MethodGet, "/api/downloads/"+id, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPost, "/api/downloads/"+id+"/pause", nil)
	assert.Equal(t, http.StatusOK, status)

	status, resp := f.do(t, http.MethodPost, "/api/downloads/"+id+"/pause", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, resp.Error, "PAUSED")

	f.engine.ActionOK = false
	status, _ = f.do(t, http.MethodPost, "/api/downloads/"+id+"/resume", nil)
	assert.Equal(t, http.StatusBadGateway, status)

	status, _ = f.do(t, http.MethodPost, "/api/downloads/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusOK, status, "cancel ignores the engine answer")

	status, _ = f.do(t, http.MethodPost, "/api/downloads/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestConfirmUnknownResult(t *testing.T) {
	f := newFixture(t, "", "")

	status, _ := f.do(t, http.MethodPost, "/api/downloads/confirm", map[string]string{"provider": "stub", "resultId": "42"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDownloadIDValidation(t *testing.T) {
	f := newFixture(t, "", "")

	status, _ := f.do(t, http.MethodGet, "/api/downloads/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodGet, "/api/downloads/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListDownloads(t *testing.T) {
	f := newFixture(t, "", "")
	f.confirm(t)
	f.confirm(t)

	status, resp := f.do(t, http.MethodGet, "/api/downloads?page=1&pageSize=1&status=DOWNLOADING", nil)
	require.Equal(t, http.StatusOK, status)

	var page struct {
		Items    []json.RawMessage `json:"items"`
		Total    int               `json:"total"`
		PageSize int               `json:"pageSize"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.PageSize)

	status, _ = f.do(t, http.MethodGet, "/api/downloads?status=BOGUS", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestFilesEndpoint(t *testing.T) {
	f := newFixture(t, "", "")
	id := f.confirm(t)

	status, resp := f.do(t, http.MethodGet, "/api/downloads/"+id+"/files", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(resp.Data))
}

func TestLibrary(t *testing.T) {
	f := newFixture(t, "", "")

	path := filepath.Join(f.root, "movie.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	file, err := f.library.Register(context.Background(), path, "")
	require.NoError(t, err)

	status, resp := f.do(t, http.MethodGet, "/api/library?q=movie", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"total":1`)

	status, _ = f.do(t, http.MethodGet, "/api/library?q="+strings.Repeat("a", 201), nil)
	assert.Equal(t, http.StatusBadRequest, status)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/files/"+file.ID, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=2-4")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, res.StatusCode)
	assert.Equal(t, "234", string(body))

	status, _ = f.do(t, http.MethodGet, "/files/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, "admin", "secret")

	status, _ := f.do(t, http.MethodGet, "/api/sources", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status, "health stays public")

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/sources", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "secret")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	req.SetBasicAuth("admin", "wrong")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestWebSocketReceivesEvents(t *testing.T) {
	f := newFixture(t, "", "")

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	f.confirm(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var e struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "STATUS_CHANGE", e.Type)
	assert.Equal(t, "DOWNLOADING", e.Payload["status"])
}

func TestValidationMessageUsesJSONNames(t *testing.T) {
	f := newFixture(t, "", "")

	status, resp := f.do(t, http.MethodPost, "/api/downloads/confirm", map[string]string{"provider": "stub"})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "resultId is required", resp.Error)
}

type auditEntry struct {
	UserID    string `json:"userId"`
	Action    string `json:"action"`
	Details   string `json:"details"`
	IPAddress string `json:"ipAddress"`
}

func (f *fixture) auditTrail(t *testing.T, user, pass string) []auditEntry {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/audit?pageSize=100", nil)
	require.NoError(t, err)

	if user != "" {
		req.SetBasicAuth(user, pass)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out struct {
		Data struct {
			Items []auditEntry `json:"items"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))

	return out.Data.Items
}

func TestAuditTrail(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		f := newFixture(t, "", "")
		id := f.confirm(t)

		path := filepath.Join(f.root, "movie.txt")
		require.NoError(t, os.WriteFile(path, []byte("frames"), 0o644))

		file, err := f.library.Register(context.Background(), path, "")
		require.NoError(t, err)

		res, err := http.Get(f.srv.URL + "/files/" + file.ID)
		require.NoError(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		entries := f.auditTrail(t, "", "")
		require.Len(t, entries, 2)

		assert.Equal(t, "FILE_DOWNLOAD", entries[0].Action)
		assert.JSONEq(t, `{"fileId":"`+file.ID+`","fileName":"movie.txt"}`, entries[0].Details)
		assert.Equal(t, "DOWNLOAD_CONFIRM", entries[1].Action)
		assert.Contains(t, entries[1].Details, id)

		for _, e := range entries {
			assert.Equal(t, audit.AnonymousUser, e.UserID)
			assert.Equal(t, "127.0.0.1", e.IPAddress)
		}
	})

	t.Run("basic auth user", func(t *testing.T) {
		f := newFixture(t, "admin", "secret")

		req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/downloads/request",
			strings.NewReader(`{"provider":"stub","query":"bunny"}`))
		require.NoError(t, err)
		req.SetBasicAuth("admin", "secret")

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		entries := f.auditTrail(t, "admin", "secret")
		require.Len(t, entries, 1)
		assert.Equal(t, "DOWNLOAD_REQUEST", entries[0].Action)
		assert.Equal(t, "admin", entries[0].UserID)
	})
}
