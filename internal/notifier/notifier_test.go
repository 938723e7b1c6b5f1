package notifier_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/downloadhub/internal/download"
	"github.com/italolelis/downloadhub/internal/notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNtfyNotifier(t *testing.T) {
	var (
		got  map[string]any
		auth string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := &notifier.NtfyNotifier{ServerURL: srv.URL, Topic: "downloads", AccessToken: "tk_123"}

	err := n.Notify(context.Background(), notifier.Message{Title: "hello", Body: "world"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tk_123", auth)
	assert.Equal(t, "downloads", got["topic"])
	assert.Equal(t, "hello", got["title"])
	assert.Equal(t, "world", got["message"])
	assert.EqualValues(t, notifier.PriorityDefault, got["priority"])
	assert.Equal(t, []any{}, got["tags"])
}

func TestNtfyNotifierErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tests := []struct {
		name string
		n    *notifier.NtfyNotifier
	}{
		{name: "rejected", n: &notifier.NtfyNotifier{ServerURL: srv.URL, Topic: "t"}},
		{name: "no topic", n: &notifier.NtfyNotifier{ServerURL: srv.URL}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.n.Notify(context.Background(), notifier.Message{Title: "x"}))
		})
	}
}

func TestDiscordNotifier(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := &notifier.DiscordNotifier{WebhookURL: srv.URL}
	require.NoError(t, d.Notify(context.Background(), notifier.Message{Title: "Done", Body: "movie"}))
	assert.Equal(t, "**Done**\nmovie", got["content"])

	assert.Error(t, (&notifier.DiscordNotifier{}).Notify(context.Background(), notifier.Message{}))
}

type recordingNotifier struct {
	name string
	err  error
	msgs []notifier.Message
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, msg notifier.Message) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestDispatcher(t *testing.T) {
	failing := &recordingNotifier{name: "failing", err: errors.New("down")}
	ok := &recordingNotifier{name: "ok"}

	d := notifier.NewDispatcher(nil, failing, ok)
	assert.Equal(t, 2, d.Len())

	size := int64(1536 * 1024 * 1024)
	d.DownloadCompleted(context.Background(), download.Download{Name: "Big Buck Bunny", SizeBytes: &size})
	d.DownloadFailed(context.Background(), download.Download{Name: "Sintel", ErrorMessage: "Download failed in torrent engine"})

	require.Len(t, failing.msgs, 2, "a failing notifier does not stop delivery")
	require.Len(t, ok.msgs, 2)

	assert.Equal(t, "Big Buck Bunny (1.5 GiB) has finished downloading", ok.msgs[0].Body)
	assert.Equal(t, "Sintel failed: Download failed in torrent engine", ok.msgs[1].Body)
	assert.Equal(t, notifier.PriorityHigh, ok.msgs[1].Priority)
}

func TestCompletedMessageUnknownSize(t *testing.T) {
	msg := notifier.CompletedMessage(download.Download{Name: "x"})
	assert.Equal(t, "x (unknown size) has finished downloading", msg.Body)
}
