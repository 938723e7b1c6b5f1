package download_test

import (
	"testing"

	"github.com/italolelis/downloadhub/internal/download"
	"github.com/stretchr/testify/assert"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from download.Status
		to   download.Status
		want bool
	}{
		{"queued to fetching", download.StatusQueued, download.StatusFetchingMagnet, true},
		{"fetching to adding", download.StatusFetchingMagnet, download.StatusAddingToEngine, true},
		{"fetching back to queued when engine disabled", download.StatusFetchingMagnet, download.StatusQueued, true},
		{"adding to downloading", download.StatusAddingToEngine, download.StatusDownloading, true},
		{"adding to failed", download.StatusAddingToEngine, download.StatusFailed, true},
		{"downloading to paused", download.StatusDownloading, download.StatusPaused, true},
		{"paused to downloading", download.StatusPaused, download.StatusDownloading, true},
		{"paused to completed", download.StatusPaused, download.StatusCompleted, true},
		{"queued to canceled", download.StatusQueued, download.StatusCanceled, true},
		{"queued to downloading skips engine add", download.StatusQueued, download.StatusDownloading, false},
		{"queued to paused", download.StatusQueued, download.StatusPaused, false},
		{"downloading to queued", download.StatusDownloading, download.StatusQueued, false},
		{"completed is terminal", download.StatusCompleted, download.StatusDownloading, false},
		{"failed is terminal", download.StatusFailed, download.StatusCanceled, false},
		{"canceled is terminal", download.StatusCanceled, download.StatusCompleted, false},
		{"unknown target", download.StatusDownloading, download.Status("SEEDING"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_Classification(t *testing.T) {
	for _, s := range download.ActiveStatuses {
		assert.True(t, s.IsActive(), s)
		assert.False(t, s.IsTerminal(), s)
	}

	for _, s := range download.TerminalStatuses {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsActive(), s)
	}

	_, ok := download.ParseStatus("DOWNLOADING")
	assert.True(t, ok)

	_, ok = download.ParseStatus("downloading")
	assert.False(t, ok)
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		fraction float64
		want     int
	}{
		{0, 0},
		{0.42, 42},
		{0.999, 100},
		{1, 100},
		{1.2, 100},
		{-0.1, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, download.ProgressPercent(tt.fraction), "fraction %v", tt.fraction)
	}
}

func TestSaneETA(t *testing.T) {
	tests := []struct {
		name string
		eta  int64
		want *int64
	}{
		{"zero", 0, nil},
		{"negative", -1, nil},
		{"infinity sentinel", download.MaxSaneETA, nil},
		{"beyond sentinel", download.MaxSaneETA + 10, nil},
		{"one second", 1, ptr(int64(1))},
		{"just below bound", download.MaxSaneETA - 1, ptr(download.MaxSaneETA - 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, download.SaneETA(tt.eta))
		})
	}
}

func TestClampDownloaded(t *testing.T) {
	assert.Equal(t, int64(100), download.ClampDownloaded(150, 100))
	assert.Equal(t, int64(50), download.ClampDownloaded(50, 100))
	assert.Equal(t, int64(50), download.ClampDownloaded(50, 0))
	assert.Equal(t, int64(0), download.ClampDownloaded(-5, 100))
}

func ptr[T any](v T) *T {
	return &v
}
