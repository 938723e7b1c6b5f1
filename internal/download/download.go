package download

import (
	"math"
	"time"
)

// MaxSaneETA is the upper bound (exclusive) for an engine reported ETA. qBittorrent
// reports 8640000 (100 days) when it cannot estimate.
const MaxSaneETA int64 = 8_640_000

// Download is a user initiated acquisition job mirrored from the torrent engine.
type Download struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Status          Status    `json:"status"`
	Progress        int       `json:"progress"`
	ETA             *int64    `json:"eta"`
	SizeBytes       *int64    `json:"sizeBytes"`
	DownloadedBytes int64     `json:"downloadedBytes"`
	SavePath        string    `json:"savePath,omitempty"`
	Provider        string    `json:"provider"`
	ResultID        string    `json:"resultId"`
	MagnetURI       string    `json:"magnetUri,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	Handle          string    `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// HasHandle reports whether the engine accepted the job and a handle was stored.
func (d *Download) HasHandle() bool {
	return d.Handle != ""
}

// ProgressPercent converts an engine progress fraction into a whole percentage in [0, 100].
func ProgressPercent(fraction float64) int {
	if math.IsNaN(fraction) {
		return 0
	}

	p := int(math.Round(fraction * 100))

	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// SaneETA drops sentinel values outside (0, MaxSaneETA).
func SaneETA(eta int64) *int64 {
	if eta <= 0 || eta >= MaxSaneETA {
		return nil
	}

	return &eta
}

// ClampDownloaded keeps downloaded bytes within the known size.
func ClampDownloaded(downloaded, size int64) int64 {
	if downloaded < 0 {
		return 0
	}

	if size > 0 && downloaded > size {
		return size
	}

	return downloaded
}
