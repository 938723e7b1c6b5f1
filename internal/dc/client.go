package dc

import (
	"context"
	"strings"
)

// Job is a point-in-time snapshot of a torrent as the engine reports it.
type Job struct {
	Hash       string  `json:"hash"`
	Name       string  `json:"name"`
	Size       int64   `json:"size"`
	Progress   float64 `json:"progress"`
	DLSpeed    int64   `json:"dlspeed"`
	UPSpeed    int64   `json:"upspeed"`
	ETA        int64   `json:"eta"`
	State      string  `json:"state"`
	SavePath   string  `json:"save_path"`
	Downloaded int64   `json:"downloaded"`
	Uploaded   int64   `json:"uploaded"`
}

// JobFile is one file inside a torrent. Name is relative to the job's save path.
type JobFile struct {
	Index    int     `json:"index"`
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
	Priority int     `json:"priority"`
}

// Engine is the torrent daemon control surface. Implementations never return errors:
// failures are logged and surface as false, "" or an empty slice.
type Engine interface {
	IsEnabled() bool
	IsConnected() bool
	Login(ctx context.Context) bool
	// AddJob submits a magnet URI or a .torrent URL and returns the lowercase hex handle.
	AddJob(ctx context.Context, uri, savePath string) (string, bool)
	ListJobs(ctx context.Context) []Job
	ListJobFiles(ctx context.Context, hash string) []JobFile
	Pause(ctx context.Context, hash string) bool
	Resume(ctx context.Context, hash string) bool
	Remove(ctx context.Context, hash string, deleteFiles bool) bool
}

// FindJob returns the job whose hash equals handle ignoring case.
func FindJob(jobs []Job, handle string) (Job, bool) {
	for _, j := range jobs {
		if strings.EqualFold(j.Hash, handle) {
			return j, true
		}
	}

	return Job{}, false
}
