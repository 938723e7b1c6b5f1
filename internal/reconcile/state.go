package reconcile

import "github.com/italolelis/downloadhub/internal/download"

// engineStates maps qBittorrent torrent states onto download statuses. States not listed
// (unknown, checkingResumeData, moving) leave the status alone.
var engineStates = map[string]download.Status{
	"downloading":  download.StatusDownloading,
	"stalledDL":    download.StatusDownloading,
	"metaDL":       download.StatusDownloading,
	"forcedMetaDL": download.StatusDownloading,
	"forcedDL":     download.StatusDownloading,
	"allocating":   download.StatusDownloading,
	"checkingDL":   download.StatusDownloading,

	"pausedDL":  download.StatusPaused,
	"stoppedDL": download.StatusPaused,
	"queuedDL":  download.StatusPaused,

	// a torrent that finished and was paused afterwards still counts as complete
	"uploading":  download.StatusCompleted,
	"stalledUP":  download.StatusCompleted,
	"forcedUP":   download.StatusCompleted,
	"pausedUP":   download.StatusCompleted,
	"stoppedUP":  download.StatusCompleted,
	"queuedUP":   download.StatusCompleted,
	"checkingUP": download.StatusCompleted,

	"error":        download.StatusFailed,
	"missingFiles": download.StatusFailed,
}

// MapState returns the status for an engine state, or false when the state carries no status.
func MapState(state string) (download.Status, bool) {
	s, ok := engineStates[state]

	return s, ok
}
