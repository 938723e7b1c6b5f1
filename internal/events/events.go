package events

import "github.com/italolelis/downloadhub/internal/download"

// Type identifies an event on the stream.
type Type string

const (
	TypeProgress     Type = "PROGRESS"
	TypeStatusChange Type = "STATUS_CHANGE"
	TypeCompleted    Type = "COMPLETED"
	TypeFailed       Type = "FAILED"
	TypeError        Type = "ERROR"
)

// Event is what subscribers receive, serialized as {"type": ..., "payload": ...}.
type Event struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

type ProgressPayload struct {
	DownloadID      string `json:"downloadId"`
	Progress        int    `json:"progress"`
	DownloadedBytes int64  `json:"downloadedBytes"`
	ETA             *int64 `json:"eta"`
	DownloadSpeed   int64  `json:"downloadSpeed"`
	UploadSpeed     int64  `json:"uploadSpeed"`
}

type StatusChangePayload struct {
	DownloadID   string          `json:"downloadId"`
	Status       download.Status `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

type CompletedPayload struct {
	DownloadID string `json:"downloadId"`
}

type FailedPayload struct {
	DownloadID   string `json:"downloadId"`
	ErrorMessage string `json:"errorMessage"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func ProgressEvent(p ProgressPayload) Event {
	return Event{Type: TypeProgress, Payload: p}
}

func StatusChangeEvent(downloadID string, status download.Status, errorMessage string) Event {
	return Event{Type: TypeStatusChange, Payload: StatusChangePayload{
		DownloadID:   downloadID,
		Status:       status,
		ErrorMessage: errorMessage,
	}}
}

func CompletedEvent(downloadID string) Event {
	return Event{Type: TypeCompleted, Payload: CompletedPayload{DownloadID: downloadID}}
}

func FailedEvent(downloadID, errorMessage string) Event {
	return Event{Type: TypeFailed, Payload: FailedPayload{DownloadID: downloadID, ErrorMessage: errorMessage}}
}

func ErrorEvent(message string) Event {
	return Event{Type: TypeError, Payload: ErrorPayload{Error: message}}
}
