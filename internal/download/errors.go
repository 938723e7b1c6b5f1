package download

import "fmt"

// NotFoundError is returned when a download or library file does not exist.
type NotFoundError struct {
	Resource string // "download", "library file"
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// PreconditionError represents a user action requested from a status that does not allow it,
// e.g. pausing a download that is not DOWNLOADING.
type PreconditionError struct {
	DownloadID string
	Action     string
	Status     Status
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot %s download %s in status %s", e.Action, e.DownloadID, e.Status)
}

// EngineError represents the torrent engine refusing or failing an operation.
type EngineError struct {
	Operation string
	Handle    string
	Err       error
}

func (e *EngineError) Error() string {
	if e.Handle == "" {
		return fmt.Sprintf("torrent engine failed to %s", e.Operation)
	}

	return fmt.Sprintf("torrent engine failed to %s %s", e.Operation, e.Handle)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// ValidationError represents malformed input from a caller.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
