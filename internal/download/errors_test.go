package download

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFoundError_Error(t *testing.T) {
	err := &NotFoundError{Resource: "download", ID: "abc"}

	expected := "download abc not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestPreconditionError_Error(t *testing.T) {
	err := &PreconditionError{DownloadID: "abc", Action: "pause", Status: StatusQueued}

	expected := "cannot pause download abc in status QUEUED"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestEngineError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *EngineError
		wantFormat string
	}{
		{
			name:       "with handle",
			err:        &EngineError{Operation: "pause", Handle: "deadbeef"},
			wantFormat: "torrent engine failed to pause deadbeef",
		},
		{
			name:       "without handle",
			err:        &EngineError{Operation: "add"},
			wantFormat: "torrent engine failed to add",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "provider", Reason: "unknown provider foo"}

	expected := "invalid provider: unknown provider foo"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestErrorUnwrapping verifies errors.As works through wrapped chains.
func TestErrorUnwrapping(t *testing.T) {
	base := errors.New("connection refused")

	tests := []struct {
		name   string
		err    error
		target func(error) bool
	}{
		{
			name: "not found",
			err:  fmt.Errorf("get: %w", &NotFoundError{Resource: "download", ID: "x", Err: base}),
			target: func(err error) bool {
				var e *NotFoundError
				return errors.As(err, &e)
			},
		},
		{
			name: "engine",
			err:  fmt.Errorf("pause: %w", &EngineError{Operation: "pause", Err: base}),
			target: func(err error) bool {
				var e *EngineError
				return errors.As(err, &e)
			},
		},
		{
			name: "precondition",
			err:  fmt.Errorf("resume: %w", &PreconditionError{DownloadID: "x", Action: "resume", Status: StatusDownloading}),
			target: func(err error) bool {
				var e *PreconditionError
				return errors.As(err, &e)
			},
		},
		{
			name: "validation",
			err:  fmt.Errorf("confirm: %w", &ValidationError{Field: "resultId", Reason: "required", Err: base}),
			target: func(err error) bool {
				var e *ValidationError
				return errors.As(err, &e)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.target(tt.err) {
				t.Errorf("errors.As failed for %T", tt.err)
			}
		})
	}

	if !errors.Is(&EngineError{Operation: "pause", Err: base}, base) {
		t.Error("EngineError should unwrap to its cause")
	}
}
