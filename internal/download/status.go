package download

// Status is the lifecycle state of a Download.
type Status string

const (
	StatusQueued         Status = "QUEUED"
	StatusFetchingMagnet Status = "FETCHING_MAGNET"
	StatusAddingToEngine Status = "ADDING_TO_ENGINE"
	StatusDownloading    Status = "DOWNLOADING"
	StatusPaused         Status = "PAUSED"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusCanceled       Status = "CANCELED"
)

// ActiveStatuses are the non-terminal states the reconciler looks at.
var ActiveStatuses = []Status{
	StatusQueued,
	StatusFetchingMagnet,
	StatusAddingToEngine,
	StatusDownloading,
	StatusPaused,
}

// TerminalStatuses never change once reached.
var TerminalStatuses = []Status{
	StatusCompleted,
	StatusFailed,
	StatusCanceled,
}

// transitions lists the allowed next states for every non-terminal state.
// COMPLETED, FAILED and CANCELED are reachable from all of them.
var transitions = map[Status][]Status{
	StatusQueued:         {StatusFetchingMagnet, StatusAddingToEngine},
	StatusFetchingMagnet: {StatusAddingToEngine, StatusQueued},
	StatusAddingToEngine: {StatusDownloading, StatusQueued},
	StatusDownloading:    {StatusPaused},
	StatusPaused:         {StatusDownloading},
}

// IsTerminal reports whether s is one of COMPLETED, FAILED or CANCELED.
func (s Status) IsTerminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}

	return false
}

// IsActive reports whether s is one of the non-terminal states.
func (s Status) IsActive() bool {
	_, ok := transitions[s]

	return ok
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}

	if next.IsTerminal() {
		return true
	}

	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// ParseStatus converts a raw value into a Status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)

	return s, s.Valid()
}
