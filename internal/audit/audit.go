package audit

import (
	"context"
	"encoding/json"

	"github.com/italolelis/downloadhub/internal/logctx"
	"github.com/italolelis/downloadhub/internal/storage"
)

// Action names a user action worth keeping a trail of.
type Action string

const (
	ActionDownloadRequest Action = "DOWNLOAD_REQUEST"
	ActionDownloadConfirm Action = "DOWNLOAD_CONFIRM"
	ActionDownloadPause   Action = "DOWNLOAD_PAUSE"
	ActionDownloadResume  Action = "DOWNLOAD_RESUME"
	ActionDownloadCancel  Action = "DOWNLOAD_CANCEL"
	ActionFileDownload    Action = "FILE_DOWNLOAD"
)

// AnonymousUser is the actor when the API runs without authentication.
const AnonymousUser = "anonymous"

// Actor is who performed a request and from where.
type Actor struct {
	UserID string
	IP     string
}

type contextKey struct{}

// WithActor stores the actor of the current request in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// ActorFromContext returns the actor stored in ctx. The user defaults to AnonymousUser.
func ActorFromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(contextKey{}).(Actor)
	if a.UserID == "" {
		a.UserID = AnonymousUser
	}

	return a
}

// Recorder writes audit entries. A nil Recorder records nothing.
type Recorder struct {
	repo storage.AuditRepository
}

func NewRecorder(repo storage.AuditRepository) *Recorder {
	return &Recorder{repo: repo}
}

// Record stores action for the actor in ctx. Failures are logged; the action itself already
// happened and is not undone.
func (r *Recorder) Record(ctx context.Context, action Action, details map[string]any) {
	if r == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)
	actor := ActorFromContext(ctx)

	if details == nil {
		details = map[string]any{}
	}

	raw, err := json.Marshal(details)
	if err != nil {
		logger.Error("failed to encode audit details", "action", action, "err", err)

		return
	}

	entry := &storage.AuditEntry{
		UserID:    actor.UserID,
		Action:    string(action),
		Details:   string(raw),
		IPAddress: actor.IP,
	}

	// the request may be gone by now, the trail must not be
	if err := r.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("failed to write audit entry", "action", action, "user_id", actor.UserID, "err", err)

		return
	}

	logger.Info("audit entry created", "action", action, "user_id", actor.UserID, "ip", actor.IP)
}

// List returns a page of the trail, newest first.
func (r *Recorder) List(ctx context.Context, opts storage.ListOptions) ([]storage.AuditEntry, int, error) {
	if r == nil {
		return []storage.AuditEntry{}, 0, nil
	}

	return r.repo.List(ctx, opts)
}
