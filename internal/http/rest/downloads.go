package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/italolelis/downloadhub/internal/dc"
	"github.com/italolelis/downloadhub/internal/download"
	"github.com/italolelis/downloadhub/internal/logctx"
	"github.com/italolelis/downloadhub/internal/source"
	"github.com/italolelis/downloadhub/internal/storage"
)

// DownloadService is the orchestration surface the download routes need.
type DownloadService interface {
	Providers() []string
	Search(ctx context.Context, provider, query string) ([]source.Result, error)
	Confirm(ctx context.Context, provider, resultID string) (*download.Download, error)
	Get(ctx context.Context, id string) (*download.Download, error)
	List(ctx context.Context, opts storage.ListOptions) ([]download.Download, int, error)
	Pause(ctx context.Context, id string) (*download.Download, error)
	Resume(ctx context.Context, id string) (*download.Download, error)
	Cancel(ctx context.Context, id string) (*download.Download, error)
	Files(ctx context.Context, id string) ([]dc.JobFile, error)
}

type searchRequest struct {
	Query    string `json:"query" validate:"required,min=1,max=200"`
	Provider string `json:"provider" validate:"required,min=1,max=50"`
}

type confirmRequest struct {
	Provider string `json:"provider" validate:"required,min=1,max=50"`
	ResultID string `json:"resultId" validate:"required,min=1,max=100"`
}

type idParam struct {
	ID string `validate:"required,uuid"`
}

type searchResponse struct {
	Provider string          `json:"provider"`
	Query    string          `json:"query"`
	Results  []source.Result `json:"results"`
}

type DownloadsHandler struct {
	svc      DownloadService
	validate *validator.Validate
}

func NewDownloadsHandler(svc DownloadService, validate *validator.Validate) *DownloadsHandler {
	return &DownloadsHandler{svc: svc, validate: validate}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/request", h.Search)
	r.Post("/confirm", h.Confirm)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/files", h.Files)
		r.Post("/pause", h.action(h.svc.Pause))
		r.Post("/resume", h.action(h.svc.Resume))
		r.Post("/cancel", h.action(h.svc.Cancel))
	})

	return r
}

func (h *DownloadsHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := download.ParseStatus(raw)
		if !ok {
			writeMessage(w, r, http.StatusBadRequest, "unknown status "+raw)

			return
		}

		opts.Status = status
	}

	items, total, err := h.svc.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeData(w, r, http.StatusOK, newPage(items, total, opts))
}

// Search handles POST /request: it queries one provider and returns results for the user to confirm.
func (h *DownloadsHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !h.decode(w, r, &req) {
		return
	}

	results, err := h.svc.Search(r.Context(), req.Provider, req.Query)
	if err != nil {
		writeError(w, r, err)

		return
	}

	if results == nil {
		results = []source.Result{}
	}

	writeData(w, r, http.StatusOK, searchResponse{Provider: req.Provider, Query: req.Query, Results: results})
}

func (h *DownloadsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, err := h.svc.Confirm(r.Context(), req.Provider, req.ResultID)
	if err != nil {
		writeError(w, r, err)

		return
	}

	logctx.LoggerFromContext(r.Context()).Info("download confirmed", "download_id", d.ID, "status", d.Status)

	writeData(w, r, http.StatusCreated, d)
}

func (h *DownloadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}

	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeData(w, r, http.StatusOK, d)
}

func (h *DownloadsHandler) Files(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}

	files, err := h.svc.Files(r.Context(), id)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeData(w, r, http.StatusOK, files)
}

func (h *DownloadsHandler) action(fn func(ctx context.Context, id string) (*download.Download, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.id(w, r)
		if !ok {
			return
		}

		d, err := fn(r.Context(), id)
		if err != nil {
			writeError(w, r, err)

			return
		}

		writeData(w, r, http.StatusOK, d)
	}
}

func (h *DownloadsHandler) id(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := idParam{ID: chi.URLParam(r, "id")}

	if err := h.validate.Struct(p); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "invalid download id")

		return "", false
	}

	return p.ID, true
}

func (h *DownloadsHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "invalid request body")

		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		writeError(w, r, err)

		return false
	}

	return true
}
