package rest

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/downloadhub/internal/audit"
	"github.com/italolelis/downloadhub/internal/storage"
)

type Library interface {
	Get(ctx context.Context, id string) (*storage.LibraryFile, error)
	List(ctx context.Context, opts storage.ListOptions) ([]storage.LibraryFile, int, error)
	Resolve(f *storage.LibraryFile) (string, error)
}

const maxLibraryQuery = 200

type LibraryHandler struct {
	library Library
	audit   *audit.Recorder
}

func NewLibraryHandler(library Library, auditor *audit.Recorder) *LibraryHandler {
	return &LibraryHandler{library: library, audit: auditor}
}

func (h *LibraryHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)
	opts.Query = strings.TrimSpace(r.URL.Query().Get("q"))

	if len(opts.Query) > maxLibraryQuery {
		writeMessage(w, r, http.StatusBadRequest, "q must be at most 200 characters")

		return
	}

	items, total, err := h.library.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeData(w, r, http.StatusOK, newPage(items, total, opts))
}

// Serve streams a library file with range support.
func (h *LibraryHandler) Serve(w http.ResponseWriter, r *http.Request) {
	f, err := h.library.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)

		return
	}

	path, err := h.library.Resolve(f)
	if err != nil {
		writeError(w, r, err)

		return
	}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		writeMessage(w, r, http.StatusNotFound, "file is no longer on disk")

		return
	}

	if err != nil {
		writeError(w, r, err)

		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(w, r, err)

		return
	}

	h.audit.Record(r.Context(), audit.ActionFileDownload, map[string]any{"fileId": f.ID, "fileName": f.Name})

	if f.ContentType != "" {
		w.Header().Set("Content-Type", f.ContentType)
	}

	w.Header().Set("Content-Disposition", `inline; filename="`+strings.ReplaceAll(filepath.Base(path), `"`, "")+`"`)

	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}
