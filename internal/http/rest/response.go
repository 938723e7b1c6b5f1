package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/italolelis/downloadhub/internal/download"
	"github.com/italolelis/downloadhub/internal/library"
	"github.com/italolelis/downloadhub/internal/logctx"
	"github.com/italolelis/downloadhub/internal/source"
	"github.com/italolelis/downloadhub/internal/storage"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Page is the data of a paginated listing.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

func newPage[T any](items []T, total int, opts storage.ListOptions) Page[T] {
	if items == nil {
		items = []T{}
	}

	return Page[T]{Items: items, Total: total, Page: opts.Page, PageSize: opts.PageSize}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, r, status, envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, envelope{Success: false, Error: message})
}

// writeError maps domain errors to status codes. Anything unrecognised is logged and reported
// as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr      validator.ValidationErrors
		valErr    *download.ValidationError
		notFound  *download.NotFoundError
		precond   *download.PreconditionError
		engineErr *download.EngineError
		srcErr    *source.Error
		traversal *library.PathTraversalError
	)

	switch {
	case errors.As(err, &verr):
		writeMessage(w, r, http.StatusBadRequest, validationMessage(verr))
	case errors.As(err, &valErr), errors.Is(err, source.ErrUnknownSource):
		writeMessage(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		writeMessage(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &traversal):
		writeMessage(w, r, http.StatusForbidden, "access denied")
	case errors.As(err, &precond):
		writeMessage(w, r, http.StatusConflict, err.Error())
	case errors.As(err, &engineErr), errors.As(err, &srcErr):
		logctx.LoggerFromContext(r.Context()).Warn("upstream failure", "err", err)
		writeMessage(w, r, http.StatusBadGateway, err.Error())
	default:
		logctx.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeMessage(w, r, http.StatusInternalServerError, "internal error")
	}
}

func validationMessage(errs validator.ValidationErrors) string {
	fe := errs[0]

	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "uuid":
		return fe.Field() + " must be a valid UUID"
	default:
		return fe.Field() + " is invalid"
	}
}

// listOptions reads page and pageSize; malformed numbers fall back to the defaults.
func listOptions(r *http.Request) storage.ListOptions {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("pageSize"))

	return storage.ListOptions{Page: page, PageSize: size}.Normalize()
}
