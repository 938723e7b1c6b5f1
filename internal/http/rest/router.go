package rest

import (
	"crypto/subtle"
	"net"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/italolelis/downloadhub/internal/audit"
)

// EngineStatus reports the torrent engine state for the health check.
type EngineStatus interface {
	IsEnabled() bool
	IsConnected() bool
}

type RouterConfig struct {
	Downloads DownloadService
	Library   Library
	Hub       Hub
	Engine    EngineStatus
	Metrics   http.Handler
	// Audit records user actions on files. Nil disables the trail.
	Audit *audit.Recorder

	// Username and Password enable basic auth on /api, /files and /ws when both are set.
	Username string
	Password string

	Middlewares []func(http.Handler) http.Handler
}

type healthResponse struct {
	Status      string `json:"status"`
	Engine      engine `json:"engine"`
	Subscribers int    `json:"subscribers"`
}

type engine struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

func NewRouter(cfg RouterConfig) http.Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
			return name
		}

		return f.Name
	})

	downloads := NewDownloadsHandler(cfg.Downloads, validate)
	library := NewLibraryHandler(cfg.Library, cfg.Audit)
	stream := NewStreamHandler(cfg.Hub)

	r := chi.NewRouter()
	r.Use(cfg.Middlewares...)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, r, http.StatusOK, healthResponse{
			Status:      "ok",
			Engine:      engine{Enabled: cfg.Engine.IsEnabled(), Connected: cfg.Engine.IsConnected()},
			Subscribers: cfg.Hub.Count(),
		})
	})

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		authenticated := cfg.Username != "" && cfg.Password != ""
		if authenticated {
			r.Use(basicAuth(cfg.Username, cfg.Password))
		}

		r.Use(withActor(authenticated))

		r.Handle("/ws", stream)
		r.Get("/files/{id}", library.Serve)

		r.Route("/api", func(r chi.Router) {
			r.Get("/sources", func(w http.ResponseWriter, r *http.Request) {
				writeData(w, r, http.StatusOK, cfg.Downloads.Providers())
			})
			r.Mount("/downloads", downloads.Routes())
			r.Get("/library", library.List)
			r.Get("/audit", listAudit(cfg.Audit))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusNotFound, "not found")
	})

	return r
}

func basicAuth(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="downloadhub"`)
				writeMessage(w, r, http.StatusUnauthorized, "invalid authorization format")

				return
			}

			if subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
				writeMessage(w, r, http.StatusUnauthorized, "invalid username or password")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// withActor stores who is calling for the audit trail. The basic auth user is only trusted
// when basicAuth has checked it.
func withActor(authenticated bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := audit.Actor{IP: clientIP(r)}
			if authenticated {
				actor.UserID, _, _ = r.BasicAuth()
			}

			next.ServeHTTP(w, r.WithContext(audit.WithActor(r.Context(), actor)))
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func listAudit(recorder *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := listOptions(r)

		items, total, err := recorder.List(r.Context(), opts)
		if err != nil {
			writeError(w, r, err)

			return
		}

		writeData(w, r, http.StatusOK, newPage(items, total, opts))
	}
}
