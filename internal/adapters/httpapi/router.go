// Package httpapi exposes the session state and controls over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MENT2022/studio/internal/app/session"
	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

// Controller is the connect/disconnect surface of session.Controller.
type Controller interface {
	RequestConnect(ctx context.Context, p session.Params) (string, error)
	RequestDisconnect(ctx context.Context) error
}

// State is the read side of session.Machine.
type State interface {
	Status() domain.Status
	SessionID() string
	LastTopic() string
	Snapshot() []domain.Sample
	WindowLen() int
	WindowCap() int
}

type Deps struct {
	Controller Controller
	State      State
	Store      ports.ReadingStore
	// Feed serves the websocket live feed; nil disables /ws.
	Feed http.Handler
	// Defaults fill connect request fields the caller leaves out.
	Defaults       session.Params
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

func NewRouter(d Deps) *chi.Mux {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	h := &handlers{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if d.Feed != nil {
		r.Handle("/ws", d.Feed)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(d.RequestTimeout))
		r.Get("/status", h.status)
		r.Get("/window", h.window)
		r.Get("/readings", h.readings)
		r.Post("/connect", h.connect)
		r.Post("/disconnect", h.disconnect)
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
