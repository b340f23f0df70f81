// Package api exposes the wheel over HTTP for scripts and dashboards.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/Versifine/hoverwheel/internal/record"
	"github.com/Versifine/hoverwheel/internal/server"
	"github.com/Versifine/hoverwheel/internal/wheel"
)

const (
	maxBodyBytes     = 1 << 10
	deviceOpTimeout  = 5 * time.Second
	defaultRateBurst = 10
)

// SessionStore lists recorded sessions. *record.Recorder satisfies it.
type SessionStore interface {
	Sessions(ctx context.Context) ([]record.SessionInfo, error)
	Frames(ctx context.Context, sessionID string) ([]record.Frame, error)
}

// ClientLister reports connected controller clients. *server.Server satisfies it.
type ClientLister interface {
	Clients() []server.ClientInfo
}

type Options struct {
	// RequestsPerSecond caps the whole API; 0 disables the cap.
	RequestsPerSecond float64
	// Sessions is nil when recording is disabled.
	Sessions SessionStore
	Clients  ClientLister
}

type handler struct {
	wheel *wheel.Wheel
	opts  Options
}

// NewRouter builds the chi router serving the control API.
func NewRouter(w *wheel.Wheel, opts Options) *chi.Mux {
	h := &handler{wheel: w, opts: opts}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if opts.RequestsPerSecond > 0 {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), defaultRateBurst)))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/device", h.getDevice)                // GET /api/v1/device
		r.Post("/device/connect", h.connectDevice)   // POST /api/v1/device/connect
		r.Post("/device/disconnect", h.disconnect)   // POST /api/v1/device/disconnect
		r.Post("/axes", h.sendAxes)                  // POST /api/v1/axes
		r.Get("/clients", h.listClients)             // GET /api/v1/clients
		r.Get("/sessions", h.listSessions)           // GET /api/v1/sessions
		r.Get("/sessions/{id}/frames", h.listFrames) // GET /api/v1/sessions/{id}/frames
	})
	return r
}

func (h *handler) getDevice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.wheel.Stats())
}

func (h *handler) connectDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), deviceOpTimeout)
	defer cancel()
	if err := h.wheel.Connect(ctx); err != nil {
		writeError(w, deviceErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.wheel.Stats())
}

func (h *handler) disconnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), deviceOpTimeout)
	defer cancel()
	if err := h.wheel.Disconnect(ctx); err != nil {
		writeError(w, deviceErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.wheel.Stats())
}

func (h *handler) sendAxes(w http.ResponseWriter, r *http.Request) {
	var axes wheel.Axes
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&axes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid axes body: "+err.Error())
		return
	}
	if err := h.wheel.Send(r.Context(), axes); err != nil {
		writeError(w, deviceErrorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listClients(w http.ResponseWriter, r *http.Request) {
	clients := []server.ClientInfo{}
	if h.opts.Clients != nil {
		clients = h.opts.Clients.Clients()
	}
	writeJSON(w, http.StatusOK, clients)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	if h.opts.Sessions == nil {
		writeError(w, http.StatusNotFound, "recording disabled")
		return
	}
	sessions, err := h.opts.Sessions.Sessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []record.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *handler) listFrames(w http.ResponseWriter, r *http.Request) {
	if h.opts.Sessions == nil {
		writeError(w, http.StatusNotFound, "recording disabled")
		return
	}
	frames, err := h.opts.Sessions.Frames(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, record.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if frames == nil {
		frames = []record.Frame{}
	}
	writeJSON(w, http.StatusOK, frames)
}

func deviceErrorStatus(err error) int {
	switch {
	case errors.Is(err, wheel.ErrAlreadyConnected),
		errors.Is(err, wheel.ErrNotConnected),
		errors.Is(err, wheel.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"requestID", middleware.GetReqID(r.Context()),
			"remote", r.RemoteAddr,
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
