package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cartridge/paddle/internal/health"
	"github.com/cartridge/paddle/internal/middleware"
	"github.com/cartridge/paddle/internal/service"
	"github.com/cartridge/paddle/internal/storage"
	"github.com/cartridge/paddle/internal/types"
)

// DefaultBodyLimit caps append request bodies.
const DefaultBodyLimit = 2 << 20

// HealthReporter exposes the last history health check.
type HealthReporter interface {
	Status() health.Status
}

// Options configures the optional parts of the router.
type Options struct {
	BodyLimit      int64
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	Metrics        middleware.RequestRecorder
	MetricsHandler http.Handler
	Health         HealthReporter
}

// Server wires HTTP handlers to the snapshot service.
type Server struct {
	snapshots *service.Snapshots
	logger    *zerolog.Logger
	opts      Options
}

// NewServer constructs a Server instance.
func NewServer(snapshots *service.Snapshots, logger *zerolog.Logger, opts Options) *Server {
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = DefaultBodyLimit
	}
	return &Server{snapshots: snapshots, logger: logger, opts: opts}
}

// Routes builds the HTTP router. ctx bounds background middleware work.
func (s *Server) Routes(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Use(middleware.RequestLogger(*s.logger))
	r.Use(chimw.Recoverer)
	if s.opts.Metrics != nil {
		r.Use(middleware.Instrument(s.opts.Metrics))
	}
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(s.opts.AllowedOrigins))
	}

	r.Get("/healthz", s.handleHealth)
	if s.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.MetricsHandler)
	}

	limited := r.With(middleware.RateLimiter(ctx, s.opts.RateLimitRPS, s.opts.RateLimitBurst))
	for _, prefix := range []string{"/snapshots", "/api/training-snapshots"} {
		limited.Route(prefix, func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Get("/latest", s.handleLatest)
			r.Post("/", s.handleAppend)
		})
	}
	return r
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := s.snapshots.Latest(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := service.ParseLimit(r.URL.Query().Get("limit"))
	page, err := s.snapshots.Page(r.Context(), limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var payload types.AppendInput
	// Non-JSON bodies are not parsed, so the empty payload fails validation.
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		s.appendPayload(w, r, payload)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.BodyLimit)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		case errors.Is(err, io.EOF):
			s.writeError(w, http.StatusBadRequest, "Missing JSON body")
		default:
			s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		}
		return
	}
	s.appendPayload(w, r, payload)
}

func (s *Server) appendPayload(w http.ResponseWriter, r *http.Request, payload types.AppendInput) {
	receipt, err := s.snapshots.Append(r.Context(), payload)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
	if s.opts.Health != nil {
		body["history"] = s.opts.Health.Status()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "No snapshots stored yet")
	default:
		s.logger.Error().Err(err).Msg("request failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"message": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
