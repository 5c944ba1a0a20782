package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const correlationHeader = "X-Correlation-ID"

// RequestLogger creates a zerolog-based request logger middleware
func RequestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return middleware.RequestLogger(&RequestLoggerFormatter{logger})
}

// RequestLoggerFormatter implements chi's LogFormatter interface
type RequestLoggerFormatter struct {
	Logger zerolog.Logger
}

func (l *RequestLoggerFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	correlationID := r.Header.Get(correlationHeader)
	if correlationID == "" {
		correlationID = uuid.New().String()
		r.Header.Set(correlationHeader, correlationID)
	}

	entry := &RequestLoggerEntry{
		Logger:        l.Logger,
		CorrelationID: correlationID,
		Method:        r.Method,
		URL:           r.URL.Path,
		RemoteAddr:    r.RemoteAddr,
	}

	entry.Logger.Debug().
		Str("correlation_id", correlationID).
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("remote_addr", r.RemoteAddr).
		Msg("Request started")

	return entry
}

// RequestLoggerEntry implements chi's LogEntry interface
type RequestLoggerEntry struct {
	Logger        zerolog.Logger
	CorrelationID string
	Method        string
	URL           string
	RemoteAddr    string
}

func (l *RequestLoggerEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	level := zerolog.InfoLevel
	if status >= 400 && status < 500 {
		level = zerolog.WarnLevel
	} else if status >= 500 {
		level = zerolog.ErrorLevel
	}

	l.Logger.WithLevel(level).
		Str("correlation_id", l.CorrelationID).
		Str("method", l.Method).
		Str("url", l.URL).
		Str("remote_addr", l.RemoteAddr).
		Int("status", status).
		Int("bytes", bytes).
		Dur("elapsed", elapsed).
		Msg("Request completed")
}

func (l *RequestLoggerEntry) Panic(v interface{}, stack []byte) {
	l.Logger.Error().
		Str("correlation_id", l.CorrelationID).
		Str("method", l.Method).
		Str("url", l.URL).
		Interface("panic", v).
		Bytes("stack", stack).
		Msg("Request panic")
}

// CorrelationID adds a correlation ID to requests if not present and echoes
// it on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(correlationHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
			r.Header.Set(correlationHeader, correlationID)
		}
		w.Header().Set(correlationHeader, correlationID)
		next.ServeHTTP(w, r)
	})
}

// RateLimiter limits each client IP to rps requests per second with the
// given burst. Idle visitors are dropped until ctx is done. A non-positive
// rps disables limiting.
func RateLimiter(ctx context.Context, rps float64, burst int) func(next http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, v := range visitors {
					if time.Since(v.lastSeen) > 3*time.Minute {
						delete(visitors, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			mu.Lock()
			v, ok := visitors[ip]
			if !ok {
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			mu.Unlock()

			if !v.limiter.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"message":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS allows browser clients from allowedOrigins; "*" allows any origin.
// Preflight requests are answered directly.
func CORS(allowedOrigins []string) func(next http.Handler) http.Handler {
	allowAll := false
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		originSet[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				_, ok := originSet[origin]
				if allowAll || ok {
					if allowAll {
						w.Header().Set("Access-Control-Allow-Origin", "*")
					} else {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						w.Header().Add("Vary", "Origin")
					}
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+correlationHeader)
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestRecorder receives one observation per served request.
type RequestRecorder interface {
	APIRequest(method, route string, statusCode int, duration time.Duration)
}

// Instrument reports every request to rec, labelled by chi route pattern
// so path parameters do not explode label cardinality.
func Instrument(rec RequestRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			rec.APIRequest(r.Method, route, status, time.Since(start))
		})
	}
}
