package observability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	traceHeader = "X-Trace-ID"
	// UnmatchedRoute labels requests no registered pattern served.
	UnmatchedRoute = "unmatched"
)

const routeKey ctxKey = "route"

// route holds the most specific ServeMux pattern that served a request.
// Nested muxes report into it through RouteRecorder.
type route struct {
	mu      sync.Mutex
	pattern string
}

func (rt *route) set(pattern string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pattern == "" {
		rt.pattern = pattern
	}
}

func (rt *route) get() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pattern
}

func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = newTraceID()
		}
		w.Header().Set(traceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(ContextWithTraceID(r.Context(), traceID)))
	})
}

// RouteRecorder wraps a nested ServeMux so that the pattern it matched is
// used for metric labels instead of the outer mount point.
func RouteRecorder(mux http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		if rt, ok := r.Context().Value(routeKey).(*route); ok && r.Pattern != "" {
			rt.set(r.Pattern)
		}
	})
}

// MetricsMiddleware counts requests by route pattern, never by raw path.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rt := &route{}
		tracked := r.WithContext(context.WithValue(r.Context(), routeKey, rt))
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, tracked)

		label := rt.get()
		if label == "" {
			label = tracked.Pattern
		}
		if label == "" {
			label = UnmatchedRoute
		}
		status := strconv.Itoa(recorder.status)
		httpRequestsTotal.WithLabelValues(r.Method, label, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method, label, status).Observe(time.Since(start).Seconds())
	})
}

func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			level := slog.LevelInfo
			if recorder.status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http_request",
				slog.String("trace_id", TraceIDFromContext(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", recorder.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", recorder.bytes),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if !s.wroteHeader {
		s.status = status
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(body []byte) (int, error) {
	s.wroteHeader = true
	n, err := s.ResponseWriter.Write(body)
	s.bytes += n
	return n, err
}

func newTraceID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf[:])
}
