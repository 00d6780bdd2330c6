package httpapi

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pectics/clash-relay/internal/logging"
	"github.com/pectics/clash-relay/internal/model"
)

const RequestIDHeader = "X-Request-ID"

// NewHandler returns the production handler (mux + observability middleware).
//
// Tests can still use NewMux directly to skip the access log.
func NewHandler(opt Options) http.Handler {
	s := newServer(opt)
	return s.withRequestID(s.withObservability(s.withRecovery(s.mux())))
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) WriteHeader(statusCode int) {
	if w.status == 0 {
		w.status = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// withRequestID tags the request with the caller's X-Request-ID or a fresh
// UUID, and stores a logger carrying it in the context.
func (s *server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := logging.WithContext(r.Context(), s.log.With(zap.String("request_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}

		// ServeMux stores the matched pattern on r; unmatched paths share
		// one label.
		pattern := r.Pattern
		if pattern == "" {
			pattern = "(unmatched)"
		}
		s.metrics.incRequest(pattern, status)

		// Never log the query string: it may carry the token.
		if r.URL.Path != "/healthz" && r.URL.Path != "/metrics" {
			logging.FromContext(r.Context(), s.log).Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("pattern", pattern),
				zap.Int("status", status),
				zap.Duration("dur", time.Since(start)),
				zap.Int("bytes", sw.bytes),
			)
		}
	})
}

func (s *server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logging.FromContext(r.Context(), s.log).Error("panic recovered",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("panic", fmt.Sprint(rec)),
				zap.ByteString("stack", debug.Stack()),
			)
			s.metrics.incAppError("internal", "PANIC")
			WriteError(w, http.StatusInternalServerError, model.AppError{
				Code:    "INTERNAL_ERROR",
				Message: internalMessage,
				Stage:   "internal",
			})
		}()
		next.ServeHTTP(w, r)
	})
}
