package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pectics/clash-relay/internal/logging"
	"github.com/pectics/clash-relay/internal/model"
)

const bearerPrefix = "bearer "

// authGate admits requests that present the configured token. The token is
// read from the Authorization header first, then ?auth=, then ?token=.
func (s *server) authGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeErrorFromErr(w, r, apiError(http.StatusTooManyRequests, model.AppError{
				Code:    "RATE_LIMITED",
				Message: "请求过于频繁",
				Stage:   "auth",
			}, nil))
			return
		}
		if s.opt.Token == "" {
			s.writeErrorFromErr(w, r, configMissing("INTERNAL_TOKEN"))
			return
		}

		token := requestToken(r)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.opt.Token)) != 1 {
			s.metrics.incAppError("auth", "UNAUTHORIZED")
			logging.FromContext(r.Context(), s.log).Info("request rejected",
				zap.Int("status", http.StatusUnauthorized),
				zap.String("stage", "auth"),
				zap.Bool("token_present", token != ""),
			)
			WriteError(w, http.StatusUnauthorized, model.AppError{Message: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) >= len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		h = h[len(bearerPrefix):]
	}
	if h = strings.TrimSpace(h); h != "" {
		return h
	}
	q := r.URL.Query()
	if q.Has("auth") {
		return q.Get("auth")
	}
	return q.Get("token")
}
