package httpapi

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type server struct {
	opt     Options
	log     *zap.Logger
	metrics *Metrics
	limiter *rate.Limiter
}

func newServer(opt Options) *server {
	opt = opt.withDefaults()
	s := &server{
		opt:     opt,
		log:     opt.Logger,
		metrics: opt.Metrics,
	}
	if opt.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opt.RateLimit), opt.RateBurst)
	}
	return s
}

// NewMux returns the routes without the observability middleware.
func NewMux(opt Options) *http.ServeMux {
	return newServer(opt).mux()
}

func (s *server) mux() *http.ServeMux {
	internal := http.NewServeMux()
	internal.HandleFunc("GET /internal/clash-config", s.handleClashConfig)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.Handle("/internal/", s.authGate(internal))
	return mux
}
