package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pectics/clash-relay/internal/fetch"
	"github.com/pectics/clash-relay/internal/transform"
)

const DefaultProfileWebPageURL = "https://lab.pectics.me"

// Options controls HTTP API runtime behavior. Secrets and the upstream URL
// may be empty; requests then fail with CONFIG_MISSING.
type Options struct {
	// BaseURL is the upstream subscription URL.
	BaseURL string
	// Token guards every path under /internal.
	Token string

	Policy transform.Policy

	// Residential proxy settings, validated per request.
	ISPHost     string
	ISPPort     string
	ISPUsername string
	ISPPassword string

	UserAgent         string
	ProfileWebPageURL string

	// FetchTimeout bounds the upstream request.
	FetchTimeout time.Duration

	// RateLimit is requests per second on /internal; 0 disables limiting.
	RateLimit float64
	RateBurst int

	Logger  *zap.Logger
	Metrics *Metrics

	// Transport is used for upstream requests; nil means the default.
	Transport http.RoundTripper
}

func (o Options) withDefaults() Options {
	if !o.Policy.Valid() {
		o.Policy = transform.PolicyFilterOnly
	}
	if o.UserAgent == "" {
		o.UserAgent = fetch.DefaultUserAgent
	}
	if o.ProfileWebPageURL == "" {
		o.ProfileWebPageURL = DefaultProfileWebPageURL
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = fetch.DefaultTimeout
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics()
	}
	return o
}
