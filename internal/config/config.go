// Package config loads the relay's settings from the environment, dotenv
// files and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pectics/clash-relay/internal/fetch"
	"github.com/pectics/clash-relay/internal/transform"
)

// Keys double as environment variable names (AutomaticEnv upper-cases them).
const (
	KeyBaseURL           = "clash_config_base_url"
	KeyISPHost           = "clash_isp_host"
	KeyISPPort           = "clash_isp_port"
	KeyISPUsername       = "clash_isp_username"
	KeyISPPassword       = "clash_isp_password"
	KeyToken             = "internal_token"
	KeyPolicy            = "clash_policy"
	KeyUserAgent         = "clash_user_agent"
	KeyProfileWebPageURL = "clash_profile_web_page_url"
	KeyListen            = "listen"
	KeyLogLevel          = "log_level"
	KeyLogFormat         = "log_format"
	KeyFetchTimeout      = "fetch_timeout"
	KeyRateLimit         = "rate_limit"
	KeyRateBurst         = "rate_burst"
	KeyShutdownTimeout   = "shutdown_timeout"
)

const DefaultProfileWebPageURL = "https://lab.pectics.me"

// DotenvFiles are read in order; earlier files and the real environment win.
var DotenvFiles = []string{".env.local", ".env"}

type Config struct {
	// BaseURL and Token may be empty; the handler reports that per request.
	BaseURL string
	Token   string

	ISPHost     string
	ISPPort     string
	ISPUsername string
	ISPPassword string

	Policy            transform.Policy
	UserAgent         string
	ProfileWebPageURL string

	Listen          string
	LogLevel        string
	LogFormat       string
	FetchTimeout    time.Duration
	ShutdownTimeout time.Duration

	// RateLimit is requests per second on /internal; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// Environment returns the transformer inputs derived from the residential
// proxy settings. A non-nil error is a warning, not a failure.
func (c Config) Environment() (transform.Environment, error) {
	return transform.NewEnvironment(c.ISPHost, c.ISPPort, c.ISPUsername, c.ISPPassword)
}

// LoadDotenv exports the variables of each existing file that are not
// already set. Missing files are skipped.
func LoadDotenv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and environment binding.
// Callers bind their flags onto it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyPolicy, transform.PolicyFilterOnly.String())
	v.SetDefault(KeyUserAgent, fetch.DefaultUserAgent)
	v.SetDefault(KeyProfileWebPageURL, DefaultProfileWebPageURL)
	v.SetDefault(KeyListen, "127.0.0.1:3000")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyFetchTimeout, fetch.DefaultTimeout)
	v.SetDefault(KeyShutdownTimeout, 10*time.Second)
	v.SetDefault(KeyRateLimit, 0)
	v.SetDefault(KeyRateBurst, 10)
	v.AutomaticEnv()
	return v
}

// Load reads every setting from v.
func Load(v *viper.Viper) (Config, error) {
	policy, err := transform.ParsePolicy(v.GetString(KeyPolicy))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", strings.ToUpper(KeyPolicy), err)
	}

	cfg := Config{
		BaseURL:           strings.TrimSpace(v.GetString(KeyBaseURL)),
		Token:             strings.TrimSpace(v.GetString(KeyToken)),
		ISPHost:           v.GetString(KeyISPHost),
		ISPPort:           v.GetString(KeyISPPort),
		ISPUsername:       v.GetString(KeyISPUsername),
		ISPPassword:       v.GetString(KeyISPPassword),
		Policy:            policy,
		UserAgent:         v.GetString(KeyUserAgent),
		ProfileWebPageURL: v.GetString(KeyProfileWebPageURL),
		Listen:            v.GetString(KeyListen),
		LogLevel:          v.GetString(KeyLogLevel),
		LogFormat:         v.GetString(KeyLogFormat),
		FetchTimeout:      v.GetDuration(KeyFetchTimeout),
		ShutdownTimeout:   v.GetDuration(KeyShutdownTimeout),
		RateLimit:         v.GetFloat64(KeyRateLimit),
		RateBurst:         v.GetInt(KeyRateBurst),
	}

	if cfg.FetchTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %s", strings.ToUpper(KeyFetchTimeout), cfg.FetchTimeout)
	}
	if cfg.RateLimit < 0 {
		return Config{}, fmt.Errorf("%s must not be negative", strings.ToUpper(KeyRateLimit))
	}
	if cfg.RateLimit > 0 && cfg.RateBurst < 1 {
		return Config{}, fmt.Errorf("%s must be at least 1 when %s is set", strings.ToUpper(KeyRateBurst), strings.ToUpper(KeyRateLimit))
	}
	return cfg, nil
}
