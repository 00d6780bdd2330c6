package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/pectics/clash-relay/internal/model"
)

const stage = "fetch"

const (
	DefaultUserAgent    = "clash-verge-rev/v2.3.2"
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBytes     = 5 * 1024 * 1024
	DefaultMaxRedirects = 5
)

type Options struct {
	UserAgent    string        // default DefaultUserAgent
	Timeout      time.Duration // default 30s
	MaxBytes     int64         // default 5 MiB
	MaxRedirects int           // default 5

	// Transport overrides http.DefaultTransport.
	Transport http.RoundTripper
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	if o.Transport == nil {
		o.Transport = http.DefaultTransport
	}
	return o
}

// Response is a fully read upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type FetchError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

var (
	errTooManyRedirects  = errors.New("too many redirects")
	errRedirectBadScheme = errors.New("redirect target scheme is not http/https")
)

// upstreamError is the 502 every upstream-side failure maps to. The URL is
// left out: subscription URLs carry the provider's access token.
func upstreamError(code, message string, cause error) *FetchError {
	return &FetchError{
		Status: http.StatusBadGateway,
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   stage,
		},
		Cause: cause,
	}
}

// Upstream GETs the subscription document at rawURL. Every request goes to
// the origin; nothing is cached.
func Upstream(ctx context.Context, rawURL string, opt Options) (*Response, error) {
	opt = opt.withDefaults()
	if opt.MaxBytes < 0 {
		return nil, &FetchError{
			Status: http.StatusInternalServerError,
			AppError: model.AppError{
				Code:    "CONFIG_INVALID",
				Message: "响应大小上限必须大于 0",
				Stage:   stage,
			},
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &FetchError{
			Status: http.StatusInternalServerError,
			AppError: model.AppError{
				Code:    "CONFIG_INVALID",
				Message: "CLASH_CONFIG_BASE_URL 仅允许 http/https URL",
				Stage:   stage,
			},
			Cause: err,
		}
	}

	client := &http.Client{
		Timeout:   opt.Timeout,
		Transport: opt.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// 1st redirect => len(via)==1.
			if len(via) > opt.MaxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, upstreamError("FETCH_FAILED", "拉取 Clash 配置失败", err)
	}
	req.Header.Set("User-Agent", opt.UserAgent)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		switch {
		case errors.Is(err, errTooManyRedirects):
			return nil, upstreamError("FETCH_FAILED", fmt.Sprintf("重定向次数超过上限（>%d）", opt.MaxRedirects), err)
		case errors.Is(err, errRedirectBadScheme):
			return nil, upstreamError("FETCH_FAILED", "重定向目标仅允许 http/https", err)
		case isTimeout(err):
			return nil, upstreamError("FETCH_TIMEOUT", "拉取 Clash 配置超时", err)
		default:
			return nil, upstreamError("FETCH_FAILED", "拉取 Clash 配置失败", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// resp.Status is "404 Not Found".
		return nil, upstreamError("FETCH_FAILED", "拉取 Clash 配置失败: "+resp.Status, nil)
	}

	// Read at most MaxBytes+1 to detect overflow deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, opt.MaxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return nil, upstreamError("FETCH_TIMEOUT", "拉取 Clash 配置超时", err)
		}
		return nil, upstreamError("FETCH_FAILED", "读取上游响应失败", err)
	}
	if int64(len(body)) > opt.MaxBytes {
		return nil, upstreamError("TOO_LARGE", fmt.Sprintf("上游配置过大（>%d bytes）", opt.MaxBytes), nil)
	}
	if !utf8.Valid(body) {
		return nil, upstreamError("FETCH_INVALID_UTF8", "上游配置不是合法 UTF-8 文本", nil)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

func isTimeout(err error) bool {
	// Go may wrap errors (e.g. *url.Error).
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
