package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentDispositionAttachment(t *testing.T) {
	assert.Equal(t, "attachment;filename*=UTF-8''%E5%9B%BD%E9%99%85%E6%9C%BA%E5%9C%BA", contentDispositionAttachment(downloadName))
	assert.Equal(t, "a%20b%2Bc", pctEncode("a b+c"))
}

func TestSetClashConfigHeaders_Passthrough(t *testing.T) {
	upstream := http.Header{}
	upstream.Set("Profile-Update-Interval", "24")
	upstream.Set("Subscription-Userinfo", "upload=1; download=2; total=3; expire=4")
	upstream.Set("Set-Cookie", "session=x")

	rr := httptest.NewRecorder()
	setClashConfigHeaders(rr, upstream, "https://example.com/panel")

	for k, want := range map[string]string{
		"Content-Type":            "text/yaml; charset=utf-8",
		"Profile-Web-Page-URL":    "https://example.com/panel",
		"Cache-Control":           "no-store",
		"Profile-Update-Interval": "24",
		"Subscription-Userinfo":   "upload=1; download=2; total=3; expire=4",
	} {
		assert.Equal(t, want, rr.Header().Get(k), k)
	}
	assert.Empty(t, rr.Header().Get("Set-Cookie"), "Set-Cookie must not be passed through")
}

func TestSetClashConfigHeaders_AbsentUpstreamHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	setClashConfigHeaders(rr, http.Header{}, DefaultProfileWebPageURL)

	for _, k := range passthroughHeaders {
		assert.NotContains(t, rr.Header(), k, "%s set without upstream value", k)
	}
}
