package httpapi

import (
	"net/http"
	"net/url"
	"strings"
)

// downloadName is the file name clients save the rewritten document under.
const downloadName = "国际机场"

// Upstream headers Clash clients read for refresh interval and quota.
var passthroughHeaders = []string{
	"Profile-Update-Interval",
	"Subscription-Userinfo",
}

func setClashConfigHeaders(w http.ResponseWriter, upstream http.Header, webPageURL string) {
	h := w.Header()
	h.Set("Content-Type", "text/yaml; charset=utf-8")
	h.Set("Content-Disposition", contentDispositionAttachment(downloadName))
	h.Set("Profile-Web-Page-URL", webPageURL)
	h.Set("Cache-Control", "no-store")
	for _, k := range passthroughHeaders {
		if v := upstream.Get(k); v != "" {
			h.Set(k, v)
		}
	}
}

// contentDispositionAttachment emits only the RFC 5987 filename* form.
func contentDispositionAttachment(filename string) string {
	return "attachment;filename*=UTF-8''" + pctEncode(filename)
}

func pctEncode(s string) string {
	// RFC 3986 percent-encoding. Go's QueryEscape uses '+' for spaces, which
	// we rewrite to %20 for stability and to avoid ambiguity.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
