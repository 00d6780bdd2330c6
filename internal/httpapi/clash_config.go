package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pectics/clash-relay/internal/clash"
	"github.com/pectics/clash-relay/internal/fetch"
	"github.com/pectics/clash-relay/internal/logging"
	"github.com/pectics/clash-relay/internal/transform"
)

// handleClashConfig fetches the upstream subscription, rewrites it and
// serves it as a download. The document is fetched fresh on every request.
func (s *server) handleClashConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx, s.log)

	if s.opt.BaseURL == "" {
		s.writeErrorFromErr(w, r, configMissing("CLASH_CONFIG_BASE_URL"))
		return
	}

	env, err := transform.NewEnvironment(s.opt.ISPHost, s.opt.ISPPort, s.opt.ISPUsername, s.opt.ISPPassword)
	if err != nil {
		log.Warn("residential proxy disabled", zap.Error(err))
	}

	up, err := fetch.Upstream(ctx, s.opt.BaseURL, fetch.Options{
		UserAgent: s.opt.UserAgent,
		Timeout:   s.opt.FetchTimeout,
		Transport: s.opt.Transport,
	})
	if err != nil {
		s.writeErrorFromErr(w, r, err)
		return
	}

	start := time.Now()
	out, rep, err := rewrite(up.Body, env, s.opt.Policy)
	if err != nil {
		s.writeErrorFromErr(w, r, err)
		return
	}
	s.metrics.observeTransform(s.opt.Policy.String(), time.Since(start), rep.ProxiesOut, len(rep.DanglingReferences))

	log.Info("clash config rewritten",
		zap.Stringer("policy", rep.Policy),
		zap.String("brand", rep.Brand),
		zap.Int("proxies_in", rep.ProxiesIn),
		zap.Int("proxies_out", rep.ProxiesOut),
		zap.Bool("residential", rep.ResidentialInjected),
		zap.String("dialer", rep.DialerTarget),
		zap.Bool("isp_dialer", rep.ISPDialer),
		zap.Int("rules_retargeted", rep.RulesRetargeted),
	)
	if len(rep.DuplicateNames) > 0 {
		log.Warn("duplicate proxy names in upstream document", zap.Strings("names", rep.DuplicateNames))
	}
	if len(rep.DanglingReferences) > 0 {
		log.Warn("unresolved references in rewritten document", zap.Stringers("references", rep.DanglingReferences))
	}

	setClashConfigHeaders(w, up.Header, s.opt.ProfileWebPageURL)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// rewrite decodes body, runs the transformer and encodes the result. Nothing
// is returned unless all three steps succeed.
func rewrite(body []byte, env transform.Environment, policy transform.Policy) ([]byte, transform.Report, error) {
	doc, err := clash.Decode(body)
	if err != nil {
		return nil, transform.Report{}, err
	}
	rep, err := transform.Transform(doc, env, policy)
	if err != nil {
		return nil, transform.Report{}, err
	}
	out, err := doc.Encode()
	if err != nil {
		return nil, transform.Report{}, err
	}
	return out, rep, nil
}
