// Package transform rewrites an upstream Clash subscription into the branded
// document served to clients.
//
// The pipeline runs four stages over one decoded document:
//
//	A  filter (and, for PolicyFilterAndRename, rename) the proxy list
//	B  inject the static residential proxy when credentials are configured
//	C  restructure the first three proxy groups, add ISP Dialer and ChatGPT
//	D  retarget rules that point at the provider's brand group, prepend the
//	   fixed ChatGPT rule block
//
// Transform is pure: it performs no I/O and keeps no state between calls.
package transform

import (
	"fmt"
	"strings"

	"github.com/pectics/clash-relay/internal/clash"
	"github.com/pectics/clash-relay/internal/model"
	"github.com/pectics/clash-relay/internal/rules"
)

// Names the rewritten document introduces or relies on.
const (
	GroupInternational = "国际机场"
	GroupChatGPT       = "ChatGPT"
	GroupAutoSelect    = "自动选择"
	GroupFailover      = "故障转移"
	GroupISPDialer     = "ISP Dialer"
	ProxyResidential   = "静态住宅代理"
	PolicyDirect       = "DIRECT"
)

const (
	ISPDialerProbeURL    = "https://www.gstatic.com/generate_204"
	ISPDialerIntervalSec = 3600
)

const (
	// restructuredGroups is how many leading groups stage C touches.
	restructuredGroups = 3

	// leadingInfoEntries is how many provider info entries (traffic left,
	// expiry, ...) head the proxy list and groups 1 and 2.
	leadingInfoEntries = 4

	// Members [brandInfoStart, brandInfoEnd) of the brand group are the
	// same info entries, after its two selector members.
	brandInfoStart = 2
	brandInfoEnd   = 6
)

const usCountryCode = "US"

// Error reports a document whose shape defeats a stage, e.g. a proxy group
// that is not a mapping. The document must be discarded.
type Error struct {
	AppError model.AppError
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func stageError(stage, message string, cause error) error {
	return &Error{
		AppError: model.AppError{
			Code:    "TRANSFORM_FAILED",
			Message: message,
			Stage:   stage,
		},
		Cause: cause,
	}
}

// Report summarizes what a Transform call did. DuplicateNames and
// DanglingReferences are upstream data problems surfaced for operators; the
// pipeline never tries to repair them.
type Report struct {
	Policy              Policy
	Brand               string
	ProxiesIn           int
	ProxiesOut          int
	ResidentialInjected bool
	DialerTarget        string
	ISPDialer           bool
	RulesRetargeted     int
	RulesInjected       int
	DuplicateNames      []string
	DanglingReferences  []Reference
}

// Transform rewrites doc in place. On error doc is left in an unspecified
// state and must not be served.
func Transform(doc *clash.Document, env Environment, policy Policy) (Report, error) {
	if !policy.Valid() {
		return Report{}, stageError("transform", "未知的转换策略", fmt.Errorf("policy %v", policy))
	}
	rep := Report{Policy: policy}

	// Stage A.
	in := doc.Proxies()
	rep.ProxiesIn = len(in)
	proxies, err := filterProxies(in, policy)
	if err != nil {
		return Report{}, err
	}

	groups := doc.Groups()
	restructure := len(groups) > 0
	usNames := namesWithFlag(proxies, usCountryCode)

	// Stage B.
	if env.Residential != nil {
		rep.DialerTarget = dialerTarget(policy, restructure && len(usNames) > 0)
		proxies = append([]clash.Proxy{residentialProxy(*env.Residential, rep.DialerTarget)}, proxies...)
		rep.ResidentialInjected = true
	}
	rep.ProxiesOut = len(proxies)
	doc.SetProxies(proxies)

	// Stage C.
	if restructure {
		groups, rep.Brand, err = restructureGroups(groups, policy)
		if err != nil {
			return Report{}, err
		}
		if policy == PolicyFilterAndRename && len(usNames) > 0 {
			groups = upsertGroup(groups, ispDialerGroup(usNames))
			rep.ISPDialer = true
		}
		groups = append([]clash.Group{chatGPTGroup(rep.ResidentialInjected)}, groups...)
	}
	doc.SetGroups(groups)

	// Stage D.
	lines, err := doc.Rules()
	if err != nil {
		return Report{}, stageError("rules", "rules 结构不合法", err)
	}
	injected := InjectedRules(policy)
	out := make([]string, 0, len(injected)+len(lines))
	out = append(out, injected...)
	for _, line := range lines {
		if rep.Brand != "" {
			var changed bool
			line, changed = rules.Retarget(line, rep.Brand, GroupInternational)
			if changed {
				rep.RulesRetargeted++
			}
		}
		out = append(out, line)
	}
	rep.RulesInjected = len(injected)
	doc.SetRules(out)

	rep.DuplicateNames = DuplicateNames(doc)
	rep.DanglingReferences = CheckReferences(doc)
	return rep, nil
}

func filterProxies(in []clash.Proxy, policy Policy) ([]clash.Proxy, error) {
	if policy == PolicyFilterOnly {
		out := make([]clash.Proxy, 0, len(in))
		for _, p := range in {
			if HasFlagPrefix(p.Name()) {
				out = append(out, p)
			}
		}
		return out, nil
	}

	if len(in) <= leadingInfoEntries {
		return []clash.Proxy{}, nil
	}
	out := in[leadingInfoEntries:]
	for i, p := range out {
		if err := p.SetName(Rename(p.Name())); err != nil {
			return nil, stageError("proxies", "proxies 条目结构不合法", fmt.Errorf("proxies[%d]: %w", i+leadingInfoEntries, err))
		}
	}
	return out, nil
}

func namesWithFlag(proxies []clash.Proxy, code string) []string {
	var out []string
	for _, p := range proxies {
		if name := p.Name(); HasCountryFlag(name, code) {
			out = append(out, name)
		}
	}
	return out
}

func dialerTarget(policy Policy, ispDialer bool) string {
	if policy == PolicyFilterOnly {
		return GroupAutoSelect
	}
	if ispDialer {
		return GroupISPDialer
	}
	return PolicyDirect
}

func residentialProxy(r ResidentialProxy, dialer string) clash.Proxy {
	return clash.NewProxy(
		clash.Field{Key: "name", Value: ProxyResidential},
		clash.Field{Key: "type", Value: "socks5"},
		clash.Field{Key: "server", Value: r.Host},
		clash.Field{Key: "port", Value: r.Port},
		clash.Field{Key: "username", Value: r.Username},
		clash.Field{Key: "password", Value: r.Password},
		clash.Field{Key: "udp", Value: true},
		clash.Field{Key: "dialer-proxy", Value: dialer},
	)
}

func restructureGroups(groups []clash.Group, policy Policy) ([]clash.Group, string, error) {
	var brand string
	for i := 0; i < len(groups) && i < restructuredGroups; i++ {
		g := groups[i]
		if !g.IsMapping() {
			return nil, "", stageError("proxy_groups", "proxy-groups 条目结构不合法", fmt.Errorf("proxy-groups[%d] is not a mapping", i))
		}
		members, ok, err := g.Members()
		if err != nil {
			return nil, "", stageError("proxy_groups", "proxy-groups 成员结构不合法", err)
		}

		if i == 0 {
			brand = strings.TrimSpace(g.Name())
			if err := g.SetName(GroupInternational); err != nil {
				return nil, "", stageError("proxy_groups", "proxy-groups 条目结构不合法", err)
			}
			switch policy {
			case PolicyFilterOnly:
				members = append([]string{GroupAutoSelect, GroupFailover}, filterFlagged(members)...)
			case PolicyFilterAndRename:
				members = renameAll(removeRange(members, brandInfoStart, brandInfoEnd))
			}
			if err := g.SetMembers(members); err != nil {
				return nil, "", stageError("proxy_groups", "proxy-groups 条目结构不合法", err)
			}
			continue
		}

		if !ok {
			continue
		}
		switch policy {
		case PolicyFilterOnly:
			members = filterFlagged(members)
		case PolicyFilterAndRename:
			members = renameAll(removeRange(members, 0, leadingInfoEntries))
		}
		if err := g.SetMembers(members); err != nil {
			return nil, "", stageError("proxy_groups", "proxy-groups 条目结构不合法", err)
		}
	}
	return groups, brand, nil
}

// removeRange drops s[from:to], clamped to the slice bounds.
func removeRange(s []string, from, to int) []string {
	from = min(from, len(s))
	to = min(to, len(s))
	out := make([]string, 0, len(s)-(to-from))
	out = append(out, s[:from]...)
	return append(out, s[to:]...)
}

func ispDialerGroup(members []string) clash.Group {
	return clash.NewGroup(
		clash.Field{Key: "name", Value: GroupISPDialer},
		clash.Field{Key: "type", Value: "url-test"},
		clash.Field{Key: "proxies", Value: members},
		clash.Field{Key: "url", Value: ISPDialerProbeURL},
		clash.Field{Key: "interval", Value: ISPDialerIntervalSec},
	)
}

func chatGPTGroup(withResidential bool) clash.Group {
	members := make([]string, 0, 3)
	if withResidential {
		members = append(members, ProxyResidential)
	}
	members = append(members, GroupInternational, PolicyDirect)
	return clash.NewGroup(
		clash.Field{Key: "name", Value: GroupChatGPT},
		clash.Field{Key: "type", Value: "select"},
		clash.Field{Key: "proxies", Value: members},
	)
}

// upsertGroup replaces the first group named like g, or appends g.
func upsertGroup(groups []clash.Group, g clash.Group) []clash.Group {
	for i := range groups {
		if groups[i].Name() == g.Name() {
			groups[i] = g
			return groups
		}
	}
	return append(groups, g)
}
