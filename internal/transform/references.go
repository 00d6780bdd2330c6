package transform

import (
	"fmt"
	"sort"

	"github.com/pectics/clash-relay/internal/clash"
	"github.com/pectics/clash-relay/internal/rules"
)

// reservedPolicies resolve without a matching proxy or group entry.
var reservedPolicies = map[string]struct{}{
	"DIRECT":        {},
	"REJECT":        {},
	"REJECT-DROP":   {},
	"PASS":          {},
	"COMPATIBLE":    {},
	GroupAutoSelect: {},
	GroupFailover:   {},
}

// IsReserved reports whether name is a built-in policy or one of the
// selector groups the brand group always lists.
func IsReserved(name string) bool {
	_, ok := reservedPolicies[name]
	return ok
}

// Reference is a name cited somewhere in the document that does not resolve.
type Reference struct {
	// Kind is "rule", "group" or "dialer-proxy".
	Kind  string
	Owner string
	Name  string
}

func (r Reference) String() string {
	return fmt.Sprintf("%s %q -> %q", r.Kind, r.Owner, r.Name)
}

// CheckReferences lists every rule target, group member and dialer-proxy
// that resolves to nothing. Rule targets must name a group or a reserved
// policy; group members and dialers may also name a proxy.
func CheckReferences(doc *clash.Document) []Reference {
	proxyNames := make(map[string]struct{})
	for _, p := range doc.Proxies() {
		proxyNames[p.Name()] = struct{}{}
	}
	groups := doc.Groups()
	groupNames := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		groupNames[g.Name()] = struct{}{}
	}

	resolvesPolicy := func(name string) bool {
		if IsReserved(name) {
			return true
		}
		_, ok := groupNames[name]
		return ok
	}
	resolvesMember := func(name string) bool {
		if resolvesPolicy(name) {
			return true
		}
		_, ok := proxyNames[name]
		return ok
	}

	var out []Reference
	for _, p := range doc.Proxies() {
		if dialer, ok := p.Field("dialer-proxy"); ok && dialer != "" && !resolvesMember(dialer) {
			out = append(out, Reference{Kind: "dialer-proxy", Owner: p.Name(), Name: dialer})
		}
	}
	for _, g := range groups {
		members, _, err := g.Members()
		if err != nil {
			continue
		}
		for _, m := range members {
			if !resolvesMember(m) {
				out = append(out, Reference{Kind: "group", Owner: g.Name(), Name: m})
			}
		}
	}
	lines, err := doc.Rules()
	if err != nil {
		return out
	}
	for _, line := range lines {
		target, ok := rules.Target(line)
		if !ok {
			continue
		}
		if !resolvesPolicy(target) {
			out = append(out, Reference{Kind: "rule", Owner: line, Name: target})
		}
	}
	return out
}

// DuplicateNames lists proxy names that appear more than once, and names
// shared by a proxy and a group. Either makes group references ambiguous.
func DuplicateNames(doc *clash.Document) []string {
	seen := make(map[string]int)
	for _, p := range doc.Proxies() {
		seen[p.Name()]++
	}
	dup := make(map[string]struct{})
	for name, n := range seen {
		if n > 1 {
			dup[name] = struct{}{}
		}
	}
	for _, g := range doc.Groups() {
		if _, ok := seen[g.Name()]; ok {
			dup[g.Name()] = struct{}{}
		}
	}
	if len(dup) == 0 {
		return nil
	}
	out := make([]string, 0, len(dup))
	for name := range dup {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
