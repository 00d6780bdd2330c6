package transform

import (
	"fmt"
	"strings"
)

// Policy selects which variant of each stage runs. The two policies share the
// pipeline shape and differ only in how proxies and group members are
// filtered and renamed.
type Policy int

const (
	// PolicyFilterOnly keeps flag-prefixed proxies and members only.
	PolicyFilterOnly Policy = iota + 1
	// PolicyFilterAndRename drops the provider's leading info entries by
	// position and normalizes every remaining name.
	PolicyFilterAndRename
)

func (p Policy) String() string {
	switch p {
	case PolicyFilterOnly:
		return "filter-only"
	case PolicyFilterAndRename:
		return "filter-and-rename"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

func (p Policy) Valid() bool {
	return p == PolicyFilterOnly || p == PolicyFilterAndRename
}

// ParsePolicy accepts the policy names used in deployment configuration.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "filter-only", "filteronly", "a":
		return PolicyFilterOnly, nil
	case "filter-and-rename", "filterandrename", "b":
		return PolicyFilterAndRename, nil
	default:
		return 0, fmt.Errorf("unknown policy %q (want filter-only or filter-and-rename)", s)
	}
}
