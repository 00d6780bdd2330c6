package transform

import (
	"strings"
	"unicode/utf8"
)

const (
	regionalIndicatorA = 0x1F1E6
	regionalIndicatorZ = 0x1F1FF
)

// flagLen is the byte length of a two-symbol flag sequence in UTF-8.
const flagLen = 8

func isRegionalIndicator(r rune) bool {
	return r >= regionalIndicatorA && r <= regionalIndicatorZ
}

// HasFlagPrefix reports whether s starts with two regional indicator symbols,
// i.e. a national flag emoji.
func HasFlagPrefix(s string) bool {
	r1, n := utf8.DecodeRuneInString(s)
	if !isRegionalIndicator(r1) {
		return false
	}
	r2, _ := utf8.DecodeRuneInString(s[n:])
	return isRegionalIndicator(r2)
}

// HasCountryFlag reports whether s starts with the flag of the given
// ISO 3166-1 alpha-2 code.
func HasCountryFlag(s, code string) bool {
	flag, ok := flagFor(code)
	return ok && strings.HasPrefix(s, flag)
}

func flagFor(code string) (string, bool) {
	if len(code) != 2 {
		return "", false
	}
	var b strings.Builder
	for i := 0; i < 2; i++ {
		c := code[i]
		if c < 'A' || c > 'Z' {
			return "", false
		}
		b.WriteRune(rune(regionalIndicatorA + int(c-'A')))
	}
	return b.String(), true
}

// countryFlags maps the country codes providers put in front of node names
// to the flag that replaces them. UK is not an ISO code but is common.
var countryFlags = map[string]string{
	"HK": mustFlag("HK"),
	"TW": mustFlag("TW"),
	"MO": mustFlag("MO"),
	"JP": mustFlag("JP"),
	"KR": mustFlag("KR"),
	"SG": mustFlag("SG"),
	"US": mustFlag("US"),
	"UK": mustFlag("GB"),
	"GB": mustFlag("GB"),
	"DE": mustFlag("DE"),
	"CA": mustFlag("CA"),
	"AU": mustFlag("AU"),
}

func mustFlag(code string) string {
	f, ok := flagFor(code)
	if !ok {
		panic("transform: invalid country code " + code)
	}
	return f
}

func filterFlagged(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if HasFlagPrefix(n) {
			out = append(out, n)
		}
	}
	return out
}
