package transform

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// "<suffix> <word1> <word2> <digits>" -> "<digits> <word1><word2>"
var reorderPattern = regexp.MustCompile(`^(\S+)\s+(\S+)\s+(\S+)\s+(\d+)$`)

// Applied in order; a later pair may match the output of an earlier one.
var labelReplacements = [][2]string{
	{"全局负载", "全局"},
	{"混合负载", "混合"},
	{"智能路由", "智能"},
	{"动态加速", "D+"},
	{"全球加速", "G+"},
}

// Rename normalizes a provider node name: a leading country code becomes
// its flag, the "<region> <word> <word> <n>" layout is reordered to
// "<n> <word><word>", and compound labels are shortened.
func Rename(name string) string {
	name = replaceCountryCode(name)
	name = reorder(name)
	for _, r := range labelReplacements {
		name = strings.ReplaceAll(name, r[0], r[1])
	}
	return name
}

func renameAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Rename(n)
	}
	return out
}

func replaceCountryCode(name string) string {
	if len(name) < 2 {
		return name
	}
	flag, ok := countryFlags[name[:2]]
	if !ok {
		return name
	}
	// "USA 01" is not a code; "US美国 01" is.
	if next, _ := utf8.DecodeRuneInString(name[2:]); len(name) > 2 && next < utf8.RuneSelf && unicode.IsLetter(next) {
		return name
	}
	return flag + name[2:]
}

func reorder(name string) string {
	prefix, rest := "", name
	if HasFlagPrefix(name) {
		prefix = name[:flagLen]
		rest = name[flagLen:]
		trimmed := strings.TrimLeftFunc(rest, unicode.IsSpace)
		prefix += rest[:len(rest)-len(trimmed)]
		if trimmed == rest {
			prefix += " "
		}
		rest = trimmed
	}
	m := reorderPattern.FindStringSubmatch(rest)
	if m == nil {
		return name
	}
	return prefix + m[4] + " " + m[2] + m[3]
}
