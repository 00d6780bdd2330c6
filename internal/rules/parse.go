package rules

import (
	"fmt"
	"strings"
)

type RuleError struct {
	Code    string
	Message string
	Hint    string
	Cause   error
}

func (e *RuleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *RuleError) Unwrap() error { return e.Cause }

// Rule is a Clash routing rule split into its fields:
//
//	TYPE,PAYLOAD,TARGET[,OPTION...]
//	MATCH,TARGET
//
// TARGET is always a policy reference (group name, DIRECT, REJECT).
type Rule struct {
	Type    string
	Payload string
	Target  string
	Options []string
}

// Options that may trail the target field.
var trailingOptions = map[string]struct{}{
	"no-resolve": {},
	"src":        {},
}

// Parse parses a single rule line. Logical rules such as
// AND,((DOMAIN,a.com),(NETWORK,UDP)),Proxy are split on top-level commas only.
func Parse(line string) (Rule, error) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if line == "" {
		return Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "rule line is empty"}
	}
	if strings.HasPrefix(line, "#") {
		return Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "rule line is comment"}
	}

	parts, err := splitTopLevel(line)
	if err != nil {
		return Rule{}, err
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" {
		return Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则类型不能为空"}
	}

	typ := parts[0]
	if isFinal(typ) {
		if len(parts) != 2 || parts[1] == "" {
			return Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "MATCH 规则必须是 MATCH,<TARGET>",
			}
		}
		return Rule{Type: typ, Target: parts[1]}, nil
	}

	var opts []string
	for len(parts) > 3 {
		last := parts[len(parts)-1]
		if _, ok := trailingOptions[strings.ToLower(last)]; !ok {
			break
		}
		opts = append([]string{last}, opts...)
		parts = parts[:len(parts)-1]
	}

	if len(parts) != 3 {
		return Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: "规则字段数量不合法",
			Hint:    "expected: TYPE,PAYLOAD,TARGET[,no-resolve]",
		}
	}
	if parts[1] == "" || parts[2] == "" {
		return Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则 PAYLOAD/TARGET 不能为空"}
	}
	return Rule{Type: typ, Payload: parts[1], Target: parts[2], Options: opts}, nil
}

// String renders the rule back into its comma-delimited form.
func (r Rule) String() string {
	if isFinal(r.Type) {
		return r.Type + "," + r.Target
	}
	var b strings.Builder
	b.WriteString(r.Type)
	b.WriteByte(',')
	b.WriteString(r.Payload)
	b.WriteByte(',')
	b.WriteString(r.Target)
	for _, o := range r.Options {
		b.WriteByte(',')
		b.WriteString(o)
	}
	return b.String()
}

// Retarget points line at a new target if its current target equals from.
// The payload is never inspected, so a payload that happens to contain from
// is left alone. Lines that do not parse are returned unchanged.
func Retarget(line, from, to string) (string, bool) {
	if from == "" {
		return line, false
	}
	r, err := Parse(line)
	if err != nil || r.Target != from {
		return line, false
	}
	r.Target = to
	return r.String(), true
}

// Target returns the policy referenced by line, if it parses.
func Target(line string) (string, bool) {
	r, err := Parse(line)
	if err != nil {
		return "", false
	}
	return r.Target, true
}

func isFinal(typ string) bool {
	switch strings.ToUpper(typ) {
	case "MATCH", "FINAL":
		return true
	}
	return false
}

func splitTopLevel(line string) ([]string, error) {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则括号不匹配"}
			}
		case ',':
			if depth == 0 {
				parts = append(parts, line[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则括号不匹配"}
	}
	return append(parts, line[start:]), nil
}
