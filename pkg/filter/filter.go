// Package filter implements fact-based filter matching: "FACT [!]=
// (VALUE | /REGEX/)" expressions evaluated against a fact set gathered
// on the agent.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
)

// Kind distinguishes byte-exact literal comparison from regex matching.
type Kind int

const (
	KindLiteral Kind = iota
	KindRegex
)

// Filter is one parsed fact expression.
type Filter struct {
	Fact  string
	Match bool // false inverts the comparison ("!=")
	Kind  Kind
	Value string         // literal form
	Regex *regexp.Regexp // regex form, always case-insensitive
}

// Facts is a gathered fact set: name -> value.
type Facts map[string]string

// Parse parses one filter expression of the form "FACT = VALUE",
// "FACT != VALUE", "FACT = /REGEX/", or "FACT != /REGEX/".
func Parse(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	neg := false
	idx := strings.Index(s, "!=")
	opLen := 2
	if idx < 0 {
		idx = strings.Index(s, "=")
		opLen = 1
		if idx < 0 {
			return Filter{}, fmt.Errorf("%w: missing '=' in filter %q", errdefs.ErrInvalidArgument, s)
		}
	} else {
		neg = true
	}
	fact := strings.TrimSpace(s[:idx])
	rhs := strings.TrimSpace(s[idx+opLen:])
	if fact == "" || rhs == "" {
		return Filter{}, fmt.Errorf("%w: malformed filter %q", errdefs.ErrInvalidArgument, s)
	}

	f := Filter{Fact: fact, Match: !neg}
	if len(rhs) >= 2 && rhs[0] == '/' && rhs[len(rhs)-1] == '/' {
		pattern := rhs[1 : len(rhs)-1]
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: bad regex %q: %v", errdefs.ErrInvalidArgument, pattern, err)
		}
		f.Kind = KindRegex
		f.Regex = re
	} else {
		f.Kind = KindLiteral
		f.Value = rhs
	}
	return f, nil
}

// MatchFacts reports whether f applies against facts. A fact that is
// absent never matches, regardless of negation.
func (f Filter) MatchFacts(facts Facts) bool {
	actual, ok := facts[f.Fact]
	if !ok {
		return false
	}
	var result bool
	switch f.Kind {
	case KindRegex:
		result = f.Regex.MatchString(actual)
	default:
		result = actual == f.Value
	}
	if !f.Match {
		result = !result
	}
	return result
}

// List is an ordered set of filters, all of which must match.
type List []Filter

// MatchAll reports whether every filter in the list matches facts. An
// empty list matches vacuously.
func MatchAll(filters List, facts Facts) bool {
	for _, f := range filters {
		if !f.MatchFacts(facts) {
			return false
		}
	}
	return true
}

// ParseList parses a semicolon-separated list of filter expressions, the
// form used in a command envelope's filter text.
func ParseList(s string) (List, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ";")
	list := make(List, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := Parse(p)
		if err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	return list, nil
}
