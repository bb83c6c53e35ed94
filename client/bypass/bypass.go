// Package bypass decides, per outgoing request, whether authorization
// should be skipped.
//
// A [Setting] is one of three shapes: [None] (never bypass), [All]
// (bypass everything) or an ordered collection of [Rule] values built with
// [Rules], where the first matching rule short-circuits to "bypass".
package bypass

import (
	"regexp"
	"slices"
)

// Rule is a single condition under which authorization is skipped.
// Rules are either a [Pattern] matched against the request URL or a
// [Predicate] over the method and URL.
type Rule interface {
	matches(method, url string) bool
}

// Pattern bypasses authorization when its expression matches the URL.
type Pattern struct {
	re *regexp.Regexp
}

// Match returns a [Pattern] rule for an already compiled expression.
func Match(re *regexp.Regexp) Pattern {
	return Pattern{re: re}
}

// MustMatch compiles expr and returns a [Pattern] rule. It panics if expr
// is not a valid regular expression.
func MustMatch(expr string) Pattern {
	return Pattern{re: regexp.MustCompile(expr)}
}

// String returns the source text of the pattern.
func (p Pattern) String() string {
	if p.re == nil {
		return ""
	}
	return p.re.String()
}

func (p Pattern) matches(_, url string) bool {
	return p.re != nil && p.re.MatchString(url)
}

// Predicate bypasses authorization when it reports true for the request.
// A predicate that panics counts as "no match".
type Predicate func(method, url string) bool

func (p Predicate) matches(method, url string) (ok bool) {
	if p == nil {
		return false
	}

	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	return p(method, url)
}

type mode uint8

const (
	modeNone mode = iota
	modeAll
	modeRules
)

// Setting is the effective bypass configuration of a client.
// The zero value is equivalent to [None].
type Setting struct {
	mode  mode
	rules []Rule
}

// None never bypasses authorization.
func None() Setting {
	return Setting{mode: modeNone}
}

// All bypasses authorization for every request.
func All() Setting {
	return Setting{mode: modeAll}
}

// Rules bypasses authorization for requests matched by any of rules,
// evaluated in declaration order. An empty collection never bypasses.
func Rules(rules ...Rule) Setting {
	return Setting{mode: modeRules, rules: slices.Clone(rules)}
}

// IsNone reports whether s is absent.
func (s Setting) IsNone() bool { return s.mode == modeNone }

// IsAll reports whether s bypasses every request.
func (s Setting) IsAll() bool { return s.mode == modeAll }

// List returns a copy of the rules carried by s.
func (s Setting) List() []Rule { return slices.Clone(s.rules) }

// Merge folds the rules an authorization strategy declares into the
// configured setting:
//
//   - absent: the declared rules are adopted verbatim.
//   - all: stays all. Declared rules are recorded but never narrow it, and
//     an empty contribution leaves it untouched.
//   - rules: the declared rules are appended after the configured ones.
func Merge(configured Setting, declared []Rule) Setting {
	switch configured.mode {
	case modeAll:
		if len(declared) == 0 {
			return configured
		}
		return Setting{mode: modeAll, rules: slices.Clone(declared)}

	case modeRules:
		return Setting{mode: modeRules, rules: slices.Concat(configured.rules, declared)}

	default:
		if declared == nil {
			return None()
		}
		return Rules(declared...)
	}
}

// ShouldBypass reports whether a request with the given method and url
// skips authorization.
func (s Setting) ShouldBypass(method, url string) bool {
	switch s.mode {
	case modeAll:
		return true
	case modeRules:
		for _, rule := range s.rules {
			if rule != nil && rule.matches(method, url) {
				return true
			}
		}
	}

	return false
}
