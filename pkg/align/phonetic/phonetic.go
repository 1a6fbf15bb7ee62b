// Package phonetic decides whether two spoken words sound alike, using
// Double Metaphone codes combined with Jaro-Winkler string similarity.
//
// Two words are considered alike when:
//
//  1. Their Double Metaphone code sets overlap (primary or secondary), and
//     their Jaro-Winkler similarity reaches the phonetic threshold
//     (default 0.85); or
//  2. Their codes do not overlap but the Jaro-Winkler similarity alone
//     reaches the stricter fuzzy threshold (default 0.94).
//
// Words shorter than the minimum length (default 4 runes) never match, since
// short function words collide too often to be useful evidence.
package phonetic

import (
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.85
	defaultFuzzyThreshold    = 0.94
	defaultMinLength         = 4
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for words whose
// phonetic codes overlap. Default: 0.85.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for words without
// phonetic overlap. Default: 0.94.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithMinLength sets the minimum rune length both words must have. Default: 4.
func WithMinLength(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.minLength = n
		}
	}
}

// Matcher compares words phonetically. It is read-only after construction and
// safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minLength         int
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minLength:         defaultMinLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Alike reports whether a and b sound like the same word together with the
// Jaro-Winkler score that decided it. Inputs are expected to be normalised
// (lowercase, no punctuation).
func (m *Matcher) Alike(a, b string) (bool, float64) {
	if utf8.RuneCountInString(a) < m.minLength || utf8.RuneCountInString(b) < m.minLength {
		return false, 0
	}
	if a == b {
		return true, 1
	}
	score := matchr.JaroWinkler(a, b, false)
	if codesOverlap(codes(a), codes(b)) {
		return score >= m.phoneticThreshold, score
	}
	return score >= m.fuzzyThreshold, score
}

// codes returns the non-empty Double Metaphone codes for w.
func codes(w string) []string {
	p, s := matchr.DoubleMetaphone(w)
	out := make([]string, 0, 2)
	if p != "" {
		out = append(out, p)
	}
	if s != "" && s != p {
		out = append(out, s)
	}
	return out
}

func codesOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
