package align

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/scriptcue/pkg/align/phonetic"
)

const (
	// prefixMinLen is the minimum rune length of the shorter word before
	// prefix containment counts as a match ("present" vs "presentation").
	prefixMinLen = 4

	// substringMinLen is the minimum rune length of the shorter word before
	// substring containment counts as a match.
	substringMinLen = 5

	// substringMaxDiff bounds the length difference for substring matches.
	substringMaxDiff = 2
)

var articles = map[string]struct{}{"a": {}, "an": {}, "the": {}}

// Equaler compares tokens. The zero value applies the standard heuristics;
// use [NewEqualer] with [WithPhonetic] to add a phonetic stage.
//
// Equaler is read-only after construction and safe for concurrent use.
type Equaler struct {
	phonetic *phonetic.Matcher
}

// EqualerOption configures an [Equaler].
type EqualerOption func(*Equaler)

// WithPhonetic enables phonetic comparison of long words as a last resort.
// A nil matcher disables the stage.
func WithPhonetic(m *phonetic.Matcher) EqualerOption {
	return func(e *Equaler) {
		e.phonetic = m
	}
}

// NewEqualer returns an [Equaler] configured with opts.
func NewEqualer(opts ...EqualerOption) *Equaler {
	e := &Equaler{}
	for _, o := range opts {
		o(e)
	}
	return e
}

var defaultEqualer = &Equaler{}

// Equal reports whether a and b mean the same word using the default
// heuristics. See [Equaler.Equal].
func Equal(a, b Token) bool { return defaultEqualer.Equal(a, b) }

// Equal reports whether a and b mean the same word.
//
// Numbers compare by value; a word operand is converted through
// [WordToNumber] first. Words match when they are identical, when both are
// articles, when the shorter one (at least 4 runes) is a prefix of the
// other, or when the shorter one (at least 5 runes, at most 2 runes
// shorter) is contained in the other. An optional phonetic stage runs last.
func (e *Equaler) Equal(a, b Token) bool {
	if a.IsNum || b.IsNum {
		an, aok := tokenNumber(a)
		bn, bok := tokenNumber(b)
		return aok && bok && an == bn
	}
	x, y := a.Text, b.Text
	if x == y {
		return true
	}
	if _, ok := articles[x]; ok {
		if _, ok := articles[y]; ok {
			return true
		}
	}
	lx, ly := utf8.RuneCountInString(x), utf8.RuneCountInString(y)
	short, long, ls, ll := x, y, lx, ly
	if lx > ly {
		short, long, ls, ll = y, x, ly, lx
	}
	if ls >= prefixMinLen && strings.HasPrefix(long, short) {
		return true
	}
	if ls >= substringMinLen && ll-ls <= substringMaxDiff && strings.Contains(long, short) {
		return true
	}
	if e.phonetic != nil {
		ok, _ := e.phonetic.Alike(x, y)
		return ok
	}
	return false
}

func tokenNumber(t Token) (float64, bool) {
	if t.IsNum {
		return t.Num, true
	}
	return WordToNumber(t.Text)
}
