// Package align turns script lines and recognised speech into comparable
// token sequences and aligns them.
//
// The package has three layers, each usable on its own:
//
//   - [Tokenize] normalises raw text into a deterministic sequence of
//     [Token] values. Script lines and spoken fragments must both go through
//     it so that cached script tokens never drift from buffered speech.
//   - [Equal] (and the configurable [Equaler]) decides whether two tokens
//     name the same word. The heuristics favour recall over precision.
//   - [Align] walks a script token sequence against a spoken window and
//     reports which script indices were matched, allowing single-token skips
//     on either side.
//
// Everything in this package is pure and safe for concurrent use.
package align

import (
	"strconv"
	"strings"
)

// Token is one normalised unit of text. Exactly one of Text or Num is
// meaningful, selected by IsNum.
type Token struct {
	// Text is the normalised word when IsNum is false.
	Text string

	// Num is the numeric value when IsNum is true.
	Num float64

	// IsNum reports whether the token is numeric.
	IsNum bool
}

// Word returns a string token.
func Word(s string) Token { return Token{Text: s} }

// Number returns a numeric token.
func Number(n float64) Token { return Token{Num: n, IsNum: true} }

// String renders the token the way it is written into transcripts.
func (t Token) String() string {
	if t.IsNum {
		return strconv.FormatFloat(t.Num, 'f', -1, 64)
	}
	return t.Text
}

// Join renders tokens space-separated.
func Join(tokens []Token) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t.String())
	}
	return b.String()
}
