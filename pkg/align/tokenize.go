package align

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// punctuationVariants maps typographic punctuation to ASCII. Dashes become
// spaces so hyphenated words split the same way ASR output does.
var punctuationVariants = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'", "`", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "″", `"`, "«", `"`, "»", `"`,
	"‐", " ", "‑", " ", "‒", " ", "–", " ", "—", " ", "―", " ", "−", " ", "-", " ",
	"…", " ",
	"\u00a0", " ",
)

// strippedPunctuation is removed from every word token.
const strippedPunctuation = `.,!?;:"()[]{}<>*_~#@$%^&+=|/\`

// contractionSuffixes are folded into the stem, longest first.
var contractionSuffixes = []string{"n't", "'re", "'ll", "'ve", "'m", "'s", "'d"}

// Tokenize normalises text into comparable tokens.
//
// The steps run in a fixed order: typographic punctuation is mapped to ASCII,
// the text is NFKC-normalised and lowercased, split on whitespace, and every
// field is converted to a number when possible (digits, number words, scale
// words). Runs of number words collapse into one number ("twenty one" and
// "twenty-one" both become 21). Remaining words lose punctuation and
// contraction suffixes.
//
// Tokenize is deterministic: the same input always yields the same tokens.
func Tokenize(text string) []Token {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s := punctuationVariants.Replace(text)
	s = norm.NFKC.String(s)
	s = cases.Lower(language.Und).String(s)

	fields := strings.Fields(s)
	out := make([]Token, 0, len(fields))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if n, ok := parseNumeric(f); ok {
			out = flushWords(out, words)
			words = words[:0]
			out = append(out, Number(n))
			continue
		}
		w := normalizeWord(f)
		if w == "" {
			continue
		}
		words = append(words, w)
	}
	return flushWords(out, words)
}

// flushWords converts a run of words, merging number-word phrases.
func flushWords(out []Token, words []string) []Token {
	for i := 0; i < len(words); {
		if n, used := parseNumberPhrase(words[i:]); used > 0 {
			out = append(out, Number(n))
			i += used
			continue
		}
		out = append(out, Word(words[i]))
		i++
	}
	return out
}

// parseNumeric parses digit tokens such as "42", "1,000" or "3.5", ignoring
// surrounding punctuation.
func parseNumeric(field string) (float64, bool) {
	f := strings.Trim(field, strippedPunctuation+"'")
	if f == "" || !isDigit(f[0]) {
		return 0, false
	}
	f = strings.ReplaceAll(f, ",", "")
	n, err := strconv.ParseFloat(f, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// normalizeWord strips punctuation and folds contractions.
func normalizeWord(field string) string {
	w := strings.Map(func(r rune) rune {
		if strings.ContainsRune(strippedPunctuation, r) {
			return -1
		}
		return r
	}, field)
	w = strings.Trim(w, "'")
	for _, suf := range contractionSuffixes {
		if len(w) > len(suf) && strings.HasSuffix(w, suf) {
			if suf == "'s" {
				w = strings.TrimSuffix(w, suf)
			} else {
				w = strings.TrimSuffix(w, suf) + strings.TrimPrefix(suf, "'")
			}
			break
		}
	}
	return strings.ReplaceAll(w, "'", "")
}
