package stt

import "strings"

// Alternative is one recognition hypothesis of a result.
type Alternative struct {
	Transcript string `json:"transcript"`

	// Confidence is the hypothesis-level confidence, nil when absent.
	Confidence *float64 `json:"confidence,omitempty"`

	// Words carries per-word timing when the provider reports it.
	Words []Word `json:"words,omitempty"`
}

// Word is a recognised word with timing in seconds from stream start.
// Providers disagree on which text field they fill; use [Word.Display].
type Word struct {
	Word           string   `json:"word,omitempty"`
	PunctuatedWord string   `json:"punctuated_word,omitempty"`
	Text           string   `json:"text,omitempty"`
	Start          float64  `json:"start"`
	End            float64  `json:"end"`
	Confidence     *float64 `json:"confidence,omitempty"`
}

// Display returns the first non-empty of Word, PunctuatedWord and Text.
func (w Word) Display() string {
	for _, s := range []string{w.Word, w.PunctuatedWord, w.Text} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
