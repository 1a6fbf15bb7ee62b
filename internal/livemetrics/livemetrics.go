// Package livemetrics derives delivery metrics (pace, filler words, pauses,
// confidence) from a single recognition result.
//
// Every snapshot is computed from one result alone; nothing is accumulated
// across calls.
package livemetrics

import (
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/scriptcue/pkg/provider/stt"
)

// DefaultFillers is the default filler-word set.
var DefaultFillers = []string{
	"um", "umm", "uh", "uhh", "uhm", "er", "erm", "ah", "ahh",
	"hmm", "hm", "mm", "mhm", "like",
}

// DefaultLongPause is the smallest gap between consecutive words counted as a
// long pause.
const DefaultLongPause = 700 * time.Millisecond

// Snapshot is the metrics view of one result.
type Snapshot struct {
	Transcript  string   `json:"transcript"`
	IsFinal     bool     `json:"is_final"`
	FillerCount int      `json:"fillerCount"`
	WPM         *float64 `json:"wpm"`
	LongPauses  int      `json:"longPauses"`
	Accuracy    *float64 `json:"accuracy"`
}

// Option configures a [Calculator].
type Option func(*Calculator)

// WithFillers replaces the filler-word set. Words are matched after
// lowercasing and trimming punctuation.
func WithFillers(words []string) Option {
	return func(c *Calculator) {
		c.fillers = make(map[string]struct{}, len(words))
		for _, w := range words {
			c.fillers[normalize(w)] = struct{}{}
		}
	}
}

// WithLongPause sets the long-pause threshold.
func WithLongPause(d time.Duration) Option {
	return func(c *Calculator) { c.longPause = d.Seconds() }
}

// Calculator computes snapshots. It is immutable after construction and safe
// for concurrent use.
type Calculator struct {
	fillers   map[string]struct{}
	longPause float64
}

// New returns a Calculator with the default filler set and pause threshold.
func New(opts ...Option) *Calculator {
	c := &Calculator{longPause: DefaultLongPause.Seconds()}
	WithFillers(DefaultFillers)(c)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compute derives a snapshot from alt. Word timings are seconds from stream
// start. WPM is nil when the word span is not positive; Accuracy is nil when
// no confidence was reported at all.
func (c *Calculator) Compute(alt stt.Alternative, isFinal bool) Snapshot {
	s := Snapshot{
		Transcript: strings.TrimSpace(alt.Transcript),
		IsFinal:    isFinal,
	}
	words := alt.Words

	alpha := 0
	var confSum float64
	confN := 0
	for i, w := range words {
		text := normalize(w.Display())
		if _, ok := c.fillers[text]; ok && text != "" {
			s.FillerCount++
		}
		if isAlphabetic(text) {
			alpha++
		}
		if w.Confidence != nil {
			confSum += *w.Confidence
			confN++
		}
		if i > 0 && w.Start-words[i-1].End >= c.longPause {
			s.LongPauses++
		}
	}

	if len(words) > 0 {
		span := words[len(words)-1].End - words[0].Start
		if span > 0 {
			wpm := float64(alpha) / (span / 60)
			s.WPM = &wpm
		}
	}

	switch {
	case confN > 0:
		acc := confSum / float64(confN)
		s.Accuracy = &acc
	case alt.Confidence != nil:
		acc := *alt.Confidence
		s.Accuracy = &acc
	}
	return s
}

func normalize(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}

// isAlphabetic reports whether w contains at least one letter.
func isAlphabetic(w string) bool {
	return strings.IndexFunc(w, unicode.IsLetter) >= 0
}
