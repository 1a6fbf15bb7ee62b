package teleprompter

import (
	"time"

	"github.com/MrWong99/scriptcue/pkg/align"
)

// SpokenToken is one finalised recognised word and when it was last seen or
// last confirmed as matched evidence.
type SpokenToken struct {
	Token align.Token
	At    time.Time
}

// SpokenBuffer is the ordered window of finalised spoken tokens the engine
// aligns against. It is not safe for concurrent use; the engine serialises
// access.
type SpokenBuffer struct {
	tokens  []SpokenToken
	hardCap int
	softCap int
}

// NewSpokenBuffer returns a buffer trimmed to hardCap tokens, allowed to grow
// to softCap while protected.
func NewSpokenBuffer(hardCap, softCap int) *SpokenBuffer {
	if softCap < hardCap {
		softCap = hardCap
	}
	return &SpokenBuffer{hardCap: hardCap, softCap: softCap}
}

// Len returns the number of buffered tokens.
func (b *SpokenBuffer) Len() int { return len(b.tokens) }

// Tokens returns a copy of the buffered tokens without timestamps.
func (b *SpokenBuffer) Tokens() []align.Token {
	out := make([]align.Token, len(b.tokens))
	for i, t := range b.tokens {
		out[i] = t.Token
	}
	return out
}

// Entries returns a copy of the buffer. Intended for tests and debugging.
func (b *SpokenBuffer) Entries() []SpokenToken {
	out := make([]SpokenToken, len(b.tokens))
	copy(out, b.tokens)
	return out
}

// Append adds tokens stamped with at and trims the head when the buffer
// overflows. A protected buffer may grow to the soft cap; beyond that, or
// whenever unprotected, it is cut back to the hard cap regardless of match
// status. Append returns the number of dropped tokens.
func (b *SpokenBuffer) Append(tokens []align.Token, at time.Time, protected bool) int {
	for _, t := range tokens {
		b.tokens = append(b.tokens, SpokenToken{Token: t, At: at})
	}
	limit := b.hardCap
	if protected && len(b.tokens) <= b.softCap {
		return 0
	}
	if b.hardCap <= 0 || len(b.tokens) <= limit {
		return 0
	}
	drop := len(b.tokens) - limit
	b.tokens = append(b.tokens[:0:0], b.tokens[drop:]...)
	return drop
}

// Evict removes tokens older than window at now, except the first keep
// tokens, and returns how many were removed. Callers pass the span of buffer
// entries backing the current contiguous prefix as keep.
func (b *SpokenBuffer) Evict(now time.Time, window time.Duration, keep int) int {
	cutoff := now.Add(-window)
	kept := b.tokens[:0]
	removed := 0
	for i, t := range b.tokens {
		if i >= keep && t.At.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	clear(b.tokens[len(kept):])
	b.tokens = kept
	return removed
}

// Refresh stamps the first n tokens with now.
func (b *SpokenBuffer) Refresh(n int, now time.Time) {
	n = min(n, len(b.tokens))
	for i := 0; i < n; i++ {
		b.tokens[i].At = now
	}
}

// Consume removes and returns the first n tokens.
func (b *SpokenBuffer) Consume(n int) []align.Token {
	n = min(max(n, 0), len(b.tokens))
	out := make([]align.Token, n)
	for i := 0; i < n; i++ {
		out[i] = b.tokens[i].Token
	}
	b.tokens = append(b.tokens[:0:0], b.tokens[n:]...)
	return out
}

// Clear empties the buffer.
func (b *SpokenBuffer) Clear() { b.tokens = nil }
