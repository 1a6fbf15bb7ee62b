package align

// maxSpokenOffset is the largest number of leading spoken tokens the aligner
// will skip before starting a walk. The window often still holds the tail of
// the previous line or a false start.
const maxSpokenOffset = 3

// Result is the outcome of one alignment walk.
type Result struct {
	// Matched is the number of script tokens that found a spoken partner.
	Matched int

	// ScriptEnd is the script index where the walk stopped.
	ScriptEnd int

	// SpokenEnd is the spoken index where the walk stopped. Spoken tokens
	// before it are accounted for by this line.
	SpokenEnd int

	// Offset is the number of leading spoken tokens skipped by the winning walk.
	Offset int

	// MatchedScript maps each matched script index to the spoken index it
	// was paired with.
	MatchedScript map[int]int

	// Bridged holds script indices skipped by the one-token lookahead. A
	// bridged index is always followed by a matched one.
	Bridged map[int]struct{}
}

// ContiguousPrefix returns the length of the longest run of covered script
// indices starting at 0. An index is covered when it was matched or bridged
// by a single-token skip.
func (r Result) ContiguousPrefix() int {
	n := 0
	for {
		if _, ok := r.MatchedScript[n]; ok {
			n++
			continue
		}
		if _, ok := r.Bridged[n]; ok {
			n++
			continue
		}
		return n
	}
}

// PrefixSpokenEnd returns one past the spoken index paired with the last
// matched script index inside the contiguous prefix, or 0 when the prefix is
// empty.
func (r Result) PrefixSpokenEnd() int {
	end := 0
	for i := 0; i < r.ContiguousPrefix(); i++ {
		if j, ok := r.MatchedScript[i]; ok && j+1 > end {
			end = j + 1
		}
	}
	return end
}

// Align aligns script against spoken using [Equal].
func Align(script, spoken []Token) Result { return defaultEqualer.Align(script, spoken) }

// Align finds the best greedy alignment of script against spoken.
//
// For each spoken start offset in 0..3 it walks both sequences: on a match
// both pointers advance; otherwise it tries skipping one script token (the
// speaker omitted a word), then skipping one spoken token (the speaker added
// a word); when neither lookahead matches, the spoken token is treated as
// noise. The walk with the most matches wins; ties keep the smaller offset.
func (e *Equaler) Align(script, spoken []Token) Result {
	best := Result{MatchedScript: map[int]int{}, Bridged: map[int]struct{}{}}
	if len(script) == 0 || len(spoken) == 0 {
		return best
	}
	maxOff := min(maxSpokenOffset, len(spoken)-1)
	for off := 0; off <= maxOff; off++ {
		r := e.walk(script, spoken, off)
		if r.Matched > best.Matched {
			best = r
		}
	}
	return best
}

func (e *Equaler) walk(script, spoken []Token, offset int) Result {
	r := Result{
		Offset:        offset,
		MatchedScript: make(map[int]int, len(script)),
		Bridged:       map[int]struct{}{},
	}
	i, j := 0, offset
	for i < len(script) && j < len(spoken) {
		switch {
		case e.Equal(script[i], spoken[j]):
			r.MatchedScript[i] = j
			i++
			j++
		case i+1 < len(script) && e.Equal(script[i+1], spoken[j]):
			r.Bridged[i] = struct{}{}
			r.MatchedScript[i+1] = j
			i += 2
			j++
		case j+1 < len(spoken) && e.Equal(script[i], spoken[j+1]):
			r.MatchedScript[i] = j + 1
			i++
			j += 2
		default:
			j++
			continue
		}
		r.Matched++
	}
	r.ScriptEnd = i
	r.SpokenEnd = j
	return r
}
