package align

var unitWords = map[string]float64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11,
	"twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tensWords = map[string]float64{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var scaleWords = map[string]float64{
	"hundred":  100,
	"thousand": 1_000,
	"million":  1_000_000,
	"billion":  1_000_000_000,
}

// WordToNumber converts a single number word or scale word to its value.
func WordToNumber(w string) (float64, bool) {
	if n, ok := unitWords[w]; ok {
		return n, true
	}
	if n, ok := tensWords[w]; ok {
		return n, true
	}
	if n, ok := scaleWords[w]; ok {
		return n, true
	}
	return 0, false
}

type numKind int

const (
	kindNone numKind = iota
	kindUnit
	kindTens
	kindHundred
	kindScale
)

// parseNumberPhrase consumes the longest run of words at the start of words
// that reads as one English number and returns its value and the number of
// words used. "and" is accepted between a hundred or scale word and the
// rest of the number ("one hundred and five").
func parseNumberPhrase(words []string) (float64, int) {
	var (
		total, cur float64
		last       numKind
		lastScale  float64
		used       int
		seen       bool
	)
	for i := 0; i < len(words); i++ {
		w := words[i]
		if w == "and" && seen && (last == kindHundred || last == kindScale) &&
			i+1 < len(words) && isNumberWord(words[i+1]) {
			continue
		}
		if n, ok := unitWords[w]; ok {
			// A unit may follow a bare tens word or a scale, nothing else.
			if last == kindUnit || (last == kindTens && n >= 10) {
				break
			}
			cur += n
			last = kindUnit
		} else if n, ok := tensWords[w]; ok {
			if last == kindUnit || last == kindTens {
				break
			}
			cur += n
			last = kindTens
		} else if w == "hundred" {
			if last == kindHundred || cur >= 100 {
				break
			}
			if cur == 0 {
				cur = 1
			}
			cur *= 100
			last = kindHundred
		} else if n, ok := scaleWords[w]; ok {
			if lastScale != 0 && n >= lastScale {
				break
			}
			if cur == 0 {
				cur = 1
			}
			total += cur * n
			cur = 0
			lastScale = n
			last = kindScale
		} else {
			break
		}
		seen = true
		used = i + 1
	}
	if !seen {
		return 0, 0
	}
	return total + cur, used
}

func isNumberWord(w string) bool {
	_, ok := WordToNumber(w)
	return ok
}
