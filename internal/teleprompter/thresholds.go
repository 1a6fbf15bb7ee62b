package teleprompter

import "time"

// NotifyMode selects when line-completion callbacks fire.
type NotifyMode string

const (
	// NotifyDeferred reports line N only once the next completion (or the end
	// of the recording) happens, so trailing words of line N have been
	// validated before downstream consumers see it. This is the default.
	NotifyDeferred NotifyMode = "deferred"

	// NotifyImmediate reports every line at the moment it completes.
	NotifyImmediate NotifyMode = "immediate"
)

// IsValid reports whether m is a recognised notify mode.
func (m NotifyMode) IsValid() bool {
	return m == NotifyDeferred || m == NotifyImmediate
}

// Thresholds holds every tunable constant of the alignment engine. None of
// them adapt at runtime.
type Thresholds struct {
	// MinDwell is the minimum time spent on a line before fast-forward or
	// fallback completion may fire.
	MinDwell time.Duration

	// FastForwardRatio is the contiguous-prefix ratio the next line must
	// reach to skip the current one.
	FastForwardRatio float64

	// FastForwardMinMatches is the minimum number of matched next-line tokens
	// for a fast-forward.
	FastForwardMinMatches int

	// FallbackRatio is the overall (possibly gapped) match ratio required for
	// a stall completion.
	FallbackRatio float64

	// FallbackMinMatches is the minimum matched tokens for a stall completion.
	FallbackMinMatches int

	// FallbackStall is how long no new match may arrive before a
	// high-ratio line is forced complete.
	FallbackStall time.Duration

	// FallbackSilence is how long no new match may arrive before a line with
	// enough historical matches is forced complete, whatever its ratio.
	FallbackSilence time.Duration

	// FallbackSilenceMinMatches is the historical match count required for a
	// silence completion.
	FallbackSilenceMinMatches int

	// PauseGrace is the shortest staleness window for buffered words.
	PauseGrace time.Duration

	// ProtectedStaleWindow is the staleness window while the current line has
	// a non-empty contiguous prefix.
	ProtectedStaleWindow time.Duration

	// HardCap is the number of tokens the spoken buffer is trimmed down to.
	HardCap int

	// SoftCap is the size a protected buffer may grow to before trimming.
	SoftCap int

	// CompletionHold keeps a completed line on screen before advancing.
	CompletionHold time.Duration

	// Debounce is the quiet time after the last transcript event before a
	// matching pass is scheduled.
	Debounce time.Duration

	// FrameInterval is the tick passes are coalesced onto.
	FrameInterval time.Duration

	// IdleTick is the interval of passes run without transcript events so
	// time-based fallbacks can fire.
	IdleTick time.Duration

	// Notify selects deferred or immediate completion reporting.
	Notify NotifyMode
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinDwell:                  1500 * time.Millisecond,
		FastForwardRatio:          0.8,
		FastForwardMinMatches:     4,
		FallbackRatio:             0.85,
		FallbackMinMatches:        6,
		FallbackStall:             8 * time.Second,
		FallbackSilence:           12 * time.Second,
		FallbackSilenceMinMatches: 4,
		PauseGrace:                8 * time.Second,
		ProtectedStaleWindow:      100 * time.Second,
		HardCap:                   160,
		SoftCap:                   500,
		CompletionHold:            120 * time.Millisecond,
		Debounce:                  50 * time.Millisecond,
		FrameInterval:             16 * time.Millisecond,
		IdleTick:                  time.Second,
		Notify:                    NotifyDeferred,
	}
}

// staleWindow returns the eviction age for the given protection state.
func (t Thresholds) staleWindow(protected bool) time.Duration {
	if protected {
		return t.ProtectedStaleWindow
	}
	return max(t.PauseGrace, t.FallbackSilence)
}
