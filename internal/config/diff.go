package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable sections are reported as flags; fields that only take
// effect on restart are listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RelayChanged is true when any relay timing, path-independent option
	// or allowed origin changed. New sessions pick the values up.
	RelayChanged bool

	// MetricsChanged is true when the filler set or long-pause gap changed.
	MetricsChanged bool

	// AlignmentChanged is true when any alignment threshold changed.
	AlignmentChanged bool

	// RestartRequired names changed fields that are ignored until restart.
	RestartRequired []string
}

// Changed reports whether d contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RelayChanged || d.MetricsChanged ||
		d.AlignmentChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	or, nr := old.Relay, new.Relay
	if or.ConnectTimeout != nr.ConnectTimeout ||
		or.KeepAliveInterval != nr.KeepAliveInterval ||
		or.FlushGrace != nr.FlushGrace ||
		or.Endpointing != nr.Endpointing ||
		or.UtteranceEnd != nr.UtteranceEnd ||
		!slices.Equal(or.AllowedOrigins, nr.AllowedOrigins) {
		d.RelayChanged = true
	}

	if old.Metrics.LongPause != new.Metrics.LongPause ||
		!slices.Equal(old.Metrics.FillerWords, new.Metrics.FillerWords) {
		d.MetricsChanged = true
	}

	if old.Alignment != new.Alignment {
		d.AlignmentChanged = true
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !tlsEqual(old.Server.TLS, new.Server.TLS))
	restart("server.shutdown_timeout", old.Server.ShutdownTimeout != new.Server.ShutdownTimeout)
	restart("relay.path", or.Path != nr.Path)
	restart("asr", old.ASR != new.ASR)
	restart("recordlog.dsn", old.RecordLog.DSN != new.RecordLog.DSN)

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
