package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ReloadFunc receives a newly loaded config and what changed relative to
// the previous one. It runs on the watcher goroutine.
type ReloadFunc func(next *Config, d ConfigDiff)

// Watcher polls the config file and reports edits that change the
// effective configuration. Edits that fail to load are logged and
// ignored; edits with no effect (comments, key order) are skipped.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	mu      sync.Mutex
	current *Config
	stamp   fileStamp

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// fileStamp is the cheap change signal checked before re-reading the file.
type fileStamp struct {
	mtime time.Time
	size  int64
}

func stampOf(fi os.FileInfo) fileStamp {
	return fileStamp{mtime: fi.ModTime(), size: fi.Size()}
}

func (s fileStamp) equal(o fileStamp) bool {
	return s.size == o.size && s.mtime.Equal(o.mtime)
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onReload may be nil.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	w.current = cfg
	w.stamp = stampOf(fi)

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. No reload is reported after Stop returns. It must not
// be called from a [ReloadFunc].
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	fi, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	stamp := stampOf(fi)

	w.mu.Lock()
	unchanged := stamp.equal(w.stamp)
	w.mu.Unlock()
	if unchanged {
		return
	}

	next, err := Load(w.path)

	w.mu.Lock()
	w.stamp = stamp
	if err != nil {
		w.mu.Unlock()
		slog.Warn("config watcher: edit rejected; keeping the running config", "path", w.path, "err", err)
		return
	}
	d := Diff(w.current, next)
	if d.Changed() {
		w.current = next
	}
	w.mu.Unlock()

	if !d.Changed() {
		slog.Debug("config watcher: edit has no effect", "path", w.path)
		return
	}

	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"relay", d.RelayChanged,
		"metrics", d.MetricsChanged,
		"alignment", d.AlignmentChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onReload != nil {
		w.onReload(next, d)
	}
}
