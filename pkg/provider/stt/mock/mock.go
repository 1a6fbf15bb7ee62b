// Package mock provides test doubles for the stt package interfaces.
//
// Use Dialer to verify that the caller dials with the expected StreamConfig,
// or to simulate a slow or failing provider. Use Upstream to feed controlled
// provider messages and inspect what was written.
//
// Example:
//
//	up := mock.NewUpstream()
//	d := &mock.Dialer{Upstream: up}
//	up.Push([]byte(`{"type":"Results", ...}`))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scriptcue/pkg/provider/stt"
)

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	// Cfg is the StreamConfig passed to Dial.
	Cfg stt.StreamConfig
}

// Dialer is a mock implementation of stt.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Upstream is returned by Dial. If nil, Dial returns a new Upstream.
	Upstream *Upstream

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// Block, when true, makes Dial wait for ctx to be done and return its
	// error, simulating a provider that never accepts the connection.
	Block bool

	// DialCalls records every call to Dial.
	DialCalls []DialCall
}

// Dial records the call and returns Upstream, DialErr.
func (d *Dialer) Dial(ctx context.Context, cfg stt.StreamConfig) (stt.Upstream, error) {
	d.mu.Lock()
	d.DialCalls = append(d.DialCalls, DialCall{Cfg: cfg})
	block, err, up := d.Block, d.DialErr, d.Upstream
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if up == nil {
		up = NewUpstream()
	}
	return up, nil
}

// Calls returns a copy of the recorded Dial calls. Thread-safe.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.DialCalls...)
}

// Ensure Dialer implements stt.Dialer at compile time.
var _ stt.Dialer = (*Dialer)(nil)

// Upstream is a mock implementation of stt.Upstream. Messages pushed with
// Push are returned by Read in order.
type Upstream struct {
	mu sync.Mutex

	// Frames holds copies of every frame passed to SendAudio.
	Frames [][]byte

	// KeepAlives counts KeepAlive calls.
	KeepAlives int

	// CloseStreams counts CloseStream calls.
	CloseStreams int

	// Closed and Aborted report which close path ran first.
	Closed  bool
	Aborted bool

	msgs chan []byte
	done chan struct{}
	once sync.Once
}

// NewUpstream returns an open Upstream.
func NewUpstream() *Upstream {
	return &Upstream{
		msgs: make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

// Push queues a provider message for Read.
func (u *Upstream) Push(msg []byte) { u.msgs <- msg }

// SendAudio implements stt.Upstream.
func (u *Upstream) SendAudio(_ context.Context, frame []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Closed || u.Aborted {
		return stt.ErrClosed
	}
	u.Frames = append(u.Frames, append([]byte(nil), frame...))
	return nil
}

// KeepAlive implements stt.Upstream.
func (u *Upstream) KeepAlive(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.KeepAlives++
	return nil
}

// CloseStream implements stt.Upstream.
func (u *Upstream) CloseStream(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.CloseStreams++
	return nil
}

// Read implements stt.Upstream.
func (u *Upstream) Read(ctx context.Context) ([]byte, error) {
	// Queued messages are delivered before a disconnect is observed.
	select {
	case m := <-u.msgs:
		return m, nil
	default:
	}
	select {
	case m := <-u.msgs:
		return m, nil
	case <-u.done:
		return nil, stt.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements stt.Upstream.
func (u *Upstream) Close() error {
	u.finish(func() { u.Closed = true })
	return nil
}

// Abort implements stt.Upstream.
func (u *Upstream) Abort() error {
	u.finish(func() { u.Aborted = true })
	return nil
}

// Disconnect simulates the provider closing the socket.
func (u *Upstream) Disconnect() { u.finish(func() {}) }

func (u *Upstream) finish(mark func()) {
	u.once.Do(func() {
		u.mu.Lock()
		mark()
		u.mu.Unlock()
		close(u.done)
	})
}

// Snapshot returns the recorded counters. Thread-safe.
func (u *Upstream) Snapshot() (frames, keepAlives, closeStreams int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.Frames), u.KeepAlives, u.CloseStreams
}

// Ensure Upstream implements stt.Upstream at compile time.
var _ stt.Upstream = (*Upstream)(nil)
