package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/scriptcue/pkg/provider/stt"
)

// DialerConfig configures a [Dialer].
type DialerConfig struct {
	// Breaker is applied to every endpoint.
	Breaker CircuitBreakerConfig

	// AttemptTimeout bounds a single endpoint's dial so a hanging primary
	// leaves time for the fallbacks. An attempt that times out counts as a
	// failure. Zero leaves each attempt bounded only by the caller's context.
	AttemptTimeout time.Duration
}

// Dialer implements [stt.Dialer] over a primary endpoint and optional
// fallbacks, each guarded by its own [CircuitBreaker].
type Dialer struct {
	group          *FallbackGroup[stt.Dialer]
	attemptTimeout time.Duration
}

var _ stt.Dialer = (*Dialer)(nil)

// ErrAttemptTimeout is returned when one endpoint did not answer within
// [DialerConfig.AttemptTimeout].
var ErrAttemptTimeout = errors.New("resilience: dial attempt timed out")

// NewDialer creates a [Dialer] with primary as the preferred endpoint.
func NewDialer(primary stt.Dialer, primaryName string, cfg DialerConfig) *Dialer {
	return &Dialer{
		group:          NewFallbackGroup(primary, primaryName, FallbackConfig{CircuitBreaker: cfg.Breaker}),
		attemptTimeout: cfg.AttemptTimeout,
	}
}

// AddFallback registers an endpoint tried after the earlier ones. Call it
// before the dialer is used.
func (d *Dialer) AddFallback(name string, fallback stt.Dialer) {
	d.group.AddFallback(name, fallback)
}

// Endpoints reports each endpoint's breaker state in order.
func (d *Dialer) Endpoints() []EntryState {
	return d.group.States()
}

// Dial opens a stream on the first endpoint that accepts it. When every
// breaker is open it fails without touching the network.
func (d *Dialer) Dial(ctx context.Context, cfg stt.StreamConfig) (stt.Upstream, error) {
	return ExecuteWithResult(ctx, d.group, func(inner stt.Dialer) (stt.Upstream, error) {
		if d.attemptTimeout <= 0 {
			return inner.Dial(ctx, cfg)
		}
		// The upstream socket may stay bound to the dial context, so a
		// successful attempt keeps it alive until the upstream is closed.
		attemptCtx, cancel := context.WithCancelCause(ctx)
		timer := time.AfterFunc(d.attemptTimeout, func() { cancel(ErrAttemptTimeout) })
		up, err := inner.Dial(attemptCtx, cfg)
		timer.Stop()
		if err != nil {
			if errors.Is(context.Cause(attemptCtx), ErrAttemptTimeout) && ctx.Err() == nil {
				err = fmt.Errorf("%w after %s: %v", ErrAttemptTimeout, d.attemptTimeout, err)
			}
			cancel(nil)
			return nil, err
		}
		return &attemptUpstream{Upstream: up, cancel: cancel}, nil
	})
}

// attemptUpstream releases the attempt context once the socket is closed.
type attemptUpstream struct {
	stt.Upstream
	cancel context.CancelCauseFunc
}

func (u *attemptUpstream) Close() error {
	defer u.cancel(nil)
	return u.Upstream.Close()
}

func (u *attemptUpstream) Abort() error {
	defer u.cancel(nil)
	return u.Upstream.Abort()
}
