// Package prompter is the client side of the relay: it streams microphone
// audio to the relay and drives a teleprompter runner from the transcripts
// it receives.
package prompter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scriptcue/internal/livemetrics"
	"github.com/MrWong99/scriptcue/internal/relay"
	"github.com/MrWong99/scriptcue/internal/teleprompter"
)

const defaultSnapshotBuffer = 64

// Option configures a [Client].
type Option func(*Client)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithSnapshotBuffer sets the capacity of the [Client.Snapshots] channel.
// Snapshots are dropped while the channel is full.
func WithSnapshotBuffer(n int) Option {
	return func(c *Client) { c.bufSize = n }
}

// Client is one connection to the relay.
type Client struct {
	conn      *websocket.Conn
	log       *slog.Logger
	bufSize   int
	snapshots chan livemetrics.Snapshot
}

// Dial connects to the relay at relayURL, adding the sampleRate query
// parameter.
func Dial(ctx context.Context, relayURL string, sampleRate int, opts ...Option) (*Client, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("prompter: parse relay URL: %w", err)
	}
	q := u.Query()
	q.Set("sampleRate", strconv.Itoa(sampleRate))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("prompter: dial relay: %w", err)
	}
	c := &Client{
		conn:    conn,
		log:     slog.Default(),
		bufSize: defaultSnapshotBuffer,
	}
	for _, o := range opts {
		o(c)
	}
	c.snapshots = make(chan livemetrics.Snapshot, c.bufSize)
	return c, nil
}

// Snapshots returns every transcript with its live metrics. The channel is
// closed when [Client.Run] returns.
func (c *Client) Snapshots() <-chan livemetrics.Snapshot { return c.snapshots }

// Stream sends PCM audio from r in frames of frameBytes bytes, then asks the
// relay to stop. With pace > 0 one frame is sent per pace interval.
func (c *Client) Stream(ctx context.Context, r io.Reader, frameBytes int, pace time.Duration) error {
	if frameBytes <= 0 {
		return fmt.Errorf("prompter: frame size %d must be positive", frameBytes)
	}
	var tick <-chan time.Time
	if pace > 0 {
		t := time.NewTicker(pace)
		defer t.Stop()
		tick = t.C
	}

	buf := make([]byte, frameBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if werr := c.conn.Write(ctx, websocket.MessageBinary, buf[:n]); werr != nil {
				return fmt.Errorf("prompter: send audio: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("prompter: read audio: %w", err)
		}
	}
	return c.Stop(ctx)
}

// Stop asks the relay to flush the recognition stream and finish.
func (c *Client) Stop(ctx context.Context) error {
	data, _ := json.Marshal(relay.ControlMessage{Type: relay.ControlStop})
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("prompter: send stop: %w", err)
	}
	return nil
}

// Run reads relay events until the stream ends, feeding transcripts into
// runner (which may be nil). It returns nil when the stream finished
// normally, a *[RelayError] for a terminal relay error and a *[ClosedError]
// when the recognition stream dropped.
func (c *Client) Run(ctx context.Context, runner *teleprompter.Runner) error {
	defer close(c.snapshots)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("prompter: read relay: %w", err)
		}
		ev, err := DecodeClientEvent(data)
		if err != nil {
			c.log.Warn("prompter: dropping relay message", "err", err)
			continue
		}

		switch ev.Type {
		case relay.EventReady:
			c.log.Info("prompter: recognition stream ready")
		case relay.EventTranscript:
			if err := c.transcript(ctx, runner, *ev.Transcript); err != nil {
				return err
			}
		case relay.EventError:
			if ev.Error.Code == relay.CodeNotReady {
				c.log.Warn("prompter: audio dropped", "message", ev.Error.Message)
				continue
			}
			return &RelayError{Code: ev.Error.Code, Message: ev.Error.Message}
		case relay.EventClosed:
			if ev.Closed.Code == int(websocket.StatusNormalClosure) {
				return nil
			}
			return &ClosedError{Code: ev.Closed.Code, Reason: ev.Closed.Reason}
		default:
			c.log.Debug("prompter: relay event", "type", ev.Type)
		}
	}
}

func (c *Client) transcript(ctx context.Context, runner *teleprompter.Runner, s livemetrics.Snapshot) error {
	if runner != nil {
		var err error
		if s.IsFinal {
			err = runner.PushFinal(ctx, s.Transcript)
		} else {
			err = runner.PushInterim(ctx, s.Transcript)
		}
		if err != nil {
			return fmt.Errorf("prompter: feed runner: %w", err)
		}
	}
	select {
	case c.snapshots <- s:
	default:
		c.log.Debug("prompter: snapshot dropped; consumer is slow")
	}
	return nil
}

// Close closes the relay connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
