package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scriptcue/internal/observe"
	"github.com/MrWong99/scriptcue/pkg/provider/stt"
	"github.com/MrWong99/scriptcue/pkg/provider/stt/deepgram"
)

// writeTimeout bounds a single write to the client socket.
const writeTimeout = 5 * time.Second

type upstreamState int

const (
	upstreamConnecting upstreamState = iota
	upstreamOpen
	upstreamFlushing
)

type clientMessage struct {
	typ  websocket.MessageType
	data []byte
}

type dialResult struct {
	up   stt.Upstream
	err  error
	took time.Duration
}

// Session relays one client connection. All state below the channels is
// owned by the goroutine running [Session.Run]; the socket readers and the
// dialer only post to it.
type Session struct {
	id       string
	client   *websocket.Conn
	dialer   stt.Dialer
	settings Settings
	metrics  *observe.Metrics
	shutdown <-chan struct{}
	log      *slog.Logger

	clientOnce   sync.Once
	upstreamOnce sync.Once

	state        upstreamState
	up           stt.Upstream
	cancelDial   context.CancelFunc
	clientGone   bool
	clientClosed bool
	notReadySent bool
	goingAway    bool

	connectTimer *time.Timer
	keepalive    *time.Ticker
	flushTimer   *time.Timer
}

// ID returns the session ID used in logs.
func (s *Session) ID() string { return s.id }

// Run drives the session until either side is gone. Timers are stopped and
// both sockets closed before it returns.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	defer func() {
		s.stopTimers()
		cancel()
		s.abortUpstream()
		s.closeClient(websocket.StatusInternalError, "session ended")
		_ = g.Wait()
		s.log.Debug("relay: session ended")
	}()

	if s.dialer == nil {
		s.fail(ctx, CodeMissingAPIKey, "ASR API key is not configured", websocket.StatusPolicyViolation)
		return
	}

	var (
		clientCh  = make(chan clientMessage)
		clientErr = make(chan error, 1)
		dialCh    = make(chan dialResult)
		upCh      = make(chan []byte)
		upErr     = make(chan error, 1)
	)

	g.Go(func() error {
		s.readClient(ctx, clientCh, clientErr)
		return nil
	})

	dialCtx, cancelDial := context.WithCancel(ctx)
	s.cancelDial = cancelDial
	defer cancelDial()
	start := time.Now()
	g.Go(func() error {
		up, err := s.dialer.Dial(dialCtx, s.settings.Stream)
		select {
		case dialCh <- dialResult{up: up, err: err, took: time.Since(start)}:
		case <-ctx.Done():
			if up != nil {
				_ = up.Abort()
			}
		}
		return nil
	})
	s.connectTimer = time.NewTimer(s.settings.ConnectTimeout)
	s.log.Debug("relay: session started", "sample_rate", s.settings.Stream.SampleRate)

	shutdown := s.shutdown
	for {
		select {
		case <-timerC(s.connectTimer):
			s.log.Warn("relay: upstream connect timed out", "timeout", s.settings.ConnectTimeout)
			s.cancelDial()
			s.fail(ctx, CodeConnectTimeout, "timed out connecting to the recognition service", websocket.StatusInternalError)
			return

		case res := <-dialCh:
			s.connectTimer.Stop()
			s.connectTimer = nil
			if res.err != nil {
				s.log.Warn("relay: upstream dial failed", "err", res.err)
				s.fail(ctx, CodeUpstreamUnavailable, "could not connect to the recognition service", websocket.StatusInternalError)
				return
			}
			s.opened(ctx, res, &g, upCh, upErr)

		case m := <-clientCh:
			if m.typ == websocket.MessageBinary {
				s.forward(ctx, m.data)
				continue
			}
			if s.control(ctx, m.data) {
				return
			}

		case err := <-clientErr:
			s.clientGone = true
			s.log.Debug("relay: client disconnected", "status", websocket.CloseStatus(err))
			if s.state == upstreamConnecting {
				// Nothing to flush on a socket that never opened.
				s.cancelDial()
				return
			}
			s.beginFlush(ctx)

		case data := <-upCh:
			if s.handleUpstream(ctx, data) {
				return
			}

		case err := <-upErr:
			s.upstreamClosed(ctx, err)
			return

		case <-tickerC(s.keepalive):
			if err := s.up.KeepAlive(ctx); err != nil {
				s.log.Warn("relay: upstream keepalive failed", "err", err)
			}

		case <-timerC(s.flushTimer):
			s.finishFlush(ctx)
			return

		case <-shutdown:
			shutdown = nil
			s.goingAway = true
			if s.state == upstreamConnecting {
				s.cancelDial()
				s.closeClient(websocket.StatusGoingAway, "server shutting down")
				return
			}
			s.beginFlush(ctx)
		}
	}
}

// opened switches to the open state and starts the keepalive and reader.
func (s *Session) opened(ctx context.Context, res dialResult, g *errgroup.Group, upCh chan<- []byte, upErr chan<- error) {
	s.up = res.up
	s.state = upstreamOpen
	s.metrics.UpstreamConnectDuration.Record(ctx, res.took.Seconds())
	s.log.Info("relay: upstream open", "connect", res.took)

	s.send(ctx, ReadyEvent{Type: EventReady})
	s.keepalive = time.NewTicker(s.settings.KeepAliveInterval)

	up := res.up
	g.Go(func() error {
		for {
			msg, err := up.Read(ctx)
			if err != nil {
				select {
				case upErr <- err:
				default:
				}
				return nil
			}
			select {
			case upCh <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	})
}

func (s *Session) readClient(ctx context.Context, out chan<- clientMessage, errc chan<- error) {
	for {
		typ, data, err := s.client.Read(ctx)
		if err != nil {
			errc <- err
			return
		}
		select {
		case out <- clientMessage{typ: typ, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// forward sends one audio frame upstream, or drops it while the upstream is
// not open. The client is told at most once per not-ready stretch, and not
// at all once it asked to stop.
func (s *Session) forward(ctx context.Context, frame []byte) {
	if s.state != upstreamOpen {
		s.metrics.RecordFrame(ctx, observe.FrameDropped)
		if s.state == upstreamConnecting && !s.notReadySent {
			s.notReadySent = true
			s.sendError(ctx, CodeNotReady, "recognition service not ready; audio dropped")
		}
		return
	}
	s.notReadySent = false
	if err := s.up.SendAudio(ctx, frame); err != nil {
		s.metrics.RecordFrame(ctx, observe.FrameDropped)
		s.log.Warn("relay: forward audio failed", "err", err)
		return
	}
	s.metrics.RecordFrame(ctx, observe.FrameForwarded)
}

// control handles a client text message and reports whether the session
// is over.
func (s *Session) control(ctx context.Context, data []byte) bool {
	var m ControlMessage
	if err := json.Unmarshal(data, &m); err != nil {
		s.log.Debug("relay: ignoring client text", "err", err)
		return false
	}
	switch m.Type {
	case ControlStop:
		if s.state == upstreamConnecting {
			s.cancelDial()
			s.send(ctx, ClosedEvent{Type: EventClosed, Code: int(websocket.StatusNormalClosure), Reason: "stopped before upstream opened"})
			s.closeClient(websocket.StatusNormalClosure, "stopped")
			return true
		}
		s.beginFlush(ctx)
	case ControlKeepAlive:
	default:
		s.log.Debug("relay: ignoring client control", "type", m.Type)
	}
	return false
}

// handleUpstream dispatches one provider message and reports whether the
// session is over.
func (s *Session) handleUpstream(ctx context.Context, data []byte) bool {
	ev, err := deepgram.DecodeEvent(data)
	if errors.Is(err, deepgram.ErrUnknownEvent) {
		s.log.Debug("relay: skipping upstream event", "err", err)
		return false
	}
	if err != nil {
		s.log.Warn("relay: dropping malformed upstream message", "err", err)
		return false
	}

	switch e := ev.(type) {
	case *deepgram.Results:
		if strings.TrimSpace(e.Alternative.Transcript) == "" {
			return false
		}
		snap := s.settings.Metrics.Compute(e.Alternative, e.IsFinal)
		s.send(ctx, TranscriptEvent{Type: EventTranscript, Snapshot: snap})
		s.metrics.RecordTranscript(ctx, e.IsFinal)
	case *deepgram.Metadata:
		s.send(ctx, retag(e.Fields, EventMetadata))
	case *deepgram.SpeechStarted:
		s.send(ctx, retag(e.Fields, EventSpeechStarted))
	case *deepgram.UtteranceEnd:
		s.send(ctx, retag(e.Fields, EventUtteranceEnd))
	case *deepgram.Error:
		s.log.Warn("relay: upstream error", "description", e.Text(), "err_code", e.ErrCode, "variant", e.Variant)
		s.stopTimers()
		s.abortUpstream()
		s.fail(ctx, CodeUpstreamError, e.Text(), websocket.StatusInternalError)
		return true
	}
	return false
}

// beginFlush asks the provider to finish and waits FlushGrace for trailing
// results. It runs at most once.
func (s *Session) beginFlush(ctx context.Context) {
	if s.state != upstreamOpen {
		return
	}
	s.state = upstreamFlushing
	if s.keepalive != nil {
		s.keepalive.Stop()
		s.keepalive = nil
	}
	if err := s.up.CloseStream(ctx); err != nil {
		s.log.Warn("relay: close stream failed", "err", err)
	}
	s.flushTimer = time.NewTimer(s.settings.FlushGrace)
}

// finishFlush runs when the flush grace elapsed without the provider
// closing first.
func (s *Session) finishFlush(ctx context.Context) {
	s.flushTimer = nil
	s.upstreamOnce.Do(func() {
		if err := s.up.Close(); err != nil {
			s.log.Debug("relay: upstream close", "err", err)
		}
	})
	s.closeWithNotice(ctx, websocket.StatusNormalClosure, "stream finished")
}

// upstreamClosed handles the provider socket ending first.
func (s *Session) upstreamClosed(ctx context.Context, err error) {
	s.stopTimers()
	status := websocket.CloseStatus(err)
	if s.state == upstreamFlushing || status == websocket.StatusNormalClosure {
		s.log.Info("relay: upstream finished")
		s.closeWithNotice(ctx, websocket.StatusNormalClosure, "stream finished")
		return
	}
	s.log.Warn("relay: upstream closed unexpectedly", "status", status, "err", err)
	if status == -1 {
		status = websocket.StatusAbnormalClosure
	}
	if s.clientClosed || s.clientGone {
		return
	}
	s.send(ctx, ClosedEvent{Type: EventClosed, Code: int(status), Reason: "upstream closed"})
	s.closeClient(websocket.StatusInternalError, "upstream closed")
}

// closeWithNotice tells a still connected client the upstream is closed and
// closes it. During shutdown the close status is 1001.
func (s *Session) closeWithNotice(ctx context.Context, status websocket.StatusCode, reason string) {
	if s.clientGone {
		return
	}
	s.send(ctx, ClosedEvent{Type: EventClosed, Code: int(status), Reason: reason})
	if s.goingAway {
		status = websocket.StatusGoingAway
	}
	s.closeClient(status, reason)
}

// rejectRequest reports an invalid request and closes the socket.
func (s *Session) rejectRequest(ctx context.Context, msg string) {
	s.fail(ctx, CodeBadRequest, msg, websocket.StatusPolicyViolation)
}

// fail sends a terminal error event and closes the client socket.
func (s *Session) fail(ctx context.Context, code, msg string, status websocket.StatusCode) {
	s.sendError(ctx, code, msg)
	s.closeClient(status, code)
}

func (s *Session) sendError(ctx context.Context, code, msg string) {
	s.metrics.RecordRelayError(ctx, code)
	s.send(ctx, ErrorEvent{Type: EventError, Message: msg, Code: code})
}

func (s *Session) send(ctx context.Context, v any) {
	if s.clientClosed || s.clientGone {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("relay: encode client event", "err", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.client.Write(wctx, websocket.MessageText, data); err != nil {
		s.log.Debug("relay: client write failed", "err", err)
	}
}

func (s *Session) closeClient(status websocket.StatusCode, reason string) {
	s.clientOnce.Do(func() {
		s.clientClosed = true
		if s.clientGone {
			_ = s.client.CloseNow()
			return
		}
		if err := s.client.Close(status, reason); err != nil {
			s.log.Debug("relay: client close", "err", err)
		}
	})
}

func (s *Session) abortUpstream() {
	if s.up == nil {
		return
	}
	s.upstreamOnce.Do(func() { _ = s.up.Abort() })
}

func (s *Session) stopTimers() {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	if s.keepalive != nil {
		s.keepalive.Stop()
		s.keepalive = nil
	}
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
