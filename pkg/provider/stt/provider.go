// Package stt defines the upstream speech-to-text contract used by the relay.
//
// A [Dialer] opens an [Upstream]: one streaming recognition socket that
// accepts raw PCM frames and yields raw provider messages. Decoding those
// messages is provider specific (see the deepgram subpackage); the shared
// result shape lives in this package as [Alternative] and [Word] so that
// downstream consumers such as live metrics never depend on a provider.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrMissingAPIKey is returned when a provider that needs credentials has
// none configured. It is a configuration error and never retried.
var ErrMissingAPIKey = errors.New("stt: missing API key")

// ErrClosed is returned by [Upstream] reads and writes after Close or Abort.
var ErrClosed = errors.New("stt: upstream closed")

// StreamConfig describes the audio format and recognition options for one
// upstream session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz declared by the client.
	SampleRate int

	// Channels is the number of audio channels. The relay always sends mono.
	Channels int

	// Encoding is the PCM encoding name, e.g. "linear16".
	Encoding string

	// Model and Language select the recognition model; empty values fall back
	// to the provider's defaults.
	Model    string
	Language string

	// InterimResults enables provisional transcripts.
	InterimResults bool

	// Punctuate and SmartFormat ask the provider to format transcripts.
	Punctuate   bool
	SmartFormat bool

	// Endpointing is the silence after which the provider finalises a
	// segment. Zero leaves the provider default.
	Endpointing time.Duration

	// UtteranceEnd is the word gap after which an utterance-end event is
	// emitted. Zero disables utterance-end events.
	UtteranceEnd time.Duration

	// VADEvents enables speech-started events.
	VADEvents bool
}

// Upstream is an open streaming recognition socket. Writes may be called from
// one goroutine while Read runs on another; Close and Abort are idempotent.
type Upstream interface {
	// SendAudio forwards one binary PCM frame.
	SendAudio(ctx context.Context, frame []byte) error

	// KeepAlive sends the provider's keepalive control message.
	KeepAlive(ctx context.Context) error

	// CloseStream asks the provider to flush pending audio and finish. Final
	// results may still arrive on Read afterwards.
	CloseStream(ctx context.Context) error

	// Read blocks for the next provider text message.
	Read(ctx context.Context) ([]byte, error)

	// Close performs a normal close handshake.
	Close() error

	// Abort drops the connection without a handshake.
	Abort() error
}

// Dialer opens upstream sessions.
type Dialer interface {
	Dial(ctx context.Context, cfg StreamConfig) (Upstream, error)
}
