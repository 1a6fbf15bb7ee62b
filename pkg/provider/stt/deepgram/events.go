package deepgram

import (
	"encoding/json"
	"errors"
	"fmt"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"

	"github.com/MrWong99/scriptcue/pkg/provider/stt"
)

// EventType is the "type" discriminator of a streaming message.
type EventType string

const (
	TypeResults       EventType = EventType(api.TypeMessageResponse)
	TypeUtteranceEnd  EventType = EventType(api.TypeUtteranceEndResponse)
	TypeSpeechStarted EventType = EventType(api.TypeSpeechStartedResponse)
	TypeCloseStream   EventType = EventType(api.TypeCloseStreamResponse)
	TypeMetadata      EventType = EventType(api.TypeMetadataResponse)
	TypeError         EventType = EventType(api.TypeErrorResponse)

	// TypeKeepAlive is a client-to-server control message only.
	TypeKeepAlive = "KeepAlive"
)

// ErrUnknownEvent is returned by [DecodeEvent] for a well-formed message with
// an unrecognised type. Callers usually log and skip it.
var ErrUnknownEvent = errors.New("deepgram: unknown event type")

// DecodeError reports a message that could not be decoded: invalid JSON, or a
// required field missing for its type.
type DecodeError struct {
	// Type is the message type, empty when it could not be determined.
	Type EventType

	// Field names the missing or malformed field, if any.
	Field string

	Err error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "" && e.Type != "":
		return fmt.Sprintf("deepgram: decode %s: field %s: %v", e.Type, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("deepgram: decode: field %s: %v", e.Field, e.Err)
	case e.Type != "":
		return fmt.Sprintf("deepgram: decode %s: %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("deepgram: decode: %v", e.Err)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

var errMissing = errors.New("missing")

// Event is one decoded streaming message. The concrete type is one of
// *Results, *Metadata, *SpeechStarted, *UtteranceEnd or *Error.
type Event interface {
	EventType() EventType
	event()
}

// Results is a transcription result. Only the top alternative is kept.
type Results struct {
	IsFinal     bool
	SpeechFinal bool
	Start       float64
	Duration    float64
	Alternative stt.Alternative
}

// Passthrough holds the raw top-level fields of a message that is forwarded
// without interpretation.
type Passthrough struct {
	Fields map[string]json.RawMessage
}

// Metadata describes the stream (request ID, model info, duration).
type Metadata struct{ Passthrough }

// SpeechStarted is emitted by voice activity detection.
type SpeechStarted struct{ Passthrough }

// UtteranceEnd marks a word gap longer than the configured utterance end.
type UtteranceEnd struct{ Passthrough }

// Error is an application error reported by the provider. It ends the
// session.
type Error struct {
	api.ErrorResponse

	// Message is the free-text field older error frames carry in place of
	// a description.
	Message string `json:"message,omitempty"`
}

// Text returns the most descriptive message available.
func (e *Error) Text() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.ErrMsg != "":
		return e.ErrMsg
	case e.Message != "":
		return e.Message
	default:
		return "upstream error"
	}
}

func (*Results) EventType() EventType       { return TypeResults }
func (*Metadata) EventType() EventType      { return TypeMetadata }
func (*SpeechStarted) EventType() EventType { return TypeSpeechStarted }
func (*UtteranceEnd) EventType() EventType  { return TypeUtteranceEnd }
func (*Error) EventType() EventType         { return TypeError }

func (*Results) event()       {}
func (*Metadata) event()      {}
func (*SpeechStarted) event() {}
func (*UtteranceEnd) event()  {}
func (*Error) event()         {}

type envelope struct {
	Type EventType `json:"type"`
}

type resultsWire struct {
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     *struct {
		Alternatives []stt.Alternative `json:"alternatives"`
	} `json:"channel"`
}

// DecodeEvent decodes one streaming message. Unknown fields are ignored.
// Malformed JSON and missing required fields yield a *[DecodeError]; an
// unrecognised type yields an error wrapping [ErrUnknownEvent].
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Field: "type", Err: errMissing}
	}

	switch env.Type {
	case TypeResults:
		var w resultsWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &DecodeError{Type: env.Type, Err: err}
		}
		if w.Channel == nil {
			return nil, &DecodeError{Type: env.Type, Field: "channel", Err: errMissing}
		}
		if len(w.Channel.Alternatives) == 0 {
			return nil, &DecodeError{Type: env.Type, Field: "channel.alternatives", Err: errMissing}
		}
		return &Results{
			IsFinal:     w.IsFinal,
			SpeechFinal: w.SpeechFinal,
			Start:       w.Start,
			Duration:    w.Duration,
			Alternative: w.Channel.Alternatives[0],
		}, nil
	case TypeMetadata, TypeSpeechStarted, TypeUtteranceEnd:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, &DecodeError{Type: env.Type, Err: err}
		}
		p := Passthrough{Fields: fields}
		switch env.Type {
		case TypeMetadata:
			return &Metadata{p}, nil
		case TypeSpeechStarted:
			return &SpeechStarted{p}, nil
		default:
			return &UtteranceEnd{p}, nil
		}
	case TypeError:
		e := new(Error)
		if err := json.Unmarshal(data, e); err != nil {
			return nil, &DecodeError{Type: env.Type, Err: err}
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}
