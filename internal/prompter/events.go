package prompter

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/scriptcue/internal/livemetrics"
	"github.com/MrWong99/scriptcue/internal/relay"
)

// Event is one decoded relay message.
type Event struct {
	Type string

	// Transcript is set for transcript events.
	Transcript *livemetrics.Snapshot

	// Error is set for error events.
	Error *relay.ErrorEvent

	// Closed is set for deepgram_closed events.
	Closed *relay.ClosedEvent

	// Fields holds the raw fields of passthrough events (metadata,
	// speech_started, utterance_end).
	Fields map[string]json.RawMessage
}

var errNoType = errors.New("prompter: event has no type")

// DecodeClientEvent decodes one message sent by the relay to its clients.
// Unknown types decode into an Event with only Type and Fields set.
func DecodeClientEvent(data []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Event{}, fmt.Errorf("prompter: decode event: %w", err)
	}
	var typ string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return Event{}, fmt.Errorf("prompter: decode event type: %w", err)
		}
	}
	if typ == "" {
		return Event{}, errNoType
	}

	ev := Event{Type: typ}
	var target any
	switch typ {
	case relay.EventTranscript:
		ev.Transcript = &livemetrics.Snapshot{}
		target = ev.Transcript
	case relay.EventError:
		ev.Error = &relay.ErrorEvent{}
		target = ev.Error
	case relay.EventClosed:
		ev.Closed = &relay.ClosedEvent{}
		target = ev.Closed
	default:
		ev.Fields = fields
		return ev, nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return Event{}, fmt.Errorf("prompter: decode %s: %w", typ, err)
	}
	return ev, nil
}

// RelayError is a terminal error event reported by the relay.
type RelayError struct {
	Code    string
	Message string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("prompter: relay error %s: %s", e.Code, e.Message)
}

// ClosedError reports that the recognition stream ended abnormally.
type ClosedError struct {
	Code   int
	Reason string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("prompter: recognition stream closed (%d): %s", e.Code, e.Reason)
}
