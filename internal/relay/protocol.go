package relay

import (
	"encoding/json"

	"github.com/MrWong99/scriptcue/internal/livemetrics"
)

// Client-facing event types.
const (
	EventReady         = "deepgram_ready"
	EventTranscript    = "transcript"
	EventMetadata      = "metadata"
	EventSpeechStarted = "speech_started"
	EventUtteranceEnd  = "utterance_end"
	EventError         = "error"
	EventClosed        = "deepgram_closed"
)

// Error codes carried by error events.
const (
	CodeBadRequest          = "bad_request"
	CodeMissingAPIKey       = "missing_api_key"
	CodeConnectTimeout      = "connect_timeout"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeUpstreamError       = "upstream_error"
	CodeNotReady            = "not_ready"
)

// Client text control messages.
const (
	ControlStop      = "stop"
	ControlKeepAlive = "keepalive"
)

// ReadyEvent tells the client the upstream socket is open.
type ReadyEvent struct {
	Type string `json:"type"`
}

// TranscriptEvent carries one recognition result with its live metrics.
type TranscriptEvent struct {
	Type string `json:"type"`
	livemetrics.Snapshot
}

// ErrorEvent reports a session error. Every code except not_ready is
// followed by the socket closing.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ClosedEvent reports that the upstream socket closed.
type ClosedEvent struct {
	Type   string `json:"type"`
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// ControlMessage is a text message sent by the client.
type ControlMessage struct {
	Type string `json:"type"`
}

// retag returns the passthrough fields with "type" replaced by typ. The
// input map is not modified.
func retag(fields map[string]json.RawMessage, typ string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["type"] = json.RawMessage(`"` + typ + `"`)
	return out
}
