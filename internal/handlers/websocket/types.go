package websocket

import (
	"github.com/voxbridge/voxbridge/internal/upstream"
)

// ClientMessage is one inbound text frame from the browser client. Only
// realtime audio input is defined today; unknown frames are ignored.
type ClientMessage struct {
	RealtimeInput *RealtimeInputPayload `json:"realtimeInput,omitempty"`
}

// RealtimeInputPayload carries a batch of media chunks captured by the
// client between two sends.
type RealtimeInputPayload struct {
	MediaChunks []upstream.MediaChunk `json:"mediaChunks"`
}

// TranscriptionMessage reports the text of a completed utterance back to
// the client.
type TranscriptionMessage struct {
	Type string `json:"type"` // always "transcription"
	Text string `json:"text"`
}

// ErrorMessage reports a session-level failure to the client before the
// connection closes.
type ErrorMessage struct {
	Type    string `json:"type"` // always "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Outbound model frames mirror the upstream serverContent shapes so the
// client-side player consumes one format end to end.

type ModelTurnMessage struct {
	ModelTurn upstream.Content `json:"modelTurn"`
}

type TurnCompleteMessage struct {
	TurnComplete bool `json:"turnComplete"`
}

type InterruptedMessage struct {
	Interrupted bool `json:"interrupted"`
}
