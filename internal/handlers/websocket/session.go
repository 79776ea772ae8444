package websocket

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/internal/upstream"
	"github.com/voxbridge/voxbridge/pkg/audio"
)

// Session represents one client WebSocket connection.
type Session struct {
	SessionID uuid.UUID
	ClientID  string
	Conn      *websocket.Conn

	ConnectedAt time.Time
	lastActive  time.Time
	isActive    bool
	mutex       sync.RWMutex
}

// NewSession wraps an upgraded client connection.
func NewSession(clientID string, conn *websocket.Conn) *Session {
	return &Session{
		SessionID:   uuid.New(),
		ClientID:    clientID,
		Conn:        conn,
		ConnectedAt: time.Now(),
		lastActive:  time.Now(),
		isActive:    true,
	}
}

// writeJSON serializes under the session write lock so concurrent
// producers (the relay's upstream pump and the transcription worker)
// never interleave frames.
func (s *Session) writeJSON(v interface{}) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isActive {
		return fmt.Errorf("session not active")
	}
	return s.Conn.WriteJSON(v)
}

// SendTranscription relays an utterance transcription to the client.
func (s *Session) SendTranscription(text string) error {
	return s.writeJSON(TranscriptionMessage{Type: "transcription", Text: text})
}

// SendError reports a failure to the client.
func (s *Session) SendError(code, message string) error {
	return s.writeJSON(ErrorMessage{Type: "error", Code: code, Message: message})
}

// SendModelAudio relays one audio part to the client, re-encoded into the
// same serverContent shape the upstream service produces.
func (s *Session) SendModelAudio(mimeType string, data []byte) error {
	return s.writeJSON(ModelTurnMessage{ModelTurn: upstream.Content{
		Parts: []upstream.Part{{
			InlineData: &upstream.InlineData{
				MimeType: mimeType,
				Data:     audio.EncodeBase64(data),
			},
		}},
	}})
}

// SendModelParts relays non-audio model parts to the client.
func (s *Session) SendModelParts(parts []upstream.Part) error {
	return s.writeJSON(ModelTurnMessage{ModelTurn: upstream.Content{Parts: parts}})
}

// SendTurnComplete signals the end of a model turn.
func (s *Session) SendTurnComplete() error {
	return s.writeJSON(TurnCompleteMessage{TurnComplete: true})
}

// SendInterrupted signals that the model's turn was cut off.
func (s *Session) SendInterrupted() error {
	return s.writeJSON(InterruptedMessage{Interrupted: true})
}

// Touch updates the last activity timestamp.
func (s *Session) Touch() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActive = time.Now()
}

// IsExpired checks if the session has expired based on inactivity.
func (s *Session) IsExpired(timeout time.Duration) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return time.Since(s.lastActive) > timeout
}

// IsAlive checks if the session is active.
func (s *Session) IsAlive() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.isActive
}

// LastActive returns the last activity timestamp.
func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

// Close marks the session inactive and closes the connection. Safe to
// call more than once.
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isActive {
		return nil
	}
	s.isActive = false
	return s.Conn.Close()
}
