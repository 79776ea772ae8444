package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridge/voxbridge/pkg/Logger"
)

// ConnectionManager tracks live client sessions. Each session is keyed by
// its own ID, so one client may hold several concurrent relays.
type ConnectionManager struct {
	logger         *Logger.Logger
	sessions       map[uuid.UUID]*Session
	mutex          sync.RWMutex
	cleanupTicker  *time.Ticker
	stopCleanup    chan struct{}
	sessionTimeout time.Duration
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(logger *Logger.Logger) *ConnectionManager {
	cm := &ConnectionManager{
		logger:         logger,
		sessions:       make(map[uuid.UUID]*Session),
		stopCleanup:    make(chan struct{}),
		sessionTimeout: 30 * time.Minute,
	}

	cm.startCleanupRoutine()

	return cm
}

// RegisterConnection registers a new session
func (cm *ConnectionManager) RegisterConnection(session *Session) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.sessions[session.SessionID] = session
	cm.logger.Infof("Registered relay session %s (client: %s)",
		session.SessionID, session.ClientID)
}

// UnregisterConnection removes a session
func (cm *ConnectionManager) UnregisterConnection(sessionID uuid.UUID) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if session, exists := cm.sessions[sessionID]; exists {
		cm.logger.Infof("Unregistering relay session %s (client: %s)",
			sessionID, session.ClientID)

		if err := session.Close(); err != nil {
			cm.logger.Errorf("Error closing session %s: %v", sessionID, err)
		}

		delete(cm.sessions, sessionID)
	}
}

// GetSession retrieves a session by ID
func (cm *ConnectionManager) GetSession(sessionID uuid.UUID) (*Session, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	session, exists := cm.sessions[sessionID]
	return session, exists
}

// GetSessionCount returns the number of active sessions
func (cm *ConnectionManager) GetSessionCount() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return len(cm.sessions)
}

// SetSessionTimeout sets the session timeout duration
func (cm *ConnectionManager) SetSessionTimeout(timeout time.Duration) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.sessionTimeout = timeout
}

// startCleanupRoutine starts a goroutine to clean up expired sessions
func (cm *ConnectionManager) startCleanupRoutine() {
	cm.cleanupTicker = time.NewTicker(5 * time.Minute)

	go func() {
		for {
			select {
			case <-cm.cleanupTicker.C:
				cm.cleanupExpiredSessions()
			case <-cm.stopCleanup:
				cm.cleanupTicker.Stop()
				return
			}
		}
	}()
}

// cleanupExpiredSessions removes expired sessions
func (cm *ConnectionManager) cleanupExpiredSessions() {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	expired := make([]uuid.UUID, 0)

	for sessionID, session := range cm.sessions {
		if session.IsExpired(cm.sessionTimeout) {
			expired = append(expired, sessionID)
		}
	}

	for _, sessionID := range expired {
		cm.logger.Infof("Cleaning up expired session %s", sessionID)
		if session := cm.sessions[sessionID]; session != nil {
			session.Close()
		}
		delete(cm.sessions, sessionID)
	}

	if len(expired) > 0 {
		cm.logger.Infof("Cleaned up %d expired sessions", len(expired))
	}
}

// Close shuts down the connection manager
func (cm *ConnectionManager) Close() error {
	close(cm.stopCleanup)

	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	for sessionID, session := range cm.sessions {
		cm.logger.Infof("Closing session %s", sessionID)
		if err := session.Close(); err != nil {
			cm.logger.Errorf("Error closing session %s: %v", sessionID, err)
		}
	}

	cm.sessions = make(map[uuid.UUID]*Session)

	cm.logger.Infof("Connection manager closed")
	return nil
}

// GetStats returns connection manager statistics
func (cm *ConnectionManager) GetStats() map[string]interface{} {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := map[string]interface{}{
		"active_sessions": len(cm.sessions),
		"session_timeout": cm.sessionTimeout.String(),
	}

	sessionStats := make([]map[string]interface{}, 0, len(cm.sessions))
	for _, session := range cm.sessions {
		sessionStats = append(sessionStats, map[string]interface{}{
			"session_id":   session.SessionID.String(),
			"client_id":    session.ClientID,
			"connected_at": session.ConnectedAt,
			"last_active":  session.LastActive(),
			"is_active":    session.IsAlive(),
		})
	}
	stats["sessions"] = sessionStats

	return stats
}
