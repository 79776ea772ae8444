package websocket

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/internal/auth"
	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/relay"
	"github.com/voxbridge/voxbridge/internal/repository/transcript"
	"github.com/voxbridge/voxbridge/internal/upstream"
	"github.com/voxbridge/voxbridge/pkg/Logger"
	"github.com/voxbridge/voxbridge/pkg/stt"
)

// RelayHandler terminates client WebSocket connections and pairs each one
// with a fresh upstream session.
type RelayHandler struct {
	logger            *Logger.Logger
	config            *config.Settings
	validator         *auth.Validator
	transcriber       stt.Transcriber
	transcripts       transcript.Repository
	connectionManager *ConnectionManager
	upgrader          websocket.Upgrader
}

// NewRelayHandler creates a new relay handler. transcriber and
// transcripts may be nil when those collaborators are not configured.
func NewRelayHandler(
	logger *Logger.Logger,
	cfg *config.Settings,
	validator *auth.Validator,
	transcriber stt.Transcriber,
	transcripts transcript.Repository,
) *RelayHandler {
	return &RelayHandler{
		logger:            logger,
		config:            cfg,
		validator:         validator,
		transcriber:       transcriber,
		transcripts:       transcripts,
		connectionManager: NewConnectionManager(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg.Server.AllowedOrigins, r.Header.Get("Origin"))
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// originAllowed matches the handshake Origin header against the
// configured allow list. Requests without an Origin header (non-browser
// clients) are always accepted.
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// RegisterRoutes registers WebSocket routes
func (h *RelayHandler) RegisterRoutes(router gin.IRouter) {
	ws := router.Group("/ws")
	{
		ws.GET("/", h.HandleRelay)
		ws.GET("/stats", h.HandleStats)
	}
}

// Close shuts down all live sessions.
func (h *RelayHandler) Close() error {
	return h.connectionManager.Close()
}

// HandleRelay upgrades a client connection and runs its relay until
// either side closes.
func (h *RelayHandler) HandleRelay(c *gin.Context) {
	clientID, ok := h.authenticate(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	session := NewSession(clientID, conn)
	h.connectionManager.RegisterConnection(session)
	defer h.connectionManager.UnregisterConnection(session.SessionID)

	coordinator := relay.NewCoordinator(relay.Options{
		SessionID: session.SessionID,
		ClientID:  clientID,
		Upstream: upstream.Options{
			URL:            h.config.Upstream.URL,
			APIKey:         h.config.Upstream.APIKey,
			ConnectTimeout: h.config.Upstream.ConnectTimeout,
		},
		Live: upstream.LiveConfig{
			Model: h.config.Upstream.Model,
		},
		VAD:             h.config.VAD,
		InputSampleRate: h.config.Audio.InputSampleRate,
		Transcriber:     h.transcriber,
		Transcripts:     h.transcripts,
	}, session, h.logger)

	if err := coordinator.Start(c.Request.Context()); err != nil {
		h.logger.Errorf("Failed to start relay for session %s: %v", session.SessionID, err)
		session.SendError("upstream_unavailable", "could not reach upstream service")
		return
	}
	defer coordinator.Close()

	h.readLoop(session, coordinator)
}

// authenticate resolves the client identity before the upgrade. A missing
// token is only fatal when auth is required.
func (h *RelayHandler) authenticate(c *gin.Context) (string, bool) {
	token := c.Query("token")
	if token == "" {
		if h.validator.Required() {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
			return "", false
		}
		return "anonymous", true
	}

	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		h.logger.Errorf("WebSocket token validation failed: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return "", false
	}
	return claims.ClientID, true
}

// readLoop processes inbound frames sequentially until the connection
// dies. Per-frame errors are reported and skipped; only transport
// failures end the loop.
func (h *RelayHandler) readLoop(session *Session, coordinator *relay.Coordinator) {
	for {
		msgType, raw, err := session.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warnf("Session %s read error: %v", session.SessionID, err)
			}
			return
		}
		session.Touch()

		if msgType != websocket.TextMessage {
			h.logger.Debugf("Session %s: ignoring non-text frame", session.SessionID)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Warnf("Session %s: undecodable frame: %v", session.SessionID, err)
			session.SendError("bad_message", "could not parse message")
			continue
		}
		if msg.RealtimeInput == nil {
			continue
		}

		if err := coordinator.HandleRealtimeInput(msg.RealtimeInput.MediaChunks); err != nil {
			h.logger.Errorf("Session %s: forwarding failed: %v", session.SessionID, err)
			session.SendError("upstream_error", "upstream connection lost")
			return
		}
	}
}

// HandleStats exposes connection statistics.
func (h *RelayHandler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.connectionManager.GetStats())
}
