package server

import (
	"github.com/gin-gonic/gin"

	"github.com/voxbridge/voxbridge/internal/auth"
	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/handlers/websocket"
	"github.com/voxbridge/voxbridge/internal/repository/transcript"
	"github.com/voxbridge/voxbridge/pkg/Logger"
	"github.com/voxbridge/voxbridge/pkg/stt"
)

type Dependencies struct {
	Logger      *Logger.Logger
	Configs     *config.Settings
	Validator   *auth.Validator
	Transcriber stt.Transcriber       // nil when no STT service is configured
	Transcripts transcript.Repository // nil when persistence is disabled
}

func NewServerDependencies(
	logger *Logger.Logger,
	cfg *config.Settings,
	validator *auth.Validator,
	transcriber stt.Transcriber,
	transcripts transcript.Repository,
) Dependencies {
	return Dependencies{
		Logger:      logger,
		Configs:     cfg,
		Validator:   validator,
		Transcriber: transcriber,
		Transcripts: transcripts,
	}
}

// InitializeRoutes wires the HTTP surface: health probes plus the relay
// WebSocket endpoints. It returns the relay handler so the caller can
// shut down live sessions on exit.
func InitializeRoutes(cfg *config.Settings, r *gin.Engine, dep Dependencies) *websocket.RelayHandler {
	r.GET("/", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"message": "Server healthy"}) })
	r.GET("/health", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"status": "ok"}) })

	relayHandler := websocket.NewRelayHandler(
		dep.Logger,
		cfg,
		dep.Validator,
		dep.Transcriber,
		dep.Transcripts,
	)
	relayHandler.RegisterRoutes(r)

	return relayHandler
}
