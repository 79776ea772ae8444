package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voxbridge/voxbridge/internal/auth"
	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/db"
	"github.com/voxbridge/voxbridge/internal/repository/transcript"
	"github.com/voxbridge/voxbridge/internal/server"
	"github.com/voxbridge/voxbridge/pkg/Logger"
	"github.com/voxbridge/voxbridge/pkg/stt"
	"github.com/voxbridge/voxbridge/pkg/stt/whisper"
)

// This is the main entry point for the relay server.
// Loads in all system components
// Exposes functionalities
func main() {
	// fetch cfg
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// load global logger
	logger := Logger.New(cfg.Debug)
	logger.Info("Logger initialized")

	validator := auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Required)

	// transcript persistence is optional: relays run fine without it
	var transcripts transcript.Repository
	if cfg.DB.Enabled() {
		gormDB, err := db.InitDB(cfg.DB)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		repo := transcript.NewGormRepo(gormDB)
		if err := repo.Migrate(); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		transcripts = repo
		logger.Infof("Transcript persistence enabled (%s)", cfg.DB.Name)
	} else {
		logger.Info("Transcript persistence disabled")
	}

	// STT is an external collaborator; without it utterances are
	// segmented but not transcribed
	var transcriber stt.Transcriber
	if cfg.STT.WhisperURL != "" {
		transcriber = whisper.New(cfg.STT.WhisperURL, logger)
		logger.Infof("STT enabled (%s)", cfg.STT.WhisperURL)
	}

	// compose router
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	dep := server.NewServerDependencies(logger, cfg, validator, transcriber, transcripts)
	relayHandler := server.InitializeRoutes(cfg, router, dep)

	// listen with graceful exit
	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router.Handler(),
	}
	go func() {
		logger.Infof("Relay listening on %s", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server exiting %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// close live relays before stopping the listener
	if err := relayHandler.Close(); err != nil {
		logger.Errorf("Relay shutdown err %v", err)
	}

	// 5 secs then cancel
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown err %v", err)
	}
	logger.Info("Shutdown system")
}
