// Package transcript persists utterance transcriptions per relay session.
package transcript

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrTranscriptNotFound = errors.New("transcript not found")

// Repository stores and lists transcriptions.
type Repository interface {
	Create(t *TranscriptEntity) error
	ListBySession(sessionID uuid.UUID, limit int) ([]TranscriptEntity, error)
	Migrate() error
}

type GormTranscriptRepo struct {
	db *gorm.DB
}

func NewGormRepo(db *gorm.DB) *GormTranscriptRepo {
	return &GormTranscriptRepo{db: db}
}

// Migrate creates the transcripts table if missing.
func (g *GormTranscriptRepo) Migrate() error {
	if err := g.db.AutoMigrate(&TranscriptEntity{}); err != nil {
		return fmt.Errorf("failed to migrate transcripts: %w", err)
	}
	return nil
}

// Create implements Repository
func (g *GormTranscriptRepo) Create(t *TranscriptEntity) error {
	if err := g.db.Create(t).Error; err != nil {
		return fmt.Errorf("failed to create transcript: %w", err)
	}
	return nil
}

// ListBySession implements Repository
func (g *GormTranscriptRepo) ListBySession(sessionID uuid.UUID, limit int) ([]TranscriptEntity, error) {
	if limit <= 0 {
		limit = 50
	}
	var entities []TranscriptEntity
	err := g.db.Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	return entities, nil
}
