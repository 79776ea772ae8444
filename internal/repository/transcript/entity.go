package transcript

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TranscriptEntity represents one stored utterance transcription.
type TranscriptEntity struct {
	ID         uuid.UUID `gorm:"primaryKey;type:char(36);not null"`
	SessionID  uuid.UUID `gorm:"column:session_id;type:char(36);not null;index"`
	ClientID   string    `gorm:"column:client_id;type:varchar(128);index"`
	Text       string    `gorm:"column:text;type:text;not null"`
	DurationMs int64     `gorm:"column:duration_ms"`
	CreatedAt  time.Time `gorm:"autoCreateTime(3)"`
}

// TableName returns the table name for GORM
func (TranscriptEntity) TableName() string {
	return "transcripts"
}

// BeforeCreate is a GORM hook to ensure UUID is set
func (t *TranscriptEntity) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
