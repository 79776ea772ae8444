package stt

import (
	"context"

	"github.com/voxbridge/voxbridge/pkg/audio"
)

// Transcriber converts a complete utterance into text.
type Transcriber interface {
	// Transcribe blocks until the utterance has been transcribed or ctx ends.
	Transcribe(ctx context.Context, utterance audio.Frame) (string, error)
}
