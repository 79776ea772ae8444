// Package vad segments a continuous PCM16 audio stream into utterances
// using RMS energy as a voice-activity proxy.
package vad

import (
	"github.com/voxbridge/voxbridge/pkg/audio"
)

// Config tunes the energy threshold and frame-count boundaries.
type Config struct {
	SilenceThreshold float64 `json:"silenceThreshold" mapstructure:"silence_threshold"`
	MinSilenceFrames int     `json:"minSilenceFrames" mapstructure:"min_silence_frames"`
	MinVoiceFrames   int     `json:"minVoiceFrames" mapstructure:"min_voice_frames"`
}

// DefaultConfig returns thresholds tuned for 16kHz mono speech frames.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold: 700,
		MinSilenceFrames: 10,
		MinVoiceFrames:   5,
	}
}

// Segmenter accumulates voiced frames into utterances. It is deterministic:
// the output depends only on the frame sequence and the thresholds.
//
// A Segmenter is owned by exactly one relay coordinator and must only be
// mutated from that connection's processing goroutine.
type Segmenter struct {
	config Config

	recording    bool
	frames       [][]byte
	voicedCount  int
	silenceCount int
}

// NewSegmenter creates a segmenter with the given thresholds.
func NewSegmenter(config Config) *Segmenter {
	return &Segmenter{config: config}
}

// ClassifyFrame reports whether a PCM16LE frame carries voice energy.
// Frames that fail to parse as PCM16 are treated as silent.
func (s *Segmenter) ClassifyFrame(frame []byte) bool {
	samples, err := audio.BytesToPCM16(frame)
	if err != nil {
		return false
	}
	return audio.RMS(samples) > s.config.SilenceThreshold
}

// Ingest feeds one frame through the segmentation state machine.
// It returns the concatenated utterance bytes and true when a run of
// MinSilenceFrames silent frames closes an utterance whose voiced span is
// longer than MinVoiceFrames; state resets after every silence-run
// boundary whether or not an utterance was emitted.
//
// Silence before any speech has been detected is dropped, never buffered.
func (s *Segmenter) Ingest(frame []byte) ([]byte, bool) {
	if s.ClassifyFrame(frame) {
		s.silenceCount = 0
		s.frames = append(s.frames, frame)
		s.voicedCount++
		s.recording = true
		return nil, false
	}

	if !s.recording {
		return nil, false
	}

	s.silenceCount++
	s.frames = append(s.frames, frame)

	if s.silenceCount < s.config.MinSilenceFrames {
		return nil, false
	}

	// Only the voiced span gates emission; the buffered trailing silence
	// is padding, not speech.
	var utterance []byte
	emitted := false
	if s.voicedCount > s.config.MinVoiceFrames {
		total := 0
		for _, f := range s.frames {
			total += len(f)
		}
		utterance = make([]byte, 0, total)
		for _, f := range s.frames {
			utterance = append(utterance, f...)
		}
		emitted = true
	}

	s.Reset()
	return utterance, emitted
}

// Reset clears the segmentation state for a new utterance.
func (s *Segmenter) Reset() {
	s.recording = false
	s.frames = nil
	s.voicedCount = 0
	s.silenceCount = 0
}

// Recording reports whether the segmenter is inside a candidate utterance.
func (s *Segmenter) Recording() bool {
	return s.recording
}

// FrameCount returns the number of buffered frames.
func (s *Segmenter) FrameCount() int {
	return len(s.frames)
}

// VoicedCount returns the number of buffered frames classified as voiced.
func (s *Segmenter) VoicedCount() int {
	return s.voicedCount
}

// SilenceCount returns the length of the current trailing silence run.
func (s *Segmenter) SilenceCount() int {
	return s.silenceCount
}
