// Package relay wires one client connection to one upstream session and
// drives the audio flow between them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridge/voxbridge/internal/repository/transcript"
	"github.com/voxbridge/voxbridge/internal/upstream"
	"github.com/voxbridge/voxbridge/pkg/Logger"
	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/stt"
	"github.com/voxbridge/voxbridge/pkg/vad"
)

// Downstream is the client-facing half of a relay pairing. The websocket
// session satisfies it.
type Downstream interface {
	SendTranscription(text string) error
	SendModelAudio(mimeType string, data []byte) error
	SendModelParts(parts []upstream.Part) error
	SendTurnComplete() error
	SendInterrupted() error
	SendError(code, message string) error
	Close() error
}

// Options configures one coordinator.
type Options struct {
	SessionID uuid.UUID
	ClientID  string

	Upstream upstream.Options
	Live     upstream.LiveConfig

	VAD             vad.Config
	InputSampleRate int

	// UtteranceQueueBytes bounds the pending-utterance ring. Oldest
	// utterances are evicted when transcription falls behind.
	UtteranceQueueBytes int

	Transcriber stt.Transcriber       // optional
	Transcripts transcript.Repository // optional
}

// Coordinator owns the VAD state for one client connection and relays
// traffic in both directions. Closing either side tears down the other.
//
// HandleRealtimeInput must only be called from the connection's read
// goroutine; the segmenter is not locked.
type Coordinator struct {
	opts       Options
	logger     *Logger.Logger
	downstream Downstream

	client     *upstream.Client
	segmenter  *vad.Segmenter
	utterances *audio.FrameRing
	wake       chan struct{}

	cancel  context.CancelFunc
	closing atomic.Bool
}

// NewCoordinator builds a coordinator for one client session.
func NewCoordinator(opts Options, downstream Downstream, logger *Logger.Logger) *Coordinator {
	queueBytes := opts.UtteranceQueueBytes
	if queueBytes == 0 {
		queueBytes = 1 << 20
	}
	return &Coordinator{
		opts:       opts,
		logger:     logger,
		downstream: downstream,
		segmenter:  vad.NewSegmenter(opts.VAD),
		utterances: audio.NewFrameRing(queueBytes),
		wake:       make(chan struct{}, 1),
	}
}

// Start connects the upstream session and launches the transcription
// worker. It fails, leaving nothing running, if the upstream dial or
// setup handshake fails.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.client = upstream.NewClient(c.opts.Upstream, c, c.logger)
	if err := c.client.Connect(ctx, c.opts.Live); err != nil {
		cancel()
		return fmt.Errorf("start relay: %w", err)
	}

	go c.transcriptionWorker(ctx)
	return nil
}

// HandleRealtimeInput processes one inbound chunk batch: each valid PCM
// chunk feeds the segmenter, and the whole batch is forwarded upstream
// verbatim. Bad chunks are skipped without failing the batch; only a
// transport-level send failure is returned.
func (c *Coordinator) HandleRealtimeInput(chunks []upstream.MediaChunk) error {
	for i, chunk := range chunks {
		if chunk.Data == "" || chunk.MimeType == "" {
			c.logger.Warnf("Skipping malformed media chunk %d", i)
			continue
		}
		if !strings.HasPrefix(chunk.MimeType, "audio/pcm") {
			c.logger.Debugf("Skipping unsupported media chunk %d (%s)", i, chunk.MimeType)
			continue
		}
		raw, err := audio.DecodeBase64(chunk.Data)
		if err != nil {
			c.logger.Warnf("Skipping undecodable media chunk %d: %v", i, err)
			continue
		}
		if utterance, ok := c.segmenter.Ingest(raw); ok {
			c.enqueueUtterance(utterance)
		}
	}

	if err := c.client.SendRealtimeInput(chunks); err != nil {
		return fmt.Errorf("forward realtime input: %w", err)
	}
	return nil
}

func (c *Coordinator) enqueueUtterance(data []byte) {
	frame := audio.Frame{
		Data:       data,
		Timestamp:  time.Now(),
		SampleRate: int32(c.opts.InputSampleRate),
		Channels:   1,
	}
	if err := c.utterances.Enqueue(frame); err != nil {
		c.logger.Warnf("Dropping utterance (%dms): %v", frame.DurationMs(), err)
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// transcriptionWorker drains completed utterances, hands them to the STT
// collaborator, and relays results back to the client.
func (c *Coordinator) transcriptionWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}

		for {
			frame, ok := c.utterances.Dequeue()
			if !ok {
				break
			}
			c.transcribe(ctx, frame)
		}
	}
}

func (c *Coordinator) transcribe(ctx context.Context, frame audio.Frame) {
	if c.opts.Transcriber == nil {
		c.logger.Debugf("No transcriber configured, discarding %dms utterance", frame.DurationMs())
		return
	}

	text, err := c.opts.Transcriber.Transcribe(ctx, frame)
	if err != nil {
		c.logger.Errorf("Transcription failed: %v", err)
		return
	}
	if text == "" {
		return
	}

	if err := c.downstream.SendTranscription(text); err != nil {
		c.logger.Warnf("Failed to send transcription: %v", err)
	}

	if c.opts.Transcripts != nil {
		entity := &transcript.TranscriptEntity{
			SessionID:  c.opts.SessionID,
			ClientID:   c.opts.ClientID,
			Text:       text,
			DurationMs: int64(frame.DurationMs()),
		}
		if err := c.opts.Transcripts.Create(entity); err != nil {
			c.logger.Errorf("Failed to persist transcript: %v", err)
		}
	}
}

// Close tears down both halves of the pairing. Safe to call from either
// side's goroutine, multiple times. Closing the upstream client fires
// OnClose on the caller's goroutine, which calls back into Close, so the
// guard must let re-entrant calls fall straight through.
func (c *Coordinator) Close() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.client != nil {
		c.client.Close()
	}
	if err := c.downstream.Close(); err != nil {
		c.logger.Debugf("Downstream close: %v", err)
	}
}

// upstream.Handler implementation. Callbacks run on the upstream read
// goroutine; the session write lock serializes them against the
// transcription worker.

func (c *Coordinator) OnOpen() {
	c.logger.Infof("Upstream session open for relay %s", c.opts.SessionID)
}

func (c *Coordinator) OnSetupComplete() {
	c.logger.Debugf("Upstream setup complete for relay %s", c.opts.SessionID)
}

func (c *Coordinator) OnAudio(data []byte, mimeType string) {
	if err := c.downstream.SendModelAudio(mimeType, data); err != nil {
		c.logger.Warnf("Client write failed, tearing down relay %s: %v", c.opts.SessionID, err)
		c.Close()
	}
}

func (c *Coordinator) OnContent(parts []upstream.Part) {
	if err := c.downstream.SendModelParts(parts); err != nil {
		c.logger.Warnf("Client write failed, tearing down relay %s: %v", c.opts.SessionID, err)
		c.Close()
	}
}

func (c *Coordinator) OnToolCall(call *upstream.ToolCall) {
	// No tool registry is wired into the relay; reject calls so the
	// model's turn can continue.
	responses := make([]upstream.FunctionResponse, 0, len(call.FunctionCalls))
	for _, fc := range call.FunctionCalls {
		c.logger.Warnf("Rejecting unsupported tool call %q", fc.Name)
		responses = append(responses, upstream.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: json.RawMessage(`{"error":"function not supported"}`),
		})
	}
	if err := c.client.SendToolResponse(responses); err != nil {
		c.logger.Warnf("Failed to send tool response: %v", err)
	}
}

func (c *Coordinator) OnToolCallCancellation(cancel *upstream.ToolCallCancellation) {
	c.logger.Debugf("Tool calls cancelled: %v", cancel.IDs)
}

func (c *Coordinator) OnTurnComplete() {
	if err := c.downstream.SendTurnComplete(); err != nil {
		c.logger.Debugf("Failed to send turn complete: %v", err)
	}
}

func (c *Coordinator) OnInterrupted() {
	if err := c.downstream.SendInterrupted(); err != nil {
		c.logger.Debugf("Failed to send interrupted: %v", err)
	}
}

func (c *Coordinator) OnClose(err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Errorf("Upstream session for relay %s failed: %v", c.opts.SessionID, err)
		if sendErr := c.downstream.SendError("upstream_error", "upstream connection lost"); sendErr != nil {
			c.logger.Debugf("Failed to notify client: %v", sendErr)
		}
	}
	c.Close()
}
