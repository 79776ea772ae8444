package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/internal/repository/transcript"
	"github.com/voxbridge/voxbridge/internal/upstream"
	"github.com/voxbridge/voxbridge/pkg/Logger"
	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/vad"
)

// fakeDownstream records everything the coordinator pushes to the client.
type fakeDownstream struct {
	mu             sync.Mutex
	transcriptions []string
	audioFrames    [][]byte
	parts          [][]upstream.Part
	turnCompletes  int
	interruptions  int
	errors         []string
	closed         bool
	closedCh       chan struct{}
}

func newFakeDownstream() *fakeDownstream {
	return &fakeDownstream{closedCh: make(chan struct{})}
}

func (f *fakeDownstream) SendTranscription(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcriptions = append(f.transcriptions, text)
	return nil
}

func (f *fakeDownstream) SendModelAudio(mimeType string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioFrames = append(f.audioFrames, data)
	return nil
}

func (f *fakeDownstream) SendModelParts(parts []upstream.Part) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts = append(f.parts, parts)
	return nil
}

func (f *fakeDownstream) SendTurnComplete() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turnCompletes++
	return nil
}

func (f *fakeDownstream) SendInterrupted() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interruptions++
	return nil
}

func (f *fakeDownstream) SendError(code, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, code)
	return nil
}

func (f *fakeDownstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closedCh)
	}
	return nil
}

// fakeTranscriber returns a fixed transcription for any utterance.
type fakeTranscriber struct {
	mu         sync.Mutex
	utterances []audio.Frame
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, utterance audio.Frame) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, utterance)
	return "hello relay", nil
}

// fakeTranscriptRepo records persisted transcripts in memory.
type fakeTranscriptRepo struct {
	mu      sync.Mutex
	created []transcript.TranscriptEntity
}

func (f *fakeTranscriptRepo) Create(entity *transcript.TranscriptEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *entity)
	return nil
}

func (f *fakeTranscriptRepo) ListBySession(sessionID uuid.UUID, limit int) ([]transcript.TranscriptEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transcript.TranscriptEntity(nil), f.created...), nil
}

func (f *fakeTranscriptRepo) Migrate() error { return nil }

var upgrader = websocket.Upgrader{}

// fakeService accepts one upstream connection, forwards every inbound
// frame into frames, and writes each canned reply after setup.
func fakeService(t *testing.T, replies []string, frames chan<- []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// setup frame first
		_, setup, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames <- setup

		for _, reply := range replies {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- raw
		}
	}))
}

func testOptions(serviceURL string) Options {
	return Options{
		SessionID: uuid.New(),
		ClientID:  "test-client",
		Upstream: upstream.Options{
			URL:            "ws" + strings.TrimPrefix(serviceURL, "http"),
			ConnectTimeout: 2 * time.Second,
		},
		Live:            upstream.LiveConfig{Model: "models/live-audio"},
		VAD:             vad.Config{SilenceThreshold: 700, MinSilenceFrames: 2, MinVoiceFrames: 1},
		InputSampleRate: 16000,
	}
}

func voicedChunk(n int) upstream.MediaChunk {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = 5000
	}
	return upstream.MediaChunk{
		MimeType: "audio/pcm;rate=16000",
		Data:     audio.EncodeBase64(audio.PCM16ToBytes(samples)),
	}
}

func silentChunk(n int) upstream.MediaChunk {
	return upstream.MediaChunk{
		MimeType: "audio/pcm;rate=16000",
		Data:     audio.EncodeBase64(make([]byte, n*2)),
	}
}

func TestRelayTranscribesUtterances(t *testing.T) {
	frames := make(chan []byte, 32)
	service := fakeService(t, nil, frames)
	defer service.Close()

	downstream := newFakeDownstream()
	transcriber := &fakeTranscriber{}
	opts := testOptions(service.URL)
	opts.Transcriber = transcriber

	c := NewCoordinator(opts, downstream, Logger.New(true))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Close()

	// two voiced frames then two silent ones close an utterance
	batch := []upstream.MediaChunk{voicedChunk(160), voicedChunk(160), silentChunk(160), silentChunk(160)}
	if err := c.HandleRealtimeInput(batch); err != nil {
		t.Fatalf("HandleRealtimeInput failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		downstream.mu.Lock()
		n := len(downstream.transcriptions)
		downstream.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for transcription")
		case <-time.After(10 * time.Millisecond):
		}
	}

	downstream.mu.Lock()
	if downstream.transcriptions[0] != "hello relay" {
		t.Errorf("Unexpected transcription: %q", downstream.transcriptions[0])
	}
	downstream.mu.Unlock()

	transcriber.mu.Lock()
	if len(transcriber.utterances) != 1 {
		t.Fatalf("Expected 1 utterance, got %d", len(transcriber.utterances))
	}
	if got := len(transcriber.utterances[0].Data); got != 4*160*2 {
		t.Errorf("Expected %d utterance bytes, got %d", 4*160*2, got)
	}
	transcriber.mu.Unlock()
}

func TestRelayPersistsTranscripts(t *testing.T) {
	frames := make(chan []byte, 32)
	service := fakeService(t, nil, frames)
	defer service.Close()

	downstream := newFakeDownstream()
	repo := &fakeTranscriptRepo{}
	opts := testOptions(service.URL)
	opts.Transcriber = &fakeTranscriber{}
	opts.Transcripts = repo

	c := NewCoordinator(opts, downstream, Logger.New(true))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Close()

	batch := []upstream.MediaChunk{voicedChunk(160), voicedChunk(160), silentChunk(160), silentChunk(160)}
	if err := c.HandleRealtimeInput(batch); err != nil {
		t.Fatalf("HandleRealtimeInput failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		repo.mu.Lock()
		n := len(repo.created)
		repo.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for transcript persistence")
		case <-time.After(10 * time.Millisecond):
		}
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	entity := repo.created[0]
	if entity.Text != "hello relay" {
		t.Errorf("Unexpected transcript text: %q", entity.Text)
	}
	if entity.SessionID != opts.SessionID {
		t.Errorf("Transcript bound to wrong session: %s", entity.SessionID)
	}
	if entity.ClientID != opts.ClientID {
		t.Errorf("Transcript bound to wrong client: %s", entity.ClientID)
	}
	// 640 samples of 16kHz mono PCM16 is 40ms.
	if entity.DurationMs != 40 {
		t.Errorf("Expected 40ms duration, got %d", entity.DurationMs)
	}
}

func TestRelayForwardsBatchesVerbatim(t *testing.T) {
	frames := make(chan []byte, 32)
	service := fakeService(t, nil, frames)
	defer service.Close()

	downstream := newFakeDownstream()
	c := NewCoordinator(testOptions(service.URL), downstream, Logger.New(true))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Close()

	<-frames // setup

	// Invalid and non-audio chunks are skipped by the VAD tap but still
	// forwarded with the rest of the batch.
	batch := []upstream.MediaChunk{
		voicedChunk(160),
		{MimeType: "audio/pcm", Data: ""},
		{MimeType: "image/png", Data: audio.EncodeBase64([]byte{1, 2})},
		{MimeType: "audio/pcm", Data: "%%%not-base64%%%"},
	}
	if err := c.HandleRealtimeInput(batch); err != nil {
		t.Fatalf("HandleRealtimeInput failed: %v", err)
	}

	select {
	case raw := <-frames:
		var envelope struct {
			RealtimeInput *struct {
				MediaChunks []upstream.MediaChunk `json:"mediaChunks"`
			} `json:"realtimeInput"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("Forwarded frame is not JSON: %v", err)
		}
		if envelope.RealtimeInput == nil {
			t.Fatalf("Expected realtimeInput envelope, got %s", raw)
		}
		if len(envelope.RealtimeInput.MediaChunks) != len(batch) {
			t.Errorf("Expected %d chunks forwarded, got %d", len(batch), len(envelope.RealtimeInput.MediaChunks))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Batch was never forwarded")
	}
}

func TestRelayDeliversModelOutput(t *testing.T) {
	pcm := audio.EncodeBase64([]byte{9, 9})
	replies := []string{
		`{"serverContent":{"turnComplete":true,"modelTurn":{"parts":[` +
			`{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + pcm + `"}},` +
			`{"text":"done"}]}}}`,
		`{"serverContent":{"interrupted":true}}`,
	}
	frames := make(chan []byte, 32)
	service := fakeService(t, replies, frames)
	defer service.Close()

	downstream := newFakeDownstream()
	c := NewCoordinator(testOptions(service.URL), downstream, Logger.New(true))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Close()

	deadline := time.After(2 * time.Second)
	for {
		downstream.mu.Lock()
		done := len(downstream.audioFrames) == 1 && len(downstream.parts) == 1 &&
			downstream.turnCompletes == 1 && downstream.interruptions == 1
		downstream.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Timed out waiting for model output: %+v", downstream)
		case <-time.After(10 * time.Millisecond):
		}
	}

	downstream.mu.Lock()
	defer downstream.mu.Unlock()
	if string(downstream.audioFrames[0]) != "\x09\x09" {
		t.Errorf("Audio payload mangled: %v", downstream.audioFrames[0])
	}
	if downstream.parts[0][0].Text != "done" {
		t.Errorf("Expected text part, got %+v", downstream.parts[0])
	}
}

func TestRelayTearsDownOnUpstreamClose(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.ReadMessage() // setup
		conn.Close()
	}))
	defer service.Close()

	downstream := newFakeDownstream()
	c := NewCoordinator(testOptions(service.URL), downstream, Logger.New(true))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-downstream.closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Downstream was not closed after upstream loss")
	}
}

func TestRelayCloseReturnsPromptly(t *testing.T) {
	// Closing the upstream client fires OnClose synchronously on this
	// goroutine, which calls back into Close; the re-entrant call must
	// return instead of blocking the teardown.
	frames := make(chan []byte, 32)
	service := fakeService(t, nil, frames)
	defer service.Close()

	downstream := newFakeDownstream()
	c := NewCoordinator(testOptions(service.URL), downstream, Logger.New(true))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	returned := make(chan struct{})
	go func() {
		c.Close()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Close never returned")
	}
	select {
	case <-downstream.closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Downstream was not closed")
	}

	// Still safe after teardown.
	c.Close()
}

func TestRelayStartFailsWhenUpstreamUnreachable(t *testing.T) {
	downstream := newFakeDownstream()
	opts := testOptions("http://127.0.0.1:1")
	c := NewCoordinator(opts, downstream, Logger.New(true))

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Expected Start to fail")
	}
}

func TestRelayRespondsToToolCalls(t *testing.T) {
	replies := []string{
		`{"toolCall":{"functionCalls":[{"id":"c1","name":"search"}]}}`,
	}
	frames := make(chan []byte, 32)
	service := fakeService(t, replies, frames)
	defer service.Close()

	downstream := newFakeDownstream()
	c := NewCoordinator(testOptions(service.URL), downstream, Logger.New(true))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Close()

	<-frames // setup

	select {
	case raw := <-frames:
		var envelope struct {
			ToolResponse *upstream.ToolResponse `json:"toolResponse"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("Tool response is not JSON: %v", err)
		}
		if envelope.ToolResponse == nil || len(envelope.ToolResponse.FunctionResponses) != 1 {
			t.Fatalf("Expected one function response, got %s", raw)
		}
		if envelope.ToolResponse.FunctionResponses[0].Name != "search" {
			t.Errorf("Response names wrong call: %s", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Tool call was never answered")
	}
}
