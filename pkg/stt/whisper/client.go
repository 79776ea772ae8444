package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/voxbridge/voxbridge/pkg/Logger"
	"github.com/voxbridge/voxbridge/pkg/audio"
)

// TranscriptionResponse is the JSON body returned by the Whisper service.
type TranscriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Client sends utterance audio to a Whisper-compatible STT service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *Logger.Logger
}

// New creates a Whisper STT client.
func New(baseURL string, logger *Logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Transcribe converts one utterance to text.
func (c *Client) Transcribe(ctx context.Context, utterance audio.Frame) (string, error) {
	if len(utterance.Data) == 0 {
		return "", fmt.Errorf("empty utterance")
	}

	wavData := pcmToWAV(utterance.Data, utterance.SampleRate, utterance.Channels)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio_file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	requestURL := fmt.Sprintf("%s/asr?encode=true&task=transcribe&output=json", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Errorf("STT service error (status %d): %s", resp.StatusCode, string(responseBody))
		return "", fmt.Errorf("stt service returned status %d", resp.StatusCode)
	}

	var transcription TranscriptionResponse
	if err := json.Unmarshal(responseBody, &transcription); err != nil {
		// Some deployments answer with plain text instead of JSON.
		if len(responseBody) > 0 {
			return string(responseBody), nil
		}
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debugf("Transcribed %dms utterance: %s", utterance.DurationMs(), transcription.Text)
	return transcription.Text, nil
}

// pcmToWAV wraps raw PCM16LE data in a 44-byte WAV header.
func pcmToWAV(pcm []byte, sampleRate int32, channels int16) []byte {
	if sampleRate == 0 {
		sampleRate = 16000
	}
	if channels == 0 {
		channels = 1
	}

	const bitsPerSample = 16
	byteRate := int(sampleRate) * int(channels) * bitsPerSample / 8
	blockAlign := int(channels) * bitsPerSample / 8

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	out := make([]byte, 0, len(header)+len(pcm))
	out = append(out, header...)
	out = append(out, pcm...)
	return out
}
