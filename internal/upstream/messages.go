package upstream

import "encoding/json"

// LiveConfig is the session configuration sent once at connect time. It is
// immutable for the lifetime of the session.
type LiveConfig struct {
	Model            string            `json:"model"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
	SystemPrompt     *Content          `json:"systemInstruction,omitempty"`
	Tools            []json.RawMessage `json:"tools,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
}

// MediaChunk is one base64-encoded audio buffer with its MIME tag.
type MediaChunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Part is one piece of model or client content. InlineData carries audio,
// Text carries text; a part has exactly one of them set.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// IsAudio reports whether the part carries inline audio data.
func (p Part) IsAudio() bool {
	return p.InlineData != nil && len(p.InlineData.MimeType) >= 5 && p.InlineData.MimeType[:5] == "audio"
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Outbound envelopes. Each frame sent to the service is exactly one of
// these, serialized as a JSON object with a single top-level key.

type setupEnvelope struct {
	Setup LiveConfig `json:"setup"`
}

type realtimeInputEnvelope struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"mediaChunks"`
}

type clientContentEnvelope struct {
	ClientContent ClientContent `json:"clientContent"`
}

type ClientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type toolResponseEnvelope struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}

type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

type FunctionResponse struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

// Inbound message shapes.

type FunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type ToolCallCancellation struct {
	IDs []string `json:"ids,omitempty"`
}

// ServerContent carries the model's output signals. A single message may
// set several of these fields at once; every present signal is meaningful.
type ServerContent struct {
	Interrupted  bool     `json:"interrupted,omitempty"`
	TurnComplete bool     `json:"turnComplete,omitempty"`
	ModelTurn    *Content `json:"modelTurn,omitempty"`
}

// ServerMessage is one decoded inbound frame. The service multiplexes
// several message kinds over one connection; fields are pointers so that
// presence can be tested independently, since kinds are not mutually
// exclusive within a frame.
type ServerMessage struct {
	ToolCall             *ToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
	SetupComplete        *struct{}             `json:"setupComplete,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
}

// DecodeServerMessage parses one raw inbound frame.
func DecodeServerMessage(raw []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
