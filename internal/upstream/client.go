// Package upstream manages the outbound connection to the conversational
// AI service: one WebSocket per relay session, configured once at connect
// time, with JSON envelopes in both directions.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"

	"github.com/voxbridge/voxbridge/pkg/Logger"
	"github.com/voxbridge/voxbridge/pkg/audio"
)

// Session states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateOpen         = "open"
	StateClosed       = "closed"
)

// Session events.
const (
	eventDial      = "dial"
	eventEstablish = "establish"
	eventTerminate = "terminate"
)

var (
	// ErrNotConnected is returned by send operations outside the open state.
	ErrNotConnected = errors.New("upstream session not connected")
	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = errors.New("upstream session already connected")
)

// Options configures a Client.
type Options struct {
	URL            string
	APIKey         string
	ConnectTimeout time.Duration
}

// Client is one upstream session. It moves through
// disconnected -> connecting -> open -> closed and never reconnects; a
// relay that loses its upstream builds a fresh Client.
//
// All Handler callbacks run on the session's read goroutine.
type Client struct {
	opts    Options
	logger  *Logger.Logger
	handler Handler

	machine *fsm.FSM

	conn    *websocket.Conn
	writeMu sync.Mutex
	opened  atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
}

// NewClient creates a disconnected session.
func NewClient(opts Options, handler Handler, logger *Logger.Logger) *Client {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &Client{
		opts:    opts,
		logger:  logger,
		handler: handler,
		done:    make(chan struct{}),
		machine: fsm.NewFSM(
			StateDisconnected,
			fsm.Events{
				{Name: eventDial, Src: []string{StateDisconnected}, Dst: StateConnecting},
				{Name: eventEstablish, Src: []string{StateConnecting}, Dst: StateOpen},
				{Name: eventTerminate, Src: []string{StateDisconnected, StateConnecting, StateOpen}, Dst: StateClosed},
			},
			fsm.Callbacks{},
		),
	}
}

// State returns the current session state.
func (c *Client) State() string {
	return c.machine.Current()
}

// Done is closed when the session has fully terminated.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Connect dials the service and sends the setup frame. The setup envelope
// is always the first frame on the wire; no other outbound traffic is
// accepted until it has been written.
func (c *Client) Connect(ctx context.Context, config LiveConfig) error {
	if err := c.machine.Event(ctx, eventDial); err != nil {
		if c.machine.Current() != StateDisconnected {
			return ErrAlreadyConnected
		}
		return fmt.Errorf("dial transition: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	headers := http.Header{}
	if c.opts.APIKey != "" {
		headers.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.ConnectTimeout,
	}
	conn, resp, err := dialer.DialContext(dialCtx, c.opts.URL, headers)
	if err != nil {
		c.terminate(nil)
		if resp != nil {
			return fmt.Errorf("upstream connect (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("upstream connect: %w", err)
	}
	c.conn = conn

	if err := c.writeJSON(setupEnvelope{Setup: config}); err != nil {
		c.terminate(nil)
		return fmt.Errorf("send setup: %w", err)
	}

	if err := c.machine.Event(ctx, eventEstablish); err != nil {
		c.terminate(nil)
		return fmt.Errorf("establish transition: %w", err)
	}

	c.opened.Store(true)
	c.handler.OnOpen()
	go c.readPump()
	return nil
}

// SendRealtimeInput forwards a batch of media chunks.
func (c *Client) SendRealtimeInput(chunks []MediaChunk) error {
	if c.machine.Current() != StateOpen {
		return ErrNotConnected
	}
	return c.writeJSON(realtimeInputEnvelope{RealtimeInput: RealtimeInput{MediaChunks: chunks}})
}

// SendClientContent sends structured turns, optionally closing the user turn.
func (c *Client) SendClientContent(turns []Content, turnComplete bool) error {
	if c.machine.Current() != StateOpen {
		return ErrNotConnected
	}
	return c.writeJSON(clientContentEnvelope{ClientContent: ClientContent{
		Turns:        turns,
		TurnComplete: turnComplete,
	}})
}

// SendToolResponse answers a previously received tool call.
func (c *Client) SendToolResponse(responses []FunctionResponse) error {
	if c.machine.Current() != StateOpen {
		return ErrNotConnected
	}
	return c.writeJSON(toolResponseEnvelope{ToolResponse: ToolResponse{FunctionResponses: responses}})
}

// Close terminates the session. Safe to call multiple times and from any
// goroutine.
func (c *Client) Close() error {
	c.terminate(nil)
	return nil
}

func (c *Client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(v)
}

// readPump drains inbound frames until the connection dies.
func (c *Client) readPump() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			c.terminate(err)
			return
		}

		msg, err := DecodeServerMessage(raw)
		if err != nil {
			c.logger.Warnf("Dropping undecodable upstream frame: %v", err)
			continue
		}
		c.Dispatch(msg)
	}
}

// Dispatch routes one decoded message to the handler. Message kinds are
// checked independently, in a fixed order, because a single frame may
// carry several of them at once.
func (c *Client) Dispatch(msg *ServerMessage) {
	if msg.ToolCall != nil {
		c.handler.OnToolCall(msg.ToolCall)
	}
	if msg.ToolCallCancellation != nil {
		c.handler.OnToolCallCancellation(msg.ToolCallCancellation)
	}
	if msg.SetupComplete != nil {
		c.handler.OnSetupComplete()
	}
	if msg.ServerContent != nil {
		c.dispatchServerContent(msg.ServerContent)
	}
}

func (c *Client) dispatchServerContent(sc *ServerContent) {
	// Interruption voids the rest of this message.
	if sc.Interrupted {
		c.handler.OnInterrupted()
		return
	}
	// Turn completion is a signal, not a terminator; content in the same
	// frame still flows.
	if sc.TurnComplete {
		c.handler.OnTurnComplete()
	}
	if sc.ModelTurn == nil {
		return
	}

	var rest []Part
	for _, part := range sc.ModelTurn.Parts {
		if !part.IsAudio() {
			rest = append(rest, part)
			continue
		}
		data, err := audio.DecodeBase64(part.InlineData.Data)
		if err != nil {
			c.logger.Warnf("Dropping audio part with bad base64: %v", err)
			continue
		}
		c.handler.OnAudio(data, part.InlineData.MimeType)
	}
	if len(rest) > 0 {
		c.handler.OnContent(rest)
	}
}

// terminate moves the session to closed exactly once, releasing the
// transport and notifying the handler.
func (c *Client) terminate(err error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	_ = c.machine.Event(context.Background(), eventTerminate)
	if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
	close(c.done)
	// sessions that never reached open surface their failure through
	// Connect's return value instead
	if c.opened.Load() {
		c.handler.OnClose(err)
	}
}
