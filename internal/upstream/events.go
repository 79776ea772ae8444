package upstream

// Handler receives decoded session events. All callbacks are invoked
// synchronously from the session's read goroutine, so implementations see
// events from one session strictly in order; a slow handler backpressures
// the read pump.
type Handler interface {
	// OnOpen fires once the setup frame has been sent.
	OnOpen()
	// OnSetupComplete fires when the service acknowledges the setup.
	OnSetupComplete()
	// OnAudio fires once per audio part, in the order the parts appear
	// within their message. Data is the decoded PCM payload.
	OnAudio(data []byte, mimeType string)
	// OnContent fires with the non-audio parts of a model turn, only when
	// at least one such part is present.
	OnContent(parts []Part)
	// OnToolCall fires when the service requests function execution.
	OnToolCall(call *ToolCall)
	// OnToolCallCancellation fires when previously requested calls are
	// withdrawn.
	OnToolCallCancellation(cancel *ToolCallCancellation)
	// OnTurnComplete fires when the model finishes a turn.
	OnTurnComplete()
	// OnInterrupted fires when the model's turn was cut off, typically by
	// new user speech. Remaining content in the same message is dropped.
	OnInterrupted()
	// OnClose fires exactly once when the session ends. err is nil on a
	// clean close.
	OnClose(err error)
}

// NopHandler implements Handler with no-ops, for embedding in tests and
// partial handlers.
type NopHandler struct{}

func (NopHandler) OnOpen()                                        {}
func (NopHandler) OnSetupComplete()                               {}
func (NopHandler) OnAudio(data []byte, mimeType string)           {}
func (NopHandler) OnContent(parts []Part)                         {}
func (NopHandler) OnToolCall(call *ToolCall)                      {}
func (NopHandler) OnToolCallCancellation(c *ToolCallCancellation) {}
func (NopHandler) OnTurnComplete()                                {}
func (NopHandler) OnInterrupted()                                 {}
func (NopHandler) OnClose(err error)                              {}
