// File: api/schemas/interfaces.go
package schemas

import (
	"context"
	"time"
)

// DeviceTransport is the boundary to the device-automation bridge. All calls
// block until the underlying command completes and wrap failures in a
// *TransportError.
type DeviceTransport interface {
	CaptureScreen(ctx context.Context) (Screenshot, error)
	CaptureLayout(ctx context.Context) (LayoutCapture, error)
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, startX, startY, endX, endY int, duration time.Duration) error
	InputText(ctx context.Context, text string) error
	PressKey(ctx context.Context, keycode int) error
}

// LLMClient sends an assembled prompt to the model endpoint and returns the
// raw text of the first candidate. Retrying transient HTTP failures is the
// client's concern; semantic recovery is the orchestration loop's.
type LLMClient interface {
	GenerateResponse(ctx context.Context, parts PromptParts) (string, error)
}

// EventSink receives the outbound boundary events of the orchestration loop.
// Implementations must not block; the loop calls them inline between steps.
type EventSink interface {
	StateUpdate(conversationID, state string)
	InstructionStart(conversationID, instruction string)
	CommandStart(conversationID string, cmd Command)
	CommandResult(conversationID string, res CommandResult)
	InstructionResponse(conversationID string, resp AIResponse)
	// InstructionResponseUpdate carries the model responses of continuation
	// rounds that follow the initial InstructionResponse.
	InstructionResponseUpdate(conversationID string, resp AIResponse)
	TaskResult(conversationID, instruction, result string)
	ErrorCorrectionStart(conversationID string)
	ErrorCorrectionEnd(conversationID string, resp AIResponse)
	ErrorNotice(conversationID, message string)
}

// NopSink discards all events. It stands in when no presentation layer is
// attached, e.g. for one-shot CLI runs with quiet output.
type NopSink struct{}

func (NopSink) StateUpdate(string, string)                   {}
func (NopSink) InstructionStart(string, string)              {}
func (NopSink) CommandStart(string, Command)                 {}
func (NopSink) CommandResult(string, CommandResult)          {}
func (NopSink) InstructionResponse(string, AIResponse)       {}
func (NopSink) InstructionResponseUpdate(string, AIResponse) {}
func (NopSink) TaskResult(string, string, string)            {}
func (NopSink) ErrorCorrectionStart(string)                  {}
func (NopSink) ErrorCorrectionEnd(string, AIResponse)        {}
func (NopSink) ErrorNotice(string, string)                   {}

var _ EventSink = NopSink{}
