// File: internal/agent/models.go
package agent

// LoopState tracks which phase of the step cycle an instruction run is in.
// States are reported to the presentation layer via StateUpdate events.
type LoopState string

const (
	StateIdle            LoopState = "IDLE"             // No instruction in flight.
	StateCapturing       LoopState = "CAPTURING"        // Taking the device snapshot.
	StatePrompting       LoopState = "PROMPTING"        // Assembling the prompt.
	StateAwaitingModel   LoopState = "AWAITING_MODEL"   // Inference round-trip in flight.
	StateNormalizing     LoopState = "NORMALIZING"      // Repairing the model output.
	StateExecuting       LoopState = "EXECUTING"        // Dispatching a command.
	StateDeciding        LoopState = "DECIDING"         // Choosing continue/complete/correct.
	StateErrorRecovering LoopState = "ERROR_RECOVERING" // Corrective sub-flow in flight.
	StateCompleted       LoopState = "COMPLETED"        // Task finished, result available.
	StateFailed          LoopState = "FAILED"           // Unrecoverable capture/gateway error.
)

// TaskResult is the terminal outcome of one instruction run.
type TaskResult struct {
	Instruction string `json:"instruction"`
	Result      string `json:"result,omitempty"`
	Completed   bool   `json:"completed"`
	// Turns counts the capture->infer->execute rounds the instruction took,
	// including the initial one.
	Turns int `json:"turns"`
}
