// File: internal/agent/loop_test.go
package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/session"
)

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxTurns:          3,
		SettleDelay:       0,
		HistorySize:       5,
		AttachScreenshots: true,
	}
}

func newTestAgent(transport *mockTransport, llm *mockLLM, sink schemas.EventSink) *Agent {
	return New(testAgentConfig(), transport, llm, session.NewStore(5), sink, observability.GetLogger())
}

func TestExecuteInstruction_SingleCompleteTap(t *testing.T) {
	transport := newMockTransport()
	llm := &mockLLM{responses: []string{
		`{"thinking": "tap OK", "isTaskComplete": true, "result": "confirmed",
		  "commands": [{"type": "tap", "x": 200, "y": 250}]}`,
	}}
	sink := &recordingSink{}
	ag := newTestAgent(transport, llm, sink)

	result, err := ag.ExecuteInstruction(context.Background(), "conv", "press OK")

	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, "confirmed", result.Result)
	assert.Equal(t, 1, result.Turns)
	assert.Equal(t, 1, llm.callCount())

	assert.Equal(t, []string{"CaptureScreen", "CaptureLayout", "Tap"}, transport.callOrder())
	assert.Equal(t,
		[]string{"instruction_start", "instruction_response", "command_start", "command_result", "task_result"},
		sink.names())
	assert.Contains(t, sink.states, string(StateCompleted))
}

func TestExecuteInstruction_TwoCommandContinuation(t *testing.T) {
	transport := newMockTransport()
	llm := &mockLLM{responses: []string{
		// Round one: open the menu, expect to re-assess afterwards.
		`{"thinking": "open the menu first", "commands": [{"type": "tap", "x": 50, "y": 50}]}`,
		// Round two: the task finishes.
		`{"thinking": "now confirm", "isTaskComplete": true, "result": "done",
		  "commands": [{"type": "tap", "x": 200, "y": 250}]}`,
	}}
	sink := &recordingSink{}
	ag := newTestAgent(transport, llm, sink)

	result, err := ag.ExecuteInstruction(context.Background(), "conv", "confirm via menu")

	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, 2, result.Turns)
	assert.Equal(t, 2, llm.callCount())

	// Both rounds captured fresh device state before inference.
	assert.Equal(t, 2, transport.callsTo("CaptureScreen"))
	assert.Equal(t, 2, transport.callsTo("CaptureLayout"))
	assert.Equal(t, 2, transport.callsTo("Tap"))

	assert.True(t, sink.has("instruction_response"))
	assert.True(t, sink.has("instruction_response_update"))
}

func TestExecuteInstruction_DispatchFailureRecovery(t *testing.T) {
	transport := newMockTransport()
	transport.failOn["Tap"] = 1
	llm := &mockLLM{responses: []string{
		`{"thinking": "tap it", "commands": [{"type": "tap", "x": 9999, "y": 9999}]}`,
		// Corrective round after the failed tap.
		`{"thinking": "coordinate was off, press back instead", "commands": [{"type": "back"}]}`,
	}}
	sink := &recordingSink{}
	ag := newTestAgent(transport, llm, sink)

	result, err := ag.ExecuteInstruction(context.Background(), "conv", "tap the button")

	require.NoError(t, err)
	assert.False(t, result.Completed, "a recovered run never reports completion")
	assert.Equal(t, 2, llm.callCount(), "exactly one corrective round")

	assert.True(t, sink.has("error_correction_start"))
	assert.True(t, sink.has("error_correction_end"))
	assert.Equal(t, 1, transport.callsTo("PressKey"), "corrective command executed")
	assert.Contains(t, sink.states, string(StateErrorRecovering))

	// Both round-trips, the failed batch and the corrective one, are part of
	// the session record.
	sess, ok := ag.Sessions().Get("conv")
	require.True(t, ok)
	history := sess.History()
	require.Len(t, history, 2)
	require.Len(t, history[1].Response.Commands, 1)
	assert.Equal(t, schemas.CommandBack, history[1].Response.Commands[0].Type)
}

func TestExecuteInstruction_CorrectionFailureIsNotRetried(t *testing.T) {
	transport := newMockTransport()
	transport.failOn["Tap"] = 1
	transport.failOn["PressKey"] = 1
	llm := &mockLLM{responses: []string{
		`{"commands": [{"type": "tap", "x": 1, "y": 2}]}`,
		`{"commands": [{"type": "back"}]}`,
	}}
	sink := &recordingSink{}
	ag := newTestAgent(transport, llm, sink)

	result, err := ag.ExecuteInstruction(context.Background(), "conv", "tap")

	require.NoError(t, err)
	assert.False(t, result.Completed)
	assert.Equal(t, 2, llm.callCount(), "no second corrective round")
	assert.True(t, sink.has("error_notice"))
}

func TestExecuteInstruction_MaxTurnsExceeded(t *testing.T) {
	transport := newMockTransport()
	// Every round issues a non-completing command, forcing continuation.
	llm := &mockLLM{responses: []string{
		`{"thinking": "scrolling", "commands": [{"type": "swipe", "startX": 500, "startY": 1500, "endX": 500, "endY": 300}]}`,
	}}
	sink := &recordingSink{}
	ag := newTestAgent(transport, llm, sink)

	_, err := ag.ExecuteInstruction(context.Background(), "conv", "find the bottom")

	assert.ErrorIs(t, err, schemas.ErrMaxTurnsExceeded)
	assert.Equal(t, testAgentConfig().MaxTurns, llm.callCount())
	assert.True(t, sink.has("error_notice"))
	assert.Contains(t, sink.states, string(StateFailed))
}

func TestExecuteInstruction_ZeroCommandsCompletes(t *testing.T) {
	transport := newMockTransport()
	llm := &mockLLM{responses: []string{
		`{"thinking": "already on the home screen", "isTaskComplete": true, "result": "nothing to do", "commands": []}`,
	}}
	ag := newTestAgent(transport, llm, &recordingSink{})

	result, err := ag.ExecuteInstruction(context.Background(), "conv", "go home")

	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, "nothing to do", result.Result)
	assert.Equal(t, 0, transport.callsTo("Tap"))
}

func TestExecuteInstruction_UnparsableResponseFails(t *testing.T) {
	transport := newMockTransport()
	llm := &mockLLM{responses: []string{"complete gibberish with no labeled sections"}}
	sink := &recordingSink{}
	ag := newTestAgent(transport, llm, sink)

	_, err := ag.ExecuteInstruction(context.Background(), "conv", "do something")

	require.Error(t, err)
	assert.True(t, sink.has("error_notice"))
}

func TestExecuteInstruction_CaptureFailure(t *testing.T) {
	transport := newMockTransport()
	transport.failOn["CaptureScreen"] = 1
	llm := &mockLLM{}
	sink := &recordingSink{}
	ag := newTestAgent(transport, llm, sink)

	_, err := ag.ExecuteInstruction(context.Background(), "conv", "anything")

	require.Error(t, err)
	var te *schemas.TransportError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, 0, llm.callCount(), "no inference without a snapshot")
	assert.Contains(t, sink.states, string(StateFailed))
}

func TestExecuteInstruction_GatewayErrorPropagates(t *testing.T) {
	transport := newMockTransport()
	gatewayErr := &schemas.GatewayError{StatusCode: 400, Body: "bad request"}
	llm := &mockLLM{err: gatewayErr}
	ag := newTestAgent(transport, llm, &recordingSink{})

	_, err := ag.ExecuteInstruction(context.Background(), "conv", "anything")

	var ge *schemas.GatewayError
	assert.ErrorAs(t, err, &ge)
}

func TestExecuteInstruction_SessionHistoryRecorded(t *testing.T) {
	transport := newMockTransport()
	llm := &mockLLM{responses: []string{
		`{"thinking": "t", "isTaskComplete": true, "result": "ok", "commands": [{"type": "back"}]}`,
	}}
	ag := newTestAgent(transport, llm, &recordingSink{})

	_, err := ag.ExecuteInstruction(context.Background(), "conv-hist", "go back")
	require.NoError(t, err)

	sess, ok := ag.Sessions().Get("conv-hist")
	require.True(t, ok)
	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, "go back", history[0].Instruction)
	assert.True(t, history[0].Response.IsTaskComplete)

	op, ok := sess.LastOperation()
	require.True(t, ok)
	assert.Equal(t, "go back", op.Instruction)
}

func TestExecuteInstruction_CancelledContext(t *testing.T) {
	transport := newMockTransport()
	llm := &mockLLM{responses: []string{
		`{"commands": [{"type": "wait", "duration": 60000}]}`,
	}}
	ag := newTestAgent(transport, llm, &recordingSink{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ag.ExecuteInstruction(ctx, "conv", "wait forever")

	assert.ErrorIs(t, err, context.Canceled)
}
