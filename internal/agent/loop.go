// File: internal/agent/loop.go

// Package agent drives the instruction-execution control loop: capture the
// device state, build a prompt, infer, normalize, execute, then decide
// between continuation, completion and error correction. Each conversation
// runs strictly sequentially; the loop owns that conversation's session
// context for the duration of a run.
package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/layout"
	"github.com/xkilldash9x/droidpilot/internal/normalizer"
	"github.com/xkilldash9x/droidpilot/internal/prompt"
	"github.com/xkilldash9x/droidpilot/internal/session"
)

// Agent executes natural-language instructions against a device. It is safe
// for concurrent use across conversations, but the device transport itself is
// not multiplexed: concurrent conversations against one physical device must
// be serialized by the caller.
type Agent struct {
	cfg        config.AgentConfig
	logger     *zap.Logger
	transport  schemas.DeviceTransport
	llm        schemas.LLMClient
	prompts    *prompt.Builder
	dispatcher *Dispatcher
	sessions   *session.Store
	sink       schemas.EventSink
}

// New assembles an Agent from its collaborators. A nil sink is replaced by a
// no-op sink.
func New(
	cfg config.AgentConfig,
	transport schemas.DeviceTransport,
	llm schemas.LLMClient,
	sessions *session.Store,
	sink schemas.EventSink,
	logger *zap.Logger,
) *Agent {
	if sink == nil {
		sink = schemas.NopSink{}
	}
	return &Agent{
		cfg:        cfg,
		logger:     logger.Named("agent"),
		transport:  transport,
		llm:        llm,
		prompts:    prompt.New(),
		dispatcher: NewDispatcher(transport, logger),
		sessions:   sessions,
		sink:       sink,
	}
}

// Sessions exposes the session store for the query surface (history by ID,
// deletion, explicit clearing).
func (a *Agent) Sessions() *session.Store { return a.sessions }

// run is the per-instruction state machine. One run never outlives its
// ExecuteInstruction call.
type run struct {
	a              *Agent
	conversationID string
	instruction    string
	sess           *session.Context
	state          LoopState
	logger         *zap.Logger
}

func (r *run) transition(next LoopState) {
	if r.state == next {
		return
	}
	r.logger.Debug("Loop state transition",
		zap.String("from", string(r.state)), zap.String("to", string(next)))
	r.state = next
	r.a.sink.StateUpdate(r.conversationID, string(next))
}

// ExecuteInstruction runs the full control loop for one instruction and
// blocks until a terminal state is reached. Continuation rounds are bounded
// by the configured MaxTurns; exceeding the bound returns
// schemas.ErrMaxTurnsExceeded.
func (a *Agent) ExecuteInstruction(ctx context.Context, conversationID, instruction string) (*TaskResult, error) {
	r := &run{
		a:              a,
		conversationID: conversationID,
		instruction:    instruction,
		sess:           a.sessions.GetOrCreate(conversationID),
		state:          StateIdle,
		logger: a.logger.With(
			zap.String("conversation_id", conversationID)),
	}

	r.sess.SetLastOperation(instruction)
	a.sink.InstructionStart(conversationID, instruction)
	r.logger.Info("Executing instruction", zap.String("instruction", instruction))

	mode := prompt.ModeInstruct
	for turn := 0; ; turn++ {
		if turn >= a.cfg.MaxTurns {
			r.transition(StateFailed)
			a.sink.ErrorNotice(conversationID, fmt.Sprintf("task not complete after %d rounds", a.cfg.MaxTurns))
			return nil, schemas.ErrMaxTurnsExceeded
		}

		resp, snapshot, err := r.inferenceRound(ctx, mode, nil)
		if err != nil {
			r.transition(StateFailed)
			a.sink.ErrorNotice(conversationID, err.Error())
			return nil, err
		}

		if turn == 0 {
			a.sink.InstructionResponse(conversationID, *resp)
		} else {
			a.sink.InstructionResponseUpdate(conversationID, *resp)
		}
		r.sess.Append(session.Condense(instruction, snapshot, resp))

		if len(resp.Commands) == 0 {
			// The model had nothing to execute. Either it judged the task
			// already done, or normalization degraded to an error response.
			if resp.Error != "" {
				r.transition(StateFailed)
				a.sink.ErrorNotice(conversationID, resp.Error)
				return nil, fmt.Errorf("model response unusable: %s", resp.Error)
			}
			return r.complete(resp.Result, turn+1), nil
		}

		outcome, err := r.executeBatch(ctx, resp)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case batchCompleted:
			return r.complete(resp.Result, turn+1), nil
		case batchRecovered:
			// One corrective attempt was made; the loop does not continue
			// automatically after error recovery.
			return &TaskResult{Instruction: instruction, Completed: false, Turns: turn + 1}, nil
		case batchContinue:
			mode = prompt.ModeContinue
		}
	}
}

// batchOutcome is the decision reached after dispatching a command batch.
type batchOutcome int

const (
	batchContinue batchOutcome = iota
	batchCompleted
	batchRecovered
)

// inferenceRound performs one capture->prompt->infer->normalize cycle.
// Capture and gateway failures propagate; normalizer failures never do.
func (r *run) inferenceRound(ctx context.Context, mode prompt.Mode, failed *prompt.FailedCommand) (*schemas.AIResponse, *schemas.DeviceSnapshot, error) {
	r.transition(StateCapturing)
	snapshot, err := r.a.capture(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("device capture failed: %w", err)
	}

	r.transition(StatePrompting)
	history := r.sess.Recent(3)
	parts := r.a.prompts.Build(mode, r.instruction, snapshot, history, failed)
	if !r.a.cfg.AttachScreenshots {
		parts.Image = nil
	}

	r.transition(StateAwaitingModel)
	raw, err := r.a.llm.GenerateResponse(ctx, parts)
	if err != nil {
		return nil, nil, err
	}

	r.transition(StateNormalizing)
	return normalizer.Normalize(raw), snapshot, nil
}

// executeBatch dispatches a response's commands one at a time, in order,
// observing the settle delay after each success and applying the per-command
// continuation decision.
func (r *run) executeBatch(ctx context.Context, resp *schemas.AIResponse) (batchOutcome, error) {
	for _, cmd := range resp.Commands {
		r.transition(StateExecuting)
		r.a.sink.CommandStart(r.conversationID, cmd)

		res, err := r.a.dispatcher.Execute(ctx, cmd)
		r.a.sink.CommandResult(r.conversationID, *res)

		r.transition(StateDeciding)
		if err != nil {
			if ctx.Err() != nil {
				return batchRecovered, ctx.Err()
			}
			r.recover(ctx, cmd, err)
			return batchRecovered, nil
		}

		if err := wait(ctx, r.a.cfg.SettleDelay); err != nil {
			return batchRecovered, err
		}

		if cmd.Complete() {
			return batchCompleted, nil
		}
		// An incomplete final command means the model expects to see the
		// new screen before going on: issue a continuation round.
		if cmd.IsFinalCommand {
			return batchContinue, nil
		}
	}
	return batchContinue, nil
}

// recover runs the error-correction sub-flow exactly once: a corrective
// inference round (mode=correct, no user instruction text) whose commands, if
// any, go through the single-command dispatch path without re-entering the
// continuation decision logic. Failures of the sub-flow itself are surfaced
// as notices, never retried.
func (r *run) recover(ctx context.Context, failedCmd schemas.Command, dispatchErr error) {
	r.transition(StateErrorRecovering)
	r.a.sink.ErrorCorrectionStart(r.conversationID)
	r.logger.Warn("Command dispatch failed, attempting correction",
		zap.String("type", string(failedCmd.Type)), zap.Error(dispatchErr))

	resp, snapshot, err := r.inferenceRound(ctx, prompt.ModeCorrect, &prompt.FailedCommand{
		Command: failedCmd,
		Error:   dispatchErr.Error(),
	})
	if err != nil {
		r.a.sink.ErrorNotice(r.conversationID, fmt.Sprintf("error correction failed: %v", err))
		return
	}
	r.sess.Append(session.Condense(r.instruction, snapshot, resp))

	for _, cmd := range resp.Commands {
		r.a.sink.CommandStart(r.conversationID, cmd)
		res, err := r.a.dispatcher.Execute(ctx, cmd)
		r.a.sink.CommandResult(r.conversationID, *res)
		if err != nil {
			r.a.sink.ErrorNotice(r.conversationID, fmt.Sprintf("corrective command failed: %v", err))
			break
		}
		if err := wait(ctx, r.a.cfg.SettleDelay); err != nil {
			break
		}
	}
	r.a.sink.ErrorCorrectionEnd(r.conversationID, *resp)
}

func (r *run) complete(result string, turns int) *TaskResult {
	r.transition(StateCompleted)
	r.a.sink.TaskResult(r.conversationID, r.instruction, result)
	r.logger.Info("Instruction completed", zap.Int("turns", turns), zap.String("result", result))
	return &TaskResult{
		Instruction: r.instruction,
		Result:      result,
		Completed:   true,
		Turns:       turns,
	}
}

// capture takes the unconditional pre-inference device snapshot: screenshot,
// layout dump and parsed element tree. The model only reasons over declared
// current state, so this happens before every model call.
func (a *Agent) capture(ctx context.Context) (*schemas.DeviceSnapshot, error) {
	screen, err := a.transport.CaptureScreen(ctx)
	if err != nil {
		return nil, err
	}
	capture, err := a.transport.CaptureLayout(ctx)
	if err != nil {
		return nil, err
	}
	root, err := layout.Parse(capture.RawXML)
	if err != nil {
		return nil, err
	}
	return &schemas.DeviceSnapshot{Screen: screen, Layout: capture, Root: root}, nil
}
