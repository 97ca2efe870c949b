// File: internal/agent/dispatcher.go
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// Default durations applied when the model leaves them unset.
const (
	defaultWaitDuration  = 1 * time.Second
	defaultSwipeDuration = 300 * time.Millisecond
)

// maxCompositeDepth bounds nesting of composite commands.
const maxCompositeDepth = 8

// Dispatcher maps validated commands onto device-transport calls.
type Dispatcher struct {
	transport schemas.DeviceTransport
	logger    *zap.Logger
}

// NewDispatcher creates a Dispatcher bound to a device transport.
func NewDispatcher(transport schemas.DeviceTransport, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		logger:    logger.Named("dispatcher"),
	}
}

// Execute dispatches one command. The returned result is always non-nil; a
// non-nil error means the command (or, for a composite, one of its
// sub-commands) failed and the result carries the detail.
func (d *Dispatcher) Execute(ctx context.Context, cmd schemas.Command) (*schemas.CommandResult, error) {
	return d.execute(ctx, cmd, 0)
}

func (d *Dispatcher) execute(ctx context.Context, cmd schemas.Command, depth int) (*schemas.CommandResult, error) {
	if err := cmd.Validate(); err != nil {
		return failed(cmd, err), err
	}

	if cmd.Type == schemas.CommandComposite {
		return d.executeComposite(ctx, cmd, depth)
	}

	d.logger.Debug("Dispatching command", zap.String("type", string(cmd.Type)))

	var err error
	switch cmd.Type {
	case schemas.CommandTap:
		err = d.transport.Tap(ctx, *cmd.X, *cmd.Y)
	case schemas.CommandSwipe:
		duration := defaultSwipeDuration
		if cmd.Duration != nil {
			duration = time.Duration(*cmd.Duration) * time.Millisecond
		}
		err = d.transport.Swipe(ctx, *cmd.StartX, *cmd.StartY, *cmd.EndX, *cmd.EndY, duration)
	case schemas.CommandText:
		err = d.transport.InputText(ctx, cmd.Text)
	case schemas.CommandKey:
		err = d.transport.PressKey(ctx, *cmd.Keycode)
	case schemas.CommandBack:
		err = d.transport.PressKey(ctx, schemas.KeycodeBack)
	case schemas.CommandHome:
		err = d.transport.PressKey(ctx, schemas.KeycodeHome)
	case schemas.CommandAppSwitch:
		err = d.transport.PressKey(ctx, schemas.KeycodeAppSwitch)
	case schemas.CommandWait:
		duration := defaultWaitDuration
		if cmd.Duration != nil {
			duration = time.Duration(*cmd.Duration) * time.Millisecond
		}
		err = wait(ctx, duration)
	}

	if err != nil {
		return failed(cmd, err), err
	}
	return &schemas.CommandResult{Command: cmd, Success: true}, nil
}

// executeComposite runs the inner sequence strictly in order, aborts the
// remainder on the first failure and aggregates all prior successful results
// plus the triggering one.
func (d *Dispatcher) executeComposite(ctx context.Context, cmd schemas.Command, depth int) (*schemas.CommandResult, error) {
	if depth >= maxCompositeDepth {
		err := fmt.Errorf("%w: composite nesting exceeds %d levels", schemas.ErrInvalidCommand, maxCompositeDepth)
		return failed(cmd, err), err
	}

	agg := &schemas.CommandResult{Command: cmd, Success: true}
	for _, sub := range cmd.Commands {
		res, err := d.execute(ctx, sub, depth+1)
		agg.Results = append(agg.Results, *res)
		if err != nil {
			agg.Success = false
			agg.Error = err.Error()
			return agg, err
		}
	}
	return agg, nil
}

func failed(cmd schemas.Command, err error) *schemas.CommandResult {
	return &schemas.CommandResult{Command: cmd, Success: false, Error: err.Error()}
}

// wait sleeps for the given duration unless the context ends first.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
