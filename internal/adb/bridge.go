// File: internal/adb/bridge.go

// Package adb is the device-automation bridge. It shells out to the adb
// binary for screen capture, UI-layout dumps and raw input dispatch. Every
// failure is wrapped in a *schemas.TransportError carrying the underlying
// command and its stderr.
package adb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

const layoutDumpFile = "/data/local/tmp/droidpilot_view.xml"

// Bridge implements schemas.DeviceTransport over the adb binary.
type Bridge struct {
	adbPath        string
	serial         string
	captureTimeout time.Duration
	inputTimeout   time.Duration
	logger         *zap.Logger
}

var _ schemas.DeviceTransport = (*Bridge)(nil)

// New creates a Bridge from device configuration.
func New(cfg config.DeviceConfig, logger *zap.Logger) (*Bridge, error) {
	if cfg.ADBPath == "" {
		return nil, fmt.Errorf("%w: device.adb_path", schemas.ErrConfiguration)
	}
	return &Bridge{
		adbPath:        cfg.ADBPath,
		serial:         cfg.Serial,
		captureTimeout: cfg.CaptureTimeout,
		inputTimeout:   cfg.InputTimeout,
		logger:         logger.Named("adb"),
	}, nil
}

// run executes the adb binary with the given arguments and returns stdout.
func (b *Bridge) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	full := args
	if b.serial != "" {
		full = append([]string{"-s", b.serial}, args...)
	}

	cmd := exec.CommandContext(ctx, b.adbPath, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmdline := b.adbPath + " " + strings.Join(full, " ")
	b.logger.Debug("Executing device command", zap.String("cmd", cmdline))

	if err := cmd.Run(); err != nil {
		return nil, &schemas.TransportError{
			Command: cmdline,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}

// CaptureScreen takes a PNG screenshot via `screencap -p`. exec-out keeps the
// byte stream binary-clean, avoiding the CRLF mangling of `adb shell`.
func (b *Bridge) CaptureScreen(ctx context.Context) (schemas.Screenshot, error) {
	out, err := b.run(ctx, b.captureTimeout, "exec-out", "screencap", "-p")
	if err != nil {
		return schemas.Screenshot{}, err
	}
	return schemas.Screenshot{PNG: out, Timestamp: time.Now().UTC()}, nil
}

// CaptureLayout dumps the UI hierarchy via uiautomator and returns the raw
// XML. Dumping is flaky on some devices, so one retry is attempted after
// killing any stuck uiautomator process.
func (b *Bridge) CaptureLayout(ctx context.Context) (schemas.LayoutCapture, error) {
	// Dump and read in a single shell invocation to reduce adb overhead;
	// && ensures cat only runs if the dump succeeds.
	dumpCmd := fmt.Sprintf("uiautomator dump %s && cat %s", layoutDumpFile, layoutDumpFile)

	var out []byte
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			b.logger.Debug("Retrying layout dump after uiautomator cleanup")
			b.run(ctx, b.inputTimeout, "shell", "pkill", "uiautomator")
			time.Sleep(500 * time.Millisecond)
		}
		out, err = b.run(ctx, b.captureTimeout, "shell", dumpCmd)
		if err == nil && strings.Contains(string(out), "<?xml") {
			return schemas.LayoutCapture{RawXML: string(out), Timestamp: time.Now().UTC()}, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err == nil {
		err = &schemas.TransportError{
			Command: "uiautomator dump",
			Err:     fmt.Errorf("dump produced no XML document"),
		}
	}
	return schemas.LayoutCapture{}, err
}

// Tap dispatches a single tap at the given coordinate.
func (b *Bridge) Tap(ctx context.Context, x, y int) error {
	_, err := b.run(ctx, b.inputTimeout, "shell", "input", "tap",
		fmt.Sprint(x), fmt.Sprint(y))
	return err
}

// Swipe dispatches a swipe gesture. A non-positive duration falls back to the
// device default of 300ms.
func (b *Bridge) Swipe(ctx context.Context, startX, startY, endX, endY int, duration time.Duration) error {
	if duration <= 0 {
		duration = 300 * time.Millisecond
	}
	_, err := b.run(ctx, b.inputTimeout, "shell", "input", "swipe",
		fmt.Sprint(startX), fmt.Sprint(startY),
		fmt.Sprint(endX), fmt.Sprint(endY),
		fmt.Sprint(duration.Milliseconds()))
	return err
}

// InputText types a string into the currently focused field. `input text`
// cannot carry literal spaces, so they are escaped as %s.
func (b *Bridge) InputText(ctx context.Context, text string) error {
	escaped := strings.ReplaceAll(text, " ", "%s")
	_, err := b.run(ctx, b.inputTimeout, "shell", "input", "text", escaped)
	return err
}

// PressKey dispatches a raw Android keycode.
func (b *Bridge) PressKey(ctx context.Context, keycode int) error {
	_, err := b.run(ctx, b.inputTimeout, "shell", "input", "keyevent", fmt.Sprint(keycode))
	return err
}
