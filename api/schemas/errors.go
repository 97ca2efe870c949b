// File: api/schemas/errors.go
package schemas

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across components. Callers branch with errors.Is.
var (
	// ErrMalformedCapture is returned by the layout parser when the raw
	// capture contains no root node at all.
	ErrMalformedCapture = errors.New("layout capture has no root node")

	// ErrUnparsableResponse is returned by JSON extraction when neither a
	// fenced block nor a brace span can be found in the model output. The
	// normalizer recovers from it internally via free-text extraction.
	ErrUnparsableResponse = errors.New("no JSON structure found in model response")

	// ErrUnknownCommand is returned for a command tag outside the grammar.
	ErrUnknownCommand = errors.New("unknown command type")

	// ErrInvalidCommand is returned when a command is missing a required
	// field for its tag.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrConfiguration is returned when required endpoint, credential or
	// model configuration is absent at first use.
	ErrConfiguration = errors.New("missing required configuration")

	// ErrMaxTurnsExceeded terminates a control loop whose continuation
	// rounds hit the configured ceiling.
	ErrMaxTurnsExceeded = errors.New("continuation round limit exceeded")
)

// GatewayError reports a failed model inference round-trip. StatusCode is
// zero when no HTTP response was received.
type GatewayError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm gateway: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("llm gateway: %v", e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// TransportError reports a failed device command, carrying the underlying
// shell command and its stderr for diagnosis.
type TransportError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("device transport: %s: %v (stderr: %s)", e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("device transport: %s: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
