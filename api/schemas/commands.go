// File: api/schemas/commands.go
package schemas

import "fmt"

// CommandType enumerates the closed set of device actions the model may
// request. The normalizer guarantees every command carries one of these tags
// before it reaches the dispatcher.
type CommandType string

const (
	CommandTap       CommandType = "tap"        // Tap at an absolute coordinate.
	CommandSwipe     CommandType = "swipe"      // Swipe between two coordinates.
	CommandText      CommandType = "text"       // Type a string into the focused field.
	CommandKey       CommandType = "key"        // Press a raw Android keycode.
	CommandWait      CommandType = "wait"       // Pure delay, no device interaction.
	CommandBack      CommandType = "back"       // KEYCODE_BACK.
	CommandHome      CommandType = "home"       // KEYCODE_HOME.
	CommandAppSwitch CommandType = "app_switch" // KEYCODE_APP_SWITCH.
	CommandComposite CommandType = "composite"  // Ordered sequence of sub-commands.
)

// Android input keycodes used by the fixed-key command variants.
const (
	KeycodeHome      = 3
	KeycodeBack      = 4
	KeycodeAppSwitch = 187
)

// Command is the tagged union of all executable device actions. Coordinate
// and keycode fields are pointers so the normalizer can distinguish "absent"
// from a legitimate zero value.
type Command struct {
	Type CommandType `json:"type"`

	// tap
	X *int `json:"x,omitempty"`
	Y *int `json:"y,omitempty"`

	// swipe
	StartX *int `json:"startX,omitempty"`
	StartY *int `json:"startY,omitempty"`
	EndX   *int `json:"endX,omitempty"`
	EndY   *int `json:"endY,omitempty"`

	// swipe / wait duration in milliseconds
	Duration *int `json:"duration,omitempty"`

	// text
	Text string `json:"text,omitempty"`

	// key
	Keycode *int `json:"keycode,omitempty"`

	// composite
	Commands []Command `json:"commands,omitempty"`

	// IsTaskComplete marks the command whose successful execution finishes
	// the user's task. Nil means the model left it unset; the normalizer
	// defaults it from the response-level flag.
	IsTaskComplete *bool `json:"isTaskComplete,omitempty"`

	// IsFinalCommand is true on exactly the last command of a normalized
	// batch. The normalizer computes it, overriding any model-supplied value.
	IsFinalCommand bool `json:"isFinalCommand"`
}

// Complete reports the task-completion flag, treating nil as false.
func (c *Command) Complete() bool {
	return c.IsTaskComplete != nil && *c.IsTaskComplete
}

// Validate checks that the fields required by the command's tag are present.
// It returns ErrUnknownCommand for an unrecognized tag and a wrapped
// ErrInvalidCommand when a required field is missing.
func (c *Command) Validate() error {
	switch c.Type {
	case CommandTap:
		if c.X == nil || c.Y == nil {
			return fmt.Errorf("%w: tap requires x and y", ErrInvalidCommand)
		}
	case CommandSwipe:
		if c.StartX == nil || c.StartY == nil || c.EndX == nil || c.EndY == nil {
			return fmt.Errorf("%w: swipe requires startX, startY, endX and endY", ErrInvalidCommand)
		}
	case CommandText:
		if c.Text == "" {
			return fmt.Errorf("%w: text command requires a non-empty text field", ErrInvalidCommand)
		}
	case CommandKey:
		if c.Keycode == nil {
			return fmt.Errorf("%w: key command requires a keycode", ErrInvalidCommand)
		}
	case CommandWait, CommandBack, CommandHome, CommandAppSwitch:
		// No required parameters.
	case CommandComposite:
		if len(c.Commands) == 0 {
			return fmt.Errorf("%w: composite command requires a non-empty command list", ErrInvalidCommand)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
	}
	return nil
}

// IntPtr and BoolPtr are small helpers for building commands literally,
// used heavily by tests and the normalizer's repair step.
func IntPtr(v int) *int    { return &v }
func BoolPtr(v bool) *bool { return &v }
