// File: internal/prompt/builder.go

// Package prompt assembles the structured multi-part prompts sent to the
// model: a mode-specific system prompt enumerating the command grammar, an
// optional context block from session history, an optional error block for
// correction rounds, and a current-state block rendering the element tree.
package prompt

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Mode selects the system prompt and block layout for one inference round.
type Mode string

const (
	// ModeInstruct starts execution of a fresh user instruction.
	ModeInstruct Mode = "instruct"
	// ModeContinue re-assesses the screen after an incomplete batch.
	ModeContinue Mode = "continue"
	// ModeCorrect asks for corrective commands after a dispatch failure.
	ModeCorrect Mode = "correct"
)

// Truncation bounds. They exist purely to keep the prompt within the model's
// context budget while preserving the most decision-relevant signal.
const (
	maxHistoryItems  = 3
	maxChildrenShown = 5
	maxThinkingChars = 200
)

// FailedCommand carries the dispatch failure a correction round reasons over.
type FailedCommand struct {
	Command schemas.Command
	Error   string
}

// Builder produces PromptParts for the orchestration loop.
type Builder struct{}

// New creates a Builder.
func New() *Builder { return &Builder{} }

// Build assembles the prompt for one inference round. snapshot must carry a
// parsed element tree; history and failed may be nil.
func (b *Builder) Build(mode Mode, instruction string, snapshot *schemas.DeviceSnapshot, history []session.HistoryItem, failed *FailedCommand) schemas.PromptParts {
	parts := schemas.PromptParts{
		System: systemPrompt(mode),
	}

	if len(history) > 0 {
		parts.Context = historyBlock(history)
	}
	if mode == ModeCorrect && failed != nil {
		parts.ErrorContext = errorBlock(failed)
	}

	parts.State = stateBlock(mode, instruction, snapshot)
	if snapshot != nil {
		parts.Image = snapshot.Screen.PNG
	}
	return parts
}

// grammarPrompt enumerates the closed command set and the required response
// shape. It is shared by all modes.
const grammarPrompt = `You control an Android device. Respond with a single JSON object of this exact shape:

{
  "thinking": "step-by-step reasoning about the current screen and the goal",
  "commands": [ ...one or more commands, executed strictly in order... ],
  "isTaskComplete": true|false,
  "result": "summary of the outcome, only when isTaskComplete is true"
}

Available commands:
- {"type": "tap", "x": <int>, "y": <int>} - tap at an absolute pixel coordinate
- {"type": "swipe", "startX": <int>, "startY": <int>, "endX": <int>, "endY": <int>, "duration": <ms, optional>}
- {"type": "text", "text": "<string>"} - type into the focused input field
- {"type": "key", "keycode": <int>} - press a raw Android keycode
- {"type": "back"} | {"type": "home"} | {"type": "app_switch"} - fixed navigation keys
- {"type": "wait", "duration": <ms, optional>} - pause without touching the device
- {"type": "composite", "commands": [...]} - ordered sequence executed as a unit

Mark a command with "isTaskComplete": true only when its success finishes the user's task.
Prefer tapping the center point of elements listed in the current screen state.
Respond with only the JSON object, no surrounding prose.`

// systemPrompt returns the fixed per-mode system prompt.
func systemPrompt(mode Mode) string {
	switch mode {
	case ModeContinue:
		return grammarPrompt + `

You are mid-task: earlier commands have already executed but the task is not complete. Re-assess the current screen against the original instruction and decide the next commands. If the screen shows the task is already done, return zero commands with "isTaskComplete": true and a result.`
	case ModeCorrect:
		return grammarPrompt + `

A previously issued command failed to execute. Analyze the error and the current screen, then respond with corrective commands that recover progress. If no recovery is possible, return zero commands and explain why in "thinking".`
	default:
		return grammarPrompt + `

Execute the user's instruction. Break it into as few commands as the current screen allows; further screens will be shown to you after these commands run.`
	}
}

// historyBlock summarizes the most recent session history, oldest first.
func historyBlock(history []session.HistoryItem) string {
	if len(history) > maxHistoryItems {
		history = history[len(history)-maxHistoryItems:]
	}

	var sb strings.Builder
	sb.WriteString("Previous actions in this session, oldest first:\n")
	for i, item := range history {
		fmt.Fprintf(&sb, "%d. instruction: %q\n", i+1, item.Instruction)
		if thinking := truncate(item.Response.Thinking, maxThinkingChars); thinking != "" {
			fmt.Fprintf(&sb, "   reasoning: %s\n", thinking)
		}
		if len(item.Response.Commands) > 0 {
			kinds := make([]string, 0, len(item.Response.Commands))
			for _, cmd := range item.Response.Commands {
				kind := string(cmd.Type)
				if cmd.IsTaskComplete {
					kind += " (completed task)"
				}
				kinds = append(kinds, kind)
			}
			fmt.Fprintf(&sb, "   commands: %s\n", strings.Join(kinds, ", "))
		}
		if item.Response.Result != "" {
			fmt.Fprintf(&sb, "   result: %s\n", item.Response.Result)
		}
	}
	return sb.String()
}

// errorBlock renders the failed command and its error for correction rounds.
func errorBlock(failed *FailedCommand) string {
	cmdJSON, err := json.Marshal(failed.Command)
	if err != nil {
		cmdJSON = []byte(fmt.Sprintf("%q", failed.Command.Type))
	}
	return fmt.Sprintf("The following command failed:\n%s\nError: %s", cmdJSON, failed.Error)
}

// stateBlock renders the current element tree plus the instruction text.
// Correction rounds carry no user instruction; the error block stands in.
func stateBlock(mode Mode, instruction string, snapshot *schemas.DeviceSnapshot) string {
	var sb strings.Builder
	sb.WriteString("Current screen elements:\n")
	if snapshot != nil && snapshot.Root != nil {
		renderElement(&sb, snapshot.Root, 0)
	} else {
		sb.WriteString("(no layout available)\n")
	}

	switch mode {
	case ModeCorrect:
		sb.WriteString("\nDecide the corrective commands for the failure described above.")
	case ModeContinue:
		fmt.Fprintf(&sb, "\nOriginal instruction: %s", instruction)
	default:
		fmt.Fprintf(&sb, "\nInstruction: %s", instruction)
	}
	return sb.String()
}

// renderElement writes one element and its children, capping children per
// node with an explicit omission marker to bound prompt size on deep trees.
func renderElement(sb *strings.Builder, el *schemas.Element, indent int) {
	pad := strings.Repeat("  ", indent)

	sb.WriteString(pad)
	sb.WriteString("- ")
	sb.WriteString(shortType(el.Type))
	if el.Text != "" {
		fmt.Fprintf(sb, " text=%q", el.Text)
	}
	if el.AccessibilityLabel != "" {
		fmt.Fprintf(sb, " desc=%q", el.AccessibilityLabel)
	}
	if el.ResourceID != "" {
		fmt.Fprintf(sb, " id=%s", el.ResourceID)
	}
	if el.Clickable {
		fmt.Fprintf(sb, " clickable center=(%d,%d)", el.Bounds.CenterX, el.Bounds.CenterY)
	}
	sb.WriteByte('\n')

	shown := el.Children
	omitted := 0
	if len(shown) > maxChildrenShown {
		omitted = len(shown) - maxChildrenShown
		shown = shown[:maxChildrenShown]
	}
	for _, child := range shown {
		renderElement(sb, child, indent+1)
	}
	if omitted > 0 {
		fmt.Fprintf(sb, "%s  (%d more omitted)\n", pad, omitted)
	}
}

// shortType trims the package prefix off an Android class name.
func shortType(t string) string {
	if i := strings.LastIndex(t, "."); i != -1 && i < len(t)-1 {
		return t[i+1:]
	}
	if t == "" {
		return "View"
	}
	return t
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
