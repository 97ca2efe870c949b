// File: api/schemas/responses.go
package schemas

import "time"

// AIResponse is the normalized form of one model round-trip. The normalizer
// guarantees Thinking is never empty and Commands is never nil.
type AIResponse struct {
	Thinking       string    `json:"thinking"`
	Commands       []Command `json:"commands"`
	Result         string    `json:"result,omitempty"`
	IsTaskComplete *bool     `json:"isTaskComplete,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Complete reports the response-level completion flag, treating nil as false.
func (r *AIResponse) Complete() bool {
	return r.IsTaskComplete != nil && *r.IsTaskComplete
}

// CommandResult reports the outcome of dispatching a single command. For a
// composite command, Results holds the per-sub-command outcomes in execution
// order, ending with the first failure if one occurred.
type CommandResult struct {
	Command Command         `json:"command"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Results []CommandResult `json:"results,omitempty"`
}

// Screenshot is a point-in-time capture of the device's visual state.
type Screenshot struct {
	PNG       []byte    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// LayoutCapture is a point-in-time capture of the device's UI structure, as
// raw uiautomator XML.
type LayoutCapture struct {
	RawXML    string    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceSnapshot couples the visual and structural captures taken at the top
// of each control-loop turn with the parsed element tree.
type DeviceSnapshot struct {
	Screen Screenshot
	Layout LayoutCapture
	Root   *Element
}

// PromptParts is the structured prompt assembled by the prompt builder and
// consumed by the LLM gateway. Context and ErrorContext are optional blocks;
// State always carries the rendered element tree plus the instruction.
type PromptParts struct {
	System       string
	Context      string
	ErrorContext string
	State        string
	// Image is the current screenshot as PNG bytes, attached to the user
	// message as inline data when present.
	Image []byte
}
