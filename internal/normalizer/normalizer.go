// File: internal/normalizer/normalizer.go

// Package normalizer turns raw model output into a canonical AIResponse. The
// model inconsistently follows the requested schema, so normalization repairs
// known parameter-naming drift instead of rejecting structurally-close
// responses. The transform is pure; all I/O happens in the caller.
package normalizer

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// placeholderThinking fills the thinking field when the model omits it.
const placeholderThinking = "(no reasoning provided)"

var (
	// Regex definitions use \x60 for backticks because Go raw strings
	// cannot contain backticks.

	// fencedJSONRegex extracts a JSON object wrapped in a markdown block.
	fencedJSONRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*?})\\s*\x60\x60\x60")

	// Loose free-text section labels used by the last-resort extraction.
	looseThinkingRegex = regexp.MustCompile(`(?is)thinking\s*[:\-]\s*(.+?)(?:\n\n|\ncommand|\z)`)
	looseCommandRegex  = regexp.MustCompile(`(?is)command[s]?\s*[:\-]\s*(.+?)(?:\n\n|\z)`)
)

// aliasRule maps a legacy field name the model drifts into onto its canonical
// counterpart. Rules apply only when the canonical field is absent.
type aliasRule struct {
	legacy    string
	canonical string
}

// fieldAliases is the enumerated repair table for top-level command fields.
var fieldAliases = []aliasRule{
	{legacy: "action", canonical: "type"},
}

// typeAliases maps drifting tag values onto grammar tags.
var typeAliases = map[string]string{
	"click": string(schemas.CommandTap),
	"press": string(schemas.CommandKey),
}

// rawResponse is the loose intermediate shape parsed before repair. Commands
// stay as maps so the repair rules can act on whatever the model produced.
type rawResponse struct {
	Thinking       string                   `json:"thinking"`
	Commands       []map[string]interface{} `json:"commands"`
	Result         string                   `json:"result"`
	IsTaskComplete *bool                    `json:"isTaskComplete"`
	Error          string                   `json:"error"`
}

// Normalize converts raw model text into a canonical AIResponse. It never
// fails: unparsable input degrades through free-text extraction down to an
// empty-command response with Error set.
func Normalize(raw string) *schemas.AIResponse {
	extracted, err := extractJSON(raw)
	if err != nil {
		return finalize(extractLoose(raw))
	}

	var parsed rawResponse
	if err := json.Unmarshal([]byte(extracted), &parsed); err != nil {
		return finalize(extractLoose(raw))
	}

	resp := &schemas.AIResponse{
		Thinking:       parsed.Thinking,
		Result:         parsed.Result,
		IsTaskComplete: parsed.IsTaskComplete,
		Error:          parsed.Error,
		Commands:       make([]schemas.Command, 0, len(parsed.Commands)),
	}
	for _, rawCmd := range parsed.Commands {
		resp.Commands = append(resp.Commands, repairCommand(rawCmd))
	}
	return finalize(resp)
}

// extractJSON pulls a JSON object out of model text: a fenced code block
// first, otherwise the outermost {...} span.
func extractJSON(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	if m := fencedJSONRegex.FindStringSubmatch(raw); len(m) > 1 {
		return strings.TrimSpace(m[1]), nil
	}

	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first != -1 && last > first {
		return raw[first : last+1], nil
	}
	return "", schemas.ErrUnparsableResponse
}

// repairCommand applies the enumerated alias and coordinate-shape repairs to
// one loose command map, then constructs the typed variant. Unknown tags pass
// through untouched; the dispatcher rejects them.
func repairCommand(m map[string]interface{}) schemas.Command {
	// 1. Field aliases (only when the canonical field is absent).
	for _, rule := range fieldAliases {
		if _, hasCanonical := m[rule.canonical]; !hasCanonical {
			if v, hasLegacy := m[rule.legacy]; hasLegacy {
				m[rule.canonical] = v
			}
		}
		delete(m, rule.legacy)
	}

	// 2. Tag-value aliases.
	if t, ok := m["type"].(string); ok {
		if canonical, drifted := typeAliases[strings.ToLower(t)]; drifted {
			m["type"] = canonical
		} else {
			m["type"] = strings.ToLower(t)
		}
	}

	// 3. Coordinate-shape repairs.
	switch m["type"] {
	case string(schemas.CommandTap):
		if _, has := m["x"]; !has {
			if pair := intSlice(m["coordinate"]); len(pair) >= 2 {
				m["x"], m["y"] = pair[0], pair[1]
			}
		}
	case string(schemas.CommandSwipe):
		if _, has := m["startX"]; !has {
			first := intSlice(m["coordinate"])
			second := intSlice(m["coordinate2"])
			switch {
			case len(first) >= 4:
				m["startX"], m["startY"], m["endX"], m["endY"] = first[0], first[1], first[2], first[3]
			case len(first) >= 2 && len(second) >= 2:
				m["startX"], m["startY"] = first[0], first[1]
				m["endX"], m["endY"] = second[0], second[1]
			}
		}
	}
	delete(m, "coordinate")
	delete(m, "coordinate2")

	// 4. Construct the typed variant via a JSON round-trip so nested
	// composite commands get the same treatment on unmarshal.
	var cmd schemas.Command
	if buf, err := json.Marshal(m); err == nil {
		// Best effort: fields that still do not fit the schema are dropped.
		_ = json.Unmarshal(buf, &cmd)
	}

	// Composite sub-commands carry the same drift and repair rules.
	if rawSubs, ok := m["commands"].([]interface{}); ok && cmd.Type == schemas.CommandComposite {
		cmd.Commands = cmd.Commands[:0]
		for _, rawSub := range rawSubs {
			if subMap, ok := rawSub.(map[string]interface{}); ok {
				cmd.Commands = append(cmd.Commands, repairCommand(subMap))
			}
		}
	}
	return cmd
}

// intSlice coerces a JSON array value into ints, returning nil for anything
// that is not a numeric array.
func intSlice(v interface{}) []int {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(arr))
	for _, item := range arr {
		switch n := item.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		default:
			return nil
		}
	}
	return out
}

// extractLoose is the last-resort recovery for free-text responses: it scrapes
// loosely-labeled thinking/command sections and maps any recovered command
// text into a single text command. Total failure yields an empty-command
// response with Error set.
func extractLoose(raw string) *schemas.AIResponse {
	resp := &schemas.AIResponse{Commands: []schemas.Command{}}

	if m := looseThinkingRegex.FindStringSubmatch(raw); len(m) > 1 {
		resp.Thinking = strings.TrimSpace(m[1])
	}
	if m := looseCommandRegex.FindStringSubmatch(raw); len(m) > 1 {
		if text := strings.TrimSpace(m[1]); text != "" {
			resp.Commands = append(resp.Commands, schemas.Command{
				Type: schemas.CommandText,
				Text: text,
			})
		}
	}

	if resp.Thinking == "" && len(resp.Commands) == 0 {
		resp.Error = fmt.Sprintf("%v", schemas.ErrUnparsableResponse)
	}
	return resp
}

// finalize applies the invariants every normalized response must hold:
// thinking present, commands non-nil, per-command completion defaulted from
// the response flag, and exactly one final-command marker on the last entry.
func finalize(resp *schemas.AIResponse) *schemas.AIResponse {
	if resp.Thinking == "" {
		resp.Thinking = placeholderThinking
	}
	if resp.Commands == nil {
		resp.Commands = []schemas.Command{}
	}

	for i := range resp.Commands {
		cmd := &resp.Commands[i]
		if cmd.IsTaskComplete == nil && resp.IsTaskComplete != nil {
			v := *resp.IsTaskComplete
			cmd.IsTaskComplete = &v
		}
		// The last command is always the batch's terminal marker, no matter
		// what the model said.
		cmd.IsFinalCommand = i == len(resp.Commands)-1
	}
	return resp
}
