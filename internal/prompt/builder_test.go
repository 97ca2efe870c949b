// File: internal/prompt/builder_test.go
package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/session"
)

func snapshot() *schemas.DeviceSnapshot {
	return &schemas.DeviceSnapshot{
		Screen: schemas.Screenshot{PNG: []byte("fake-png")},
		Root: &schemas.Element{
			Type: "android.widget.FrameLayout",
			Children: []*schemas.Element{
				{
					Type:      "android.widget.Button",
					Text:      "Sign in",
					Clickable: true,
					Bounds:    schemas.Bounds{CenterX: 540, CenterY: 1200},
				},
			},
		},
	}
}

func TestBuild_InstructMode(t *testing.T) {
	b := New()
	parts := b.Build(ModeInstruct, "sign in to the app", snapshot(), nil, nil)

	assert.Contains(t, parts.System, `"type": "tap"`, "grammar enumerates the command set")
	assert.Empty(t, parts.Context, "no history, no context block")
	assert.Empty(t, parts.ErrorContext)
	assert.Contains(t, parts.State, "Instruction: sign in to the app")
	assert.Contains(t, parts.State, `Button text="Sign in" clickable center=(540,1200)`)
	assert.Equal(t, []byte("fake-png"), parts.Image)
}

func TestBuild_ContinueMode(t *testing.T) {
	b := New()
	parts := b.Build(ModeContinue, "sign in", snapshot(), nil, nil)

	assert.Contains(t, parts.System, "mid-task")
	assert.Contains(t, parts.State, "Original instruction: sign in")
}

func TestBuild_CorrectMode(t *testing.T) {
	b := New()
	failed := &FailedCommand{
		Command: schemas.Command{Type: schemas.CommandTap, X: schemas.IntPtr(5000), Y: schemas.IntPtr(1)},
		Error:   "tap coordinate outside screen",
	}
	parts := b.Build(ModeCorrect, "sign in", snapshot(), nil, failed)

	assert.Contains(t, parts.System, "command failed")
	assert.Contains(t, parts.ErrorContext, `"type":"tap"`)
	assert.Contains(t, parts.ErrorContext, "tap coordinate outside screen")
	assert.NotContains(t, parts.State, "Instruction: sign in", "correction rounds carry no instruction text")
	assert.Contains(t, parts.State, "corrective commands")
}

func TestBuild_HistoryBlock(t *testing.T) {
	b := New()
	history := []session.HistoryItem{
		{
			Instruction: "open settings",
			Response: session.CondensedResponse{
				Thinking: "found the gear icon",
				Commands: []session.CondensedCommand{{Type: schemas.CommandTap, IsTaskComplete: true}},
				Result:   "settings opened",
			},
		},
	}

	parts := b.Build(ModeContinue, "next", snapshot(), history, nil)

	require.NotEmpty(t, parts.Context)
	assert.Contains(t, parts.Context, `instruction: "open settings"`)
	assert.Contains(t, parts.Context, "found the gear icon")
	assert.Contains(t, parts.Context, "tap (completed task)")
	assert.Contains(t, parts.Context, "result: settings opened")
}

func TestBuild_HistoryCapped(t *testing.T) {
	b := New()
	var history []session.HistoryItem
	for i := 0; i < 6; i++ {
		history = append(history, session.HistoryItem{Instruction: fmt.Sprintf("step %d", i)})
	}

	parts := b.Build(ModeContinue, "next", snapshot(), history, nil)

	assert.NotContains(t, parts.Context, `"step 2"`)
	assert.Contains(t, parts.Context, `"step 3"`)
	assert.Contains(t, parts.Context, `"step 5"`)
}

func TestBuild_NilSnapshot(t *testing.T) {
	b := New()
	parts := b.Build(ModeInstruct, "do it", nil, nil, nil)

	assert.Contains(t, parts.State, "(no layout available)")
	assert.Nil(t, parts.Image)
}

func TestRenderElement_ChildCap(t *testing.T) {
	root := &schemas.Element{Type: "android.widget.LinearLayout"}
	for i := 0; i < 9; i++ {
		root.Children = append(root.Children, &schemas.Element{
			Type: "android.widget.TextView",
			Text: fmt.Sprintf("row %d", i),
		})
	}

	var sb strings.Builder
	renderElement(&sb, root, 0)
	out := sb.String()

	assert.Contains(t, out, `"row 4"`)
	assert.NotContains(t, out, `"row 5"`)
	assert.Contains(t, out, "(4 more omitted)")
}

func TestShortType(t *testing.T) {
	assert.Equal(t, "Button", shortType("android.widget.Button"))
	assert.Equal(t, "Custom", shortType("Custom"))
	assert.Equal(t, "View", shortType(""))
}
