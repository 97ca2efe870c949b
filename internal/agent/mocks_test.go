// File: internal/agent/mocks_test.go
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

const testLayout = `<?xml version='1.0' encoding='UTF-8'?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" bounds="[0,0][1080,1920]" clickable="false">
    <node class="android.widget.Button" bounds="[100,200][300,300]" clickable="true" text="OK"/>
  </node>
</hierarchy>`

// transportCall records one transport invocation for order assertions.
type transportCall struct {
	method string
	args   []interface{}
}

// mockTransport is a scriptable schemas.DeviceTransport. failOn makes the
// named method fail a given number of times before succeeding again.
type mockTransport struct {
	mu     sync.Mutex
	calls  []transportCall
	failOn map[string]int
}

var _ schemas.DeviceTransport = (*mockTransport)(nil)

func newMockTransport() *mockTransport {
	return &mockTransport{failOn: make(map[string]int)}
}

func (m *mockTransport) record(method string, args ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, transportCall{method: method, args: args})
	if n := m.failOn[method]; n > 0 {
		m.failOn[method] = n - 1
		return &schemas.TransportError{
			Command: method,
			Stderr:  "injected failure",
			Err:     fmt.Errorf("injected %s failure", method),
		}
	}
	return nil
}

func (m *mockTransport) callsTo(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (m *mockTransport) callOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.method
	}
	return out
}

func (m *mockTransport) CaptureScreen(ctx context.Context) (schemas.Screenshot, error) {
	if err := m.record("CaptureScreen"); err != nil {
		return schemas.Screenshot{}, err
	}
	return schemas.Screenshot{PNG: []byte("png"), Timestamp: time.Now().UTC()}, nil
}

func (m *mockTransport) CaptureLayout(ctx context.Context) (schemas.LayoutCapture, error) {
	if err := m.record("CaptureLayout"); err != nil {
		return schemas.LayoutCapture{}, err
	}
	return schemas.LayoutCapture{RawXML: testLayout, Timestamp: time.Now().UTC()}, nil
}

func (m *mockTransport) Tap(ctx context.Context, x, y int) error {
	return m.record("Tap", x, y)
}

func (m *mockTransport) Swipe(ctx context.Context, startX, startY, endX, endY int, duration time.Duration) error {
	return m.record("Swipe", startX, startY, endX, endY, duration)
}

func (m *mockTransport) InputText(ctx context.Context, text string) error {
	return m.record("InputText", text)
}

func (m *mockTransport) PressKey(ctx context.Context, keycode int) error {
	return m.record("PressKey", keycode)
}

// mockLLM returns scripted responses in order, then repeats the last one.
type mockLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

var _ schemas.LLMClient = (*mockLLM)(nil)

func (m *mockLLM) GenerateResponse(ctx context.Context, parts schemas.PromptParts) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "{}", nil
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// recordingSink captures the event stream for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	states []string
}

var _ schemas.EventSink = (*recordingSink)(nil)

func (s *recordingSink) add(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) has(event string) bool {
	for _, e := range s.names() {
		if e == event {
			return true
		}
	}
	return false
}

func (s *recordingSink) StateUpdate(_, state string) {
	s.mu.Lock()
	s.states = append(s.states, state)
	s.mu.Unlock()
}
func (s *recordingSink) InstructionStart(_, _ string)                      { s.add("instruction_start") }
func (s *recordingSink) CommandStart(_ string, _ schemas.Command)          { s.add("command_start") }
func (s *recordingSink) CommandResult(_ string, _ schemas.CommandResult)   { s.add("command_result") }
func (s *recordingSink) InstructionResponse(_ string, _ schemas.AIResponse) {
	s.add("instruction_response")
}
func (s *recordingSink) InstructionResponseUpdate(_ string, _ schemas.AIResponse) {
	s.add("instruction_response_update")
}
func (s *recordingSink) TaskResult(_, _, _ string)                       { s.add("task_result") }
func (s *recordingSink) ErrorCorrectionStart(_ string)                   { s.add("error_correction_start") }
func (s *recordingSink) ErrorCorrectionEnd(_ string, _ schemas.AIResponse) { s.add("error_correction_end") }
func (s *recordingSink) ErrorNotice(_, _ string)                         { s.add("error_notice") }
