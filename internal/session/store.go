// File: internal/session/store.go

// Package session keeps the bounded, per-conversation memory of prior
// instructions and condensed model responses. Only lightweight references to
// captures are retained, never the raw payloads, so memory stays bounded no
// matter how long a conversation runs. Nothing here survives the process.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// thinkingLimit bounds the characters of model reasoning kept per history
// item; full thinking text is only ever surfaced live, never replayed.
const thinkingLimit = 200

// CaptureRef points at a capture by timestamp only.
type CaptureRef struct {
	Timestamp time.Time `json:"timestamp"`
}

// CondensedCommand keeps the two facts about an executed command that matter
// for future prompts: what kind it was and whether it claimed completion.
type CondensedCommand struct {
	Type           schemas.CommandType `json:"type"`
	IsTaskComplete bool                `json:"isTaskComplete"`
}

// CondensedResponse is the stripped-down record of one model round-trip.
type CondensedResponse struct {
	Thinking       string             `json:"thinking"`
	Commands       []CondensedCommand `json:"commands"`
	Result         string             `json:"result,omitempty"`
	IsTaskComplete bool               `json:"isTaskComplete"`
}

// HistoryItem is one entry of a conversation's bounded history.
type HistoryItem struct {
	ID            string            `json:"id"`
	Instruction   string            `json:"instruction"`
	Timestamp     time.Time         `json:"timestamp"`
	ScreenshotRef *CaptureRef       `json:"screenshotRef,omitempty"`
	LayoutRef     *CaptureRef       `json:"layoutRef,omitempty"`
	Response      CondensedResponse `json:"response"`
}

// Operation records the most recent instruction for a conversation.
type Operation struct {
	Instruction string    `json:"instruction"`
	Timestamp   time.Time `json:"timestamp"`
}

// Condense builds a HistoryItem from one completed model round-trip.
func Condense(instruction string, snapshot *schemas.DeviceSnapshot, resp *schemas.AIResponse) HistoryItem {
	item := HistoryItem{
		ID:          uuid.NewString(),
		Instruction: instruction,
		Timestamp:   time.Now().UTC(),
		Response: CondensedResponse{
			Thinking:       truncate(resp.Thinking, thinkingLimit),
			Result:         resp.Result,
			IsTaskComplete: resp.Complete(),
			Commands:       make([]CondensedCommand, 0, len(resp.Commands)),
		},
	}
	for _, cmd := range resp.Commands {
		item.Response.Commands = append(item.Response.Commands, CondensedCommand{
			Type:           cmd.Type,
			IsTaskComplete: cmd.Complete(),
		})
	}
	if snapshot != nil {
		item.ScreenshotRef = &CaptureRef{Timestamp: snapshot.Screen.Timestamp}
		item.LayoutRef = &CaptureRef{Timestamp: snapshot.Layout.Timestamp}
	}
	return item
}

// Context is the session memory for one conversation. All methods are safe
// for concurrent use.
type Context struct {
	mu      sync.Mutex
	limit   int
	history []HistoryItem
	lastOp  *Operation
}

// Append adds a history item, evicting the oldest entry once the bound is
// reached (FIFO).
func (c *Context) Append(item HistoryItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, item)
	if len(c.history) > c.limit {
		c.history = c.history[len(c.history)-c.limit:]
	}
}

// History returns a copy of the full history, oldest first.
func (c *Context) History() []HistoryItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]HistoryItem, len(c.history))
	copy(out, c.history)
	return out
}

// Recent returns up to n of the most recent history items, oldest first.
func (c *Context) Recent(n int) []HistoryItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.history) {
		n = len(c.history)
	}
	out := make([]HistoryItem, n)
	copy(out, c.history[len(c.history)-n:])
	return out
}

// HistoryByID returns one history item. Raw captures are never stored, so the
// result is always safe to hand to the presentation layer.
func (c *Context) HistoryByID(id string) (HistoryItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range c.history {
		if item.ID == id {
			return item, true
		}
	}
	return HistoryItem{}, false
}

// DeleteHistoryByID removes one history item, reporting whether it existed.
func (c *Context) DeleteHistoryByID(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, item := range c.history {
		if item.ID == id {
			c.history = append(c.history[:i], c.history[i+1:]...)
			return true
		}
	}
	return false
}

// SetLastOperation records the instruction currently being executed.
func (c *Context) SetLastOperation(instruction string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastOp = &Operation{Instruction: instruction, Timestamp: time.Now().UTC()}
}

// LastOperation returns the most recent operation, if any.
func (c *Context) LastOperation() (Operation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastOp == nil {
		return Operation{}, false
	}
	return *c.lastOp, true
}

// Len reports the current history length.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// Clear drops all history and the last operation.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.lastOp = nil
}

// Store owns the per-conversation contexts, keyed by conversation ID, with
// explicit create/get/evict operations.
type Store struct {
	mu       sync.RWMutex
	limit    int
	sessions map[string]*Context
}

// NewStore creates a Store whose contexts keep at most limit history items.
func NewStore(limit int) *Store {
	return &Store{
		limit:    limit,
		sessions: make(map[string]*Context),
	}
}

// Get returns the context for a conversation, if it exists.
func (s *Store) Get(conversationID string) (*Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.sessions[conversationID]
	return ctx, ok
}

// GetOrCreate returns the context for a conversation, creating an empty one
// on first use.
func (s *Store) GetOrCreate(conversationID string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx, ok := s.sessions[conversationID]; ok {
		return ctx
	}
	ctx := &Context{limit: s.limit}
	s.sessions[conversationID] = ctx
	return ctx
}

// Evict removes a conversation's context entirely.
func (s *Store) Evict(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, conversationID)
}

// Len reports the number of live conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
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
