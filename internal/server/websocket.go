// File: internal/server/websocket.go
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to loopback by default; origin checking is the
		// deployment's concern when that changes.
		return true
	},
}

// inboundMessage is the envelope clients send over the socket.
type inboundMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text,omitempty"`
	HistoryID      string `json:"history_id,omitempty"`
}

// outboundMessage is the envelope for every frame the hub emits.
type outboundMessage struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Payload        interface{} `json:"payload,omitempty"`
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	// Buffered channel of outbound messages.
	send chan []byte
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("Websocket client read error", zap.Error(err))
			}
			break
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Error("Failed to unmarshal incoming message", zap.Error(err), zap.ByteString("message", message))
			c.hub.send(c, outboundMessage{Type: "error", Payload: "malformed message"})
			continue
		}
		c.hub.handleMessage(c, msg)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush queued frames into the same websocket message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// InstructionRunner is the part of the agent the hub drives. Runs for one
// device must not overlap; the hub serializes them through a single worker.
type InstructionRunner interface {
	ExecuteInstruction(ctx context.Context, conversationID, instruction string) error
	ClearSession(conversationID string)
	History(conversationID string) interface{}
	HistoryByID(conversationID, historyID string) (interface{}, bool)
	DeleteHistory(conversationID, historyID string) bool
}

// instructionJob is one queued instruction awaiting the worker.
type instructionJob struct {
	conversationID string
	text           string
}

// Hub manages websocket clients and doubles as the orchestration loop's event
// sink: every loop event becomes a broadcast frame.
type Hub struct {
	runner InstructionRunner
	logger *zap.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	jobs       chan instructionJob
	mu         sync.RWMutex
}

var _ schemas.EventSink = (*Hub)(nil)

// NewHub creates a Hub. The instruction runner is bound separately because
// the hub is also the runner's event sink; BindRunner must be called before
// Run.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("ws_hub"),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		jobs:       make(chan instructionJob, 16),
		clients:    make(map[*Client]bool),
	}
}

// BindRunner attaches the instruction runner. Not safe to call after Run.
func (h *Hub) BindRunner(runner InstructionRunner) {
	h.runner = runner
}

// Run owns client registration and broadcast fan-out until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started.")
	defer h.logger.Info("WebSocket hub stopped.")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("WebSocket client connected.", zap.String("client_id", client.id))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client disconnected.", zap.String("client_id", client.id))
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// RunWorker drains the instruction queue one job at a time. The device
// transport is not multiplexed, so a single worker is the concurrency bound.
// A client disconnecting mid-run does not cancel the in-flight instruction;
// the device is left in whatever state the last dispatched command produced.
func (h *Hub) RunWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-h.jobs:
			if err := h.runner.ExecuteInstruction(ctx, job.conversationID, job.text); err != nil {
				h.logger.Warn("Instruction run ended with error",
					zap.String("conversation_id", job.conversationID), zap.Error(err))
			}
		}
	}
}

// handleMessage routes one inbound client frame.
func (h *Hub) handleMessage(c *Client, msg inboundMessage) {
	if msg.ConversationID == "" {
		msg.ConversationID = c.id
	}

	switch msg.Type {
	case "instruction":
		if msg.Text == "" {
			h.send(c, outboundMessage{Type: "error", ConversationID: msg.ConversationID, Payload: "instruction text is empty"})
			return
		}
		select {
		case h.jobs <- instructionJob{conversationID: msg.ConversationID, text: msg.Text}:
			h.send(c, outboundMessage{Type: "instruction_queued", ConversationID: msg.ConversationID})
		default:
			h.send(c, outboundMessage{Type: "error", ConversationID: msg.ConversationID, Payload: "instruction queue is full"})
		}
	case "clear_session":
		h.runner.ClearSession(msg.ConversationID)
		h.send(c, outboundMessage{Type: "session_cleared", ConversationID: msg.ConversationID})
	case "get_history":
		if msg.HistoryID != "" {
			item, ok := h.runner.HistoryByID(msg.ConversationID, msg.HistoryID)
			if !ok {
				h.send(c, outboundMessage{Type: "error", ConversationID: msg.ConversationID, Payload: "no history item with id " + msg.HistoryID})
				return
			}
			h.send(c, outboundMessage{Type: "history", ConversationID: msg.ConversationID, Payload: item})
			return
		}
		h.send(c, outboundMessage{
			Type:           "history",
			ConversationID: msg.ConversationID,
			Payload:        h.runner.History(msg.ConversationID),
		})
	case "delete_history":
		deleted := h.runner.DeleteHistory(msg.ConversationID, msg.HistoryID)
		h.send(c, outboundMessage{
			Type:           "history_deleted",
			ConversationID: msg.ConversationID,
			Payload:        map[string]interface{}{"id": msg.HistoryID, "deleted": deleted},
		})
	default:
		h.logger.Debug("Ignoring unknown message type", zap.String("type", msg.Type))
		h.send(c, outboundMessage{Type: "error", ConversationID: msg.ConversationID, Payload: "unknown message type: " + msg.Type})
	}
}

// send delivers a frame to a single client, dropping it if the client's
// buffer is full. Membership is checked under the hub lock: Run closes a
// client's channel only while holding it, so an already-evicted client is
// skipped instead of written to.
func (h *Hub) send(c *Client, msg outboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal outbound message", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Broadcast fans a frame out to every connected client.
func (h *Hub) Broadcast(msg outboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Broadcast channel full, dropping frame", zap.String("type", msg.Type))
	}
}

// HandleWS upgrades an HTTP request into a hub-managed websocket client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	client := &Client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// -- EventSink implementation: loop events become broadcast frames --

func (h *Hub) StateUpdate(conversationID, state string) {
	h.Broadcast(outboundMessage{Type: "state_update", ConversationID: conversationID, Payload: state})
}

func (h *Hub) InstructionStart(conversationID, instruction string) {
	h.Broadcast(outboundMessage{Type: "instruction_start", ConversationID: conversationID, Payload: instruction})
}

func (h *Hub) CommandStart(conversationID string, cmd schemas.Command) {
	h.Broadcast(outboundMessage{Type: "command_start", ConversationID: conversationID, Payload: cmd})
}

func (h *Hub) CommandResult(conversationID string, res schemas.CommandResult) {
	h.Broadcast(outboundMessage{Type: "command_result", ConversationID: conversationID, Payload: res})
}

func (h *Hub) InstructionResponse(conversationID string, resp schemas.AIResponse) {
	h.Broadcast(outboundMessage{Type: "instruction_response", ConversationID: conversationID, Payload: resp})
}

func (h *Hub) InstructionResponseUpdate(conversationID string, resp schemas.AIResponse) {
	h.Broadcast(outboundMessage{Type: "instruction_response_update", ConversationID: conversationID, Payload: resp})
}

func (h *Hub) TaskResult(conversationID, instruction, result string) {
	h.Broadcast(outboundMessage{
		Type:           "task_result",
		ConversationID: conversationID,
		Payload:        map[string]string{"instruction": instruction, "result": result},
	})
}

func (h *Hub) ErrorCorrectionStart(conversationID string) {
	h.Broadcast(outboundMessage{Type: "error_correction_start", ConversationID: conversationID})
}

func (h *Hub) ErrorCorrectionEnd(conversationID string, resp schemas.AIResponse) {
	h.Broadcast(outboundMessage{Type: "error_correction_end", ConversationID: conversationID, Payload: resp})
}

func (h *Hub) ErrorNotice(conversationID, message string) {
	h.Broadcast(outboundMessage{Type: "error_notice", ConversationID: conversationID, Payload: message})
}
