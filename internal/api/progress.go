package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/testcraft/internal/flow"
	"github.com/ashureev/testcraft/internal/identity"
)

const (
	wsWriteTimeout  = 10 * time.Second
	stageQueueDepth = 16
)

// ProgressHandler runs a generate flow over a websocket and streams
// stage events while it runs.
type ProgressHandler struct {
	flows         *flow.Service
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewProgressHandler creates a websocket progress handler.
func NewProgressHandler(flows *flow.Service, allowedOrigin string, isDev bool, logger *slog.Logger) *ProgressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressHandler{flows: flows, allowedOrigin: allowedOrigin, isDev: isDev, logger: logger}
}

// wsMessage is both the client request and every server frame.
type wsMessage struct {
	Type string `json:"type"`

	// Client request fields.
	Description        string `json:"description,omitempty"`
	Requirements       string `json:"requirements,omitempty"`
	CustomInstructions string `json:"customInstructions,omitempty"`

	// Server frame fields.
	Stage flow.Stage        `json:"stage,omitempty"`
	Data  *generateResponse `json:"data,omitempty"`
	Error *ErrorBody        `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "done"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx := r.Context()
	req, ok := h.readRequest(ctx, ws, userID)
	if !ok {
		return
	}

	// Client frames after the request are ignored; a client close cancels the flow.
	ctx = ws.CloseRead(ctx)

	stages := newStageQueue(stageQueueDepth, func(s flow.Stage) error {
		return h.writeJSON(ctx, ws, wsMessage{Type: "stage", Stage: s})
	}, h.logger)
	res, err := h.flows.Generate(ctx, flow.GenerateRequest{
		UserID:         userID,
		Background:     req.Description,
		Requirements:   req.Requirements,
		AdditionalInfo: req.CustomInstructions,
		Progress:       stages.Push,
	})
	// Queued stage frames go out before the final frame.
	stages.Close()
	if err != nil {
		_, body := errorBodyFor(err, nil)
		if body.Type == "" {
			h.logger.Error("WebSocket generate failed", "user_id", userID, "error", err)
		}
		if werr := h.writeJSON(ctx, ws, wsMessage{Type: "error", Error: &body}); werr != nil {
			h.logger.Debug("Failed to send error frame", "error", werr)
		}
		return
	}

	resp := newGenerateResponse(res)
	if err := h.writeJSON(ctx, ws, wsMessage{Type: "result", Data: &resp}); err != nil {
		h.logger.Debug("Failed to send result frame", "error", err)
	}
}

// readRequest waits for the single generate request, answering pings.
func (h *ProgressHandler) readRequest(ctx context.Context, ws *websocket.Conn, userID string) (wsMessage, bool) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return wsMessage{}, false
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendBadRequest(ctx, ws, "Invalid message")
			return wsMessage{}, false
		}

		switch msg.Type {
		case "ping":
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		case "generate":
			if msg.Description == "" || msg.Requirements == "" {
				h.sendBadRequest(ctx, ws, "Description and requirements are required")
				return wsMessage{}, false
			}
			return msg, true
		default:
			h.sendBadRequest(ctx, ws, "Unknown message type")
			return wsMessage{}, false
		}
	}
}

func (h *ProgressHandler) sendBadRequest(ctx context.Context, ws *websocket.Conn, msg string) {
	if err := h.writeJSON(ctx, ws, wsMessage{Type: "error", Error: &ErrorBody{Error: msg}}); err != nil {
		h.logger.Debug("Failed to send error frame", "error", err)
	}
}

func (h *ProgressHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *ProgressHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

// stageQueue decouples stage events from the socket so a slow client never
// stalls the flow. Events beyond the queue depth are dropped.
type stageQueue struct {
	ch     chan flow.Stage
	done   chan struct{}
	logger *slog.Logger
}

func newStageQueue(depth int, send func(flow.Stage) error, logger *slog.Logger) *stageQueue {
	q := &stageQueue{
		ch:     make(chan flow.Stage, depth),
		done:   make(chan struct{}),
		logger: logger,
	}
	go func() {
		defer close(q.done)
		for s := range q.ch {
			if err := send(s); err != nil {
				q.logger.Debug("Failed to send stage", "stage", s, "error", err)
			}
		}
	}()
	return q
}

// Push enqueues s without blocking.
func (q *stageQueue) Push(s flow.Stage) {
	select {
	case q.ch <- s:
	default:
		q.logger.Warn("Dropping stage event, client is slow", "stage", s)
	}
}

// Close stops accepting events and waits until queued ones are sent.
func (q *stageQueue) Close() {
	close(q.ch)
	<-q.done
}
