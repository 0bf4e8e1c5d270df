package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/internal/application/runs"
	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Trigger auth happens at the trigger endpoints
	},
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
	}
}

// HandleRunStream streams lifecycle events for a specific run. Delivery is
// fire-and-forget: a slow client drops events rather than stalling the run.
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	eventChan := make(chan *domain.RunEvent, 16)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go h.subscribeToEvents(ctx, runID, eventChan)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			if event == nil {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}

			// Close the stream once the run reaches a terminal state.
			if event.Type == domain.EventRunCompleted {
				return
			}
		}
	}
}

// subscribeToEvents subscribes to the run event topic and forwards events
// for the watched run.
func (h *Handler) subscribeToEvents(ctx context.Context, runID string, ch chan<- *domain.RunEvent) {
	handler := func(ctx context.Context, event domain.RunEvent) error {
		if event.RunID != runID {
			return nil
		}

		select {
		case ch <- &event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Channel full, skip event
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	if err := h.eventBus.Subscribe(ctx, runs.EventTopic, handler); err != nil {
		h.logger.Error("failed to subscribe to run events",
			zap.String("topic", runs.EventTopic),
			zap.Error(err))
	}
}
