package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"pospay.backend/internal/domain/entities"
	"pospay.backend/internal/interfaces/http/response"
	"pospay.backend/pkg/logger"
)

const (
	DefaultWatchInterval = time.Second
	watchWriteTimeout    = 5 * time.Second
)

type StatusReader interface {
	GetStatus(ctx context.Context, requestID uuid.UUID) (*entities.PaymentRequest, error)
}

// StatusEvent is one message on the watch stream.
type StatusEvent struct {
	RequestID uuid.UUID                     `json:"requestId"`
	Status    entities.PaymentRequestStatus `json:"status"`
	Request   *entities.PaymentRequest      `json:"request"`
}

// WatchHandler pushes status changes of a payment request over a WebSocket.
// The stream is driven by GetStatus, so lazy expiry applies and every stream
// ends with a terminal status.
type WatchHandler struct {
	reader   StatusReader
	interval time.Duration
	upgrader websocket.Upgrader
}

func NewWatchHandler(reader StatusReader, interval time.Duration) *WatchHandler {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &WatchHandler{
		reader:   reader,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Watch streams status events until the request is terminal
// GET /api/v1/payment-requests/:id/watch
func (h *WatchHandler) Watch(c *gin.Context) {
	id, ok := parseRequestID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	current, err := h.reader.GetStatus(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// client messages are ignored; a read error means the peer went away
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.send(conn, current); err != nil {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for !current.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, err := h.reader.GetStatus(ctx, id)
		if err != nil {
			logger.Debug(ctx, "Watch status read failed", zap.Error(err))
			continue
		}
		if next.Status == current.Status && next.Version == current.Version {
			continue
		}
		current = next
		if err := h.send(conn, current); err != nil {
			return
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(current.Status)),
		time.Now().Add(watchWriteTimeout))
}

func (h *WatchHandler) send(conn *websocket.Conn, request *entities.PaymentRequest) error {
	_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
	return conn.WriteJSON(StatusEvent{RequestID: request.ID, Status: request.Status, Request: request})
}
