package display

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Hub streams bus messages to browser customer displays over websocket.
// Displays are readers only: anything they send is read and dropped.
type Hub struct {
	bus      Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHub(bus Bus, logger *zap.Logger) *Hub {
	return &Hub{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and streams until either side goes away.
func (h *Hub) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade display websocket", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub, err := h.bus.Subscribe(ctx)
	if err != nil {
		h.logger.Error("Display subscribe failed", zap.Error(err))
		return
	}
	defer sub.Close()

	h.logger.Info("Customer display connected", zap.String("remote", c.ClientIP()))

	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Customer display disconnected", zap.String("remote", c.ClientIP()))
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(msg); err != nil {
				h.logger.Warn("Failed to write display message", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
