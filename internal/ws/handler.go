package ws

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"relay/internal/logger"
)

// Handler upgrades GET /ws requests and spawns the client pumps. Initial
// subscriptions may be passed as repeated ?channel= query parameters.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   logger.Logger
}

func NewHandler(hub *Hub, allowedOrigins []string, log logger.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     OriginChecker(allowedOrigins),
		},
		logger: log,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes, middlewares ...gin.HandlerFunc) {
	handlers := append(middlewares, h.ServeWS)
	r.GET("/ws", handlers...)
}

func (h *Handler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader already wrote the error response.
		h.logger.Debugw("WebSocket upgrade failed", "error", err, "client_ip", c.ClientIP())
		return
	}

	client := NewClient(h.hub, conn, h.logger, c.QueryArray("channel")...)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
