package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"taleforge-server/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the app origin; cross-origin reads of
	// story updates carry no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Subscribe upgrades GET /ws?storyId=... into a story update subscription.
func (h *HTTPHandler) Subscribe(c *gin.Context) {
	storyID, err := uuid.Parse(c.Query("storyId"))
	if err != nil {
		h.respondError(c, models.ErrInvalidInput)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := h.hub.NewClient(storyID, conn)
	h.logger.Info("Websocket subscriber connected", zap.String("story_id", storyID.String()))
	go client.WritePump(h.hub)
	client.ReadPump(h.hub)
}
