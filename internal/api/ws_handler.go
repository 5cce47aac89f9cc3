package api

import (
	"net/http"

	"go-social-chat/internal/interfaces"
	internalws "go-social-chat/internal/websocket"
	"go-social-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: 生产环境应该配置具体的域名
		return true // 允许所有来源
	},
}

type WSHandler struct {
	hub          interfaces.ConnectionManager
	eventHandler interfaces.EventHandler
}

func NewWSHandler(hub interfaces.ConnectionManager, eventHandler interfaces.EventHandler) *WSHandler {
	return &WSHandler{
		hub:          hub,
		eventHandler: eventHandler,
	}
}

func (h *WSHandler) HandleConnection(c *gin.Context) {
	userIDValue, exists := c.Get("userID")
	if !exists {
		logger.L.Error("userID not found in context for WebSocket")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	userID, ok := userIDValue.(uint)
	if !ok || userID == 0 {
		logger.L.Error("Invalid userID type or value in context", zap.Any("userIDValue", userIDValue))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Invalid user ID in context"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.L.Error("Failed to upgrade WebSocket connection", zap.Uint("userID", userID), zap.Error(err))
		return
	}
	logger.L.Info("WebSocket connection upgraded", zap.Uint("userID", userID))

	client := internalws.NewClient(userID, conn, h.eventHandler, h.hub)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
