package api

import (
	"errors"
	"net/http"
	"strconv"

	"go-social-chat/internal/service"
	"go-social-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 处理私聊相关的HTTP请求
type ChatHandler struct {
	chatService *service.ChatService
}

// 创建一个新的聊天处理器实例
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// 发送私聊消息
func (h *ChatHandler) SendMessage(c *gin.Context) {
	senderID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}

	// 解析请求体
	var req service.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.L.Warn("Failed to bind SendMessage request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	payload, err := h.chatService.SendMessage(senderID, req)
	if err != nil {
		logger.L.Warn("Error sending message via ChatService", zap.Error(err), zap.Uint("senderID", senderID))
		switch {
		case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrSelfConversation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": payload})
}

// 获取私聊历史记录（带总数，供客户端分页）
func (h *ChatHandler) GetChatHistory(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}

	// 获取对话用户ID
	otherIDStr := c.Param("other_user_id")
	otherID, err := strconv.ParseUint(otherIDStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid otherUserID parameter"})
		return
	}

	if userID == uint(otherID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot fetch chat history with oneself"})
		return
	}

	limit, offset, ok := getPaginationParams(c)
	if !ok {
		return
	}

	page, err := h.chatService.GetChatHistory(userID, uint(otherID), limit, offset)
	if err != nil {
		logger.L.Error("Error getting chat history from service", zap.Error(err),
			zap.Uint("userID", userID), zap.Uint("otherID", uint(otherID)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve chat history"})
		return
	}

	c.JSON(http.StatusOK, page)
}

// 标记与某个用户的会话为已读
func (h *ChatHandler) MarkConversationRead(c *gin.Context) {
	readerID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	otherIDStr := c.Param("other_user_id")
	otherID, err := strconv.ParseUint(otherIDStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid otherUserID parameter"})
		return
	}

	if err := h.chatService.MarkConversationRead(readerID, uint(otherID)); err != nil {
		logger.L.Error("Error marking conversation read", zap.Error(err),
			zap.Uint("readerID", readerID), zap.Uint("otherID", uint(otherID)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark conversation read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "conversation marked read"})
}
