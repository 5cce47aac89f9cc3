package service

import (
	"fmt"
	"strings"

	"go-social-chat/internal/event"
	"go-social-chat/internal/interfaces"
	"go-social-chat/internal/model"
	"go-social-chat/internal/repository"
	"go-social-chat/pkg/logger"

	"go.uber.org/zap"
)

// 处理私聊消息：校验、落库、实时分发、投递状态
type ChatService struct {
	hub         interfaces.ConnectionManager
	messageRepo *repository.MessageRepository
	userRepo    *repository.UserRepository
}

func NewChatService(hub interfaces.ConnectionManager, messageRepo *repository.MessageRepository, userRepo *repository.UserRepository) *ChatService {
	return &ChatService{
		hub:         hub,
		messageRepo: messageRepo,
		userRepo:    userRepo,
	}
}

type MessageRequest struct {
	ClientID   string          `json:"client_id"`
	Content    string          `json:"content"`
	Media      model.MediaList `json:"media"`
	ReceiverID uint            `json:"receiver_id" binding:"required"`
}

// 发送私聊消息。返回入库后的消息负载（含服务端分配的ID和时间戳），供REST应答
func (s *ChatService) SendMessage(senderID uint, req MessageRequest) (*event.MessagePayload, error) {
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" && len(req.Media) == 0 {
		return nil, ErrEmptyMessage
	}
	if req.ReceiverID == senderID {
		return nil, ErrSelfConversation
	}
	receiver, err := s.userRepo.FindByID(req.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up receiver: %w", err)
	}
	if receiver == nil {
		return nil, ErrUserNotFound
	}

	dbMessage := &model.Message{
		Content:    req.Content,
		Media:      req.Media,
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Status:     model.StatusSent,
	}

	// 保存消息到数据库
	if err := s.messageRepo.Create(dbMessage); err != nil {
		logger.L.Error("Error saving message to DB", zap.Uint("senderID", senderID), zap.Error(err))
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	logger.L.Debug("Message saved to DB", zap.Uint("messageID", dbMessage.ID))

	// 接收方在线就直接标记delivered，事件里带出去的状态保持一致
	if s.hub.IsClientConnected(req.ReceiverID) {
		if err := s.messageRepo.MarkDelivered(dbMessage.ID); err != nil {
			logger.L.Warn("Failed to mark message delivered", zap.Uint("messageID", dbMessage.ID), zap.Error(err))
		} else {
			dbMessage.Status = model.StatusDelivered
		}
	}

	// 获取用于分发的发送者信息
	sender, err := s.userRepo.FindByID(senderID)
	if err != nil || sender == nil {
		logger.L.Warn("SendMessage: Failed to find sender", zap.Uint("senderID", senderID), zap.Error(err))
		// 目前在没有发送者信息的情况下继续：
		sender = &model.User{Username: "Unknown", Avatar: "default.png"} // 占位符
	}

	payload := event.DirectMessagePayload(dbMessage, req.ClientID, sender)
	env, err := event.Marshal(event.AddMessageToClient, payload)
	if err != nil {
		return nil, err
	}

	// 推给接收方。消息已经落库，实时投递失败只记录，不回传错误：
	// 否则发送端会把草稿标成failed，重试就产生重复行
	if _, err := s.hub.SendToUser(req.ReceiverID, env); err != nil {
		logger.L.Error("SendMessage: failed to queue event for recipient",
			zap.Uint("messageID", dbMessage.ID), zap.Error(err))
	}
	// 回声给发送方的其他在线会话，发送端靠client_id把它和乐观草稿合并
	if _, err := s.hub.SendToUser(senderID, env); err != nil {
		logger.L.Warn("SendMessage: failed to queue echo for sender",
			zap.Uint("messageID", dbMessage.ID), zap.Error(err))
	}

	return &payload, nil
}

type MessagePage struct {
	Messages []event.MessagePayload `json:"messages"`
	Total    int64                  `json:"total"`
}

// 获取私聊历史。页内按创建时间倒序（最新的在前），total供客户端判断还有没有更旧的页
func (s *ChatService) GetChatHistory(userID, otherID uint, limit, offset int) (*MessagePage, error) {
	dbMessages, err := s.messageRepo.FindMessagesBetweenUsers(userID, otherID, limit, offset)
	if err != nil {
		logger.L.Error("Error fetching chat history", zap.Error(err),
			zap.Uint("user1", userID), zap.Uint("user2", otherID))
		return nil, fmt.Errorf("failed to retrieve chat history: %w", err)
	}
	total, err := s.messageRepo.CountMessagesBetweenUsers(userID, otherID)
	if err != nil {
		return nil, fmt.Errorf("failed to count chat history: %w", err)
	}

	page := &MessagePage{
		Messages: make([]event.MessagePayload, 0, len(dbMessages)),
		Total:    total,
	}
	for i := range dbMessages {
		msg := &dbMessages[i]
		page.Messages = append(page.Messages, event.DirectMessagePayload(msg, "", &msg.Sender))
	}
	return page, nil
}

// reader读完与sender的会话，通知sender更新已读状态
func (s *ChatService) MarkConversationRead(readerID, senderID uint) error {
	affected, err := s.messageRepo.MarkConversationRead(senderID, readerID)
	if err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	if affected == 0 {
		return nil
	}
	env, err := event.Marshal(event.MessagesRead, event.MessagesReadPayload{
		ReaderID: readerID,
		SenderID: senderID,
	})
	if err != nil {
		return err
	}
	if _, err := s.hub.SendToUser(senderID, env); err != nil {
		logger.L.Warn("Failed to notify sender of read receipt",
			zap.Uint("senderID", senderID), zap.Error(err))
	}
	return nil
}

// 打字指示转发。startOrStop为true发typing，false发stopTyping
func (s *ChatService) RelayTyping(senderID uint, payload event.TypingPayload, start bool) {
	payload.From = senderID
	name := event.Typing
	if !start {
		name = event.StopTyping
	}
	env, err := event.Marshal(name, payload)
	if err != nil {
		logger.L.Error("Failed to marshal typing event", zap.Error(err))
		return
	}
	if payload.GroupID != 0 {
		if err := s.hub.BroadcastToRoom(payload.GroupID, env, senderID); err != nil {
			logger.L.Debug("Failed to relay typing to room", zap.Uint("groupID", payload.GroupID), zap.Error(err))
		}
		return
	}
	if payload.To == 0 {
		return
	}
	if _, err := s.hub.SendToUser(payload.To, env); err != nil {
		logger.L.Debug("Failed to relay typing to user", zap.Uint("to", payload.To), zap.Error(err))
	}
}

// interfaces.ConnectionEventHandler

func (s *ChatService) HandleUserConnected(userID uint) {
	logger.L.Debug("User connected", zap.Uint("userID", userID))
}

func (s *ChatService) HandleUserDisconnected(userID uint) {
	logger.L.Debug("User disconnected", zap.Uint("userID", userID))
}
