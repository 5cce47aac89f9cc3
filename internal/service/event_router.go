package service

import (
	"encoding/json"

	"go-social-chat/internal/event"
	"go-social-chat/internal/interfaces"
	"go-social-chat/pkg/logger"

	"go.uber.org/zap"
)

// 把WebSocket入站事件帧分发给对应的服务。实现interfaces.EventHandler
type EventRouter struct {
	hub          interfaces.ConnectionManager
	chatService  *ChatService
	groupService *GroupService
}

func NewEventRouter(hub interfaces.ConnectionManager, chatService *ChatService, groupService *GroupService) *EventRouter {
	return &EventRouter{
		hub:          hub,
		chatService:  chatService,
		groupService: groupService,
	}
}

func (r *EventRouter) HandleEvent(frame []byte, senderID uint) {
	env, err := event.Decode(frame)
	if err != nil {
		logger.L.Warn("Failed to decode inbound event frame",
			zap.Uint("senderID", senderID), zap.Error(err))
		return
	}

	switch env.Event {
	case event.AddMessageToServer:
		var p event.SendMessagePayload
		if !r.unmarshal(env, &p, senderID) {
			return
		}
		if _, err := r.chatService.SendMessage(senderID, MessageRequest{
			ClientID:   p.ClientID,
			Content:    p.Content,
			Media:      p.Media,
			ReceiverID: p.ReceiverID,
		}); err != nil {
			logger.L.Warn("Error processing direct message received via WebSocket",
				zap.Uint("senderID", senderID), zap.Uint("receiverID", p.ReceiverID), zap.Error(err))
		}

	case event.AddGroupMessageToServer:
		var p event.SendMessagePayload
		if !r.unmarshal(env, &p, senderID) {
			return
		}
		if _, err := r.groupService.SendGroupMessage(p.GroupID, senderID, GroupMessageRequest{
			ClientID: p.ClientID,
			Content:  p.Content,
			Media:    p.Media,
		}); err != nil {
			logger.L.Warn("Error processing group message received via WebSocket",
				zap.Uint("senderID", senderID), zap.Uint("groupID", p.GroupID), zap.Error(err))
		}

	case event.Typing, event.StopTyping:
		var p event.TypingPayload
		if !r.unmarshal(env, &p, senderID) {
			return
		}
		r.chatService.RelayTyping(senderID, p, env.Event == event.Typing)

	case event.JoinGroup:
		var p event.RoomPayload
		if !r.unmarshal(env, &p, senderID) {
			return
		}
		if err := r.groupService.JoinRoom(p.GroupID, senderID); err != nil {
			logger.L.Warn("Room join rejected",
				zap.Uint("groupID", p.GroupID), zap.Uint("userID", senderID), zap.Error(err))
		}

	case event.LeaveGroup:
		var p event.RoomPayload
		if !r.unmarshal(env, &p, senderID) {
			return
		}
		r.groupService.LeaveRoom(p.GroupID, senderID)

	case event.ActiveUsers:
		reply, err := event.Marshal(event.ActiveUsers, event.ActiveUsersPayload{
			UserIDs: r.hub.ActiveUsers(),
		})
		if err != nil {
			logger.L.Error("Failed to marshal active users reply", zap.Error(err))
			return
		}
		if _, err := r.hub.SendToUser(senderID, reply); err != nil {
			logger.L.Debug("Failed to send active users reply", zap.Uint("userID", senderID), zap.Error(err))
		}

	default:
		// 未知事件直接忽略，保持向前兼容
		logger.L.Debug("Ignoring unknown inbound event",
			zap.String("event", env.Event), zap.Uint("senderID", senderID))
	}
}

func (r *EventRouter) unmarshal(env event.Envelope, out interface{}, senderID uint) bool {
	if err := json.Unmarshal(env.Data, out); err != nil {
		logger.L.Warn("Failed to unmarshal event payload",
			zap.String("event", env.Event), zap.Uint("senderID", senderID), zap.Error(err))
		return false
	}
	return true
}
