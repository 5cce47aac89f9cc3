package event

import (
	"time"

	"go-social-chat/internal/model"
)

// 消息在事件里的形态。ClientID由发送端生成，用于乐观草稿的回执匹配，不落库
type MessagePayload struct {
	ID             uint            `json:"id"`
	ClientID       string          `json:"client_id,omitempty"`
	Content        string          `json:"content"`
	Media          model.MediaList `json:"media,omitempty"`
	SenderID       uint            `json:"sender_id"`
	ReceiverID     uint            `json:"receiver_id,omitempty"`
	GroupID        uint            `json:"group_id,omitempty"`
	Status         string          `json:"status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	SenderUsername string          `json:"sender_username,omitempty"`
	SenderAvatar   string          `json:"sender_avatar,omitempty"`
}

// addGroupMessageToClient的负载：群组标识 + 消息
type GroupMessagePayload struct {
	GroupID uint           `json:"group_id"`
	Message MessagePayload `json:"message"`
}

// 客户端经WebSocket直接发送消息（addMessageToServer / addGroupMessageToServer）
type SendMessagePayload struct {
	ClientID   string          `json:"client_id,omitempty"`
	Content    string          `json:"content"`
	Media      model.MediaList `json:"media,omitempty"`
	ReceiverID uint            `json:"receiver_id,omitempty"`
	GroupID    uint            `json:"group_id,omitempty"`
}

// typing / stopTyping：私聊带to，群聊带group_id
type TypingPayload struct {
	From    uint `json:"from"`
	To      uint `json:"to,omitempty"`
	GroupID uint `json:"group_id,omitempty"`
}

// joinGroup / leaveGroup（双向：客户端请求进出房间，服务端通知变更）
type RoomPayload struct {
	GroupID uint `json:"group_id"`
	UserID  uint `json:"user_id,omitempty"`
}

// 群组生命周期通知只携带群组ID，客户端收到后整体重拉元数据
type GroupNotifyPayload struct {
	GroupID uint `json:"group_id"`
}

// messageDeleted：单条删除时MessageIDs只有一个元素
type MessageDeletedPayload struct {
	GroupID    uint   `json:"group_id"`
	MessageIDs []uint `json:"message_ids"`
	DeletedBy  uint   `json:"deleted_by"`
}

// getActiveUsers的应答
type ActiveUsersPayload struct {
	UserIDs []uint `json:"user_ids"`
}

// 私聊已读回执：reader已读完与sender的会话
type MessagesReadPayload struct {
	ReaderID uint `json:"reader_id"`
	SenderID uint `json:"sender_id"`
}

func DirectMessagePayload(m *model.Message, clientID string, sender *model.User) MessagePayload {
	p := MessagePayload{
		ID:         m.ID,
		ClientID:   clientID,
		Content:    m.Content,
		Media:      m.Media,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Status:     m.Status,
		CreatedAt:  m.CreatedAt,
	}
	if sender != nil {
		p.SenderUsername = sender.Username
		p.SenderAvatar = sender.Avatar
	}
	return p
}

func GroupMessageToPayload(m *model.GroupMessage, clientID string, sender *model.User) MessagePayload {
	p := MessagePayload{
		ID:        m.ID,
		ClientID:  clientID,
		Content:   m.Content,
		Media:     m.Media,
		SenderID:  m.SenderID,
		GroupID:   m.GroupID,
		CreatedAt: m.CreatedAt,
	}
	if sender != nil {
		p.SenderUsername = sender.Username
		p.SenderAvatar = sender.Avatar
	}
	return p
}
