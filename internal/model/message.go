package model

import (
	"time"

	"gorm.io/gorm"
)

// 私聊消息的投递状态
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

type Message struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Content    string         `gorm:"type:text" json:"content"`
	Media      MediaList      `gorm:"type:json" json:"media,omitempty"`
	SenderID   uint           `gorm:"index" json:"sender_id"`
	ReceiverID uint           `gorm:"index" json:"receiver_id"`
	Status     string         `gorm:"type:varchar(20);default:'sent'" json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
	Sender     User           `gorm:"foreignKey:SenderID" json:"sender"`
	Receiver   User           `gorm:"foreignKey:ReceiverID" json:"receiver"`
}

// 没有文本也没有媒体的消息是无效的，不允许发送
func (m *Message) IsEmpty() bool {
	return len(m.Media) == 0 && m.Content == ""
}
