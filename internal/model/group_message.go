package model

import (
	"time"

	"gorm.io/gorm"
)

// GroupMessage 与Message同形，按群组而不是接收者归属
type GroupMessage struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	GroupID   uint           `gorm:"index;not null" json:"group_id"`
	Content   string         `gorm:"type:text" json:"content"`
	Media     MediaList      `gorm:"type:json" json:"media,omitempty"`
	SenderID  uint           `gorm:"index" json:"sender_id"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Sender    User           `gorm:"foreignKey:SenderID" json:"sender"`
}

func (m *GroupMessage) IsEmpty() bool {
	return len(m.Media) == 0 && m.Content == ""
}
