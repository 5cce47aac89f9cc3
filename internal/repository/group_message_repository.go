package repository

import (
	"errors"
	"go-social-chat/internal/model"
	"go-social-chat/pkg/db"

	"gorm.io/gorm"
)

type GroupMessageRepository struct {
	db *gorm.DB
}

func NewGroupMessageRepository() *GroupMessageRepository {
	return &GroupMessageRepository{db: db.DB}
}

// 保存新的群消息
func (r *GroupMessageRepository) Create(message *model.GroupMessage) error {
	return r.db.Create(message).Error
}

// 获取群组的聊天记录，按创建时间倒序分页
func (r *GroupMessageRepository) FindGroupMessages(groupID uint, limit, offset int) ([]model.GroupMessage, error) {
	var messages []model.GroupMessage
	err := r.db.Where("group_id = ?", groupID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Preload("Sender").
		Find(&messages).Error

	return messages, err
}

// 群组消息总数
func (r *GroupMessageRepository) CountGroupMessages(groupID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.GroupMessage{}).Where("group_id = ?", groupID).Count(&count).Error
	return count, err
}

func (r *GroupMessageRepository) FindByID(messageID uint) (*model.GroupMessage, error) {
	var message model.GroupMessage
	if err := r.db.First(&message, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &message, nil
}

// 删除一条群消息
func (r *GroupMessageRepository) DeleteMessage(messageID uint) error {
	return r.db.Delete(&model.GroupMessage{}, messageID).Error
}
