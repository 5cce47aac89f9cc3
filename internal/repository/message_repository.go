package repository

import (
	"go-social-chat/internal/model"
	"go-social-chat/pkg/db"

	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{db: db.DB}
}

// 保存新消息
func (r *MessageRepository) Create(message *model.Message) error {
	return r.db.Create(message).Error
}

// 获取两个用户之间的聊天记录，按创建时间倒序分页
func (r *MessageRepository) FindMessagesBetweenUsers(userID1, userID2 uint, limit, offset int) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where(
		"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
		userID1, userID2, userID2, userID1,
	).Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Preload("Sender").   // 预加载发送者信息
		Preload("Receiver"). // 预加载接收者信息
		Find(&messages).Error

	return messages, err
}

// 两个用户之间的消息总数，供客户端判断load-more是否还有更旧的页
func (r *MessageRepository) CountMessagesBetweenUsers(userID1, userID2 uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.Message{}).Where(
		"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
		userID1, userID2, userID2, userID1,
	).Count(&count).Error
	return count, err
}

func (r *MessageRepository) FindByID(messageID uint) (*model.Message, error) {
	var message model.Message
	if err := r.db.First(&message, messageID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &message, nil
}

// 更新投递状态：sent -> delivered（接收方在线收到推送时）
func (r *MessageRepository) MarkDelivered(messageID uint) error {
	return r.db.Model(&model.Message{}).
		Where("id = ? AND status = ?", messageID, model.StatusSent).
		Update("status", model.StatusDelivered).Error
}

// 将sender发给reader的所有未读消息标记为已读
func (r *MessageRepository) MarkConversationRead(senderID, readerID uint) (int64, error) {
	result := r.db.Model(&model.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND status <> ?", senderID, readerID, model.StatusRead).
		Update("status", model.StatusRead)
	return result.RowsAffected, result.Error
}

// 删除消息
func (r *MessageRepository) DeleteMessage(messageID uint) error {
	return r.db.Delete(&model.Message{}, messageID).Error
}
