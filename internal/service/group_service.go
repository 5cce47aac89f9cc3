package service

import (
	"fmt"
	"strings"
	"time"

	"go-social-chat/internal/event"
	"go-social-chat/internal/interfaces"
	"go-social-chat/internal/model"
	"go-social-chat/internal/repository"
	"go-social-chat/pkg/config"
	"go-social-chat/pkg/logger"

	"go.uber.org/zap"
)

// 群组生命周期：创建、成员管理、到期延长、群消息与治理删除
type GroupService struct {
	hub          interfaces.ConnectionManager
	groupRepo    *repository.GroupRepository
	memberRepo   *repository.GroupMemberRepository
	groupMsgRepo *repository.GroupMessageRepository
	userRepo     *repository.UserRepository
	now          func() time.Time
}

func NewGroupService(
	hub interfaces.ConnectionManager,
	groupRepo *repository.GroupRepository,
	memberRepo *repository.GroupMemberRepository,
	groupMsgRepo *repository.GroupMessageRepository,
	userRepo *repository.UserRepository,
) *GroupService {
	return &GroupService{
		hub:          hub,
		groupRepo:    groupRepo,
		memberRepo:   memberRepo,
		groupMsgRepo: groupMsgRepo,
		userRepo:     userRepo,
		now:          time.Now,
	}
}

type CreateGroupRequest struct {
	Name   string `json:"name" binding:"required,min=1,max=100"`
	Avatar string `json:"avatar"`
}

type AddGroupMemberRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

type ExtendExpiryRequest struct {
	ExpiresAt time.Time `json:"expires_at" binding:"required"`
}

type GroupMessageRequest struct {
	ClientID string          `json:"client_id"`
	Content  string          `json:"content"`
	Media    model.MediaList `json:"media"`
}

// 创建群组。初始到期时间 = now + 配置的TTL，此后只能通过extend向后推
func (s *GroupService) CreateGroup(ownerID uint, req CreateGroupRequest) (*model.Group, error) {
	existing, err := s.groupRepo.FindByOwnerAndName(ownerID, req.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check group name: %w", err)
	}
	if existing != nil {
		return nil, ErrGroupNameTaken
	}

	ttlHours := config.GlobalConfig.Group.DefaultTTLHours
	if ttlHours <= 0 {
		ttlHours = 30 * 24
		logger.L.Warn("Invalid group TTL, using default", zap.Int("hours", ttlHours))
	}

	group := &model.Group{
		Name:      req.Name,
		Avatar:    req.Avatar,
		OwnerID:   ownerID,
		ExpiresAt: s.now().Add(time.Duration(ttlHours) * time.Hour),
	}
	if err := s.groupRepo.Create(group); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	logger.L.Info("Group created", zap.Uint("groupID", group.ID), zap.Uint("ownerID", ownerID),
		zap.Time("expiresAt", group.ExpiresAt))
	return group, nil
}

// 群组元数据与成员表，加上推导出的生命周期状态。只对成员开放
func (s *GroupService) GetGroupInfo(groupID, requesterID uint) (*model.Group, model.LifecycleState, error) {
	group, err := s.groupRepo.FindByID(groupID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load group: %w", err)
	}
	if group == nil {
		return nil, "", ErrGroupNotFound
	}
	if !group.IsMember(requesterID) {
		return nil, "", ErrNotMember
	}
	return group, group.LifecycleState(s.now()), nil
}

func (s *GroupService) GetUserGroups(userID uint) ([]model.Group, error) {
	groups, err := s.groupRepo.FindUserGroups(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user groups: %w", err)
	}
	return groups, nil
}

// 拉人入群。只有创建者/管理员可以加人
func (s *GroupService) AddGroupMember(groupID, targetUserID, requesterID uint) error {
	group, err := s.groupRepo.FindByID(groupID)
	if err != nil {
		return fmt.Errorf("failed to load group: %w", err)
	}
	if group == nil {
		return ErrGroupNotFound
	}
	if !group.CanAdminister(requesterID) {
		return ErrNotAuthorized
	}
	target, err := s.userRepo.FindByID(targetUserID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if target == nil {
		return ErrUserNotFound
	}
	if group.IsMember(targetUserID) {
		return ErrAlreadyMember
	}

	if err := s.memberRepo.AddMember(groupID, targetUserID, model.RoleMember); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	s.notifyRoom(groupID, event.MemberJoined)
	return nil
}

// 移除成员或主动退群。成员可以移除自己（退群）；移除他人需要创建者/管理员；
// 创建者不可被移除；管理员不能移除其他管理员
func (s *GroupService) RemoveGroupMember(groupID, targetUserID, requesterID uint) error {
	group, err := s.groupRepo.FindByID(groupID)
	if err != nil {
		return fmt.Errorf("failed to load group: %w", err)
	}
	if group == nil {
		return ErrGroupNotFound
	}
	if !group.IsMember(requesterID) {
		return ErrNotMember
	}
	if group.IsCreator(targetUserID) {
		return ErrCannotRemoveCreator
	}
	if targetUserID != requesterID {
		if !group.CanAdminister(requesterID) {
			return ErrNotAuthorized
		}
		if group.IsAdmin(targetUserID) && !group.IsCreator(requesterID) {
			return ErrNotAuthorized
		}
	}
	if !group.IsMember(targetUserID) {
		return ErrUserNotFound
	}

	if err := s.memberRepo.RemoveMember(groupID, targetUserID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	// 被移除的用户不应继续收到房间广播
	s.hub.LeaveRoom(groupID, targetUserID)
	if targetUserID == requesterID {
		s.notifyRoom(groupID, event.MemberLeft)
	} else {
		s.notifyRoom(groupID, event.MemberRemoved)
	}
	return nil
}

// 提升成员为管理员。只有创建者/管理员可以提升
func (s *GroupService) PromoteMember(groupID, targetUserID, requesterID uint) error {
	group, err := s.groupRepo.FindByID(groupID)
	if err != nil {
		return fmt.Errorf("failed to load group: %w", err)
	}
	if group == nil {
		return ErrGroupNotFound
	}
	if !group.CanAdminister(requesterID) {
		return ErrNotAuthorized
	}
	member, err := s.memberRepo.FindMember(groupID, targetUserID)
	if err != nil {
		return fmt.Errorf("failed to look up member: %w", err)
	}
	if member == nil {
		return ErrUserNotFound
	}
	if member.Role == model.RoleAdmin {
		return nil
	}

	if err := s.memberRepo.UpdateMemberRole(groupID, targetUserID, model.RoleAdmin); err != nil {
		return fmt.Errorf("failed to promote member: %w", err)
	}
	s.notifyRoom(groupID, event.MemberPromoted)
	return nil
}

// 延长到期时间。只允许创建者/管理员，且新时间必须晚于当前到期时间。
// 并发extend时guarded update让数据库仲裁，保留更晚的值
func (s *GroupService) ExtendExpiry(groupID uint, newExpiresAt time.Time, actorID uint) (*model.Group, error) {
	group, err := s.groupRepo.FindByID(groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	if !group.CanAdminister(actorID) {
		return nil, ErrNotAuthorized
	}

	updated, err := s.groupRepo.ExtendExpiry(groupID, newExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to extend expiry: %w", err)
	}
	if !updated {
		return nil, ErrExpiryNotLater
	}
	group.ExpiresAt = newExpiresAt
	logger.L.Info("Group expiry extended", zap.Uint("groupID", groupID),
		zap.Uint("actorID", actorID), zap.Time("expiresAt", newExpiresAt))

	s.notifyRoom(groupID, event.GroupUpdated)
	return group, nil
}

// 发送群消息。只有成员可以发言；已过期的群只读，发送被拒绝
func (s *GroupService) SendGroupMessage(groupID, senderID uint, req GroupMessageRequest) (*event.MessagePayload, error) {
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" && len(req.Media) == 0 {
		return nil, ErrEmptyMessage
	}
	group, err := s.groupRepo.FindByID(groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	if !group.IsMember(senderID) {
		return nil, ErrNotMember
	}
	if group.IsExpired(s.now()) {
		return nil, ErrGroupExpired
	}

	dbMessage := &model.GroupMessage{
		GroupID:  groupID,
		Content:  req.Content,
		Media:    req.Media,
		SenderID: senderID,
	}
	if err := s.groupMsgRepo.Create(dbMessage); err != nil {
		logger.L.Error("Error saving group message to DB",
			zap.Uint("groupID", groupID), zap.Uint("senderID", senderID), zap.Error(err))
		return nil, fmt.Errorf("failed to save group message: %w", err)
	}

	sender, err := s.userRepo.FindByID(senderID)
	if err != nil || sender == nil {
		logger.L.Warn("SendGroupMessage: Failed to find sender", zap.Uint("senderID", senderID), zap.Error(err))
		sender = &model.User{Username: "Unknown", Avatar: "default.png"} // 占位符
	}

	payload := event.GroupMessageToPayload(dbMessage, req.ClientID, sender)
	env, err := event.Marshal(event.AddGroupMessageToClient, event.GroupMessagePayload{
		GroupID: groupID,
		Message: payload,
	})
	if err != nil {
		return nil, err
	}
	// 发送者也接收回声，客户端靠client_id把回声与乐观草稿合并成一条。
	// 消息已经落库，广播失败只记录，不回传错误让发送端误判重试
	if err := s.hub.BroadcastToRoom(groupID, env, 0); err != nil {
		logger.L.Error("SendGroupMessage: failed to queue event for broadcast",
			zap.Uint("messageID", dbMessage.ID), zap.Error(err))
	}

	return &payload, nil
}

// 群聊历史，成员可见（已过期的群仍然可读）
func (s *GroupService) GetGroupChatHistory(groupID, requesterID uint, limit, offset int) (*MessagePage, error) {
	group, err := s.groupRepo.FindByID(groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	if !group.IsMember(requesterID) {
		return nil, ErrNotMember
	}

	dbMessages, err := s.groupMsgRepo.FindGroupMessages(groupID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve group chat history: %w", err)
	}
	total, err := s.groupMsgRepo.CountGroupMessages(groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to count group chat history: %w", err)
	}

	page := &MessagePage{
		Messages: make([]event.MessagePayload, 0, len(dbMessages)),
		Total:    total,
	}
	for i := range dbMessages {
		msg := &dbMessages[i]
		page.Messages = append(page.Messages, event.GroupMessageToPayload(msg, "", &msg.Sender))
	}
	return page, nil
}

// 删除单条群消息。发送者本人或创建者/管理员（治理豁免）可删，删除广播给房间
func (s *GroupService) DeleteMessage(groupID, messageID, actorID uint) error {
	failed, err := s.DeleteMessages(groupID, []uint{messageID}, actorID)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return failed[0].Err
	}
	return nil
}

type FailedDelete struct {
	MessageID uint   `json:"message_id"`
	Err       error  `json:"-"`
	Reason    string `json:"reason"`
}

// 批量删除。逐条做权限检查；部分失败不中止合法子集的删除，
// 返回失败的ID和原因。成功删除的ID一次性广播给房间
func (s *GroupService) DeleteMessages(groupID uint, messageIDs []uint, actorID uint) ([]FailedDelete, error) {
	group, err := s.groupRepo.FindByID(groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	if !group.IsMember(actorID) {
		return nil, ErrNotMember
	}

	var failed []FailedDelete
	deleted := make([]uint, 0, len(messageIDs))
	for _, id := range messageIDs {
		msg, err := s.groupMsgRepo.FindByID(id)
		if err != nil {
			failed = append(failed, FailedDelete{MessageID: id, Err: err, Reason: "lookup failed"})
			continue
		}
		if msg == nil || msg.GroupID != groupID {
			failed = append(failed, FailedDelete{MessageID: id, Err: ErrMessageNotFound, Reason: ErrMessageNotFound.Error()})
			continue
		}
		if !group.CanDeleteMessage(actorID, msg.SenderID) {
			failed = append(failed, FailedDelete{MessageID: id, Err: ErrNotMessageOwner, Reason: ErrNotMessageOwner.Error()})
			continue
		}
		if err := s.groupMsgRepo.DeleteMessage(id); err != nil {
			failed = append(failed, FailedDelete{MessageID: id, Err: err, Reason: "delete failed"})
			continue
		}
		deleted = append(deleted, id)
	}

	if len(deleted) > 0 {
		env, err := event.Marshal(event.MessageDeleted, event.MessageDeletedPayload{
			GroupID:    groupID,
			MessageIDs: deleted,
			DeletedBy:  actorID,
		})
		if err != nil {
			return failed, err
		}
		if err := s.hub.BroadcastToRoom(groupID, env, 0); err != nil {
			logger.L.Warn("Failed to broadcast message deletion",
				zap.Uint("groupID", groupID), zap.Error(err))
		}
		logger.L.Info("Group messages deleted", zap.Uint("groupID", groupID),
			zap.Uint("actorID", actorID), zap.Int("count", len(deleted)), zap.Int("failed", len(failed)))
	}
	return failed, nil
}

// 校验成员身份后让用户进入群组房间，并通知房间内其他人
func (s *GroupService) JoinRoom(groupID, userID uint) error {
	group, err := s.groupRepo.FindByID(groupID)
	if err != nil {
		return fmt.Errorf("failed to load group: %w", err)
	}
	if group == nil {
		return ErrGroupNotFound
	}
	if !group.IsMember(userID) {
		return ErrNotMember
	}
	s.hub.JoinRoom(groupID, userID)
	env, err := event.Marshal(event.JoinGroup, event.RoomPayload{GroupID: groupID, UserID: userID})
	if err != nil {
		return err
	}
	if err := s.hub.BroadcastToRoom(groupID, env, userID); err != nil {
		logger.L.Debug("Failed to broadcast room join", zap.Uint("groupID", groupID), zap.Error(err))
	}
	return nil
}

func (s *GroupService) LeaveRoom(groupID, userID uint) {
	s.hub.LeaveRoom(groupID, userID)
	env, err := event.Marshal(event.LeaveGroup, event.RoomPayload{GroupID: groupID, UserID: userID})
	if err != nil {
		return
	}
	if err := s.hub.BroadcastToRoom(groupID, env, userID); err != nil {
		logger.L.Debug("Failed to broadcast room leave", zap.Uint("groupID", groupID), zap.Error(err))
	}
}

// 成员/元数据变化只广播群组ID，客户端整体重拉，避免细粒度合并的bug
func (s *GroupService) notifyRoom(groupID uint, name string) {
	env, err := event.Marshal(name, event.GroupNotifyPayload{GroupID: groupID})
	if err != nil {
		logger.L.Error("Failed to marshal group notification", zap.Error(err))
		return
	}
	if err := s.hub.BroadcastToRoom(groupID, env, 0); err != nil {
		logger.L.Warn("Failed to broadcast group notification",
			zap.String("event", name), zap.Uint("groupID", groupID), zap.Error(err))
	}
}
