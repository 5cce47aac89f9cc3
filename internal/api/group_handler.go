package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go-social-chat/internal/service"
	"go-social-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type GroupHandler struct {
	groupService *service.GroupService
}

func NewGroupHandler(groupService *service.GroupService) *GroupHandler {
	return &GroupHandler{
		groupService: groupService,
	}
}

// 把业务错误映射为HTTP状态码
func groupErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrGroupNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotAuthorized),
		errors.Is(err, service.ErrNotMember),
		errors.Is(err, service.ErrNotMessageOwner),
		errors.Is(err, service.ErrCannotRemoveCreator),
		errors.Is(err, service.ErrGroupExpired):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAlreadyMember),
		errors.Is(err, service.ErrGroupNameTaken):
		return http.StatusConflict
	case errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrExpiryNotLater):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *GroupHandler) CreateGroup(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}

	var req service.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.L.Warn("Failed to bind CreateGroup request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	group, err := h.groupService.CreateGroup(userID, req)
	if err != nil {
		logger.L.Error("Error creating group via service", zap.Error(err), zap.Uint("ownerID", userID))
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Group created successfully",
		"group": gin.H{
			"id":         group.ID,
			"name":       group.Name,
			"avatar":     group.Avatar,
			"owner_id":   group.OwnerID,
			"created_at": group.CreatedAt,
			"expires_at": group.ExpiresAt,
		},
	})
}

func (h *GroupHandler) GetUserGroups(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}

	groups, err := h.groupService.GetUserGroups(userID)
	if err != nil {
		logger.L.Error("Error getting user groups from service", zap.Error(err), zap.Uint("userID", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve groups"})
		return
	}

	now := time.Now()
	responseGroups := make([]gin.H, 0, len(groups))
	for i := range groups {
		g := &groups[i]
		responseGroups = append(responseGroups, gin.H{
			"id":             g.ID,
			"name":           g.Name,
			"avatar":         g.Avatar,
			"owner_id":       g.OwnerID,
			"created_at":     g.CreatedAt,
			"expires_at":     g.ExpiresAt,
			"state":          g.LifecycleState(now),
			"owner_username": g.Owner.Username,
		})
	}

	c.JSON(http.StatusOK, gin.H{"groups": responseGroups})
}

func (h *GroupHandler) GetGroupInfo(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	groupID, ok := getGroupIDFromParam(c)
	if !ok {
		return
	}

	group, state, err := h.groupService.GetGroupInfo(groupID, userID)
	if err != nil {
		logger.L.Warn("Error getting group info from service", zap.Error(err),
			zap.Uint("groupID", groupID), zap.Uint("requesterID", userID))
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	membersResponse := make([]gin.H, 0, len(group.Members))
	for _, m := range group.Members {
		membersResponse = append(membersResponse, gin.H{
			"user_id":  m.UserID,
			"username": m.User.Username,
			"avatar":   m.User.Avatar,
			"role":     m.Role,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         group.ID,
		"name":       group.Name,
		"avatar":     group.Avatar,
		"owner_id":   group.OwnerID,
		"created_at": group.CreatedAt,
		"expires_at": group.ExpiresAt,
		"state":      state,
		"owner": gin.H{
			"user_id":  group.Owner.ID,
			"username": group.Owner.Username,
			"avatar":   group.Owner.Avatar,
		},
		"members": membersResponse,
	})
}

func (h *GroupHandler) AddGroupMember(c *gin.Context) {
	requesterID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	groupID, ok := getGroupIDFromParam(c)
	if !ok {
		return
	}

	var req service.AddGroupMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.L.Warn("Failed to bind AddGroupMember request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: user_id is required"})
		return
	}

	if err := h.groupService.AddGroupMember(groupID, req.UserID, requesterID); err != nil {
		logger.L.Warn("Error adding group member via service", zap.Error(err),
			zap.Uint("groupID", groupID), zap.Uint("targetUserID", req.UserID), zap.Uint("requesterID", requesterID))
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User added to group successfully"})
}

func (h *GroupHandler) RemoveGroupMember(c *gin.Context) {
	requesterID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	groupID, ok := getGroupIDFromParam(c)
	if !ok {
		return
	}
	targetUserID, ok := getUserIDFromParam(c)
	if !ok {
		return
	}

	if err := h.groupService.RemoveGroupMember(groupID, targetUserID, requesterID); err != nil {
		logger.L.Warn("Error removing group member via service", zap.Error(err),
			zap.Uint("groupID", groupID), zap.Uint("targetUserID", targetUserID), zap.Uint("requesterID", requesterID))
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	message := "User removed from group successfully"
	if requesterID == targetUserID {
		message = "You have left the group successfully"
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

func (h *GroupHandler) PromoteMember(c *gin.Context) {
	requesterID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	groupID, ok := getGroupIDFromParam(c)
	if !ok {
		return
	}
	targetUserID, ok := getUserIDFromParam(c)
	if !ok {
		return
	}

	if err := h.groupService.PromoteMember(groupID, targetUserID, requesterID); err != nil {
		logger.L.Warn("Error promoting group member via service", zap.Error(err),
			zap.Uint("groupID", groupID), zap.Uint("targetUserID", targetUserID), zap.Uint("requesterID", requesterID))
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Member promoted to admin"})
}

// 延长群组到期时间
func (h *GroupHandler) ExtendExpiry(c *gin.Context) {
	requesterID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	groupID, ok := getGroupIDFromParam(c)
	if !ok {
		return
	}

	var req service.ExtendExpiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.L.Warn("Failed to bind ExtendExpiry request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: expires_at is required"})
		return
	}

	group, err := h.groupService.ExtendExpiry(groupID, req.ExpiresAt, requesterID)
	if err != nil {
		logger.L.Warn("Error extending group expiry via service", zap.Error(err),
			zap.Uint("groupID", groupID), zap.Uint("requesterID", requesterID))
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Group expiry extended",
		"expires_at": group.ExpiresAt,
		"state":      group.LifecycleState(time.Now()),
	})
}

func (h *GroupHandler) SendGroupMessage(c *gin.Context) {
	senderID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	groupID, ok := getGroupIDFromParam(c)
	if !ok {
		return
	}

	var req service.GroupMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.L.Warn("Failed to bind SendGroupMessage request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	payload, err := h.groupService.SendGroupMessage(groupID, senderID, req)
	if err != nil {
		logger.L.Warn("Error sending group message via service", zap.Error(err),
			zap.Uint("groupID", groupID), zap.Uint("senderID", senderID))
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": payload})
}

func (h *GroupHandler) GetGroupChatHistory(c *gin.Context) {
	requesterID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	groupID, ok := getGroupIDFromParam(c)
	if !ok {
		return
	}
	limit, offset, ok := getPaginationParams(c)
	if !ok {
		return
	}

	page, err := h.groupService.GetGroupChatHistory(groupID, requesterID, limit, offset)
	if err != nil {
		logger.L.Error("Error getting group chat history from service", zap.Error(err),
			zap.Uint("groupID", groupID), zap.Uint("requesterID", requesterID))
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, page)
}

// 删除单条群消息
func (h *GroupHandler) DeleteGroupMessage(c *gin.Context) {
	actorID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	groupID, ok := getGroupIDFromParam(c)
	if !ok {
		return
	}
	messageIDStr := c.Param("message_id")
	messageID64, err := strconv.ParseUint(messageIDStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message_id parameter"})
		return
	}

	if err := h.groupService.DeleteMessage(groupID, uint(messageID64), actorID); err != nil {
		logger.L.Warn("Error deleting group message via service", zap.Error(err),
			zap.Uint("groupID", groupID), zap.Uint("messageID", uint(messageID64)), zap.Uint("actorID", actorID))
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

type deleteMessagesRequest struct {
	MessageIDs []uint `json:"message_ids" binding:"required,min=1"`
}

// 批量删除群消息。部分失败时返回失败的ID和原因，合法子集仍然删除
func (h *GroupHandler) DeleteGroupMessages(c *gin.Context) {
	actorID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	groupID, ok := getGroupIDFromParam(c)
	if !ok {
		return
	}

	var req deleteMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.L.Warn("Failed to bind DeleteGroupMessages request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: message_ids is required"})
		return
	}

	failed, err := h.groupService.DeleteMessages(groupID, req.MessageIDs, actorID)
	if err != nil {
		logger.L.Warn("Error bulk-deleting group messages via service", zap.Error(err),
			zap.Uint("groupID", groupID), zap.Uint("actorID", actorID))
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted": len(req.MessageIDs) - len(failed),
		"failed":  failed,
	})
}

func getUserIDFromContext(c *gin.Context) (uint, bool) {
	userIDValue, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return 0, false
	}
	userID, ok := userIDValue.(uint)
	if !ok {
		logger.L.Error("Invalid userID type in context", zap.Any("userIDValue", userIDValue))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user ID in context"})
		return 0, false
	}
	return userID, true
}

func getGroupIDFromParam(c *gin.Context) (uint, bool) {
	groupIDStr := c.Param("group_id")
	groupID64, err := strconv.ParseUint(groupIDStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid group_id parameter"})
		return 0, false
	}
	return uint(groupID64), true
}

func getUserIDFromParam(c *gin.Context) (uint, bool) {
	userIDStr := c.Param("user_id")
	userID64, err := strconv.ParseUint(userIDStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id parameter"})
		return 0, false
	}
	return uint(userID64), true
}

func getPaginationParams(c *gin.Context) (limit, offset int, ok bool) {
	var err error
	limit, err = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset, true
}
