package service

import "errors"

// 业务错误。Handler层据此映射HTTP状态码
var (
	ErrEmptyMessage        = errors.New("message must have text or media")
	ErrUserNotFound        = errors.New("target user does not exist")
	ErrGroupNotFound       = errors.New("group not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrNotMember           = errors.New("you are not a member of this group")
	ErrNotAuthorized       = errors.New("only the group creator or admin can perform this action")
	ErrNotMessageOwner     = errors.New("only the sender or a group admin can delete this message")
	ErrGroupExpired        = errors.New("group has expired and is read-only")
	ErrAlreadyMember       = errors.New("user is already a member of this group")
	ErrGroupNameTaken      = errors.New("you already have a group with this name")
	ErrCannotRemoveCreator = errors.New("cannot remove the group creator")
	ErrExpiryNotLater      = errors.New("new expiry must be later than the current one")
	ErrSelfConversation    = errors.New("cannot message oneself")
)
