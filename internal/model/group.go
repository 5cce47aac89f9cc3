package model

import (
	"time"

	"gorm.io/gorm"
)

// 群组生命周期的显示状态，由ExpiresAt与当前时间推导，不落库
type LifecycleState string

const (
	StateActive       LifecycleState = "active"
	StateExpiringSoon LifecycleState = "expiring-soon" // 剩余不超过7天
	StateCritical     LifecycleState = "critical"      // 剩余不超过24小时
	StateExpired      LifecycleState = "expired"
)

const (
	expiringSoonWindow = 7 * 24 * time.Hour
	criticalWindow     = 24 * time.Hour
)

type Group struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"type:varchar(100);not null;uniqueIndex:idx_group_owner_name" json:"name"`
	Avatar    string `gorm:"type:varchar(255)" json:"avatar"`
	OwnerID   uint   `gorm:"not null;uniqueIndex:idx_group_owner_name" json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	// 到期时间在创建时设定，只能通过显式的extend操作向后推
	ExpiresAt time.Time      `gorm:"not null;index" json:"expires_at"`
	UpdatedAt time.Time      `json:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Owner   User          `gorm:"foreignKey:OwnerID" json:"owner"`
	Members []GroupMember `gorm:"foreignKey:GroupID" json:"members"`
}

// 剩余存活时间，已过期时为负
func (g *Group) Remaining(now time.Time) time.Duration {
	return g.ExpiresAt.Sub(now)
}

func (g *Group) LifecycleState(now time.Time) LifecycleState {
	remaining := g.Remaining(now)
	switch {
	case remaining <= 0:
		return StateExpired
	case remaining <= criticalWindow:
		return StateCritical
	case remaining <= expiringSoonWindow:
		return StateExpiringSoon
	default:
		return StateActive
	}
}

func (g *Group) IsExpired(now time.Time) bool {
	return !g.ExpiresAt.After(now)
}

// 创建者的特权是隐式的，不依赖Members中的角色字段
func (g *Group) IsCreator(userID uint) bool {
	return g.OwnerID == userID
}

func (g *Group) IsAdmin(userID uint) bool {
	for _, m := range g.Members {
		if m.UserID == userID && m.Role == RoleAdmin {
			return true
		}
	}
	return false
}

func (g *Group) IsMember(userID uint) bool {
	if g.OwnerID == userID {
		return true
	}
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// 管理类操作（删他人消息、延期、提升/移除成员）只对创建者和管理员开放
func (g *Group) CanAdminister(userID uint) bool {
	return g.IsCreator(userID) || g.IsAdmin(userID)
}

// 删除一条消息：发送者本人可以删，创建者/管理员可以代删（内容治理）
func (g *Group) CanDeleteMessage(actorID, senderID uint) bool {
	return actorID == senderID || g.CanAdminister(actorID)
}
