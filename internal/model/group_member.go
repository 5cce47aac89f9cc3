package model

import (
	"time"

	"gorm.io/gorm"
)

// 成员角色（创建者不在成员角色里体现，见Group.IsCreator）
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type GroupMember struct {
	GroupID   uint   `gorm:"primaryKey;autoIncrement:false" json:"group_id"`
	UserID    uint   `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Role      string `gorm:"type:varchar(20);default:'member'" json:"role"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Group Group `gorm:"foreignKey:GroupID" json:"-"`
	User  User  `gorm:"foreignKey:UserID" json:"user"`
}
