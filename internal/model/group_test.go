package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGroup_LifecycleState(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      LifecycleState
	}{
		{"30 days left", now.Add(30 * 24 * time.Hour), StateActive},
		{"exactly 7 days left", now.Add(7 * 24 * time.Hour), StateExpiringSoon},
		{"3 days left", now.Add(3 * 24 * time.Hour), StateExpiringSoon},
		{"exactly 24 hours left", now.Add(24 * time.Hour), StateCritical},
		{"30 minutes left", now.Add(30 * time.Minute), StateCritical},
		{"expired a minute ago", now.Add(-time.Minute), StateExpired},
		{"expires right now", now, StateExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Group{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, g.LifecycleState(now))
		})
	}
}

func TestGroup_IsExpired(t *testing.T) {
	now := time.Now()
	assert.True(t, (&Group{ExpiresAt: now}).IsExpired(now))
	assert.True(t, (&Group{ExpiresAt: now.Add(-time.Hour)}).IsExpired(now))
	assert.False(t, (&Group{ExpiresAt: now.Add(time.Hour)}).IsExpired(now))
}

func TestGroup_Permissions(t *testing.T) {
	g := &Group{
		OwnerID: 1,
		Members: []GroupMember{
			{UserID: 1, Role: RoleAdmin},
			{UserID: 2, Role: RoleAdmin},
			{UserID: 3, Role: RoleMember},
		},
	}

	// 创建者和管理员可以治理，普通成员不行
	assert.True(t, g.CanAdminister(1))
	assert.True(t, g.CanAdminister(2))
	assert.False(t, g.CanAdminister(3))
	assert.False(t, g.CanAdminister(99))

	// 本人可删自己的消息，管理员可代删，普通成员不能删他人的
	assert.True(t, g.CanDeleteMessage(3, 3))
	assert.True(t, g.CanDeleteMessage(2, 3))
	assert.True(t, g.CanDeleteMessage(1, 3))
	assert.False(t, g.CanDeleteMessage(3, 2))

	assert.True(t, g.IsMember(1))
	assert.True(t, g.IsMember(3))
	assert.False(t, g.IsMember(99))
}
