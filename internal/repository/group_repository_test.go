package repository

import (
	"fmt"
	"testing"
	"time"

	"go-social-chat/internal/model"
	"go-social-chat/pkg/config"
	"go-social-chat/pkg/db"
	"go-social-chat/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// --- Test Setup ---

func setupTestGroups(t *testing.T) (*GroupRepository, *GroupMemberRepository, *UserRepository) {
	if err := config.InitTest(); err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}
	if logger.L == nil {
		err := logger.InitLogger(config.GlobalConfig.Log.Level, config.GlobalConfig.Log.ProductionMode)
		if err != nil {
			t.Logf("Logger init failed (using default): %v", err)
		}
	}
	err := db.InitDB()
	require.NoError(t, err, "Failed to connect to test database")

	// Cleanups run LIFO: child tables go first so FK constraints hold.
	t.Cleanup(func() { cleanupUserTable(t) })
	t.Cleanup(func() { cleanupGroupTable(t) })
	t.Cleanup(func() { cleanupGroupMemberTable(t) })

	return NewGroupRepository(), NewGroupMemberRepository(), NewUserRepository()
}

func cleanupGroupTable(t *testing.T) {
	if err := db.DB.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(&model.Group{}).Error; err != nil {
		t.Logf("Warning: Failed to cleanup groups table: %v", err)
	}
}

func cleanupGroupMemberTable(t *testing.T) {
	if err := db.DB.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(&model.GroupMember{}).Error; err != nil {
		t.Logf("Warning: Failed to cleanup group_members table: %v", err)
	}
}

func cleanupUserTable(t *testing.T) {
	if err := db.DB.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(&model.User{}).Error; err != nil {
		t.Logf("Warning: Failed to cleanup users table: %v", err)
	}
}

func createTestUserForGroup(t *testing.T, userRepo *UserRepository, username string) *model.User {
	user := &model.User{
		Username: username,
		Password: "testpassword",
		Email:    fmt.Sprintf("%s@example.com", username),
		Avatar:   "default.png",
	}
	err := userRepo.Create(user)
	require.NoError(t, err, "Failed to create test user %s", username)
	require.True(t, user.ID > 0)
	return user
}

// --- Tests ---

func TestGroupRepository_Create(t *testing.T) {
	groupRepo, groupMemberRepo, userRepo := setupTestGroups(t)
	owner := createTestUserForGroup(t, userRepo, "groupOwner1")

	group := &model.Group{
		Name:      "Test Group Alpha",
		OwnerID:   owner.ID,
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
	}

	err := groupRepo.Create(group)
	require.NoError(t, err)
	assert.True(t, group.ID > 0, "Group ID should be set after creation")

	foundGroup, err := groupRepo.FindByID(group.ID)
	require.NoError(t, err)
	require.NotNil(t, foundGroup)
	assert.Equal(t, group.Name, foundGroup.Name)
	assert.Equal(t, owner.ID, foundGroup.OwnerID)
	assert.WithinDuration(t, group.ExpiresAt, foundGroup.ExpiresAt, time.Second)

	// The creator is added as an admin member in the same transaction
	ownerMember, err := groupMemberRepo.FindMember(group.ID, owner.ID)
	require.NoError(t, err)
	require.NotNil(t, ownerMember, "Owner should be added as a member")
	assert.Equal(t, model.RoleAdmin, ownerMember.Role)
}

func TestGroupRepository_Create_UniqueConstraint(t *testing.T) {
	groupRepo, _, userRepo := setupTestGroups(t)
	owner1 := createTestUserForGroup(t, userRepo, "uniqueOwner1")
	owner2 := createTestUserForGroup(t, userRepo, "uniqueOwner2")
	groupName := "Unique Constraint Test Group"
	expires := time.Now().Add(30 * 24 * time.Hour)

	group1 := &model.Group{Name: groupName, OwnerID: owner1.ID, ExpiresAt: expires}
	require.NoError(t, groupRepo.Create(group1))

	// Same owner + same name must fail
	dup := &model.Group{Name: groupName, OwnerID: owner1.ID, ExpiresAt: expires}
	assert.Error(t, groupRepo.Create(dup))

	// A different owner can reuse the name
	group2 := &model.Group{Name: groupName, OwnerID: owner2.ID, ExpiresAt: expires}
	assert.NoError(t, groupRepo.Create(group2))
}

func TestGroupRepository_ExtendExpiry(t *testing.T) {
	groupRepo, _, userRepo := setupTestGroups(t)
	owner := createTestUserForGroup(t, userRepo, "extendOwner")

	initial := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	group := &model.Group{Name: "Extend Test Group", OwnerID: owner.ID, ExpiresAt: initial}
	require.NoError(t, groupRepo.Create(group))

	// Extending to a later time succeeds
	later := initial.Add(7 * 24 * time.Hour)
	extended, err := groupRepo.ExtendExpiry(group.ID, later)
	require.NoError(t, err)
	assert.True(t, extended)

	found, err := groupRepo.FindByID(group.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, later, found.ExpiresAt, time.Second)

	// An earlier target is rejected and the stored value stays put.
	// Two racing extends therefore converge on the later of the two.
	extended, err = groupRepo.ExtendExpiry(group.ID, initial.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, extended)

	found, err = groupRepo.FindByID(group.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, later, found.ExpiresAt, time.Second)

	// Unknown group extends nothing
	extended, err = groupRepo.ExtendExpiry(99999, later.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, extended)
}

func TestGroupRepository_FindUserGroups(t *testing.T) {
	groupRepo, groupMemberRepo, userRepo := setupTestGroups(t)
	owner := createTestUserForGroup(t, userRepo, "findOwner")
	member := createTestUserForGroup(t, userRepo, "findMember")
	outsider := createTestUserForGroup(t, userRepo, "findOutsider")
	expires := time.Now().Add(30 * 24 * time.Hour)

	group1 := &model.Group{Name: "Find Group One", OwnerID: owner.ID, ExpiresAt: expires}
	require.NoError(t, groupRepo.Create(group1))
	group2 := &model.Group{Name: "Find Group Two", OwnerID: owner.ID, ExpiresAt: expires}
	require.NoError(t, groupRepo.Create(group2))

	require.NoError(t, groupMemberRepo.AddMember(group1.ID, member.ID, model.RoleMember))

	ownerGroups, err := groupRepo.FindUserGroups(owner.ID)
	require.NoError(t, err)
	assert.Len(t, ownerGroups, 2)

	memberGroups, err := groupRepo.FindUserGroups(member.ID)
	require.NoError(t, err)
	require.Len(t, memberGroups, 1)
	assert.Equal(t, group1.ID, memberGroups[0].ID)

	outsiderGroups, err := groupRepo.FindUserGroups(outsider.ID)
	require.NoError(t, err)
	assert.Empty(t, outsiderGroups)
}
