package service

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go-social-chat/internal/event"
	"go-social-chat/internal/interfaces"
	"go-social-chat/internal/model"
	"go-social-chat/internal/repository"
	"go-social-chat/pkg/config"
	"go-social-chat/pkg/db"
	"go-social-chat/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// --- Test Setup ---

// 假的连接管理器，记录房间广播，服务层测试不需要真实的WebSocket
type fakeHub struct {
	mu           sync.Mutex
	connected    map[uint]bool
	direct       []event.Envelope
	broadcasts   []event.Envelope
	left         [][2]uint
	sendErr      error
	broadcastErr error
}

func (f *fakeHub) setConnected(userID uint, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected == nil {
		f.connected = make(map[uint]bool)
	}
	f.connected[userID] = online
}

func (f *fakeHub) Register(client interfaces.Client) {}
func (f *fakeHub) Unregister(client interfaces.Client) {}
func (f *fakeHub) SendToUser(userID uint, env event.Envelope) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return false, f.sendErr
	}
	f.direct = append(f.direct, env)
	return f.connected[userID], nil
}
func (f *fakeHub) BroadcastToRoom(groupID uint, env event.Envelope, exceptUserID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcastErr != nil {
		return f.broadcastErr
	}
	f.broadcasts = append(f.broadcasts, env)
	return nil
}
func (f *fakeHub) JoinRoom(groupID, userID uint) {}
func (f *fakeHub) LeaveRoom(groupID, userID uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, [2]uint{groupID, userID})
}
func (f *fakeHub) IsClientConnected(userID uint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[userID]
}
func (f *fakeHub) ActiveUsers() []uint { return nil }
func (f *fakeHub) SetEventHandler(handler interfaces.ConnectionEventHandler) {}

func (f *fakeHub) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.broadcasts))
	for i, env := range f.broadcasts {
		names[i] = env.Event
	}
	return names
}

func (f *fakeHub) directEvents() []event.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Envelope(nil), f.direct...)
}

func setupGroupService(t *testing.T) (*GroupService, *fakeHub, *repository.GroupRepository) {
	if err := config.InitTest(); err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}
	if logger.L == nil {
		if err := logger.InitLogger("debug", false); err != nil {
			t.Fatalf("Failed to initialize logger: %v", err)
		}
	}
	require.NoError(t, db.InitDB(), "Failed to connect to test database")

	// Cleanups run LIFO: child tables go first so FK constraints hold.
	t.Cleanup(func() { cleanupTable(t, &model.User{}) })
	t.Cleanup(func() { cleanupTable(t, &model.Group{}) })
	t.Cleanup(func() { cleanupTable(t, &model.GroupMember{}) })
	t.Cleanup(func() { cleanupTable(t, &model.GroupMessage{}) })

	hub := &fakeHub{}
	groupRepo := repository.NewGroupRepository()
	svc := NewGroupService(
		hub,
		groupRepo,
		repository.NewGroupMemberRepository(),
		repository.NewGroupMessageRepository(),
		repository.NewUserRepository(),
	)
	return svc, hub, groupRepo
}

func cleanupTable(t *testing.T, m interface{}) {
	if err := db.DB.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(m).Error; err != nil {
		t.Logf("Warning: Failed to cleanup table %T: %v", m, err)
	}
}

func createServiceTestUser(t *testing.T, username string) *model.User {
	user := &model.User{
		Username: username,
		Password: "testpassword",
		Email:    fmt.Sprintf("%s@example.com", username),
	}
	require.NoError(t, repository.NewUserRepository().Create(user))
	return user
}

// 建一个群：creator为群主，admin提升为管理员，member为普通成员
func createTestGroup(t *testing.T, svc *GroupService) (*model.Group, *model.User, *model.User, *model.User) {
	creator := createServiceTestUser(t, "svcCreator")
	admin := createServiceTestUser(t, "svcAdmin")
	member := createServiceTestUser(t, "svcMember")

	group, err := svc.CreateGroup(creator.ID, CreateGroupRequest{Name: "Service Test Group"})
	require.NoError(t, err)

	require.NoError(t, svc.AddGroupMember(group.ID, admin.ID, creator.ID))
	require.NoError(t, svc.AddGroupMember(group.ID, member.ID, creator.ID))
	require.NoError(t, svc.PromoteMember(group.ID, admin.ID, creator.ID))

	return group, creator, admin, member
}

// --- Tests ---

func TestGroupService_CreateGroupSetsExpiry(t *testing.T) {
	svc, _, _ := setupGroupService(t)
	creator := createServiceTestUser(t, "expiryCreator")

	before := time.Now()
	group, err := svc.CreateGroup(creator.ID, CreateGroupRequest{Name: "Expiring Group"})
	require.NoError(t, err)

	ttl := time.Duration(config.GlobalConfig.Group.DefaultTTLHours) * time.Hour
	assert.WithinDuration(t, before.Add(ttl), group.ExpiresAt, 5*time.Second)

	// 同名重复创建被拒绝
	_, err = svc.CreateGroup(creator.ID, CreateGroupRequest{Name: "Expiring Group"})
	assert.ErrorIs(t, err, ErrGroupNameTaken)
}

func TestGroupService_SendGroupMessage(t *testing.T) {
	svc, hub, _ := setupGroupService(t)
	group, _, _, member := createTestGroup(t, svc)
	outsider := createServiceTestUser(t, "svcOutsider")

	payload, err := svc.SendGroupMessage(group.ID, member.ID, GroupMessageRequest{
		ClientID: "draft-abc",
		Content:  "hello group",
	})
	require.NoError(t, err)
	assert.True(t, payload.ID > 0)
	assert.Equal(t, "draft-abc", payload.ClientID)
	assert.Contains(t, hub.eventNames(), event.AddGroupMessageToClient)

	// 非成员不能发言
	_, err = svc.SendGroupMessage(group.ID, outsider.ID, GroupMessageRequest{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotMember)

	// 空消息被拒绝
	_, err = svc.SendGroupMessage(group.ID, member.ID, GroupMessageRequest{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

// 已过期的群只读：发送被拒绝，历史仍然可读
func TestGroupService_ExpiredGroupIsReadOnly(t *testing.T) {
	svc, _, _ := setupGroupService(t)
	group, creator, _, member := createTestGroup(t, svc)

	_, err := svc.SendGroupMessage(group.ID, member.ID, GroupMessageRequest{Content: "before expiry"})
	require.NoError(t, err)

	// 把时钟拨到到期之后
	svc.now = func() time.Time { return group.ExpiresAt.Add(time.Minute) }

	_, err = svc.SendGroupMessage(group.ID, member.ID, GroupMessageRequest{Content: "too late"})
	assert.ErrorIs(t, err, ErrGroupExpired)

	page, err := svc.GetGroupChatHistory(group.ID, member.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	_, state, err := svc.GetGroupInfo(group.ID, creator.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, state)
}

func TestGroupService_ExtendExpiry(t *testing.T) {
	svc, hub, _ := setupGroupService(t)
	group, creator, _, member := createTestGroup(t, svc)

	// 普通成员不能延期
	_, err := svc.ExtendExpiry(group.ID, group.ExpiresAt.Add(24*time.Hour), member.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// 新时间不晚于当前到期时间也被拒绝
	_, err = svc.ExtendExpiry(group.ID, group.ExpiresAt.Add(-time.Hour), creator.ID)
	assert.ErrorIs(t, err, ErrExpiryNotLater)

	later := group.ExpiresAt.Add(7 * 24 * time.Hour)
	updated, err := svc.ExtendExpiry(group.ID, later, creator.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, later, updated.ExpiresAt, time.Second)
	assert.Contains(t, hub.eventNames(), event.GroupUpdated)
}

func TestGroupService_RemoveMemberRules(t *testing.T) {
	svc, hub, _ := setupGroupService(t)
	group, creator, admin, member := createTestGroup(t, svc)

	// 创建者不可被移除
	err := svc.RemoveGroupMember(group.ID, creator.ID, admin.ID)
	assert.ErrorIs(t, err, ErrCannotRemoveCreator)

	// 普通成员不能移除他人
	err = svc.RemoveGroupMember(group.ID, admin.ID, member.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// 管理员不能移除其他管理员（只有创建者可以）
	secondAdmin := createServiceTestUser(t, "svcAdmin2")
	require.NoError(t, svc.AddGroupMember(group.ID, secondAdmin.ID, creator.ID))
	require.NoError(t, svc.PromoteMember(group.ID, secondAdmin.ID, creator.ID))
	err = svc.RemoveGroupMember(group.ID, secondAdmin.ID, admin.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	require.NoError(t, svc.RemoveGroupMember(group.ID, secondAdmin.ID, creator.ID))

	// 管理员可以移除普通成员，被移除者退出房间
	require.NoError(t, svc.RemoveGroupMember(group.ID, member.ID, admin.ID))
	hub.mu.Lock()
	left := append([][2]uint(nil), hub.left...)
	hub.mu.Unlock()
	assert.Contains(t, left, [2]uint{group.ID, member.ID})
	assert.Contains(t, hub.eventNames(), event.MemberRemoved)

	// 成员可以自己退群
	rejoined := createServiceTestUser(t, "svcRejoin")
	require.NoError(t, svc.AddGroupMember(group.ID, rejoined.ID, creator.ID))
	require.NoError(t, svc.RemoveGroupMember(group.ID, rejoined.ID, rejoined.ID))
	assert.Contains(t, hub.eventNames(), event.MemberLeft)
}

// 治理删除：本人可删自己的，管理员可代删，普通成员不能删他人的
func TestGroupService_DeleteMessagesAuthorization(t *testing.T) {
	svc, hub, _ := setupGroupService(t)
	group, creator, admin, member := createTestGroup(t, svc)

	fromMember, err := svc.SendGroupMessage(group.ID, member.ID, GroupMessageRequest{Content: "from member"})
	require.NoError(t, err)
	fromAdmin, err := svc.SendGroupMessage(group.ID, admin.ID, GroupMessageRequest{Content: "from admin"})
	require.NoError(t, err)
	fromCreator, err := svc.SendGroupMessage(group.ID, creator.ID, GroupMessageRequest{Content: "from creator"})
	require.NoError(t, err)

	// 普通成员删他人的消息被拒绝
	err = svc.DeleteMessage(group.ID, fromAdmin.ID, member.ID)
	assert.ErrorIs(t, err, ErrNotMessageOwner)

	// 本人删自己的
	require.NoError(t, svc.DeleteMessage(group.ID, fromMember.ID, member.ID))

	// 管理员治理删除创建者的消息
	require.NoError(t, svc.DeleteMessage(group.ID, fromCreator.ID, admin.ID))

	assert.Contains(t, hub.eventNames(), event.MessageDeleted)

	page, err := svc.GetGroupChatHistory(group.ID, member.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, fromAdmin.ID, page.Messages[0].ID)
}

// 批量删除部分失败：合法子集照常删除，失败的带原因返回
func TestGroupService_DeleteMessagesPartialFailure(t *testing.T) {
	svc, _, _ := setupGroupService(t)
	group, _, admin, member := createTestGroup(t, svc)

	own, err := svc.SendGroupMessage(group.ID, member.ID, GroupMessageRequest{Content: "mine"})
	require.NoError(t, err)
	other, err := svc.SendGroupMessage(group.ID, admin.ID, GroupMessageRequest{Content: "not mine"})
	require.NoError(t, err)

	failed, err := svc.DeleteMessages(group.ID, []uint{own.ID, other.ID, 99999}, member.ID)
	require.NoError(t, err)
	require.Len(t, failed, 2)

	reasons := map[uint]string{}
	for _, f := range failed {
		reasons[f.MessageID] = f.Reason
	}
	assert.Equal(t, ErrNotMessageOwner.Error(), reasons[other.ID])
	assert.Equal(t, ErrMessageNotFound.Error(), reasons[99999])

	// 合法的那条已经删掉
	page, err := svc.GetGroupChatHistory(group.ID, member.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, other.ID, page.Messages[0].ID)
}

// 群消息落库后广播失败同样不回传错误
func TestGroupService_SendGroupMessageSurvivesBroadcastFailure(t *testing.T) {
	svc, hub, _ := setupGroupService(t)
	group, _, _, member := createTestGroup(t, svc)
	hub.broadcastErr = errors.New("broadcast buffer is full")

	payload, err := svc.SendGroupMessage(group.ID, member.ID, GroupMessageRequest{
		Content: "still goes through",
	})
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.True(t, payload.ID > 0)

	page, err := svc.GetGroupChatHistory(group.ID, member.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)
}
