package service

import (
	"testing"

	"go-social-chat/internal/event"
	"go-social-chat/internal/model"
	"go-social-chat/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEventRouter(t *testing.T) (*EventRouter, *fakeHub, *model.User, *model.User) {
	setupTestDB(t)
	t.Cleanup(func() { cleanupTable(t, &model.User{}) })
	t.Cleanup(func() { cleanupTable(t, &model.Message{}) })
	t.Cleanup(func() { cleanupTable(t, &model.Group{}) })
	t.Cleanup(func() { cleanupTable(t, &model.GroupMember{}) })
	t.Cleanup(func() { cleanupTable(t, &model.GroupMessage{}) })

	hub := &fakeHub{}
	chatService := NewChatService(hub, repository.NewMessageRepository(), repository.NewUserRepository())
	groupService := NewGroupService(
		hub,
		repository.NewGroupRepository(),
		repository.NewGroupMemberRepository(),
		repository.NewGroupMessageRepository(),
		repository.NewUserRepository(),
	)
	router := NewEventRouter(hub, chatService, groupService)

	sender := createServiceTestUser(t, "routerSender")
	receiver := createServiceTestUser(t, "routerReceiver")
	return router, hub, sender, receiver
}

func TestEventRouter_RoutesDirectMessage(t *testing.T) {
	router, hub, sender, receiver := setupEventRouter(t)

	env := event.MustMarshal(event.AddMessageToServer, event.SendMessagePayload{
		ClientID:   "ws-draft-1",
		Content:    "via socket",
		ReceiverID: receiver.ID,
	})
	frame, err := env.Encode()
	require.NoError(t, err)

	router.HandleEvent(frame, sender.ID)

	// 消息已落库
	msgs, err := repository.NewMessageRepository().FindMessagesBetweenUsers(sender.ID, receiver.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "via socket", msgs[0].Content)

	// 接收方推送 + 发送方回声
	assert.Len(t, hub.directEvents(), 2)
}

func TestEventRouter_RoutesTyping(t *testing.T) {
	router, hub, sender, receiver := setupEventRouter(t)

	env := event.MustMarshal(event.Typing, event.TypingPayload{To: receiver.ID})
	frame, err := env.Encode()
	require.NoError(t, err)
	router.HandleEvent(frame, sender.ID)

	env = event.MustMarshal(event.StopTyping, event.TypingPayload{To: receiver.ID})
	frame, err = env.Encode()
	require.NoError(t, err)
	router.HandleEvent(frame, sender.ID)

	direct := hub.directEvents()
	require.Len(t, direct, 2)
	assert.Equal(t, event.Typing, direct[0].Event)
	assert.Equal(t, event.StopTyping, direct[1].Event)
}

func TestEventRouter_ActiveUsersQuery(t *testing.T) {
	router, hub, sender, _ := setupEventRouter(t)

	env := event.MustMarshal(event.ActiveUsers, struct{}{})
	frame, err := env.Encode()
	require.NoError(t, err)
	router.HandleEvent(frame, sender.ID)

	direct := hub.directEvents()
	require.Len(t, direct, 1)
	assert.Equal(t, event.ActiveUsers, direct[0].Event)
}

func TestEventRouter_IgnoresMalformedAndUnknownFrames(t *testing.T) {
	router, hub, sender, _ := setupEventRouter(t)

	router.HandleEvent([]byte("not json"), sender.ID)
	router.HandleEvent([]byte(`{"event":"somethingNew","data":{}}`), sender.ID)
	router.HandleEvent([]byte(`{"data":{}}`), sender.ID)

	assert.Empty(t, hub.directEvents())
	assert.Empty(t, hub.eventNames())
}

// 经WebSocket入群：非成员被拒绝，成员成功并广播joinGroup
func TestEventRouter_JoinGroupMembershipCheck(t *testing.T) {
	router, hub, sender, receiver := setupEventRouter(t)

	groupService := NewGroupService(
		hub,
		repository.NewGroupRepository(),
		repository.NewGroupMemberRepository(),
		repository.NewGroupMessageRepository(),
		repository.NewUserRepository(),
	)
	group, err := groupService.CreateGroup(sender.ID, CreateGroupRequest{Name: "Router Group"})
	require.NoError(t, err)

	env := event.MustMarshal(event.JoinGroup, event.RoomPayload{GroupID: group.ID})
	frame, err := env.Encode()
	require.NoError(t, err)

	// receiver不是成员，加入被拒绝，没有广播
	router.HandleEvent(frame, receiver.ID)
	assert.NotContains(t, hub.eventNames(), event.JoinGroup)

	// 群主加入成功
	router.HandleEvent(frame, sender.ID)
	assert.Contains(t, hub.eventNames(), event.JoinGroup)
}
