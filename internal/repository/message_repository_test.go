package repository

import (
	"testing"
	"time"

	"go-social-chat/internal/model"
	"go-social-chat/pkg/config"
	"go-social-chat/pkg/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestMessages(t *testing.T) (*MessageRepository, *model.User, *model.User) {
	if err := config.InitTest(); err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}
	if err := db.InitDB(); err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	t.Cleanup(func() { cleanupUserTable(t) })
	t.Cleanup(func() { cleanupMessageTable(t) })

	userRepo := NewUserRepository()
	user1 := createTestUserForGroup(t, userRepo, "msgUser1")
	user2 := createTestUserForGroup(t, userRepo, "msgUser2")

	return NewMessageRepository(), user1, user2
}

func cleanupMessageTable(t *testing.T) {
	if err := db.DB.Exec("DELETE FROM messages").Error; err != nil {
		t.Logf("Warning: Failed to cleanup messages table: %v", err)
	}
}

func TestMessageRepository_Create(t *testing.T) {
	messageRepo, user1, user2 := setupTestMessages(t)

	message := &model.Message{
		Content:    "Test message",
		SenderID:   user1.ID,
		ReceiverID: user2.ID,
		Status:     model.StatusSent,
	}
	require.NoError(t, messageRepo.Create(message))
	assert.True(t, message.ID > 0)

	found, err := messageRepo.FindByID(message.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Test message", found.Content)
	assert.Equal(t, model.StatusSent, found.Status)
}

// 历史分页：页内新到旧，offset向更旧的方向推进，与总数一起驱动load-more
func TestMessageRepository_FindMessagesBetweenUsers(t *testing.T) {
	messageRepo, user1, user2 := setupTestMessages(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		sender, receiver := user1.ID, user2.ID
		if i%2 == 1 {
			sender, receiver = user2.ID, user1.ID
		}
		require.NoError(t, messageRepo.Create(&model.Message{
			Content:    string(rune('a' + i)),
			SenderID:   sender,
			ReceiverID: receiver,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	total, err := messageRepo.CountMessagesBetweenUsers(user1.ID, user2.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	// First page holds the two newest, ordered newest first
	page1, err := messageRepo.FindMessagesBetweenUsers(user1.ID, user2.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "e", page1[0].Content)
	assert.Equal(t, "d", page1[1].Content)

	page2, err := messageRepo.FindMessagesBetweenUsers(user1.ID, user2.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "c", page2[0].Content)
	assert.Equal(t, "b", page2[1].Content)

	page3, err := messageRepo.FindMessagesBetweenUsers(user1.ID, user2.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "a", page3[0].Content)
}

func TestMessageRepository_MarkConversationRead(t *testing.T) {
	messageRepo, user1, user2 := setupTestMessages(t)

	// user1 -> user2 twice, user2 -> user1 once
	for i := 0; i < 2; i++ {
		require.NoError(t, messageRepo.Create(&model.Message{
			Content:    "to user2",
			SenderID:   user1.ID,
			ReceiverID: user2.ID,
			Status:     model.StatusDelivered,
		}))
	}
	require.NoError(t, messageRepo.Create(&model.Message{
		Content:    "to user1",
		SenderID:   user2.ID,
		ReceiverID: user1.ID,
		Status:     model.StatusDelivered,
	}))

	// user2 reads the conversation: only messages sent by user1 flip to read
	updated, err := messageRepo.MarkConversationRead(user1.ID, user2.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	msgs, err := messageRepo.FindMessagesBetweenUsers(user1.ID, user2.ID, 10, 0)
	require.NoError(t, err)
	for _, m := range msgs {
		if m.SenderID == user1.ID {
			assert.Equal(t, model.StatusRead, m.Status)
		} else {
			assert.Equal(t, model.StatusDelivered, m.Status)
		}
	}

	// Second pass finds nothing left to update
	updated, err = messageRepo.MarkConversationRead(user1.ID, user2.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated)
}

func TestMessageRepository_DeleteMessage(t *testing.T) {
	messageRepo, user1, user2 := setupTestMessages(t)

	message := &model.Message{
		Content:    "to be removed",
		SenderID:   user1.ID,
		ReceiverID: user2.ID,
	}
	require.NoError(t, messageRepo.Create(message))

	require.NoError(t, messageRepo.DeleteMessage(message.ID))

	found, err := messageRepo.FindByID(message.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}
