package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	"github.com/lorrc/marketplace-realtime/internal/core/errors"
)

func TestChatRepository_CreateOrGet(t *testing.T) {
	ctx := context.Background()
	repo := NewChatRepository(testPool)

	buyer := seedUser(t, "Buyer", domain.RoleBuyer)
	supplier := seedUser(t, "Supplier", domain.RoleSupplier)

	first, err := domain.NewChat(buyer.ID, supplier.ID)
	require.NoError(t, err)

	created, isNew, err := repo.CreateOrGet(ctx, first)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, first.ID, created.ID)

	t.Run("same pair from the other side returns the existing chat", func(t *testing.T) {
		again, err := domain.NewChat(supplier.ID, buyer.ID)
		require.NoError(t, err)

		existing, isNew, err := repo.CreateOrGet(ctx, again)
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, created.ID, existing.ID)
	})

	t.Run("GetByID", func(t *testing.T) {
		found, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, found.HasParticipant(buyer.ID))
		assert.True(t, found.HasParticipant(supplier.ID))
	})

	t.Run("GetByID not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, errors.ErrChatNotFound)
	})
}

func TestChatRepository_ListByParticipant(t *testing.T) {
	ctx := context.Background()
	chats := NewChatRepository(testPool)
	messages := NewMessageRepository(testPool)

	me := seedUser(t, "Me", domain.RoleBuyer)
	alice := seedUser(t, "Alice", domain.RoleSupplier)
	bob := seedUser(t, "Bob", domain.RoleSupplier)

	withAlice, _ := domain.NewChat(me.ID, alice.ID)
	withAlice, _, err := chats.CreateOrGet(ctx, withAlice)
	require.NoError(t, err)

	withBob, _ := domain.NewChat(me.ID, bob.ID)
	withBob, _, err = chats.CreateOrGet(ctx, withBob)
	require.NoError(t, err)

	// Alice writes twice, I reply once; Bob stays silent.
	for _, text := range []string{"hello", "are you there?"} {
		msg, err := domain.NewTextMessage(withAlice.ID, alice.ID, text)
		require.NoError(t, err)
		_, err = messages.Create(ctx, msg)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	reply, _ := domain.NewTextMessage(withAlice.ID, me.ID, "yes")
	_, err = messages.Create(ctx, reply)
	require.NoError(t, err)
	require.NoError(t, chats.Touch(ctx, withAlice.ID, time.Now().UTC().Add(time.Minute)))

	list, err := chats.ListByParticipant(ctx, me.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, withAlice.ID, list[0].ID, "most recently active chat comes first")
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "yes", list[0].LastMessage.Text)
	assert.Equal(t, 2, list[0].UnreadCount)

	assert.Equal(t, withBob.ID, list[1].ID)
	assert.Nil(t, list[1].LastMessage)
	assert.Zero(t, list[1].UnreadCount)
}

func TestChatRepository_Touch_NotFound(t *testing.T) {
	err := NewChatRepository(testPool).Touch(context.Background(), uuid.New(), time.Now())
	assert.ErrorIs(t, err, errors.ErrChatNotFound)
}

func TestMessageRepository_ListAndMarkRead(t *testing.T) {
	ctx := context.Background()
	chats := NewChatRepository(testPool)
	messages := NewMessageRepository(testPool)

	a := seedUser(t, "A", domain.RoleBuyer)
	b := seedUser(t, "B", domain.RoleSupplier)
	chat, _ := domain.NewChat(a.ID, b.ID)
	chat, _, err := chats.CreateOrGet(ctx, chat)
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, text := range []string{"one", "two", "three"} {
		msg, err := domain.NewTextMessage(chat.ID, b.ID, text)
		require.NoError(t, err)
		msg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err = messages.Create(ctx, msg)
		require.NoError(t, err)
	}
	img, err := domain.NewImageMessage(chat.ID, a.ID, "/api/uploads/chats/x.png")
	require.NoError(t, err)
	img.CreatedAt = base.Add(10 * time.Second)
	_, err = messages.Create(ctx, img)
	require.NoError(t, err)

	t.Run("limit keeps the most recent, oldest first", func(t *testing.T) {
		list, err := messages.ListByChat(ctx, chat.ID, 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "three", list[0].Text)
		assert.Equal(t, "/api/uploads/chats/x.png", list[1].ImageURL)
		assert.Empty(t, list[1].Text)
	})

	t.Run("reader marks only the counterpart's messages", func(t *testing.T) {
		n, err := messages.MarkReadBy(ctx, chat.ID, a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = messages.MarkReadBy(ctx, chat.ID, a.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		list, err := messages.ListByChat(ctx, chat.ID, 10)
		require.NoError(t, err)
		require.Len(t, list, 4)
		assert.False(t, list[3].IsRead, "own image message stays unread")
	})
}

func TestTransactionManager_Rollback(t *testing.T) {
	ctx := context.Background()
	tm := NewTransactionManager(testPool)
	chats := NewChatRepository(testPool)
	messages := NewMessageRepository(testPool)

	a := seedUser(t, "A", domain.RoleBuyer)
	b := seedUser(t, "B", domain.RoleSupplier)
	chat, _ := domain.NewChat(a.ID, b.ID)
	chat, _, err := chats.CreateOrGet(ctx, chat)
	require.NoError(t, err)

	boom := errors.ErrInternal
	err = tm.WithTransaction(ctx, func(ctx context.Context) error {
		msg, _ := domain.NewTextMessage(chat.ID, a.ID, "lost")
		if _, err := messages.Create(ctx, msg); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, err := messages.ListByChat(ctx, chat.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}
