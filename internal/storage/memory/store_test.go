package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/storage"
	"tempmail/inbox/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return NewStore()
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	inbox := domain.NewInbox("alice@tempmail.local", false, storagetest.Base, time.Hour, 2*time.Hour)
	require.NoError(t, s.InsertInbox(ctx, inbox))

	got, err := s.GetInbox(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	got.ExpiresAt = got.MaxExpiresAt.Add(time.Hour)

	again, err := s.GetInbox(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.True(t, inbox.ExpiresAt.Equal(again.ExpiresAt))
}

func BenchmarkMemoryStore_InsertMessage(b *testing.B) {
	ctx := context.Background()
	s := NewStore()
	inbox := domain.NewInbox("bench@tempmail.local", false, storagetest.Base, time.Hour, 2*time.Hour)
	require.NoError(b, s.InsertInbox(ctx, inbox))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.InsertMessage(ctx, &domain.Message{
			ID:           fmt.Sprintf("m-%d", i),
			InboxAddress: inbox.Address,
			Date:         storagetest.Base,
		})
	}
}

func BenchmarkMemoryStore_ListMessages(b *testing.B) {
	ctx := context.Background()
	s := NewStore()
	inbox := domain.NewInbox("bench@tempmail.local", false, storagetest.Base, time.Hour, 2*time.Hour)
	require.NoError(b, s.InsertInbox(ctx, inbox))
	for i := 0; i < 200; i++ {
		_, _ = s.InsertMessage(ctx, &domain.Message{
			ID:           fmt.Sprintf("m-%d", i),
			InboxAddress: inbox.Address,
			Date:         storagetest.Base.Add(time.Duration(i) * time.Second),
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.ListMessages(ctx, inbox.Address)
	}
}
