package sql

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/storage"
	"tempmail/inbox/internal/storage/storagetest"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(DriverSQLite, ":memory:", 1, 1, 0)
	require.NoError(t, err)
	return s
}

func TestSQLiteStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newSQLiteStore(t)
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEMPMAIL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEMPMAIL_TEST_POSTGRES_DSN 未设置，跳过 PostgreSQL 测试")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := NewStore(DriverPostgres, dsn, 5, 2, time.Minute)
		require.NoError(t, err)
		s.DB().MustExec("DELETE FROM messages")
		s.DB().MustExec("DELETE FROM inboxes")
		return s
	})
}

func TestNewStore_UnsupportedDriver(t *testing.T) {
	_, err := NewStore("oracle", "dsn", 1, 1, 0)
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newSQLiteStore(t)
	defer s.Close()

	require.NoError(t, Migrate(context.Background(), s.DB(), DriverSQLite))
	assert.Contains(t, Schema(), "CREATE TABLE IF NOT EXISTS inboxes")
}

func TestSQLiteStore_CascadeOnInboxDelete(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	defer s.Close()

	inbox := domain.NewInbox("alice@tempmail.local", false, storagetest.Base, time.Hour, 2*time.Hour)
	require.NoError(t, s.InsertInbox(ctx, inbox))
	_, err := s.InsertMessage(ctx, &domain.Message{ID: "m1", InboxAddress: inbox.Address, Date: storagetest.Base})
	require.NoError(t, err)

	// 绕过存储层直接删除收件箱，外键级联仍然清理邮件
	s.DB().MustExec("DELETE FROM inboxes WHERE address = $1", inbox.Address)

	var count int
	require.NoError(t, s.DB().Get(&count, "SELECT COUNT(*) FROM messages"))
	assert.Zero(t, count)
}
