package postgres

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/storage"
	"tempmail/inbox/internal/storage/storagetest"
)

func TestGormPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEMPMAIL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEMPMAIL_TEST_POSTGRES_DSN 未设置，跳过 PostgreSQL 测试")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		client, err := New(&config.DatabaseConfig{DSN: dsn, MaxOpenConns: 5, MaxIdleConns: 1, ConnMaxLifetime: time.Minute}, zap.NewNop())
		require.NoError(t, err)
		s, err := NewStore(client)
		require.NoError(t, err)
		require.NoError(t, s.DB().Exec("DELETE FROM messages").Error)
		require.NoError(t, s.DB().Exec("DELETE FROM inboxes").Error)
		return s
	})
}

func TestGormMySQLStore(t *testing.T) {
	dsn := os.Getenv("TEMPMAIL_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEMPMAIL_TEST_MYSQL_DSN 未设置，跳过 MySQL 测试")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := NewMySQLStore(dsn)
		require.NoError(t, err)
		require.NoError(t, s.DB().Exec("DELETE FROM messages").Error)
		require.NoError(t, s.DB().Exec("DELETE FROM inboxes").Error)
		return s
	})
}

func TestNormalizeMySQLDSN(t *testing.T) {
	t.Run("补充 parseTime 与 UTC", func(t *testing.T) {
		dsn, err := NormalizeMySQLDSN("user:pass@tcp(localhost:3306)/tempmail")
		require.NoError(t, err)
		assert.Contains(t, dsn, "parseTime=true")
		assert.Contains(t, dsn, "tcp(localhost:3306)/tempmail")
	})

	t.Run("非法 DSN", func(t *testing.T) {
		_, err := NormalizeMySQLDSN("::not a dsn")
		assert.Error(t, err)
	})
}

func TestNewClient_RequiresDSN(t *testing.T) {
	_, err := New(&config.DatabaseConfig{}, zap.NewNop())
	assert.Error(t, err)
}
