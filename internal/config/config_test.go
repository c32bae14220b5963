package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
		assert.Equal(t, ":2525", cfg.SMTP.BindAddr)
		assert.Equal(t, int64(10*1024*1024), cfg.SMTP.MaxMessageBytes)
		assert.Equal(t, 100, cfg.SMTP.MaxConnections)
		assert.Equal(t, []string{"tempmail.local"}, cfg.Mailbox.Domains)
		assert.Equal(t, time.Hour, cfg.Mailbox.InitialTTL)
		assert.Equal(t, 2*time.Hour, cfg.Mailbox.MaxTTL)
		assert.Equal(t, time.Hour, cfg.Mailbox.ExtendStep)
		assert.Equal(t, time.Hour, cfg.Mailbox.TrashRetention)
		assert.Equal(t, 5*time.Minute, cfg.Mailbox.CleanupInterval)
		assert.Equal(t, DatabaseSQLite, cfg.Database.Type)
		assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
		assert.False(t, cfg.Redis.Enabled)
		assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, 4, cfg.Notify.Workers)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		t.Setenv("TEMPMAIL_SERVER_PORT", "9090")
		t.Setenv("TEMPMAIL_MAILBOX_DOMAINS", "Custom.Mail, test.dev,custom.mail")
		t.Setenv("TEMPMAIL_MAILBOX_INITIAL_TTL", "30m")
		t.Setenv("TEMPMAIL_DATABASE_TYPE", "memory")
		t.Setenv("TEMPMAIL_REDIS_ENABLED", "true")
		t.Setenv("TEMPMAIL_REDIS_ADDR", "redis:6379")
		t.Setenv("TEMPMAIL_CORS_ALLOWED_ORIGINS", "http://a.com,http://b.com")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, []string{"custom.mail", "test.dev"}, cfg.Mailbox.Domains)
		assert.Equal(t, "custom.mail", cfg.Mailbox.DefaultDomain())
		assert.Equal(t, 30*time.Minute, cfg.Mailbox.InitialTTL)
		assert.Equal(t, DatabaseMemory, cfg.Database.Type)
		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, "redis:6379", cfg.Redis.Address)
		assert.Equal(t, []string{"http://a.com", "http://b.com"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("兼容 MAIL_DOMAINS", func(t *testing.T) {
		t.Setenv("MAIL_DOMAINS", "a.test,b.test")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"a.test", "b.test"}, cfg.Mailbox.Domains)
	})

	t.Run("兼容 MAIL_DOMAIN", func(t *testing.T) {
		t.Setenv("MAIL_DOMAIN", "single.test")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"single.test"}, cfg.Mailbox.Domains)
	})

	t.Run("TEMPMAIL_MAILBOX_DOMAINS 优先", func(t *testing.T) {
		t.Setenv("MAIL_DOMAINS", "legacy.test")
		t.Setenv("TEMPMAIL_MAILBOX_DOMAINS", "primary.test")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"primary.test"}, cfg.Mailbox.Domains)
	})
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"初始寿命超过最大寿命", map[string]string{"TEMPMAIL_MAILBOX_INITIAL_TTL": "3h"}},
		{"寿命非正数", map[string]string{"TEMPMAIL_MAILBOX_MAX_TTL": "0s"}},
		{"未知存储类型", map[string]string{"TEMPMAIL_DATABASE_TYPE": "oracle"}},
		{"域名为空", map[string]string{"TEMPMAIL_MAILBOX_DOMAINS": " , "}},
		{"sqlite 缺少 DSN", map[string]string{"TEMPMAIL_DATABASE_DSN": " "}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseDomains(t *testing.T) {
	assert.Equal(t, []string{"a.com", "b.com"}, parseDomains("@A.com, b.com ,a.com,"))
	assert.Empty(t, parseDomains(""))
}
