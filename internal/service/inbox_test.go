package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/monitoring"
)

func TestInboxService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("随机生成地址", func(t *testing.T) {
		f := newFixture(t, nil)
		inbox, err := f.inboxes.Create(ctx, CreateInboxInput{})
		require.NoError(t, err)

		local, d, ok := domain.SplitAddress(inbox.Address)
		require.True(t, ok)
		assert.Len(t, local, domain.GeneratedUsernameLength)
		assert.Equal(t, "tempmail.local", d)
		assert.False(t, inbox.IsCustom)
		assert.True(t, inbox.ExpiresAt.Equal(base.Add(time.Hour)))
		assert.True(t, inbox.MaxExpiresAt.Equal(base.Add(2*time.Hour)))
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InboxesCreated.WithLabelValues(monitoring.KindGenerated)))
	})

	t.Run("自定义用户名被清洗", func(t *testing.T) {
		f := newFixture(t, nil)
		inbox, err := f.inboxes.Create(ctx, CreateInboxInput{Username: " Alice!#", Domain: "OTHER.test"})
		require.NoError(t, err)
		assert.Equal(t, "alice@other.test", inbox.Address)
		assert.Equal(t, "other.test", inbox.Domain)
		assert.True(t, inbox.IsCustom)
	})

	t.Run("未知域名回退到默认域名", func(t *testing.T) {
		f := newFixture(t, nil)
		inbox, err := f.inboxes.Create(ctx, CreateInboxInput{Username: "alice", Domain: "evil.com"})
		require.NoError(t, err)
		assert.Equal(t, "alice@tempmail.local", inbox.Address)
	})

	t.Run("用户名长度校验", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.inboxes.Create(ctx, CreateInboxInput{Username: "a!"})
		assert.ErrorIs(t, err, domain.ErrUsernameTooShort)
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = f.inboxes.Create(ctx, CreateInboxInput{Username: strings.Repeat("a", 31)})
		assert.ErrorIs(t, err, domain.ErrUsernameTooLong)
	})

	t.Run("用户名已被占用", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.inboxes.Create(ctx, CreateInboxInput{Username: "alice"})
		require.NoError(t, err)

		_, err = f.inboxes.Create(ctx, CreateInboxInput{Username: "ALICE"})
		assert.ErrorIs(t, err, domain.ErrUsernameTaken)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("并发创建同名只有一个成功", func(t *testing.T) {
		f := newFixture(t, nil)
		var wg sync.WaitGroup
		var mu sync.Mutex
		var success, conflict int
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.inboxes.Create(ctx, CreateInboxInput{Username: "race"})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					success++
				case errors.Is(err, domain.ErrConflict):
					conflict++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, success)
		assert.Equal(t, 7, conflict)
	})
}

func TestInboxService_CheckUsername(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.inboxes.Register(ctx, "alice@tempmail.local", false)
	require.NoError(t, err)

	cases := []struct {
		name     string
		username string
		domain   string
		want     bool
	}{
		{"已注册", "alice", "tempmail.local", false},
		{"大小写不敏感", "ALICE", "TempMail.Local", false},
		{"其他域名可用", "alice", "other.test", true},
		{"未注册可用", "bob", "tempmail.local", true},
		{"过短视为不可用", "ab", "tempmail.local", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			available, err := f.inboxes.CheckUsername(ctx, tc.username, tc.domain)
			require.NoError(t, err)
			assert.Equal(t, tc.want, available)
		})
	}
}

func TestInboxService_Ensure(t *testing.T) {
	ctx := context.Background()

	t.Run("重复调用不会新建", func(t *testing.T) {
		f := newFixture(t, nil)
		first, created, err := f.inboxes.Ensure(ctx, "New@TempMail.Local")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "new@tempmail.local", first.Address)

		f.clock.Advance(time.Minute)
		second, created, err := f.inboxes.Ensure(ctx, "new@tempmail.local")
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, first.ExpiresAt.Equal(second.ExpiresAt))

		active, err := f.inboxes.ListActive(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 1)
	})

	t.Run("同一毫秒内重复调用只计一次创建", func(t *testing.T) {
		f := newFixture(t, nil)
		_, created, err := f.inboxes.Ensure(ctx, "same@tempmail.local")
		require.NoError(t, err)
		assert.True(t, created)

		_, created, err = f.inboxes.Ensure(ctx, "same@tempmail.local")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InboxesCreated.WithLabelValues(monitoring.KindIngest)))
	})

	t.Run("拒绝不受支持的域名", func(t *testing.T) {
		f := newFixture(t, nil)
		_, _, err := f.inboxes.Ensure(ctx, "someone@gmail.com")
		assert.ErrorIs(t, err, domain.ErrDomainNotServed)
	})

	t.Run("非法地址", func(t *testing.T) {
		f := newFixture(t, nil)
		_, _, err := f.inboxes.Ensure(ctx, "not-an-address")
		assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	})
}

func TestInboxService_Register(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.mustIngest(t, IngestInput{To: "alice@tempmail.local", From: "bob@x.com", Subject: "hi"})

	f.clock.Advance(30 * time.Minute)
	inbox, err := f.inboxes.Register(ctx, "alice@tempmail.local", true)
	require.NoError(t, err)
	assert.True(t, inbox.IsCustom)
	assert.True(t, inbox.ExpiresAt.Equal(base.Add(90*time.Minute)))

	messages, err := f.messages.List(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestInboxService_Extend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.inboxes.Create(ctx, CreateInboxInput{Username: "alice"})
	require.NoError(t, err)

	view, err := f.inboxes.Get(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.True(t, view.CanExtend)
	assert.Equal(t, 60, view.RemainingExtendMinutes)

	t.Run("延长到最大寿命", func(t *testing.T) {
		view, err := f.inboxes.Extend(ctx, "ALICE@tempmail.local")
		require.NoError(t, err)
		assert.True(t, view.ExpiresAt.Equal(base.Add(2*time.Hour)))
		assert.False(t, view.CanExtend)
		assert.Equal(t, 0, view.RemainingExtendMinutes)
	})

	t.Run("到达上限后拒绝且不改变状态", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			_, err := f.inboxes.Extend(ctx, "alice@tempmail.local")
			assert.ErrorIs(t, err, domain.ErrAlreadyMaxed)
			assert.ErrorIs(t, err, domain.ErrCapacity)
		}
		view, err := f.inboxes.Get(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.True(t, view.ExpiresAt.Equal(base.Add(2*time.Hour)))
	})

	t.Run("不存在的收件箱", func(t *testing.T) {
		_, err := f.inboxes.Extend(ctx, "ghost@tempmail.local")
		assert.ErrorIs(t, err, domain.ErrInboxNotFound)
	})

	t.Run("部分延长", func(t *testing.T) {
		g := newFixture(t, nil)
		_, err := g.inboxes.Create(ctx, CreateInboxInput{Username: "bob"})
		require.NoError(t, err)
		g.cfgStep(90 * time.Minute)

		_, err = g.inboxes.Extend(ctx, "bob@tempmail.local")
		require.NoError(t, err)
		view, err := g.inboxes.Get(ctx, "bob@tempmail.local")
		require.NoError(t, err)
		assert.True(t, view.ExpiresAt.Equal(view.MaxExpiresAt))
	})
}

func (f *fixture) cfgStep(step time.Duration) {
	f.inboxes.cfg.ExtendStep = step
}

func TestInboxService_Get(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.inboxes.Create(ctx, CreateInboxInput{Username: "alice"})
	require.NoError(t, err)

	t.Run("有效期内", func(t *testing.T) {
		active, err := f.inboxes.IsActive(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.True(t, active)
	})

	t.Run("过期后视为不存在", func(t *testing.T) {
		f.clock.Advance(time.Hour)
		_, err := f.inboxes.Get(ctx, "alice@tempmail.local")
		assert.ErrorIs(t, err, domain.ErrInboxNotFound)

		active, err := f.inboxes.IsActive(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("地址为空", func(t *testing.T) {
		_, err := f.inboxes.Get(ctx, "  ")
		assert.ErrorIs(t, err, domain.ErrAddressRequired)
	})
}

func TestInboxService_SetForwardAddress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.inboxes.Create(ctx, CreateInboxInput{Username: "alice"})
	require.NoError(t, err)

	t.Run("设置转发地址", func(t *testing.T) {
		view, err := f.inboxes.SetForwardAddress(ctx, "alice@tempmail.local", "Bob <Bob@X.com>")
		require.NoError(t, err)
		assert.Equal(t, "bob@x.com", view.ForwardTo)
	})

	t.Run("非法地址", func(t *testing.T) {
		_, err := f.inboxes.SetForwardAddress(ctx, "alice@tempmail.local", "nope")
		assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	})

	t.Run("不能转发给自己", func(t *testing.T) {
		_, err := f.inboxes.SetForwardAddress(ctx, "alice@tempmail.local", "alice@tempmail.local")
		assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	})

	t.Run("清除转发地址", func(t *testing.T) {
		view, err := f.inboxes.SetForwardAddress(ctx, "alice@tempmail.local", "")
		require.NoError(t, err)
		assert.Empty(t, view.ForwardTo)
	})

	t.Run("收件箱不存在", func(t *testing.T) {
		_, err := f.inboxes.SetForwardAddress(ctx, "ghost@tempmail.local", "bob@x.com")
		assert.ErrorIs(t, err, domain.ErrInboxNotFound)
	})
}

func TestInboxService_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.mustIngest(t, IngestInput{To: "alice@tempmail.local", From: "bob@x.com"})

	deleted, err := f.inboxes.Delete(ctx, "Alice@tempmail.local")
	require.NoError(t, err)
	assert.True(t, deleted)

	messages, err := f.messages.List(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.Empty(t, messages)

	deleted, err = f.inboxes.Delete(ctx, "alice@tempmail.local")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestInboxService_Domains(t *testing.T) {
	f := newFixture(t, nil)
	domains := f.inboxes.Domains()
	assert.Equal(t, []string{"tempmail.local", "other.test"}, domains)

	domains[0] = "mutated"
	assert.Equal(t, "tempmail.local", f.inboxes.Domains()[0])
}
