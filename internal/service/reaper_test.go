package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/domain"
)

// mockMaintenance 模拟维护接口
type mockMaintenance struct {
	mock.Mock
}

func (m *mockMaintenance) DeleteExpiredInboxes(ctx context.Context, now time.Time) (int, int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *mockMaintenance) PurgeTrash(ctx context.Context, before time.Time) (int, error) {
	args := m.Called(ctx, before)
	return args.Int(0), args.Error(1)
}

func (m *mockMaintenance) GlobalStats(ctx context.Context, now time.Time) (domain.GlobalStats, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(domain.GlobalStats), args.Error(1)
}

func TestReaper_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("过期 1 毫秒后收件箱和邮件一起删除", func(t *testing.T) {
		f := newFixture(t, nil)
		f.mustIngest(t, IngestInput{To: "alice@tempmail.local", From: "x@y.com"})
		f.mustIngest(t, IngestInput{To: "alice@tempmail.local", From: "x@y.com"})
		f.clock.Advance(30 * time.Minute)
		f.mustIngest(t, IngestInput{To: "bob@tempmail.local", From: "x@y.com"})

		f.clock.Advance(30*time.Minute + time.Millisecond)
		result, err := f.reaper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.ExpiredInboxes)
		assert.Equal(t, 2, result.DeletedMessages)
		assert.Equal(t, 1, result.ActiveInboxes)

		_, err = f.store.GetInbox(ctx, "alice@tempmail.local")
		assert.ErrorIs(t, err, domain.ErrInboxNotFound)
		messages, err := f.messages.List(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.Empty(t, messages)

		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InboxesExpired))
	})

	t.Run("清理超过保留时长的回收站邮件", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.inboxes.Create(ctx, CreateInboxInput{Username: "alice"})
		require.NoError(t, err)
		_, err = f.inboxes.Extend(ctx, "alice@tempmail.local")
		require.NoError(t, err)

		old := f.mustIngest(t, IngestInput{To: "alice@tempmail.local", From: "x@y.com"})
		require.NoError(t, f.messages.SoftDelete(ctx, "alice@tempmail.local", old.ID))

		f.clock.Advance(30 * time.Minute)
		recent := f.mustIngest(t, IngestInput{To: "alice@tempmail.local", From: "x@y.com"})
		require.NoError(t, f.messages.SoftDelete(ctx, "alice@tempmail.local", recent.ID))

		f.clock.Advance(31 * time.Minute)
		result, err := f.reaper.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, result.ExpiredInboxes)
		assert.Equal(t, 1, result.PurgedMessages)

		trash, err := f.messages.Trash(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		require.Len(t, trash, 1)
		assert.Equal(t, recent.ID, trash[0].ID)
	})

	t.Run("空清理不报错", func(t *testing.T) {
		f := newFixture(t, nil)
		result, err := f.reaper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, SweepResult{}, result)
	})

	t.Run("存储失败时返回错误", func(t *testing.T) {
		repo := &mockMaintenance{}
		repo.On("DeleteExpiredInboxes", mock.Anything, mock.Anything).Return(0, 0, domain.StorageFailure("delete expired", errors.New("disk full")))

		r := NewReaper(repo, testMailboxConfig(), nil, nil)
		_, err := r.Sweep(ctx)
		assert.ErrorIs(t, err, domain.ErrStorage)
		repo.AssertNotCalled(t, "PurgeTrash", mock.Anything, mock.Anything)
	})
}

func TestReaper_Run(t *testing.T) {
	t.Run("每次触发执行一次清理，失败后继续", func(t *testing.T) {
		repo := &mockMaintenance{}
		repo.On("DeleteExpiredInboxes", mock.Anything, mock.Anything).Return(0, 0, errors.New("db down")).Once()
		repo.On("DeleteExpiredInboxes", mock.Anything, mock.Anything).Return(2, 3, nil)
		repo.On("PurgeTrash", mock.Anything, base.Add(-time.Hour)).Return(1, nil)
		repo.On("GlobalStats", mock.Anything, base).Return(domain.GlobalStats{ActiveInboxes: 4}, nil)

		r := NewReaper(repo, testMailboxConfig(), nil, nil)
		r.SetClock(func() time.Time { return base })

		tick := make(chan time.Time)
		var interval time.Duration
		stopped := make(chan struct{})
		r.ticker = func(d time.Duration) (<-chan time.Time, func()) {
			interval = d
			return tick, func() { close(stopped) }
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Run(ctx) }()

		tick <- base
		tick <- base
		tick <- base
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("清理任务未退出")
		}
		<-stopped

		assert.Equal(t, 5*time.Minute, interval)
		repo.AssertNumberOfCalls(t, "DeleteExpiredInboxes", 3)
		repo.AssertNumberOfCalls(t, "PurgeTrash", 2)
	})
}
