package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/monitoring"
)

// recordingNotifier 记录收到的通知
type recordingNotifier struct {
	mu       sync.Mutex
	messages []*domain.Message
	err      error
}

func (r *recordingNotifier) NotifyNewMessage(_ context.Context, message *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func TestIngestService_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("注册后收信场景", func(t *testing.T) {
		notifier := &recordingNotifier{}
		f := newFixture(t, notifier)
		_, err := f.inboxes.Register(ctx, "alice@tempmail.local", false)
		require.NoError(t, err)

		msg := f.mustIngest(t, IngestInput{To: "ALICE@TempMail.Local", From: "Bob <bob@x.com>", Subject: "Hi"})
		assert.Equal(t, "alice@tempmail.local", msg.InboxAddress)

		messages, err := f.messages.List(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "Bob <bob@x.com>", messages[0].From)
		assert.False(t, messages[0].Read)

		available, err := f.inboxes.CheckUsername(ctx, "alice", "tempmail.local")
		require.NoError(t, err)
		assert.False(t, available)

		assert.Equal(t, 1, notifier.count())
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MessagesReceived))
	})

	t.Run("自动创建收件箱并填充默认值", func(t *testing.T) {
		f := newFixture(t, nil)
		msg := f.mustIngest(t, IngestInput{
			To:          "<new@tempmail.local>",
			From:        "x@y.com",
			Attachments: []domain.Attachment{{Content: "aGVsbG8="}},
		})

		assert.Equal(t, domain.DefaultSubject, msg.Subject)
		assert.True(t, msg.Date.Equal(base))
		assert.NotEmpty(t, msg.ID)
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, domain.DefaultAttachmentName, msg.Attachments[0].Filename)
		assert.Equal(t, domain.DefaultAttachmentMimeType, msg.Attachments[0].ContentType)
		assert.Equal(t, 5, msg.Attachments[0].Size)

		view, err := f.inboxes.Get(ctx, "new@tempmail.local")
		require.NoError(t, err)
		assert.False(t, view.IsCustom)
		assert.True(t, view.ExpiresAt.Equal(base.Add(time.Hour)))
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InboxesCreated.WithLabelValues(monitoring.KindIngest)))
	})

	t.Run("重复 ID 不重复保存也不重复通知", func(t *testing.T) {
		notifier := &recordingNotifier{}
		f := newFixture(t, notifier)
		f.mustIngest(t, IngestInput{ID: "dup", To: "alice@tempmail.local", From: "x@y.com", Subject: "one"})
		f.mustIngest(t, IngestInput{ID: "dup", To: "alice@tempmail.local", From: "x@y.com", Subject: "two"})

		messages, err := f.messages.List(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "one", messages[0].Subject)
		assert.Equal(t, 1, notifier.count())
	})

	t.Run("过期未清理的收件箱重新登记", func(t *testing.T) {
		f := newFixture(t, nil)
		f.mustIngest(t, IngestInput{To: "alice@tempmail.local", From: "x@y.com"})

		f.clock.Advance(90 * time.Minute)
		f.mustIngest(t, IngestInput{To: "alice@tempmail.local", From: "x@y.com"})

		view, err := f.inboxes.Get(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.True(t, view.ExpiresAt.Equal(base.Add(150*time.Minute)))

		messages, err := f.messages.List(ctx, "alice@tempmail.local")
		require.NoError(t, err)
		assert.Len(t, messages, 2)
	})

	t.Run("通知失败不影响入库", func(t *testing.T) {
		notifier := &recordingNotifier{err: errors.New("down")}
		f := newFixture(t, notifier)
		msg, err := f.ingest.Ingest(ctx, IngestInput{To: "alice@tempmail.local", From: "x@y.com"})
		require.NoError(t, err)

		_, err = f.messages.Get(ctx, "alice@tempmail.local", msg.ID)
		assert.NoError(t, err)
	})
}

func TestIngestService_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	cases := []struct {
		name  string
		input IngestInput
		want  error
	}{
		{"缺少收件人", IngestInput{From: "x@y.com"}, domain.ErrRecipientRequired},
		{"缺少发件人", IngestInput{To: "alice@tempmail.local", From: " "}, domain.ErrSenderRequired},
		{"不受支持的域名", IngestInput{To: "alice@gmail.com", From: "x@y.com"}, domain.ErrDomainNotServed},
		{"非法收件地址", IngestInput{To: "alice", From: "x@y.com"}, domain.ErrInvalidAddress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ingest.Ingest(ctx, tc.input)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	stats, err := f.messages.GlobalStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalReceived)
	assert.Zero(t, stats.ActiveInboxes)
}
