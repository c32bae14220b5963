package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/pool"
)

func TestDispatcher(t *testing.T) {
	t.Run("分发给全部接收方", func(t *testing.T) {
		p := pool.NewWorkerPool(2, 10, nil)
		p.Start(context.Background())

		a, b := &recordingNotifier{}, &recordingNotifier{}
		d := NewDispatcher(p, nil, nil, a, b)

		msg := &domain.Message{ID: "m1", InboxAddress: "alice@tempmail.local", Attachments: []domain.Attachment{{Content: "eA=="}}}
		require.NoError(t, d.NotifyNewMessage(context.Background(), msg))
		p.Stop()

		assert.Equal(t, 1, a.count())
		assert.Equal(t, 1, b.count())
		assert.Nil(t, a.messages[0].Attachments)
		assert.Len(t, msg.Attachments, 1)
	})

	t.Run("队列满时丢弃并计数", func(t *testing.T) {
		metrics := monitoring.NewMetrics()
		p := pool.NewWorkerPool(1, 1, nil)
		block := make(chan struct{})
		started := make(chan struct{})
		p.Start(context.Background())
		require.True(t, p.TrySubmit(func(context.Context) {
			close(started)
			<-block
		}))
		<-started
		require.True(t, p.TrySubmit(func(context.Context) {}))

		d := NewDispatcher(p, metrics, nil, &recordingNotifier{})
		err := d.NotifyNewMessage(context.Background(), &domain.Message{ID: "m1"})
		assert.ErrorIs(t, err, ErrNotifyQueueFull)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsDropped))

		close(block)
		p.Stop()
	})

	t.Run("入库时异步通知", func(t *testing.T) {
		p := pool.NewWorkerPool(1, 10, nil)
		p.Start(context.Background())
		sink := &recordingNotifier{}
		f := newFixture(t, NewDispatcher(p, nil, nil, sink))

		f.mustIngest(t, IngestInput{To: "alice@tempmail.local", From: "x@y.com", Subject: "hi"})
		assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
		p.Stop()
	})

	t.Run("函数适配器", func(t *testing.T) {
		var got string
		n := NotifierFunc(func(_ context.Context, m *domain.Message) error {
			got = m.ID
			return nil
		})
		require.NoError(t, n.NotifyNewMessage(context.Background(), &domain.Message{ID: "x"}))
		assert.Equal(t, "x", got)
	})
}
