package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/pool"
)

// ErrNotifyQueueFull 通知队列已满
var ErrNotifyQueueFull = errors.New("notification queue full")

// Notifier 新邮件通知的接收方
type Notifier interface {
	NotifyNewMessage(ctx context.Context, message *domain.Message) error
}

// NotifierFunc 适配普通函数
type NotifierFunc func(ctx context.Context, message *domain.Message) error

func (f NotifierFunc) NotifyNewMessage(ctx context.Context, message *domain.Message) error {
	return f(ctx, message)
}

// Dispatcher 通过协程池将通知异步分发给多个接收方。
//
// 队列满时直接丢弃，不会阻塞邮件入库。
type Dispatcher struct {
	pool    *pool.WorkerPool
	sinks   []Notifier
	timeout time.Duration
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewDispatcher 创建通知分发器
func NewDispatcher(p *pool.WorkerPool, metrics *monitoring.Metrics, log *zap.Logger, sinks ...Notifier) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		pool:    p,
		sinks:   sinks,
		timeout: 5 * time.Second,
		metrics: metrics,
		log:     log,
	}
}

// NotifyNewMessage 将通知放入队列，立即返回。
func (d *Dispatcher) NotifyNewMessage(_ context.Context, message *domain.Message) error {
	if len(d.sinks) == 0 {
		return nil
	}
	snapshot := *message
	snapshot.Attachments = nil

	ok := d.pool.TrySubmit(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		for _, sink := range d.sinks {
			if err := sink.NotifyNewMessage(ctx, &snapshot); err != nil {
				d.log.Warn("new-mail notification failed",
					zap.String("address", snapshot.InboxAddress),
					zap.String("message_id", snapshot.ID),
					zap.Error(err),
				)
			}
		}
	})
	if !ok {
		if d.metrics != nil {
			d.metrics.RecordNotificationDropped()
		}
		return ErrNotifyQueueFull
	}
	return nil
}
