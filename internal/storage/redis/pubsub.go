package redis

import (
	"context"
	"encoding/json"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tempmail/inbox/internal/domain"
)

// NewMailChannel 新邮件通知频道
const NewMailChannel = "tempmail:new-mail"

// PubSub 通过 Redis 在多个进程之间广播新邮件摘要。
type PubSub struct {
	client *goredis.Client
	log    *zap.Logger
}

// NewPubSub 创建发布订阅
func NewPubSub(c *Client) *PubSub {
	return &PubSub{client: c.rdb, log: c.log}
}

// NotifyNewMessage 发布新邮件通知
func (p *PubSub) NotifyNewMessage(ctx context.Context, message *domain.Message) error {
	data, err := json.Marshal(message.Summarize())
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, NewMailChannel, data).Err()
}

// Subscribe 订阅新邮件通知，阻塞直到 ctx 取消。ready 在订阅确认后关闭，可以为 nil。
func (p *PubSub) Subscribe(ctx context.Context, ready chan<- struct{}, handle func(domain.Summary)) error {
	sub := p.client.Subscribe(ctx, NewMailChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var summary domain.Summary
			if err := json.Unmarshal([]byte(msg.Payload), &summary); err != nil {
				p.log.Warn("discarding malformed new-mail payload", zap.Error(err))
				continue
			}
			handle(summary)
		}
	}
}
