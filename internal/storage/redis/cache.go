package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tempmail/inbox/internal/domain"
)

var (
	// ErrCacheMiss 缓存未命中
	ErrCacheMiss = errors.New("cache miss")
	// ErrStaleList 读取期间邮件列表已失效，放弃写入
	ErrStaleList = errors.New("message list changed while loading")
)

// versionTTL 版本号键的存活时间，远大于列表缓存时长
const versionTTL = 24 * time.Hour

// Cache Redis 缓存实现
type Cache struct {
	client *goredis.Client
}

// NewCache 创建缓存
func NewCache(c *Client) *Cache {
	return &Cache{client: c.rdb}
}

func inboxKey(address string) string { return fmt.Sprintf("inbox:%s", address) }

func messagesKey(address string) string { return fmt.Sprintf("messages:%s", address) }

func versionKey(address string) string { return fmt.Sprintf("messages-version:%s", address) }

// ========== 收件箱缓存 ==========

// CacheInbox 缓存收件箱信息，TTL 不超过收件箱剩余寿命
func (c *Cache) CacheInbox(ctx context.Context, inbox *domain.Inbox, ttl time.Duration, now time.Time) error {
	if remaining := inbox.ExpiresAt.Sub(now); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return nil
	}
	return c.setJSON(ctx, inboxKey(inbox.Address), inbox, ttl)
}

// GetCachedInbox 获取缓存的收件箱
func (c *Cache) GetCachedInbox(ctx context.Context, address string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	if err := c.getJSON(ctx, inboxKey(address), &inbox); err != nil {
		return nil, err
	}
	return &inbox, nil
}

// ========== 邮件列表缓存 ==========

// CacheMessageList 缓存收件箱的可见邮件列表
func (c *Cache) CacheMessageList(ctx context.Context, address string, messages []domain.Message, ttl time.Duration) error {
	return c.setJSON(ctx, messagesKey(address), messages, ttl)
}

// GetCachedMessageList 获取缓存的邮件列表
func (c *Cache) GetCachedMessageList(ctx context.Context, address string) ([]domain.Message, error) {
	var messages []domain.Message
	if err := c.getJSON(ctx, messagesKey(address), &messages); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// MessageListVersion 返回邮件列表的版本号，每次失效加一。回源前读取，写缓存时校验。
func (c *Cache) MessageListVersion(ctx context.Context, address string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(address)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return v, err
}

// CacheMessageListIfUnchanged 仅当版本号仍为 version 时写入列表缓存，否则返回 ErrStaleList。
func (c *Cache) CacheMessageListIfUnchanged(ctx context.Context, address string, version int64, messages []domain.Message, ttl time.Duration) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	vkey := versionKey(address)
	err = c.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if current != version {
			return ErrStaleList
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, messagesKey(address), data, ttl)
			return nil
		})
		return err
	}, vkey)
	if errors.Is(err, goredis.TxFailedErr) {
		return ErrStaleList
	}
	return err
}

// InvalidateInbox 删除收件箱及其邮件列表缓存
func (c *Cache) InvalidateInbox(ctx context.Context, address string) error {
	return c.invalidate(ctx, address, inboxKey(address), messagesKey(address))
}

// InvalidateMessages 删除邮件列表缓存
func (c *Cache) InvalidateMessages(ctx context.Context, address string) error {
	return c.invalidate(ctx, address, messagesKey(address))
}

// invalidate 在一个事务里删除缓存并递增版本号，正在回源的读取不会再写回旧列表
func (c *Cache) invalidate(ctx context.Context, address string, keys ...string) error {
	vkey := versionKey(address)
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.Incr(ctx, vkey)
		pipe.Expire(ctx, vkey, versionTTL)
		return nil
	})
	return err
}

func (c *Cache) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

// Ping 测试缓存连接
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
