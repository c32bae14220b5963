package hybrid

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/storage"
	"tempmail/inbox/internal/storage/redis"
)

// Store 混合存储实现，以任意持久化存储为准，Redis 作为读缓存。
//
// 缓存读写失败只记录日志，不影响主流程。
type Store struct {
	backing storage.Store
	cache   *redis.Cache
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// NewStore 创建混合存储实例
func NewStore(backing storage.Store, cache *redis.Cache, ttl time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Store{backing: backing, cache: cache, ttl: ttl, log: log, now: time.Now}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) warn(op, address string, err error) {
	if err != nil {
		s.log.Warn("cache operation failed", zap.String("op", op), zap.String("address", address), zap.Error(err))
	}
}

func (s *Store) invalidateInbox(ctx context.Context, address string) {
	s.warn("invalidate_inbox", address, s.cache.InvalidateInbox(ctx, address))
}

func (s *Store) invalidateMessages(ctx context.Context, address string) {
	s.warn("invalidate_messages", address, s.cache.InvalidateMessages(ctx, address))
}

// ========== Inbox Repository ==========

func (s *Store) InsertInbox(ctx context.Context, inbox *domain.Inbox) error {
	return s.backing.InsertInbox(ctx, inbox)
}

func (s *Store) UpsertInbox(ctx context.Context, inbox *domain.Inbox) error {
	if err := s.backing.UpsertInbox(ctx, inbox); err != nil {
		return err
	}
	s.invalidateInbox(ctx, inbox.Address)
	return nil
}

func (s *Store) EnsureInbox(ctx context.Context, inbox *domain.Inbox) (*domain.Inbox, bool, error) {
	return s.backing.EnsureInbox(ctx, inbox)
}

// GetInbox 先查缓存，未命中时回源并写入缓存
func (s *Store) GetInbox(ctx context.Context, address string) (*domain.Inbox, error) {
	if inbox, err := s.cache.GetCachedInbox(ctx, address); err == nil {
		return inbox, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.warn("get_inbox", address, err)
	}

	inbox, err := s.backing.GetInbox(ctx, address)
	if err != nil {
		return nil, err
	}
	s.warn("cache_inbox", address, s.cache.CacheInbox(ctx, inbox, s.ttl, s.now()))
	return inbox, nil
}

func (s *Store) ExtendInbox(ctx context.Context, address string, step time.Duration) (*domain.Inbox, error) {
	inbox, err := s.backing.ExtendInbox(ctx, address, step)
	if err != nil {
		return nil, err
	}
	s.invalidateInbox(ctx, address)
	return inbox, nil
}

func (s *Store) SetForwardAddress(ctx context.Context, address, forwardTo string) error {
	if err := s.backing.SetForwardAddress(ctx, address, forwardTo); err != nil {
		return err
	}
	s.invalidateInbox(ctx, address)
	return nil
}

func (s *Store) DeleteInbox(ctx context.Context, address string) (bool, error) {
	deleted, err := s.backing.DeleteInbox(ctx, address)
	if err != nil {
		return false, err
	}
	s.invalidateInbox(ctx, address)
	return deleted, nil
}

func (s *Store) ListActiveInboxes(ctx context.Context, now time.Time) ([]domain.Inbox, error) {
	return s.backing.ListActiveInboxes(ctx, now)
}

// ========== Message Repository ==========

func (s *Store) InsertMessage(ctx context.Context, message *domain.Message) (bool, error) {
	inserted, err := s.backing.InsertMessage(ctx, message)
	if err != nil {
		return false, err
	}
	if inserted {
		s.invalidateMessages(ctx, message.InboxAddress)
	}
	return inserted, nil
}

// ListMessages 缓存可见邮件列表，缓存时长不超过收件箱剩余寿命
func (s *Store) ListMessages(ctx context.Context, address string) ([]domain.Message, error) {
	inbox, err := s.GetInbox(ctx, address)
	if err != nil {
		if errors.Is(err, domain.ErrInboxNotFound) {
			return s.backing.ListMessages(ctx, address)
		}
		return nil, err
	}

	if messages, err := s.cache.GetCachedMessageList(ctx, address); err == nil {
		return messages, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.warn("get_messages", address, err)
	}

	// 版本号必须在回源之前读取
	version, verr := s.cache.MessageListVersion(ctx, address)
	s.warn("messages_version", address, verr)

	messages, err := s.backing.ListMessages(ctx, address)
	if err != nil {
		return nil, err
	}
	ttl := s.ttl
	if remaining := inbox.ExpiresAt.Sub(s.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl > 0 && verr == nil {
		err := s.cache.CacheMessageListIfUnchanged(ctx, address, version, messages, ttl)
		if !errors.Is(err, redis.ErrStaleList) {
			s.warn("cache_messages", address, err)
		}
	}
	return messages, nil
}

func (s *Store) GetMessage(ctx context.Context, address, id string) (*domain.Message, error) {
	return s.backing.GetMessage(ctx, address, id)
}

func (s *Store) MarkRead(ctx context.Context, address, id string) error {
	if err := s.backing.MarkRead(ctx, address, id); err != nil {
		return err
	}
	s.invalidateMessages(ctx, address)
	return nil
}

func (s *Store) SearchMessages(ctx context.Context, address, query string) ([]domain.Message, error) {
	return s.backing.SearchMessages(ctx, address, query)
}

func (s *Store) SoftDelete(ctx context.Context, address, id string, at time.Time) (bool, error) {
	ok, err := s.backing.SoftDelete(ctx, address, id, at)
	if err != nil {
		return false, err
	}
	if ok {
		s.invalidateMessages(ctx, address)
	}
	return ok, nil
}

func (s *Store) SoftDeleteAll(ctx context.Context, address string, at time.Time) (int, error) {
	n, err := s.backing.SoftDeleteAll(ctx, address, at)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidateMessages(ctx, address)
	}
	return n, nil
}

func (s *Store) Restore(ctx context.Context, address, id string) (bool, error) {
	ok, err := s.backing.Restore(ctx, address, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.invalidateMessages(ctx, address)
	}
	return ok, nil
}

func (s *Store) PermanentDelete(ctx context.Context, address, id string) (bool, error) {
	ok, err := s.backing.PermanentDelete(ctx, address, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.invalidateMessages(ctx, address)
	}
	return ok, nil
}

func (s *Store) ListTrash(ctx context.Context, address string) ([]domain.Message, error) {
	return s.backing.ListTrash(ctx, address)
}

func (s *Store) InboxStats(ctx context.Context, address string) (domain.InboxStats, error) {
	return s.backing.InboxStats(ctx, address)
}

// ========== Maintenance ==========

// DeleteExpiredInboxes 直接回源。缓存条目的 TTL 不会超过收件箱的过期时间。
func (s *Store) DeleteExpiredInboxes(ctx context.Context, now time.Time) (int, int, error) {
	return s.backing.DeleteExpiredInboxes(ctx, now)
}

// PurgeTrash 回收站邮件不在缓存中
func (s *Store) PurgeTrash(ctx context.Context, before time.Time) (int, error) {
	return s.backing.PurgeTrash(ctx, before)
}

func (s *Store) GlobalStats(ctx context.Context, now time.Time) (domain.GlobalStats, error) {
	return s.backing.GlobalStats(ctx, now)
}

// Ping 同时检查持久化存储与 Redis
func (s *Store) Ping(ctx context.Context) error {
	if err := s.backing.Ping(ctx); err != nil {
		return err
	}
	return s.cache.Ping(ctx)
}

// Close 关闭持久化存储，Redis 客户端由调用方关闭
func (s *Store) Close() error {
	return s.backing.Close()
}
