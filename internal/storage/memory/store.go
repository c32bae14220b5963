package memory

import (
	"context"
	"sync"
	"time"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store 使用内存保存收件箱与邮件数据，主要用于开发验证。
//
// 所有写操作在同一把锁内完成，因此唯一性插入与延期截断天然是原子的。
type Store struct {
	mu       sync.RWMutex
	inboxes  map[string]*domain.Inbox
	messages map[string]map[string]*domain.Message // address -> messageID -> message
	owners   map[string]string                     // messageID -> address
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		inboxes:  make(map[string]*domain.Inbox),
		messages: make(map[string]map[string]*domain.Message),
		owners:   make(map[string]string),
	}
}

// InsertInbox 唯一性插入收件箱。
func (s *Store) InsertInbox(_ context.Context, inbox *domain.Inbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inboxes[inbox.Address]; ok {
		return domain.ErrAddressTaken
	}
	s.inboxes[inbox.Address] = cloneInbox(inbox)
	return nil
}

// UpsertInbox 插入或覆盖收件箱。
func (s *Store) UpsertInbox(_ context.Context, inbox *domain.Inbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneInbox(inbox)
	if existing, ok := s.inboxes[inbox.Address]; ok {
		next.ForwardTo = existing.ForwardTo
	}
	s.inboxes[inbox.Address] = next
	return nil
}

// EnsureInbox 不存在时创建。
func (s *Store) EnsureInbox(_ context.Context, inbox *domain.Inbox) (*domain.Inbox, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.inboxes[inbox.Address]; ok {
		return cloneInbox(existing), false, nil
	}
	s.inboxes[inbox.Address] = cloneInbox(inbox)
	return cloneInbox(inbox), true, nil
}

// GetInbox 根据地址获取收件箱。
func (s *Store) GetInbox(_ context.Context, address string) (*domain.Inbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inbox, ok := s.inboxes[address]
	if !ok {
		return nil, domain.ErrInboxNotFound
	}
	return cloneInbox(inbox), nil
}

// ExtendInbox 延长有效期并截断到最大生存期。
func (s *Store) ExtendInbox(_ context.Context, address string, step time.Duration) (*domain.Inbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inbox, ok := s.inboxes[address]
	if !ok {
		return nil, domain.ErrInboxNotFound
	}
	if !inbox.ExpiresAt.Before(inbox.MaxExpiresAt) {
		return nil, domain.ErrAlreadyMaxed
	}
	next := inbox.ExpiresAt.Add(step)
	if next.After(inbox.MaxExpiresAt) {
		next = inbox.MaxExpiresAt
	}
	if !next.After(inbox.ExpiresAt) {
		return nil, domain.ErrAlreadyMaxed
	}
	inbox.ExpiresAt = next
	return cloneInbox(inbox), nil
}

// SetForwardAddress 设置转发地址
func (s *Store) SetForwardAddress(_ context.Context, address, forwardTo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inbox, ok := s.inboxes[address]
	if !ok {
		return domain.ErrInboxNotFound
	}
	inbox.ForwardTo = forwardTo
	return nil
}

// DeleteInbox 删除收件箱及其全部邮件。
func (s *Store) DeleteInbox(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inboxes[address]; !ok {
		return false, nil
	}
	s.deleteInboxLocked(address)
	return true, nil
}

// ListActiveInboxes 返回 now 时刻仍有效的收件箱快照。
func (s *Store) ListActiveInboxes(_ context.Context, now time.Time) ([]domain.Inbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Inbox, 0, len(s.inboxes))
	for _, inbox := range s.inboxes {
		if inbox.ActiveAt(now) {
			result = append(result, *inbox)
		}
	}
	return result, nil
}

func (s *Store) deleteInboxLocked(address string) int {
	removed := 0
	for id := range s.messages[address] {
		delete(s.owners, id)
		removed++
	}
	delete(s.messages, address)
	delete(s.inboxes, address)
	return removed
}

// InsertMessage 按 ID 幂等插入邮件。
func (s *Store) InsertMessage(_ context.Context, message *domain.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inboxes[message.InboxAddress]; !ok {
		return false, domain.ErrInboxNotFound
	}
	if _, ok := s.owners[message.ID]; ok {
		return false, nil
	}
	box, ok := s.messages[message.InboxAddress]
	if !ok {
		box = make(map[string]*domain.Message)
		s.messages[message.InboxAddress] = box
	}
	box[message.ID] = cloneMessage(message)
	s.owners[message.ID] = message.InboxAddress
	return true, nil
}

// ListMessages 返回未删除邮件，按日期倒序。
func (s *Store) ListMessages(_ context.Context, address string) ([]domain.Message, error) {
	return s.collect(address, func(m *domain.Message) bool { return !m.Deleted }, storage.SortMessages), nil
}

// GetMessage 获取单封邮件（包括回收站中的邮件）。
func (s *Store) GetMessage(_ context.Context, address, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[address][id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

// MarkRead 标记已读
func (s *Store) MarkRead(_ context.Context, address, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[address][id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	msg.Read = true
	return nil
}

// SearchMessages 在未删除邮件中搜索。
func (s *Store) SearchMessages(_ context.Context, address, query string) ([]domain.Message, error) {
	return s.collect(address, func(m *domain.Message) bool {
		return !m.Deleted && storage.MatchesQuery(m, query)
	}, storage.SortMessages), nil
}

// SoftDelete 将邮件移入回收站。
func (s *Store) SoftDelete(_ context.Context, address, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[address][id]
	if !ok || msg.Deleted {
		return false, nil
	}
	markDeleted(msg, at)
	return true, nil
}

// SoftDeleteAll 将收件箱内全部可见邮件移入回收站。
func (s *Store) SoftDeleteAll(_ context.Context, address string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, msg := range s.messages[address] {
		if !msg.Deleted {
			markDeleted(msg, at)
			count++
		}
	}
	return count, nil
}

// Restore 从回收站恢复邮件。
func (s *Store) Restore(_ context.Context, address, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[address][id]
	if !ok || !msg.Deleted {
		return false, nil
	}
	msg.Deleted = false
	msg.DeletedAt = nil
	return true, nil
}

// PermanentDelete 永久删除邮件。
func (s *Store) PermanentDelete(_ context.Context, address, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[address][id]; !ok {
		return false, nil
	}
	delete(s.messages[address], id)
	delete(s.owners, id)
	return true, nil
}

// ListTrash 返回回收站邮件，按删除时间倒序。
func (s *Store) ListTrash(_ context.Context, address string) ([]domain.Message, error) {
	return s.collect(address, func(m *domain.Message) bool { return m.Deleted }, storage.SortTrash), nil
}

// InboxStats 统计收件箱内全部邮件。
func (s *Store) InboxStats(_ context.Context, address string) (domain.InboxStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.InboxStats
	for _, msg := range s.messages[address] {
		stats.TotalReceived++
		if msg.Read {
			stats.TotalRead++
		}
		if msg.Deleted {
			stats.TotalDeleted++
		}
	}
	return stats, nil
}

// DeleteExpiredInboxes 删除过期收件箱及其邮件。
func (s *Store) DeleteExpiredInboxes(_ context.Context, now time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inboxes, messages := 0, 0
	for address, inbox := range s.inboxes {
		if inbox.ActiveAt(now) {
			continue
		}
		messages += s.deleteInboxLocked(address)
		inboxes++
	}
	return inboxes, messages, nil
}

// PurgeTrash 永久删除回收站中超过保留期的邮件。
func (s *Store) PurgeTrash(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for _, box := range s.messages {
		for id, msg := range box {
			if msg.Deleted && msg.DeletedAt != nil && msg.DeletedAt.Before(before) {
				delete(box, id)
				delete(s.owners, id)
				purged++
			}
		}
	}
	return purged, nil
}

// GlobalStats 全局统计
func (s *Store) GlobalStats(_ context.Context, now time.Time) (domain.GlobalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.GlobalStats
	for _, inbox := range s.inboxes {
		if inbox.ActiveAt(now) {
			stats.ActiveInboxes++
		}
	}
	for _, box := range s.messages {
		for _, msg := range box {
			stats.TotalReceived++
			if msg.Deleted {
				stats.TotalDeleted++
			}
		}
	}
	return stats, nil
}

// Ping 内存存储始终可用。
func (s *Store) Ping(context.Context) error { return nil }

// Close 关闭存储（内存存储无需操作）。
func (s *Store) Close() error { return nil }

func (s *Store) collect(address string, keep func(*domain.Message) bool, order func([]domain.Message)) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0, len(s.messages[address]))
	for _, msg := range s.messages[address] {
		if keep(msg) {
			result = append(result, *cloneMessage(msg))
		}
	}
	order(result)
	return result
}

func markDeleted(msg *domain.Message, at time.Time) {
	at = at.UTC()
	msg.Deleted = true
	msg.DeletedAt = &at
}

func cloneInbox(inbox *domain.Inbox) *domain.Inbox {
	c := *inbox
	return &c
}

func cloneMessage(msg *domain.Message) *domain.Message {
	c := *msg
	if msg.DeletedAt != nil {
		at := *msg.DeletedAt
		c.DeletedAt = &at
	}
	c.Attachments = append([]domain.Attachment{}, msg.Attachments...)
	return &c
}
