package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/storage"
)

// 删除方式
const (
	deleteModeSoft      = "soft"
	deleteModePermanent = "permanent"
)

// MessageService 封装邮件查询、删除和恢复逻辑。
type MessageService struct {
	repo    storage.MessageRepository
	stats   storage.MaintenanceRepository
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(store storage.Store, metrics *monitoring.Metrics, log *zap.Logger) *MessageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{repo: store, stats: store, metrics: metrics, log: log, now: time.Now}
}

// SetClock 替换时钟
func (s *MessageService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *MessageService) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// List 返回未删除的邮件，按日期倒序。未知地址返回空列表。
func (s *MessageService) List(ctx context.Context, address string) ([]domain.Message, error) {
	address, err := requireAddress(address)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, address)
}

// Get 获取单封邮件并标记为已读，回收站中的邮件同样可以读取。
func (s *MessageService) Get(ctx context.Context, address, id string) (*domain.Message, error) {
	address, err := requireAddress(address)
	if err != nil {
		return nil, err
	}
	message, err := s.repo.GetMessage(ctx, address, id)
	if err != nil {
		return nil, err
	}
	if !message.Read {
		if err := s.repo.MarkRead(ctx, address, id); err != nil {
			return nil, err
		}
		message.Read = true
	}
	return message, nil
}

// Search 在主题、发件人和正文中做不区分大小写的子串匹配，空查询等同于 List。
func (s *MessageService) Search(ctx context.Context, address, query string) ([]domain.Message, error) {
	address, err := requireAddress(address)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return s.repo.ListMessages(ctx, address)
	}
	return s.repo.SearchMessages(ctx, address, query)
}

// Trash 返回回收站中的邮件，按删除时间倒序。
func (s *MessageService) Trash(ctx context.Context, address string) ([]domain.Message, error) {
	address, err := requireAddress(address)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTrash(ctx, address)
}

// Stats 返回收件箱的累计统计
func (s *MessageService) Stats(ctx context.Context, address string) (domain.InboxStats, error) {
	address, err := requireAddress(address)
	if err != nil {
		return domain.InboxStats{}, err
	}
	return s.repo.InboxStats(ctx, address)
}

// SoftDelete 将邮件移入回收站
func (s *MessageService) SoftDelete(ctx context.Context, address, id string) error {
	address, err := requireAddress(address)
	if err != nil {
		return err
	}
	ok, err := s.repo.SoftDelete(ctx, address, id, s.clock())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrMessageNotFound
	}
	s.recordDeleted(deleteModeSoft, 1)
	return nil
}

// SoftDeleteAll 将收件箱内全部可见邮件移入回收站，返回数量。
func (s *MessageService) SoftDeleteAll(ctx context.Context, address string) (int, error) {
	address, err := requireAddress(address)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.SoftDeleteAll(ctx, address, s.clock())
	if err != nil {
		return 0, err
	}
	s.recordDeleted(deleteModeSoft, n)
	return n, nil
}

// Restore 从回收站恢复邮件
func (s *MessageService) Restore(ctx context.Context, address, id string) error {
	address, err := requireAddress(address)
	if err != nil {
		return err
	}
	ok, err := s.repo.Restore(ctx, address, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotInTrash
	}
	return nil
}

// PermanentDelete 永久删除邮件，无论是否在回收站中。
func (s *MessageService) PermanentDelete(ctx context.Context, address, id string) error {
	address, err := requireAddress(address)
	if err != nil {
		return err
	}
	ok, err := s.repo.PermanentDelete(ctx, address, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrMessageNotFound
	}
	s.recordDeleted(deleteModePermanent, 1)
	return nil
}

// GlobalStats 返回全局统计
func (s *MessageService) GlobalStats(ctx context.Context) (domain.GlobalStats, error) {
	return s.stats.GlobalStats(ctx, s.clock())
}

func (s *MessageService) recordDeleted(mode string, n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.RecordMessagesDeleted(mode, n)
	}
}

func requireAddress(address string) (string, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return "", domain.ErrAddressRequired
	}
	return address, nil
}
