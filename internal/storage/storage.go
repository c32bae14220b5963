package storage

import (
	"context"
	"time"

	"tempmail/inbox/internal/domain"
)

// InboxRepository 定义收件箱数据存取操作。
//
// 所有地址参数都应已规范化为小写。
type InboxRepository interface {
	// InsertInbox 唯一性插入，地址已存在时返回 domain.ErrAddressTaken。
	InsertInbox(ctx context.Context, inbox *domain.Inbox) error
	// UpsertInbox 插入或覆盖收件箱元数据，已有邮件保留。
	UpsertInbox(ctx context.Context, inbox *domain.Inbox) error
	// EnsureInbox 不存在时插入，存在时原样返回已有记录。created 表示本次是否插入。
	EnsureInbox(ctx context.Context, inbox *domain.Inbox) (current *domain.Inbox, created bool, err error)
	GetInbox(ctx context.Context, address string) (*domain.Inbox, error)
	// ExtendInbox 在一条条件更新中把 expiresAt 延长 step，并截断到 maxExpiresAt。
	ExtendInbox(ctx context.Context, address string, step time.Duration) (*domain.Inbox, error)
	SetForwardAddress(ctx context.Context, address, forwardTo string) error
	// DeleteInbox 删除收件箱及其全部邮件，不存在时返回 false。
	DeleteInbox(ctx context.Context, address string) (bool, error)
	ListActiveInboxes(ctx context.Context, now time.Time) ([]domain.Inbox, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	// InsertMessage 按 ID 幂等插入，重复 ID 返回 false。所属收件箱不存在时返回 domain.ErrInboxNotFound。
	InsertMessage(ctx context.Context, message *domain.Message) (bool, error)
	ListMessages(ctx context.Context, address string) ([]domain.Message, error)
	GetMessage(ctx context.Context, address, id string) (*domain.Message, error)
	MarkRead(ctx context.Context, address, id string) error
	SearchMessages(ctx context.Context, address, query string) ([]domain.Message, error)
	SoftDelete(ctx context.Context, address, id string, at time.Time) (bool, error)
	SoftDeleteAll(ctx context.Context, address string, at time.Time) (int, error)
	Restore(ctx context.Context, address, id string) (bool, error)
	PermanentDelete(ctx context.Context, address, id string) (bool, error)
	ListTrash(ctx context.Context, address string) ([]domain.Message, error)
	InboxStats(ctx context.Context, address string) (domain.InboxStats, error)
}

// MaintenanceRepository 定义过期清理与统计操作。
type MaintenanceRepository interface {
	// DeleteExpiredInboxes 删除 expiresAt <= now 的收件箱，先删邮件再删收件箱。
	DeleteExpiredInboxes(ctx context.Context, now time.Time) (inboxes int, messages int, err error)
	// PurgeTrash 永久删除 deletedAt 早于 before 的已删除邮件。
	PurgeTrash(ctx context.Context, before time.Time) (int, error)
	GlobalStats(ctx context.Context, now time.Time) (domain.GlobalStats, error)
}

// Store 聚合所有存储接口
type Store interface {
	InboxRepository
	MessageRepository
	MaintenanceRepository

	Ping(ctx context.Context) error
	Close() error
}

// SortMessages 按日期倒序排列邮件，日期相同时按 ID 倒序。
func SortMessages(messages []domain.Message) {
	sortMessagesBy(messages, func(m *domain.Message) time.Time { return m.Date })
}

// SortTrash 按删除时间倒序排列邮件。
func SortTrash(messages []domain.Message) {
	sortMessagesBy(messages, func(m *domain.Message) time.Time {
		if m.DeletedAt == nil {
			return time.Time{}
		}
		return *m.DeletedAt
	})
}
