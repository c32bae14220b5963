package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// inboxRecord 收件箱表结构，时间字段保存为 UTC 毫秒。
type inboxRecord struct {
	Address      string          `gorm:"column:address;primaryKey;size:320"`
	Domain       string          `gorm:"column:domain;size:253;not null"`
	IsCustom     bool            `gorm:"column:is_custom;not null;default:false"`
	ForwardTo    string          `gorm:"column:forward_to;size:320;not null;default:''"`
	CreatedAt    int64           `gorm:"column:created_at;not null;autoCreateTime:false"`
	ExpiresAt    int64           `gorm:"column:expires_at;not null;index"`
	MaxExpiresAt int64           `gorm:"column:max_expires_at;not null"`
	Messages     []messageRecord `gorm:"foreignKey:InboxAddress;references:Address;constraint:OnDelete:CASCADE"`
}

func (inboxRecord) TableName() string { return "inboxes" }

// messageRecord 邮件表结构
type messageRecord struct {
	ID           string `gorm:"column:id;primaryKey;size:64"`
	InboxAddress string `gorm:"column:inbox_address;size:320;not null;index:idx_messages_inbox_date,priority:1"`
	From         string `gorm:"column:from_address;not null"`
	Subject      string `gorm:"column:subject;not null"`
	Text         string `gorm:"column:text_content;not null"`
	HTML         string `gorm:"column:html_content;not null"`
	ReceivedAt   int64  `gorm:"column:received_at;not null;index:idx_messages_inbox_date,priority:2"`
	IsRead       bool   `gorm:"column:is_read;not null;default:false"`
	IsDeleted    bool   `gorm:"column:is_deleted;not null;default:false;index:idx_messages_deleted_at,priority:1"`
	DeletedAt    *int64 `gorm:"column:deleted_at;index:idx_messages_deleted_at,priority:2"`
	Attachments  string `gorm:"column:attachments;not null"`
}

func (messageRecord) TableName() string { return "messages" }

// Store GORM 存储实现（PostgreSQL 与 MySQL）
type Store struct {
	db      *gorm.DB
	onClose func()
}

// NewStore 基于 pgx 连接池创建 PostgreSQL 存储实例
func NewStore(client *Client) (*Store, error) {
	s, err := NewStoreWithDialector(postgres.New(postgres.Config{Conn: client.DB()}))
	if err != nil {
		client.Close()
		return nil, err
	}
	s.onClose = client.Close
	return s, nil
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string) (*Store, error) {
	normalized, err := NormalizeMySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	return NewStoreWithDialector(mysql.Open(normalized))
}

// NormalizeMySQLDSN 强制开启 parseTime 并使用 UTC。
func NormalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&inboxRecord{}, &messageRecord{})
}

// DB 返回底层 GORM 实例
func (s *Store) DB() *gorm.DB { return s.db }

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

// ========== Inbox Repository ==========

// InsertInbox 唯一性插入收件箱
func (s *Store) InsertInbox(ctx context.Context, inbox *domain.Inbox) error {
	rec := toInboxRecord(inbox)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return domain.StorageFailure("insert inbox", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrAddressTaken
	}
	return nil
}

// UpsertInbox 插入或覆盖收件箱元数据
func (s *Store) UpsertInbox(ctx context.Context, inbox *domain.Inbox) error {
	rec := toInboxRecord(inbox)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"domain", "is_custom", "created_at", "expires_at", "max_expires_at"}),
	}).Create(&rec).Error
	if err != nil {
		return domain.StorageFailure("upsert inbox", err)
	}
	return nil
}

// EnsureInbox 不存在时插入
func (s *Store) EnsureInbox(ctx context.Context, inbox *domain.Inbox) (*domain.Inbox, bool, error) {
	rec := toInboxRecord(inbox)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return nil, false, domain.StorageFailure("ensure inbox", res.Error)
	}
	current, err := s.GetInbox(ctx, inbox.Address)
	if err != nil {
		return nil, false, err
	}
	return current, res.RowsAffected > 0, nil
}

// GetInbox 根据地址获取收件箱
func (s *Store) GetInbox(ctx context.Context, address string) (*domain.Inbox, error) {
	var rec inboxRecord
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInboxNotFound
	}
	if err != nil {
		return nil, domain.StorageFailure("get inbox", err)
	}
	return rec.toDomain(), nil
}

// ExtendInbox 条件更新延期，截断到 max_expires_at
func (s *Store) ExtendInbox(ctx context.Context, address string, step time.Duration) (*domain.Inbox, error) {
	ms := step.Milliseconds()
	res := s.db.WithContext(ctx).Model(&inboxRecord{}).
		Where("address = ? AND expires_at < max_expires_at", address).
		Update("expires_at", gorm.Expr(
			"CASE WHEN expires_at + ? > max_expires_at THEN max_expires_at ELSE expires_at + ? END", ms, ms))
	if res.Error != nil {
		return nil, domain.StorageFailure("extend inbox", res.Error)
	}

	inbox, err := s.GetInbox(ctx, address)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrAlreadyMaxed
	}
	return inbox, nil
}

// SetForwardAddress 设置转发地址
func (s *Store) SetForwardAddress(ctx context.Context, address, forwardTo string) error {
	res := s.db.WithContext(ctx).Model(&inboxRecord{}).Where("address = ?", address).Update("forward_to", forwardTo)
	if res.Error != nil {
		return domain.StorageFailure("set forward address", res.Error)
	}
	if res.RowsAffected == 0 {
		// MySQL 在值未变化时返回 0 行
		if _, err := s.GetInbox(ctx, address); err != nil {
			return err
		}
	}
	return nil
}

// DeleteInbox 删除收件箱及其邮件
func (s *Store) DeleteInbox(ctx context.Context, address string) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("inbox_address = ?", address).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("address = ?", address).Delete(&inboxRecord{})
		deleted = res.RowsAffected > 0
		return res.Error
	})
	if err != nil {
		return false, domain.StorageFailure("delete inbox", err)
	}
	return deleted, nil
}

// ListActiveInboxes 返回有效收件箱
func (s *Store) ListActiveInboxes(ctx context.Context, now time.Time) ([]domain.Inbox, error) {
	var recs []inboxRecord
	if err := s.db.WithContext(ctx).Where("expires_at > ?", now.UnixMilli()).Find(&recs).Error; err != nil {
		return nil, domain.StorageFailure("list active inboxes", err)
	}
	result := make([]domain.Inbox, 0, len(recs))
	for i := range recs {
		result = append(result, *recs[i].toDomain())
	}
	return result, nil
}

// ========== Message Repository ==========

// InsertMessage 在事务中共享锁定收件箱行后插入邮件，并发删除收件箱时不会留下孤儿邮件。
func (s *Store) InsertMessage(ctx context.Context, message *domain.Message) (bool, error) {
	rec, err := toMessageRecord(message)
	if err != nil {
		return false, err
	}

	var inserted bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner inboxRecord
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("address").Where("address = ?", message.InboxAddress).First(&owner).Error
		if err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		inserted = res.RowsAffected > 0
		return res.Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, domain.ErrInboxNotFound
	}
	if err != nil {
		return false, domain.StorageFailure("insert message", err)
	}
	return inserted, nil
}

// ListMessages 返回未删除邮件
func (s *Store) ListMessages(ctx context.Context, address string) ([]domain.Message, error) {
	return s.findMessages(ctx, "list messages", "received_at DESC, id DESC",
		"inbox_address = ? AND is_deleted = ?", address, false)
}

// GetMessage 获取单封邮件
func (s *Store) GetMessage(ctx context.Context, address, id string) (*domain.Message, error) {
	var rec messageRecord
	err := s.db.WithContext(ctx).Where("id = ? AND inbox_address = ?", id, address).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, domain.StorageFailure("get message", err)
	}
	msg, err := rec.toDomain()
	if err != nil {
		return nil, domain.StorageFailure("get message", err)
	}
	return &msg, nil
}

// MarkRead 标记已读
func (s *Store) MarkRead(ctx context.Context, address, id string) error {
	res := s.db.WithContext(ctx).Model(&messageRecord{}).
		Where("id = ? AND inbox_address = ?", id, address).Update("is_read", true)
	if res.Error != nil {
		return domain.StorageFailure("mark read", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&messageRecord{}).
			Where("id = ? AND inbox_address = ?", id, address).Count(&count).Error; err != nil {
			return domain.StorageFailure("mark read", err)
		}
		if count == 0 {
			return domain.ErrMessageNotFound
		}
	}
	return nil
}

// SearchMessages 搜索邮件
func (s *Store) SearchMessages(ctx context.Context, address, query string) ([]domain.Message, error) {
	pattern := storage.LikePattern(query)
	return s.findMessages(ctx, "search messages", "received_at DESC, id DESC",
		`inbox_address = ? AND is_deleted = ? AND (LOWER(subject) LIKE ? ESCAPE '!'
			OR LOWER(from_address) LIKE ? ESCAPE '!' OR LOWER(text_content) LIKE ? ESCAPE '!')`,
		address, false, pattern, pattern, pattern)
}

// SoftDelete 软删除
func (s *Store) SoftDelete(ctx context.Context, address, id string, at time.Time) (bool, error) {
	ms := at.UnixMilli()
	res := s.db.WithContext(ctx).Model(&messageRecord{}).
		Where("id = ? AND inbox_address = ? AND is_deleted = ?", id, address, false).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_at": ms})
	if res.Error != nil {
		return false, domain.StorageFailure("soft delete", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SoftDeleteAll 批量软删除
func (s *Store) SoftDeleteAll(ctx context.Context, address string, at time.Time) (int, error) {
	ms := at.UnixMilli()
	res := s.db.WithContext(ctx).Model(&messageRecord{}).
		Where("inbox_address = ? AND is_deleted = ?", address, false).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_at": ms})
	if res.Error != nil {
		return 0, domain.StorageFailure("soft delete all", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Restore 恢复邮件
func (s *Store) Restore(ctx context.Context, address, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&messageRecord{}).
		Where("id = ? AND inbox_address = ? AND is_deleted = ?", id, address, true).
		Updates(map[string]interface{}{"is_deleted": false, "deleted_at": gorm.Expr("NULL")})
	if res.Error != nil {
		return false, domain.StorageFailure("restore", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// PermanentDelete 永久删除
func (s *Store) PermanentDelete(ctx context.Context, address, id string) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND inbox_address = ?", id, address).Delete(&messageRecord{})
	if res.Error != nil {
		return false, domain.StorageFailure("permanent delete", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListTrash 回收站
func (s *Store) ListTrash(ctx context.Context, address string) ([]domain.Message, error) {
	return s.findMessages(ctx, "list trash", "deleted_at DESC, id DESC",
		"inbox_address = ? AND is_deleted = ?", address, true)
}

// InboxStats 收件箱统计
func (s *Store) InboxStats(ctx context.Context, address string) (domain.InboxStats, error) {
	var row struct {
		Total        int64
		TotalRead    int64
		TotalDeleted int64
	}
	err := s.db.WithContext(ctx).Model(&messageRecord{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN is_read = ? THEN 1 ELSE 0 END), 0) AS total_read,
			COALESCE(SUM(CASE WHEN is_deleted = ? THEN 1 ELSE 0 END), 0) AS total_deleted`, true, true).
		Where("inbox_address = ?", address).
		Scan(&row).Error
	if err != nil {
		return domain.InboxStats{}, domain.StorageFailure("inbox stats", err)
	}
	return domain.InboxStats{
		TotalReceived: int(row.Total),
		TotalRead:     int(row.TotalRead),
		TotalDeleted:  int(row.TotalDeleted),
	}, nil
}

// ========== Maintenance Repository ==========

// DeleteExpiredInboxes 删除过期收件箱，先删邮件后删收件箱
func (s *Store) DeleteExpiredInboxes(ctx context.Context, now time.Time) (int, int, error) {
	var inboxes, messages int64
	cutoff := now.UnixMilli()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&inboxRecord{}).Select("address").Where("expires_at <= ?", cutoff)
		res := tx.Where("inbox_address IN (?)", expired).Delete(&messageRecord{})
		if res.Error != nil {
			return res.Error
		}
		messages = res.RowsAffected

		res = tx.Where("expires_at <= ?", cutoff).Delete(&inboxRecord{})
		inboxes = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, 0, domain.StorageFailure("delete expired inboxes", err)
	}
	return int(inboxes), int(messages), nil
}

// PurgeTrash 清理回收站
func (s *Store) PurgeTrash(ctx context.Context, before time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("is_deleted = ? AND deleted_at < ?", true, before.UnixMilli()).
		Delete(&messageRecord{})
	if res.Error != nil {
		return 0, domain.StorageFailure("purge trash", res.Error)
	}
	return int(res.RowsAffected), nil
}

// GlobalStats 全局统计
func (s *Store) GlobalStats(ctx context.Context, now time.Time) (domain.GlobalStats, error) {
	var total, deleted, active int64
	db := s.db.WithContext(ctx)
	if err := db.Model(&messageRecord{}).Count(&total).Error; err != nil {
		return domain.GlobalStats{}, domain.StorageFailure("global stats", err)
	}
	if err := db.Model(&messageRecord{}).Where("is_deleted = ?", true).Count(&deleted).Error; err != nil {
		return domain.GlobalStats{}, domain.StorageFailure("global stats", err)
	}
	if err := db.Model(&inboxRecord{}).Where("expires_at > ?", now.UnixMilli()).Count(&active).Error; err != nil {
		return domain.GlobalStats{}, domain.StorageFailure("global stats", err)
	}
	return domain.GlobalStats{
		TotalReceived: int(total),
		TotalDeleted:  int(deleted),
		ActiveInboxes: int(active),
	}, nil
}

func (s *Store) findMessages(ctx context.Context, op, order, query string, args ...interface{}) ([]domain.Message, error) {
	var recs []messageRecord
	if err := s.db.WithContext(ctx).Where(query, args...).Order(order).Find(&recs).Error; err != nil {
		return nil, domain.StorageFailure(op, err)
	}
	result := make([]domain.Message, 0, len(recs))
	for i := range recs {
		msg, err := recs[i].toDomain()
		if err != nil {
			return nil, domain.StorageFailure(op, err)
		}
		result = append(result, msg)
	}
	return result, nil
}

func toInboxRecord(inbox *domain.Inbox) inboxRecord {
	return inboxRecord{
		Address:      inbox.Address,
		Domain:       inbox.Domain,
		IsCustom:     inbox.IsCustom,
		ForwardTo:    inbox.ForwardTo,
		CreatedAt:    inbox.CreatedAt.UnixMilli(),
		ExpiresAt:    inbox.ExpiresAt.UnixMilli(),
		MaxExpiresAt: inbox.MaxExpiresAt.UnixMilli(),
	}
}

func (r *inboxRecord) toDomain() *domain.Inbox {
	return &domain.Inbox{
		Address:      r.Address,
		Domain:       r.Domain,
		IsCustom:     r.IsCustom,
		ForwardTo:    r.ForwardTo,
		CreatedAt:    time.UnixMilli(r.CreatedAt).UTC(),
		ExpiresAt:    time.UnixMilli(r.ExpiresAt).UTC(),
		MaxExpiresAt: time.UnixMilli(r.MaxExpiresAt).UTC(),
	}
}

func toMessageRecord(m *domain.Message) (messageRecord, error) {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return messageRecord{}, fmt.Errorf("encode attachments: %w", err)
	}
	rec := messageRecord{
		ID:           m.ID,
		InboxAddress: m.InboxAddress,
		From:         m.From,
		Subject:      m.Subject,
		Text:         m.Text,
		HTML:         m.HTML,
		ReceivedAt:   m.Date.UnixMilli(),
		IsRead:       m.Read,
		Attachments:  string(encoded),
	}
	return rec, nil
}

func (r *messageRecord) toDomain() (domain.Message, error) {
	msg := domain.Message{
		ID:           r.ID,
		InboxAddress: r.InboxAddress,
		From:         r.From,
		Subject:      r.Subject,
		Text:         r.Text,
		HTML:         r.HTML,
		Date:         time.UnixMilli(r.ReceivedAt).UTC(),
		Read:         r.IsRead,
		Deleted:      r.IsDeleted,
		Attachments:  []domain.Attachment{},
	}
	if r.DeletedAt != nil {
		at := time.UnixMilli(*r.DeletedAt).UTC()
		msg.DeletedAt = &at
	}
	if r.Attachments != "" {
		if err := json.Unmarshal([]byte(r.Attachments), &msg.Attachments); err != nil {
			return msg, fmt.Errorf("decode attachments of %s: %w", r.ID, err)
		}
	}
	return msg, nil
}
