package sql

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/storage"
)

// 支持的驱动
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

//go:embed schema/schema.sql
var schemaSQL string

var _ storage.Store = (*Store)(nil)

// Store 基于 sqlx 的关系型存储，支持 SQLite 和 PostgreSQL。
//
// 占位符统一使用 $N，并且在语句中按首次出现的顺序编号，两种驱动都能正确绑定。
type Store struct {
	db         *sqlx.DB
	driverName string
}

// NewStore 创建SQL数据库存储并执行建表。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != DriverSQLite && driverName != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite3, postgres)", driverName)
	}

	db, err := sqlx.Open(openDriver(driverName), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == DriverSQLite {
		// SQLite 只允许单写者，单连接也保证 :memory: 数据库不会随连接回收丢失
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
		db.SetConnMaxLifetime(connMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db, driverName); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, driverName: driverName}, nil
}

// Migrate 执行建表语句，可重复执行。
func Migrate(ctx context.Context, db *sqlx.DB, driverName string) error {
	if driverName == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return err
		}
	}
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}

// Schema 返回内置建表语句
func Schema() string { return schemaSQL }

// DB 返回底层连接
func (s *Store) DB() *sqlx.DB { return s.db }

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping 检查数据库健康状态
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

type inboxRow struct {
	Address      string `db:"address"`
	Domain       string `db:"domain"`
	IsCustom     bool   `db:"is_custom"`
	ForwardTo    string `db:"forward_to"`
	CreatedAt    int64  `db:"created_at"`
	ExpiresAt    int64  `db:"expires_at"`
	MaxExpiresAt int64  `db:"max_expires_at"`
}

func (r *inboxRow) toDomain() *domain.Inbox {
	return &domain.Inbox{
		Address:      r.Address,
		Domain:       r.Domain,
		IsCustom:     r.IsCustom,
		ForwardTo:    r.ForwardTo,
		CreatedAt:    fromMillis(r.CreatedAt),
		ExpiresAt:    fromMillis(r.ExpiresAt),
		MaxExpiresAt: fromMillis(r.MaxExpiresAt),
	}
}

type messageRow struct {
	ID           string        `db:"id"`
	InboxAddress string        `db:"inbox_address"`
	From         string        `db:"from_address"`
	Subject      string        `db:"subject"`
	Text         string        `db:"text_content"`
	HTML         string        `db:"html_content"`
	ReceivedAt   int64         `db:"received_at"`
	IsRead       bool          `db:"is_read"`
	IsDeleted    bool          `db:"is_deleted"`
	DeletedAt    sql.NullInt64 `db:"deleted_at"`
	Attachments  string        `db:"attachments"`
}

func (r *messageRow) toDomain() (domain.Message, error) {
	msg := domain.Message{
		ID:           r.ID,
		InboxAddress: r.InboxAddress,
		From:         r.From,
		Subject:      r.Subject,
		Text:         r.Text,
		HTML:         r.HTML,
		Date:         fromMillis(r.ReceivedAt),
		Read:         r.IsRead,
		Deleted:      r.IsDeleted,
		Attachments:  []domain.Attachment{},
	}
	if r.DeletedAt.Valid {
		at := fromMillis(r.DeletedAt.Int64)
		msg.DeletedAt = &at
	}
	if r.Attachments != "" {
		if err := json.Unmarshal([]byte(r.Attachments), &msg.Attachments); err != nil {
			return msg, fmt.Errorf("decode attachments of %s: %w", r.ID, err)
		}
	}
	return msg, nil
}

const inboxColumns = "address, domain, is_custom, forward_to, created_at, expires_at, max_expires_at"

const messageColumns = "id, inbox_address, from_address, subject, text_content, html_content, received_at, is_read, is_deleted, deleted_at, attachments"

// InsertInbox 唯一性插入收件箱。
func (s *Store) InsertInbox(ctx context.Context, inbox *domain.Inbox) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inboxes (`+inboxColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address) DO NOTHING`,
		inboxArgs(inbox)...)
	if err != nil {
		return domain.StorageFailure("insert inbox", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.StorageFailure("insert inbox", err)
	}
	if n == 0 {
		return domain.ErrAddressTaken
	}
	return nil
}

// UpsertInbox 插入或覆盖收件箱元数据，转发地址保持不变。
func (s *Store) UpsertInbox(ctx context.Context, inbox *domain.Inbox) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inboxes (`+inboxColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address) DO UPDATE SET
			domain = excluded.domain,
			is_custom = excluded.is_custom,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			max_expires_at = excluded.max_expires_at`,
		inboxArgs(inbox)...)
	if err != nil {
		return domain.StorageFailure("upsert inbox", err)
	}
	return nil
}

// EnsureInbox 不存在时插入，并返回当前记录。
func (s *Store) EnsureInbox(ctx context.Context, inbox *domain.Inbox) (*domain.Inbox, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inboxes (`+inboxColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address) DO NOTHING`,
		inboxArgs(inbox)...)
	if err != nil {
		return nil, false, domain.StorageFailure("ensure inbox", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, domain.StorageFailure("ensure inbox", err)
	}
	current, err := s.GetInbox(ctx, inbox.Address)
	if err != nil {
		return nil, false, err
	}
	return current, n > 0, nil
}

// GetInbox 根据地址获取收件箱。
func (s *Store) GetInbox(ctx context.Context, address string) (*domain.Inbox, error) {
	var row inboxRow
	err := s.db.GetContext(ctx, &row, `SELECT `+inboxColumns+` FROM inboxes WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInboxNotFound
	}
	if err != nil {
		return nil, domain.StorageFailure("get inbox", err)
	}
	return row.toDomain(), nil
}

// ExtendInbox 用一条条件 UPDATE 完成延期与截断。
func (s *Store) ExtendInbox(ctx context.Context, address string, step time.Duration) (*domain.Inbox, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE inboxes SET expires_at = CASE
			WHEN expires_at + $1 > max_expires_at THEN max_expires_at
			ELSE expires_at + $1
		END
		WHERE address = $2 AND expires_at < max_expires_at`,
		step.Milliseconds(), address)
	if err != nil {
		return nil, domain.StorageFailure("extend inbox", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, domain.StorageFailure("extend inbox", err)
	}

	inbox, err := s.GetInbox(ctx, address)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, domain.ErrAlreadyMaxed
	}
	return inbox, nil
}

// SetForwardAddress 设置转发地址
func (s *Store) SetForwardAddress(ctx context.Context, address, forwardTo string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE inboxes SET forward_to = $1 WHERE address = $2`, forwardTo, address)
	if err != nil {
		return domain.StorageFailure("set forward address", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInboxNotFound
	}
	return nil
}

// DeleteInbox 在事务中先删邮件再删收件箱。
func (s *Store) DeleteInbox(ctx context.Context, address string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE inbox_address = $1`, address); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM inboxes WHERE address = $1`, address)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})
	if err != nil {
		return false, domain.StorageFailure("delete inbox", err)
	}
	return deleted, nil
}

// ListActiveInboxes 返回 now 时刻仍有效的收件箱。
func (s *Store) ListActiveInboxes(ctx context.Context, now time.Time) ([]domain.Inbox, error) {
	var rows []inboxRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+inboxColumns+` FROM inboxes WHERE expires_at > $1`, now.UnixMilli()); err != nil {
		return nil, domain.StorageFailure("list active inboxes", err)
	}
	result := make([]domain.Inbox, 0, len(rows))
	for i := range rows {
		result = append(result, *rows[i].toDomain())
	}
	return result, nil
}

// InsertMessage 只在所属收件箱存在时插入，重复 ID 被忽略。
func (s *Store) InsertMessage(ctx context.Context, message *domain.Message) (bool, error) {
	attachments, err := json.Marshal(nonNilAttachments(message.Attachments))
	if err != nil {
		return false, fmt.Errorf("encode attachments: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		SELECT CAST($1 AS TEXT), CAST($2 AS TEXT), CAST($3 AS TEXT), CAST($4 AS TEXT), CAST($5 AS TEXT),
			CAST($6 AS TEXT), CAST($7 AS BIGINT), CAST($8 AS BOOLEAN), CAST($9 AS BOOLEAN), NULL, CAST($10 AS TEXT)
		WHERE EXISTS (SELECT 1 FROM inboxes WHERE address = $2)
		ON CONFLICT (id) DO NOTHING`,
		message.ID, message.InboxAddress, message.From, message.Subject, message.Text,
		message.HTML, message.Date.UnixMilli(), message.Read, false, string(attachments))
	if err != nil {
		return false, domain.StorageFailure("insert message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.StorageFailure("insert message", err)
	}
	if n > 0 {
		return true, nil
	}

	// 未插入：区分收件箱不存在与重复 ID
	if _, err := s.GetInbox(ctx, message.InboxAddress); err != nil {
		return false, err
	}
	return false, nil
}

// ListMessages 返回未删除邮件，按日期倒序。
func (s *Store) ListMessages(ctx context.Context, address string) ([]domain.Message, error) {
	return s.selectMessages(ctx, "list messages",
		`SELECT `+messageColumns+` FROM messages
		WHERE inbox_address = $1 AND is_deleted = $2
		ORDER BY received_at DESC, id DESC`,
		address, false)
}

// GetMessage 获取单封邮件（包括回收站中的邮件）。
func (s *Store) GetMessage(ctx context.Context, address, id string) (*domain.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND inbox_address = $2`, id, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, domain.StorageFailure("get message", err)
	}
	msg, err := row.toDomain()
	if err != nil {
		return nil, domain.StorageFailure("get message", err)
	}
	return &msg, nil
}

// MarkRead 标记已读
func (s *Store) MarkRead(ctx context.Context, address, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = $1 WHERE id = $2 AND inbox_address = $3`, true, id, address)
	if err != nil {
		return domain.StorageFailure("mark read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// SearchMessages 在主题、发件人、正文中做不区分大小写的子串匹配。
func (s *Store) SearchMessages(ctx context.Context, address, query string) ([]domain.Message, error) {
	lower := lowerFunc(s.driverName)
	return s.selectMessages(ctx, "search messages",
		`SELECT `+messageColumns+` FROM messages
		WHERE inbox_address = $1 AND is_deleted = $2
			AND (`+lower+`(subject) LIKE $3 ESCAPE '!'
				OR `+lower+`(from_address) LIKE $3 ESCAPE '!'
				OR `+lower+`(text_content) LIKE $3 ESCAPE '!')
		ORDER BY received_at DESC, id DESC`,
		address, false, storage.LikePattern(query))
}

// SoftDelete 将可见邮件移入回收站。
func (s *Store) SoftDelete(ctx context.Context, address, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_deleted = $1, deleted_at = $2
		WHERE id = $3 AND inbox_address = $4 AND is_deleted = $5`,
		true, at.UnixMilli(), id, address, false)
	if err != nil {
		return false, domain.StorageFailure("soft delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.StorageFailure("soft delete", err)
	}
	return n > 0, nil
}

// SoftDeleteAll 将收件箱内全部可见邮件移入回收站。
func (s *Store) SoftDeleteAll(ctx context.Context, address string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_deleted = $1, deleted_at = $2
		WHERE inbox_address = $3 AND is_deleted = $4`,
		true, at.UnixMilli(), address, false)
	if err != nil {
		return 0, domain.StorageFailure("soft delete all", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.StorageFailure("soft delete all", err)
	}
	return int(n), nil
}

// Restore 从回收站恢复邮件。
func (s *Store) Restore(ctx context.Context, address, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_deleted = $1, deleted_at = NULL
		WHERE id = $2 AND inbox_address = $3 AND is_deleted = $4`,
		false, id, address, true)
	if err != nil {
		return false, domain.StorageFailure("restore", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.StorageFailure("restore", err)
	}
	return n > 0, nil
}

// PermanentDelete 永久删除邮件。
func (s *Store) PermanentDelete(ctx context.Context, address, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1 AND inbox_address = $2`, id, address)
	if err != nil {
		return false, domain.StorageFailure("permanent delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.StorageFailure("permanent delete", err)
	}
	return n > 0, nil
}

// ListTrash 返回回收站邮件，按删除时间倒序。
func (s *Store) ListTrash(ctx context.Context, address string) ([]domain.Message, error) {
	return s.selectMessages(ctx, "list trash",
		`SELECT `+messageColumns+` FROM messages
		WHERE inbox_address = $1 AND is_deleted = $2
		ORDER BY deleted_at DESC, id DESC`,
		address, true)
}

// InboxStats 统计收件箱内全部邮件。
func (s *Store) InboxStats(ctx context.Context, address string) (domain.InboxStats, error) {
	var row struct {
		Total   int64 `db:"total"`
		Read    int64 `db:"total_read"`
		Deleted int64 `db:"total_deleted"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN is_read = $1 THEN 1 ELSE 0 END), 0) AS total_read,
			COALESCE(SUM(CASE WHEN is_deleted = $1 THEN 1 ELSE 0 END), 0) AS total_deleted
		FROM messages WHERE inbox_address = $2`,
		true, address)
	if err != nil {
		return domain.InboxStats{}, domain.StorageFailure("inbox stats", err)
	}
	return domain.InboxStats{
		TotalReceived: int(row.Total),
		TotalRead:     int(row.Read),
		TotalDeleted:  int(row.Deleted),
	}, nil
}

// DeleteExpiredInboxes 在事务中删除过期收件箱，先删邮件再删收件箱。
func (s *Store) DeleteExpiredInboxes(ctx context.Context, now time.Time) (int, int, error) {
	var inboxes, messages int64
	cutoff := now.UnixMilli()
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE inbox_address IN (SELECT address FROM inboxes WHERE expires_at <= $1)`, cutoff)
		if err != nil {
			return err
		}
		if messages, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, `DELETE FROM inboxes WHERE expires_at <= $1`, cutoff)
		if err != nil {
			return err
		}
		inboxes, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, 0, domain.StorageFailure("delete expired inboxes", err)
	}
	return int(inboxes), int(messages), nil
}

// PurgeTrash 永久删除回收站中 deletedAt 早于 before 的邮件。
func (s *Store) PurgeTrash(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE is_deleted = $1 AND deleted_at < $2`, true, before.UnixMilli())
	if err != nil {
		return 0, domain.StorageFailure("purge trash", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.StorageFailure("purge trash", err)
	}
	return int(n), nil
}

// GlobalStats 全局统计
func (s *Store) GlobalStats(ctx context.Context, now time.Time) (domain.GlobalStats, error) {
	var row struct {
		Total   int64 `db:"total"`
		Deleted int64 `db:"total_deleted"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN is_deleted = $1 THEN 1 ELSE 0 END), 0) AS total_deleted
		FROM messages`, true)
	if err != nil {
		return domain.GlobalStats{}, domain.StorageFailure("global stats", err)
	}
	var active int64
	if err := s.db.GetContext(ctx, &active, `SELECT COUNT(*) FROM inboxes WHERE expires_at > $1`, now.UnixMilli()); err != nil {
		return domain.GlobalStats{}, domain.StorageFailure("global stats", err)
	}
	return domain.GlobalStats{
		TotalReceived: int(row.Total),
		TotalDeleted:  int(row.Deleted),
		ActiveInboxes: int(active),
	}, nil
}

func (s *Store) selectMessages(ctx context.Context, op, query string, args ...interface{}) ([]domain.Message, error) {
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, domain.StorageFailure(op, err)
	}
	result := make([]domain.Message, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toDomain()
		if err != nil {
			return nil, domain.StorageFailure(op, err)
		}
		result = append(result, msg)
	}
	return result, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func inboxArgs(inbox *domain.Inbox) []interface{} {
	return []interface{}{
		inbox.Address,
		inbox.Domain,
		inbox.IsCustom,
		inbox.ForwardTo,
		inbox.CreatedAt.UnixMilli(),
		inbox.ExpiresAt.UnixMilli(),
		inbox.MaxExpiresAt.UnixMilli(),
	}
}

func nonNilAttachments(a []domain.Attachment) []domain.Attachment {
	if a == nil {
		return []domain.Attachment{}
	}
	return a
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
