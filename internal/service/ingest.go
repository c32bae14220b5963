package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/storage"
)

// IngestInput 入库一封邮件所需的输入，SMTP 和 HTTP 两条路径共用。
type IngestInput struct {
	ID          string // 留空时生成
	To          string
	From        string
	Subject     string
	Text        string
	HTML        string
	Date        time.Time
	Attachments []domain.Attachment
}

// IngestService 解析出的邮件在这里落到收件箱。
type IngestService struct {
	inboxes  *InboxService
	messages storage.MessageRepository
	notifier Notifier
	metrics  *monitoring.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewIngestService 创建入库服务，notifier 可以为 nil。
func NewIngestService(inboxes *InboxService, messages storage.MessageRepository, notifier Notifier, metrics *monitoring.Metrics, log *zap.Logger) *IngestService {
	if log == nil {
		log = zap.NewNop()
	}
	return &IngestService{
		inboxes:  inboxes,
		messages: messages,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

// SetClock 替换时钟
func (s *IngestService) SetClock(now func() time.Time) {
	s.now = now
}

// ServesDomain 判断域名是否在允许列表中
func (s *IngestService) ServesDomain(d string) bool {
	return s.inboxes.ServesDomain(d)
}

// Ingest 规范化并保存邮件。
//
// 收件箱不存在时自动创建，已过期但尚未清理的收件箱重新登记。重复 ID 不会重复保存。
func (s *IngestService) Ingest(ctx context.Context, input IngestInput) (*domain.Message, error) {
	start := time.Now()

	if strings.TrimSpace(input.To) == "" {
		return nil, domain.ErrRecipientRequired
	}
	if strings.TrimSpace(input.From) == "" {
		return nil, domain.ErrSenderRequired
	}

	inbox, _, err := s.inboxes.Ensure(ctx, input.To)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	if !inbox.ActiveAt(now) {
		if inbox, err = s.inboxes.Register(ctx, inbox.Address, false); err != nil {
			return nil, err
		}
	}

	message := &domain.Message{
		ID:           strings.TrimSpace(input.ID),
		InboxAddress: inbox.Address,
		From:         strings.TrimSpace(input.From),
		Subject:      strings.TrimSpace(input.Subject),
		Text:         input.Text,
		HTML:         input.HTML,
		Date:         input.Date,
		Attachments:  input.Attachments,
	}
	if message.ID == "" {
		message.ID = domain.NewMessageID(now)
	}
	message.Normalize(now)

	sizes := make([]int, 0, len(message.Attachments))
	for i := range message.Attachments {
		att := &message.Attachments[i]
		if att.Size == 0 && att.Content != "" {
			if data, err := att.Decode(); err == nil {
				att.Size = len(data)
			}
		}
		sizes = append(sizes, att.Size)
	}

	inserted, err := s.messages.InsertMessage(ctx, message)
	if err != nil {
		if errors.Is(err, domain.ErrInboxNotFound) {
			s.log.Warn("inbox removed before message was stored", zap.String("address", inbox.Address))
		}
		if s.metrics != nil {
			s.metrics.RecordError("ingest")
		}
		return nil, err
	}
	if !inserted {
		s.log.Debug("duplicate message ignored", zap.String("message_id", message.ID))
		return message, nil
	}

	if s.metrics != nil {
		s.metrics.RecordMessageReceived(time.Since(start), sizes)
	}
	s.log.Info("message stored",
		zap.String("address", message.InboxAddress),
		zap.String("message_id", message.ID),
		zap.String("from", message.From),
		zap.Int("attachments", len(message.Attachments)),
	)

	if s.notifier != nil {
		if err := s.notifier.NotifyNewMessage(ctx, message); err != nil {
			s.log.Warn("new-mail notification dropped", zap.String("message_id", message.ID), zap.Error(err))
		}
	}
	return message, nil
}
