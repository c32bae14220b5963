package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/storage"
)

// 随机用户名冲突时的最大重试次数
const maxGenerateAttempts = 5

// InboxService 负责收件箱的身份、寿命和唯一性。
type InboxService struct {
	repo      storage.InboxRepository
	cfg       config.MailboxConfig
	domainSet map[string]struct{}
	metrics   *monitoring.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewInboxService 创建收件箱业务服务。
func NewInboxService(repo storage.InboxRepository, cfg config.MailboxConfig, metrics *monitoring.Metrics, log *zap.Logger) *InboxService {
	domainSet := make(map[string]struct{}, len(cfg.Domains))
	for _, d := range cfg.Domains {
		domainSet[d] = struct{}{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &InboxService{
		repo:      repo,
		cfg:       cfg,
		domainSet: domainSet,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// SetClock 替换时钟
func (s *InboxService) SetClock(now func() time.Time) {
	s.now = now
}

// clock 返回毫秒精度的 UTC 时间，与 SQL 存储的精度一致
func (s *InboxService) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Domains 返回可用域名列表，第一个为默认域名
func (s *InboxService) Domains() []string {
	out := make([]string, len(s.cfg.Domains))
	copy(out, s.cfg.Domains)
	return out
}

// ServesDomain 判断域名是否在允许列表中
func (s *InboxService) ServesDomain(d string) bool {
	_, ok := s.domainSet[d]
	return ok
}

// pickDomain 未知或为空的域名回退到默认域名
func (s *InboxService) pickDomain(requested string) string {
	requested = domain.NormalizeAddress(requested)
	if s.ServesDomain(requested) {
		return requested
	}
	return s.cfg.Domains[0]
}

// CreateInboxInput 定义创建收件箱所需的输入。
type CreateInboxInput struct {
	Username string // 留空表示随机生成
	Domain   string
}

// Create 创建新的收件箱。
//
// 自定义用户名冲突时返回 domain.ErrUsernameTaken，随机用户名冲突时自动重试。
func (s *InboxService) Create(ctx context.Context, input CreateInboxInput) (*domain.Inbox, error) {
	selected := s.pickDomain(input.Domain)

	if input.Username != "" {
		username := domain.SanitizeUsername(input.Username)
		if err := domain.ValidateUsername(username); err != nil {
			return nil, err
		}
		inbox := s.newInbox(username+"@"+selected, true)
		if err := s.repo.InsertInbox(ctx, inbox); err != nil {
			if errors.Is(err, domain.ErrAddressTaken) {
				return nil, domain.ErrUsernameTaken
			}
			return nil, err
		}
		s.recordCreated(monitoring.KindCustom, inbox)
		return inbox, nil
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		inbox := s.newInbox(domain.GenerateUsername()+"@"+selected, false)
		err := s.repo.InsertInbox(ctx, inbox)
		if err == nil {
			s.recordCreated(monitoring.KindGenerated, inbox)
			return inbox, nil
		}
		if !errors.Is(err, domain.ErrAddressTaken) {
			return nil, err
		}
		s.log.Debug("generated address collided, retrying", zap.String("address", inbox.Address))
	}
	return nil, fmt.Errorf("generate address after %d attempts: %w", maxGenerateAttempts, domain.ErrAddressTaken)
}

// CheckUsername 判断 username@domain 是否未被占用，非法用户名视为不可用。
func (s *InboxService) CheckUsername(ctx context.Context, username, requestedDomain string) (bool, error) {
	username = domain.SanitizeUsername(username)
	if domain.ValidateUsername(username) != nil {
		return false, nil
	}
	_, err := s.repo.GetInbox(ctx, username+"@"+s.pickDomain(requestedDomain))
	if errors.Is(err, domain.ErrInboxNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// Ensure 幂等地获取或创建收件箱，已有记录不会被修改。created 表示本次是否新建。
func (s *InboxService) Ensure(ctx context.Context, address string) (inbox *domain.Inbox, created bool, err error) {
	address, err = s.parseServed(address)
	if err != nil {
		return nil, false, err
	}
	candidate := s.newInbox(address, false)
	inbox, created, err = s.repo.EnsureInbox(ctx, candidate)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.recordCreated(monitoring.KindIngest, inbox)
	}
	return inbox, created, nil
}

// Register 显式创建或覆盖收件箱，刷新寿命，已有邮件保留。
func (s *InboxService) Register(ctx context.Context, address string, isCustom bool) (*domain.Inbox, error) {
	address, err := s.parseServed(address)
	if err != nil {
		return nil, err
	}
	inbox := s.newInbox(address, isCustom)
	if err := s.repo.UpsertInbox(ctx, inbox); err != nil {
		return nil, err
	}
	s.log.Info("inbox registered", zap.String("address", address), zap.Bool("custom", isCustom))
	return inbox, nil
}

// Get 返回收件箱视图，不存在或已过期时返回 domain.ErrInboxNotFound。
func (s *InboxService) Get(ctx context.Context, address string) (*domain.InboxView, error) {
	inbox, err := s.active(ctx, address)
	if err != nil {
		return nil, err
	}
	return domain.NewInboxView(inbox), nil
}

// IsActive 收件箱存在且未过期
func (s *InboxService) IsActive(ctx context.Context, address string) (bool, error) {
	_, err := s.active(ctx, address)
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
		return false, nil
	}
	return err == nil, err
}

// Extend 延长寿命一个步长，截断到最大寿命。已过期的收件箱不能延期。
func (s *InboxService) Extend(ctx context.Context, address string) (*domain.InboxView, error) {
	current, err := s.active(ctx, address)
	if err != nil {
		return nil, err
	}
	address = current.Address
	inbox, err := s.repo.ExtendInbox(ctx, address, s.cfg.ExtendStep)
	if err != nil {
		return nil, err
	}
	s.log.Info("inbox extended", zap.String("address", address), zap.Time("expires_at", inbox.ExpiresAt))
	return domain.NewInboxView(inbox), nil
}

// SetForwardAddress 记录转发地址，空字符串表示清除。转发地址只保存，不做投递。
func (s *InboxService) SetForwardAddress(ctx context.Context, address, forwardTo string) (*domain.InboxView, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return nil, domain.ErrAddressRequired
	}
	if forwardTo != "" {
		normalized, err := domain.ValidateForwardAddress(forwardTo)
		if err != nil {
			return nil, err
		}
		if normalized == address {
			return nil, domain.ErrInvalidAddress
		}
		forwardTo = normalized
	}
	if _, err := s.active(ctx, address); err != nil {
		return nil, err
	}
	if err := s.repo.SetForwardAddress(ctx, address, forwardTo); err != nil {
		return nil, err
	}
	return s.Get(ctx, address)
}

// Delete 删除收件箱及其全部邮件，不存在时返回 false。
func (s *InboxService) Delete(ctx context.Context, address string) (bool, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return false, domain.ErrAddressRequired
	}
	deleted, err := s.repo.DeleteInbox(ctx, address)
	if err != nil {
		return false, err
	}
	if deleted {
		s.log.Info("inbox deleted", zap.String("address", address))
	}
	return deleted, nil
}

// ListActive 返回全部未过期的收件箱
func (s *InboxService) ListActive(ctx context.Context) ([]domain.Inbox, error) {
	return s.repo.ListActiveInboxes(ctx, s.clock())
}

func (s *InboxService) active(ctx context.Context, address string) (*domain.Inbox, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return nil, domain.ErrAddressRequired
	}
	inbox, err := s.repo.GetInbox(ctx, address)
	if err != nil {
		return nil, err
	}
	if !inbox.ActiveAt(s.clock()) {
		return nil, domain.ErrInboxNotFound
	}
	return inbox, nil
}

// parseServed 规范化地址并要求域名在允许列表中
func (s *InboxService) parseServed(address string) (string, error) {
	address, domainPart, err := domain.ParseInboxAddress(address)
	if err != nil {
		return "", err
	}
	if !s.ServesDomain(domainPart) {
		return "", domain.ErrDomainNotServed
	}
	return address, nil
}

func (s *InboxService) newInbox(address string, isCustom bool) *domain.Inbox {
	return domain.NewInbox(address, isCustom, s.clock(), s.cfg.InitialTTL, s.cfg.MaxTTL)
}

func (s *InboxService) recordCreated(kind string, inbox *domain.Inbox) {
	if s.metrics != nil {
		s.metrics.RecordInboxCreated(kind)
	}
	s.log.Info("inbox created",
		zap.String("address", inbox.Address),
		zap.String("kind", kind),
		zap.Time("expires_at", inbox.ExpiresAt),
	)
}
