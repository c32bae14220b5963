package smtp

import (
	"context"
	"errors"
	"io"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/service"
)

// 拒绝原因，对应 smtp_rejected_total 的 reason 标签
const (
	reasonInvalidAddress = "invalid_address"
	reasonDomain         = "domain_not_served"
	reasonBadSequence    = "bad_sequence"
	reasonNoRecipient    = "no_recipient"
	reasonOversize       = "oversize"
	reasonParse          = "parse"
	reasonStorage        = "storage"
	reasonConnections    = "connection_limit"
)

var (
	errBadSequence = &gosmtp.SMTPError{
		Code:         503,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "send MAIL first",
	}
	errInvalidRecipient = &gosmtp.SMTPError{
		Code:         501,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
		Message:      "invalid recipient address",
	}
	errDomainNotServed = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
		Message:      "recipient domain not served here",
	}
	errTooManyRecipients = &gosmtp.SMTPError{
		Code:         452,
		EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
		Message:      "too many recipients",
	}
	errNoRecipient = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "no valid recipients",
	}
	errMessageTooLarge = &gosmtp.SMTPError{
		Code:         552,
		EnhancedCode: gosmtp.EnhancedCode{5, 3, 4},
		Message:      "message size exceeds limit",
	}
	errMalformedMessage = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      "malformed message",
	}
	errTemporaryFailure = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "temporary failure storing message, try again later",
	}
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往已配置域名的邮件，不做任何中继。收件箱不存在时由入库服务自动创建。
type Backend struct {
	ingest  *service.IngestService
	cfg     config.SMTPConfig
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(ingest *service.IngestService, cfg config.SMTPConfig, metrics *monitoring.Metrics, log *zap.Logger) *Backend {
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		ingest:  ingest,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	b.metrics.RecordSMTPSession()
	s := &session{backend: b}
	if c != nil {
		if conn := c.Conn(); conn != nil {
			s.remote = conn.RemoteAddr().String()
		}
	}
	return s, nil
}

// sessionState 会话所处阶段
type sessionState int

const (
	stateConnected sessionState = iota
	stateSender
	stateRecipient
)

type session struct {
	backend    *Backend
	remote     string
	state      sessionState
	from       string
	recipients []string
}

// Mail 处理 MAIL 命令。空的反向路径（退信）也是合法的。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = domain.NormalizeAddress(from)
	s.recipients = nil
	s.state = stateSender
	return nil
}

// Rcpt 处理 RCPT 命令，只接受允许列表内的域名。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.state == stateConnected {
		return s.reject(reasonBadSequence, errBadSequence)
	}
	if limit := s.backend.cfg.MaxRecipients; limit > 0 && len(s.recipients) >= limit {
		return errTooManyRecipients
	}

	address, recipientDomain, err := domain.ParseInboxAddress(to)
	if err != nil {
		return s.reject(reasonInvalidAddress, errInvalidRecipient)
	}
	if !s.backend.ingest.ServesDomain(recipientDomain) {
		s.backend.log.Debug("recipient domain rejected",
			zap.String("remote", s.remote),
			zap.String("recipient", address),
		)
		return s.reject(reasonDomain, errDomainNotServed)
	}

	s.recipients = append(s.recipients, address)
	s.state = stateRecipient
	return nil
}

// Data 读取完整的邮件内容后再解析入库，断开的事务不会留下半封邮件。
func (s *session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return s.reject(reasonNoRecipient, errNoRecipient)
	}

	raw, err := s.readBody(r)
	if err != nil {
		if errors.Is(err, gosmtp.ErrDataTooLarge) || errors.Is(err, errMessageTooLarge) {
			return s.reject(reasonOversize, errMessageTooLarge)
		}
		return err
	}

	parsed, err := ParseEmail(raw)
	if err != nil {
		s.backend.metrics.RecordParseError()
		s.backend.log.Warn("failed to parse inbound message",
			zap.String("remote", s.remote),
			zap.String("recipient", s.recipients[0]),
			zap.Int("bytes", len(raw)),
			zap.Error(err),
		)
		return s.reject(reasonParse, errMalformedMessage)
	}

	input := service.IngestInput{
		To:          s.recipients[0],
		From:        firstNonEmpty(parsed.From, s.from, domain.DefaultSender),
		Subject:     parsed.Subject,
		Text:        parsed.Text,
		HTML:        parsed.HTML,
		Attachments: parsed.Attachments,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.backend.ingest.Ingest(ctx, input); err != nil {
		if errors.Is(err, domain.ErrDomainNotServed) {
			return s.reject(reasonDomain, errDomainNotServed)
		}
		s.backend.log.Error("failed to store inbound message",
			zap.String("remote", s.remote),
			zap.String("recipient", input.To),
			zap.Error(err),
		)
		return s.reject(reasonStorage, errTemporaryFailure)
	}
	return nil
}

// readBody 按配置的上限读取邮件内容。go-smtp 自身也会限制，这里用于直接驱动会话的场景。
func (s *session) readBody(r io.Reader) ([]byte, error) {
	limit := s.backend.cfg.MaxMessageBytes
	if limit <= 0 {
		return io.ReadAll(r)
	}
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		_, _ = io.Copy(io.Discard, r)
		return nil, errMessageTooLarge
	}
	return raw, nil
}

func (s *session) reject(reason string, err *gosmtp.SMTPError) error {
	s.backend.metrics.RecordSMTPRejected(reason)
	return err
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
	s.state = stateConnected
}

// Logout 会话结束。
func (s *session) Logout() error {
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
