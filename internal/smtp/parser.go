package smtp

import (
	"bytes"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"tempmail/inbox/internal/domain"
)

var errEmptyMessage = errors.New("empty message")

// ParsedEmail 解析后的邮件内容
type ParsedEmail struct {
	From        string
	Subject     string
	Text        string
	HTML        string
	SentAt      time.Time // 发件方 Date 头，缺失或无法解析时为零值。收件时间以到达时刻为准
	Attachments []domain.Attachment
}

// ParseEmail 解析原始 MIME 邮件。
//
// 字符集转换和 RFC 2047 头部解码交给 enmime 完成，附件内容已经解码为原始字节。
func ParseEmail(raw []byte) (*ParsedEmail, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, domain.ParseFailure(errEmptyMessage)
	}

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, domain.ParseFailure(err)
	}

	parsed := &ParsedEmail{
		From:    strings.TrimSpace(envelope.GetHeader("From")),
		Subject: strings.TrimSpace(envelope.GetHeader("Subject")),
		Text:    envelope.Text,
		HTML:    envelope.HTML,
	}
	if date, err := mail.ParseDate(envelope.GetHeader("Date")); err == nil {
		parsed.SentAt = date.UTC()
	}

	parts := make([]*enmime.Part, 0, len(envelope.Attachments)+len(envelope.Inlines))
	parts = append(parts, envelope.Attachments...)
	parts = append(parts, envelope.Inlines...)
	for _, part := range parts {
		parsed.Attachments = append(parsed.Attachments, domain.NewAttachment(part.FileName, part.ContentType, part.Content))
	}
	return parsed, nil
}
