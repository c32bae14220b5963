package domain

import (
	"encoding/base64"
	"time"
)

// 默认值
const (
	DefaultSubject            = "(No subject)"
	DefaultSender             = "Unknown"
	DefaultAttachmentName     = "attachment"
	DefaultAttachmentMimeType = "application/octet-stream"
)

// Message 表示收件箱内的一封邮件。
type Message struct {
	ID           string       `json:"id"`
	InboxAddress string       `json:"inboxAddress"`
	From         string       `json:"from"`
	Subject      string       `json:"subject"`
	Text         string       `json:"text"`
	HTML         string       `json:"html"`
	Date         time.Time    `json:"date"`
	Read         bool         `json:"read"`
	Deleted      bool         `json:"deleted"`
	DeletedAt    *time.Time   `json:"deletedAt,omitempty"`
	Attachments  []Attachment `json:"attachments"`
}

// Attachment 表示邮件附件，内容以 base64 内联保存。
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	Content     string `json:"content"`
}

// NewAttachment 用原始字节构造附件并填充默认文件名和类型。
func NewAttachment(filename, contentType string, data []byte) Attachment {
	if filename == "" {
		filename = DefaultAttachmentName
	}
	if contentType == "" {
		contentType = DefaultAttachmentMimeType
	}
	return Attachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        len(data),
		Content:     base64.StdEncoding.EncodeToString(data),
	}
}

// Decode 返回附件的原始字节。
func (a Attachment) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Content)
}

// Normalize 为缺省字段填充非空默认值。
func (m *Message) Normalize(now time.Time) {
	if m.Subject == "" {
		m.Subject = DefaultSubject
	}
	if m.Date.IsZero() {
		m.Date = now
	}
	m.Date = m.Date.UTC()
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	for i := range m.Attachments {
		if m.Attachments[i].Filename == "" {
			m.Attachments[i].Filename = DefaultAttachmentName
		}
		if m.Attachments[i].ContentType == "" {
			m.Attachments[i].ContentType = DefaultAttachmentMimeType
		}
	}
}

// Summary 是推送给订阅者的精简邮件信息。
type Summary struct {
	ID           string    `json:"id"`
	InboxAddress string    `json:"inboxAddress"`
	From         string    `json:"from"`
	Subject      string    `json:"subject"`
	Date         time.Time `json:"date"`
}

// Summarize 生成邮件摘要
func (m *Message) Summarize() Summary {
	return Summary{
		ID:           m.ID,
		InboxAddress: m.InboxAddress,
		From:         m.From,
		Subject:      m.Subject,
		Date:         m.Date,
	}
}

// InboxStats 单个收件箱的累计统计。
type InboxStats struct {
	TotalReceived int `json:"totalReceived"`
	TotalRead     int `json:"totalRead"`
	TotalDeleted  int `json:"totalDeleted"`
}

// GlobalStats 全局统计
type GlobalStats struct {
	TotalReceived int `json:"totalReceived"`
	TotalDeleted  int `json:"totalDeleted"`
	ActiveInboxes int `json:"activeInboxes"`
}
