package httptransport

import (
	"encoding/base64"
	"time"

	"github.com/gin-gonic/gin"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/service"
)

type messageListResponse struct {
	Items []domain.Message `json:"items"`
	Count int              `json:"count"`
}

func newMessageList(messages []domain.Message) messageListResponse {
	if messages == nil {
		messages = []domain.Message{}
	}
	return messageListResponse{Items: messages, Count: len(messages)}
}

type attachmentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"` // base64
}

type ingestRequest struct {
	ID          string              `json:"id"`
	To          string              `json:"to"`
	From        string              `json:"from"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text"`
	HTML        string              `json:"html"`
	Date        *time.Time          `json:"date"`
	Attachments []attachmentRequest `json:"attachments"`
}

// listMessages 获取邮件列表
//
// 带 q 参数时在主题、发件人和正文中搜索
func (h *Handler) listMessages(c *gin.Context) {
	var (
		messages []domain.Message
		err      error
	)
	if query, ok := c.GetQuery("q"); ok {
		messages, err = h.messages.Search(c.Request.Context(), c.Param("address"), query)
	} else {
		messages, err = h.messages.List(c.Request.Context(), c.Param("address"))
	}
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, newMessageList(messages))
}

// getMessage 读取邮件并标记已读
func (h *Handler) getMessage(c *gin.Context) {
	message, err := h.messages.Get(c.Request.Context(), c.Param("address"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, message)
}

func (h *Handler) deleteMessage(c *gin.Context) {
	if err := h.messages.SoftDelete(c.Request.Context(), c.Param("address"), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	SuccessWithMsg(c, "邮件已移入回收站", nil)
}

func (h *Handler) deleteAllMessages(c *gin.Context) {
	n, err := h.messages.SoftDeleteAll(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	SuccessWithMsg(c, "邮件已移入回收站", gin.H{"deleted": n})
}

func (h *Handler) listTrash(c *gin.Context) {
	messages, err := h.messages.Trash(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, newMessageList(messages))
}

func (h *Handler) restoreMessage(c *gin.Context) {
	if err := h.messages.Restore(c.Request.Context(), c.Param("address"), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	SuccessWithMsg(c, "邮件已恢复", nil)
}

func (h *Handler) purgeMessage(c *gin.Context) {
	if err := h.messages.PermanentDelete(c.Request.Context(), c.Param("address"), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	SuccessWithMsg(c, "邮件已永久删除", nil)
}

func (h *Handler) inboxStats(c *gin.Context) {
	stats, err := h.messages.Stats(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, stats)
}

// ingestMessage 写入邮件
//
// 供外部收信程序同步邮件，收件箱不存在时自动创建
func (h *Handler) ingestMessage(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	input := service.IngestInput{
		ID:      req.ID,
		To:      req.To,
		From:    req.From,
		Subject: req.Subject,
		Text:    req.Text,
		HTML:    req.HTML,
	}
	if req.Date != nil {
		input.Date = *req.Date
	}
	for _, att := range req.Attachments {
		data, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			BadRequest(c, MsgInvalidAttachment)
			return
		}
		input.Attachments = append(input.Attachments, domain.NewAttachment(att.Filename, att.ContentType, data))
	}

	message, err := h.ingest.Ingest(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	Created(c, gin.H{"id": message.ID})
}
