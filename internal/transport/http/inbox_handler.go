package httptransport

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/service"
)

type createInboxRequest struct {
	Username string `json:"username"`
	Domain   string `json:"domain"`
}

type forwardRequest struct {
	ForwardTo string `json:"forwardTo"`
}

// createInbox 创建临时邮箱
//
// 不指定用户名时随机生成，域名不在允许列表时使用默认域名
func (h *Handler) createInbox(c *gin.Context) {
	var req createInboxRequest
	// 允许空请求体
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	inbox, err := h.inboxes.Create(c.Request.Context(), service.CreateInboxInput{
		Username: req.Username,
		Domain:   req.Domain,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	Created(c, domain.NewInboxView(inbox))
}

// checkUsername 检查用户名是否可用
func (h *Handler) checkUsername(c *gin.Context) {
	available, err := h.inboxes.CheckUsername(c.Request.Context(), c.Query("username"), c.Query("domain"))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{"available": available})
}

// getInbox 返回收件箱详情，包含是否还能延期
func (h *Handler) getInbox(c *gin.Context) {
	view, err := h.inboxes.Get(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, view)
}

func (h *Handler) deleteInbox(c *gin.Context) {
	deleted, err := h.inboxes.Delete(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !deleted {
		respondError(c, domain.ErrInboxNotFound)
		return
	}
	SuccessWithMsg(c, "邮箱已删除", nil)
}

// extendInbox 延长邮箱有效期
//
// 每次延长一个步长，不超过最长有效期
func (h *Handler) extendInbox(c *gin.Context) {
	view, err := h.inboxes.Extend(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	SuccessWithMsg(c, "邮箱已延期", view)
}

// setForward 设置或清除转发地址
func (h *Handler) setForward(c *gin.Context) {
	var req forwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	view, err := h.inboxes.SetForwardAddress(c.Request.Context(), c.Param("address"), req.ForwardTo)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, view)
}
