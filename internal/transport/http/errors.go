package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tempmail/inbox/internal/domain"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	domain.ErrAddressRequired:   "邮箱地址不能为空",
	domain.ErrRecipientRequired: "收件人不能为空",
	domain.ErrSenderRequired:    "发件人不能为空",
	domain.ErrInvalidAddress:    "邮箱地址格式无效",
	domain.ErrDomainNotServed:   "域名不在允许列表中",
	domain.ErrUsernameTooShort:  "用户名至少需要 3 个字符",
	domain.ErrUsernameTooLong:   "用户名不能超过 30 个字符",

	domain.ErrInboxNotFound:   "邮箱不存在或已过期",
	domain.ErrMessageNotFound: "邮件不存在",
	domain.ErrNotInTrash:      "回收站中没有这封邮件",

	domain.ErrUsernameTaken: "用户名已被占用",
	domain.ErrAddressTaken:  "邮箱地址已被占用",

	domain.ErrAlreadyMaxed: "邮箱已达到最长有效期，无法继续延期",
}

// 通用错误消息
const (
	MsgInvalidRequest    = "请求参数格式错误"
	MsgInvalidAttachment = "附件内容必须是 base64 编码"
	MsgInternalError     = "服务器内部错误，请稍后重试"
)

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if msg, ok := errorMessages[e]; ok {
			return msg
		}
	}
	return err.Error()
}

// statusFor 按错误分类映射 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCapacity):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError 输出错误响应，内部错误不暴露细节
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		InternalError(c, MsgInternalError)
		return
	}
	Error(c, status, GetErrorMessage(err))
}
