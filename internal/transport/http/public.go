package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// listDomains 获取可用域名列表
func (h *Handler) listDomains(c *gin.Context) {
	domains := h.inboxes.Domains()
	if domains == nil {
		domains = []string{}
	}
	Success(c, gin.H{
		"domains": domains,
		"count":   len(domains),
	})
}

// globalStats 全站累计统计
func (h *Handler) globalStats(c *gin.Context) {
	stats, err := h.messages.GlobalStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, stats)
}

// healthStatus 返回服务状态以及活跃邮箱数和邮件总数
func (h *Handler) healthStatus(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if h.health != nil {
		checks, healthy := h.health.CheckHealth(c.Request.Context())
		body["checks"] = checks
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}

	if stats, err := h.messages.GlobalStats(c.Request.Context()); err == nil {
		body["activeInboxes"] = stats.ActiveInboxes
		body["totalMessages"] = stats.TotalReceived
	} else {
		_ = c.Error(err)
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}

	c.JSON(status, body)
}
