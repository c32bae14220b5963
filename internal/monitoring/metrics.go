package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tempmail"

// 收件箱创建方式
const (
	KindGenerated = "generated"
	KindCustom    = "custom"
	KindIngest    = "ingest"
)

// Metrics 监控指标
//
// 每个实例使用独立的 Registry，测试中可以并存多个实例。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 收件箱指标
	InboxesCreated *prometheus.CounterVec
	InboxesExpired prometheus.Counter
	InboxesActive  prometheus.Gauge

	// 邮件指标
	MessagesReceived  prometheus.Counter
	MessagesDeleted   *prometheus.CounterVec
	MessagesPurged    prometheus.Counter
	ProcessingSeconds prometheus.Histogram
	AttachmentSize    prometheus.Histogram

	// SMTP 指标
	SMTPSessions prometheus.Counter
	SMTPRejected *prometheus.CounterVec
	ParseErrors  prometheus.Counter

	// 错误指标
	ErrorsTotal *prometheus.CounterVec

	NotificationsDropped prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		InboxesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inboxes_created_total",
				Help:      "Total number of inboxes created",
			},
			[]string{"kind"},
		),
		InboxesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inboxes_expired_total",
			Help:      "Total number of inboxes removed by the expiry reaper",
		}),
		InboxesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inboxes_active",
			Help:      "Number of active inboxes at the last sweep",
		}),

		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages stored",
		}),
		MessagesDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_deleted_total",
				Help:      "Total number of messages deleted",
			},
			[]string{"mode"},
		),
		MessagesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_purged_total",
			Help:      "Total number of trashed messages purged after retention",
		}),
		ProcessingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_processing_seconds",
			Help:      "Time spent parsing and storing an inbound message",
			Buckets:   prometheus.DefBuckets,
		}),
		AttachmentSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attachment_size_bytes",
			Help:      "Size of received attachments in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),

		SMTPSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "smtp_sessions_total",
			Help:      "Total number of SMTP sessions",
		}),
		SMTPRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "smtp_rejected_total",
				Help:      "Total number of rejected SMTP transactions",
			},
			[]string{"reason"},
		),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Total number of messages that could not be parsed",
		}),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component"},
		),

		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Total number of new-mail notifications dropped",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.InboxesCreated, m.InboxesExpired, m.InboxesActive,
		m.MessagesReceived, m.MessagesDeleted, m.MessagesPurged, m.ProcessingSeconds, m.AttachmentSize,
		m.SMTPSessions, m.SMTPRejected, m.ParseErrors,
		m.ErrorsTotal, m.NotificationsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		reg.MustRegister(c)
	}
	return m
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordInboxCreated 记录收件箱创建
func (m *Metrics) RecordInboxCreated(kind string) {
	m.InboxesCreated.WithLabelValues(kind).Inc()
}

// RecordSweep 记录一次过期清理的结果
func (m *Metrics) RecordSweep(expiredInboxes, purgedMessages, active int) {
	m.InboxesExpired.Add(float64(expiredInboxes))
	m.MessagesPurged.Add(float64(purgedMessages))
	m.InboxesActive.Set(float64(active))
}

// RecordMessageReceived 记录邮件入库及处理耗时
func (m *Metrics) RecordMessageReceived(duration time.Duration, attachmentSizes []int) {
	m.MessagesReceived.Inc()
	m.ProcessingSeconds.Observe(duration.Seconds())
	for _, size := range attachmentSizes {
		m.AttachmentSize.Observe(float64(size))
	}
}

// RecordMessagesDeleted 记录邮件删除，mode 为 soft 或 permanent
func (m *Metrics) RecordMessagesDeleted(mode string, count int) {
	m.MessagesDeleted.WithLabelValues(mode).Add(float64(count))
}

// RecordSMTPSession 记录 SMTP 会话
func (m *Metrics) RecordSMTPSession() {
	m.SMTPSessions.Inc()
}

// RecordSMTPRejected 记录被拒绝的 SMTP 事务
func (m *Metrics) RecordSMTPRejected(reason string) {
	m.SMTPRejected.WithLabelValues(reason).Inc()
}

// RecordParseError 记录解析失败
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(component string) {
	m.ErrorsTotal.WithLabelValues(component).Inc()
}

// RecordNotificationDropped 记录被丢弃的通知
func (m *Metrics) RecordNotificationDropped() {
	m.NotificationsDropped.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
