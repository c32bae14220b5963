package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("多个实例互不冲突", func(t *testing.T) {
		a := NewMetrics()
		b := NewMetrics()
		a.RecordInboxCreated(KindCustom)
		assert.Equal(t, 1.0, testutil.ToFloat64(a.InboxesCreated.WithLabelValues(KindCustom)))
		assert.Equal(t, 0.0, testutil.ToFloat64(b.InboxesCreated.WithLabelValues(KindCustom)))
	})

	t.Run("记录清理结果", func(t *testing.T) {
		m := NewMetrics()
		m.RecordSweep(3, 2, 7)
		m.RecordSweep(1, 0, 5)
		assert.Equal(t, 4.0, testutil.ToFloat64(m.InboxesExpired))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesPurged))
		assert.Equal(t, 5.0, testutil.ToFloat64(m.InboxesActive))
	})

	t.Run("记录邮件与附件", func(t *testing.T) {
		m := NewMetrics()
		m.RecordMessageReceived(10*time.Millisecond, []int{100, 2048})
		m.RecordSMTPRejected("domain")
		m.RecordParseError()
		assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.SMTPRejected.WithLabelValues("domain")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors))
	})

	t.Run("暴露 Prometheus 文本格式", func(t *testing.T) {
		m := NewMetrics()
		m.RecordHTTPRequest("GET", "/api/v1/domains", "200", time.Millisecond)

		rec := httptest.NewRecorder()
		m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `tempmail_http_requests_total{method="GET",path="/api/v1/domains",status="200"} 1`)
	})
}
