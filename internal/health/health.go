package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const checkTimeout = 3 * time.Second

// Pinger 可探测的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	deps   map[string]Pinger
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器。
//
// store 是必需依赖，cache 为 nil 时不做 redis 检查。
func NewHealthChecker(store Pinger, cache Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		deps:   map[string]Pinger{"database": store},
		logger: logger,
	}
	if cache != nil {
		hc.deps["redis"] = cache
	}
	hc.addChecks()
	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))

	for name, dep := range hc.deps {
		hc.health.AddReadinessCheck(name, healthcheck.Timeout(PingCheck(dep), checkTimeout))
	}
}

// Handler 返回健康检查处理器，提供 /live 和 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活探针
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪探针
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行一次依赖检查，返回每个依赖的状态
func (hc *HealthChecker) CheckHealth(ctx context.Context) (map[string]string, bool) {
	results := make(map[string]string, len(hc.deps))
	healthy := true
	for name, dep := range hc.deps {
		pingCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := dep.Ping(pingCtx)
		cancel()
		if err != nil {
			hc.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			results[name] = "ERROR: " + err.Error()
			healthy = false
			continue
		}
		results[name] = "OK"
	}
	return results, healthy
}

// PingCheck 把 Pinger 转成 healthcheck.Check
func PingCheck(dep Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return dep.Ping(ctx)
	}
}
