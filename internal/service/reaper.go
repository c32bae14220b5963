package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/storage"
)

// SweepResult 一次清理的统计
type SweepResult struct {
	ExpiredInboxes  int
	DeletedMessages int // 随过期收件箱一起删除的邮件
	PurgedMessages  int // 超过回收站保留时长的邮件
	ActiveInboxes   int
}

// Reaper 定期清理过期收件箱和回收站中超期的邮件。
type Reaper struct {
	repo      storage.MaintenanceRepository
	interval  time.Duration
	retention time.Duration
	metrics   *monitoring.Metrics
	log       *zap.Logger
	now       func() time.Time
	ticker    func(time.Duration) (<-chan time.Time, func())
}

// NewReaper 创建清理任务
func NewReaper(repo storage.MaintenanceRepository, cfg config.MailboxConfig, metrics *monitoring.Metrics, log *zap.Logger) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{
		repo:      repo,
		interval:  cfg.CleanupInterval,
		retention: cfg.TrashRetention,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
		ticker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// SetClock 替换时钟
func (r *Reaper) SetClock(now func() time.Time) {
	r.now = now
}

// Sweep 执行一次清理：先删过期收件箱及其邮件，再清理回收站。
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := r.now().UTC()

	inboxes, messages, err := r.repo.DeleteExpiredInboxes(ctx, now)
	if err != nil {
		return result, err
	}
	result.ExpiredInboxes = inboxes
	result.DeletedMessages = messages

	purged, err := r.repo.PurgeTrash(ctx, now.Add(-r.retention))
	if err != nil {
		return result, err
	}
	result.PurgedMessages = purged

	stats, err := r.repo.GlobalStats(ctx, now)
	if err != nil {
		return result, err
	}
	result.ActiveInboxes = stats.ActiveInboxes

	if r.metrics != nil {
		r.metrics.RecordSweep(result.ExpiredInboxes, result.PurgedMessages, result.ActiveInboxes)
	}
	return result, nil
}

// Run 按间隔循环清理直到 ctx 取消。单次失败只记录日志，下个周期重试。
func (r *Reaper) Run(ctx context.Context) error {
	tick, stop := r.ticker(r.interval)
	defer stop()

	r.log.Info("expiry reaper started", zap.Duration("interval", r.interval), zap.Duration("trash_retention", r.retention))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("expiry reaper stopped")
			return nil
		case <-tick:
			r.runOnce(ctx)
		}
	}
}

func (r *Reaper) runOnce(ctx context.Context) {
	result, err := r.Sweep(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordError("reaper")
		}
		r.log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if result.ExpiredInboxes > 0 || result.PurgedMessages > 0 {
		r.log.Info("expiry sweep finished",
			zap.Int("expired_inboxes", result.ExpiredInboxes),
			zap.Int("deleted_messages", result.DeletedMessages),
			zap.Int("purged_messages", result.PurgedMessages),
			zap.Int("active_inboxes", result.ActiveInboxes),
		)
	}
}
