package interfaces

import (
	"context"
	"time"

	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/pkg/metrics"
	"fooddelivery/internal/service/order/application"
	"fooddelivery/internal/service/order/domain"
	"fooddelivery/internal/service/order/port"

	"github.com/pkg/errors"
)

// 一次调度的结果，对应 order_expiry_sweep_runs_total 的 outcome 标签
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// SweepRunner 由 application.CancelUnpaidOrders 实现
type SweepRunner interface {
	Run(ctx context.Context, now time.Time, settings port.SweepSettings) (application.SweepReport, error)
}

// SweepJob 在分布式锁的保护下周期性地取消超时未支付订单，同一时刻只有一个实例在执行
type SweepJob struct {
	runner   SweepRunner
	locker   port.Locker
	settings port.SettingsProvider
	lockKey  string
	lockTTL  time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewSweepJob(runner SweepRunner, locker port.Locker, settings port.SettingsProvider, lockKey string, lockTTL, interval time.Duration) *SweepJob {
	return &SweepJob{
		runner: runner, locker: locker, settings: settings,
		lockKey: lockKey, lockTTL: lockTTL, interval: interval,
		now: time.Now,
	}
}

// WithClock 替换时钟，测试用
func (j *SweepJob) WithClock(now func() time.Time) *SweepJob {
	j.now = now
	return j
}

// Start 立即执行一次，之后按 interval 周期执行，直到 ctx 取消。
// 单次失败只记录，不会让进程退出。
func (j *SweepJob) Start(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Unpaid order sweep failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce 获取锁后执行一次清理。锁被其他实例持有时返回 outcome=skipped 且 err 为 nil。
func (j *SweepJob) RunOnce(ctx context.Context) (application.SweepReport, string, error) {
	log := logger.Ctx(ctx).With().Str("lock_key", j.lockKey).Logger()

	lock, err := j.locker.TryLock(ctx, j.lockKey, j.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			log.Info().Msg("Sweep lock is held by another instance, skipping this run")
			metrics.SweepRuns.WithLabelValues(OutcomeSkipped).Inc()
			return application.SweepReport{}, OutcomeSkipped, nil
		}
		metrics.SweepRuns.WithLabelValues(OutcomeFailed).Inc()
		return application.SweepReport{}, OutcomeFailed, errors.Wrap(err, "acquire sweep lock")
	}
	defer func() {
		// 运行上下文可能已被取消，释放锁使用独立的短超时
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to release sweep lock")
		}
	}()

	settings, err := j.settings.SweepSettings(ctx)
	if err != nil {
		metrics.SweepRuns.WithLabelValues(OutcomeFailed).Inc()
		return application.SweepReport{}, OutcomeFailed, errors.Wrap(err, "load sweep settings")
	}

	started := time.Now()
	report, err := j.runner.Run(ctx, j.now(), settings)
	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.SweepRuns.WithLabelValues(OutcomeFailed).Inc()
		return report, OutcomeFailed, err
	}
	metrics.SweepRuns.WithLabelValues(OutcomeCompleted).Inc()
	return report, OutcomeCompleted, nil
}
