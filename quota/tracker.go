package quota

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/videoflow/internal/clock"
)

// Tracker 跟踪单个服务商的日配额与调用间距，并计算下一次调用前
// 所需的等待时长。Tracker 本身从不休眠也从不报错，实际等待与
// 耗尽后的决策由调用方负责。
//
// 所有方法在 tier 级互斥锁下执行，多个并发 ClipPlan 共享同一个
// Tracker 时，决策-记录步骤被串行化；锁不跨网络调用持有。
type Tracker struct {
	cfg    Config
	tier   string
	store  Store
	clk    clock.Clock
	logger *zap.Logger

	mu    sync.Mutex
	state State
}

// NewTracker 创建配额跟踪器。store 可为 nil（不持久化）。
// 如 store 中存在当日快照，则恢复已累计的计数。
func NewTracker(tier string, cfg Config, store Store, clk clock.Clock, logger *zap.Logger) *Tracker {
	cfg = cfg.normalize()
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tracker{
		cfg:    cfg,
		tier:   tier,
		store:  store,
		clk:    clk,
		logger: logger.With(zap.String("tier", tier)),
		state: State{
			DayStart:    dayStartOf(clk.Now()),
			MinInterval: cfg.MinInterval,
		},
	}
	t.restore()
	return t
}

// CheckAndWait 计算调用方在发起下一次请求前必须等待的时长。
//
// 判定顺序：
//  1. 日期翻转 → 清零日计数与连续失败计数
//  2. 日配额已满 → 返回到次日零点的全天等待
//  3. 存在未消解的连续失败 → 指数退避，返回距退避结束的剩余时间
//  4. 否则按最小间距返回距上次调用的剩余时间
func (t *Tracker) CheckAndWait() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	t.rolloverLocked(now)

	if t.state.DailyCount >= t.cfg.DailyLimit {
		wait := t.untilNextDayLocked(now)
		t.logger.Debug("daily quota reached",
			zap.Int("daily_count", t.state.DailyCount),
			zap.Duration("wait", wait))
		return wait
	}

	if t.state.ConsecutiveFailures > 0 {
		backoff := t.backoffLocked()
		if remaining := backoff - now.Sub(t.state.LastQuotaHitAt); remaining > 0 {
			t.logger.Debug("backoff in effect",
				zap.Int("failures", t.state.ConsecutiveFailures),
				zap.Duration("backoff", backoff),
				zap.Duration("remaining", remaining))
			return remaining
		}
	}

	if !t.state.LastGenerationAt.IsZero() {
		if remaining := t.state.MinInterval - now.Sub(t.state.LastGenerationAt); remaining > 0 {
			return remaining
		}
	}
	return 0
}

// RecordGeneration 记录一次成功生成：日计数加一，刷新最近调用时间，
// 并清零连续失败计数（成功即视为配额压力已缓解）。
func (t *Tracker) RecordGeneration() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	t.rolloverLocked(now)

	t.state.DailyCount++
	t.state.LastGenerationAt = now
	t.state.ConsecutiveFailures = 0

	t.logger.Debug("generation recorded",
		zap.Int("daily_count", t.state.DailyCount),
		zap.Int("daily_limit", t.cfg.DailyLimit))
	t.persistLocked()
}

// RecordQuotaHit 记录一次配额拒绝：连续失败计数加一，记录拒绝时间，
// 并按固定增量收紧最小间距（带上限）。同日内屡遭拒绝后，
// 跟踪器将保持更保守的节奏。
func (t *Tracker) RecordQuotaHit() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	t.rolloverLocked(now)

	t.state.ConsecutiveFailures++
	t.state.LastQuotaHitAt = now
	if next := t.state.MinInterval + t.cfg.SpacingIncrement; next <= t.cfg.SpacingCap {
		t.state.MinInterval = next
	} else {
		t.state.MinInterval = t.cfg.SpacingCap
	}

	t.logger.Warn("quota hit recorded",
		zap.Int("consecutive_failures", t.state.ConsecutiveFailures),
		zap.Duration("min_interval", t.state.MinInterval))
	t.persistLocked()
}

// IsExhausted 当日配额已满或连续失败达到硬上限时为真，
// 表示当天不应再尝试该服务商。
func (t *Tracker) IsExhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked(t.clk.Now())
	return t.state.DailyCount >= t.cfg.DailyLimit ||
		t.state.ConsecutiveFailures >= t.cfg.MaxConsecutiveFailures
}

// Snapshot 返回当前状态副本（诊断用）。
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// rolloverLocked 日期翻转时清零日计数与失败计数。
// 增长后的最小间距保留至进程结束：服务商当天表现不佳时，
// 次日依旧保持保守节奏。
func (t *Tracker) rolloverLocked(now time.Time) {
	dayStart := dayStartOf(now)
	if !dayStart.After(t.state.DayStart) {
		return
	}

	t.logger.Info("quota day rollover",
		zap.Time("previous_day", t.state.DayStart),
		zap.Int("previous_count", t.state.DailyCount))

	t.state.DailyCount = 0
	t.state.ConsecutiveFailures = 0
	t.state.DayStart = dayStart
	t.persistLocked()
}

// backoffLocked 计算当前退避时长：min(base * multiplier^(failures-1), max)。
func (t *Tracker) backoffLocked() time.Duration {
	backoff := float64(t.cfg.BackoffBase) *
		math.Pow(t.cfg.BackoffMultiplier, float64(t.state.ConsecutiveFailures-1))
	if backoff > float64(t.cfg.BackoffMax) {
		return t.cfg.BackoffMax
	}
	return time.Duration(backoff)
}

// dayStartOf 返回时钟所在时区的当日零点。配额按调用方本地日历日
// 翻转，而非 UTC 日。
func dayStartOf(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func (t *Tracker) untilNextDayLocked(now time.Time) time.Duration {
	next := t.state.DayStart.AddDate(0, 0, 1)
	if wait := next.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// persistLocked 尽力保存状态快照；失败仅记日志，不影响决策。
func (t *Tracker) persistLocked() {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := t.store.Save(ctx, t.tier, t.state); err != nil {
		t.logger.Warn("failed to persist quota state", zap.Error(err))
	}
}

func (t *Tracker) restore() {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	saved, ok, err := t.store.Load(ctx, t.tier)
	if err != nil {
		t.logger.Warn("failed to load quota state", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	// 仅恢复当日快照；隔日快照等价于翻转后的零状态。
	if saved.DayStart.Equal(t.state.DayStart) {
		if saved.MinInterval < t.cfg.MinInterval {
			saved.MinInterval = t.cfg.MinInterval
		}
		t.mu.Lock()
		t.state = *saved
		t.mu.Unlock()
		t.logger.Info("quota state restored",
			zap.Int("daily_count", saved.DailyCount),
			zap.Int("consecutive_failures", saved.ConsecutiveFailures))
	}
}
