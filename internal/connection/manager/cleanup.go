package manager

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-connhub/pkg/log"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/merr"
)

// CleanupInactiveSessions 销毁最后活跃时间早于 now-threshold 的会话，返回销毁数量。
// 销毁走与正常断开相同的 DestroySession 流程。
// MaxInactiveSessionAge 是会话不活跃时长的硬上限：threshold 超过它时按它计算，
// 即使调用方要求保留更久的会话，超过该上限的会话也会被销毁。threshold 非正时同样使用该上限。
func (m *Manager) CleanupInactiveSessions(threshold time.Duration) int {
	if threshold <= 0 || threshold > m.cfg.MaxInactiveSessionAge {
		threshold = m.cfg.MaxInactiveSessionAge
	}

	evicted := 0
	_ = m.mutate(func(tx *txn) error {
		cutoff := tx.now.Add(-threshold)
		for _, sess := range m.sessions.snapshot() {
			if sess.LastActivity.Before(cutoff) {
				m.destroySessionLocked(tx, sess, "")
				evicted++
			}
		}
		return nil
	})

	if evicted > 0 && m.cfg.EnableMetrics {
		metrics.ConnectionEvictionsTotal.WithLabelValues(metrics.EvictedEntitySession).Add(float64(evicted))
	}
	return evicted
}

// CleanupEmptyRooms 删除没有成员会话的房间，返回删除数量。
// 房间在最后一个会话离开时已经自行删除，这里只修正漂移：
// 成员中已不存在的会话会被剔除，并重新计算计数。
func (m *Manager) CleanupEmptyRooms() int {
	evicted := 0
	_ = m.mutate(func(tx *txn) error {
		for _, room := range m.rooms.snapshot() {
			for sessionID := range room.Sessions {
				if _, ok := m.sessions.get(sessionID); !ok {
					room.Sessions.Remove(sessionID)
				}
			}
			m.recountRoomLocked(room)
			if room.SessionCount == 0 {
				m.rooms.delete(room.ID)
				evicted++
			}
		}
		return nil
	})

	if evicted > 0 && m.cfg.EnableMetrics {
		metrics.ConnectionEvictionsTotal.WithLabelValues(metrics.EvictedEntityRoom).Add(float64(evicted))
	}
	return evicted
}

// SweepResult 为一次清理的结果。
type SweepResult struct {
	Sessions int
	Rooms    int
}

// Scheduler 按固定间隔执行清理。
//
// 说明：
//   - Start 创建 ticker 并启动后台协程，Stop 释放 ticker 并等待正在执行的清理结束；
//   - Stop 返回后不会再触发任何清理，之后可以再次 Start；
//   - RunOnce 可在测试中直接驱动一次清理，不依赖真实时间。
type Scheduler struct {
	log.Binder

	mgr       *Manager
	clock     clockwork.Clock
	interval  time.Duration
	threshold time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
	sweeps  atomic.Int64
}

// SchedulerOption 配置 Scheduler。
type SchedulerOption func(s *Scheduler)

// WithInterval 覆盖清理间隔，默认使用 Config.CleanupInterval。
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithThreshold 覆盖会话不活跃阈值，默认使用 Config.SessionTimeout。
func WithThreshold(threshold time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if threshold > 0 {
			s.threshold = threshold
		}
	}
}

// NewScheduler 创建与 mgr 共用时钟的清理调度器。
func NewScheduler(mgr *Manager, opts ...SchedulerOption) *Scheduler {
	cfg := mgr.Config()
	s := &Scheduler{
		mgr:       mgr,
		clock:     mgr.Clock(),
		interval:  cfg.CleanupInterval,
		threshold: cfg.SessionTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.SetLogger(log.With(log.FieldModule("connection"), log.FieldComponent("cleanup-scheduler")))
	return s
}

// Start 启动后台清理。运行中重复调用返回 merr.ErrServiceInternal，Stop 之后可以重新启动。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started.CompareAndSwap(false, true) {
		return merr.WrapErrServiceInternal("cleanup scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	ticker := s.clock.NewTicker(s.interval)

	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if ctx.Err() != nil {
					return
				}
				s.RunOnce(ctx)
			}
		}
	}()

	s.Logger().Info("cleanup scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("threshold", s.threshold))
	return nil
}

// Stop 停止后台清理并等待后台协程退出，可重复调用。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.started.Store(false)
	s.Logger().Info("cleanup scheduler stopped", zap.Int64("sweeps", s.sweeps.Load()))
}

// RunOnce 立即执行一次清理。只有发生驱逐时才输出汇总日志。
func (s *Scheduler) RunOnce(ctx context.Context) SweepResult {
	intentCtx, span := log.NewIntentContext("connhub.cleanup", "sweep")
	defer span.End()
	if ctx != nil && ctx.Err() != nil {
		return SweepResult{}
	}

	start := s.clock.Now()
	result := SweepResult{
		Sessions: s.mgr.CleanupInactiveSessions(s.threshold),
		Rooms:    s.mgr.CleanupEmptyRooms(),
	}
	s.sweeps.Inc()

	if s.mgr.Config().EnableMetrics {
		metrics.ConnectionSweepLatency.Observe(float64(s.clock.Since(start).Milliseconds()))
	}
	if result.Sessions > 0 || result.Rooms > 0 {
		log.Ctx(intentCtx).Info("cleanup sweep evicted inactive entities",
			zap.Int("sessions", result.Sessions),
			zap.Int("rooms", result.Rooms),
			zap.Duration("threshold", s.threshold))
	}
	return result
}

// Sweeps 返回已执行的清理次数。
func (s *Scheduler) Sweeps() int64 {
	return s.sweeps.Load()
}
