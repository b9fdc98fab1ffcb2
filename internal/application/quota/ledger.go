// Package quota 提供按日历日计数的全局配额账本
package quota

import (
	"context"
	"fmt"
	"time"

	"latexbot-api/internal/domain/entity"
	"latexbot-api/pkg/logger"
	"latexbot-api/pkg/metrics"
)

// Decision 某一时刻的配额判定快照，不构成预占
type Decision struct {
	Allowed       bool
	ObservedCount int64
	Limit         int64
}

// Remaining 返回剩余次数
func (d Decision) Remaining() int64 {
	if d.ObservedCount >= d.Limit {
		return 0
	}
	return d.Limit - d.ObservedCount
}

// ExceededError 当日配额已耗尽
type ExceededError struct {
	Day   string
	Count int64
	Limit int64
	// ResetIn 距离下一个日历日的时长
	ResetIn time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("Daily limit of %d requests reached, try again tomorrow", e.Limit)
}

// Ledger 账本服务：load / prune / check / commit
type Ledger struct {
	store         LedgerStore
	retentionDays int
}

// NewLedger 创建账本服务
func NewLedger(store LedgerStore, retentionDays int) *Ledger {
	if retentionDays <= 0 {
		retentionDays = entity.DefaultRetentionDays
	}
	return &Ledger{store: store, retentionDays: retentionDays}
}

// Load 读取持久化账本；缺失或损坏时返回空账本，只有后端不可达才返回错误
func (l *Ledger) Load(ctx context.Context) (entity.Ledger, error) {
	ledger, err := l.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = entity.NewLedger()
	}
	return ledger, nil
}

// Prune 就地清理超出保留窗口的条目
func (l *Ledger) Prune(ledger entity.Ledger, today string) []string {
	return ledger.Prune(today, l.retentionDays)
}

// LoadPruned 读取并清理账本，有条目被移除时写回后端
func (l *Ledger) LoadPruned(ctx context.Context, today string) (entity.Ledger, error) {
	ledger, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}

	removed := l.Prune(ledger, today)
	if len(removed) == 0 {
		return ledger, nil
	}

	metrics.QuotaPrunedTotal.Add(float64(len(removed)))
	logger.Debug(ctx, "ledger entries evicted", "today", today, "removed", removed)
	if err := l.store.SavePruned(ctx, ledger, removed); err != nil {
		return nil, fmt.Errorf("persist pruned ledger: %w", err)
	}
	return ledger, nil
}

// Check 判定当日计数是否仍低于上限，缺失条目视为 0
func (l *Ledger) Check(ledger entity.Ledger, today string, limit int64) Decision {
	count := ledger.Count(today)
	return Decision{
		Allowed:       count < limit,
		ObservedCount: count,
		Limit:         limit,
	}
}

// Commit 当日计数加一并持久化
func (l *Ledger) Commit(ctx context.Context, ledger entity.Ledger, today string) (entity.Ledger, error) {
	ledger.Increment(today)
	if err := l.store.SaveDay(ctx, ledger, today); err != nil {
		return ledger, fmt.Errorf("persist ledger commit: %w", err)
	}
	return ledger, nil
}

// ResetAfter 返回距离 loc 时区下一个日历日开始的时长
func ResetAfter(now time.Time, loc *time.Location) time.Duration {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return next.Sub(local)
}
