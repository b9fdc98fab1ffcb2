package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"latexbot-api/internal/domain/entity"
	"latexbot-api/internal/domain/repository"
	"latexbot-api/pkg/logger"
	"latexbot-api/pkg/metrics"
)

// Ticket 一次准入的凭证，Settle 或 Cancel 时回传
type Ticket struct {
	ID       string
	Day      string
	Decision Decision

	ledger entity.Ledger
}

// Gate 编排器使用的配额准入接口
type Gate interface {
	// Admit 在昂贵操作之前判定配额，超限时返回 *ExceededError
	Admit(ctx context.Context, now time.Time) (*Ticket, error)

	// Settle 流水线完整成功后调用
	Settle(ctx context.Context, ticket *Ticket) error

	// Cancel 投递完成前失败时调用
	Cancel(ctx context.Context, ticket *Ticket) error

	// Mode 返回配额模式名称
	Mode() string

	// Limit 返回每日上限
	Limit() int64

	// Location 返回计算日历日的时区
	Location() *time.Location
}

// OptimisticGate 先检查、投递成功后再提交。检查与提交之间隔着编译与投递两次外部调用，
// 并发请求可能同时看到 count < limit 并全部提交，造成超额。
type OptimisticGate struct {
	ledger *Ledger
	limit  int64
	loc    *time.Location
}

// NewOptimisticGate 创建先检查后提交的准入
func NewOptimisticGate(ledger *Ledger, limit int64, loc *time.Location) *OptimisticGate {
	if loc == nil {
		loc = time.UTC
	}
	return &OptimisticGate{ledger: ledger, limit: limit, loc: loc}
}

func (g *OptimisticGate) Mode() string             { return "optimistic" }
func (g *OptimisticGate) Limit() int64             { return g.limit }
func (g *OptimisticGate) Location() *time.Location { return g.loc }

func (g *OptimisticGate) Admit(ctx context.Context, now time.Time) (*Ticket, error) {
	today := entity.DayOf(now, g.loc)

	ledger, err := g.ledger.LoadPruned(ctx, today)
	if err != nil {
		return nil, err
	}

	decision := g.ledger.Check(ledger, today, g.limit)
	if !decision.Allowed {
		metrics.QuotaDecisionTotal.WithLabelValues(g.Mode(), "rejected").Inc()
		return nil, &ExceededError{Day: today, Count: decision.ObservedCount, Limit: g.limit, ResetIn: ResetAfter(now, g.loc)}
	}

	metrics.QuotaDecisionTotal.WithLabelValues(g.Mode(), "allowed").Inc()
	return &Ticket{
		ID:       uuid.NewString(),
		Day:      today,
		Decision: decision,
		ledger:   ledger,
	}, nil
}

// Settle 在准入时读取的账本快照上加一并写回
func (g *OptimisticGate) Settle(ctx context.Context, ticket *Ticket) error {
	ledger := ticket.ledger
	if ledger == nil {
		ledger = entity.NewLedger()
	}
	updated, err := g.ledger.Commit(ctx, ledger, ticket.Day)
	if err != nil {
		return err
	}
	logger.Debug(ctx, "quota committed", "ticket", ticket.ID, "day", ticket.Day, "count", updated.Count(ticket.Day))
	return nil
}

// Cancel 乐观模式在提交前从未写入，无需撤销
func (g *OptimisticGate) Cancel(context.Context, *Ticket) error {
	return nil
}

// ReservingGate 检查时即原子自增，失败时归还
type ReservingGate struct {
	reserver      repository.LedgerReserver
	limit         int64
	retentionDays int
	loc           *time.Location
}

// NewReservingGate 创建预占式准入
func NewReservingGate(reserver repository.LedgerReserver, limit int64, retentionDays int, loc *time.Location) *ReservingGate {
	if loc == nil {
		loc = time.UTC
	}
	if retentionDays <= 0 {
		retentionDays = entity.DefaultRetentionDays
	}
	return &ReservingGate{reserver: reserver, limit: limit, retentionDays: retentionDays, loc: loc}
}

func (g *ReservingGate) Mode() string             { return "reserve" }
func (g *ReservingGate) Limit() int64             { return g.limit }
func (g *ReservingGate) Location() *time.Location { return g.loc }

func (g *ReservingGate) Admit(ctx context.Context, now time.Time) (*Ticket, error) {
	today := entity.DayOf(now, g.loc)

	granted, count, err := g.reserver.ReserveOrReject(ctx, today, g.limit, entity.CutoffDay(today, g.retentionDays))
	if err != nil {
		return nil, fmt.Errorf("reserve quota: %w", err)
	}
	if !granted {
		metrics.QuotaDecisionTotal.WithLabelValues(g.Mode(), "rejected").Inc()
		return nil, &ExceededError{Day: today, Count: count, Limit: g.limit, ResetIn: ResetAfter(now, g.loc)}
	}

	metrics.QuotaDecisionTotal.WithLabelValues(g.Mode(), "reserved").Inc()
	ticket := &Ticket{
		ID:  uuid.NewString(),
		Day: today,
		Decision: Decision{
			Allowed:       true,
			ObservedCount: count - 1,
			Limit:         g.limit,
		},
	}
	logger.Debug(ctx, "quota reserved", "ticket", ticket.ID, "day", today, "count", count)
	return ticket, nil
}

// Settle 预占已经计入账本
func (g *ReservingGate) Settle(context.Context, *Ticket) error {
	return nil
}

// Cancel 归还预占
func (g *ReservingGate) Cancel(ctx context.Context, ticket *Ticket) error {
	if err := g.reserver.Release(ctx, ticket.Day); err != nil {
		return fmt.Errorf("release quota reservation %s: %w", ticket.ID, err)
	}
	logger.Debug(ctx, "quota reservation released", "ticket", ticket.ID, "day", ticket.Day)
	return nil
}
