package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"latexbot-api/internal/domain/entity"
	"latexbot-api/internal/domain/repository"
)

// ErrRowNotFound 行引用不存在
var ErrRowNotFound = errors.New("ledger row not found")

// LedgerRowModel 账本行，A 列日期，B 列计数；日期列不设唯一约束
type LedgerRowModel struct {
	ID    int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Day   string `gorm:"column:day;type:text;not null;index"`
	Count int64  `gorm:"column:count;not null;default:0"`
}

// TableName 表名
func (LedgerRowModel) TableName() string {
	return "quota_ledger_rows"
}

func (m LedgerRowModel) toEntity() entity.LedgerRow {
	return entity.LedgerRow{Ref: m.ID, Day: m.Day, Count: m.Count}
}

// LedgerRepository 行式账本仓储
type LedgerRepository struct {
	client  *Client
	tx      repository.Transactor
	lockKey int64
}

// NewLedgerRepository 创建行式账本仓储，name 用于派生咨询锁的键
func NewLedgerRepository(client *Client, tx repository.Transactor, name string) *LedgerRepository {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return &LedgerRepository{client: client, tx: tx, lockKey: int64(h.Sum64())}
}

// Migrate 创建账本表
func (r *LedgerRepository) Migrate(ctx context.Context) error {
	if err := r.client.db.WithContext(ctx).AutoMigrate(&LedgerRowModel{}); err != nil {
		return fmt.Errorf("failed to migrate ledger table: %w", err)
	}
	return nil
}

// Ping 检查数据库连通性
func (r *LedgerRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// ListRows 按插入顺序返回全部行
func (r *LedgerRepository) ListRows(ctx context.Context) ([]entity.LedgerRow, error) {
	ctx, span := tracer.Start(ctx, "postgres.LedgerRepository.ListRows")
	defer span.End()

	var models []LedgerRowModel
	if err := getDB(ctx, r.client.db).Order("id ASC").Find(&models).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list ledger rows: %w", err)
	}

	rows := make([]entity.LedgerRow, 0, len(models))
	for _, m := range models {
		rows = append(rows, m.toEntity())
	}
	span.SetAttributes(attribute.Int("ledger.rows", len(rows)))
	return rows, nil
}

// UpdateRow 覆盖指定行
func (r *LedgerRepository) UpdateRow(ctx context.Context, ref int64, row entity.LedgerRow) error {
	ctx, span := tracer.Start(ctx, "postgres.LedgerRepository.UpdateRow",
		trace.WithAttributes(attribute.Int64("ledger.ref", ref)))
	defer span.End()

	res := getDB(ctx, r.client.db).Model(&LedgerRowModel{}).Where("id = ?", ref).
		Updates(map[string]interface{}{"day": row.Day, "count": row.Count})
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to update ledger row: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRowNotFound
	}
	return nil
}

// AppendRow 追加一行
func (r *LedgerRepository) AppendRow(ctx context.Context, row entity.LedgerRow) error {
	ctx, span := tracer.Start(ctx, "postgres.LedgerRepository.AppendRow",
		trace.WithAttributes(attribute.String("ledger.day", row.Day)))
	defer span.End()

	model := LedgerRowModel{Day: row.Day, Count: row.Count}
	if err := getDB(ctx, r.client.db).Create(&model).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append ledger row: %w", err)
	}
	return nil
}

// DeleteRows 批量删除行
func (r *LedgerRepository) DeleteRows(ctx context.Context, refs []int64) error {
	if len(refs) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "postgres.LedgerRepository.DeleteRows",
		trace.WithAttributes(attribute.Int("ledger.refs", len(refs))))
	defer span.End()

	err := getDB(ctx, r.client.db).
		Exec("DELETE FROM quota_ledger_rows WHERE id = ANY(?)", pq.Array(refs)).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete ledger rows: %w", err)
	}
	return nil
}

// ReserveOrReject 在持有事务级咨询锁的事务内完成清理、扫描与条件自增
func (r *LedgerRepository) ReserveOrReject(ctx context.Context, day string, limit int64, cutoff string) (bool, int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.LedgerRepository.Reserve",
		trace.WithAttributes(attribute.String("ledger.day", day), attribute.Int64("ledger.limit", limit)))
	defer span.End()

	var (
		granted bool
		count   int64
	)
	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		db := getDB(ctx, r.client.db)
		if err := r.lock(db); err != nil {
			return err
		}

		err := db.Exec(
			`DELETE FROM quota_ledger_rows WHERE day < ? OR count < 0 OR day !~ '^\d{4}-\d{2}-\d{2}$'`,
			cutoff,
		).Error
		if err != nil {
			return fmt.Errorf("failed to prune ledger rows: %w", err)
		}

		row, found, err := r.firstRow(db, day)
		if err != nil {
			return err
		}
		if found && row.Count >= limit {
			count = row.Count
			return nil
		}

		if found {
			err = db.Model(&LedgerRowModel{}).Where("id = ?", row.ID).Update("count", row.Count+1).Error
			count = row.Count + 1
		} else {
			err = db.Create(&LedgerRowModel{Day: day, Count: 1}).Error
			count = 1
		}
		if err != nil {
			return fmt.Errorf("failed to reserve ledger row: %w", err)
		}
		granted = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, 0, err
	}

	span.SetAttributes(attribute.Bool("ledger.granted", granted), attribute.Int64("ledger.count", count))
	return granted, count, nil
}

// Release 归还一次预占，计数不会低于 0
func (r *LedgerRepository) Release(ctx context.Context, day string) error {
	ctx, span := tracer.Start(ctx, "postgres.LedgerRepository.Release",
		trace.WithAttributes(attribute.String("ledger.day", day)))
	defer span.End()

	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		db := getDB(ctx, r.client.db)
		if err := r.lock(db); err != nil {
			return err
		}

		row, found, err := r.firstRow(db, day)
		if err != nil || !found {
			return err
		}
		return db.Model(&LedgerRowModel{}).Where("id = ?", row.ID).
			Update("count", gorm.Expr("GREATEST(count - 1, 0)")).Error
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to release ledger row: %w", err)
	}
	return nil
}

func (r *LedgerRepository) lock(db *gorm.DB) error {
	if err := db.Exec("SELECT pg_advisory_xact_lock(?)", r.lockKey).Error; err != nil {
		return fmt.Errorf("failed to acquire ledger lock: %w", err)
	}
	return nil
}

func (r *LedgerRepository) firstRow(db *gorm.DB, day string) (LedgerRowModel, bool, error) {
	var models []LedgerRowModel
	if err := db.Where("day = ?", day).Order("id ASC").Limit(1).Find(&models).Error; err != nil {
		return LedgerRowModel{}, false, fmt.Errorf("failed to scan ledger rows: %w", err)
	}
	if len(models) == 0 {
		return LedgerRowModel{}, false, nil
	}
	return models[0], true, nil
}
