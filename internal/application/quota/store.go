package quota

import (
	"context"
	"encoding/json"
	"fmt"

	"latexbot-api/internal/domain/entity"
	"latexbot-api/internal/domain/repository"
	"latexbot-api/pkg/logger"
)

// LedgerStore 屏蔽文档型与行式后端差异的账本存储
type LedgerStore interface {
	// Load 读取整个账本
	Load(ctx context.Context) (entity.Ledger, error)

	// SavePruned 持久化清理结果，removed 为被移除的日期
	SavePruned(ctx context.Context, ledger entity.Ledger, removed []string) error

	// SaveDay 持久化某日的计数
	SaveDay(ctx context.Context, ledger entity.Ledger, day string) error
}

// DocumentStore 整个账本以 JSON 对象保存在单个键下
type DocumentStore struct {
	repo repository.LedgerDocumentRepository
	key  string
}

// NewDocumentStore 创建文档型账本存储
func NewDocumentStore(repo repository.LedgerDocumentRepository, key string) *DocumentStore {
	return &DocumentStore{repo: repo, key: key}
}

// DecodeLedger 解析账本文档，格式错误时返回错误
func DecodeLedger(doc []byte) (entity.Ledger, error) {
	ledger := entity.NewLedger()
	if len(doc) == 0 {
		return ledger, nil
	}
	if err := json.Unmarshal(doc, &ledger); err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = entity.NewLedger()
	}
	return ledger, nil
}

func (s *DocumentStore) Load(ctx context.Context) (entity.Ledger, error) {
	doc, found, err := s.repo.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("load ledger document %s: %w", s.key, err)
	}
	if !found {
		return entity.NewLedger(), nil
	}

	ledger, err := DecodeLedger(doc)
	if err != nil {
		logger.Warn(ctx, "malformed ledger document, starting empty", "key", s.key, "error", err.Error())
		return entity.NewLedger(), nil
	}
	return ledger, nil
}

func (s *DocumentStore) SavePruned(ctx context.Context, ledger entity.Ledger, _ []string) error {
	return s.put(ctx, ledger)
}

func (s *DocumentStore) SaveDay(ctx context.Context, ledger entity.Ledger, _ string) error {
	return s.put(ctx, ledger)
}

func (s *DocumentStore) put(ctx context.Context, ledger entity.Ledger) error {
	doc, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("encode ledger document: %w", err)
	}
	if err := s.repo.Put(ctx, s.key, doc); err != nil {
		return fmt.Errorf("store ledger document %s: %w", s.key, err)
	}
	return nil
}

// RowStore 每个日期一行。定位当日行需要扫描，写入需要第二次往返，
// 两步之间没有任何保护。
type RowStore struct {
	repo repository.LedgerRowRepository
}

// NewRowStore 创建行式账本存储
func NewRowStore(repo repository.LedgerRowRepository) *RowStore {
	return &RowStore{repo: repo}
}

// Load 线性扫描所有行，同一日期出现多行时以第一行为准
func (s *RowStore) Load(ctx context.Context) (entity.Ledger, error) {
	rows, err := s.repo.ListRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger rows: %w", err)
	}

	ledger := entity.NewLedger()
	for _, row := range rows {
		if _, seen := ledger[row.Day]; seen {
			continue
		}
		ledger[row.Day] = row.Count
	}
	return ledger, nil
}

func (s *RowStore) SavePruned(ctx context.Context, _ entity.Ledger, removed []string) error {
	if len(removed) == 0 {
		return nil
	}
	rows, err := s.repo.ListRows(ctx)
	if err != nil {
		return fmt.Errorf("list ledger rows: %w", err)
	}

	evict := make(map[string]struct{}, len(removed))
	for _, day := range removed {
		evict[day] = struct{}{}
	}
	var refs []int64
	for _, row := range rows {
		if _, ok := evict[row.Day]; ok {
			refs = append(refs, row.Ref)
		}
	}
	if len(refs) == 0 {
		return nil
	}
	if err := s.repo.DeleteRows(ctx, refs); err != nil {
		return fmt.Errorf("delete ledger rows: %w", err)
	}
	return nil
}

// SaveDay 重新扫描定位当日行，存在则更新，否则追加
func (s *RowStore) SaveDay(ctx context.Context, ledger entity.Ledger, day string) error {
	rows, err := s.repo.ListRows(ctx)
	if err != nil {
		return fmt.Errorf("list ledger rows: %w", err)
	}

	row := entity.LedgerRow{Day: day, Count: ledger.Count(day)}
	for _, existing := range rows {
		if existing.Day == day {
			if err := s.repo.UpdateRow(ctx, existing.Ref, row); err != nil {
				return fmt.Errorf("update ledger row %d: %w", existing.Ref, err)
			}
			return nil
		}
	}
	if err := s.repo.AppendRow(ctx, row); err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	return nil
}
