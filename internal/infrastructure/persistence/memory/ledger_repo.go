// Package memory 提供进程内的配额账本，用于开发与测试
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"latexbot-api/internal/domain/entity"
)

// LedgerRepository 进程内的文档型账本，同时提供原子预占
type LedgerRepository struct {
	mu   sync.Mutex
	docs map[string][]byte
	key  string
}

// NewLedgerRepository 创建进程内账本，key 为预占操作使用的文档键
func NewLedgerRepository(key string) *LedgerRepository {
	return &LedgerRepository{docs: make(map[string][]byte), key: key}
}

// Get 读取文档副本
func (r *LedgerRepository) Get(_ context.Context, key string) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), doc...), true, nil
}

// Put 覆盖写入文档
func (r *LedgerRepository) Put(_ context.Context, key string, doc []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.docs[key] = append([]byte(nil), doc...)
	return nil
}

// Ping 始终可用
func (r *LedgerRepository) Ping(context.Context) error {
	return nil
}

// ReserveOrReject 在锁内清理并条件自增
func (r *LedgerRepository) ReserveOrReject(_ context.Context, day string, limit int64, cutoff string) (bool, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ledger := r.decodeLocked()
	removed := ledger.PruneBefore(cutoff)

	current := ledger.Count(day)
	if current >= limit {
		if len(removed) > 0 {
			return false, current, r.encodeLocked(ledger)
		}
		return false, current, nil
	}

	count := ledger.Increment(day)
	if err := r.encodeLocked(ledger); err != nil {
		return false, 0, err
	}
	return true, count, nil
}

// Release 归还一次预占
func (r *LedgerRepository) Release(_ context.Context, day string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[r.key]; !ok {
		return nil
	}
	ledger := r.decodeLocked()
	ledger.Decrement(day)
	return r.encodeLocked(ledger)
}

// 损坏的文档视为空账本
func (r *LedgerRepository) decodeLocked() entity.Ledger {
	ledger := entity.NewLedger()
	if doc, ok := r.docs[r.key]; ok {
		if err := json.Unmarshal(doc, &ledger); err != nil || ledger == nil {
			return entity.NewLedger()
		}
	}
	return ledger
}

func (r *LedgerRepository) encodeLocked(ledger entity.Ledger) error {
	doc, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("encode ledger document: %w", err)
	}
	r.docs[r.key] = doc
	return nil
}
