package repository

import (
	"context"

	"latexbot-api/internal/domain/entity"
)

// LedgerDocumentRepository 整文档键值存储：整个账本序列化在一个键下
type LedgerDocumentRepository interface {
	// Get 读取文档，不存在时 found 为 false
	Get(ctx context.Context, key string) (doc []byte, found bool, err error)

	// Put 覆盖写入文档
	Put(ctx context.Context, key string, doc []byte) error
}

// LedgerRowRepository 行式存储：每个日期一行，定位需要线性扫描
type LedgerRowRepository interface {
	// ListRows 按存储顺序返回全部行
	ListRows(ctx context.Context) ([]entity.LedgerRow, error)

	// UpdateRow 按行引用覆盖日期与计数
	UpdateRow(ctx context.Context, ref int64, row entity.LedgerRow) error

	// AppendRow 追加一行
	AppendRow(ctx context.Context, row entity.LedgerRow) error

	// DeleteRows 删除指定行
	DeleteRows(ctx context.Context, refs []int64) error
}

// LedgerReserver 原子预占：检查与自增在后端一次完成
type LedgerReserver interface {
	// ReserveOrReject 清理早于 cutoff 的条目，并在 day 的计数小于 limit 时加一。
	// 返回是否获得配额以及操作后的计数。
	ReserveOrReject(ctx context.Context, day string, limit int64, cutoff string) (granted bool, count int64, err error)

	// Release 归还一次预占，计数不会低于 0
	Release(ctx context.Context, day string) error
}
