// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"time"
)

// OrderRepository 定义了订单聚合的读取接口。
// 它位于领域层，但由基础设施层实现（GORM/MySQL 或 pgx/PostgreSQL）。
type OrderRepository interface {
	// FindByID 根据主键查找订单，不存在时返回 ErrOrderNotFound。
	FindByID(ctx context.Context, id int64) (*Order, error)

	// FindExpiredUnpaid 按 id 升序分页返回 created_at <= cutoff、支付 pending 且未到终态的订单。
	FindExpiredUnpaid(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*Order, error)
}

// StatusHistoryRepository 是审计记录的只读查询接口。
type StatusHistoryRepository interface {
	// ListByOrder 返回某个订单的审计记录，最近的在前。
	ListByOrder(ctx context.Context, orderID int64, filter HistoryFilter) ([]*StatusHistoryRecord, error)
}

// StatusWriter 只在 UnitOfWork 的事务内可用。
type StatusWriter interface {
	// CompareAndSetStatus 仅当持久化状态仍为 expected 时写入 next，返回是否命中。
	CompareAndSetStatus(ctx context.Context, orderID int64, expected, next Status, at time.Time) (bool, error)

	// CurrentStatus 在同一事务内重新读取持久化状态。
	CurrentStatus(ctx context.Context, orderID int64) (Status, error)

	// AppendHistory 追加一条审计记录，成功后回填 rec.ID。
	AppendHistory(ctx context.Context, rec *StatusHistoryRecord) error
}

// UnitOfWork 把状态写入与审计记录绑定在同一个事务中。
// fn 返回错误时整个事务回滚。
type UnitOfWork interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, w StatusWriter) error) error
}
