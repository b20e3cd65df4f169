// internal/service/order/domain/order.go
package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict 表示持久化的状态已被并发写入改变，本次变更被回滚。
	ErrStatusConflict  = errors.New("order status changed concurrently")
	ErrLockNotAcquired = errors.New("lock is held by another instance")
)

// Order 是订单聚合根。本服务只关心履约状态相关的字段。
type Order struct {
	ID             int64
	DisplayID      string // 展示给用户的订单号，创建后不可变
	UserID         *int64
	CustomerChatID *int64 // 顾客的 Telegram chat，可为空
	Status         Status
	PaymentStatus  PaymentStatus
	TotalAmount    decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsUnpaid 支付仍处于 pending 的订单才会被超时清理。
func (o *Order) IsUnpaid() bool {
	return o.PaymentStatus == PaymentPending
}

// PaymentDeadline 返回按 ttl 计算的支付截止时间。
func (o *Order) PaymentDeadline(ttl time.Duration) time.Time {
	return o.CreatedAt.Add(ttl)
}

// ApplyStatus 只在事务提交后由应用层调用，同步内存中的实体。
func (o *Order) ApplyStatus(status Status, at time.Time) {
	o.Status = status
	o.UpdatedAt = at
}
