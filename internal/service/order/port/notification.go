package port

import (
	"context"
	"fooddelivery/internal/service/order/domain"
)

// NotificationProducer 是通知消息生产者的出站端口。
// 只在事务提交之后调用，失败不会影响已提交的状态。
type NotificationProducer interface {
	// Publish 投递一条通知事件（状态变更或顾客消息）。
	Publish(ctx context.Context, event *domain.NotificationEvent) error
}
