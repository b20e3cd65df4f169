// internal/service/order/domain/event.go
package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NotificationKind 区分通知事件的类型
type NotificationKind string

const (
	// KindStatusChanged 状态流转已提交，由通知服务按受众路由。
	KindStatusChanged NotificationKind = "status_changed"
	// KindCustomerMessage 直接发给顾客的文本，例如超时取消提醒。
	KindCustomerMessage NotificationKind = "customer_message"
)

// NotificationEvent 是订单服务与通知服务之间的消息契约。
type NotificationEvent struct {
	EventID        string           `json:"eventId"`
	Kind           NotificationKind `json:"kind"`
	OrderID        int64            `json:"orderId"`
	DisplayID      string           `json:"displayId"`
	Status         Status           `json:"status"`
	PreviousStatus Status           `json:"previousStatus,omitempty"`
	PaymentStatus  PaymentStatus    `json:"paymentStatus"`
	TotalAmount    decimal.Decimal  `json:"totalAmount"`
	ActorRole      Role             `json:"actorRole,omitempty"`
	ActorUserID    *int64           `json:"actorUserId,omitempty"`
	ActorBotUserID *int64           `json:"actorBotUserId,omitempty"`
	Comment        string           `json:"comment,omitempty"`
	CustomerChatID *int64           `json:"customerChatId,omitempty"`
	Text           string           `json:"text,omitempty"`
	OccurredAt     time.Time        `json:"occurredAt"`
}

// NewStatusChangedEvent 在状态变更提交之后构造事件。
func NewStatusChangedEvent(order *Order, previous Status, cc ChangeContext, at time.Time) *NotificationEvent {
	return &NotificationEvent{
		EventID:        uuid.New().String(),
		Kind:           KindStatusChanged,
		OrderID:        order.ID,
		DisplayID:      order.DisplayID,
		Status:         order.Status,
		PreviousStatus: previous,
		PaymentStatus:  order.PaymentStatus,
		TotalAmount:    order.TotalAmount,
		ActorRole:      cc.Role,
		ActorUserID:    cc.ActorUserID,
		ActorBotUserID: cc.ActorBotUserID,
		Comment:        cc.Comment,
		CustomerChatID: order.CustomerChatID,
		OccurredAt:     at,
	}
}

// NewCustomerMessageEvent 构造一条发给顾客的消息。
func NewCustomerMessageEvent(order *Order, text string, at time.Time) *NotificationEvent {
	return &NotificationEvent{
		EventID:        uuid.New().String(),
		Kind:           KindCustomerMessage,
		OrderID:        order.ID,
		DisplayID:      order.DisplayID,
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		TotalAmount:    order.TotalAmount,
		CustomerChatID: order.CustomerChatID,
		Text:           text,
		OccurredAt:     at,
	}
}

// PartitionKey 保证同一订单的事件落在同一个分区，消费时保持顺序。
func (e *NotificationEvent) PartitionKey() []byte {
	return []byte(strconv.FormatInt(e.OrderID, 10))
}
