// internal/service/order/domain/status.go
package domain

// Status 定义了订单在履约过程中的生命周期状态
type Status string

const (
	StatusNew              Status = "new"                // 刚下单，等待管理员确认
	StatusAccepted         Status = "accepted"           // 管理员已确认
	StatusSentToKitchen    Status = "sent_to_kitchen"    // 已推送给厨房
	StatusKitchenAccepted  Status = "kitchen_accepted"   // 厨房已接单
	StatusPreparing        Status = "preparing"          // 制作中
	StatusReadyForDelivery Status = "ready_for_delivery" // 出餐完成，等待配送
	StatusCourierAssigned  Status = "courier_assigned"   // 已分配骑手
	StatusInTransit        Status = "in_transit"         // 配送中
	StatusDelivered        Status = "delivered"          // 已送达（终态）
	StatusCancelled        Status = "cancelled"          // 已取消（终态）
)

var allStatuses = []Status{
	StatusNew,
	StatusAccepted,
	StatusSentToKitchen,
	StatusKitchenAccepted,
	StatusPreparing,
	StatusReadyForDelivery,
	StatusCourierAssigned,
	StatusInTransit,
	StatusDelivered,
	StatusCancelled,
}

// AllStatuses 返回全部状态，顺序即履约的自然顺序。
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// IsTerminal 终态订单不允许任何后续流转。
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// PaymentStatus 由支付网关回调维护，本服务只读取它。
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Role 是发起状态变更的参与者类别。
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleKitchen Role = "kitchen"
	RoleCourier Role = "courier"
	RoleUser    Role = "user"
	RoleSystem  Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleKitchen, RoleCourier, RoleUser, RoleSystem:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

var actionLabels = map[Status]string{
	StatusAccepted:         "✅ Accept",
	StatusSentToKitchen:    "👨‍🍳 Send to kitchen",
	StatusKitchenAccepted:  "📥 Kitchen accepted",
	StatusPreparing:        "🔥 Preparing",
	StatusReadyForDelivery: "📦 Ready for delivery",
	StatusCourierAssigned:  "🛵 Assign courier",
	StatusInTransit:        "🚚 In transit",
	StatusDelivered:        "🏁 Delivered",
	StatusCancelled:        "❌ Cancel",
}

// ActionLabel 是把订单改为该状态的按钮文字
func (s Status) ActionLabel() string {
	if label, ok := actionLabels[s]; ok {
		return label
	}
	return string(s)
}
