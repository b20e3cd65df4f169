// internal/service/order/domain/permission.go
package domain

// roleTransitions 是各角色可执行的显式流转表：role -> from -> []to。
// 用户/系统取消订单不在表中，由 canCancel 单独判定。
var roleTransitions = map[Role]map[Status][]Status{
	RoleAdmin: {
		StatusNew:      {StatusAccepted},
		StatusAccepted: {StatusSentToKitchen, StatusCourierAssigned},
	},
	RoleKitchen: {
		StatusSentToKitchen:   {StatusKitchenAccepted},
		StatusKitchenAccepted: {StatusPreparing},
		StatusPreparing:       {StatusReadyForDelivery},
	},
	RoleCourier: {
		StatusCourierAssigned: {StatusInTransit},
		StatusInTransit:       {StatusDelivered},
	},
}

// CanChangeStatus 判断 role 是否可以把订单从 from 改为 to。
// 终态、原地流转和未知状态一律拒绝。
func CanChangeStatus(from, to Status, role Role) bool {
	if from.IsTerminal() || from == to || !to.Valid() {
		return false
	}
	if canCancel(from, to, role) {
		return true
	}
	for _, allowed := range roleTransitions[role][from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func canCancel(from, to Status, role Role) bool {
	return to == StatusCancelled &&
		(role == RoleUser || role == RoleSystem) &&
		!from.IsTerminal()
}

// AllowedTargets 返回 role 在 from 状态下可选的目标状态，用于渲染按钮和接口提示。
func AllowedTargets(from Status, role Role) []Status {
	var targets []Status
	for _, to := range allStatuses {
		if CanChangeStatus(from, to, role) {
			targets = append(targets, to)
		}
	}
	return targets
}
