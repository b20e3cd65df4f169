// internal/service/order/domain/history.go
package domain

import "time"

// ChangeContext 描述一次状态变更由谁、为何发起。
// Role 为空表示不做角色校验（内部调用），其余字段原样写入审计记录。
type ChangeContext struct {
	Role           Role
	ActorUserID    *int64
	ActorBotUserID *int64
	Comment        string
	Metadata       map[string]any
}

// StatusHistoryRecord 是一次已提交状态流转的审计记录，只追加不修改。
type StatusHistoryRecord struct {
	ID             int64
	OrderID        int64
	Status         Status
	PreviousStatus Status
	ActorRole      Role
	ActorUserID    *int64
	ActorBotUserID *int64
	Comment        string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// NewStatusHistoryRecord 根据变更上下文构造审计记录。
func NewStatusHistoryRecord(orderID int64, previous, next Status, cc ChangeContext, at time.Time) *StatusHistoryRecord {
	return &StatusHistoryRecord{
		OrderID:        orderID,
		Status:         next,
		PreviousStatus: previous,
		ActorRole:      cc.Role,
		ActorUserID:    cc.ActorUserID,
		ActorBotUserID: cc.ActorBotUserID,
		Comment:        cc.Comment,
		Metadata:       cc.Metadata,
		CreatedAt:      at,
	}
}

// HistoryFilter 是查询审计记录时的可选过滤条件，零值表示不过滤。
type HistoryFilter struct {
	Role   Role
	Status Status
}

// Matches 在内存实现和测试中复用过滤逻辑。
func (f HistoryFilter) Matches(rec *StatusHistoryRecord) bool {
	if f.Role != "" && rec.ActorRole != f.Role {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	return true
}
