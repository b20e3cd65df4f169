// internal/service/order/application/dto.go
package application

import (
	"time"

	"fooddelivery/internal/service/order/domain"
)

// ChangeStatusRequest 是管理接口修改订单状态的输入。
type ChangeStatusRequest struct {
	Status   string         `json:"status" binding:"required,order_status"`
	Comment  string         `json:"comment" binding:"max=500"`
	Metadata map[string]any `json:"metadata"`
}

// ChangeStatusResponse 是修改状态的结果。
type ChangeStatusResponse struct {
	OrderID int64         `json:"orderId"`
	Changed bool          `json:"changed"`
	Status  domain.Status `json:"status"`
}

// HistoryQuery 是查询审计记录时的 query 参数。
type HistoryQuery struct {
	Role   string `form:"role" binding:"omitempty,oneof=admin kitchen courier user system"`
	Status string `form:"status" binding:"omitempty,order_status"`
}

// Filter 把查询参数转换为领域过滤条件。
func (q HistoryQuery) Filter() domain.HistoryFilter {
	return domain.HistoryFilter{Role: domain.Role(q.Role), Status: domain.Status(q.Status)}
}

// HistoryItem 是审计记录的对外表示。
type HistoryItem struct {
	ID             int64          `json:"id"`
	Status         domain.Status  `json:"status"`
	PreviousStatus domain.Status  `json:"previousStatus"`
	ActorRole      domain.Role    `json:"actorRole"`
	ActorUserID    *int64         `json:"actorUserId,omitempty"`
	ActorBotUserID *int64         `json:"actorBotUserId,omitempty"`
	Comment        string         `json:"comment,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// ToHistoryItems 转换审计记录列表，保持原有顺序。
func ToHistoryItems(records []*domain.StatusHistoryRecord) []HistoryItem {
	items := make([]HistoryItem, 0, len(records))
	for _, r := range records {
		items = append(items, HistoryItem{
			ID:             r.ID,
			Status:         r.Status,
			PreviousStatus: r.PreviousStatus,
			ActorRole:      r.ActorRole,
			ActorUserID:    r.ActorUserID,
			ActorBotUserID: r.ActorBotUserID,
			Comment:        r.Comment,
			Metadata:       r.Metadata,
			CreatedAt:      r.CreatedAt,
		})
	}
	return items
}
