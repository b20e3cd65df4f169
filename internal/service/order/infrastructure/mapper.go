package infrastructure

import (
	"fooddelivery/internal/service/order/domain"
)

// toDomainOrder 将数据库模型转换为领域模型
func toDomainOrder(m *OrderModel) *domain.Order {
	return &domain.Order{
		ID:             m.ID,
		DisplayID:      m.DisplayID,
		UserID:         m.UserID,
		CustomerChatID: m.CustomerChatID,
		Status:         domain.Status(m.Status),
		PaymentStatus:  domain.PaymentStatus(m.PaymentStatus),
		TotalAmount:    m.TotalAmount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toDomainHistory(m *StatusHistoryModel) *domain.StatusHistoryRecord {
	return &domain.StatusHistoryRecord{
		ID:             m.ID,
		OrderID:        m.OrderID,
		Status:         domain.Status(m.Status),
		PreviousStatus: domain.Status(m.PreviousStatus),
		ActorRole:      domain.Role(m.ActorRole),
		ActorUserID:    m.ActorUserID,
		ActorBotUserID: m.ActorBotUserID,
		Comment:        m.Comment,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
	}
}

func fromDomainHistory(rec *domain.StatusHistoryRecord) *StatusHistoryModel {
	return &StatusHistoryModel{
		OrderID:        rec.OrderID,
		Status:         string(rec.Status),
		PreviousStatus: string(rec.PreviousStatus),
		ActorRole:      string(rec.ActorRole),
		ActorUserID:    rec.ActorUserID,
		ActorBotUserID: rec.ActorBotUserID,
		Comment:        rec.Comment,
		Metadata:       rec.Metadata,
		CreatedAt:      rec.CreatedAt,
	}
}

var terminalStatuses = []string{string(domain.StatusDelivered), string(domain.StatusCancelled)}
