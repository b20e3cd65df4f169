// internal/service/notification/domain/message.go
package domain

import (
	"context"

	orderdomain "fooddelivery/internal/service/order/domain"
)

// Audience 是一类通知接收方
type Audience string

const (
	AudienceAdmin    Audience = "admin"
	AudienceKitchen  Audience = "kitchen"
	AudienceCourier  Audience = "courier"
	AudienceCustomer Audience = "customer"
)

// Role 返回该受众点击按钮时以什么角色变更状态
func (a Audience) Role() orderdomain.Role {
	switch a {
	case AudienceAdmin:
		return orderdomain.RoleAdmin
	case AudienceKitchen:
		return orderdomain.RoleKitchen
	case AudienceCourier:
		return orderdomain.RoleCourier
	case AudienceCustomer:
		return orderdomain.RoleUser
	}
	return ""
}

// OutgoingMessage 是一条待发送的聊天消息，Actions 为可点击的目标状态
type OutgoingMessage struct {
	Audience Audience
	ChatID   int64
	OrderID  int64
	Text     string
	Actions  []orderdomain.Status
}

// RuleEngine 判断一个事件应该发给哪些受众
type RuleEngine interface {
	Audiences(event *orderdomain.NotificationEvent) ([]Audience, error)
}

// Sender 把消息投递到聊天渠道
type Sender interface {
	Send(ctx context.Context, msg OutgoingMessage) error
}

// Deduplicator 识别重复投递的事件。FirstSeen 返回 true 表示第一次见到该事件
type Deduplicator interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
}

// Broadcaster 把事件原样推送给在线的管理后台
type Broadcaster interface {
	Broadcast(payload []byte)
}
