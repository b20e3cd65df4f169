package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"fooddelivery/internal/service/order/domain"
)

// Publisher 是 mq.RabbitPublisher 的最小接口。
type Publisher interface {
	Publish(ctx context.Context, messageID string, body []byte) error
}

// NotificationRabbitMQAdapter 通过 RabbitMQ fanout exchange 投递通知事件。
type NotificationRabbitMQAdapter struct {
	publisher Publisher
}

func NewNotificationRabbitMQAdapter(publisher Publisher) *NotificationRabbitMQAdapter {
	return &NotificationRabbitMQAdapter{publisher: publisher}
}

func (a *NotificationRabbitMQAdapter) Publish(ctx context.Context, event *domain.NotificationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}
	return a.publisher.Publish(ctx, event.EventID, body)
}

// NoopNotifier 在 transport 为 none 时使用，只丢弃事件。
type NoopNotifier struct{}

func (NoopNotifier) Publish(context.Context, *domain.NotificationEvent) error { return nil }
