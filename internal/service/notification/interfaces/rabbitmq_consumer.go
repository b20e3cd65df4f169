package interfaces

import (
	"context"
	"encoding/json"

	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/pkg/mq"
	orderdomain "fooddelivery/internal/service/order/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

// RabbitConsumer 消费 RabbitMQ 队列中的通知事件。
// 无法解析的消息直接 Nack 且不重新入队，交给队列配置的死信交换机。
type RabbitConsumer struct {
	deliveries <-chan amqp.Delivery
	dispatcher EventDispatcher
}

func NewRabbitConsumer(deliveries <-chan amqp.Delivery, dispatcher EventDispatcher) *RabbitConsumer {
	return &RabbitConsumer{deliveries: deliveries, dispatcher: dispatcher}
}

func (c *RabbitConsumer) Start(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("RabbitMQ notification consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-c.deliveries:
			if !ok {
				logger.Ctx(ctx).Warn().Msg("RabbitMQ delivery channel closed")
				return nil
			}
			c.handle(ctx, d)
		}
	}
}

func (c *RabbitConsumer) handle(ctx context.Context, d amqp.Delivery) {
	msgCtx := ctx
	if d.Headers != nil {
		msgCtx = otel.GetTextMapPropagator().Extract(ctx, mq.AMQPHeaderCarrier(d.Headers))
	}
	log := logger.Ctx(msgCtx).With().Str("message_id", d.MessageId).Logger()

	var event orderdomain.NotificationEvent
	err := json.Unmarshal(d.Body, &event)
	if err == nil {
		err = c.dispatcher.Dispatch(msgCtx, &event)
	}
	if err != nil {
		log.Error().Err(err).Str("body", string(d.Body)).Msg("Rejecting notification message")
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error().Err(nackErr).Msg("Failed to nack message")
		}
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		log.Error().Err(ackErr).Msg("Failed to ack message")
	}
}
