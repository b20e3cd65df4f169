// internal/service/notification/interfaces/kafka_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/pkg/mq"
	orderdomain "fooddelivery/internal/service/order/domain"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// EventDispatcher 由 application.Dispatcher 实现
type EventDispatcher interface {
	Dispatch(ctx context.Context, event *orderdomain.NotificationEvent) error
}

// MessageReader 是 *kafka.Reader 中消费循环用到的部分
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// FailureHandler 由 mq.FailureHandler 实现
type FailureHandler interface {
	Handle(ctx context.Context, msg kafka.Message, cause error)
}

// KafkaConsumer 消费订单通知主题并驱动 Dispatcher
type KafkaConsumer struct {
	reader         MessageReader
	dispatcher     EventDispatcher
	failureHandler FailureHandler
	retryDelay     time.Duration
}

func NewKafkaConsumer(reader MessageReader, dispatcher EventDispatcher, failureHandler FailureHandler) *KafkaConsumer {
	return &KafkaConsumer{
		reader:         reader,
		dispatcher:     dispatcher,
		failureHandler: failureHandler,
		retryDelay:     time.Second,
	}
}

// Start 阻塞运行直到 ctx 结束。处理失败的消息交给 FailureHandler，之后照常提交 offset。
func (c *KafkaConsumer) Start(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("Notification consumer started")
	for {
		// 使用 FetchMessage 而不是 ReadMessage，处理完再手动提交
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("Notification consumer shutting down")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("Could not fetch message, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}

		msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
		if err := c.processMessage(msgCtx, msg); err != nil {
			c.failureHandler.Handle(msgCtx, msg, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit message")
		}
	}
}

func (c *KafkaConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event orderdomain.NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return errors.Wrap(err, "decode notification event")
	}
	return c.dispatcher.Dispatch(ctx, &event)
}

// DltConsumer 读取死信主题，把每条消息完整记录到日志
type DltConsumer struct {
	reader MessageReader
}

func NewDltConsumer(reader MessageReader) *DltConsumer {
	return &DltConsumer{reader: reader}
}

func (c *DltConsumer) Start(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("DLT consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("Could not fetch dead letter")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		logDeadLetter(ctx, msg)
		// 记录即视为处理完成
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit dead letter")
		}
	}
}

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", headers[mq.HeaderOriginalTopic]).
		Str("original_partition", headers[mq.HeaderOriginalPartition]).
		Str("original_offset", headers[mq.HeaderOriginalOffset]).
		Str("exception_fqcn", headers[mq.HeaderExceptionFqcn]).
		Str("exception_message", headers[mq.HeaderExceptionMessage]).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("Dead letter message received")
}
