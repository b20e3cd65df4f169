package adapter

import (
	"fooddelivery/internal/pkg/bootstrap"
	"fooddelivery/internal/pkg/mq"
	"fooddelivery/internal/service/order/port"

	"github.com/pkg/errors"
)

// NewNotifier 按 notifications.transport 选择通知通道，返回的 close 函数在进程退出时调用。
func NewNotifier(cfg bootstrap.Config) (port.NotificationProducer, func() error, error) {
	switch cfg.Notifications.Transport {
	case "kafka":
		writer := mq.NewKafkaWriter(bootstrap.SplitAddrs(cfg.Infra.Kafka.Brokers), cfg.Infra.Kafka.NotificationTopic)
		a := NewNotificationKafkaAdapter(writer)
		return a, a.Close, nil
	case "rabbitmq":
		publisher, err := mq.NewRabbitPublisher(cfg.Infra.RabbitMQ.URL, cfg.Infra.RabbitMQ.Exchange)
		if err != nil {
			return nil, nil, err
		}
		return NewNotificationRabbitMQAdapter(publisher), publisher.Close, nil
	case "none":
		return NoopNotifier{}, func() error { return nil }, nil
	}
	return nil, nil, errors.Errorf("unsupported notification transport %q", cfg.Notifications.Transport)
}
