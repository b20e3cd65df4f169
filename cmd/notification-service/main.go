// cmd/notification-service/main.go
package main

import (
	"context"
	"flag"
	"os"

	"fooddelivery/internal/pkg/bootstrap"
	"fooddelivery/internal/pkg/httpclient"
	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/pkg/mq"
	"fooddelivery/internal/pkg/redis"
	"fooddelivery/internal/pkg/telegram"
	"fooddelivery/internal/service/notification/application"
	"fooddelivery/internal/service/notification/domain"
	"fooddelivery/internal/service/notification/infrastructure/adapter"
	"fooddelivery/internal/service/notification/infrastructure/push"
	"fooddelivery/internal/service/notification/infrastructure/rule"
	"fooddelivery/internal/service/notification/interfaces"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

const serviceName = "notification-service"

// main 消费订单通知事件，按 CEL 规则路由到 Telegram，并推送给在线的管理后台。
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := bootstrap.Setup(serviceName, *configPath)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("Failed to load config")
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      serviceName,
		Port:             cfg.HTTP.Port,
		RegisterHandlers: registerHandlers,
	})
	if err != nil {
		os.Exit(1)
	}
}

func registerHandlers(appCtx *bootstrap.AppCtx) error {
	cfg := appCtx.Config
	tracer := otel.Tracer(serviceName)

	rules, err := rule.NewCELRuleEngine(cfg.Routing.Rules)
	if err != nil {
		return err
	}

	if cfg.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	bot, err := telegram.NewBot(cfg.Telegram.Token, httpclient.NewClient(tracer, cfg.Notifications.Timeout), cfg.Telegram.Debug)
	if err != nil {
		return err
	}

	redisClient, err := redis.NewClient(context.Background(), bootstrap.SplitAddrs(cfg.Infra.Redis.Addrs), cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
	if err != nil {
		return err
	}
	appCtx.OnClose(redisClient.Close)

	var broadcaster domain.Broadcaster
	if cfg.Push.Enabled {
		hub := push.NewHub()
		appCtx.Go("push-hub", hub.Run)
		appCtx.Router.GET(cfg.Push.Path, hub.ServeWs)
		broadcaster = hub
	}

	dispatcher := application.NewDispatcher(
		rules,
		adapter.NewTelegramSender(bot),
		adapter.NewRedisDeduplicator(redisClient, cfg.Notifications.DedupTTL),
		broadcaster,
		application.StaffChats(cfg.Telegram.Staff),
		tracer,
	)
	return registerConsumers(appCtx, dispatcher)
}

func registerConsumers(appCtx *bootstrap.AppCtx, dispatcher *application.Dispatcher) error {
	cfg := appCtx.Config
	switch cfg.Notifications.Transport {
	case "kafka":
		brokers := bootstrap.SplitAddrs(cfg.Infra.Kafka.Brokers)
		reader := mq.NewKafkaReader(brokers, cfg.Infra.Kafka.NotificationTopic, cfg.Infra.Kafka.ConsumerGroup)
		appCtx.OnClose(reader.Close)
		dltWriter := mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.DltTopic)
		appCtx.OnClose(dltWriter.Close)
		dltReader := mq.NewKafkaReader(brokers, cfg.Infra.Kafka.DltTopic, cfg.Infra.Kafka.ConsumerGroup+"-dlt")
		appCtx.OnClose(dltReader.Close)

		consumer := interfaces.NewKafkaConsumer(reader, dispatcher, mq.NewFailureHandler(dltWriter))
		appCtx.Go("notification-consumer", consumer.Start)
		appCtx.Go("dlt-consumer", interfaces.NewDltConsumer(dltReader).Start)
	case "rabbitmq":
		conn, ch, deliveries, err := mq.NewRabbitConsumer(cfg.Infra.RabbitMQ.URL, cfg.Infra.RabbitMQ.Exchange, cfg.Infra.RabbitMQ.Queue)
		if err != nil {
			return err
		}
		appCtx.OnClose(conn.Close)
		appCtx.OnClose(ch.Close)
		appCtx.Go("notification-consumer", interfaces.NewRabbitConsumer(deliveries, dispatcher).Start)
	case "none":
		logger.L().Warn().Msg("Notification transport is none, nothing to consume")
	default:
		return errors.Errorf("unsupported notification transport %q", cfg.Notifications.Transport)
	}
	return nil
}
