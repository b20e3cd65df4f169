// cmd/order-service/main.go
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"fooddelivery/internal/pkg/bootstrap"
	"fooddelivery/internal/pkg/httpclient"
	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/pkg/telegram"
	"fooddelivery/internal/service/order/application"
	"fooddelivery/internal/service/order/infrastructure"
	"fooddelivery/internal/service/order/infrastructure/adapter"
	"fooddelivery/internal/service/order/interfaces"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

const serviceName = "order-service"

// main 是订单服务的组装根：HTTP 状态接口、Telegram 按钮回调，二者共用同一个 OrderStatusService。
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

	store, closeStore, err := infrastructure.OpenStore(context.Background(), cfg.Database)
	if err != nil {
		return err
	}
	appCtx.OnClose(closeStore)

	notifier, closeNotifier, err := adapter.NewNotifier(cfg)
	if err != nil {
		return err
	}
	appCtx.OnClose(closeNotifier)

	statusSvc := application.NewOrderStatusService(
		store, store, store, notifier, tracer,
		cfg.Database.TxTimeout, cfg.Notifications.Timeout,
	)

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required")
	}
	if err := interfaces.RegisterValidators(); err != nil {
		return err
	}
	interfaces.NewOrderHandler(statusSvc, tracer).
		RegisterRoutes(appCtx.Router, interfaces.JWTAuth([]byte(cfg.Auth.JWTSecret)))

	if cfg.Telegram.Token == "" {
		logger.L().Warn().Msg("Telegram token not configured, button callbacks disabled")
		return nil
	}
	bot, err := telegram.NewBot(cfg.Telegram.Token, httpclient.NewClient(tracer, pollTimeout(cfg.Telegram)), cfg.Telegram.Debug)
	if err != nil {
		return err
	}
	callbacks := interfaces.NewTelegramCallbackHandler(bot, statusSvc, tracer, cfg.Telegram)
	appCtx.Go("telegram-callbacks", callbacks.Start)
	return nil
}

// pollTimeout 是长轮询请求的 HTTP 超时，需要留出比 getUpdates 更长的时间
func pollTimeout(cfg bootstrap.TelegramConfig) time.Duration {
	return time.Duration(cfg.PollTimeout)*time.Second + 10*time.Second
}
