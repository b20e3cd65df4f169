// cmd/expiry-sweep/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"fooddelivery/internal/pkg/bootstrap"
	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/pkg/nacos"
	"fooddelivery/internal/pkg/redis"
	"fooddelivery/internal/pkg/tracing"
	"fooddelivery/internal/service/order/application"
	"fooddelivery/internal/service/order/infrastructure"
	"fooddelivery/internal/service/order/infrastructure/adapter"
	"fooddelivery/internal/service/order/interfaces"
	"fooddelivery/internal/service/order/port"
	"fooddelivery/internal/zookeeper"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

const serviceName = "expiry-sweep"

// main 有两种运行方式：默认常驻并按 sweep.interval 定时执行；-once 只执行一次后退出，供 cron 使用。
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := bootstrap.Setup(serviceName, *configPath)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("Failed to load config")
	}

	if *once {
		if err := runOnce(cfg); err != nil {
			logger.L().Error().Err(err).Msg("Sweep failed")
			os.Exit(1)
		}
		return
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.HTTP.Port,
		RegisterHandlers: func(appCtx *bootstrap.AppCtx) error {
			job, closers, err := buildJob(context.Background(), appCtx.Config, appCtx.Nacos)
			for _, c := range closers {
				appCtx.OnClose(c)
			}
			if err != nil {
				return err
			}
			appCtx.Go("unpaid-order-sweep", job.Start)
			return nil
		},
	})
	if err != nil {
		os.Exit(1)
	}
}

func runOnce(cfg bootstrap.Config) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.L().Error().Err(err).Msg("Error shutting down tracer provider")
		}
	}()

	var nacosClient *nacos.Client
	if cfg.Settings.Source == "nacos" {
		if nacosClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group); err != nil {
			return err
		}
		defer nacosClient.Close()
	}

	job, closers, err := buildJob(ctx, cfg, nacosClient)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.L().Error().Err(err).Msg("Error closing resource")
			}
		}
	}()
	if err != nil {
		return err
	}

	report, outcome, err := job.RunOnce(ctx)
	if err != nil {
		return err
	}
	logger.L().Info().
		Str("outcome", outcome).
		Int("found", report.Found).
		Int("cancelled", report.Cancelled).
		Int("failed", report.Failed).
		Msg("Sweep finished")
	return nil
}

// buildJob 组装清理任务。即使返回错误，已经打开的资源也会通过 closers 返回给调用方释放。
func buildJob(ctx context.Context, cfg bootstrap.Config, nacosClient *nacos.Client) (*interfaces.SweepJob, []func() error, error) {
	var closers []func() error
	tracer := otel.Tracer(serviceName)

	store, closeStore, err := infrastructure.OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, closers, err
	}
	closers = append(closers, closeStore)

	notifier, closeNotifier, err := adapter.NewNotifier(cfg)
	if err != nil {
		return nil, closers, err
	}
	closers = append(closers, closeNotifier)

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return nil, closers, err
	}
	closers = append(closers, closeLocker)

	settings, err := newSettingsProvider(cfg, store, nacosClient)
	if err != nil {
		return nil, closers, err
	}

	statusSvc := application.NewOrderStatusService(
		store, store, store, notifier, tracer,
		cfg.Database.TxTimeout, cfg.Notifications.Timeout,
	)
	sweep := application.NewCancelUnpaidOrders(store, statusSvc, notifier, tracer, cfg.Sweep.BatchSize, cfg.Database.TxTimeout, cfg.Notifications.Timeout)
	job := interfaces.NewSweepJob(sweep, locker, settings, cfg.Sweep.LockKey, cfg.Sweep.LockTTL, cfg.Sweep.Interval)
	return job, closers, nil
}

func newLocker(ctx context.Context, cfg bootstrap.Config) (port.Locker, func() error, error) {
	switch cfg.Sweep.LockBackend {
	case "redis":
		client, err := redis.NewClient(ctx, bootstrap.SplitAddrs(cfg.Infra.Redis.Addrs), cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		locker, err := adapter.NewRedisLockerAdapter(client)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return locker, client.Close, nil
	case "zookeeper":
		conn, err := zookeeper.Connect(bootstrap.SplitAddrs(cfg.Infra.Zookeeper.Servers), cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, nil, err
		}
		return adapter.NewZookeeperLockerAdapter(conn), func() error { conn.Close(); return nil }, nil
	}
	return nil, nil, errors.Errorf("unsupported sweep lock backend %q", cfg.Sweep.LockBackend)
}

func newSettingsProvider(cfg bootstrap.Config, store adapter.SettingsStore, nacosClient *nacos.Client) (port.SettingsProvider, error) {
	defaults := adapter.DefaultSweepSettings(cfg.Sweep)
	switch cfg.Settings.Source {
	case "config":
		return adapter.NewStaticSettingsAdapter(defaults), nil
	case "database":
		return adapter.NewDatabaseSettingsAdapter(store, defaults), nil
	case "nacos":
		if nacosClient == nil {
			return nil, errors.New("settings.source is nacos but infra.nacos.serverAddrs is empty")
		}
		return adapter.NewNacosSettingsAdapter(nacosClient, cfg.Infra.Nacos.DataID, defaults)
	}
	return nil, errors.Errorf("unsupported settings source %q", cfg.Settings.Source)
}
