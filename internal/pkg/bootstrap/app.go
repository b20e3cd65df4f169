// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/pkg/nacos"
	"fooddelivery/internal/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Worker 是随进程启动的后台任务，ctx 取消时应尽快返回。
type Worker func(ctx context.Context) error

// AppCtx 是传给各服务注册函数的上下文。
type AppCtx struct {
	Router *gin.Engine
	Nacos  *nacos.Client // 未配置 Nacos 时为 nil
	Config Config

	workers []namedWorker
	closers []func() error
}

type namedWorker struct {
	name string
	run  Worker
}

// Go 注册一个后台任务。任一任务返回错误都会触发整个进程关停。
func (a *AppCtx) Go(name string, w Worker) {
	a.workers = append(a.workers, namedWorker{name: name, run: w})
}

// OnClose 注册关停时的清理函数，按注册的逆序执行。
func (a *AppCtx) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// AppInfo 包含了启动一个服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx *AppCtx) error // 注册路由、后台任务和清理函数
}

// Setup 读取配置并初始化日志，所有进程在 main 的第一步调用。
func Setup(serviceName, configPath string) (Config, error) {
	cfg, err := Init(configPath)
	if err != nil {
		return Config{}, err
	}
	logger.Init(serviceName, cfg.App.LogLevel, cfg.App.PrettyLogs)
	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg, nil
}

// StartService 封装了所有服务通用的启动和优雅关停逻辑，阻塞直到收到退出信号或有任务失败。
func StartService(info AppInfo) error {
	cfg := GetCurrentConfig()
	log := logger.L().With().Str("service", info.ServiceName).Logger()

	// 1. Tracer
	shutdownTracer, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		return errors.Wrap(err, "initialize tracer provider")
	}

	// 2. Nacos（可选）
	var nacosClient *nacos.Client
	if cfg.Infra.Nacos.ServerAddrs != "" {
		nacosClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			return errors.Wrap(err, "initialize nacos client")
		}
	}

	// 3. 路由与服务自身的依赖
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	appCtx := &AppCtx{Router: router, Nacos: nacosClient, Config: cfg}
	if info.RegisterHandlers != nil {
		if err := info.RegisterHandlers(appCtx); err != nil {
			return errors.Wrapf(err, "register handlers of %s", info.ServiceName)
		}
	}

	// 4. 服务注册
	var ip string
	if nacosClient != nil && cfg.App.RegisterApp {
		if ip, err = GetOutboundIP(); err != nil {
			return errors.Wrap(err, "get outbound ip")
		}
		if err := nacosClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			return err
		}
	}

	// 5. HTTP Server 与后台任务
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: router}
	g.Go(func() error {
		log.Info().Int("port", info.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen on %s", server.Addr)
		}
		return nil
	})
	for _, w := range appCtx.workers {
		g.Go(func() error {
			log.Info().Str("worker", w.name).Msg("Background worker started")
			if err := w.run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrapf(err, "worker %s", w.name)
			}
			log.Info().Str("worker", w.name).Msg("Background worker stopped")
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	// 6. 按注册的逆序清理
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if nacosClient != nil {
		if ip != "" {
			if err := nacosClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
				log.Error().Err(err).Msg("Error deregistering from Nacos")
			}
		}
		nacosClient.Close()
	}
	for i := len(appCtx.closers) - 1; i >= 0; i-- {
		if err := appCtx.closers[i](); err != nil {
			log.Error().Err(err).Msg("Error closing resource")
		}
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("Service stopped with error")
		return runErr
	}
	log.Info().Msg("Service gracefully shut down.")
	return nil
}

// GetOutboundIP 返回本机访问外网时使用的地址，用于服务注册。
// UDP 的 Dial 不会真正发包。
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
