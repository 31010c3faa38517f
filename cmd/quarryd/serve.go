package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"SwarmQuarry/internal/api"
	"SwarmQuarry/internal/auth"
	"SwarmQuarry/internal/config"
	"SwarmQuarry/internal/events"
	"SwarmQuarry/internal/observability/alerting"
	"SwarmQuarry/internal/observability/metrics"
	"SwarmQuarry/internal/storage"
	"SwarmQuarry/internal/swarm"
	"SwarmQuarry/pkg/logger"
)

func newServeCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(loggerConfig(cfg.Logging)); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("quarryd")

	if cfg.Metrics.IsEnabled() {
		metrics.RegisterMetrics()
	}

	gateway, err := storage.Open(ctx, storageConfig(cfg.Storage))
	if err != nil {
		return err
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			log.Warn("关闭存储失败", slog.Any("error", err))
		}
	}()

	loaded, err := gateway.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("加载 swarm 数据失败: %w", err)
	}
	registry := swarm.NewRegistry()
	registry.Restore(loaded)
	metrics.SetActiveSwarms(registry.Len())
	log.Info("已加载 swarm 数据",
		slog.String("driver", gateway.Driver()),
		slog.Int("swarms", registry.Len()),
	)

	publisher, err := newPublisher(ctx, cfg.Events)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn("关闭事件发布器失败", slog.Any("error", err))
			}
		}()
	}

	flusher := storage.NewFlusher(gateway, registry,
		storage.WithFlushTimeout(cfg.Storage.FlushTimeout()),
		storage.WithAlerting(newAlertDispatcher(cfg.Alerting), cfg.Alerting.FailureThreshold),
	)
	flushCtx, cancelFlush := context.WithCancel(context.Background())
	go flusher.Run(flushCtx)
	defer func() {
		cancelFlush()
		if err := flusher.Close(context.Background()); err != nil {
			log.Error("退出前写入快照失败", slog.Any("error", err))
		}
	}()

	svc := swarm.NewService(registry,
		swarm.WithChangeNotifier(flusher),
		swarm.WithPublisher(publisher),
	)

	if cfg.Auth.Token == "" {
		log.Warn("未配置口令，所有请求都无需认证")
	}
	gate := auth.NewGate(auth.Config{
		Token:             cfg.Auth.Token,
		IPLock:            cfg.Auth.IPLockEnabled(),
		TrustForwardedFor: cfg.Auth.TrustForwarded(),
	})

	metricsPath := ""
	if cfg.Metrics.IsEnabled() {
		metricsPath = cfg.Metrics.Path
	}
	server := api.NewServer(cfg.Server.Address, svc, gate,
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithMetricsPath(metricsPath),
		api.WithTimeouts(cfg.Server.ReadHeaderTimeout(), cfg.Server.ShutdownTimeout()),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("服务已停止")
	return nil
}

// newPublisher 按配置构造事件发布器，driver 为 none 时返回 nil。
func newPublisher(ctx context.Context, cfg config.EventsConfig) (events.Publisher, error) {
	var next events.Publisher
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "none":
		return nil, nil
	case "", "log":
		next = events.NewLogPublisher(logger.Named("events"))
	case "redis":
		pub, err := events.NewRedisPublisher(ctx, events.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return nil, err
		}
		next = pub
	case "rabbitmq":
		pub, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Durable:  cfg.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		next = pub
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
	timeout := time.Duration(cfg.PublishTimeoutSeconds) * time.Second
	return events.NewAsyncPublisher(next, cfg.Buffer, timeout), nil
}

func newAlertDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL, time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	return alerting.NewFanout(notifiers...)
}

func loggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		},
	}
}

func storageConfig(cfg config.StorageConfig) storage.Config {
	return storage.Config{
		Driver: cfg.Driver,
		Path:   cfg.Path,
		DSN:    cfg.DSN,
		Redis: storage.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		},
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
	}
}
