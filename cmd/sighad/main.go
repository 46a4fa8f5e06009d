package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"Sigha-Chain/internal/anchor/provider"
	"Sigha-Chain/internal/api"
	"Sigha-Chain/internal/config"
	"Sigha-Chain/internal/holo"
	"Sigha-Chain/internal/observability/alerting"
	"Sigha-Chain/internal/observability/metrics"
	"Sigha-Chain/internal/session"
	"Sigha-Chain/pkg/logger"
)

// main 是 Sigha 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("sighad 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SIGHA_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "sigha.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Log.AuditPath != "",
			Path:    cfg.Log.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 生成群参数。2048 位的安全素数搜索可能需要数十秒。
	logger.L().Info("正在生成密码学上下文",
		slog.Int("bit_length", cfg.Context.BitLength),
		slog.Bool("safe_primes", cfg.Context.SafePrimes),
	)
	ctxOpts := []holo.ContextOption{
		holo.WithMaxDepth(cfg.Context.MaxDepth),
		holo.WithPrimeBits(cfg.Context.PrimeBits),
		holo.WithSafePrimes(cfg.Context.SafePrimes),
	}
	if cfg.Context.MRRounds > 0 {
		ctxOpts = append(ctxOpts, holo.WithMRRounds(cfg.Context.MRRounds))
	}
	cryptoCtx, err := holo.NewContext(cfg.Context.BitLength, ctxOpts...)
	if err != nil {
		return err
	}
	registry := holo.NewRegistry(cryptoCtx)
	ctxDigest := cryptoCtx.Digest()
	logger.L().Info("密码学上下文就绪", slog.String("context_digest", fmt.Sprintf("%x", ctxDigest[:8])))

	var sealStore session.Store
	switch cfg.Storage.SealStore.Driver {
	case "memory", "":
		sealStore = session.NewMemoryStore()
	case "mysql":
		store, err := session.NewMySQLStore(cfg.Storage.SealStore.DSN)
		if err != nil {
			return err
		}
		sealStore = store
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.SealStore.Driver)
	}

	var foldQueue session.Queue
	switch cfg.FoldQueue.Driver {
	case "", "memory":
		foldQueue = session.NewMemoryQueue(1024)
	case "redis":
		queue, err := session.NewRedisQueue(session.RedisQueueConfig{
			Address:   cfg.FoldQueue.Redis.Address,
			Password:  cfg.FoldQueue.Redis.Password,
			DB:        cfg.FoldQueue.Redis.DB,
			Queue:     cfg.FoldQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.FoldQueue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		foldQueue = queue
	case "rabbitmq":
		queue, err := session.NewRabbitMQQueue(session.RabbitMQConfig{
			URL:        cfg.FoldQueue.RabbitMQ.URL,
			Queue:      cfg.FoldQueue.RabbitMQ.Queue,
			Prefetch:   cfg.FoldQueue.RabbitMQ.Prefetch,
			Durable:    cfg.FoldQueue.RabbitMQ.Durable,
			AutoDelete: cfg.FoldQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		foldQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.FoldQueue.Driver)
	}

	serviceOpts := []session.ServiceOption{
		session.WithStore(sealStore),
		session.WithProducer(foldQueue),
		session.WithAlertDispatcher(alerting.NewFanout(&alerting.LogNotifier{})),
	}

	if cfg.Anchor.Enabled {
		chainRegistry, err := provider.NewRegistry(ctx, cfg.Anchor)
		if err != nil {
			return err
		}
		defer chainRegistry.Close()
		anchorClient, err := chainRegistry.DefaultClient()
		if err != nil {
			return err
		}
		serviceOpts = append(serviceOpts, session.WithAnchorClient(anchorClient))
	}

	service := session.NewService(cryptoCtx, registry, serviceOpts...)
	defer func() {
		if err := service.Close(); err != nil {
			logger.L().Warn("关闭会话服务失败", slog.Any("error", err))
		}
	}()

	// 折叠事件消费者：目前只负责审计落盘。
	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	go func() {
		err := foldQueue.Consume(consumerCtx, cfg.FoldQueue.Worker, func(_ context.Context, payload []byte) error {
			var event session.FoldEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				logger.L().Warn("折叠事件解析失败", slog.Any("error", err))
				return nil
			}
			logger.Audit().Info("快照折叠",
				slog.String("session_id", event.SessionID),
				slog.Int("segment", event.Segment),
				slog.Int("depth", event.Depth),
				slog.String("fold_seed", event.FoldSeed),
			)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("折叠事件消费者异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, service)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
