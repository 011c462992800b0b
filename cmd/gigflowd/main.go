package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"GigFlow/internal/ai"
	aiopenai "GigFlow/internal/ai/openai"
	"GigFlow/internal/api"
	"GigFlow/internal/config"
	"GigFlow/internal/lifecycle"
	"GigFlow/internal/observability/metrics"
	"GigFlow/internal/payment"
	paymentchain "GigFlow/internal/payment/chain"
	"GigFlow/internal/platform"
	"GigFlow/internal/saga"
	"GigFlow/pkg/logger"
)

// main 是 GigFlow 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("gigflowd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// 主存储。
	store, err := createStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// 快速缓存，主存储永远是事实来源。
	cache, err := createCache(cfg)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}
	gateway := saga.NewGateway(store, cache)

	// 接入队列。
	queue, err := createQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Printf("关闭任务队列失败: %v", err)
		}
	}()

	// 协作方。
	aiClient, err := createAIClient(cfg)
	if err != nil {
		return err
	}

	payments, err := createPaymentProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer payments.Close()

	adapter, err := createPlatformAdapter(cfg)
	if err != nil {
		return err
	}
	defer adapter.Close()

	// 阶段表：业务步骤加运维策略覆盖。
	steps, err := lifecycle.Steps(lifecycle.Deps{
		AI:                     aiClient,
		Payments:               payments,
		Platform:               adapter,
		MinBudget:              cfg.Lifecycle.MinBudget,
		QualificationThreshold: cfg.Lifecycle.QualificationThreshold,
		QualityThreshold:       cfg.Lifecycle.QualityThreshold,
		Payee:                  cfg.Lifecycle.Payee,
	})
	if err != nil {
		return err
	}
	policy, err := saga.LoadPolicy(cfg.Saga.PolicyPath)
	if err != nil {
		return err
	}
	stepSet, err := saga.NewStepSet(policy.Apply(steps)...)
	if err != nil {
		return err
	}

	orch, err := saga.NewOrchestrator(stepSet, gateway,
		saga.WithIntake(queue),
		saga.WithWorkerCount(cfg.TaskQueue.Worker),
		saga.WithBackoffBase(cfg.Saga.BackoffBase()),
		saga.WithMaxRevisionRounds(cfg.Saga.MaxRevisionRounds),
		saga.WithCompensateOnCancel(cfg.Saga.CompensateOnCancelOrDefault()),
		saga.WithLogger(logger.Named("saga")),
	)
	if err != nil {
		return err
	}

	recovery := saga.NewRecoveryManager(orch, store)
	if cfg.Saga.RecoverOnStartOrDefault() {
		if _, err := recovery.RecoverAll(ctx); err != nil {
			return err
		}
	}

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := orch.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("任务处理循环异常退出: %v", err)
		}
	}()

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(processorCtx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, orch, recovery,
		api.WithAPIKey(cfg.Server.ResolveAPIKey()))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	configPath := os.Getenv("GIGFLOW_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "gigflow.json")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(configPath)
}

func createStore(cfg *config.Config) (saga.StateStore, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return saga.NewMemoryStore(), nil
	case "mysql":
		return saga.NewMySQLStore(saga.MySQLConfig{
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func createCache(cfg *config.Config) (saga.StateCache, error) {
	switch cfg.Cache.Driver {
	case "none":
		return nil, nil
	case "", "memory":
		return saga.NewMemoryCache(), nil
	case "redis":
		return saga.NewRedisCache(saga.RedisCacheConfig{
			Address:   cfg.Cache.Address,
			Password:  cfg.Cache.Password,
			DB:        cfg.Cache.DB,
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       cfg.Cache.CacheTTL(),
		})
	default:
		return nil, fmt.Errorf("未知的缓存驱动: %s", cfg.Cache.Driver)
	}
}

func createQueue(cfg *config.Config) (saga.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		return saga.NewMemoryQueue(1024), nil
	case "redis":
		return saga.NewRedisQueue(saga.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return saga.NewRabbitMQQueue(saga.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
}

func createAIClient(cfg *config.Config) (ai.Client, error) {
	switch cfg.AI.Provider {
	case "", "memory":
		return &ai.StaticClient{}, nil
	case "openai":
		apiKey := strings.TrimSpace(cfg.AI.OpenAI.APIKey)
		if apiKey == "" && cfg.AI.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.AI.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return aiopenai.NewClient(aiopenai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.AI.OpenAI.BaseURL,
			Model:   cfg.AI.OpenAI.Model,
			Timeout: time.Duration(cfg.AI.OpenAI.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的 AI provider: %s", cfg.AI.Provider)
	}
}

func createPaymentProvider(ctx context.Context, cfg *config.Config) (payment.Provider, error) {
	switch cfg.Payment.Provider {
	case "", "memory":
		return payment.NewMemoryProvider(), nil
	case "chain":
		return paymentchain.NewProvider(ctx, paymentchain.Config{
			RPCURL:      cfg.Payment.Chain.RPCURL,
			OperatorKey: os.Getenv(cfg.Payment.Chain.OperatorKeyEnv),
			VaultKey:    os.Getenv(cfg.Payment.Chain.VaultKeyEnv),
			GasLimit:    cfg.Payment.Chain.GasLimit,
		})
	default:
		return nil, fmt.Errorf("未知的支付 provider: %s", cfg.Payment.Provider)
	}
}

func createPlatformAdapter(cfg *config.Config) (platform.Adapter, error) {
	switch cfg.Platform.Provider {
	case "", "memory":
		return platform.NewMemoryAdapter(), nil
	case "http":
		apiKey := strings.TrimSpace(cfg.Platform.HTTP.APIKey)
		if apiKey == "" && cfg.Platform.HTTP.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.Platform.HTTP.APIKeyEnv))
		}
		return platform.NewHTTPAdapter(platform.HTTPConfig{
			BaseURL: cfg.Platform.HTTP.BaseURL,
			APIKey:  apiKey,
			Timeout: time.Duration(cfg.Platform.HTTP.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的平台 provider: %s", cfg.Platform.Provider)
	}
}
