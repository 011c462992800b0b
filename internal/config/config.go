package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 GigFlow 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Metrics   MetricsConfig   `json:"metrics"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Cache     CacheConfig     `json:"cache"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	Saga      SagaConfig      `json:"saga"`
	AI        AIConfig        `json:"ai"`
	Payment   PaymentConfig   `json:"payment"`
	Platform  PlatformConfig  `json:"platform"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
	// APIKey 为空时接口不做认证；APIKeyEnv 指定存放密钥的环境变量，
	// 优先于明文配置。
	APIKey    string `json:"api_key,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty"`
}

// ResolveAPIKey 返回生效的 API 密钥，环境变量优先。
func (c ServerConfig) ResolveAPIKey() string {
	if c.APIKeyEnv != "" {
		if key := os.Getenv(c.APIKeyEnv); key != "" {
			return key
		}
	}
	return c.APIKey
}

// MetricsConfig 控制指标端点。地址为空时不单独起指标服务。
type MetricsConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Audit       struct {
		Enabled    bool   `json:"enabled"`
		Path       string `json:"path"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
	} `json:"audit"`
}

// StorageConfig 描述任务状态主存储的连接信息。
type StorageConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// CacheConfig 描述任务状态快速缓存的连接信息。
type CacheConfig struct {
	Driver     string `json:"driver"`
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// TaskQueueConfig 描述接入队列的驱动与连接信息。
type TaskQueueConfig struct {
	Driver string `json:"driver"`
	Worker int    `json:"worker"`
	Redis  struct {
		Address   string `json:"address"`
		Password  string `json:"password"`
		DB        int    `json:"db"`
		Queue     string `json:"queue"`
		BlockWait int    `json:"block_wait_seconds"`
	} `json:"redis"`
	RabbitMQ struct {
		URL        string `json:"url"`
		Queue      string `json:"queue"`
		Prefetch   int    `json:"prefetch"`
		Durable    bool   `json:"durable"`
		AutoDelete bool   `json:"auto_delete"`
	} `json:"rabbitmq"`
}

// SagaConfig 控制编排内核的退避、返工与取消策略。
type SagaConfig struct {
	BackoffBaseMS      int    `json:"backoff_base_ms"`
	MaxRevisionRounds  int    `json:"max_revision_rounds"`
	CompensateOnCancel *bool  `json:"compensate_on_cancel"`
	PolicyPath         string `json:"policy_path"`
	RecoverOnStart     *bool  `json:"recover_on_start"`
}

// AIConfig 配置评估引擎的接入方式。
type AIConfig struct {
	Provider string `json:"provider"`
	OpenAI   struct {
		APIKey         string `json:"api_key"`
		APIKeyEnv      string `json:"api_key_env"`
		BaseURL        string `json:"base_url"`
		Model          string `json:"model"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"openai"`
}

// PaymentConfig 配置资金托管的实现。
type PaymentConfig struct {
	Provider string `json:"provider"`
	Chain    struct {
		RPCURL         string `json:"rpc_url"`
		OperatorKeyEnv string `json:"operator_key_env"`
		VaultKeyEnv    string `json:"vault_key_env"`
		GasLimit       uint64 `json:"gas_limit"`
	} `json:"chain"`
}

// PlatformConfig 配置自由职业平台的接入方式。
type PlatformConfig struct {
	Provider string `json:"provider"`
	HTTP     struct {
		BaseURL        string `json:"base_url"`
		APIKey         string `json:"api_key"`
		APIKeyEnv      string `json:"api_key_env"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"http"`
}

// LifecycleConfig 放置业务阈值。
type LifecycleConfig struct {
	MinBudget              float64 `json:"min_budget"`
	QualificationThreshold float64 `json:"qualification_threshold"`
	QualityThreshold       float64 `json:"quality_threshold"`
	Payee                  string  `json:"payee"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// Default 返回不依赖任何外部服务的最小可运行配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 4
	}
	if c.Saga.BackoffBaseMS <= 0 {
		c.Saga.BackoffBaseMS = 1000
	}
	if c.Saga.MaxRevisionRounds <= 0 {
		c.Saga.MaxRevisionRounds = 3
	}
	if c.Saga.PolicyPath != "" && !filepath.IsAbs(c.Saga.PolicyPath) {
		c.Saga.PolicyPath = filepath.Join(baseDir, c.Saga.PolicyPath)
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "memory"
	}
	if c.Payment.Provider == "" {
		c.Payment.Provider = "memory"
	}
	if c.Platform.Provider == "" {
		c.Platform.Provider = "memory"
	}
	if c.Lifecycle.QualityThreshold <= 0 {
		c.Lifecycle.QualityThreshold = 0.7
	}
	if c.Lifecycle.QualificationThreshold <= 0 {
		c.Lifecycle.QualificationThreshold = 0.6
	}
}

// BackoffBase 返回退避基础时长。
func (c *SagaConfig) BackoffBase() time.Duration {
	if c.BackoffBaseMS <= 0 {
		return time.Second
	}
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// CompensateOnCancelOrDefault 返回取消时是否补偿高影响阶段，缺省为 true。
func (c *SagaConfig) CompensateOnCancelOrDefault() bool {
	if c.CompensateOnCancel == nil {
		return true
	}
	return *c.CompensateOnCancel
}

// RecoverOnStartOrDefault 返回启动时是否执行恢复扫描，缺省为 true。
func (c *SagaConfig) RecoverOnStartOrDefault() bool {
	if c.RecoverOnStart == nil {
		return true
	}
	return *c.RecoverOnStart
}

// CacheTTL 返回缓存过期时间。
func (c *CacheConfig) CacheTTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TTLSeconds) * time.Second
}
