package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 sighad 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig  `json:"server"`
	Context   ContextConfig `json:"context"`
	Storage   StorageConfig `json:"storage"`
	FoldQueue QueueConfig   `json:"fold_queue"`
	Anchor    AnchorConfig  `json:"anchor"`
	Log       LogConfig     `json:"log"`
	Runtime   RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// ContextConfig 描述密码学上下文的生成参数。
type ContextConfig struct {
	BitLength  int  `json:"bit_length"`
	MaxDepth   int  `json:"max_depth"`
	PrimeBits  int  `json:"prime_bits"`
	SafePrimes bool `json:"safe_primes"`
	MRRounds   int  `json:"mr_rounds"`
}

// StorageConfig 统一描述封印记录的持久化后端。
type StorageConfig struct {
	SealStore SealStoreConfig `json:"seal_store"`
}

// SealStoreConfig 支持内存实现与 MySQL。
type SealStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 描述折叠事件队列。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AnchorConfig 包含把封印锚定到链上所需的配置。
type AnchorConfig struct {
	Enabled      bool   `json:"enabled"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
}

// LogConfig 控制结构化日志输出。
type LogConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
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

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Context.BitLength == 0 {
		c.Context.BitLength = 2048
	}
	if c.Context.MaxDepth == 0 {
		c.Context.MaxDepth = 10
	}
	if c.Context.PrimeBits == 0 {
		c.Context.PrimeBits = 256
	}

	if c.Storage.SealStore.Driver == "" {
		c.Storage.SealStore.Driver = "memory"
	}
	if c.FoldQueue.Driver == "" {
		c.FoldQueue.Driver = "memory"
	}
	if c.FoldQueue.Worker <= 0 {
		c.FoldQueue.Worker = 1
	}

	if c.Anchor.Enabled && c.Anchor.ChainConfig != "" && !filepath.IsAbs(c.Anchor.ChainConfig) {
		c.Anchor.ChainConfig = filepath.Join(baseDir, c.Anchor.ChainConfig)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
