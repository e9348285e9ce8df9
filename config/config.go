package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig 定义服务器相关配置
type ServerConfig struct {
	Port int `yaml:"port"` // 服务监听端口
}

// MysqlConfig 定义MySQL数据库连接配置
type MysqlConfig struct {
	Host     string `yaml:"host"`      // 数据库主机地址
	Port     int    `yaml:"port"`      // 数据库端口
	User     string `yaml:"user"`      // 数据库用户名
	Password string `yaml:"password"`  // 数据库密码
	Name     string `yaml:"name"`      // 数据库名称
	SeedDemo bool   `yaml:"seed_demo"` // 空库时是否写入演示数据
}

// RedisConfig 定义Redis配置
type RedisConfig struct {
	ClusterNodes string `yaml:"cluster_nodes"` // Redis节点地址，多个节点用逗号分隔，多于一个时使用集群模式
	Password     string `yaml:"password"`      // Redis访问密码
}

// KafkaConfig 定义Kafka消息队列配置
type KafkaConfig struct {
	Brokers string `yaml:"brokers"` // Kafka broker地址，多个用逗号分隔
	Topic   string `yaml:"topic"`   // 结算事件主题
}

// EtcdConfig 定义Etcd配置
type EtcdConfig struct {
	Host        string `yaml:"host"`         // Etcd服务地址
	DialTimeout int    `yaml:"dial_timeout"` // 连接超时时间（秒）
	Username    string `yaml:"username"`     // 认证用户名
	Password    string `yaml:"password"`     // 认证密码
}

// LockConfig 定义分布式锁配置
type LockConfig struct {
	Backend       string        `yaml:"backend"`        // 锁后端：redis 或 etcd
	Attempts      int           `yaml:"attempts"`       // 最大尝试次数
	RetryInterval time.Duration `yaml:"retry_interval"` // 重试间隔
	TTL           time.Duration `yaml:"ttl"`            // 锁过期时间
}

// CheckoutConfig 定义结算相关配置
type CheckoutConfig struct {
	DefaultShipFee int64         `yaml:"default_ship_fee"` // 每个卖家的固定运费
	SnapshotTTL    time.Duration `yaml:"snapshot_ttl"`     // 结算快照有效期
}

// LogConfig 定义日志配置
type LogConfig struct {
	Level string `yaml:"level"` // 日志级别：debug、info、warn、error
}

// Config 聚合所有配置项
type Config struct {
	Server   ServerConfig   `yaml:"server"`   // 服务器配置
	Database MysqlConfig    `yaml:"database"` // MySQL数据库配置
	Redis    RedisConfig    `yaml:"redis"`    // Redis配置
	Kafka    KafkaConfig    `yaml:"kafka"`    // Kafka配置
	Etcd     EtcdConfig     `yaml:"etcd"`     // Etcd配置
	Lock     LockConfig     `yaml:"lock"`     // 分布式锁配置
	Checkout CheckoutConfig `yaml:"checkout"` // 结算配置
	Log      LogConfig      `yaml:"log"`      // 日志配置
}

// 锁后端常量
const (
	LockBackendRedis = "redis"
	LockBackendEtcd  = "etcd"
)

// GetRedisClusterNodes 将Redis节点字符串转换为切片，忽略空白项
func (rc *RedisConfig) GetRedisClusterNodes() []string {
	return splitList(rc.ClusterNodes)
}

// GetKafkaBrokers 将Kafka broker地址字符串转换为切片，忽略空白项
func (kc *KafkaConfig) GetKafkaBrokers() []string {
	return splitList(kc.Brokers)
}

// GetEtcdEndpoints 获取Etcd服务端点（返回切片形式）
func (ec *EtcdConfig) GetEtcdEndpoints() []string {
	return []string{ec.Host}
}

// SlogLevel 将日志级别字符串转换为 slog.Level，无法识别时为 Info
func (lc *LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(lc.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ApplyDefaults 为未设置的锁、结算与日志配置填充默认值
func (cfg *Config) ApplyDefaults() {
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = LockBackendRedis
	}
	if cfg.Lock.Attempts == 0 {
		cfg.Lock.Attempts = 10
	}
	if cfg.Lock.RetryInterval == 0 {
		cfg.Lock.RetryInterval = 50 * time.Millisecond
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 10 * time.Second
	}
	if cfg.Checkout.DefaultShipFee == 0 {
		cfg.Checkout.DefaultShipFee = 30000
	}
	if cfg.Checkout.SnapshotTTL == 0 {
		cfg.Checkout.SnapshotTTL = 30 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Etcd.DialTimeout == 0 {
		cfg.Etcd.DialTimeout = 5
	}
}

// Validate 验证配置完整性
func (cfg *Config) Validate() error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got %d", cfg.Database.Port)
	}
	if cfg.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if cfg.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if len(cfg.Redis.GetRedisClusterNodes()) == 0 {
		return fmt.Errorf("redis cluster nodes are required")
	}

	if len(cfg.Kafka.GetKafkaBrokers()) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	if cfg.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required")
	}

	if cfg.Etcd.Host == "" {
		return fmt.Errorf("etcd host is required")
	}
	if cfg.Etcd.DialTimeout <= 0 {
		return fmt.Errorf("etcd dial timeout must be positive")
	}

	if cfg.Lock.Backend != LockBackendRedis && cfg.Lock.Backend != LockBackendEtcd {
		return fmt.Errorf("lock backend must be %q or %q, got %q", LockBackendRedis, LockBackendEtcd, cfg.Lock.Backend)
	}
	if cfg.Lock.Attempts < 1 {
		return fmt.Errorf("lock attempts must be positive, got %d", cfg.Lock.Attempts)
	}
	if cfg.Lock.RetryInterval < 0 {
		return fmt.Errorf("lock retry interval must not be negative")
	}
	if cfg.Lock.TTL < time.Second {
		return fmt.Errorf("lock ttl must be at least 1s, got %s", cfg.Lock.TTL)
	}

	if cfg.Checkout.DefaultShipFee < 0 {
		return fmt.Errorf("default ship fee must not be negative")
	}
	if cfg.Checkout.SnapshotTTL <= 0 {
		return fmt.Errorf("checkout snapshot ttl must be positive")
	}

	return nil
}

// Parse 解析YAML配置内容，填充默认值后校验
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Load 从指定路径加载YAML配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	slog.Info("Configuration loaded",
		"path", path,
		"server_port", cfg.Server.Port,
		"database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name),
		"redis_nodes", cfg.Redis.ClusterNodes,
		"kafka_brokers", cfg.Kafka.Brokers,
		"kafka_topic", cfg.Kafka.Topic,
		"etcd_host", cfg.Etcd.Host,
		"lock_backend", cfg.Lock.Backend,
	)
	return cfg, nil
}
