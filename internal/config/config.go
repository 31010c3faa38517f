package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 环境变量名
const (
	EnvConfigPath = "QUARRY_CONFIG"
	EnvPort       = "PORT"
	EnvPassword   = "PASSWORD"
	EnvIPLock     = "IP_LOCK"
	EnvLogLevel   = "LOG_LEVEL"
)

// DefaultPath 是未指定配置文件时尝试读取的位置。
const DefaultPath = "configs/quarry.yaml"

// Config 描述了 quarryd 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Alerting AlertingConfig `yaml:"alerting"`
}

// ServerConfig 控制 HTTP 服务。
type ServerConfig struct {
	Address                  string   `yaml:"address"`
	CORSOrigins              []string `yaml:"cors_origins"`
	ReadHeaderTimeoutSeconds int      `yaml:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int      `yaml:"shutdown_timeout_seconds"`
}

// AuthConfig 控制口令与 IP 锁。
type AuthConfig struct {
	Token string `yaml:"token"`
	// IPLock 为指针以区分未填写与显式关闭。
	IPLock            *bool `yaml:"ip_lock"`
	TrustForwardedFor *bool `yaml:"trust_forwarded_for"`
}

// IPLockEnabled 返回 IP 锁是否开启，未配置时默认开启。
func (a AuthConfig) IPLockEnabled() bool {
	return a.IPLock == nil || *a.IPLock
}

// TrustForwarded 返回是否信任 X-Forwarded-For，未配置时默认信任。
func (a AuthConfig) TrustForwarded() bool {
	return a.TrustForwardedFor == nil || *a.TrustForwardedFor
}

// StorageConfig 描述快照持久化。
type StorageConfig struct {
	Driver                 string      `yaml:"driver"`
	Path                   string      `yaml:"path"`
	DSN                    string      `yaml:"dsn"`
	Redis                  RedisConfig `yaml:"redis"`
	MaxOpenConns           int         `yaml:"max_open_conns"`
	MaxIdleConns           int         `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int         `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int         `yaml:"conn_max_idle_time_seconds"`
	FlushTimeoutSeconds    int         `yaml:"flush_timeout_seconds"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	Channel  string `yaml:"channel"`
}

// EventsConfig 描述事件发布。
type EventsConfig struct {
	Driver                string         `yaml:"driver"`
	Buffer                int            `yaml:"buffer"`
	PublishTimeoutSeconds int            `yaml:"publish_timeout_seconds"`
	Redis                 RedisConfig    `yaml:"redis"`
	RabbitMQ              RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Durable  bool   `yaml:"durable"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsEnabled 返回是否暴露指标，未配置时默认开启。
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// AlertingConfig 控制持久化失败告警。
type AlertingConfig struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	WebhookURL       string `yaml:"webhook_url"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// Load 读取 .env、配置文件和环境变量。path 为空时依次尝试 QUARRY_CONFIG 与 DefaultPath，
// 默认路径不存在时使用纯默认值。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}

	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	var cfg Config
	baseDir := "."
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults(baseDir)
	return &cfg, nil
}

// applyEnv 使用与旧版服务兼容的环境变量覆盖配置。
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if port, ok := lookup(EnvPort); ok && strings.TrimSpace(port) != "" {
		if _, err := strconv.Atoi(strings.TrimSpace(port)); err != nil {
			return fmt.Errorf("PORT 必须是数字: %q", port)
		}
		c.Server.Address = ":" + strings.TrimSpace(port)
	}
	if password, ok := lookup(EnvPassword); ok {
		c.Auth.Token = password
	}
	if raw, ok := lookup(EnvIPLock); ok && strings.TrimSpace(raw) != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("IP_LOCK 必须是布尔值: %q", raw)
		}
		c.Auth.IPLock = &enabled
	}
	if level, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(level) != "" {
		c.Logging.Level = strings.TrimSpace(level)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		c.Server.ReadHeaderTimeoutSeconds = 10
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	switch c.Storage.Driver {
	case "file":
		c.Storage.Path = resolvePath(baseDir, c.Storage.Path, "data.json")
	case "sqlite":
		c.Storage.Path = resolvePath(baseDir, c.Storage.Path, "quarry.db")
	}
	if c.Storage.Redis.Key == "" {
		c.Storage.Redis.Key = "quarry:swarms"
	}
	if c.Storage.FlushTimeoutSeconds <= 0 {
		c.Storage.FlushTimeoutSeconds = 10
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "log"
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 256
	}
	if c.Events.PublishTimeoutSeconds <= 0 {
		c.Events.PublishTimeoutSeconds = 5
	}
	if c.Events.Redis.Channel == "" {
		c.Events.Redis.Channel = "quarry:events"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "quarry.events"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Alerting.FailureThreshold <= 0 {
		c.Alerting.FailureThreshold = 3
	}
	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}
}

// ReadHeaderTimeout 返回请求头读取超时。
func (s ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(s.ReadHeaderTimeoutSeconds) * time.Second
}

// ShutdownTimeout 返回优雅关闭的最长等待时间。
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// FlushTimeout 返回单次快照写入的超时。
func (s StorageConfig) FlushTimeout() time.Duration {
	return time.Duration(s.FlushTimeoutSeconds) * time.Second
}

func resolvePath(baseDir, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
