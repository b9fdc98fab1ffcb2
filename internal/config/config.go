// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Quota         QuotaConfig         `yaml:"quota" mapstructure:"quota"`
	Conversion    ConversionConfig    `yaml:"conversion" mapstructure:"conversion"`
	Mail          MailConfig          `yaml:"mail" mapstructure:"mail"`
	Pipeline      PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	// Path 转换端点的挂载路径
	Path         string `yaml:"path" mapstructure:"path"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// 配额账本后端
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// 配额模式
const (
	ModeOptimistic = "optimistic"
	ModeReserve    = "reserve"
)

// QuotaConfig 每日配额配置
type QuotaConfig struct {
	// Backend memory | redis | postgres
	Backend string `yaml:"backend" mapstructure:"backend"`
	// Mode optimistic 为先检查后提交，reserve 为检查时原子预占
	Mode          string `yaml:"mode" mapstructure:"mode"`
	DailyLimit    int64  `yaml:"daily_limit" mapstructure:"daily_limit"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
	// Timezone 决定“今天”的日历日
	Timezone    string `yaml:"timezone" mapstructure:"timezone"`
	DocumentKey string `yaml:"document_key" mapstructure:"document_key"`
}

// ConversionConfig LaTeX 编译服务配置
type ConversionConfig struct {
	BaseURL            string        `yaml:"base_url" mapstructure:"base_url"`
	Compiler           string        `yaml:"compiler" mapstructure:"compiler"`
	DisplayMath        bool          `yaml:"display_math" mapstructure:"display_math"`
	Timeout            time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxArtifactBytes   int64         `yaml:"max_artifact_bytes" mapstructure:"max_artifact_bytes"`
	MaxDiagnosticBytes int           `yaml:"max_diagnostic_bytes" mapstructure:"max_diagnostic_bytes"`
}

// MailConfig SMTP 投递配置，TLSPolicy 取值 mandatory | opportunistic | none
type MailConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	Username        string        `yaml:"username" mapstructure:"username"`
	Password        string        `yaml:"password" mapstructure:"password"`
	FromName        string        `yaml:"from_name" mapstructure:"from_name"`
	OperatorAddress string        `yaml:"operator_address" mapstructure:"operator_address"`
	Subject         string        `yaml:"subject" mapstructure:"subject"`
	Body            string        `yaml:"body" mapstructure:"body"`
	AttachmentName  string        `yaml:"attachment_name" mapstructure:"attachment_name"`
	TLSPolicy       string        `yaml:"tls_policy" mapstructure:"tls_policy"`
	SSL             bool          `yaml:"ssl" mapstructure:"ssl"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	MaxFragmentBytes int            `yaml:"max_fragment_bytes" mapstructure:"max_fragment_bytes"`
	Timeouts         TimeoutsConfig `yaml:"timeouts" mapstructure:"timeouts"`
}

// TimeoutsConfig 各阶段超时，0 表示沿用请求自身的截止时间
type TimeoutsConfig struct {
	Quota      time.Duration `yaml:"quota" mapstructure:"quota"`
	Conversion time.Duration `yaml:"conversion" mapstructure:"conversion"`
	Delivery   time.Duration `yaml:"delivery" mapstructure:"delivery"`
	Commit     time.Duration `yaml:"commit" mapstructure:"commit"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Stream  string `yaml:"stream" mapstructure:"stream"`
	MaxLen  int64  `yaml:"max_len" mapstructure:"max_len"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// RateLimitConfig 按客户端 IP 的限流配置
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Limit   int64         `yaml:"limit" mapstructure:"limit"`
	Window  time.Duration `yaml:"window" mapstructure:"window"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

// UsesRedis 是否需要 Redis 连接
func (c *Config) UsesRedis() bool {
	return c.Quota.Backend == BackendRedis || c.Security.RateLimit.Enabled || c.Messaging.RedisStream.Enabled
}

// UsesPostgres 是否需要 PostgreSQL 连接
func (c *Config) UsesPostgres() bool {
	return c.Quota.Backend == BackendPostgres
}
