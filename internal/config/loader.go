// Package config 提供配置加载功能
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var placeholder = regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)

// Load 从 configs 目录加载配置
func Load() (*Config, error) {
	return LoadFrom("configs")
}

// LoadFrom 从指定目录加载配置
// 按优先级加载：默认配置 -> 环境配置 -> 环境变量
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := loadConfigFile(v, filepath.Join(dir, "config.yaml"), false); err != nil {
		return nil, err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := loadConfigFile(v, filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env)), true); err != nil {
		return nil, err
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadConfigFile 读取文件，执行环境变量替换，并加载到 viper
func loadConfigFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	reader := strings.NewReader(expandEnv(string(content)))
	if v.ConfigFileUsed() == "" {
		if err := v.ReadConfig(reader); err != nil {
			return fmt.Errorf("failed to read processed config %s: %w", path, err)
		}
		v.SetConfigFile(path)
	} else {
		if err := v.MergeConfig(reader); err != nil {
			return fmt.Errorf("failed to merge processed config %s: %w", path, err)
		}
	}

	return nil
}

// expandEnv 替换字符串中的 ${VAR:default} 占位符，未定义且无默认值的变量原样保留
func expandEnv(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		submatch := placeholder.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(submatch[1]); ok {
			return val
		}
		if submatch[2] != "" {
			return submatch[3]
		}
		return match
	})
}

// MustLoad 加载配置，失败时 panic
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 校验配置的一致性
func (c *Config) Validate() error {
	var errs []error

	switch c.Quota.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("quota.backend: unsupported backend %q", c.Quota.Backend))
	}
	switch c.Quota.Mode {
	case ModeOptimistic, ModeReserve:
	default:
		errs = append(errs, fmt.Errorf("quota.mode: unsupported mode %q", c.Quota.Mode))
	}
	if c.Quota.DailyLimit <= 0 {
		errs = append(errs, errors.New("quota.daily_limit: must be positive"))
	}
	if c.Quota.RetentionDays <= 0 {
		errs = append(errs, errors.New("quota.retention_days: must be positive"))
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("quota.timezone: %w", err))
	}
	if c.Conversion.BaseURL == "" {
		errs = append(errs, errors.New("conversion.base_url: required"))
	}
	if c.Mail.Username != "" {
		if _, err := mail.ParseAddress(c.Mail.Username); err != nil {
			errs = append(errs, fmt.Errorf("mail.username: %w", err))
		}
	}
	if c.Mail.OperatorAddress != "" {
		if _, err := mail.ParseAddress(c.Mail.OperatorAddress); err != nil {
			errs = append(errs, fmt.Errorf("mail.operator_address: %w", err))
		}
	}
	if !strings.HasPrefix(c.Server.HTTP.Path, "/") {
		errs = append(errs, fmt.Errorf("server.http.path: must start with '/', got %q", c.Server.HTTP.Path))
	}

	return errors.Join(errs...)
}

// Location 返回配额使用的时区
func (q QuotaConfig) Location() *time.Location {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "latexbot-api")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	// HTTP 服务器默认值
	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", "30s")
	v.SetDefault("server.http.write_timeout", "120s")
	v.SetDefault("server.http.idle_timeout", "120s")
	v.SetDefault("server.http.path", "/latexbot")
	v.SetDefault("server.http.max_body_bytes", 1<<20)

	// 数据库默认值
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.database", "latexbot")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 10)
	v.SetDefault("database.postgres.max_idle_conns", 2)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.conn_max_idle_time", "5m")

	// Redis 默认值
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.min_idle_conns", 1)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")

	// 配额默认值
	v.SetDefault("quota.backend", BackendMemory)
	v.SetDefault("quota.mode", ModeReserve)
	v.SetDefault("quota.daily_limit", 150)
	v.SetDefault("quota.retention_days", 7)
	v.SetDefault("quota.timezone", "UTC")
	v.SetDefault("quota.document_key", "latexbot:quota:ledger")

	// 编译服务默认值
	v.SetDefault("conversion.base_url", "https://latex.ytotech.com")
	v.SetDefault("conversion.compiler", "pdflatex")
	v.SetDefault("conversion.display_math", true)
	v.SetDefault("conversion.timeout", "0s")
	v.SetDefault("conversion.max_artifact_bytes", 20<<20)
	v.SetDefault("conversion.max_diagnostic_bytes", 2048)

	// 邮件默认值
	v.SetDefault("mail.host", "smtp.gmail.com")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from_name", "LaTeX Bot")
	v.SetDefault("mail.subject", "Your PDF is here!")
	v.SetDefault("mail.body", "Attached is your generated LaTeX PDF.")
	v.SetDefault("mail.attachment_name", "output.pdf")
	v.SetDefault("mail.tls_policy", "mandatory")
	v.SetDefault("mail.timeout", "30s")

	// 流水线默认值
	v.SetDefault("pipeline.max_fragment_bytes", 64<<10)

	// 消息默认值
	v.SetDefault("messaging.redis_stream.enabled", false)
	v.SetDefault("messaging.redis_stream.stream", "latexbot:outcomes")
	v.SetDefault("messaging.redis_stream.max_len", 10000)

	// 可观测性默认值
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")

	// 安全默认值
	v.SetDefault("security.rate_limit.enabled", false)
	v.SetDefault("security.rate_limit.limit", 20)
	v.SetDefault("security.rate_limit.window", "1m")
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"POST", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"Content-Type"})
}
