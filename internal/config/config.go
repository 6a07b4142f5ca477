package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dujiao-next/cart-core/internal/constants"
	"github.com/dujiao-next/cart-core/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Cart     CartConfig     `mapstructure:"cart"`
	Checkout CheckoutConfig `mapstructure:"checkout"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// CartConfig 购物车与库存预占配置
type CartConfig struct {
	ReservationTTLMinutes int    `mapstructure:"reservation_ttl_minutes"`
	ReservationTTLBasis   string `mapstructure:"reservation_ttl_basis"` // created / activity
	SweepIntervalSeconds  int    `mapstructure:"sweep_interval_seconds"`
	MergeMaxAttempts      int    `mapstructure:"merge_max_attempts"`
	MergeRetryBackoffMS   int    `mapstructure:"merge_retry_backoff_ms"`
	LockTimeoutMS         int    `mapstructure:"lock_timeout_ms"` // 行锁等待上限（postgres），0 表示不限制
	Currency              string `mapstructure:"currency"`
}

// ReservationTTL 预占有效期
func (c CartConfig) ReservationTTL() time.Duration {
	if c.ReservationTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(c.ReservationTTLMinutes) * time.Minute
}

// SweepInterval 过期扫描间隔
func (c CartConfig) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// MergeRetryBackoff 合并重试退避
func (c CartConfig) MergeRetryBackoff() time.Duration {
	if c.MergeRetryBackoffMS <= 0 {
		return 0
	}
	return time.Duration(c.MergeRetryBackoffMS) * time.Millisecond
}

// LockTimeout 行锁等待上限
func (c CartConfig) LockTimeout() time.Duration {
	if c.LockTimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

// CheckoutConfig 结算向导配置
type CheckoutConfig struct {
	SessionTTLMinutes int    `mapstructure:"session_ttl_minutes"`
	SessionKeyPrefix  string `mapstructure:"session_key_prefix"`
}

// SessionTTL 结算会话有效期
func (c CheckoutConfig) SessionTTL() time.Duration {
	if c.SessionTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// Load 从 config.yml 加载配置
func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")     // 从当前目录查找
	v.AddConfigPath("../")   // 如果从 cmd/cartd 运行
	v.AddConfigPath("./etc") // etc 文件夹

	SetDefaults(v)

	// 环境变量支持（cart.merge_max_attempts -> CART_MERGE_MAX_ATTEMPTS）
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	cfg, err := Decode(v)
	if err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return cfg
}

// Decode 解析并归一化配置
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

// SetDefaults 设置默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "cartd.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/cart.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", constants.RedisPrefixDefault)
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.queues", map[string]int{
		constants.QueueDefault:  3,
		constants.QueueCritical: 6,
	})
	v.SetDefault("cart.reservation_ttl_minutes", 60)
	v.SetDefault("cart.reservation_ttl_basis", constants.ReservationTTLBasisActivity)
	v.SetDefault("cart.sweep_interval_seconds", 60)
	v.SetDefault("cart.merge_max_attempts", 3)
	v.SetDefault("cart.merge_retry_backoff_ms", 50)
	v.SetDefault("cart.lock_timeout_ms", 3000)
	v.SetDefault("cart.currency", constants.SiteCurrencyDefault)
	v.SetDefault("checkout.session_ttl_minutes", 30)
	v.SetDefault("checkout.session_key_prefix", constants.CheckoutSessionPrefixDefault)
}

func (c *Config) normalize() {
	basis := strings.ToLower(strings.TrimSpace(c.Cart.ReservationTTLBasis))
	if basis != constants.ReservationTTLBasisCreated {
		basis = constants.ReservationTTLBasisActivity
	}
	c.Cart.ReservationTTLBasis = basis
	if c.Cart.MergeMaxAttempts <= 0 {
		c.Cart.MergeMaxAttempts = 1
	}
	if strings.TrimSpace(c.Cart.Currency) == "" {
		c.Cart.Currency = constants.SiteCurrencyDefault
	}
	if strings.TrimSpace(c.Checkout.SessionKeyPrefix) == "" {
		c.Checkout.SessionKeyPrefix = constants.CheckoutSessionPrefixDefault
	}
}
