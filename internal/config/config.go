package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/approval-workflow/pkg/database"
)

// EnvPrefix prefixes every environment override, e.g. APPROVAL_SERVER_PORT
const EnvPrefix = "APPROVAL"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Roles    RolesConfig    `mapstructure:"roles"`
	Lark     LarkConfig     `mapstructure:"lark"`
	Overdue  OverdueConfig  `mapstructure:"overdue"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Reports  ReportsConfig  `mapstructure:"reports"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration. Path is used by sqlite when DSN is empty.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// EngineConfig tunes workflow behaviour
type EngineConfig struct {
	StatsPolicy       string `mapstructure:"stats_policy"`
	SkipOptionalSteps bool   `mapstructure:"skip_optional_steps"`
}

// RolesConfig maps approver roles to user ids. When Redis.Addr is set the
// role sets are read from redis and Static serves as the fallback.
type RolesConfig struct {
	Static map[string][]string `mapstructure:"static"`
	Redis  RedisConfig         `mapstructure:"redis"`
}

// RedisConfig locates the role directory in redis
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
}

// OverdueConfig schedules the overdue reporter. An empty schedule disables it.
type OverdueConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// RulesConfig points at an optional YAML rule seed imported on startup
type RulesConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// ReportsConfig holds where exported reports are written
type ReportsConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads configuration from configPath (optional) and the environment.
// A .env file in the working directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.path", "data/approval.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("engine.stats_policy", "assigned")
	v.SetDefault("engine.skip_optional_steps", false)

	v.SetDefault("roles.redis.addr", "")
	v.SetDefault("roles.redis.password", "")
	v.SetDefault("roles.redis.db", 0)
	v.SetDefault("roles.redis.key_prefix", "approval:role:")
	v.SetDefault("roles.redis.cache_ttl", time.Minute)

	v.SetDefault("lark.enabled", false)
	v.SetDefault("lark.app_id", "")
	v.SetDefault("lark.app_secret", "")
	v.SetDefault("lark.receive_id_type", "open_id")

	v.SetDefault("overdue.schedule", "*/15 * * * *")
	v.SetDefault("rules.seed_file", "")
	v.SetDefault("reports.dir", "reports")
}

// bindEnvVars accepts the unprefixed names credentials are usually deployed under
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("lark.app_id", EnvPrefix+"_LARK_APP_ID", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", EnvPrefix+"_LARK_APP_SECRET", "LARK_APP_SECRET")
	_ = v.BindEnv("database.dsn", EnvPrefix+"_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("roles.redis.addr", EnvPrefix+"_ROLES_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("roles.redis.password", EnvPrefix+"_ROLES_REDIS_PASSWORD", "REDIS_PASSWORD")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	dialect, err := database.ParseDialect(c.Database.Driver)
	if err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}
	if dialect == database.DialectSQLite {
		if c.Database.DSN == "" && c.Database.Path == "" {
			return fmt.Errorf("database.path or database.dsn is required for sqlite")
		}
	} else if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for %s", dialect)
	}

	switch c.Engine.StatsPolicy {
	case "assigned", "broadcast":
	default:
		return fmt.Errorf("engine.stats_policy must be assigned or broadcast, got %q", c.Engine.StatsPolicy)
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required when lark is enabled")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required when lark is enabled")
		}
	}

	if c.Roles.Redis.Addr != "" && c.Roles.Redis.CacheTTL < 0 {
		return fmt.Errorf("roles.redis.cache_ttl must not be negative")
	}

	return nil
}
