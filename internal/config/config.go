package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full steward configuration, loaded from steward.yaml
// and STEWARD_* environment variables.
type Config struct {
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	NATS struct {
		URL    string `mapstructure:"url"`
		Stream string `mapstructure:"stream"`
	} `mapstructure:"nats"`

	Governance struct {
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"governance"`

	Engine struct {
		MaxConcurrentSteps int           `mapstructure:"max_concurrent_steps"`
		DefaultStepTimeout time.Duration `mapstructure:"default_step_timeout"`
		Retry              struct {
			MaxAttempts int           `mapstructure:"max_attempts"`
			BaseDelay   time.Duration `mapstructure:"base_delay"`
			MaxDelay    time.Duration `mapstructure:"max_delay"`
		} `mapstructure:"retry"`
	} `mapstructure:"engine"`

	Workflows struct {
		Dir   string `mapstructure:"dir"`
		Watch bool   `mapstructure:"watch"`
	} `mapstructure:"workflows"`

	Server struct {
		Addr        string `mapstructure:"addr"`
		MetricsAddr string `mapstructure:"metrics_addr"`
	} `mapstructure:"server"`

	Telemetry struct {
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"telemetry"`
}

// Load reads steward.yaml from the given path (or the working directory
// when empty) and overlays STEWARD_* environment variables. A missing
// config file is fine; defaults and the environment cover everything.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("steward")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/steward")
	}
	v.SetEnvPrefix("STEWARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.stream", "STEWARD")
	v.SetDefault("governance.cache_ttl", 5*time.Minute)
	v.SetDefault("engine.max_concurrent_steps", 5)
	v.SetDefault("engine.default_step_timeout", 30*time.Second)
	v.SetDefault("engine.retry.max_attempts", 3)
	v.SetDefault("engine.retry.base_delay", 500*time.Millisecond)
	v.SetDefault("engine.retry.max_delay", 30*time.Second)
	v.SetDefault("workflows.dir", "workflows")
	v.SetDefault("workflows.watch", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
}
