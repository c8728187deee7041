// Package config loads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`

	// DatabaseURL selects the Postgres store; the memory store is used when empty.
	DatabaseURL string `env:"DATABASE_URL"`
	DBMigrate   bool   `env:"DB_MIGRATE" envDefault:"true"`
	// RedisURL enables the cross-instance progress broker.
	RedisURL string `env:"REDIS_URL"`

	AMQP struct {
		URL            string        `env:"URL"`
		Queue          string        `env:"QUEUE" envDefault:"optimization_events"`
		PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"10s"`
	} `envPrefix:"AMQP_"`

	Oracle struct {
		URL     string        `env:"URL"`
		RPS     float64       `env:"RPS" envDefault:"0"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
	} `envPrefix:"ORACLE_"`

	// Workers bounds concurrently executing runs.
	Workers     int `env:"WORKERS" envDefault:"4"`
	EvalWorkers int `env:"EVAL_WORKERS" envDefault:"0"`
	QueueSize   int `env:"RUN_QUEUE_SIZE" envDefault:"64"`
	// RunDefaultsFile is a YAML file of search defaults.
	RunDefaultsFile string `env:"RUN_DEFAULTS_FILE"`

	// AuthSecret signs the operator tokens of the admin routes; they are open when empty.
	AuthSecret string `env:"AUTH_HMAC_SECRET"`

	Webhook struct {
		Secret      string `env:"SECRET"`
		MaxAttempts int    `env:"MAX_ATTEMPTS" envDefault:"10"`
	} `envPrefix:"WEBHOOK_"`
}

// Load parses the environment. Only the first of several errors is returned.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		var agg env.AggregateError
		if errors.As(err, &agg) && len(agg.Errors) > 0 {
			return nil, agg.Errors[0]
		}
		return nil, err
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}
