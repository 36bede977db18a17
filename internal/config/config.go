// Package config содержит логику чтения конфигурации сервиса сверки платежей.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/easypay-reconciler/internal/repository"
	"github.com/mmeshcher/easypay-reconciler/internal/validation"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress string `env:"RUN_ADDRESS"`

	Production bool   `env:"EASYPAY_PRODUCTION"`
	Username   string `env:"EASYPAY_USERNAME"`
	Password   string `env:"EASYPAY_PASSWORD"`
	CIN        string `env:"EASYPAY_CIN"`
	Entity     string `env:"EASYPAY_ENTITY"`

	Storage     string `env:"STORAGE"`
	StoragePath string `env:"STORAGE_PATH"`
	DatabaseURI string `env:"DATABASE_URI"`

	PollInterval   time.Duration `env:"POLL_INTERVAL"`
	PollWorkers    int           `env:"POLL_WORKERS"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`

	KafkaBroker   string `env:"KAFKA_BROKER"`
	KafkaTopic    string `env:"KAFKA_TOPIC"`
	RabbitMQURL   string `env:"RABBITMQ_URL"`
	RabbitMQQueue string `env:"RABBITMQ_QUEUE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{
		KafkaTopic:    "easypay.events",
		RabbitMQQueue: "easypay.events",
	}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.BoolVar(&cfg.Production, "production", false, "use the production gateway")
	flag.StringVar(&cfg.Username, "u", "", "gateway username")
	flag.StringVar(&cfg.Password, "p", "", "gateway password")
	flag.StringVar(&cfg.CIN, "c", "", "gateway client identification number")
	flag.StringVar(&cfg.Entity, "e", "", "multibanco entity")
	flag.StringVar(&cfg.Storage, "s", string(repository.KindMemory), "storage backend: memory, bolt or postgres")
	flag.StringVar(&cfg.StoragePath, "f", "easypay.db", "bolt storage file")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.DurationVar(&cfg.PollInterval, "i", 5*time.Second, "pause between reconciliation passes")
	flag.IntVar(&cfg.PollWorkers, "w", 4, "documents reconciled in parallel")
	flag.DurationVar(&cfg.RequestTimeout, "t", 10*time.Second, "gateway request timeout")

	flag.Parse()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.RunAddress == "" {
		c.RunAddress = "localhost:8080"
	}

	switch repository.Kind(c.Storage) {
	case repository.KindMemory:
	case repository.KindBolt:
		if c.StoragePath == "" {
			return errors.New("bolt storage requires a file path")
		}
	case repository.KindPostgres:
		if c.DatabaseURI == "" {
			return errors.New("postgres storage requires DATABASE_URI")
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}

	if c.Entity != "" && !validation.IsValidEntity(c.Entity) {
		return fmt.Errorf("invalid entity %q", c.Entity)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.PollWorkers <= 0 {
		return fmt.Errorf("poll workers must be positive, got %d", c.PollWorkers)
	}

	return nil
}
