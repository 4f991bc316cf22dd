package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config is loaded from the environment. Redis and Kafka are optional:
// leaving REDIS_ADDR empty disables the duplicate-request guard, leaving
// KAFKA_BROKERS empty disables the change-event mirror.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	MySQLDSN string `env:"MYSQL_DSN" envDefault:"root:root@tcp(localhost:3306)/stockledger?parseTime=true"`

	RedisAddr    string   `env:"REDIS_ADDR"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"stock.changed"`

	// RetainedEvents bounds the notifier's replay buffer.
	RetainedEvents int `env:"RETAINED_EVENTS" envDefault:"256"`
	// SubscriberQueueSize bounds each subscriber's outbound queue.
	SubscriberQueueSize int `env:"SUBSCRIBER_QUEUE_SIZE" envDefault:"256"`

	LeaseAbandonAfter time.Duration `env:"LEASE_ABANDON_AFTER" envDefault:"10s"`
	MutationTimeout   time.Duration `env:"MUTATION_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.MySQLDSN == "" {
		return fmt.Errorf("MYSQL_DSN is required")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.RetainedEvents <= 0 {
		return fmt.Errorf("RETAINED_EVENTS must be positive")
	}
	if c.SubscriberQueueSize <= 0 {
		return fmt.Errorf("SUBSCRIBER_QUEUE_SIZE must be positive")
	}
	if c.LeaseAbandonAfter <= 0 {
		return fmt.Errorf("LEASE_ABANDON_AFTER must be positive")
	}
	if c.MutationTimeout <= 0 {
		return fmt.Errorf("MUTATION_TIMEOUT must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}
