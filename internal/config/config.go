package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTP     `yaml:"http"`
	Postgres Postgres `yaml:"postgres"`
	Kafka    Kafka    `yaml:"kafka"`
	Outbox   Outbox   `yaml:"outbox"`
	Logger   Logger   `yaml:"logger"`
	Tracing  Tracing  `yaml:"tracing"`
}

type HTTP struct {
	Port        string        `yaml:"port" env:"HTTP_PORT" env-default:":8080"`
	ReadTimeout time.Duration `yaml:"read_timeout" env-default:"5s"`
}

type Postgres struct {
	URL      string `yaml:"url" env:"DB_URL"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
	MinConns int32  `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
}

type Kafka struct {
	Brokers         []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	WithdrawalTopic string   `yaml:"withdrawal_topic" env:"WITHDRAWAL_TOPIC" env-default:"withdrawal_events"`
}

// Outbox controls the dispatcher cycle: how often it polls, how many
// entries it claims per cycle, how long a claim lease lasts, and the
// retry schedule before an entry is parked as FAILED_PERMANENT.
type Outbox struct {
	Interval    time.Duration `yaml:"interval" env:"OUTBOX_INTERVAL" env-default:"500ms"`
	BatchSize   int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE" env-default:"50"`
	ClaimLease  time.Duration `yaml:"claim_lease" env:"OUTBOX_CLAIM_LEASE" env-default:"30s"`
	MaxAttempts int           `yaml:"max_attempts" env:"OUTBOX_MAX_ATTEMPTS" env-default:"10"`
	BaseBackoff time.Duration `yaml:"base_backoff" env:"OUTBOX_BASE_BACKOFF" env-default:"1s"`
	MaxBackoff  time.Duration `yaml:"max_backoff" env:"OUTBOX_MAX_BACKOFF" env-default:"5m"`
}

type Logger struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Env   string `yaml:"env" env:"LOG_ENV" env-default:"dev"`
}

type Tracing struct {
	Endpoint string `yaml:"endpoint" env:"OTLP_ENDPOINT" env-default:"localhost:4318"`
}

func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/local.yaml"
	}

	var cfg Config

	if _, err := os.Stat(configPath); err == nil {
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", configPath, err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("error reading config from env: %w", err)
	}

	return &cfg, nil
}
