package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App        App
	Postgres   Postgres
	Redis      Redis
	Engine     Engine
	Notifier   Notifier
	Purchasers Purchasers
	Asynq      Asynq
	Probe      Probe
	Metrics    Metrics
}

type App struct {
	Name      string     `env:"APP_NAME" envDefault:"autobuy" validate:"required"`
	Version   string     `env:"APP_VERSION" envDefault:"dev"`
	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
}

type Asynq struct {
	Concurrency int `env:"ASYNQ_CONCURRENCY" envDefault:"10" validate:"gte=1"`
}

type Probe struct {
	ListenAddress string `env:"PROBE_LISTEN_ADDRESS" envDefault:":8081" validate:"required"`
}

type Metrics struct {
	ListenAddress string `env:"METRICS_LISTEN_ADDRESS" envDefault:":9090" validate:"required"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var config Config

	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("env.Parse: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(config); err != nil {
		return Config{}, fmt.Errorf("validate: %w", err)
	}

	return config, nil
}
