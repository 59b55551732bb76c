package config

import (
	"errors"
	"fmt"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"io/fs"
	"time"
)

type Env string

const (
	EnvProd Env = "prod"
	EnvDev  Env = "dev"
)

func (e Env) IsValid() bool {
	switch e {
	case EnvProd, EnvDev:
		return true
	}
	return false
}

// MinSendBuffer is the smallest per-client queue accepted. A join or leave
// queues two frames on every client, so the queue must absorb several of them
// while the writer catches up.
const MinSendBuffer = 8

type Config struct {
	APIServerHost             string        `env:"API_SERVER_HOST"`
	APIServerPort             string        `env:"API_SERVER_PORT" envDefault:"8080"`
	AllowedOrigins            []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	RedisHost                 string        `env:"REDIS_HOST"`
	RedisPort                 string        `env:"REDIS_PORT" envDefault:"6379"`
	RedisAnnouncementsChannel string        `env:"REDIS_ANNOUNCEMENTS_CHANNEL" envDefault:"chat:announcements"`
	PresenceTTL               time.Duration `env:"PRESENCE_TTL" envDefault:"30m"`
	WriteTimeout              time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	PingPeriod                time.Duration `env:"PING_PERIOD" envDefault:"54s"`
	SendBuffer                int           `env:"SEND_BUFFER" envDefault:"16"`
	MaxMessageLength          int           `env:"MAX_MESSAGE_LENGTH" envDefault:"2000"`
	ReadLimit                 int64         `env:"READ_LIMIT" envDefault:"32768"`
	CensoredWords             []string      `env:"CENSORED_WORDS" envSeparator:","`
	Env                       Env           `env:"ENV" envDefault:"prod"`
}

// RedisEnabled reports whether the presence cache and announcement
// subscriber should be started.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// New loads an optional .env file then parses the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.Env.IsValid() {
		return nil, fmt.Errorf("invalid env variable (must be 'prod' or 'dev')")
	}
	if cfg.SendBuffer < MinSendBuffer {
		return nil, fmt.Errorf("invalid SEND_BUFFER %d (must be at least %d)", cfg.SendBuffer, MinSendBuffer)
	}
	if cfg.WriteTimeout <= 0 || cfg.PingPeriod <= 0 {
		return nil, fmt.Errorf("WRITE_TIMEOUT and PING_PERIOD must be positive")
	}
	return &cfg, nil
}
