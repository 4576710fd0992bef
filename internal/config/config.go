package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Pairing payloads default to a 5 minute window; the QR code is
	// useless after that.
	PairingTTLSeconds int `env:"PAIRING_TTL_SECONDS" envDefault:"300"`

	// Web session defaults; individual authorizations may override both.
	SessionTTLSeconds     int `env:"SESSION_TTL_SECONDS" envDefault:"86400"`
	SessionMaxIdleSeconds int `env:"SESSION_MAX_IDLE_SECONDS" envDefault:"1800"`

	// Runs with no heartbeat for this long are swept to ended.
	RunStaleSeconds int `env:"RUN_STALE_SECONDS" envDefault:"300"`
}

func (c *Config) PairingTTL() time.Duration {
	return time.Duration(c.PairingTTLSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) SessionMaxIdle() time.Duration {
	return time.Duration(c.SessionMaxIdleSeconds) * time.Second
}

func (c *Config) RunStaleThreshold() time.Duration {
	return time.Duration(c.RunStaleSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.PairingTTLSeconds <= 0 || c.PairingTTLSeconds > MaxPairingTTLSeconds {
		return fmt.Errorf("PAIRING_TTL_SECONDS must be between 1 and %d", MaxPairingTTLSeconds)
	}
	if c.SessionMaxIdleSeconds > c.SessionTTLSeconds {
		return fmt.Errorf("SESSION_MAX_IDLE_SECONDS must not exceed SESSION_TTL_SECONDS")
	}

	if isProduction {
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if !strings.Contains(c.DatabaseURL, "sslmode=require") {
			log.Warn().Msg("DATABASE_URL does not require TLS in production")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
