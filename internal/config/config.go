// Package config содержит логику чтения конфигурации сервиса PiggyBag.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса PiggyBag.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisURL    string `env:"REDIS_URL"`

	// SignerAddress адрес удалённого сервиса подписи. Имеет приоритет над собственным ключом.
	SignerAddress      string `env:"SIGNER_ADDRESS"`
	ChainRPCURL        string `env:"CHAIN_RPC_URL"`
	ChainPrivateKey    string `env:"CHAIN_PRIVATE_KEY"`
	ChainConfirmations uint64 `env:"CHAIN_CONFIRMATIONS"`

	AuthSecret string        `env:"AUTH_SECRET"`
	LeaseTTL   time.Duration `env:"DISTRIBUTION_LEASE_TTL"`

	LogLevel string `env:"LOG_LEVEL"`
	LogFile  string `env:"LOG_FILE"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		ChainConfirmations: 1,
		LeaseTTL:           5 * time.Minute,
	}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisURL, "r", "", "redis URL for distribution leases and events")
	flag.StringVar(&cfg.SignerAddress, "s", "", "remote payment signer address")
	flag.StringVar(&cfg.ChainRPCURL, "c", "", "chain RPC URL")
	flag.StringVar(&cfg.AuthSecret, "k", "", "wallet gateway shared secret")
	flag.StringVar(&cfg.LogLevel, "l", "info", "log level")

	flag.Parse()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.ChainConfirmations == 0 {
		cfg.ChainConfirmations = 1
	}
	if cfg.LeaseTTL <= 0 {
		return nil, fmt.Errorf("distribution lease ttl must be positive, got %s", cfg.LeaseTTL)
	}

	return cfg, nil
}
