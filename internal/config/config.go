// Package config содержит логику чтения конфигурации сервиса лояльности.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса лояльности.
type Config struct {
	RunAddress           string `env:"RUN_ADDRESS"`
	DatabaseURI          string `env:"DATABASE_URI"`
	AuthServiceAddress   string `env:"AUTH_SERVICE_ADDRESS"`
	RedeemServiceAddress string `env:"REDEEM_SERVICE_ADDRESS"`
	SessionSecret        string `env:"SESSION_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthAddress := cfg.AuthServiceAddress
	envRedeemAddress := cfg.RedeemServiceAddress
	envSessionSecret := cfg.SessionSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthServiceAddress, "auth", "", "auth provider address")
	flag.StringVar(&cfg.RedeemServiceAddress, "r", "", "redemption service address")
	flag.StringVar(&cfg.SessionSecret, "s", "", "session signing secret")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthAddress != "" {
		cfg.AuthServiceAddress = envAuthAddress
	}
	if envRedeemAddress != "" {
		cfg.RedeemServiceAddress = envRedeemAddress
	}
	if envSessionSecret != "" {
		cfg.SessionSecret = envSessionSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}

// MissingCollaborators возвращает список незаданных адресов внешних систем.
// Их отсутствие не останавливает запуск: соответствующие запросы будут завершаться ошибкой.
func (c *Config) MissingCollaborators() []string {
	var missing []string
	if c.DatabaseURI == "" {
		missing = append(missing, "DATABASE_URI")
	}
	if c.AuthServiceAddress == "" {
		missing = append(missing, "AUTH_SERVICE_ADDRESS")
	}
	if c.RedeemServiceAddress == "" {
		missing = append(missing, "REDEEM_SERVICE_ADDRESS")
	}
	return missing
}
