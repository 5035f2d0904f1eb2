// Package config содержит логику чтения конфигурации журнала баллов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Допустимые значения BET_CREDIT_POLICY.
const (
	CreditPolicyNet   = "net"
	CreditPolicyFixed = "fixed"
)

// Config содержит параметры конфигурации журнала баллов.
type Config struct {
	RunAddress  string        `env:"RUN_ADDRESS"`
	DatabaseURI string        `env:"DATABASE_URI"`
	JWTSecret   string        `env:"JWT_SECRET"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"720h"`

	AllowOverdraft         bool   `env:"ALLOW_OVERDRAFT" envDefault:"false"`
	IndividualAnalysisCost string `env:"INDIVIDUAL_ANALYSIS_COST" envDefault:"25"`
	GroupAnalysisCost      string `env:"GROUP_ANALYSIS_COST" envDefault:"500"`
	BetCreditPolicy        string `env:"BET_CREDIT_POLICY" envDefault:"net"`
	BetFixedCredit         string `env:"BET_FIXED_CREDIT" envDefault:"0"`

	// VerifyLogo включает сетевую проверку ссылки на логотип бота.
	VerifyLogo bool `env:"VERIFY_LOGO_URL" envDefault:"false"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for signing access tokens")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	switch cfg.BetCreditPolicy {
	case CreditPolicyNet, CreditPolicyFixed:
	default:
		return nil, fmt.Errorf("unknown bet credit policy %q", cfg.BetCreditPolicy)
	}

	return cfg, nil
}
