package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseWith сбрасывает глобальный FlagSet и разбирает конфигурацию с заданными
// переменными окружения и аргументами.
func parseWith(t *testing.T, envs map[string]string, args ...string) (*Config, error) {
	t.Helper()
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	for k, v := range envs {
		t.Setenv(k, v)
	}
	os.Args = append([]string{"pointsledger"}, args...)
	return Parse()
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		envs   map[string]string
		args   []string
		verify func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults keep memory store and net credit",
			verify: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "localhost:8080", cfg.RunAddress)
				assert.Empty(t, cfg.DatabaseURI)
				assert.Empty(t, cfg.JWTSecret)
				assert.Equal(t, 720*time.Hour, cfg.TokenTTL)
				assert.False(t, cfg.AllowOverdraft)
				assert.False(t, cfg.VerifyLogo)
				assert.Equal(t, "25", cfg.IndividualAnalysisCost)
				assert.Equal(t, "500", cfg.GroupAnalysisCost)
				assert.Equal(t, CreditPolicyNet, cfg.BetCreditPolicy)
			},
		},
		{
			name: "flags select database and secret",
			args: []string{"-a", ":7777", "-d", "postgres://ledger@localhost/points", "-s", "flag-secret"},
			verify: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":7777", cfg.RunAddress)
				assert.Equal(t, "postgres://ledger@localhost/points", cfg.DatabaseURI)
				assert.Equal(t, "flag-secret", cfg.JWTSecret)
			},
		},
		{
			name: "environment wins over flags",
			envs: map[string]string{
				"RUN_ADDRESS":  ":9000",
				"DATABASE_URI": "postgres://env@localhost/points",
				"JWT_SECRET":   "env-secret",
			},
			args: []string{"-a", ":8000", "-d", "postgres://flag@localhost/points", "-s", "flag-secret"},
			verify: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":9000", cfg.RunAddress)
				assert.Equal(t, "postgres://env@localhost/points", cfg.DatabaseURI)
				assert.Equal(t, "env-secret", cfg.JWTSecret)
			},
		},
		{
			name: "ledger policy from environment",
			envs: map[string]string{
				"ALLOW_OVERDRAFT":          "true",
				"BET_CREDIT_POLICY":        "fixed",
				"BET_FIXED_CREDIT":         "5.50",
				"INDIVIDUAL_ANALYSIS_COST": "30",
				"GROUP_ANALYSIS_COST":      "450.25",
				"TOKEN_TTL":                "1h",
				"VERIFY_LOGO_URL":          "true",
			},
			verify: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.AllowOverdraft)
				assert.True(t, cfg.VerifyLogo)
				assert.Equal(t, CreditPolicyFixed, cfg.BetCreditPolicy)
				assert.Equal(t, "5.50", cfg.BetFixedCredit)
				assert.Equal(t, "30", cfg.IndividualAnalysisCost)
				assert.Equal(t, "450.25", cfg.GroupAnalysisCost)
				assert.Equal(t, time.Hour, cfg.TokenTTL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseWith(t, tt.envs, tt.args...)
			require.NoError(t, err)
			tt.verify(t, cfg)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		envs map[string]string
	}{
		{name: "unknown credit policy", envs: map[string]string{"BET_CREDIT_POLICY": "double"}},
		{name: "bad overdraft flag", envs: map[string]string{"ALLOW_OVERDRAFT": "maybe"}},
		{name: "bad token ttl", envs: map[string]string{"TOKEN_TTL": "forever"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseWith(t, tt.envs)
			assert.Error(t, err)
		})
	}
}
