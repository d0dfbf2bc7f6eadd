// Package config loads process configuration from environment variables and
// an optional config file, following the same viper pattern the teacher's
// demo backend uses in its initConfig.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// RequiredEnvVars lists the environment variables that must be present and
// well-formed for the process to start in enforce mode.
var RequiredEnvVars = []string{
	"AGENTHUB_API_KEYS_JSON",
	"AGENTHUB_AUTH_TOKEN_SECRET",
	"AGENTHUB_IDENTITY_SIGNING_SECRET",
	"AGENTHUB_PROVENANCE_SIGNING_SECRET",
	"AGENTHUB_POLICY_SIGNING_SECRET",
	"AGENTHUB_FEDERATION_DOMAIN_TOKENS_JSON",
}

// JSONRequiredEnvVars is the subset of RequiredEnvVars whose value must
// parse as JSON, not merely be non-empty. Consulted by the startup
// diagnostics probe.
var JSONRequiredEnvVars = map[string]bool{
	"AGENTHUB_API_KEYS_JSON":                 true,
	"AGENTHUB_FEDERATION_DOMAIN_TOKENS_JSON": true,
}

func lookupEnv(key string) string {
	return os.Getenv(key)
}

// Mode is the process-wide enforcement posture.
type Mode string

const (
	ModeEnforce Mode = "enforce"
	ModeWarn    Mode = "warn"
)

// Load builds a *viper.Viper populated with defaults, optional config file
// contents, and environment variable overrides.
func Load() *viper.Viper {
	config := viper.New()

	config.SetDefault("server.port", 8080)
	config.SetDefault("log.level", "info")
	config.SetDefault("access.enforcement_mode", string(ModeEnforce))
	config.SetDefault("request.timeout_seconds", 30)
	config.SetDefault("cors.origins", "")
	config.SetDefault("rate_limit.default", 100)
	config.SetDefault("identity.db_path", "./data/identity.db")
	config.SetDefault("delegation.db_path", "./data/delegation.db")
	config.SetDefault("idempotency.db_path", "./data/idempotency.db")
	config.SetDefault("lease.db_path", "./data/lease.db")
	config.SetDefault("quota.db_path", "./data/quota.db")
	config.SetDefault("secret.provider", "env")
	config.SetDefault("redis.addr", "")
	config.SetDefault("server.mode", "debug")
	config.SetDefault("budget.seed_balance", 1000.0)
	config.SetDefault("breaker.window_size", 50)
	config.SetDefault("breaker.min_samples", 10)
	config.SetDefault("breaker.slo", "1.5s")
	config.SetDefault("breaker.target_slo", 0.99)

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")
	config.AddConfigPath("./config")

	config.SetEnvPrefix("AGENTHUB")
	config.AutomaticEnv()
	_ = config.BindEnv("access.enforcement_mode", "AGENTHUB_ACCESS_ENFORCEMENT_MODE")
	_ = config.BindEnv("request.timeout_seconds", "AGENTHUB_REQUEST_TIMEOUT_SECONDS")
	_ = config.BindEnv("cors.origins", "AGENTHUB_CORS_ORIGINS")
	_ = config.BindEnv("rate_limit.default", "AGENTHUB_RATE_LIMIT_DEFAULT")
	_ = config.BindEnv("identity.db_path", "AGENTHUB_IDENTITY_DB_PATH")
	_ = config.BindEnv("delegation.db_path", "AGENTHUB_DELEGATION_DB_PATH")
	_ = config.BindEnv("idempotency.db_path", "AGENTHUB_IDEMPOTENCY_DB_PATH")
	_ = config.BindEnv("lease.db_path", "AGENTHUB_LEASE_DB_PATH")
	_ = config.BindEnv("quota.db_path", "AGENTHUB_QUOTA_DB_PATH")
	_ = config.BindEnv("secret.provider", "AGENTHUB_SECRET_PROVIDER")
	_ = config.BindEnv("redis.addr", "AGENTHUB_REDIS_ADDR")

	if err := config.ReadInConfig(); err != nil {
		log.Printf("Warning: could not read config file: %v", err)
	}

	return config
}

// EnforcementMode returns the parsed process-wide mode, defaulting to
// enforce on an unrecognized value — fail-closed per spec §4.1.
func EnforcementMode(config *viper.Viper) Mode {
	switch Mode(strings.ToLower(config.GetString("access.enforcement_mode"))) {
	case ModeWarn:
		return ModeWarn
	default:
		return ModeEnforce
	}
}

// OwnerAPIKeys parses AGENTHUB_API_KEYS_JSON into an opaque-key → owner map.
func OwnerAPIKeys(config *viper.Viper) (map[string]string, error) {
	raw := config.GetString("api_keys_json")
	if raw == "" {
		raw = lookupEnv("AGENTHUB_API_KEYS_JSON")
	}
	if raw == "" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("AGENTHUB_API_KEYS_JSON: %w", err)
	}
	return m, nil
}

// OwnerTenants parses the optional owner→allowed-tenants map. A tenant set
// containing "*" permits any tenant.
func OwnerTenants(config *viper.Viper) (map[string][]string, error) {
	raw := lookupEnv("AGENTHUB_OWNER_TENANTS_JSON")
	if raw == "" {
		return map[string][]string{}, nil
	}
	var m map[string][]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("AGENTHUB_OWNER_TENANTS_JSON: %w", err)
	}
	return m, nil
}

// FederationDomainTokens parses the trusted-domain → shared-secret map.
func FederationDomainTokens(config *viper.Viper) (map[string]string, error) {
	raw := lookupEnv("AGENTHUB_FEDERATION_DOMAIN_TOKENS_JSON")
	if raw == "" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("AGENTHUB_FEDERATION_DOMAIN_TOKENS_JSON: %w", err)
	}
	return m, nil
}
