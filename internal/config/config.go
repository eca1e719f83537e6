// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads and validates the daemon configuration from the
// process environment.
package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// AppConfig is the complete, immutable runtime configuration.
type AppConfig struct {
	// Server
	ListenAddr  string
	MetricsAddr string
	DataDir     string
	Environment string
	LogLevel    string

	// APIKey is only consulted by Validate as a credential-source presence
	// check; requests resolve the live key through the secrets provider.
	APIKey string

	// Request gate
	CORSOrigins       []string
	TrustedProxies    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Sessions
	SessionTimeout      time.Duration
	SessionStoreBackend string
	SessionDBPath       string

	// Concurrency bounds
	MaxConcurrentRequests   int
	MaxConcurrentModelCalls int

	// Reliability
	HealthCheckInterval time.Duration
	StartupTimeout      time.Duration
	RecoveryInterval    time.Duration
	MaxRecoveryAttempts int
	ShutdownTimeout     time.Duration

	// Upstream model services
	LLMServerURL          string
	ASROCRServerURL       string
	KBServerURL           string
	ModelTimeout          time.Duration
	ViolationCheckTimeout time.Duration

	// FIR relational store
	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPassword string
	MySQLDB       string
	DBTimeout     time.Duration

	// Caching and secrets
	CacheRedisAddr string
	SecretsFile    string
	SecretsURL     string

	// FIR export for the backup sidecar (empty disables export)
	FIRExportDir string

	// Tracing
	OTelEnabled      bool
	OTelExporter     string
	OTelEndpoint     string
	OTelSamplingRate float64
}

// FromEnv assembles the configuration from environment variables, applying
// documented defaults for everything optional.
func FromEnv() AppConfig {
	dataDir := ParseString("DATA_DIR", "./data")

	return AppConfig{
		ListenAddr:  ParseString("LISTEN_ADDR", ":8080"),
		MetricsAddr: ParseString("METRICS_ADDR", ":9090"),
		DataDir:     dataDir,
		Environment: ParseString("ENVIRONMENT", "development"),
		LogLevel:    ParseString("LOG_LEVEL", "info"),

		APIKey: ParseString("API_KEY", ""),

		CORSOrigins:       ParseStringSlice("CORS_ORIGINS", []string{"*"}),
		TrustedProxies:    ParseStringSlice("TRUSTED_PROXIES", nil),
		RateLimitRequests: ParseInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   ParseDuration("RATE_LIMIT_WINDOW", 60*time.Second),

		SessionTimeout:      ParseDuration("SESSION_TIMEOUT", 30*time.Minute),
		SessionStoreBackend: ParseString("SESSION_STORE_BACKEND", "sqlite"),
		SessionDBPath:       ParseString("SESSION_DB_PATH", filepath.Join(dataDir, "sessions.db")),

		MaxConcurrentRequests:   ParseInt("MAX_CONCURRENT_REQUESTS", 15),
		MaxConcurrentModelCalls: ParseInt("MAX_CONCURRENT_MODEL_CALLS", 10),

		HealthCheckInterval: ParseDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		StartupTimeout:      ParseDuration("STARTUP_TIMEOUT", 300*time.Second),
		RecoveryInterval:    ParseDuration("RECOVERY_INTERVAL", 60*time.Second),
		MaxRecoveryAttempts: ParseInt("MAX_RECOVERY_ATTEMPTS", 3),
		ShutdownTimeout:     ParseDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		LLMServerURL:          ParseString("LLM_SERVER_URL", "http://localhost:8001"),
		ASROCRServerURL:       ParseString("ASR_OCR_SERVER_URL", "http://localhost:8002"),
		KBServerURL:           ParseString("KB_SERVER_URL", "http://localhost:8003"),
		ModelTimeout:          ParseDuration("MODEL_TIMEOUT", 45*time.Second),
		ViolationCheckTimeout: ParseDuration("VIOLATION_CHECK_TIMEOUT", 8*time.Second),

		MySQLHost:     ParseString("MYSQL_HOST", "localhost"),
		MySQLPort:     ParseInt("MYSQL_PORT", 3306),
		MySQLUser:     ParseString("MYSQL_USER", "fir"),
		MySQLPassword: ParseString("MYSQL_PASSWORD", ""),
		MySQLDB:       ParseString("MYSQL_DB", "fir_system"),
		DBTimeout:     ParseDuration("DB_TIMEOUT", 30*time.Second),

		CacheRedisAddr: ParseString("CACHE_REDIS_ADDR", ""),
		SecretsFile:    ParseString("SECRETS_FILE", ""),
		SecretsURL:     ParseString("SECRETS_URL", ""),

		FIRExportDir: ParseString("FIR_EXPORT_DIR", ""),

		OTelEnabled:      ParseBool("OTEL_ENABLED", false),
		OTelExporter:     ParseString("OTEL_EXPORTER", "grpc"),
		OTelEndpoint:     ParseString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSamplingRate: ParseFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

// Production reports whether the daemon runs with production hardening.
func (c AppConfig) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate rejects configurations the daemon cannot safely start with.
func Validate(c AppConfig) error {
	if err := validateAddr("LISTEN_ADDR", c.ListenAddr); err != nil {
		return err
	}
	if err := validateAddr("METRICS_ADDR", c.MetricsAddr); err != nil {
		return err
	}
	for key, u := range map[string]string{
		"LLM_SERVER_URL":     c.LLMServerURL,
		"ASR_OCR_SERVER_URL": c.ASROCRServerURL,
		"KB_SERVER_URL":      c.KBServerURL,
	} {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s: invalid URL %q", key, u)
		}
	}
	if c.RateLimitRequests < 1 || c.RateLimitRequests > 10000 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS: %d out of range [1,10000]", c.RateLimitRequests)
	}
	for key, d := range map[string]time.Duration{
		"RATE_LIMIT_WINDOW":     c.RateLimitWindow,
		"SESSION_TIMEOUT":       c.SessionTimeout,
		"HEALTH_CHECK_INTERVAL": c.HealthCheckInterval,
		"STARTUP_TIMEOUT":       c.StartupTimeout,
		"RECOVERY_INTERVAL":     c.RecoveryInterval,
		"SHUTDOWN_TIMEOUT":      c.ShutdownTimeout,
		"MODEL_TIMEOUT":         c.ModelTimeout,
		"DB_TIMEOUT":            c.DBTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", key, d)
		}
	}
	if c.MaxConcurrentRequests < 1 {
		return fmt.Errorf("MAX_CONCURRENT_REQUESTS: must be at least 1, got %d", c.MaxConcurrentRequests)
	}
	if c.MaxConcurrentModelCalls < 1 {
		return fmt.Errorf("MAX_CONCURRENT_MODEL_CALLS: must be at least 1, got %d", c.MaxConcurrentModelCalls)
	}
	if c.MaxRecoveryAttempts < 1 {
		return fmt.Errorf("MAX_RECOVERY_ATTEMPTS: must be at least 1, got %d", c.MaxRecoveryAttempts)
	}
	switch c.SessionStoreBackend {
	case "sqlite", "badger", "memory":
	default:
		return fmt.Errorf("SESSION_STORE_BACKEND: unknown backend %q", c.SessionStoreBackend)
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			if net.ParseIP(cidr) == nil {
				return fmt.Errorf("TRUSTED_PROXIES: %q is neither CIDR nor IP", cidr)
			}
		}
	}
	if c.Production() && c.APIKey == "" && c.SecretsURL == "" && c.SecretsFile == "" {
		return fmt.Errorf("API_KEY: no credential source configured for production")
	}
	return nil
}

func validateAddr(key, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s: empty listen address", key)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: invalid listen address %q: %w", key, addr, err)
	}
	return nil
}
