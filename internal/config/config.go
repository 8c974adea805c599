// Package config holds walletd runtime settings.
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultGRPCListenAddr  = ":7070"
	defaultDatabaseURL     = "sqlite:///tmp/creditwallet.db"
	defaultTenantID        = "default"
	defaultAllowedOrigin   = "http://localhost:3000"
	defaultSessionIssuer   = "tauth"
	defaultSessionCookie   = "app_session"
	defaultCurrency        = "INR"
	defaultKeyPrefix       = "veil_"
	defaultProviderTimeout = 10 * time.Second
	defaultGatewayTimeout  = 5 * time.Second
	defaultRequestTimeout  = 15 * time.Second
	defaultCreditPrice     = 100
)

// Config aggregates runtime settings for walletd.
type Config struct {
	ListenAddr        string
	GRPCListenAddr    string
	DatabaseURL       string
	ReplicaURL        string
	TenantID          string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	AdminRole         string
	RequestTimeout    time.Duration

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	ProviderTimeout       time.Duration
	VerifyWithProvider    bool
	CreditPriceSubunits   int64
	Currency              string
	InitialCredits        int64

	GatewayBaseURL    string
	GatewayTimeout    time.Duration
	GatewayMaxRetries int
	APIKeyPrefix      string
}

// Validate applies defaults and rejects configurations walletd cannot run with.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.TenantID = defaultIfEmpty(cfg.TenantID, defaultTenantID)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.AdminRole = defaultIfEmpty(cfg.AdminRole, "admin")
	cfg.Currency = strings.ToUpper(defaultIfEmpty(cfg.Currency, defaultCurrency))
	cfg.APIKeyPrefix = defaultIfEmpty(cfg.APIKeyPrefix, defaultKeyPrefix)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	if cfg.CreditPriceSubunits == 0 {
		cfg.CreditPriceSubunits = defaultCreditPrice
	}

	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if cfg.CreditPriceSubunits < 0 {
		return fmt.Errorf("credit price must be positive")
	}
	if cfg.InitialCredits < 0 {
		return fmt.Errorf("initial credits must not be negative")
	}
	if cfg.GatewayMaxRetries < -1 {
		return fmt.Errorf("gateway max retries must be -1 or greater")
	}
	if (cfg.RazorpayKeyID == "") != (cfg.RazorpayKeySecret == "") {
		return fmt.Errorf("razorpay key id and key secret must be set together")
	}
	if cfg.VerifyWithProvider && !cfg.PaymentsEnabled() {
		return fmt.Errorf("provider verification requires razorpay credentials")
	}
	if cfg.ReplicaURL != "" && !isPostgresURL(cfg.ReplicaURL) {
		return fmt.Errorf("replica url must be a postgres connection string")
	}
	return nil
}

func isPostgresURL(raw string) bool {
	return strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://")
}

// PaymentsEnabled reports whether checkout and confirmation routes can be served.
func (cfg Config) PaymentsEnabled() bool {
	return cfg.RazorpayKeyID != "" && cfg.RazorpayKeySecret != ""
}

// GatewayEnabled reports whether issued keys are pushed to the API gateway.
func (cfg Config) GatewayEnabled() bool {
	return strings.TrimSpace(cfg.GatewayBaseURL) != ""
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
