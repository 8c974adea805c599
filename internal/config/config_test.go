package config

import (
	"reflect"
	"testing"
	"time"
)

func TestValidateAppliesDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{SessionSigningKey: "secret"}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.GRPCListenAddr != defaultGRPCListenAddr || cfg.DatabaseURL != defaultDatabaseURL {
		test.Fatalf("unexpected addresses: %+v", cfg)
	}
	if cfg.TenantID != defaultTenantID || cfg.Currency != defaultCurrency || cfg.APIKeyPrefix != "veil_" || cfg.AdminRole != "admin" {
		test.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ProviderTimeout != 10*time.Second || cfg.GatewayTimeout != 5*time.Second || cfg.CreditPriceSubunits != 100 {
		test.Fatalf("unexpected timeouts or price: %+v", cfg)
	}
	if cfg.PaymentsEnabled() || cfg.GatewayEnabled() {
		test.Fatalf("optional integrations should be disabled by default")
	}
}

func TestValidateRejectsInvalidConfigurations(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "missing signing key", cfg: Config{}},
		{name: "negative price", cfg: Config{SessionSigningKey: "k", CreditPriceSubunits: -1}},
		{name: "negative initial credits", cfg: Config{SessionSigningKey: "k", InitialCredits: -5}},
		{name: "bad retry count", cfg: Config{SessionSigningKey: "k", GatewayMaxRetries: -2}},
		{name: "half razorpay credentials", cfg: Config{SessionSigningKey: "k", RazorpayKeyID: "rzp_test"}},
		{name: "verification without credentials", cfg: Config{SessionSigningKey: "k", VerifyWithProvider: true}},
		{name: "sqlite replica", cfg: Config{SessionSigningKey: "k", ReplicaURL: "sqlite:///tmp/replica.db"}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if err := testCase.cfg.Validate(); err == nil {
				test.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	test.Parallel()
	got := ParseAllowedOrigins(" http://a.test, ,http://b.test ")
	if !reflect.DeepEqual(got, []string{"http://a.test", "http://b.test"}) {
		test.Fatalf("unexpected origins: %v", got)
	}
	if len(ParseAllowedOrigins("   ")) != 0 {
		test.Fatalf("expected no origins for blank input")
	}
}

func TestIntegrationSwitches(test *testing.T) {
	test.Parallel()
	cfg := Config{
		SessionSigningKey: "k",
		RazorpayKeyID:     "rzp_test",
		RazorpayKeySecret: "secret",
		GatewayBaseURL:    "http://gateway.internal",
		Currency:          "usd",
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if !cfg.PaymentsEnabled() || !cfg.GatewayEnabled() || cfg.Currency != "USD" {
		test.Fatalf("unexpected switches: %+v", cfg)
	}
}
