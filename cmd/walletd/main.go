package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/creditwallet/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagListenAddr            = "listen-addr"
	flagGRPCListenAddr        = "grpc-listen-addr"
	flagDatabaseURL           = "database-url"
	flagReplicaURL            = "replica-database-url"
	flagTenantID              = "tenant-id"
	flagAllowedOrigins        = "allowed-origins"
	flagJWTSigningKey         = "jwt-signing-key"
	flagJWTIssuer             = "jwt-issuer"
	flagJWTCookieName         = "jwt-cookie-name"
	flagAdminRole             = "admin-role"
	flagRequestTimeout        = "request-timeout"
	flagRazorpayKeyID         = "razorpay-key-id"
	flagRazorpayKeySecret     = "razorpay-key-secret"
	flagRazorpayWebhookSecret = "razorpay-webhook-secret"
	flagProviderTimeout       = "provider-timeout"
	flagVerifyWithProvider    = "verify-with-provider"
	flagCreditPrice           = "credit-price"
	flagCurrency              = "currency"
	flagInitialCredits        = "initial-credits"
	flagGatewayBaseURL        = "gateway-base-url"
	flagGatewayTimeout        = "gateway-timeout"
	flagGatewayMaxRetries     = "gateway-max-retries"
	flagAPIKeyPrefix          = "api-key-prefix"
	envPrefix                 = "WALLETD"
)

var serverFlags = []string{
	flagListenAddr, flagGRPCListenAddr, flagDatabaseURL, flagReplicaURL, flagTenantID, flagAllowedOrigins,
	flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName, flagAdminRole, flagRequestTimeout,
	flagRazorpayKeyID, flagRazorpayKeySecret, flagRazorpayWebhookSecret, flagProviderTimeout,
	flagVerifyWithProvider, flagCreditPrice, flagCurrency, flagInitialCredits,
	flagGatewayBaseURL, flagGatewayTimeout, flagGatewayMaxRetries, flagAPIKeyPrefix,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:           "walletd",
		Short:         "Credit wallet HTTP and gRPC server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagGRPCListenAddr, "", "admin gRPC listen address")
	cmd.Flags().String(flagDatabaseURL, "", "postgres:// or sqlite:// connection string")
	cmd.Flags().String(flagReplicaURL, "", "optional postgres read replica for the debug façade")
	cmd.Flags().String(flagTenantID, "", "tenant that owns every wallet")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "JWT cookie name")
	cmd.Flags().String(flagAdminRole, "", "session role allowed to manage other wallets")
	cmd.Flags().Duration(flagRequestTimeout, 0, "per-request deadline")
	cmd.Flags().String(flagRazorpayKeyID, "", "Razorpay key id")
	cmd.Flags().String(flagRazorpayKeySecret, "", "Razorpay key secret")
	cmd.Flags().String(flagRazorpayWebhookSecret, "", "Razorpay webhook secret")
	cmd.Flags().Duration(flagProviderTimeout, 0, "payment provider call timeout")
	cmd.Flags().Bool(flagVerifyWithProvider, false, "fetch payments from the provider before settling")
	cmd.Flags().Int64(flagCreditPrice, 0, "price of one credit in currency subunits")
	cmd.Flags().String(flagCurrency, "", "checkout currency")
	cmd.Flags().Int64(flagInitialCredits, 0, "free credits granted to new wallets")
	cmd.Flags().String(flagGatewayBaseURL, "", "API gateway key registry base URL")
	cmd.Flags().Duration(flagGatewayTimeout, 0, "API gateway call timeout")
	cmd.Flags().Int(flagGatewayMaxRetries, 0, "API gateway retry attempts (-1 disables retries)")
	cmd.Flags().String(flagAPIKeyPrefix, "", "prefix of issued API keys")

	cmd.AddCommand(newAdminCommand())
	return cmd
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	v := newViper()
	for _, flagName := range serverFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.ReplicaURL = strings.TrimSpace(v.GetString(flagReplicaURL))
	cfg.TenantID = strings.TrimSpace(v.GetString(flagTenantID))
	cfg.AllowedOrigins = config.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.AdminRole = strings.TrimSpace(v.GetString(flagAdminRole))
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.RazorpayKeyID = strings.TrimSpace(v.GetString(flagRazorpayKeyID))
	cfg.RazorpayKeySecret = v.GetString(flagRazorpayKeySecret)
	cfg.RazorpayWebhookSecret = v.GetString(flagRazorpayWebhookSecret)
	cfg.ProviderTimeout = v.GetDuration(flagProviderTimeout)
	cfg.VerifyWithProvider = v.GetBool(flagVerifyWithProvider)
	cfg.CreditPriceSubunits = v.GetInt64(flagCreditPrice)
	cfg.Currency = strings.TrimSpace(v.GetString(flagCurrency))
	cfg.InitialCredits = v.GetInt64(flagInitialCredits)
	cfg.GatewayBaseURL = strings.TrimSpace(v.GetString(flagGatewayBaseURL))
	cfg.GatewayTimeout = v.GetDuration(flagGatewayTimeout)
	cfg.GatewayMaxRetries = v.GetInt(flagGatewayMaxRetries)
	cfg.APIKeyPrefix = strings.TrimSpace(v.GetString(flagAPIKeyPrefix))

	return cfg.Validate()
}
