package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/internal/config"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/diagnostics"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/gatewayclient"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/httpapi"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/issuer"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/payments"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/provider/razorpay"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/telemetry"
	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func run(ctx context.Context, cfg config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := gormstore.Migrate(gormDB); err != nil {
		return err
	}
	store := gormstore.New(gormDB)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	tenantID, err := ledger.NewTenantID(cfg.TenantID)
	if err != nil {
		return err
	}
	clock := func() time.Time { return time.Now().UTC() }
	wallets, err := ledger.NewService(store, clock,
		ledger.WithTenant(tenantID),
		ledger.WithOperationLogger(telemetry.NewZapOperationLogger(logger, metrics)),
	)
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}

	var paymentService *payments.Service
	if cfg.PaymentsEnabled() {
		provider, err := razorpay.NewClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret)
		if err != nil {
			return fmt.Errorf("razorpay init: %w", err)
		}
		paymentService, err = payments.NewService(store, wallets, provider, clock, payments.Config{
			Currency:           cfg.Currency,
			CreditPrice:        cfg.CreditPriceSubunits,
			ProviderTimeout:    cfg.ProviderTimeout,
			VerifyWithProvider: cfg.VerifyWithProvider,
		}, payments.WithLogger(logger), payments.WithSettlementRecorder(metrics))
		if err != nil {
			return fmt.Errorf("payments init: %w", err)
		}
	} else {
		logger.Warn("razorpay credentials missing, checkout routes disabled")
	}

	var registrar issuer.Registrar
	if cfg.GatewayEnabled() {
		gateway, err := gatewayclient.New(gatewayclient.Config{
			BaseURL:    cfg.GatewayBaseURL,
			Timeout:    cfg.GatewayTimeout,
			MaxRetries: cfg.GatewayMaxRetries,
		}, logger)
		if err != nil {
			return fmt.Errorf("gateway client init: %w", err)
		}
		registrar = gateway
	}
	// registration runs while the wallet row is locked
	keyIssuer, err := issuer.New(store, wallets, registrar, clock,
		issuer.WithLogger(logger),
		issuer.WithKeyPrefix(cfg.APIKeyPrefix),
		issuer.WithRecorder(metrics),
		issuer.WithRegistrationTimeout(2*cfg.GatewayTimeout),
	)
	if err != nil {
		return fmt.Errorf("issuer init: %w", err)
	}

	var reader diagnostics.Reader = store
	if cfg.ReplicaURL != "" {
		pool, err := pgstore.Open(ctx, cfg.ReplicaURL)
		if err != nil {
			return fmt.Errorf("replica open: %w", err)
		}
		defer pool.Close()
		reader = pgstore.New(pool)
		logger.Info("debug façade reading payments from replica")
	}
	diagnosticsService, err := diagnostics.NewService(reader, wallets, diagnostics.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("diagnostics init: %w", err)
	}

	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := httpapi.NewRouter(cfg, httpapi.Dependencies{
		Identity:    store,
		Wallets:     wallets,
		Payments:    paymentService,
		Issuer:      keyIssuer,
		Diagnostics: diagnosticsService,
		Metrics:     metrics,
		Logger:      logger,
	}, validator)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	grpcserver.RegisterWalletAdminServer(grpcServer, grpcserver.NewWalletAdminServer(wallets, logger))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Serve(groupCtx, cfg.ListenAddr, router, logger)
	})
	group.Go(func() error {
		return serveGRPC(groupCtx, grpcServer, listener, logger)
	})
	return group.Wait()
}

func serveGRPC(ctx context.Context, grpcServer *grpc.Server, listener net.Listener, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", listener.Addr().String()))
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("gRPC shutdown requested")
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && serveErr != grpc.ErrServerStopped {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if serveErr == grpc.ErrServerStopped {
			return nil
		}
		return serveErr
	}
}
