// Package httpapi exposes the wallet core over REST.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/internal/config"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/diagnostics"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/issuer"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/payments"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/telemetry"
	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey  = "auth_claims"
	sessionContextKey = "session_user"
	shutdownTimeout   = 5 * time.Second
)

// IdentityResolver maps a session subject onto a local user.
type IdentityResolver interface {
	EnsureUser(ctx context.Context, externalID string, email string) (ledger.User, error)
}

// Dependencies are the services behind the routes. Payments may be nil when checkout is disabled.
type Dependencies struct {
	Identity    IdentityResolver
	Wallets     *ledger.Service
	Payments    *payments.Service
	Issuer      *issuer.Issuer
	Diagnostics *diagnostics.Service
	Metrics     *telemetry.Metrics
	Logger      *zap.Logger
}

type httpHandler struct {
	cfg         config.Config
	identity    IdentityResolver
	wallets     *ledger.Service
	payments    *payments.Service
	issuer      *issuer.Issuer
	diagnostics *diagnostics.Service
	logger      *zap.Logger
}

// NewRouter builds the gin engine serving every wallet route.
func NewRouter(cfg config.Config, deps Dependencies, validator *sessionvalidator.Validator) (*gin.Engine, error) {
	if deps.Identity == nil || deps.Wallets == nil || deps.Issuer == nil || deps.Diagnostics == nil || validator == nil {
		return nil, fmt.Errorf("%w: http dependencies are required", ledger.ErrInvalidServiceConfig)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{
		cfg:         cfg,
		identity:    deps.Identity,
		wallets:     deps.Wallets,
		payments:    deps.Payments,
		issuer:      deps.Issuer,
		diagnostics: deps.Diagnostics,
		logger:      logger,
	}
	return setupRouter(cfg, handler, deps.Metrics, validator), nil
}

func setupRouter(cfg config.Config, handler *httpHandler, metrics *telemetry.Metrics, validator *sessionvalidator.Validator) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.GinMiddleware(metrics))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.POST("/payments/webhook", handler.handleWebhook)

	api := router.Group("/")
	api.Use(validator.GinMiddleware(claimsContextKey))
	api.Use(handler.resolveSession)

	api.GET("/session", handler.handleSession)
	api.POST("/wallets", handler.handleCreateWallet)
	api.GET("/wallet-balance/:userId", handler.handleBalance)
	api.GET("/wallets/:userId/transactions", handler.handleTransactions)
	api.POST("/credits/:userId/check", handler.handleCheckCredits)
	api.POST("/credits/:userId/add", handler.handleAddCredits)
	api.POST("/credits/:userId/deduct", handler.handleDeductCredits)
	api.POST("/credits/:userId/generate-api-key", handler.handleGenerateAPIKey)
	api.POST("/payments/orders", handler.handleCreateOrder)
	api.POST("/payments/confirm", handler.handleConfirmPayment)
	api.GET("/payments/:paymentId", handler.handleGetPayment)
	api.POST("/payments/:paymentId/refund", handler.handleRefundPayment)
	api.GET("/debug/balance/:userId", handler.handleDebugBalance)

	return router
}

// Serve runs router on listenAddr until ctx is cancelled.
func Serve(ctx context.Context, listenAddr string, router http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("walletd http listening", zap.String("addr", listenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
