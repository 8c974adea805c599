package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	OutcomeCredited  = "credited"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeRetryable = "retryable"

	paymentMethodCheckout  = "CHECKOUT"
	providerStatusFailed   = "failed"
	defaultProviderTimeout = 10 * time.Second
)

// Config holds pricing and provider call settings.
type Config struct {
	// Currency is the ISO code orders are raised in.
	Currency string
	// CreditPrice is the cost of one credit in currency subunits.
	CreditPrice int64
	// ProviderTimeout bounds every outbound provider call.
	ProviderTimeout time.Duration
	// VerifyWithProvider fetches the payment from the provider before settling.
	VerifyWithProvider bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithSettlementRecorder observes settlement outcomes.
func WithSettlementRecorder(recorder SettlementRecorder) Option {
	return func(service *Service) {
		service.recorder = recorder
	}
}

// Service turns provider payments into wallet credits.
type Service struct {
	store    ledger.Store
	wallets  *ledger.Service
	provider Provider
	nowFn    func() time.Time
	cfg      Config
	logger   *zap.Logger
	recorder SettlementRecorder
}

// CheckoutOrder is what a client needs to open the provider checkout.
type CheckoutOrder struct {
	PaymentID string
	OrderID   string
	KeyID     string
	WalletID  string
	Amount    int64
	Currency  string
	Credits   int64
}

// ConfirmRequest carries the provider callback fields a client posts back.
type ConfirmRequest struct {
	ProviderPaymentID string
	ProviderOrderID   string
	Signature         string
}

// ConfirmResult describes the effect of a confirmation.
type ConfirmResult struct {
	Success          bool
	PaymentID        string
	OrderID          string
	WalletID         ledger.WalletID
	CreditsAdded     int64
	NewBalance       int64
	AlreadyProcessed bool
}

// NewService wires a payment Service.
func NewService(store ledger.Store, wallets *ledger.Service, provider Provider, now func() time.Time, cfg Config, options ...Option) (*Service, error) {
	if store == nil || wallets == nil || provider == nil || now == nil {
		return nil, fmt.Errorf("%w: payments dependencies are required", ledger.ErrInvalidServiceConfig)
	}
	if cfg.CreditPrice <= 0 {
		return nil, fmt.Errorf("%w: credit price must be positive", ledger.ErrInvalidServiceConfig)
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		return nil, fmt.Errorf("%w: currency is required", ledger.ErrInvalidServiceConfig)
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	service := &Service{
		store:    store,
		wallets:  wallets,
		provider: provider,
		nowFn:    now,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CreateOrder records a pending payment for credits and opens a provider order for it.
// A customer without a wallet gets an empty one.
func (service *Service) CreateOrder(ctx context.Context, customer ledger.CustomerRef, credits ledger.Credits, description string) (CheckoutOrder, error) {
	if credits <= 0 {
		return CheckoutOrder{}, fmt.Errorf("%w: credits must be greater than zero", ledger.ErrInvalidAmount)
	}
	wallet, err := service.ensureWallet(ctx, customer)
	if err != nil {
		return CheckoutOrder{}, err
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(uuid.NewString())
	if err != nil {
		return CheckoutOrder{}, err
	}
	metadata, err := ledger.MetadataFromMap(map[string]any{
		"userId":      wallet.CustomerID,
		"walletId":    wallet.ID.String(),
		"description": description,
	})
	if err != nil {
		return CheckoutOrder{}, err
	}
	payment, err := service.store.CreatePayment(ctx, ledger.PaymentInput{
		TenantID:          service.wallets.Tenant(),
		IdempotencyKey:    idempotencyKey,
		DestinationID:     wallet.ID,
		PaymentMethodType: paymentMethodCheckout,
		Gateway:           service.provider.Name(),
		Amount:            credits.Int64() * service.cfg.CreditPrice,
		Currency:          service.cfg.Currency,
		Credits:           credits,
		Metadata:          metadata,
		CreatedAt:         service.nowFn(),
	})
	if err != nil {
		return CheckoutOrder{}, err
	}

	providerCtx, cancel := context.WithTimeout(ctx, service.cfg.ProviderTimeout)
	order, err := service.provider.CreateOrder(providerCtx, OrderRequest{
		Amount:   payment.Amount,
		Currency: payment.Currency,
		Receipt:  payment.ID,
		Notes: map[string]string{
			"payment_id": payment.ID,
			"wallet_id":  wallet.ID.String(),
		},
	})
	cancel()
	if err != nil {
		service.failPayment(ctx, payment, "", err)
		return CheckoutOrder{}, fmt.Errorf("%w: %v", ledger.ErrProviderUnavailable, err)
	}

	err = service.store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		now := service.nowFn()
		moved, err := txStore.TransitionPayment(ctx, payment.ID, []ledger.PaymentStatus{ledger.PaymentPending}, ledger.PaymentUpdate{
			ProviderOrderID: order.ID,
			At:              now,
		})
		if err != nil {
			return err
		}
		if moved == 0 {
			return fmt.Errorf("%w: payment %s left pending before order attach", ledger.ErrPaymentClosed, payment.ID)
		}
		_, err = txStore.AppendPaymentAttempt(ctx, ledger.PaymentAttemptInput{
			PaymentID:         payment.ID,
			TenantID:          payment.TenantID,
			Status:            ledger.AttemptPending,
			ProviderAttemptID: order.ID,
			CreatedAt:         now,
		})
		return err
	})
	if err != nil {
		return CheckoutOrder{}, err
	}
	service.logger.Info("checkout order created",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", order.ID),
		zap.Int64("credits", credits.Int64()),
		zap.Int64("amount", payment.Amount),
	)
	return CheckoutOrder{
		PaymentID: payment.ID,
		OrderID:   order.ID,
		KeyID:     order.KeyID,
		WalletID:  wallet.ID.String(),
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Credits:   credits.Int64(),
	}, nil
}

// ConfirmPayment verifies a client-side checkout callback and credits the wallet once.
// Repeating a confirmation for a settled order returns the first result unchanged.
func (service *Service) ConfirmPayment(ctx context.Context, request ConfirmRequest) (ConfirmResult, error) {
	providerPaymentID := strings.TrimSpace(request.ProviderPaymentID)
	orderID := strings.TrimSpace(request.ProviderOrderID)
	signature := strings.TrimSpace(request.Signature)
	if providerPaymentID == "" || orderID == "" || signature == "" {
		return ConfirmResult{}, fmt.Errorf("%w: providerPaymentId, providerOrderId and providerSignature are required", ledger.ErrMissingRequiredArgument)
	}

	payment, lookupErr := service.store.GetPaymentByOrderID(ctx, orderID)
	if lookupErr != nil && !errors.Is(lookupErr, ledger.ErrPaymentNotFound) {
		return ConfirmResult{}, lookupErr
	}
	if lookupErr == nil && payment.Status.Settled() {
		return cachedResult(payment), nil
	}
	if !service.provider.VerifyPaymentSignature(orderID, providerPaymentID, signature) {
		service.logger.Warn("payment signature rejected", zap.String("order_id", orderID))
		return ConfirmResult{}, ledger.ErrInvalidSignature
	}
	if lookupErr != nil {
		return ConfirmResult{}, lookupErr
	}
	if payment.Status.Terminal() {
		return ConfirmResult{}, fmt.Errorf("%w: payment is %s", ledger.ErrPaymentClosed, payment.Status)
	}
	if service.cfg.VerifyWithProvider {
		if err := service.crossCheck(ctx, payment, providerPaymentID, signature); err != nil {
			return ConfirmResult{}, err
		}
	}
	return service.settle(ctx, payment, providerPaymentID, signature)
}

// GetPayment loads a payment by its internal id.
func (service *Service) GetPayment(ctx context.Context, paymentID string) (ledger.Payment, error) {
	return service.store.GetPayment(ctx, paymentID)
}

// ListAttempts returns the attempts recorded for a payment in order.
func (service *Service) ListAttempts(ctx context.Context, paymentID string) ([]ledger.PaymentAttempt, error) {
	if _, err := service.store.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return service.store.ListPaymentAttempts(ctx, paymentID)
}

func (service *Service) crossCheck(ctx context.Context, payment ledger.Payment, providerPaymentID string, signature string) error {
	providerCtx, cancel := context.WithTimeout(ctx, service.cfg.ProviderTimeout)
	defer cancel()
	details, err := service.provider.FetchPayment(providerCtx, providerPaymentID)
	if err != nil {
		service.record(OutcomeRetryable)
		service.appendAttempt(ctx, payment, ledger.AttemptFailed, providerPaymentID, "provider lookup: "+err.Error())
		return fmt.Errorf("%w: %v", ledger.ErrProviderUnavailable, err)
	}
	if details.OrderID != payment.ProviderOrderID || details.Amount != payment.Amount || strings.EqualFold(details.Status, providerStatusFailed) {
		mismatch := fmt.Errorf("%w: order %s amount %d status %s", ledger.ErrProviderMismatch, details.OrderID, details.Amount, details.Status)
		service.failPayment(ctx, payment, providerPaymentID, mismatch)
		service.record(OutcomeFailed)
		return mismatch
	}
	return nil
}

// settle moves an open payment to SUCCEEDED and credits its wallet in one unit of work.
// Whoever moves the payment first credits it; everybody else reads the cached result.
func (service *Service) settle(ctx context.Context, payment ledger.Payment, providerPaymentID string, signature string) (ConfirmResult, error) {
	metadata, err := ledger.MetadataFromMap(map[string]any{
		"paymentId":         payment.ID,
		"providerPaymentId": providerPaymentID,
		"gateway":           payment.Gateway,
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	var (
		result         ConfirmResult
		alreadySettled bool
	)
	settleErr := service.store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		now := service.nowFn()
		moved, err := txStore.TransitionPayment(ctx, payment.ID, ledger.OpenPaymentStatuses(), ledger.PaymentUpdate{
			Status:            ledger.PaymentSucceeded,
			ProviderPaymentID: providerPaymentID,
			ProviderSignature: signature,
			At:                now,
		})
		if err != nil {
			return err
		}
		if moved == 0 {
			alreadySettled = true
			return nil
		}
		transaction, err := service.wallets.WithStore(txStore).AddCredits(ctx, payment.DestinationID, ledger.CreditRequest{
			Amount:        payment.Credits,
			Subtype:       ledger.SubtypePaid,
			ReferenceType: ledger.ReferencePayment,
			ReferenceID:   payment.ProviderOrderID,
			Description:   fmt.Sprintf("Credit purchase %s", payment.ProviderOrderID),
			Metadata:      metadata,
		})
		if err != nil {
			return err
		}
		credited := transaction.Amount.Int64()
		balance := transaction.BalanceAfter
		if _, err := txStore.TransitionPayment(ctx, payment.ID, []ledger.PaymentStatus{ledger.PaymentSucceeded}, ledger.PaymentUpdate{
			CreditsApplied: &credited,
			BalanceAfter:   &balance,
			At:             now,
		}); err != nil {
			return err
		}
		if _, err := txStore.AppendPaymentAttempt(ctx, ledger.PaymentAttemptInput{
			PaymentID:         payment.ID,
			TenantID:          payment.TenantID,
			Status:            ledger.AttemptSucceeded,
			ProviderAttemptID: providerPaymentID,
			CreatedAt:         now,
		}); err != nil {
			return err
		}
		result = ConfirmResult{
			Success:      true,
			PaymentID:    payment.ID,
			OrderID:      payment.ProviderOrderID,
			WalletID:     payment.DestinationID,
			CreditsAdded: credited,
			NewBalance:   balance,
		}
		return nil
	})

	switch {
	case settleErr == nil && !alreadySettled:
		service.record(OutcomeCredited)
		service.logger.Info("payment settled",
			zap.String("payment_id", payment.ID),
			zap.String("order_id", payment.ProviderOrderID),
			zap.Int64("credits", result.CreditsAdded),
			zap.Int64("balance", result.NewBalance),
		)
		return result, nil
	case settleErr == nil, errors.Is(settleErr, ledger.ErrDuplicateReference):
		service.record(OutcomeDuplicate)
		return service.cachedSettlement(ctx, payment.ID)
	case permanentSettlementError(settleErr):
		service.record(OutcomeFailed)
		service.failPayment(ctx, payment, providerPaymentID, settleErr)
		return ConfirmResult{}, settleErr
	default:
		service.record(OutcomeRetryable)
		service.appendAttempt(ctx, payment, ledger.AttemptFailed, providerPaymentID, settleErr.Error())
		return ConfirmResult{}, settleErr
	}
}

func (service *Service) cachedSettlement(ctx context.Context, paymentID string) (ConfirmResult, error) {
	payment, err := service.store.GetPayment(ctx, paymentID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if !payment.Status.Settled() {
		return ConfirmResult{}, fmt.Errorf("%w: payment is %s", ledger.ErrPaymentClosed, payment.Status)
	}
	return cachedResult(payment), nil
}

func (service *Service) ensureWallet(ctx context.Context, customer ledger.CustomerRef) (ledger.Wallet, error) {
	existing, err := service.wallets.FindWalletByCustomer(ctx, customer)
	if err != nil {
		return ledger.Wallet{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	created, err := service.wallets.CreateWallet(ctx, customer, 0)
	if errors.Is(err, ledger.ErrWalletExists) {
		raced, findErr := service.wallets.FindWalletByCustomer(ctx, customer)
		if findErr != nil {
			return ledger.Wallet{}, findErr
		}
		if raced != nil {
			return *raced, nil
		}
	}
	return created, err
}

// failPayment closes an open payment as FAILED and records the failed attempt.
func (service *Service) failPayment(ctx context.Context, payment ledger.Payment, providerPaymentID string, cause error) {
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		now := service.nowFn()
		moved, err := txStore.TransitionPayment(ctx, payment.ID, ledger.OpenPaymentStatuses(), ledger.PaymentUpdate{
			Status:            ledger.PaymentFailed,
			ProviderPaymentID: providerPaymentID,
			ErrorMessage:      cause.Error(),
			At:                now,
		})
		if err != nil || moved == 0 {
			return err
		}
		_, err = txStore.AppendPaymentAttempt(ctx, ledger.PaymentAttemptInput{
			PaymentID:         payment.ID,
			TenantID:          payment.TenantID,
			Status:            ledger.AttemptFailed,
			ProviderAttemptID: providerPaymentID,
			ErrorMessage:      cause.Error(),
			CreatedAt:         now,
		})
		return err
	})
	if err != nil {
		service.logger.Error("mark payment failed", zap.String("payment_id", payment.ID), zap.Error(err))
		return
	}
	service.logger.Warn("payment failed", zap.String("payment_id", payment.ID), zap.Error(cause))
}

func (service *Service) appendAttempt(ctx context.Context, payment ledger.Payment, status ledger.AttemptStatus, providerAttemptID string, message string) {
	_, err := service.store.AppendPaymentAttempt(ctx, ledger.PaymentAttemptInput{
		PaymentID:         payment.ID,
		TenantID:          payment.TenantID,
		Status:            status,
		ProviderAttemptID: providerAttemptID,
		ErrorMessage:      message,
		CreatedAt:         service.nowFn(),
	})
	if err != nil {
		service.logger.Error("append payment attempt", zap.String("payment_id", payment.ID), zap.Error(err))
	}
}

func (service *Service) record(outcome string) {
	if service.recorder != nil {
		service.recorder.RecordSettlement(outcome)
	}
}

func cachedResult(payment ledger.Payment) ConfirmResult {
	return ConfirmResult{
		Success:          true,
		PaymentID:        payment.ID,
		OrderID:          payment.ProviderOrderID,
		WalletID:         payment.DestinationID,
		CreditsAdded:     payment.CreditsApplied,
		NewBalance:       payment.BalanceAfter,
		AlreadyProcessed: true,
	}
}

func permanentSettlementError(err error) bool {
	return ledger.IsValidationError(err) || ledger.IsNotFoundError(err) || errors.Is(err, ledger.ErrProviderMismatch)
}
