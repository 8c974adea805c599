// Package diagnostics aggregates a read-only view of a user's wallet for support tooling.
// Inspect never fails: every lookup error becomes a note on the report.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTransactionLimit = 20
	defaultPaymentLimit     = 10
	attemptFetchConcurrency = 4
)

// Reader is the read side of the ledger store used by Inspect.
type Reader interface {
	ResolveUser(ctx context.Context, ref ledger.CustomerRef) (ledger.User, error)
	ListPaymentsByWallet(ctx context.Context, walletID ledger.WalletID, limit int) ([]ledger.Payment, error)
	ListPaymentAttempts(ctx context.Context, paymentID string) ([]ledger.PaymentAttempt, error)
}

// PaymentView pairs a payment with its attempt history.
type PaymentView struct {
	Payment  ledger.Payment
	Attempts []ledger.PaymentAttempt
}

// Report is the aggregated diagnostic view.
type Report struct {
	Query          string
	UserID         string
	ExternalID     string
	Resolved       bool
	Wallet         *ledger.Wallet
	Balance        int64
	Reconciliation *ledger.ReconciliationReport
	Transactions   []ledger.Transaction
	Payments       []PaymentView
	Notes          []string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for collected failures.
func WithLogger(logger *zap.Logger) Option {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithLimits bounds how many transactions and payments a report carries.
func WithLimits(transactions int, payments int) Option {
	return func(service *Service) {
		if transactions > 0 {
			service.transactionLimit = transactions
		}
		if payments > 0 {
			service.paymentLimit = payments
		}
	}
}

// Service builds diagnostic reports.
type Service struct {
	reader           Reader
	wallets          *ledger.Service
	logger           *zap.Logger
	transactionLimit int
	paymentLimit     int
}

// NewService wires the façade.
func NewService(reader Reader, wallets *ledger.Service, options ...Option) (*Service, error) {
	if reader == nil || wallets == nil {
		return nil, fmt.Errorf("%w: diagnostics dependencies are required", ledger.ErrInvalidServiceConfig)
	}
	service := &Service{
		reader:           reader,
		wallets:          wallets,
		logger:           zap.NewNop(),
		transactionLimit: defaultTransactionLimit,
		paymentLimit:     defaultPaymentLimit,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Inspect resolves rawUser by internal or external id and collects what is known about it.
func (service *Service) Inspect(ctx context.Context, rawUser string) Report {
	report := Report{Query: rawUser}
	customer, err := ledger.NewCustomerRef(rawUser)
	if err != nil {
		report.note("Invalid user reference: %v", err)
		return report
	}
	user, err := service.reader.ResolveUser(ctx, customer)
	switch {
	case errors.Is(err, ledger.ErrUserNotFound):
		report.note("No user found for %s", customer.String())
		return report
	case err != nil:
		report.note("User lookup failed: %v", err)
		service.logger.Warn("diagnostics user lookup failed", zap.String("user", customer.String()), zap.Error(err))
		return report
	}
	report.Resolved = true
	report.UserID = user.ID
	report.ExternalID = user.ExternalID

	wallet, err := service.wallets.FindWalletByCustomer(ctx, customer)
	if err != nil {
		report.note("Wallet lookup failed: %v", err)
		return report
	}
	if wallet == nil {
		report.note("No wallet found for user")
		return report
	}
	report.Wallet = wallet
	report.Balance = wallet.Balance

	var mutex sync.Mutex
	collect := func(format string, args ...any) {
		mutex.Lock()
		defer mutex.Unlock()
		report.note(format, args...)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		transactions, err := service.wallets.GetTransactions(groupCtx, wallet.ID, ledger.TransactionFilter{Limit: service.transactionLimit})
		if err != nil {
			collect("Transactions unavailable: %v", err)
			return nil
		}
		report.Transactions = transactions
		if len(transactions) == 0 {
			collect("No transactions recorded")
		}
		return nil
	})
	group.Go(func() error {
		reconciliation, err := service.wallets.Reconcile(groupCtx, wallet.ID)
		switch {
		case errors.Is(err, ledger.ErrInvalidBalance):
			report.Reconciliation = &reconciliation
			collect("Balance drift: wallet holds %d, ledger sums to %d", reconciliation.Balance, reconciliation.LedgerBalance)
		case err != nil:
			collect("No credit balance found: %v", err)
		default:
			report.Reconciliation = &reconciliation
		}
		return nil
	})
	group.Go(func() error {
		payments, err := service.reader.ListPaymentsByWallet(groupCtx, wallet.ID, service.paymentLimit)
		if err != nil {
			collect("Payments unavailable: %v", err)
			return nil
		}
		report.Payments = service.attachAttempts(groupCtx, payments, collect)
		return nil
	})
	_ = group.Wait()
	return report
}

func (service *Service) attachAttempts(ctx context.Context, payments []ledger.Payment, collect func(string, ...any)) []PaymentView {
	views := make([]PaymentView, len(payments))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(attemptFetchConcurrency)
	for index, payment := range payments {
		views[index] = PaymentView{Payment: payment}
		group.Go(func() error {
			attempts, err := service.reader.ListPaymentAttempts(groupCtx, payment.ID)
			if err != nil {
				collect("Attempts unavailable for payment %s: %v", payment.ID, err)
				return nil
			}
			views[index].Attempts = attempts
			return nil
		})
	}
	_ = group.Wait()
	return views
}

func (report *Report) note(format string, args ...any) {
	report.Notes = append(report.Notes, fmt.Sprintf(format, args...))
}
