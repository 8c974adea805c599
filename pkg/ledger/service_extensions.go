package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const legacyAPIKeyPrefix = "test_key_"

// Tenant returns the tenant the service is scoped to.
func (service *Service) Tenant() TenantID {
	return service.tenantID
}

// WithStore returns a copy of the service bound to txStore, so callers can
// fold wallet mutations into their own unit of work.
func (service *Service) WithStore(txStore Store) *Service {
	bound := *service
	bound.store = txStore
	return &bound
}

// GetTransactions lists a page of wallet history, newest first.
func (service *Service) GetTransactions(ctx context.Context, walletID WalletID, filter TransactionFilter) ([]Transaction, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidPagination)
	}
	if filter.Limit == 0 {
		filter.Limit = defaultTransactionLimit
	}
	if filter.Limit > maxTransactionLimit {
		filter.Limit = maxTransactionLimit
	}
	if filter.Type != "" {
		parsed, err := ParseTransactionType(filter.Type.String())
		if err != nil {
			return nil, err
		}
		filter.Type = parsed
	}
	if _, err := service.store.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return service.store.ListTransactions(ctx, walletID, filter)
}

// FindWalletByExternalReference is a best-effort fallback lookup. Keys of the
// form test_key_<user> resolve by customer; anything else is matched against
// past transaction reference ids.
func (service *Service) FindWalletByExternalReference(ctx context.Context, key string) (*Wallet, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrMissingRequiredArgument)
	}
	if strings.HasPrefix(trimmed, legacyAPIKeyPrefix) {
		customer, err := NewCustomerRef(strings.TrimPrefix(trimmed, legacyAPIKeyPrefix))
		if err != nil {
			return nil, nil
		}
		return service.FindWalletByCustomer(ctx, customer)
	}
	transaction, err := service.store.FindTransactionByReference(ctx, trimmed)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wallet, err := service.store.GetWallet(ctx, transaction.WalletID)
	if errors.Is(err, ErrWalletNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// Reconcile compares the running balance with the sum of completed transactions.
func (service *Service) Reconcile(ctx context.Context, walletID WalletID) (ReconciliationReport, error) {
	wallet, err := service.store.GetWallet(ctx, walletID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	credits, debits, err := service.store.SumCompletedTransactions(ctx, walletID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	report := ReconciliationReport{
		WalletID:      walletID,
		Balance:       wallet.Balance,
		CreditTotal:   credits,
		DebitTotal:    debits,
		LedgerBalance: credits - debits,
	}
	if !report.Consistent() {
		return report, WrapError("service", "balance", "reconciliation_mismatch", ErrInvalidBalance)
	}
	return report, nil
}
