package ledger

import "context"

// WalletStore persists wallets and their append-only transactions.
type WalletStore interface {
	CreateWallet(ctx context.Context, input WalletInput) (Wallet, error)
	GetWallet(ctx context.Context, walletID WalletID) (Wallet, error)
	// LockWallet reads a wallet and holds its row lock until the unit of work ends.
	LockWallet(ctx context.Context, walletID WalletID) (Wallet, error)
	// FindWalletByCustomer resolves ref against internal and external user ids.
	FindWalletByCustomer(ctx context.Context, tenantID TenantID, ref CustomerRef) (Wallet, error)
	// ApplyTransaction appends a transaction and moves the balance in one statement pair.
	// Debits that would overdraw the wallet fail with ErrInsufficientCredits.
	ApplyTransaction(ctx context.Context, input TransactionInput) (Transaction, error)
	ListTransactions(ctx context.Context, walletID WalletID, filter TransactionFilter) ([]Transaction, error)
	SumCompletedTransactions(ctx context.Context, walletID WalletID) (credits int64, debits int64, err error)
	FindTransactionByReference(ctx context.Context, referenceID string) (Transaction, error)
}

// IdentityStore resolves local users.
type IdentityStore interface {
	ResolveUser(ctx context.Context, ref CustomerRef) (User, error)
	EnsureUser(ctx context.Context, externalID string, email string) (User, error)
}

// PaymentStore persists payments and their attempts.
type PaymentStore interface {
	CreatePayment(ctx context.Context, input PaymentInput) (Payment, error)
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
	GetPaymentByOrderID(ctx context.Context, providerOrderID string) (Payment, error)
	// TransitionPayment applies update only while the payment is in one of from.
	// It returns the number of rows that moved.
	TransitionPayment(ctx context.Context, paymentID string, from []PaymentStatus, update PaymentUpdate) (int64, error)
	AppendPaymentAttempt(ctx context.Context, input PaymentAttemptInput) (PaymentAttempt, error)
	ListPaymentAttempts(ctx context.Context, paymentID string) ([]PaymentAttempt, error)
	ListPaymentsByWallet(ctx context.Context, walletID WalletID, limit int) ([]Payment, error)
}

// CatalogStore reads projects and APIs and writes subscriptions.
type CatalogStore interface {
	GetProject(ctx context.Context, projectID string) (Project, error)
	GetAPI(ctx context.Context, apiID string) (API, error)
	CreateSubscription(ctx context.Context, subscription Subscription) (Subscription, error)
	GetSubscriptionByAPIKey(ctx context.Context, apiKey string) (Subscription, error)
}

// Store is the persistence contract shared by every service in the wallet core.
// WithTx runs fn in one unit of work; an error from fn rolls everything back.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	WalletStore
	IdentityStore
	PaymentStore
	CatalogStore
}
