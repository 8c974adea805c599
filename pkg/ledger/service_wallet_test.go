package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

const (
	internalUserID = "user-1"
	externalUserID = "auth0|user-1"
	otherUserID    = "user-2"
)

func TestCreateWalletSeedsInitialBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	wallet, err := service.CreateWallet(context.Background(), mustCustomerRef(test, internalUserID), 50)
	if err != nil {
		test.Fatalf("create wallet: %v", err)
	}
	if wallet.Balance != 50 || wallet.Currency != DefaultCurrency || wallet.CustomerID != internalUserID {
		test.Fatalf("unexpected wallet: %+v", wallet)
	}
	if len(store.transactions) != 1 {
		test.Fatalf("expected one seed transaction, got %d", len(store.transactions))
	}
	seed := store.transactions[0]
	if seed.Type != TransactionCredit || seed.Subtype != SubtypeFree || seed.ReferenceType != ReferenceExternal || seed.ReferenceID != referenceSystem {
		test.Fatalf("unexpected seed transaction: %+v", seed)
	}
	if seed.Description != descriptionInitial || seed.BalanceAfter != 50 {
		test.Fatalf("unexpected seed details: %+v", seed)
	}
}

func TestCreateWalletWithoutInitialBalanceWritesNoTransaction(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	wallet, err := service.CreateWallet(context.Background(), mustCustomerRef(test, internalUserID), 0)
	if err != nil {
		test.Fatalf("create wallet: %v", err)
	}
	if wallet.Balance != 0 || len(store.transactions) != 0 {
		test.Fatalf("expected empty wallet, got %+v with %d transactions", wallet, len(store.transactions))
	}
}

func TestCreateWalletResolvesExternalIdentity(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	wallet, err := service.CreateWallet(context.Background(), mustCustomerRef(test, externalUserID), 0)
	if err != nil {
		test.Fatalf("create wallet: %v", err)
	}
	if wallet.CustomerID != internalUserID {
		test.Fatalf("expected internal customer id, got %q", wallet.CustomerID)
	}
	found, err := service.FindWalletByCustomer(context.Background(), mustCustomerRef(test, internalUserID))
	if err != nil || found == nil || found.ID != wallet.ID {
		test.Fatalf("expected lookup by internal id to find wallet, got %+v (%v)", found, err)
	}
}

func TestCreateWalletRejectsInvalidInput(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		customer string
		initial  int64
		prepare  func(test *testing.T, service *Service)
		wantErr  error
	}{
		{name: "negative initial balance", customer: internalUserID, initial: -1, wantErr: ErrInvalidInitialBalance},
		{name: "unknown user", customer: "ghost", wantErr: ErrUserNotFound},
		{
			name:     "duplicate wallet",
			customer: externalUserID,
			prepare: func(test *testing.T, service *Service) {
				if _, err := service.CreateWallet(context.Background(), mustCustomerRef(test, internalUserID), 0); err != nil {
					test.Fatalf("seed wallet: %v", err)
				}
			},
			wantErr: ErrWalletExists,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			service := mustNewService(test, store)
			if testCase.prepare != nil {
				testCase.prepare(test, service)
			}
			_, err := service.CreateWallet(context.Background(), mustCustomerRef(test, testCase.customer), testCase.initial)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestFindWalletByCustomerReturnsNilWhenMissing(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(test))
	wallet, err := service.FindWalletByCustomer(context.Background(), mustCustomerRef(test, otherUserID))
	if err != nil {
		test.Fatalf("expected no error, got %v", err)
	}
	if wallet != nil {
		test.Fatalf("expected nil wallet, got %+v", wallet)
	}
}

func TestWalletAddDeductScenario(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	ctx := context.Background()

	wallet, err := service.CreateWallet(ctx, mustCustomerRef(test, internalUserID), 0)
	if err != nil {
		test.Fatalf("create wallet: %v", err)
	}
	credit, err := service.AddCredits(ctx, wallet.ID, CreditRequest{Amount: 100, Description: "init"})
	if err != nil {
		test.Fatalf("add credits: %v", err)
	}
	if credit.BalanceAfter != 100 {
		test.Fatalf("expected balance 100, got %d", credit.BalanceAfter)
	}
	debit, err := service.DeductCredits(ctx, wallet.ID, CreditRequest{Amount: 25, Description: "API_CALL"})
	if err != nil {
		test.Fatalf("deduct credits: %v", err)
	}
	if debit.BalanceAfter != 75 || debit.Type != TransactionDebit {
		test.Fatalf("unexpected debit: %+v", debit)
	}
	if _, err := service.DeductCredits(ctx, wallet.ID, CreditRequest{Amount: 1000}); !errors.Is(err, ErrInsufficientCredits) {
		test.Fatalf("expected insufficient credits, got %v", err)
	}
	current, err := service.GetWallet(ctx, wallet.ID)
	if err != nil {
		test.Fatalf("get wallet: %v", err)
	}
	if current.Balance != 75 {
		test.Fatalf("expected balance 75, got %d", current.Balance)
	}
	if len(store.transactions) != 2 {
		test.Fatalf("expected two transactions, got %d", len(store.transactions))
	}
	report, err := service.Reconcile(ctx, wallet.ID)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.CreditTotal != 100 || report.DebitTotal != 25 || !report.Consistent() {
		test.Fatalf("unexpected reconciliation: %+v", report)
	}
}

func TestAddCreditsAppliesDefaults(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	wallet := mustWallet(test, service, 0)

	transaction, err := service.AddCredits(context.Background(), wallet.ID, CreditRequest{Amount: 10})
	if err != nil {
		test.Fatalf("add credits: %v", err)
	}
	if transaction.Subtype != SubtypePaid || transaction.ReferenceType != ReferenceExternal || transaction.ReferenceID != referenceManual {
		test.Fatalf("unexpected defaults: %+v", transaction)
	}
	if transaction.Description != descriptionCredit || transaction.Metadata.String() != "{}" || transaction.Status != TransactionCompleted {
		test.Fatalf("unexpected defaults: %+v", transaction)
	}
}

func TestDeductCreditsAppliesDefaults(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	wallet := mustWallet(test, service, 40)

	transaction, err := service.DeductCredits(context.Background(), wallet.ID, CreditRequest{Amount: 10})
	if err != nil {
		test.Fatalf("deduct credits: %v", err)
	}
	if transaction.Subtype != SubtypePayment || transaction.ReferenceID != referenceAPIUsage || transaction.Description != descriptionDebit {
		test.Fatalf("unexpected defaults: %+v", transaction)
	}
}

func TestCreditOperationsRejectNonPositiveAmounts(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	wallet := mustWallet(test, service, 10)

	if _, err := service.AddCredits(context.Background(), wallet.ID, CreditRequest{Amount: 0}); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected invalid amount for add, got %v", err)
	}
	if _, err := service.DeductCredits(context.Background(), wallet.ID, CreditRequest{Amount: -3}); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected invalid amount for deduct, got %v", err)
	}
	if len(store.transactions) != 1 {
		test.Fatalf("expected only the seed transaction, got %d", len(store.transactions))
	}
}

func TestCreditOperationsOnMissingWallet(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(test))
	missing := mustWalletID(test, "wallet-missing")
	if _, err := service.AddCredits(context.Background(), missing, CreditRequest{Amount: 5}); !errors.Is(err, ErrWalletNotFound) {
		test.Fatalf("expected wallet not found, got %v", err)
	}
	if _, err := service.DeductCredits(context.Background(), missing, CreditRequest{Amount: 5}); !errors.Is(err, ErrWalletNotFound) {
		test.Fatalf("expected wallet not found, got %v", err)
	}
}

func TestDeductCreditsRollsBackOnStoreFailure(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	wallet := mustWallet(test, service, 30)
	store.applyError = errors.New("write failed")

	if _, err := service.DeductCredits(context.Background(), wallet.ID, CreditRequest{Amount: 10}); err == nil {
		test.Fatalf("expected error")
	}
	current, err := service.GetWallet(context.Background(), wallet.ID)
	if err != nil {
		test.Fatalf("get wallet: %v", err)
	}
	if current.Balance != 30 {
		test.Fatalf("expected untouched balance 30, got %d", current.Balance)
	}
}

func TestHasSufficientCredits(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(test))
	wallet := mustWallet(test, service, 20)

	enough, err := service.HasSufficientCredits(context.Background(), wallet.ID, 20)
	if err != nil || !enough {
		test.Fatalf("expected sufficient credits, got %v (%v)", enough, err)
	}
	enough, err = service.HasSufficientCredits(context.Background(), wallet.ID, 21)
	if err != nil || enough {
		test.Fatalf("expected insufficient credits, got %v (%v)", enough, err)
	}
}

func TestGetTransactionsPagesNewestFirst(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(test))
	wallet := mustWallet(test, service, 0)
	ctx := context.Background()
	for index := 1; index <= 3; index++ {
		if _, err := service.AddCredits(ctx, wallet.ID, CreditRequest{Amount: Credits(index * 10)}); err != nil {
			test.Fatalf("add credits: %v", err)
		}
	}
	if _, err := service.DeductCredits(ctx, wallet.ID, CreditRequest{Amount: 5}); err != nil {
		test.Fatalf("deduct credits: %v", err)
	}

	page, err := service.GetTransactions(ctx, wallet.ID, TransactionFilter{Limit: 2})
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Type != TransactionDebit || page[1].Amount != 30 {
		test.Fatalf("unexpected first page: %+v", page)
	}
	credits, err := service.GetTransactions(ctx, wallet.ID, TransactionFilter{Offset: 1, Type: "credit"})
	if err != nil {
		test.Fatalf("list credits: %v", err)
	}
	if len(credits) != 2 || credits[0].Amount != 20 || credits[1].Amount != 10 {
		test.Fatalf("unexpected filtered page: %+v", credits)
	}
	if _, err := service.GetTransactions(ctx, wallet.ID, TransactionFilter{Limit: -1}); !errors.Is(err, ErrInvalidPagination) {
		test.Fatalf("expected invalid pagination, got %v", err)
	}
	if _, err := service.GetTransactions(ctx, wallet.ID, TransactionFilter{Type: "TRANSFER"}); !errors.Is(err, ErrInvalidTransactionType) {
		test.Fatalf("expected invalid type, got %v", err)
	}
}

func TestFindWalletByExternalReference(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(test))
	wallet := mustWallet(test, service, 0)
	ctx := context.Background()
	if _, err := service.AddCredits(ctx, wallet.ID, CreditRequest{Amount: 5, ReferenceType: ReferencePayment, ReferenceID: "order_abc"}); err != nil {
		test.Fatalf("add credits: %v", err)
	}

	byKey, err := service.FindWalletByExternalReference(ctx, "test_key_"+internalUserID)
	if err != nil || byKey == nil || byKey.ID != wallet.ID {
		test.Fatalf("expected wallet by legacy key, got %+v (%v)", byKey, err)
	}
	byReference, err := service.FindWalletByExternalReference(ctx, "order_abc")
	if err != nil || byReference == nil || byReference.ID != wallet.ID {
		test.Fatalf("expected wallet by reference, got %+v (%v)", byReference, err)
	}
	missing, err := service.FindWalletByExternalReference(ctx, "order_unknown")
	if err != nil || missing != nil {
		test.Fatalf("expected nil wallet, got %+v (%v)", missing, err)
	}
	if _, err := service.FindWalletByExternalReference(ctx, " "); !errors.Is(err, ErrMissingRequiredArgument) {
		test.Fatalf("expected missing argument, got %v", err)
	}
}

func TestReconcileDetectsDrift(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	wallet := mustWallet(test, service, 10)
	drifted := store.wallets[wallet.ID.String()]
	drifted.Balance = 99
	store.wallets[wallet.ID.String()] = drifted

	report, err := service.Reconcile(context.Background(), wallet.ID)
	if !errors.Is(err, ErrInvalidBalance) {
		test.Fatalf("expected invalid balance, got %v", err)
	}
	if report.LedgerBalance != 10 || report.Balance != 99 {
		test.Fatalf("unexpected report: %+v", report)
	}
}

func TestWithStoreBindsTransactionStore(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	wallet := mustWallet(test, service, 0)

	err := store.WithTx(context.Background(), func(ctx context.Context, txStore Store) error {
		bound := service.WithStore(txStore)
		if _, err := bound.AddCredits(ctx, wallet.ID, CreditRequest{Amount: 15}); err != nil {
			return err
		}
		return errors.New("abort outer unit")
	})
	if err == nil {
		test.Fatalf("expected outer error")
	}
	current, err := service.GetWallet(context.Background(), wallet.ID)
	if err != nil {
		test.Fatalf("get wallet: %v", err)
	}
	if current.Balance != 0 {
		test.Fatalf("expected outer rollback to undo credit, got %d", current.Balance)
	}
	if service.Tenant().String() != DefaultTenantID {
		test.Fatalf("expected default tenant, got %q", service.Tenant().String())
	}
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, time.Now); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config for nil clock, got %v", err)
	}
	if _, err := NewService(newStubStore(test), time.Now, WithTenant(TenantID{})); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config for empty tenant, got %v", err)
	}
}

// stubStore keeps wallet state in memory and snapshots it per unit of work.
type stubStore struct {
	Store
	users        []User
	wallets      map[string]Wallet
	transactions []Transaction
	nextID       int
	depth        int

	findWalletError error
	lockWalletError error
	getWalletError  error
	applyError      error
	listError       error
	sumError        error
	referenceError  error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		users:   []User{{ID: internalUserID, ExternalID: externalUserID}, {ID: otherUserID, ExternalID: "auth0|user-2"}},
		wallets: map[string]Wallet{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	walletSnapshot := make(map[string]Wallet, len(store.wallets))
	for key, value := range store.wallets {
		walletSnapshot[key] = value
	}
	transactionCount := len(store.transactions)
	store.depth++
	err := fn(ctx, store)
	store.depth--
	if err != nil {
		store.wallets = walletSnapshot
		store.transactions = store.transactions[:transactionCount]
	}
	return err
}

func (store *stubStore) ResolveUser(_ context.Context, ref CustomerRef) (User, error) {
	for _, user := range store.users {
		if user.ID == ref.String() || user.ExternalID == ref.String() {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (store *stubStore) CreateWallet(_ context.Context, input WalletInput) (Wallet, error) {
	for _, wallet := range store.wallets {
		if wallet.CustomerID == input.CustomerID && wallet.TenantID == input.TenantID {
			return Wallet{}, ErrWalletExists
		}
	}
	store.nextID++
	wallet := Wallet{
		ID:         WalletID{value: fmt.Sprintf("wallet-%d", store.nextID)},
		TenantID:   input.TenantID,
		CustomerID: input.CustomerID,
		Currency:   input.Currency,
		CreatedAt:  input.CreatedAt,
		UpdatedAt:  input.CreatedAt,
	}
	store.wallets[wallet.ID.String()] = wallet
	return wallet, nil
}

func (store *stubStore) GetWallet(_ context.Context, walletID WalletID) (Wallet, error) {
	if store.getWalletError != nil {
		return Wallet{}, store.getWalletError
	}
	wallet, ok := store.wallets[walletID.String()]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return wallet, nil
}

func (store *stubStore) LockWallet(ctx context.Context, walletID WalletID) (Wallet, error) {
	if store.lockWalletError != nil {
		return Wallet{}, store.lockWalletError
	}
	if store.depth == 0 {
		return Wallet{}, errors.New("lock outside unit of work")
	}
	return store.GetWallet(ctx, walletID)
}

func (store *stubStore) FindWalletByCustomer(ctx context.Context, tenantID TenantID, ref CustomerRef) (Wallet, error) {
	if store.findWalletError != nil {
		return Wallet{}, store.findWalletError
	}
	customerID := ref.String()
	if user, err := store.ResolveUser(ctx, ref); err == nil {
		customerID = user.ID
	}
	for _, wallet := range store.wallets {
		if wallet.CustomerID == customerID && wallet.TenantID == tenantID {
			return wallet, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (store *stubStore) ApplyTransaction(_ context.Context, input TransactionInput) (Transaction, error) {
	if store.applyError != nil {
		return Transaction{}, store.applyError
	}
	wallet, ok := store.wallets[input.WalletID.String()]
	if !ok {
		return Transaction{}, ErrWalletNotFound
	}
	if input.Type == TransactionDebit {
		if wallet.Balance < input.Amount.Int64() {
			return Transaction{}, ErrInsufficientCredits
		}
		wallet.Balance -= input.Amount.Int64()
	} else {
		wallet.Balance += input.Amount.Int64()
	}
	store.wallets[wallet.ID.String()] = wallet
	store.nextID++
	transaction := Transaction{
		ID:            fmt.Sprintf("txn-%d", store.nextID),
		WalletID:      wallet.ID,
		TenantID:      wallet.TenantID,
		CustomerID:    wallet.CustomerID,
		Type:          input.Type,
		Subtype:       input.Subtype,
		Status:        input.Status,
		Amount:        input.Amount,
		BalanceAfter:  wallet.Balance,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Description:   input.Description,
		Metadata:      input.Metadata,
		CreatedAt:     input.CreatedAt,
	}
	store.transactions = append(store.transactions, transaction)
	return transaction, nil
}

func (store *stubStore) ListTransactions(_ context.Context, walletID WalletID, filter TransactionFilter) ([]Transaction, error) {
	if store.listError != nil {
		return nil, store.listError
	}
	matching := []Transaction{}
	for index := len(store.transactions) - 1; index >= 0; index-- {
		transaction := store.transactions[index]
		if transaction.WalletID != walletID {
			continue
		}
		if filter.Type != "" && transaction.Type != filter.Type {
			continue
		}
		matching = append(matching, transaction)
	}
	if filter.Offset >= len(matching) {
		return []Transaction{}, nil
	}
	matching = matching[filter.Offset:]
	if len(matching) > filter.Limit {
		matching = matching[:filter.Limit]
	}
	return matching, nil
}

func (store *stubStore) SumCompletedTransactions(_ context.Context, walletID WalletID) (int64, int64, error) {
	if store.sumError != nil {
		return 0, 0, store.sumError
	}
	var credits, debits int64
	for _, transaction := range store.transactions {
		if transaction.WalletID != walletID || transaction.Status != TransactionCompleted {
			continue
		}
		if transaction.Type == TransactionDebit {
			debits += transaction.Amount.Int64()
		} else {
			credits += transaction.Amount.Int64()
		}
	}
	return credits, debits, nil
}

func (store *stubStore) FindTransactionByReference(_ context.Context, referenceID string) (Transaction, error) {
	if store.referenceError != nil {
		return Transaction{}, store.referenceError
	}
	for index := len(store.transactions) - 1; index >= 0; index-- {
		if store.transactions[index].ReferenceID == referenceID {
			return store.transactions[index], nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return time.Unix(1700000000, 0).UTC() }, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustWallet(test *testing.T, service *Service, initialBalance int64) Wallet {
	test.Helper()
	wallet, err := service.CreateWallet(context.Background(), mustCustomerRef(test, internalUserID), initialBalance)
	if err != nil {
		test.Fatalf("create wallet: %v", err)
	}
	return wallet
}

func mustCustomerRef(test *testing.T, raw string) CustomerRef {
	test.Helper()
	ref, err := NewCustomerRef(raw)
	if err != nil {
		test.Fatalf("customer ref: %v", err)
	}
	return ref
}

func mustWalletID(test *testing.T, raw string) WalletID {
	test.Helper()
	walletID, err := NewWalletID(raw)
	if err != nil {
		test.Fatalf("wallet id: %v", err)
	}
	return walletID
}
