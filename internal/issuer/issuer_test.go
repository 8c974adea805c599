package issuer_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/internal/issuer"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	testUserID    = "user-1"
	testProjectID = "project-1"
	testAPIID     = "api-1"
	testAPIPath   = "/weather"
)

var errCommit = errors.New("commit failed")

type fakeRegistrar struct {
	mutex       sync.Mutex
	registered  []string
	deleted     []string
	registerErr error
}

func (registrar *fakeRegistrar) RegisterAPIKey(ctx context.Context, apiPath string, key string, name string) error {
	registrar.mutex.Lock()
	defer registrar.mutex.Unlock()
	if registrar.registerErr != nil {
		return registrar.registerErr
	}
	registrar.registered = append(registrar.registered, apiPath+"|"+key+"|"+name)
	return nil
}

func (registrar *fakeRegistrar) DeleteAPIKey(ctx context.Context, apiPath string, key string) error {
	registrar.mutex.Lock()
	defer registrar.mutex.Unlock()
	registrar.deleted = append(registrar.deleted, apiPath+"|"+key)
	return nil
}

// stalledRegistrar never answers until the caller gives up.
type stalledRegistrar struct {
	fakeRegistrar
}

func (registrar *stalledRegistrar) RegisterAPIKey(ctx context.Context, apiPath string, key string, name string) error {
	<-ctx.Done()
	return ctx.Err()
}

// commitFailingStore runs the unit of work and then refuses to commit it.
type commitFailingStore struct {
	ledger.Store
}

func (store commitFailingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.Store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		if err := fn(ctx, txStore); err != nil {
			return err
		}
		return errCommit
	})
}

type countingRecorder struct {
	issued atomic.Int32
}

func (recorder *countingRecorder) RecordAPIKeyIssued() {
	recorder.issued.Add(1)
}

func TestGenerateAPIKeyDeductsAndCreatesSubscription(test *testing.T) {
	store, wallets := newTestStore(test)
	registrar := &fakeRegistrar{}
	recorder := &countingRecorder{}
	keyIssuer := newIssuer(test, store, wallets, registrar, issuer.WithRecorder(recorder))
	wallet := seedWallet(test, wallets, 50)
	ctx := context.Background()

	issued, err := keyIssuer.GenerateAPIKey(ctx, mustCustomerRef(test, testUserID), issuer.IssueRequest{
		CreditCost: 10,
		KeyName:    "my key",
		APIID:      testAPIID,
		ProjectID:  testProjectID,
	})
	if err != nil {
		test.Fatalf("generate api key: %v", err)
	}
	if !strings.HasPrefix(issued.APIKey, issuer.DefaultKeyPrefix) || len(issued.APIKey) != len(issuer.DefaultKeyPrefix)+64 {
		test.Fatalf("unexpected key %q", issued.APIKey)
	}
	if issued.RemainingCredits != 40 || !strings.HasPrefix(issued.SubscriptionID, "sub_") {
		test.Fatalf("unexpected result: %+v", issued)
	}
	subscription, err := store.GetSubscriptionByAPIKey(ctx, issued.APIKey)
	if err != nil {
		test.Fatalf("subscription lookup: %v", err)
	}
	if subscription.ID != issued.SubscriptionID || subscription.UserID != testUserID || subscription.CreditCost != 10 || subscription.KeyName != "my key" {
		test.Fatalf("unexpected subscription: %+v", subscription)
	}
	if len(registrar.registered) != 1 || registrar.registered[0] != testAPIPath+"|"+issued.APIKey+"|my key" {
		test.Fatalf("unexpected registrations: %v", registrar.registered)
	}
	transactions, err := wallets.GetTransactions(ctx, wallet.ID, ledger.TransactionFilter{Type: ledger.TransactionDebit})
	if err != nil {
		test.Fatalf("transactions: %v", err)
	}
	if len(transactions) != 1 || transactions[0].ReferenceID != "api_key:"+issued.SubscriptionID || transactions[0].Subtype != ledger.SubtypePayment {
		test.Fatalf("unexpected debit: %+v", transactions)
	}
	if recorder.issued.Load() != 1 {
		test.Fatalf("expected one recorded issue")
	}
}

func TestGenerateAPIKeyRollsBackOnFailure(test *testing.T) {
	testCases := []struct {
		name        string
		request     issuer.IssueRequest
		registerErr error
		expected    error
	}{
		{
			name:     "missing api",
			request:  issuer.IssueRequest{CreditCost: 10, APIID: "missing", ProjectID: testProjectID},
			expected: ledger.ErrAPINotFound,
		},
		{
			name:     "missing project",
			request:  issuer.IssueRequest{CreditCost: 10, APIID: testAPIID, ProjectID: "missing"},
			expected: ledger.ErrProjectNotFound,
		},
		{
			name:     "insufficient credits",
			request:  issuer.IssueRequest{CreditCost: 100, APIID: testAPIID, ProjectID: testProjectID},
			expected: ledger.ErrInsufficientCredits,
		},
		{
			name:        "gateway failure",
			request:     issuer.IssueRequest{CreditCost: 10, APIID: testAPIID, ProjectID: testProjectID},
			registerErr: errors.New("gateway down"),
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			store, wallets := newTestStore(test)
			registrar := &fakeRegistrar{registerErr: testCase.registerErr}
			keyIssuer := newIssuer(test, store, wallets, registrar)
			wallet := seedWallet(test, wallets, 50)

			_, err := keyIssuer.GenerateAPIKey(context.Background(), mustCustomerRef(test, testUserID), testCase.request)
			if err == nil {
				test.Fatalf("expected an error")
			}
			if testCase.expected != nil && !errors.Is(err, testCase.expected) {
				test.Fatalf("expected %v, got %v", testCase.expected, err)
			}
			if testCase.registerErr != nil && (!errors.Is(err, testCase.registerErr) || !errors.Is(err, issuer.ErrGatewayRegistration)) {
				test.Fatalf("expected gateway error, got %v", err)
			}
			assertUntouched(test, wallets, wallet.ID, 50)
		})
	}
}

func TestGenerateAPIKeyCompensatesGatewayWhenCommitFails(test *testing.T) {
	store, wallets := newTestStore(test)
	registrar := &fakeRegistrar{}
	keyIssuer := newIssuer(test, commitFailingStore{Store: store}, wallets, registrar)
	wallet := seedWallet(test, wallets, 50)

	_, err := keyIssuer.GenerateAPIKey(context.Background(), mustCustomerRef(test, testUserID), issuer.IssueRequest{
		CreditCost: 10,
		APIID:      testAPIID,
		ProjectID:  testProjectID,
	})
	if !errors.Is(err, errCommit) {
		test.Fatalf("expected commit error, got %v", err)
	}
	if len(registrar.registered) != 1 || len(registrar.deleted) != 1 {
		test.Fatalf("expected one registration and one cleanup, got %v / %v", registrar.registered, registrar.deleted)
	}
	registeredKey := strings.Split(registrar.registered[0], "|")[1]
	if registrar.deleted[0] != testAPIPath+"|"+registeredKey {
		test.Fatalf("cleanup targeted the wrong key: %v", registrar.deleted)
	}
	assertUntouched(test, wallets, wallet.ID, 50)
}

func TestGenerateAPIKeyBoundsGatewayRegistration(test *testing.T) {
	store, wallets := newTestStore(test)
	registrar := &stalledRegistrar{}
	keyIssuer := newIssuer(test, store, wallets, registrar, issuer.WithRegistrationTimeout(50*time.Millisecond))
	wallet := seedWallet(test, wallets, 50)

	started := time.Now()
	_, err := keyIssuer.GenerateAPIKey(context.Background(), mustCustomerRef(test, testUserID), issuer.IssueRequest{
		CreditCost: 10,
		APIID:      testAPIID,
		ProjectID:  testProjectID,
	})
	if !errors.Is(err, issuer.ErrGatewayRegistration) || !errors.Is(err, context.DeadlineExceeded) {
		test.Fatalf("expected bounded gateway failure, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		test.Fatalf("registration held the unit of work for %s", elapsed)
	}
	if len(registrar.deleted) != 1 || !strings.HasPrefix(registrar.deleted[0], testAPIPath+"|veil_") {
		test.Fatalf("expected cleanup of the possibly registered key, got %v", registrar.deleted)
	}
	assertUntouched(test, wallets, wallet.ID, 50)
}

func TestGenerateAPIKeyValidatesInput(test *testing.T) {
	store, wallets := newTestStore(test)
	keyIssuer := newIssuer(test, store, wallets, nil)
	ctx := context.Background()
	customer := mustCustomerRef(test, testUserID)

	testCases := []struct {
		name     string
		request  issuer.IssueRequest
		expected error
	}{
		{name: "zero cost", request: issuer.IssueRequest{APIID: testAPIID, ProjectID: testProjectID}, expected: ledger.ErrInvalidAmount},
		{name: "missing api id", request: issuer.IssueRequest{CreditCost: 1, ProjectID: testProjectID}, expected: ledger.ErrMissingRequiredArgument},
		{name: "missing project id", request: issuer.IssueRequest{CreditCost: 1, APIID: testAPIID}, expected: ledger.ErrMissingRequiredArgument},
		{name: "no wallet", request: issuer.IssueRequest{CreditCost: 1, APIID: testAPIID, ProjectID: testProjectID}, expected: ledger.ErrWalletNotFound},
	}
	for _, testCase := range testCases {
		if _, err := keyIssuer.GenerateAPIKey(ctx, customer, testCase.request); !errors.Is(err, testCase.expected) {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expected, err)
		}
	}
	if _, err := issuer.New(nil, wallets, nil, time.Now); !errors.Is(err, ledger.ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config, got %v", err)
	}
}

func TestGenerateAPIKeyWithoutGatewayUsesCustomPrefix(test *testing.T) {
	store, wallets := newTestStore(test)
	keyIssuer := newIssuer(test, store, wallets, nil, issuer.WithKeyPrefix("test_"))
	seedWallet(test, wallets, 5)
	issued, err := keyIssuer.GenerateAPIKey(context.Background(), mustCustomerRef(test, "auth0|"+testUserID), issuer.IssueRequest{
		CreditCost: 5,
		APIID:      testAPIID,
		ProjectID:  testProjectID,
	})
	if err != nil {
		test.Fatalf("generate api key: %v", err)
	}
	if !strings.HasPrefix(issued.APIKey, "test_") || issued.RemainingCredits != 0 {
		test.Fatalf("unexpected result: %+v", issued)
	}
}

func assertUntouched(test *testing.T, wallets *ledger.Service, walletID ledger.WalletID, expected int64) {
	test.Helper()
	ctx := context.Background()
	current, err := wallets.GetWallet(ctx, walletID)
	if err != nil {
		test.Fatalf("get wallet: %v", err)
	}
	if current.Balance != expected {
		test.Fatalf("expected balance %d, got %d", expected, current.Balance)
	}
	debits, err := wallets.GetTransactions(ctx, walletID, ledger.TransactionFilter{Type: ledger.TransactionDebit})
	if err != nil {
		test.Fatalf("transactions: %v", err)
	}
	if len(debits) != 0 {
		test.Fatalf("expected no residual debit, got %+v", debits)
	}
}

func newTestStore(test *testing.T) (*gormstore.Store, *ledger.Service) {
	test.Helper()
	database, err := gorm.Open(sqlite.Open(test.TempDir()+"/issuer.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := gormstore.Migrate(database); err != nil {
		test.Fatalf("automigrate failed: %v", err)
	}
	store := gormstore.New(database)
	ctx := context.Background()
	if _, err := store.CreateUser(ctx, ledger.User{ID: testUserID, ExternalID: "auth0|" + testUserID}); err != nil {
		test.Fatalf("seed user: %v", err)
	}
	if err := store.CreateProject(ctx, ledger.Project{ID: testProjectID, OwnerID: testUserID, Name: "Demo"}); err != nil {
		test.Fatalf("seed project: %v", err)
	}
	if err := store.CreateAPI(ctx, ledger.API{ID: testAPIID, Name: "Weather", Path: testAPIPath}); err != nil {
		test.Fatalf("seed api: %v", err)
	}
	var tick atomic.Int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	wallets, err := ledger.NewService(store, func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Millisecond)
	})
	if err != nil {
		test.Fatalf("wallet service: %v", err)
	}
	return store, wallets
}

func newIssuer(test *testing.T, store ledger.Store, wallets *ledger.Service, registrar issuer.Registrar, options ...issuer.Option) *issuer.Issuer {
	test.Helper()
	keyIssuer, err := issuer.New(store, wallets, registrar, time.Now, options...)
	if err != nil {
		test.Fatalf("issuer init failed: %v", err)
	}
	return keyIssuer
}

func seedWallet(test *testing.T, wallets *ledger.Service, balance int64) ledger.Wallet {
	test.Helper()
	wallet, err := wallets.CreateWallet(context.Background(), mustCustomerRef(test, testUserID), balance)
	if err != nil {
		test.Fatalf("seed wallet: %v", err)
	}
	return wallet
}

func mustCustomerRef(test *testing.T, raw string) ledger.CustomerRef {
	test.Helper()
	ref, err := ledger.NewCustomerRef(raw)
	if err != nil {
		test.Fatalf("customer ref: %v", err)
	}
	return ref
}
