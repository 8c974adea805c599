package pgstore_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MarkoPoloResearchLab/creditwallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/creditwallet/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const postgresURLEnv = "CREDITWALLET_TEST_POSTGRES_URL"

func TestReaderAgainstPostgres(test *testing.T) {
	dsn := os.Getenv(postgresURLEnv)
	if dsn == "" {
		test.Skipf("%s is not set", postgresURLEnv)
	}
	ctx := context.Background()
	database, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		test.Fatalf("postgres open failed: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := gormstore.Migrate(database); err != nil {
		test.Fatalf("automigrate failed: %v", err)
	}
	store := gormstore.New(database)

	// rows are scoped by a per-run suffix so the database can be shared
	suffix := uuid.NewString()
	userID := "pg-user-" + suffix
	if _, err := store.CreateUser(ctx, ledger.User{ID: userID, ExternalID: "auth0|" + suffix, Email: suffix + "@example.com"}); err != nil {
		test.Fatalf("seed user: %v", err)
	}
	tenantID := mustTenant(test, "pg-"+suffix)
	wallet, err := store.CreateWallet(ctx, ledger.WalletInput{TenantID: tenantID, CustomerID: userID, Currency: ledger.DefaultCurrency})
	if err != nil {
		test.Fatalf("create wallet: %v", err)
	}
	payment := seedSettledPayment(test, store, tenantID, wallet.ID, "order_"+suffix)

	pool, err := pgstore.Open(ctx, dsn)
	if err != nil {
		test.Fatalf("pool open: %v", err)
	}
	test.Cleanup(pool.Close)
	reader := pgstore.New(pool)

	for _, raw := range []string{userID, "auth0|" + suffix} {
		user, err := reader.ResolveUser(ctx, mustCustomerRef(test, raw))
		if err != nil {
			test.Fatalf("resolve %s: %v", raw, err)
		}
		if user.ID != userID || user.ExternalID != "auth0|"+suffix {
			test.Fatalf("unexpected user for %s: %+v", raw, user)
		}
	}
	if _, err := reader.ResolveUser(ctx, mustCustomerRef(test, "missing-"+suffix)); !errors.Is(err, ledger.ErrUserNotFound) {
		test.Fatalf("expected user not found, got %v", err)
	}

	payments, err := reader.ListPaymentsByWallet(ctx, wallet.ID, 5)
	if err != nil {
		test.Fatalf("list payments: %v", err)
	}
	if len(payments) != 1 {
		test.Fatalf("expected one payment, got %+v", payments)
	}
	listed := payments[0]
	if listed.ID != payment.ID || listed.Status != ledger.PaymentSucceeded || listed.ProviderOrderID != "order_"+suffix || listed.CreditsApplied != 20 || listed.SucceededAt == nil {
		test.Fatalf("unexpected replica payment: %+v", listed)
	}

	attempts, err := reader.ListPaymentAttempts(ctx, payment.ID)
	if err != nil {
		test.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 2 || attempts[0].Status != ledger.AttemptPending || attempts[1].Status != ledger.AttemptSucceeded || attempts[1].AttemptNumber != 2 {
		test.Fatalf("unexpected replica attempts: %+v", attempts)
	}
	none, err := reader.ListPaymentAttempts(ctx, "not-a-uuid")
	if err != nil || len(none) != 0 {
		test.Fatalf("expected no attempts for a malformed id, got %+v (%v)", none, err)
	}
}

func seedSettledPayment(test *testing.T, store *gormstore.Store, tenantID ledger.TenantID, walletID ledger.WalletID, orderID string) ledger.Payment {
	test.Helper()
	ctx := context.Background()
	idempotencyKey, err := ledger.NewIdempotencyKey(uuid.NewString())
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	payment, err := store.CreatePayment(ctx, ledger.PaymentInput{
		TenantID:       tenantID,
		IdempotencyKey: idempotencyKey,
		DestinationID:  walletID,
		Gateway:        "razorpay",
		Amount:         2000,
		Currency:       "INR",
		Credits:        20,
	})
	if err != nil {
		test.Fatalf("create payment: %v", err)
	}
	if _, err := store.TransitionPayment(ctx, payment.ID, []ledger.PaymentStatus{ledger.PaymentPending}, ledger.PaymentUpdate{ProviderOrderID: orderID}); err != nil {
		test.Fatalf("attach order: %v", err)
	}
	credited := int64(20)
	if _, err := store.TransitionPayment(ctx, payment.ID, ledger.OpenPaymentStatuses(), ledger.PaymentUpdate{
		Status:            ledger.PaymentSucceeded,
		ProviderPaymentID: "pay_" + orderID,
		CreditsApplied:    &credited,
		BalanceAfter:      &credited,
	}); err != nil {
		test.Fatalf("settle payment: %v", err)
	}
	for _, status := range []ledger.AttemptStatus{ledger.AttemptPending, ledger.AttemptSucceeded} {
		if _, err := store.AppendPaymentAttempt(ctx, ledger.PaymentAttemptInput{PaymentID: payment.ID, TenantID: tenantID, Status: status}); err != nil {
			test.Fatalf("append attempt: %v", err)
		}
	}
	return payment
}

func mustTenant(test *testing.T, raw string) ledger.TenantID {
	test.Helper()
	tenantID, err := ledger.NewTenantID(raw)
	if err != nil {
		test.Fatalf("tenant id: %v", err)
	}
	return tenantID
}

func mustCustomerRef(test *testing.T, raw string) ledger.CustomerRef {
	test.Helper()
	ref, err := ledger.NewCustomerRef(raw)
	if err != nil {
		test.Fatalf("customer ref: %v", err)
	}
	return ref
}
