package ledger

import (
	"context"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsCreditOperation(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	service := mustNewService(test, newStubStore(test), WithOperationLogger(logger))
	wallet := mustWallet(test, service, 0)

	if _, err := service.AddCredits(context.Background(), wallet.ID, CreditRequest{Amount: 100, ReferenceType: ReferencePayment, ReferenceID: "order_1"}); err != nil {
		test.Fatalf("add credits failed: %v", err)
	}
	if len(logger.entries) != 2 {
		test.Fatalf("expected two log entries, got %d", len(logger.entries))
	}
	entry := logger.entries[1]
	if entry.Operation != operationAddCredits || entry.WalletID != wallet.ID || entry.Amount != 100 || entry.ReferenceID != "order_1" {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK || entry.BalanceAfter != 100 {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
	if entry.TenantID.String() != DefaultTenantID {
		test.Fatalf("expected tenant on log entry, got %q", entry.TenantID.String())
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	service := mustNewService(test, newStubStore(test), WithOperationLogger(logger))
	wallet := mustWallet(test, service, 0)

	if _, err := service.DeductCredits(context.Background(), wallet.ID, CreditRequest{Amount: 10}); err == nil {
		test.Fatalf("expected error")
	}
	last := logger.entries[len(logger.entries)-1]
	if last.Operation != operationDeductCredit || last.Status != operationStatusError || last.Error == nil {
		test.Fatalf("expected error log entry, got %+v", last)
	}
}

func TestServiceOptionsApplyTenantAndCurrency(test *testing.T) {
	test.Parallel()
	tenant, err := NewTenantID("acme")
	if err != nil {
		test.Fatalf("tenant: %v", err)
	}
	service := mustNewService(test, newStubStore(test), WithTenant(tenant), WithCurrency("TOKENS"), nil)
	wallet := mustWallet(test, service, 0)
	if wallet.TenantID != tenant || wallet.Currency != "TOKENS" {
		test.Fatalf("unexpected wallet scope: %+v", wallet)
	}
}
