package pgstore

import (
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
)

const testWalletID = "7d0b5c57-53a4-4f39-9a43-7dcd1b0a7c0e"

func TestPaymentRecordToPayment(test *testing.T) {
	test.Parallel()
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("IST", 19800))
	succeeded := created.Add(time.Minute)
	record := paymentRecord{
		ID:              "pay-1",
		TenantID:        "default",
		IdempotencyKey:  "idem-1",
		DestinationType: "WALLET",
		DestinationID:   testWalletID,
		Gateway:         "razorpay",
		ProviderOrderID: "order_1",
		Amount:          5000,
		Currency:        "INR",
		Credits:         50,
		Status:          "SUCCEEDED",
		CreditsApplied:  50,
		BalanceAfter:    80,
		Metadata:        `{"userId":"user-1"}`,
		CreatedAt:       created,
		UpdatedAt:       succeeded,
		SucceededAt:     &succeeded,
	}
	payment, err := record.toPayment()
	if err != nil {
		test.Fatalf("toPayment: %v", err)
	}
	if payment.Status != ledger.PaymentSucceeded || payment.Credits.Int64() != 50 || payment.DestinationID.String() != testWalletID {
		test.Fatalf("unexpected payment %+v", payment)
	}
	if payment.CreatedAt.Location() != time.UTC || payment.SucceededAt == nil || payment.SucceededAt.Location() != time.UTC {
		test.Fatalf("expected timestamps normalised to UTC")
	}
	if payment.FailedAt != nil {
		test.Fatalf("expected nil failed_at to stay nil")
	}
}

func TestPaymentRecordRejectsCorruptRows(test *testing.T) {
	test.Parallel()
	base := paymentRecord{
		TenantID:       "default",
		IdempotencyKey: "idem-1",
		DestinationID:  testWalletID,
		Status:         "PENDING",
		Metadata:       "{}",
	}
	testCases := []struct {
		name    string
		mutate  func(record *paymentRecord)
		wantErr error
	}{
		{name: "status", mutate: func(record *paymentRecord) { record.Status = "SETTLED" }, wantErr: ledger.ErrInvalidPaymentStatus},
		{name: "wallet id", mutate: func(record *paymentRecord) { record.DestinationID = "" }, wantErr: ledger.ErrInvalidWalletID},
		{name: "metadata", mutate: func(record *paymentRecord) { record.Metadata = "{" }, wantErr: ledger.ErrInvalidMetadataJSON},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			record := base
			testCase.mutate(&record)
			if _, err := record.toPayment(); !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestAttemptRecordToAttempt(test *testing.T) {
	test.Parallel()
	attempt, err := attemptRecord{
		ID:            "att-1",
		PaymentID:     "pay-1",
		TenantID:      "default",
		AttemptNumber: 2,
		Status:        "FAILED",
		ErrorMessage:  "signature mismatch",
		CreatedAt:     time.Unix(1700000000, 0),
	}.toAttempt()
	if err != nil {
		test.Fatalf("toAttempt: %v", err)
	}
	if attempt.AttemptNumber != 2 || attempt.Status != ledger.AttemptFailed || attempt.ErrorMessage != "signature mismatch" {
		test.Fatalf("unexpected attempt %+v", attempt)
	}
	if _, err := (attemptRecord{TenantID: " "}).toAttempt(); !errors.Is(err, ledger.ErrInvalidTenantID) {
		test.Fatalf("expected invalid tenant, got %v", err)
	}
}
