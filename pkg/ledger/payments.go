package ledger

import (
	"fmt"
	"strings"
	"time"
)

// PaymentStatus tracks a checkout order through the provider.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentAuthorized        PaymentStatus = "AUTHORIZED"
	PaymentSucceeded         PaymentStatus = "SUCCEEDED"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// ParsePaymentStatus validates a payment status.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case PaymentPending, PaymentAuthorized, PaymentSucceeded, PaymentFailed, PaymentRefunded, PaymentPartiallyRefunded:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, raw)
	}
}

func (status PaymentStatus) String() string {
	return string(status)
}

// Terminal reports whether the payment left the pending phase.
func (status PaymentStatus) Terminal() bool {
	return status != PaymentPending && status != PaymentAuthorized
}

// Settled reports whether credits were applied for the payment.
func (status PaymentStatus) Settled() bool {
	return status == PaymentSucceeded || status == PaymentRefunded || status == PaymentPartiallyRefunded
}

// OpenPaymentStatuses lists statuses a payment may be settled from.
func OpenPaymentStatuses() []PaymentStatus {
	return []PaymentStatus{PaymentPending, PaymentAuthorized}
}

// RefundablePaymentStatuses lists statuses a payment may be refunded from.
func RefundablePaymentStatuses() []PaymentStatus {
	return []PaymentStatus{PaymentSucceeded, PaymentPartiallyRefunded}
}

// AttemptStatus tracks a single processing attempt.
type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "PENDING"
	AttemptProcessing AttemptStatus = "PROCESSING"
	AttemptSucceeded  AttemptStatus = "SUCCEEDED"
	AttemptFailed     AttemptStatus = "FAILED"
)

func (status AttemptStatus) String() string {
	return string(status)
}

// DestinationWallet is the only supported payment destination.
const DestinationWallet = "WALLET"

// Payment is a checkout order whose success credits a wallet.
type Payment struct {
	ID                string
	TenantID          TenantID
	IdempotencyKey    IdempotencyKey
	DestinationType   string
	DestinationID     WalletID
	PaymentMethodType string
	Gateway           string
	ProviderOrderID   string
	ProviderPaymentID string
	ProviderSignature string
	Amount            int64
	Currency          string
	Credits           Credits
	Status            PaymentStatus
	CreditsApplied    int64
	BalanceAfter      int64
	RefundedAmount    int64
	Metadata          MetadataJSON
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SucceededAt       *time.Time
	FailedAt          *time.Time
	RefundedAt        *time.Time
}

// PaymentInput describes a payment to be persisted in PENDING state.
type PaymentInput struct {
	TenantID          TenantID
	IdempotencyKey    IdempotencyKey
	DestinationID     WalletID
	PaymentMethodType string
	Gateway           string
	Amount            int64
	Currency          string
	Credits           Credits
	Metadata          MetadataJSON
	CreatedAt         time.Time
}

// PaymentUpdate lists the columns written by a status transition.
// Empty strings and nil pointers leave the stored value untouched.
type PaymentUpdate struct {
	Status            PaymentStatus
	ProviderOrderID   string
	ProviderPaymentID string
	ProviderSignature string
	CreditsApplied    *int64
	BalanceAfter      *int64
	RefundedAmount    *int64
	ErrorMessage      string
	At                time.Time
}

// PaymentAttempt is an append-only audit record.
type PaymentAttempt struct {
	ID                string
	PaymentID         string
	TenantID          TenantID
	AttemptNumber     int
	Status            AttemptStatus
	ProviderAttemptID string
	ErrorMessage      string
	CreatedAt         time.Time
}

// PaymentAttemptInput describes an attempt to append.
type PaymentAttemptInput struct {
	PaymentID         string
	TenantID          TenantID
	Status            AttemptStatus
	ProviderAttemptID string
	ErrorMessage      string
	CreatedAt         time.Time
}
