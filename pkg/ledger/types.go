package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Credits is a non-negative integer amount of wallet credits.
type Credits int64

// WalletID identifies a wallet.
type WalletID struct {
	value string
}

// CustomerRef names a wallet owner by internal user id or external subject id.
type CustomerRef struct {
	value string
}

// TenantID scopes wallets to a tenant.
type TenantID struct {
	value string
}

// IdempotencyKey scopes duplicate detection.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewCredits validates an amount and ensures it is strictly positive.
func NewCredits(raw int64) (Credits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Credits(raw), nil
}

// Int64 exposes the raw credit count.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// NewWalletID validates and normalizes a wallet id.
func NewWalletID(raw string) (WalletID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return WalletID{}, fmt.Errorf("%w: empty value", ErrInvalidWalletID)
	}
	return WalletID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id WalletID) String() string {
	return id.value
}

// NewCustomerRef validates and normalizes a customer reference.
func NewCustomerRef(raw string) (CustomerRef, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CustomerRef{}, fmt.Errorf("%w: empty value", ErrInvalidCustomerRef)
	}
	return CustomerRef{value: trimmed}, nil
}

// String returns the normalized reference.
func (ref CustomerRef) String() string {
	return ref.value
}

// NewTenantID validates and normalizes a tenant id.
func NewTenantID(raw string) (TenantID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TenantID{}, fmt.Errorf("%w: empty value", ErrInvalidTenantID)
	}
	return TenantID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TenantID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = defaultMetadataJSON
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	if !strings.HasPrefix(normalized, "{") {
		return MetadataJSON{}, fmt.Errorf("%w: must be a json object", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// MetadataFromMap encodes a string-keyed bag into MetadataJSON.
func MetadataFromMap(values map[string]any) (MetadataJSON, error) {
	if len(values) == 0 {
		return MetadataJSON{value: defaultMetadataJSON}, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return NewMetadataJSON(string(raw))
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return defaultMetadataJSON
	}
	return metadata.value
}

// Map decodes the metadata into a generic map.
func (metadata MetadataJSON) Map() map[string]any {
	values := map[string]any{}
	_ = json.Unmarshal([]byte(metadata.String()), &values)
	return values
}

// TransactionType carries the sign of a ledger transaction.
type TransactionType string

const (
	TransactionCredit TransactionType = "CREDIT"
	TransactionDebit  TransactionType = "DEBIT"
)

// ParseTransactionType validates a transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(strings.ToUpper(strings.TrimSpace(raw))) {
	case TransactionCredit:
		return TransactionCredit, nil
	case TransactionDebit:
		return TransactionDebit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
	}
}

func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// TransactionSubtype classifies why a transaction happened.
type TransactionSubtype string

const (
	SubtypePaid    TransactionSubtype = "PAID"
	SubtypeFree    TransactionSubtype = "FREE"
	SubtypeExpiry  TransactionSubtype = "EXPIRY"
	SubtypePayment TransactionSubtype = "PAYMENT"
	SubtypeRefund  TransactionSubtype = "REFUND"
	SubtypeManual  TransactionSubtype = "MANUAL"
)

// ParseTransactionSubtype validates a transaction subtype.
func ParseTransactionSubtype(raw string) (TransactionSubtype, error) {
	switch TransactionSubtype(strings.ToUpper(strings.TrimSpace(raw))) {
	case SubtypePaid:
		return SubtypePaid, nil
	case SubtypeFree:
		return SubtypeFree, nil
	case SubtypeExpiry:
		return SubtypeExpiry, nil
	case SubtypePayment:
		return SubtypePayment, nil
	case SubtypeRefund:
		return SubtypeRefund, nil
	case SubtypeManual:
		return SubtypeManual, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSubtype, raw)
	}
}

func (subtype TransactionSubtype) String() string {
	return string(subtype)
}

// TransactionStatus tracks ledger transaction lifecycle.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
	TransactionCancelled TransactionStatus = "CANCELLED"
)

// ParseTransactionStatus validates a transaction status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case TransactionPending:
		return TransactionPending, nil
	case TransactionCompleted:
		return TransactionCompleted, nil
	case TransactionFailed:
		return TransactionFailed, nil
	case TransactionCancelled:
		return TransactionCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

func (status TransactionStatus) String() string {
	return string(status)
}

// ReferenceType names the kind of external event behind a transaction.
type ReferenceType string

const (
	ReferenceInvoice  ReferenceType = "INVOICE"
	ReferencePayment  ReferenceType = "PAYMENT"
	ReferenceExternal ReferenceType = "EXTERNAL"
)

// ParseReferenceType validates a reference type.
func ParseReferenceType(raw string) (ReferenceType, error) {
	switch ReferenceType(strings.ToUpper(strings.TrimSpace(raw))) {
	case ReferenceInvoice:
		return ReferenceInvoice, nil
	case ReferencePayment:
		return ReferencePayment, nil
	case ReferenceExternal:
		return ReferenceExternal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReferenceType, raw)
	}
}

func (referenceType ReferenceType) String() string {
	return string(referenceType)
}

// Wallet is a per-customer-per-tenant balance container.
type Wallet struct {
	ID         WalletID
	TenantID   TenantID
	CustomerID string
	Balance    int64
	Currency   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Transaction is an immutable ledger line.
type Transaction struct {
	ID            string
	WalletID      WalletID
	TenantID      TenantID
	CustomerID    string
	Type          TransactionType
	Subtype       TransactionSubtype
	Status        TransactionStatus
	Amount        Credits
	BalanceAfter  int64
	ReferenceType ReferenceType
	ReferenceID   string
	Description   string
	Metadata      MetadataJSON
	CreatedAt     time.Time
}

// Signed returns the amount with the sign carried by Type.
func (transaction Transaction) Signed() int64 {
	if transaction.Type == TransactionDebit {
		return -transaction.Amount.Int64()
	}
	return transaction.Amount.Int64()
}

// WalletInput describes a wallet to be persisted.
type WalletInput struct {
	TenantID   TenantID
	CustomerID string
	Currency   string
	CreatedAt  time.Time
}

// TransactionInput describes a ledger line and the balance delta it implies.
type TransactionInput struct {
	WalletID      WalletID
	Type          TransactionType
	Subtype       TransactionSubtype
	Status        TransactionStatus
	Amount        Credits
	ReferenceType ReferenceType
	ReferenceID   string
	Description   string
	Metadata      MetadataJSON
	CreatedAt     time.Time
}

// CreditRequest carries the optional classification of a credit or debit.
// Zero values are replaced by operation-specific defaults.
type CreditRequest struct {
	Amount        Credits
	Subtype       TransactionSubtype
	ReferenceType ReferenceType
	ReferenceID   string
	Description   string
	Metadata      MetadataJSON
}

// TransactionFilter pages through a wallet's history.
type TransactionFilter struct {
	Limit  int
	Offset int
	Type   TransactionType
}

// ReconciliationReport compares the running balance with the ledger sum.
type ReconciliationReport struct {
	WalletID      WalletID
	Balance       int64
	CreditTotal   int64
	DebitTotal    int64
	LedgerBalance int64
}

// Consistent reports whether the running balance matches the ledger.
func (report ReconciliationReport) Consistent() bool {
	return report.Balance == report.LedgerBalance
}
