// Package pgstore reads wallet support data straight from Postgres through pgx.
// It serves the diagnostics façade, typically pointed at a read replica.
package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	errorOperationStore = "replica"
	errorSubjectUser    = "user"
	errorSubjectPayment = "payment"
	errorSubjectAttempt = "attempt"
	errorCodeLookup     = "lookup"
	errorCodeList       = "list"
	errorCodeScan       = "scan"
	errorCodeInvalid    = "invalid"

	sqlResolveUser = `
		select id, coalesce(external_id, ''), email
		from users
		where id = $1 or external_id = $1
		order by created_at asc
		limit 1
	`

	sqlListPaymentsByWallet = `
		select
			id::text, tenant_id, idempotency_key, destination_type, destination_id::text,
			payment_method_type, gateway, coalesce(provider_order_id, ''), provider_payment_id,
			provider_signature, amount, currency, credits, status, credits_applied, balance_after,
			refunded_amount, coalesce(metadata::text, '{}'), error_message, created_at, updated_at,
			succeeded_at, failed_at, refunded_at
		from payments
		where destination_id = $1
		order by created_at desc
		limit $2
	`

	sqlListPaymentAttempts = `
		select id::text, payment_id::text, tenant_id, attempt_number, status, provider_attempt_id, error_message, created_at
		from payment_attempts
		where payment_id = $1
		order by attempt_number asc
	`
)

// Reader runs read-only queries against a pgx pool.
type Reader struct {
	pool *pgxpool.Pool
}

// New returns a Reader backed by pool.
func New(pool *pgxpool.Pool) *Reader {
	return &Reader{pool: pool}
}

// Open connects a pool to dsn and verifies it answers.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (reader *Reader) ResolveUser(ctx context.Context, ref ledger.CustomerRef) (ledger.User, error) {
	var user ledger.User
	err := reader.pool.QueryRow(ctx, sqlResolveUser, ref.String()).Scan(&user.ID, &user.ExternalID, &user.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, ledger.ErrUserNotFound)
	}
	if err != nil {
		return ledger.User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return user, nil
}

func (reader *Reader) ListPaymentsByWallet(ctx context.Context, walletID ledger.WalletID, limit int) ([]ledger.Payment, error) {
	rows, err := reader.pool.Query(ctx, sqlListPaymentsByWallet, walletID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	defer rows.Close()

	payments := make([]ledger.Payment, 0, limit)
	for rows.Next() {
		var record paymentRecord
		if err := rows.Scan(
			&record.ID, &record.TenantID, &record.IdempotencyKey, &record.DestinationType, &record.DestinationID,
			&record.PaymentMethodType, &record.Gateway, &record.ProviderOrderID, &record.ProviderPaymentID,
			&record.ProviderSignature, &record.Amount, &record.Currency, &record.Credits, &record.Status,
			&record.CreditsApplied, &record.BalanceAfter, &record.RefundedAmount, &record.Metadata,
			&record.ErrorMessage, &record.CreatedAt, &record.UpdatedAt,
			&record.SucceededAt, &record.FailedAt, &record.RefundedAt,
		); err != nil {
			return nil, wrapStoreError(errorSubjectPayment, errorCodeScan, err)
		}
		payment, err := record.toPayment()
		if err != nil {
			return nil, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	return payments, nil
}

func (reader *Reader) ListPaymentAttempts(ctx context.Context, paymentID string) ([]ledger.PaymentAttempt, error) {
	if _, err := uuid.Parse(paymentID); err != nil {
		return []ledger.PaymentAttempt{}, nil
	}
	rows, err := reader.pool.Query(ctx, sqlListPaymentAttempts, paymentID)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAttempt, errorCodeList, err)
	}
	defer rows.Close()

	attempts := []ledger.PaymentAttempt{}
	for rows.Next() {
		var record attemptRecord
		if err := rows.Scan(
			&record.ID, &record.PaymentID, &record.TenantID, &record.AttemptNumber,
			&record.Status, &record.ProviderAttemptID, &record.ErrorMessage, &record.CreatedAt,
		); err != nil {
			return nil, wrapStoreError(errorSubjectAttempt, errorCodeScan, err)
		}
		attempt, err := record.toAttempt()
		if err != nil {
			return nil, wrapStoreError(errorSubjectAttempt, errorCodeInvalid, err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAttempt, errorCodeList, err)
	}
	return attempts, nil
}

type paymentRecord struct {
	ID                string
	TenantID          string
	IdempotencyKey    string
	DestinationType   string
	DestinationID     string
	PaymentMethodType string
	Gateway           string
	ProviderOrderID   string
	ProviderPaymentID string
	ProviderSignature string
	Amount            int64
	Currency          string
	Credits           int64
	Status            string
	CreditsApplied    int64
	BalanceAfter      int64
	RefundedAmount    int64
	Metadata          string
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SucceededAt       *time.Time
	FailedAt          *time.Time
	RefundedAt        *time.Time
}

func (record paymentRecord) toPayment() (ledger.Payment, error) {
	tenantID, err := ledger.NewTenantID(record.TenantID)
	if err != nil {
		return ledger.Payment{}, err
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(record.IdempotencyKey)
	if err != nil {
		return ledger.Payment{}, err
	}
	destinationID, err := ledger.NewWalletID(record.DestinationID)
	if err != nil {
		return ledger.Payment{}, err
	}
	status, err := ledger.ParsePaymentStatus(record.Status)
	if err != nil {
		return ledger.Payment{}, err
	}
	metadata, err := ledger.NewMetadataJSON(record.Metadata)
	if err != nil {
		return ledger.Payment{}, err
	}
	return ledger.Payment{
		ID:                record.ID,
		TenantID:          tenantID,
		IdempotencyKey:    idempotencyKey,
		DestinationType:   record.DestinationType,
		DestinationID:     destinationID,
		PaymentMethodType: record.PaymentMethodType,
		Gateway:           record.Gateway,
		ProviderOrderID:   record.ProviderOrderID,
		ProviderPaymentID: record.ProviderPaymentID,
		ProviderSignature: record.ProviderSignature,
		Amount:            record.Amount,
		Currency:          record.Currency,
		Credits:           ledger.Credits(record.Credits),
		Status:            status,
		CreditsApplied:    record.CreditsApplied,
		BalanceAfter:      record.BalanceAfter,
		RefundedAmount:    record.RefundedAmount,
		Metadata:          metadata,
		ErrorMessage:      record.ErrorMessage,
		CreatedAt:         record.CreatedAt.UTC(),
		UpdatedAt:         record.UpdatedAt.UTC(),
		SucceededAt:       utcPointer(record.SucceededAt),
		FailedAt:          utcPointer(record.FailedAt),
		RefundedAt:        utcPointer(record.RefundedAt),
	}, nil
}

type attemptRecord struct {
	ID                string
	PaymentID         string
	TenantID          string
	AttemptNumber     int
	Status            string
	ProviderAttemptID string
	ErrorMessage      string
	CreatedAt         time.Time
}

func (record attemptRecord) toAttempt() (ledger.PaymentAttempt, error) {
	tenantID, err := ledger.NewTenantID(record.TenantID)
	if err != nil {
		return ledger.PaymentAttempt{}, err
	}
	return ledger.PaymentAttempt{
		ID:                record.ID,
		PaymentID:         record.PaymentID,
		TenantID:          tenantID,
		AttemptNumber:     record.AttemptNumber,
		Status:            ledger.AttemptStatus(record.Status),
		ProviderAttemptID: record.ProviderAttemptID,
		ErrorMessage:      record.ErrorMessage,
		CreatedAt:         record.CreatedAt.UTC(),
	}, nil
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	converted := value.UTC()
	return &converted
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
