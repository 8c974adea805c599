package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	errorSubjectPayment = "payment"
	errorSubjectAttempt = "payment_attempt"
	errorCodeTransition = "transition"
)

func (store *Store) CreatePayment(ctx context.Context, input ledger.PaymentInput) (ledger.Payment, error) {
	createdAt := input.CreatedAt.UTC()
	if input.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := Payment{
		TenantID:          input.TenantID.String(),
		IdempotencyKey:    input.IdempotencyKey.String(),
		DestinationType:   ledger.DestinationWallet,
		DestinationID:     input.DestinationID.String(),
		PaymentMethodType: input.PaymentMethodType,
		Gateway:           input.Gateway,
		Amount:            input.Amount,
		Currency:          input.Currency,
		Credits:           input.Credits.Int64(),
		Status:            ledger.PaymentPending.String(),
		Metadata:          datatypesJSON(input.Metadata.String()),
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintPaymentIdempotency) {
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeDuplicate, ledger.ErrPaymentExists)
	}
	if err != nil {
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeCreate, err)
	}
	return mapPayment(model)
}

// GetPayment treats an id that is not a UUID as unknown; Postgres would reject the cast.
func (store *Store) GetPayment(ctx context.Context, paymentID string) (ledger.Payment, error) {
	if !isUUID(paymentID) {
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, ledger.ErrPaymentNotFound)
	}
	return store.takePayment(ctx, "id = ?", paymentID)
}

func (store *Store) GetPaymentByOrderID(ctx context.Context, providerOrderID string) (ledger.Payment, error) {
	return store.takePayment(ctx, "provider_order_id = ?", providerOrderID)
}

func (store *Store) takePayment(ctx context.Context, condition string, value string) (ledger.Payment, error) {
	var model Payment
	err := store.db.WithContext(ctx).Where(condition, value).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, ledger.ErrPaymentNotFound)
		}
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	return mapPayment(model)
}

func (store *Store) TransitionPayment(ctx context.Context, paymentID string, from []ledger.PaymentStatus, update ledger.PaymentUpdate) (int64, error) {
	at := update.At.UTC()
	if update.At.IsZero() {
		at = time.Now().UTC()
	}
	columns := map[string]any{"updated_at": at}
	if update.Status != "" {
		columns["status"] = update.Status.String()
		switch update.Status {
		case ledger.PaymentSucceeded:
			columns["succeeded_at"] = at
		case ledger.PaymentFailed:
			columns["failed_at"] = at
		case ledger.PaymentRefunded, ledger.PaymentPartiallyRefunded:
			columns["refunded_at"] = at
		}
	}
	if update.ProviderOrderID != "" {
		columns["provider_order_id"] = update.ProviderOrderID
	}
	if update.ProviderPaymentID != "" {
		columns["provider_payment_id"] = update.ProviderPaymentID
	}
	if update.ProviderSignature != "" {
		columns["provider_signature"] = update.ProviderSignature
	}
	if update.CreditsApplied != nil {
		columns["credits_applied"] = *update.CreditsApplied
	}
	if update.BalanceAfter != nil {
		columns["balance_after"] = *update.BalanceAfter
	}
	if update.RefundedAmount != nil {
		columns["refunded_amount"] = *update.RefundedAmount
	}
	if update.ErrorMessage != "" {
		columns["error_message"] = update.ErrorMessage
	}
	query := store.db.WithContext(ctx).Model(&Payment{}).Where("id = ?", paymentID)
	if len(from) > 0 {
		statuses := make([]string, 0, len(from))
		for _, status := range from {
			statuses = append(statuses, status.String())
		}
		query = query.Where("status IN ?", statuses)
	}
	result := query.Updates(columns)
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectPayment, errorCodeTransition, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) AppendPaymentAttempt(ctx context.Context, input ledger.PaymentAttemptInput) (ledger.PaymentAttempt, error) {
	createdAt := input.CreatedAt.UTC()
	if input.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var model PaymentAttempt
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var latest struct {
			Number int
		}
		if err := transaction.Model(&PaymentAttempt{}).
			Select("coalesce(max(attempt_number),0) as number").
			Where("payment_id = ?", input.PaymentID).
			Scan(&latest).Error; err != nil {
			return wrapStoreError(errorSubjectAttempt, errorCodeLookup, err)
		}
		model = PaymentAttempt{
			PaymentID:         input.PaymentID,
			TenantID:          input.TenantID.String(),
			AttemptNumber:     latest.Number + 1,
			Status:            input.Status.String(),
			ProviderAttemptID: input.ProviderAttemptID,
			ErrorMessage:      input.ErrorMessage,
			CreatedAt:         createdAt,
		}
		if err := transaction.Create(&model).Error; err != nil {
			return wrapStoreError(errorSubjectAttempt, errorCodeInsert, err)
		}
		return nil
	})
	if err != nil {
		return ledger.PaymentAttempt{}, err
	}
	return mapPaymentAttempt(model)
}

func (store *Store) ListPaymentAttempts(ctx context.Context, paymentID string) ([]ledger.PaymentAttempt, error) {
	if !isUUID(paymentID) {
		return []ledger.PaymentAttempt{}, nil
	}
	var rows []PaymentAttempt
	err := store.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("attempt_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAttempt, errorCodeList, err)
	}
	attempts := make([]ledger.PaymentAttempt, 0, len(rows))
	for _, row := range rows {
		attempt, err := mapPaymentAttempt(row)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, nil
}

func (store *Store) ListPaymentsByWallet(ctx context.Context, walletID ledger.WalletID, limit int) ([]ledger.Payment, error) {
	var rows []Payment
	err := store.db.WithContext(ctx).
		Where("destination_id = ?", walletID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	payments := make([]ledger.Payment, 0, len(rows))
	for _, row := range rows {
		payment, err := mapPayment(row)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, nil
}

func mapPayment(model Payment) (ledger.Payment, error) {
	tenantID, err := ledger.NewTenantID(model.TenantID)
	if err != nil {
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(model.IdempotencyKey)
	if err != nil {
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	destinationID, err := ledger.NewWalletID(model.DestinationID)
	if err != nil {
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	status, err := ledger.ParsePaymentStatus(model.Status)
	if err != nil {
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	metadata, err := ledger.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	payment := ledger.Payment{
		ID:                model.ID,
		TenantID:          tenantID,
		IdempotencyKey:    idempotencyKey,
		DestinationType:   model.DestinationType,
		DestinationID:     destinationID,
		PaymentMethodType: model.PaymentMethodType,
		Gateway:           model.Gateway,
		ProviderPaymentID: model.ProviderPaymentID,
		ProviderSignature: model.ProviderSignature,
		Amount:            model.Amount,
		Currency:          model.Currency,
		Credits:           ledger.Credits(model.Credits),
		Status:            status,
		CreditsApplied:    model.CreditsApplied,
		BalanceAfter:      model.BalanceAfter,
		RefundedAmount:    model.RefundedAmount,
		Metadata:          metadata,
		ErrorMessage:      model.ErrorMessage,
		CreatedAt:         model.CreatedAt.UTC(),
		UpdatedAt:         model.UpdatedAt.UTC(),
		SucceededAt:       model.SucceededAt,
		FailedAt:          model.FailedAt,
		RefundedAt:        model.RefundedAt,
	}
	if model.ProviderOrderID != nil {
		payment.ProviderOrderID = *model.ProviderOrderID
	}
	return payment, nil
}

func mapPaymentAttempt(model PaymentAttempt) (ledger.PaymentAttempt, error) {
	tenantID, err := ledger.NewTenantID(model.TenantID)
	if err != nil {
		return ledger.PaymentAttempt{}, wrapStoreError(errorSubjectAttempt, errorCodeInvalid, err)
	}
	return ledger.PaymentAttempt{
		ID:                model.ID,
		PaymentID:         model.PaymentID,
		TenantID:          tenantID,
		AttemptNumber:     model.AttemptNumber,
		Status:            ledger.AttemptStatus(model.Status),
		ProviderAttemptID: model.ProviderAttemptID,
		ErrorMessage:      model.ErrorMessage,
		CreatedAt:         model.CreatedAt.UTC(),
	}, nil
}

func isUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}
