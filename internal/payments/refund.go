package payments

import (
	"context"
	"fmt"
	"slices"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"go.uber.org/zap"
)

const refundReason = "Operator requested refund"

// RefundPayment returns amount subunits of a settled payment through the provider.
// A zero amount refunds everything not refunded yet. Credits already granted stay in the wallet.
func (service *Service) RefundPayment(ctx context.Context, paymentID string, amount int64) (ledger.Payment, error) {
	if amount < 0 {
		return ledger.Payment{}, fmt.Errorf("%w: refund amount must not be negative", ledger.ErrInvalidAmount)
	}
	payment, err := service.store.GetPayment(ctx, paymentID)
	if err != nil {
		return ledger.Payment{}, err
	}
	if !slices.Contains(ledger.RefundablePaymentStatuses(), payment.Status) {
		return ledger.Payment{}, fmt.Errorf("%w: cannot refund a %s payment", ledger.ErrPaymentClosed, payment.Status)
	}
	remaining := payment.Amount - payment.RefundedAmount
	if remaining <= 0 {
		return ledger.Payment{}, fmt.Errorf("%w: nothing left to refund", ledger.ErrPaymentClosed)
	}
	if amount == 0 {
		amount = remaining
	}
	if amount > remaining {
		return ledger.Payment{}, fmt.Errorf("%w: refund %d exceeds refundable %d of %d", ledger.ErrInvalidAmount, amount, remaining, payment.Amount)
	}
	if payment.ProviderPaymentID == "" {
		return ledger.Payment{}, fmt.Errorf("%w: payment has no provider payment id", ledger.ErrMissingRequiredArgument)
	}

	providerCtx, cancel := context.WithTimeout(ctx, service.cfg.ProviderTimeout)
	refund, err := service.provider.RefundPayment(providerCtx, RefundRequest{
		ProviderPaymentID: payment.ProviderPaymentID,
		Amount:            amount,
		Notes: map[string]string{
			"payment_id": payment.ID,
			"reason":     refundReason,
		},
	})
	cancel()
	if err != nil {
		service.appendAttempt(ctx, payment, ledger.AttemptFailed, payment.ProviderPaymentID, "refund: "+err.Error())
		return ledger.Payment{}, fmt.Errorf("%w: %v", ledger.ErrProviderUnavailable, err)
	}

	refunded := payment.RefundedAmount + amount
	status := ledger.PaymentPartiallyRefunded
	if refunded >= payment.Amount {
		status = ledger.PaymentRefunded
	}
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		now := service.nowFn()
		moved, err := txStore.TransitionPayment(ctx, payment.ID, ledger.RefundablePaymentStatuses(), ledger.PaymentUpdate{
			Status:         status,
			RefundedAmount: &refunded,
			At:             now,
		})
		if err != nil {
			return err
		}
		if moved == 0 {
			// a refund.processed webhook already closed the payment
			service.logger.Info("refund already recorded", zap.String("payment_id", payment.ID), zap.String("refund_id", refund.ID))
		}
		_, err = txStore.AppendPaymentAttempt(ctx, ledger.PaymentAttemptInput{
			PaymentID:         payment.ID,
			TenantID:          payment.TenantID,
			Status:            ledger.AttemptSucceeded,
			ProviderAttemptID: refund.ID,
			CreatedAt:         now,
		})
		return err
	})
	if err != nil {
		service.logger.Error("record refund", zap.String("payment_id", payment.ID), zap.String("refund_id", refund.ID), zap.Error(err))
		return ledger.Payment{}, err
	}
	service.logger.Info("payment refunded",
		zap.String("payment_id", payment.ID),
		zap.String("refund_id", refund.ID),
		zap.Int64("amount", amount),
		zap.Int64("refunded_total", refunded),
		zap.String("status", status.String()),
	)
	return service.store.GetPayment(ctx, payment.ID)
}
