package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"go.uber.org/zap"
)

const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventRefundProcessed   = "refund.processed"

	defaultProviderFailure = "payment failed at provider"
)

// WebhookOutcome reports what a webhook delivery changed.
type WebhookOutcome struct {
	Event     string
	OrderID   string
	PaymentID string
	Applied   bool
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity webhookPayment `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity struct {
				ID     string `json:"id"`
				Amount int64  `json:"amount"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type webhookPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	AmountRefunded   int64  `json:"amount_refunded"`
	ErrorDescription string `json:"error_description"`
}

// HandleWebhook verifies and applies a provider event. Events for orders with no
// matching open payment are logged and ignored, since they race client confirmation.
func (service *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookOutcome, error) {
	if !service.provider.VerifyWebhookSignature(body, strings.TrimSpace(signature)) {
		service.logger.Warn("webhook signature rejected")
		return WebhookOutcome{}, ledger.ErrInvalidSignature
	}
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return WebhookOutcome{}, fmt.Errorf("%w: %v", ledger.ErrInvalidWebhookPayload, err)
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return WebhookOutcome{}, fmt.Errorf("%w: missing event", ledger.ErrInvalidWebhookPayload)
	}
	outcome := WebhookOutcome{Event: event}
	switch event {
	case EventPaymentAuthorized, EventPaymentCaptured, EventPaymentFailed, EventRefundProcessed:
	default:
		service.logger.Info("webhook event ignored", zap.String("event", event))
		return outcome, nil
	}

	entity := envelope.Payload.Payment.Entity
	if strings.TrimSpace(entity.OrderID) == "" {
		return outcome, fmt.Errorf("%w: missing payment order id", ledger.ErrInvalidWebhookPayload)
	}
	outcome.OrderID = entity.OrderID
	payment, err := service.store.GetPaymentByOrderID(ctx, entity.OrderID)
	if errors.Is(err, ledger.ErrPaymentNotFound) {
		service.logger.Info("webhook matched no payment", zap.String("event", event), zap.String("order_id", entity.OrderID))
		return outcome, nil
	}
	if err != nil {
		return outcome, err
	}
	outcome.PaymentID = payment.ID

	switch event {
	case EventPaymentAuthorized:
		moved, err := service.store.TransitionPayment(ctx, payment.ID, []ledger.PaymentStatus{ledger.PaymentPending}, ledger.PaymentUpdate{
			Status:            ledger.PaymentAuthorized,
			ProviderPaymentID: entity.ID,
			At:                service.nowFn(),
		})
		if err != nil {
			return outcome, err
		}
		outcome.Applied = moved > 0
	case EventPaymentCaptured:
		if payment.Status.Terminal() {
			break
		}
		if entity.Amount != 0 && entity.Amount != payment.Amount {
			mismatch := fmt.Errorf("%w: captured %d, expected %d", ledger.ErrProviderMismatch, entity.Amount, payment.Amount)
			service.record(OutcomeFailed)
			service.failPayment(ctx, payment, entity.ID, mismatch)
			outcome.Applied = true
			break
		}
		result, err := service.settle(ctx, payment, entity.ID, "")
		if err != nil {
			return outcome, err
		}
		outcome.Applied = !result.AlreadyProcessed
	case EventPaymentFailed:
		if payment.Status.Terminal() {
			break
		}
		message := strings.TrimSpace(entity.ErrorDescription)
		if message == "" {
			message = defaultProviderFailure
		}
		service.failPayment(ctx, payment, entity.ID, errors.New(message))
		current, err := service.store.GetPayment(ctx, payment.ID)
		if err != nil {
			return outcome, err
		}
		outcome.Applied = current.Status == ledger.PaymentFailed
	case EventRefundProcessed:
		refunded := entity.AmountRefunded
		if refunded == 0 && envelope.Payload.Refund != nil {
			refunded = envelope.Payload.Refund.Entity.Amount
		}
		if refunded <= 0 {
			return outcome, fmt.Errorf("%w: missing refund amount", ledger.ErrInvalidWebhookPayload)
		}
		status := ledger.PaymentPartiallyRefunded
		if refunded >= payment.Amount {
			status = ledger.PaymentRefunded
		}
		moved, err := service.store.TransitionPayment(ctx, payment.ID, ledger.RefundablePaymentStatuses(), ledger.PaymentUpdate{
			Status:         status,
			RefundedAmount: &refunded,
			At:             service.nowFn(),
		})
		if err != nil {
			return outcome, err
		}
		outcome.Applied = moved > 0
	}
	if !outcome.Applied {
		service.logger.Info("webhook was a no-op", zap.String("event", event), zap.String("payment_id", payment.ID), zap.String("status", payment.Status.String()))
	}
	return outcome, nil
}
