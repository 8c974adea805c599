package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/internal/issuer"
	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// respondError maps the ledger error taxonomy onto HTTP statuses.
func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		ctx.JSON(http.StatusBadRequest, errorResponse("insufficient_credits", "Insufficient credits"))
	case errors.Is(err, ledger.ErrInvalidSignature):
		ctx.JSON(http.StatusUnauthorized, errorResponse("invalid_signature", "signature verification failed"))
	case errors.Is(err, ledger.ErrPaymentClosed):
		ctx.JSON(http.StatusConflict, errorResponse("payment_closed", err.Error()))
	case errors.Is(err, ledger.ErrProviderUnavailable):
		ctx.JSON(http.StatusBadGateway, errorResponse("provider_unavailable", "payment provider unavailable"))
	case errors.Is(err, issuer.ErrGatewayRegistration):
		handler.logger.Error(operation+" failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("gateway_unavailable", "api gateway rejected the key"))
	case ledger.IsValidationError(err):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	case ledger.IsNotFoundError(err):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case ledger.IsConflictError(err):
		ctx.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		ctx.JSON(http.StatusGatewayTimeout, errorResponse("timeout", operation+" timed out"))
	default:
		handler.logger.Error(operation+" failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", operation+" failed"))
	}
}

type walletPayload struct {
	WalletID    string    `json:"walletId"`
	UserID      string    `json:"userId"`
	Balance     int64     `json:"balance"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type transactionPayload struct {
	ID            string          `json:"id"`
	WalletID      string          `json:"walletId"`
	Type          string          `json:"type"`
	Subtype       string          `json:"subtype"`
	Status        string          `json:"status"`
	Amount        int64           `json:"amount"`
	BalanceAfter  int64           `json:"balanceAfter"`
	ReferenceType string          `json:"referenceType"`
	ReferenceID   string          `json:"referenceId"`
	Description   string          `json:"description"`
	Metadata      json.RawMessage `json:"metadata"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type paymentPayload struct {
	ID                string          `json:"id"`
	WalletID          string          `json:"walletId"`
	Gateway           string          `json:"gateway"`
	ProviderOrderID   string          `json:"providerOrderId"`
	ProviderPaymentID string          `json:"providerPaymentId,omitempty"`
	Amount            int64           `json:"amount"`
	Currency          string          `json:"currency"`
	Credits           int64           `json:"credits"`
	Status            string          `json:"status"`
	CreditsApplied    int64           `json:"creditsApplied"`
	RefundedAmount    int64           `json:"refundedAmount"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	Metadata          json.RawMessage `json:"metadata"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type attemptPayload struct {
	AttemptNumber     int       `json:"attemptNumber"`
	Status            string    `json:"status"`
	ProviderAttemptID string    `json:"providerAttemptId,omitempty"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

func newWalletPayload(wallet ledger.Wallet) walletPayload {
	return walletPayload{
		WalletID:    wallet.ID.String(),
		UserID:      wallet.CustomerID,
		Balance:     wallet.Balance,
		Currency:    wallet.Currency,
		CreatedAt:   wallet.CreatedAt,
		LastUpdated: wallet.UpdatedAt,
	}
}

func newTransactionPayloads(transactions []ledger.Transaction) []transactionPayload {
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, transactionPayload{
			ID:            transaction.ID,
			WalletID:      transaction.WalletID.String(),
			Type:          transaction.Type.String(),
			Subtype:       transaction.Subtype.String(),
			Status:        transaction.Status.String(),
			Amount:        transaction.Amount.Int64(),
			BalanceAfter:  transaction.BalanceAfter,
			ReferenceType: transaction.ReferenceType.String(),
			ReferenceID:   transaction.ReferenceID,
			Description:   transaction.Description,
			Metadata:      json.RawMessage(transaction.Metadata.String()),
			CreatedAt:     transaction.CreatedAt,
		})
	}
	return payloads
}

func newPaymentPayload(payment ledger.Payment) paymentPayload {
	return paymentPayload{
		ID:                payment.ID,
		WalletID:          payment.DestinationID.String(),
		Gateway:           payment.Gateway,
		ProviderOrderID:   payment.ProviderOrderID,
		ProviderPaymentID: payment.ProviderPaymentID,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Credits:           payment.Credits.Int64(),
		Status:            payment.Status.String(),
		CreditsApplied:    payment.CreditsApplied,
		RefundedAmount:    payment.RefundedAmount,
		ErrorMessage:      payment.ErrorMessage,
		Metadata:          json.RawMessage(payment.Metadata.String()),
		CreatedAt:         payment.CreatedAt,
		UpdatedAt:         payment.UpdatedAt,
	}
}

func newAttemptPayloads(attempts []ledger.PaymentAttempt) []attemptPayload {
	payloads := make([]attemptPayload, 0, len(attempts))
	for _, attempt := range attempts {
		payloads = append(payloads, attemptPayload{
			AttemptNumber:     attempt.AttemptNumber,
			Status:            attempt.Status.String(),
			ProviderAttemptID: attempt.ProviderAttemptID,
			ErrorMessage:      attempt.ErrorMessage,
			CreatedAt:         attempt.CreatedAt,
		})
	}
	return payloads
}
