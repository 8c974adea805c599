package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/creditwallet/internal/payments"
	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	webhookSignatureHeader = "X-Razorpay-Signature"
	maxWebhookBodyBytes    = 1 << 20
)

type createOrderRequest struct {
	Credits     int64  `json:"credits"`
	Description string `json:"description"`
}

type confirmPaymentRequest struct {
	ProviderPaymentID string `json:"providerPaymentId"`
	ProviderOrderID   string `json:"providerOrderId"`
	ProviderSignature string `json:"providerSignature"`
}

type refundPaymentRequest struct {
	Amount int64 `json:"amount"`
}

func (handler *httpHandler) requirePayments(ctx *gin.Context) bool {
	if handler.payments != nil {
		return true
	}
	ctx.JSON(http.StatusServiceUnavailable, errorResponse("payments_disabled", "payment provider is not configured"))
	return false
}

func (handler *httpHandler) handleCreateOrder(ctx *gin.Context) {
	if !handler.requirePayments(ctx) {
		return
	}
	var request createOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	credits, err := ledger.NewCredits(request.Credits)
	if err != nil {
		handler.respondError(ctx, "create order", err)
		return
	}
	customer, err := selfRef(ctx)
	if err != nil {
		handler.respondError(ctx, "create order", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := handler.payments.CreateOrder(requestCtx, customer, credits, strings.TrimSpace(request.Description))
	if err != nil {
		handler.respondError(ctx, "create order", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"paymentId": order.PaymentID,
		"orderId":   order.OrderID,
		"keyId":     order.KeyID,
		"walletId":  order.WalletID,
		"amount":    order.Amount,
		"currency":  order.Currency,
		"credits":   order.Credits,
	})
}

func (handler *httpHandler) handleConfirmPayment(ctx *gin.Context) {
	if !handler.requirePayments(ctx) {
		return
	}
	var request confirmPaymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.payments.ConfirmPayment(requestCtx, payments.ConfirmRequest{
		ProviderPaymentID: request.ProviderPaymentID,
		ProviderOrderID:   request.ProviderOrderID,
		Signature:         request.ProviderSignature,
	})
	if err != nil {
		handler.respondError(ctx, "confirm payment", err)
		return
	}
	owned, err := handler.ownsWallet(ctx, requestCtx, result.WalletID)
	if err != nil {
		handler.respondError(ctx, "confirm payment", err)
		return
	}
	if !owned {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", ledger.ErrPaymentNotFound.Error()))
		return
	}
	message := fmt.Sprintf("Successfully added %d credits", result.CreditsAdded)
	if result.AlreadyProcessed {
		message = "Payment already processed"
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":          result.Success,
		"paymentId":        result.PaymentID,
		"orderId":          result.OrderID,
		"creditsAdded":     result.CreditsAdded,
		"newBalance":       result.NewBalance,
		"alreadyProcessed": result.AlreadyProcessed,
		"message":          message,
	})
}

func (handler *httpHandler) handleGetPayment(ctx *gin.Context) {
	if !handler.requirePayments(ctx) {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	payment, err := handler.payments.GetPayment(requestCtx, ctx.Param("paymentId"))
	if err != nil {
		handler.respondError(ctx, "get payment", err)
		return
	}
	owned, err := handler.ownsWallet(ctx, requestCtx, payment.DestinationID)
	if err != nil {
		handler.respondError(ctx, "get payment", err)
		return
	}
	if !owned {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", ledger.ErrPaymentNotFound.Error()))
		return
	}
	attempts, err := handler.payments.ListAttempts(requestCtx, payment.ID)
	if err != nil {
		handler.respondError(ctx, "get payment", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"payment":  newPaymentPayload(payment),
		"attempts": newAttemptPayloads(attempts),
	})
}

func (handler *httpHandler) handleRefundPayment(ctx *gin.Context) {
	if !handler.requirePayments(ctx) || !handler.requireAdmin(ctx) {
		return
	}
	var request refundPaymentRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&request); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
			return
		}
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	payment, err := handler.payments.RefundPayment(requestCtx, ctx.Param("paymentId"), request.Amount)
	if err != nil {
		handler.respondError(ctx, "refund payment", err)
		return
	}
	handler.logger.Info("refund issued",
		zap.String("payment_id", payment.ID),
		zap.String("operator", getSession(ctx).user.ID),
		zap.Int64("refunded_amount", payment.RefundedAmount),
	)
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"payment": newPaymentPayload(payment),
	})
}

// ownsWallet reports whether the session may see payments credited to walletID.
func (handler *httpHandler) ownsWallet(ctx *gin.Context, requestCtx context.Context, walletID ledger.WalletID) (bool, error) {
	if getSession(ctx).admin {
		return true, nil
	}
	customer, err := selfRef(ctx)
	if err != nil {
		return false, err
	}
	wallet, err := handler.wallets.FindWalletByCustomer(requestCtx, customer)
	if err != nil {
		return false, err
	}
	return wallet != nil && wallet.ID == walletID, nil
}

// handleWebhook is authenticated by the provider signature rather than a session.
func (handler *httpHandler) handleWebhook(ctx *gin.Context) {
	if !handler.requirePayments(ctx) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unreadable body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	outcome, err := handler.payments.HandleWebhook(requestCtx, body, ctx.GetHeader(webhookSignatureHeader))
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidSignature) || ledger.IsValidationError(err) {
			handler.respondError(ctx, "webhook", err)
			return
		}
		handler.logger.Error("webhook processing failed", zap.String("event", outcome.Event), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "webhook processing failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"event":   outcome.Event,
		"applied": outcome.Applied,
	})
}
