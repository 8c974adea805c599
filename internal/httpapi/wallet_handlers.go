package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/creditwallet/internal/issuer"
	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultUsageType          = "API_CALL"
	adjustmentReferencePrefix = "adjustment:"
	usageReferencePrefix      = "usage:"
	walletStatusActive        = "ACTIVE"
)

type createWalletRequest struct {
	UserID         string `json:"userId"`
	InitialBalance *int64 `json:"initialBalance"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type addCreditsRequest struct {
	Amount     int64          `json:"amount"`
	Reason     string         `json:"reason"`
	AdjustedBy string         `json:"adjustedBy"`
	Metadata   map[string]any `json:"metadata"`
}

type deductCreditsRequest struct {
	Amount   int64          `json:"amount"`
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata"`
}

type generateAPIKeyRequest struct {
	CreditCost int64  `json:"creditCost"`
	KeyName    string `json:"keyName"`
	APIID      string `json:"apiId"`
	ProjectID  string `json:"projectId"`
}

func (handler *httpHandler) handleCreateWallet(ctx *gin.Context) {
	var request createWalletRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	target := strings.TrimSpace(request.UserID)
	if target == "" {
		target = getSession(ctx).user.ID
	}
	customer, ok := handler.authorizeRef(ctx, target)
	if !ok {
		return
	}
	initialBalance := handler.cfg.InitialCredits
	if request.InitialBalance != nil {
		if !handler.requireAdmin(ctx) {
			return
		}
		initialBalance = *request.InitialBalance
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	wallet, err := handler.wallets.CreateWallet(requestCtx, customer, initialBalance)
	if err != nil {
		handler.respondError(ctx, "create wallet", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"wallet":  newWalletPayload(wallet),
		"balance": wallet.Balance,
		"message": fmt.Sprintf("Wallet created with %d credits", wallet.Balance),
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	customer, ok := handler.authorizeUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	wallet, ok := handler.requireWallet(ctx, requestCtx, customer)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"userId":      wallet.CustomerID,
		"walletId":    wallet.ID.String(),
		"balance":     wallet.Balance,
		"currency":    wallet.Currency,
		"lastUpdated": wallet.UpdatedAt,
		"status":      walletStatusActive,
	})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	customer, ok := handler.authorizeUser(ctx)
	if !ok {
		return
	}
	filter, err := parseTransactionFilter(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	wallet, ok := handler.requireWallet(ctx, requestCtx, customer)
	if !ok {
		return
	}
	transactions, err := handler.wallets.GetTransactions(requestCtx, wallet.ID, filter)
	if err != nil {
		handler.respondError(ctx, "list transactions", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"walletId":     wallet.ID.String(),
		"balance":      wallet.Balance,
		"transactions": newTransactionPayloads(transactions),
		"limit":        filter.Limit,
		"offset":       filter.Offset,
	})
}

func (handler *httpHandler) handleCheckCredits(ctx *gin.Context) {
	customer, ok := handler.authorizeUser(ctx)
	if !ok {
		return
	}
	var request amountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, err := ledger.NewCredits(request.Amount)
	if err != nil {
		handler.respondError(ctx, "check credits", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	wallet, err := handler.wallets.FindWalletByCustomer(requestCtx, customer)
	if err != nil {
		handler.respondError(ctx, "check credits", err)
		return
	}
	if wallet == nil {
		ctx.JSON(http.StatusOK, gin.H{"hasSufficientCredits": false})
		return
	}
	sufficient, err := handler.wallets.HasSufficientCredits(requestCtx, wallet.ID, amount)
	if err != nil {
		handler.respondError(ctx, "check credits", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"hasSufficientCredits": sufficient})
}

func (handler *httpHandler) handleAddCredits(ctx *gin.Context) {
	customer, ok := handler.authorizeUser(ctx)
	if !ok {
		return
	}
	if !handler.requireAdmin(ctx) {
		return
	}
	var request addCreditsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	reason := strings.TrimSpace(request.Reason)
	adjustedBy := strings.TrimSpace(request.AdjustedBy)
	if request.Amount <= 0 || reason == "" || adjustedBy == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "amount must be positive and reason and adjustedBy are required"))
		return
	}
	metadata, err := mergeMetadata(request.Metadata, map[string]any{"reason": reason, "adjustedBy": adjustedBy})
	if err != nil {
		handler.respondError(ctx, "add credits", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	wallet, err := handler.ensureWallet(requestCtx, customer)
	if err != nil {
		handler.respondError(ctx, "add credits", err)
		return
	}
	transaction, err := handler.wallets.AddCredits(requestCtx, wallet.ID, ledger.CreditRequest{
		Amount:        ledger.Credits(request.Amount),
		Subtype:       ledger.SubtypeManual,
		ReferenceType: ledger.ReferenceExternal,
		ReferenceID:   adjustmentReferencePrefix + uuid.NewString(),
		Description:   reason,
		Metadata:      metadata,
	})
	if err != nil {
		handler.respondError(ctx, "add credits", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"balance":       transaction.BalanceAfter,
		"transactionId": transaction.ID,
		"message":       fmt.Sprintf("Successfully added %d credits", request.Amount),
	})
}

func (handler *httpHandler) handleDeductCredits(ctx *gin.Context) {
	customer, ok := handler.authorizeUser(ctx)
	if !ok {
		return
	}
	var request deductCreditsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if request.Amount <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "amount must be greater than zero"))
		return
	}
	usageType := strings.ToUpper(strings.TrimSpace(request.Type))
	if usageType == "" {
		usageType = defaultUsageType
	}
	metadata, err := mergeMetadata(request.Metadata, map[string]any{"usageType": usageType})
	if err != nil {
		handler.respondError(ctx, "deduct credits", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	wallet, ok := handler.requireWallet(ctx, requestCtx, customer)
	if !ok {
		return
	}
	transaction, err := handler.wallets.DeductCredits(requestCtx, wallet.ID, ledger.CreditRequest{
		Amount:        ledger.Credits(request.Amount),
		Subtype:       ledger.SubtypePayment,
		ReferenceType: ledger.ReferenceExternal,
		ReferenceID:   usageReferencePrefix + uuid.NewString(),
		Description:   "Credit usage: " + usageType,
		Metadata:      metadata,
	})
	if err != nil {
		handler.respondError(ctx, "deduct credits", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"balance":       transaction.BalanceAfter,
		"transactionId": transaction.ID,
		"message":       fmt.Sprintf("Successfully deducted %d credits", request.Amount),
	})
}

func (handler *httpHandler) handleGenerateAPIKey(ctx *gin.Context) {
	customer, ok := handler.authorizeUser(ctx)
	if !ok {
		return
	}
	var request generateAPIKeyRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	issued, err := handler.issuer.GenerateAPIKey(requestCtx, customer, issuer.IssueRequest{
		CreditCost: request.CreditCost,
		KeyName:    request.KeyName,
		APIID:      request.APIID,
		ProjectID:  request.ProjectID,
	})
	if err != nil {
		// Missing project or api references are client input errors on this route.
		if errors.Is(err, ledger.ErrProjectNotFound) || errors.Is(err, ledger.ErrAPINotFound) {
			ctx.JSON(http.StatusBadRequest, errorResponse("not_found", err.Error()))
			return
		}
		handler.respondError(ctx, "generate api key", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"apiKey":           issued.APIKey,
		"remainingCredits": issued.RemainingCredits,
		"subscriptionId":   issued.SubscriptionID,
		"message":          fmt.Sprintf("Successfully deducted %d credits", request.CreditCost),
	})
}

func (handler *httpHandler) handleDebugBalance(ctx *gin.Context) {
	customer, ok := handler.authorizeUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	report := handler.diagnostics.Inspect(requestCtx, customer.String())
	response := gin.H{
		"query":    report.Query,
		"resolved": report.Resolved,
		"userId":   report.UserID,
		"balance":  report.Balance,
		"notes":    report.Notes,
	}
	if report.Wallet != nil {
		response["wallet"] = newWalletPayload(*report.Wallet)
	}
	if report.Reconciliation != nil {
		response["reconciliation"] = gin.H{
			"creditTotal":   report.Reconciliation.CreditTotal,
			"debitTotal":    report.Reconciliation.DebitTotal,
			"ledgerBalance": report.Reconciliation.LedgerBalance,
			"consistent":    report.Reconciliation.Consistent(),
		}
	}
	response["transactions"] = newTransactionPayloads(report.Transactions)
	payments := make([]gin.H, 0, len(report.Payments))
	for _, view := range report.Payments {
		payments = append(payments, gin.H{
			"payment":  newPaymentPayload(view.Payment),
			"attempts": newAttemptPayloads(view.Attempts),
		})
	}
	response["payments"] = payments
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) requireWallet(ctx *gin.Context, requestCtx context.Context, customer ledger.CustomerRef) (ledger.Wallet, bool) {
	wallet, err := handler.wallets.FindWalletByCustomer(requestCtx, customer)
	if err != nil {
		handler.respondError(ctx, "wallet lookup", err)
		return ledger.Wallet{}, false
	}
	if wallet == nil {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "wallet not found for user "+customer.String()))
		return ledger.Wallet{}, false
	}
	return *wallet, true
}

// ensureWallet returns the customer's wallet, creating an empty one when absent.
func (handler *httpHandler) ensureWallet(ctx context.Context, customer ledger.CustomerRef) (ledger.Wallet, error) {
	wallet, err := handler.wallets.FindWalletByCustomer(ctx, customer)
	if err != nil {
		return ledger.Wallet{}, err
	}
	if wallet != nil {
		return *wallet, nil
	}
	created, err := handler.wallets.CreateWallet(ctx, customer, 0)
	if errors.Is(err, ledger.ErrWalletExists) {
		wallet, err = handler.wallets.FindWalletByCustomer(ctx, customer)
		if err != nil {
			return ledger.Wallet{}, err
		}
		if wallet == nil {
			return ledger.Wallet{}, ledger.ErrWalletNotFound
		}
		return *wallet, nil
	}
	return created, err
}

func parseTransactionFilter(ctx *gin.Context) (ledger.TransactionFilter, error) {
	filter := ledger.TransactionFilter{}
	if raw := ctx.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	if raw := ctx.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	if raw := ctx.Query("type"); raw != "" {
		transactionType, err := ledger.ParseTransactionType(raw)
		if err != nil {
			return filter, err
		}
		filter.Type = transactionType
	}
	return filter, nil
}

func mergeMetadata(supplied map[string]any, fixed map[string]any) (ledger.MetadataJSON, error) {
	merged := make(map[string]any, len(supplied)+len(fixed))
	for key, value := range supplied {
		merged[key] = value
	}
	for key, value := range fixed {
		merged[key] = value
	}
	return ledger.MetadataFromMap(merged)
}
