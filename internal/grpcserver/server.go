// Package grpcserver exposes wallet administration over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	errorInsufficientCredits = "insufficient_credits"
	errorInvalidArgument     = "invalid_argument"
	errorNotFound            = "not_found"
	errorAlreadyExists       = "already_exists"
	errorInvalidUserID       = "invalid_user_id"
	errorInvalidAmount       = "invalid_amount"
	errorInvalidListLimit    = "invalid_list_limit"

	maxListLimit            = 100
	adminReferencePrefix    = "admin:"
	defaultAdminDescription = "Admin adjustment"
)

// WalletAdminServer implements WalletAdmin on top of the wallet service.
type WalletAdminServer struct {
	wallets *ledger.Service
	logger  *zap.Logger
}

// NewWalletAdminServer constructs the admin gRPC server.
func NewWalletAdminServer(wallets *ledger.Service, logger *zap.Logger) *WalletAdminServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletAdminServer{wallets: wallets, logger: logger}
}

func (server *WalletAdminServer) GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	wallet, err := server.lookupWallet(ctx, request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return newStruct(map[string]any{
		"userId":      wallet.CustomerID,
		"walletId":    wallet.ID.String(),
		"balance":     wallet.Balance,
		"currency":    wallet.Currency,
		"lastUpdated": wallet.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (server *WalletAdminServer) AddCredits(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	amount, err := amountField(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reason := stringField(request, "reason")
	adjustedBy := stringField(request, "adjustedBy")
	if reason == "" || adjustedBy == "" {
		return nil, mapToGRPCError(fmt.Errorf("%w: reason and adjustedBy are required", ledger.ErrMissingRequiredArgument))
	}
	wallet, err := server.ensureWallet(ctx, request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := ledger.MetadataFromMap(map[string]any{"reason": reason, "adjustedBy": adjustedBy, "channel": "grpc"})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, err := server.wallets.AddCredits(ctx, wallet.ID, ledger.CreditRequest{
		Amount:        amount,
		Subtype:       ledger.SubtypeManual,
		ReferenceType: ledger.ReferenceExternal,
		ReferenceID:   referenceID(request),
		Description:   reason,
		Metadata:      metadata,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return movementResponse(transaction, fmt.Sprintf("Successfully added %d credits", amount.Int64()))
}

func (server *WalletAdminServer) DeductCredits(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	amount, err := amountField(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	wallet, err := server.lookupWallet(ctx, request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	description := stringField(request, "reason")
	if description == "" {
		description = defaultAdminDescription
	}
	transaction, err := server.wallets.DeductCredits(ctx, wallet.ID, ledger.CreditRequest{
		Amount:        amount,
		Subtype:       ledger.SubtypeManual,
		ReferenceType: ledger.ReferenceExternal,
		ReferenceID:   referenceID(request),
		Description:   description,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return movementResponse(transaction, fmt.Sprintf("Successfully deducted %d credits", amount.Int64()))
}

func (server *WalletAdminServer) ListTransactions(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	limit := int(request.GetFields()["limit"].GetNumberValue())
	if limit < 0 || limit > maxListLimit {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	offset := int(request.GetFields()["offset"].GetNumberValue())
	filter := ledger.TransactionFilter{Limit: limit, Offset: offset}
	if raw := stringField(request, "type"); raw != "" {
		transactionType, err := ledger.ParseTransactionType(raw)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		filter.Type = transactionType
	}
	wallet, err := server.lookupWallet(ctx, request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transactions, err := server.wallets.GetTransactions(ctx, wallet.ID, filter)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entries := make([]any, 0, len(transactions))
	for _, transaction := range transactions {
		entries = append(entries, map[string]any{
			"id":            transaction.ID,
			"type":          transaction.Type.String(),
			"subtype":       transaction.Subtype.String(),
			"amount":        transaction.Amount.Int64(),
			"balanceAfter":  transaction.BalanceAfter,
			"referenceType": transaction.ReferenceType.String(),
			"referenceId":   transaction.ReferenceID,
			"description":   transaction.Description,
			"createdAt":     transaction.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return newStruct(map[string]any{
		"walletId":     wallet.ID.String(),
		"balance":      wallet.Balance,
		"transactions": entries,
	})
}

func (server *WalletAdminServer) lookupWallet(ctx context.Context, request *structpb.Struct) (ledger.Wallet, error) {
	customer, err := ledger.NewCustomerRef(stringField(request, "userId"))
	if err != nil {
		return ledger.Wallet{}, err
	}
	wallet, err := server.wallets.FindWalletByCustomer(ctx, customer)
	if err != nil {
		return ledger.Wallet{}, err
	}
	if wallet == nil {
		return ledger.Wallet{}, fmt.Errorf("%w: customer %s", ledger.ErrWalletNotFound, customer.String())
	}
	return *wallet, nil
}

func (server *WalletAdminServer) ensureWallet(ctx context.Context, request *structpb.Struct) (ledger.Wallet, error) {
	wallet, err := server.lookupWallet(ctx, request)
	if !errors.Is(err, ledger.ErrWalletNotFound) {
		return wallet, err
	}
	customer, err := ledger.NewCustomerRef(stringField(request, "userId"))
	if err != nil {
		return ledger.Wallet{}, err
	}
	created, err := server.wallets.CreateWallet(ctx, customer, 0)
	if err != nil {
		return ledger.Wallet{}, err
	}
	server.logger.Info("wallet created for admin grant", zap.String("customer", customer.String()), zap.String("wallet_id", created.ID.String()))
	return created, nil
}

func movementResponse(transaction ledger.Transaction, message string) (*structpb.Struct, error) {
	return newStruct(map[string]any{
		"balance":       transaction.BalanceAfter,
		"transactionId": transaction.ID,
		"message":       message,
	})
}

func newStruct(values map[string]any) (*structpb.Struct, error) {
	response, err := structpb.NewStruct(values)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}

func stringField(request *structpb.Struct, key string) string {
	return strings.TrimSpace(request.GetFields()[key].GetStringValue())
}

func amountField(request *structpb.Struct) (ledger.Credits, error) {
	value := request.GetFields()["amount"].GetNumberValue()
	if value != math.Trunc(value) || value > math.MaxInt64 {
		return 0, fmt.Errorf("%w: amount must be a whole number", ledger.ErrInvalidAmount)
	}
	return ledger.NewCredits(int64(value))
}

func referenceID(request *structpb.Struct) string {
	if reference := stringField(request, "referenceId"); reference != "" {
		return reference
	}
	return adminReferencePrefix + uuid.NewString()
}

func mapToGRPCError(source error) error {
	switch {
	case errors.Is(source, ledger.ErrInsufficientCredits):
		return status.Error(codes.FailedPrecondition, errorInsufficientCredits)
	case errors.Is(source, ledger.ErrInvalidCustomerRef):
		return status.Error(codes.InvalidArgument, errorInvalidUserID)
	case errors.Is(source, ledger.ErrInvalidAmount):
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	case ledger.IsValidationError(source):
		return status.Error(codes.InvalidArgument, errorInvalidArgument)
	case ledger.IsNotFoundError(source):
		return status.Error(codes.NotFound, errorNotFound)
	case ledger.IsConflictError(source):
		return status.Error(codes.AlreadyExists, errorAlreadyExists)
	case errors.Is(source, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, source.Error())
	}
	return status.Error(codes.Internal, source.Error())
}
