package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the wallet core.
var (
	ErrInsufficientCredits     = errors.New("insufficient credits")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrWalletExists            = errors.New("wallet already exists")
	ErrUserNotFound            = errors.New("user not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrDuplicateReference      = errors.New("duplicate transaction reference")
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrPaymentExists           = errors.New("payment already exists")
	ErrPaymentClosed           = errors.New("payment closed")
	ErrInvalidSignature        = errors.New("invalid signature")
	ErrInvalidWebhookPayload   = errors.New("invalid webhook payload")
	ErrProjectNotFound         = errors.New("project not found")
	ErrAPINotFound             = errors.New("api not found")
	ErrSubscriptionNotFound    = errors.New("subscription not found")
	ErrAPIKeyExists            = errors.New("api key already exists")
	ErrProviderUnavailable     = errors.New("payment provider unavailable")
	ErrProviderMismatch        = errors.New("payment provider mismatch")
	ErrInvalidWalletID         = errors.New("invalid wallet id")
	ErrInvalidCustomerRef      = errors.New("invalid customer reference")
	ErrInvalidTenantID         = errors.New("invalid tenant id")
	ErrInvalidIdempotencyKey   = errors.New("invalid idempotency key")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidInitialBalance   = errors.New("invalid initial balance")
	ErrInvalidTransactionType  = errors.New("invalid transaction type")
	ErrInvalidSubtype          = errors.New("invalid transaction subtype")
	ErrInvalidStatus           = errors.New("invalid transaction status")
	ErrInvalidReferenceType    = errors.New("invalid reference type")
	ErrInvalidPaymentStatus    = errors.New("invalid payment status")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidPagination       = errors.New("invalid pagination")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
	ErrInvalidBalance          = errors.New("invalid balance")
	ErrMissingRequiredArgument = errors.New("missing required argument")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsValidationError reports whether err is a client-side input problem.
func IsValidationError(err error) bool {
	for _, candidate := range []error{
		ErrInvalidWalletID,
		ErrInvalidCustomerRef,
		ErrInvalidTenantID,
		ErrInvalidIdempotencyKey,
		ErrInvalidAmount,
		ErrInvalidInitialBalance,
		ErrInvalidTransactionType,
		ErrInvalidSubtype,
		ErrInvalidStatus,
		ErrInvalidReferenceType,
		ErrInvalidPaymentStatus,
		ErrInvalidMetadataJSON,
		ErrInvalidPagination,
		ErrInvalidWebhookPayload,
		ErrMissingRequiredArgument,
	} {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}

// IsNotFoundError reports whether err names an absent entity.
func IsNotFoundError(err error) bool {
	for _, candidate := range []error{
		ErrWalletNotFound,
		ErrUserNotFound,
		ErrTransactionNotFound,
		ErrPaymentNotFound,
		ErrProjectNotFound,
		ErrAPINotFound,
		ErrSubscriptionNotFound,
	} {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}

// IsConflictError reports whether err is a uniqueness violation.
func IsConflictError(err error) bool {
	for _, candidate := range []error{
		ErrWalletExists,
		ErrDuplicateReference,
		ErrPaymentExists,
		ErrAPIKeyExists,
	} {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}
