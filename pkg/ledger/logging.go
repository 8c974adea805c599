package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing wallet operation.
type OperationLog struct {
	Operation     string
	TenantID      TenantID
	WalletID      WalletID
	CustomerRef   CustomerRef
	Amount        Credits
	Subtype       TransactionSubtype
	ReferenceType ReferenceType
	ReferenceID   string
	BalanceAfter  int64
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithTenant scopes wallet lookups and creation to tenantID.
func WithTenant(tenantID TenantID) ServiceOption {
	return func(service *Service) {
		service.tenantID = tenantID
	}
}

// WithCurrency overrides the symbolic unit stamped on new wallets.
func WithCurrency(currency string) ServiceOption {
	return func(service *Service) {
		if currency != "" {
			service.currency = currency
		}
	}
}
