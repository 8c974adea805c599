package payments

import "context"

// Provider is the payment gateway the service talks to.
type Provider interface {
	Name() string
	CreateOrder(ctx context.Context, request OrderRequest) (Order, error)
	FetchPayment(ctx context.Context, providerPaymentID string) (ProviderPayment, error)
	RefundPayment(ctx context.Context, request RefundRequest) (Refund, error)
	VerifyPaymentSignature(orderID string, paymentID string, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
}

// OrderRequest asks the provider for a checkout order. Amount is in currency subunits.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Order is the provider's view of a created checkout order.
type Order struct {
	ID       string
	Amount   int64
	Currency string
	KeyID    string
}

// ProviderPayment is the provider's record of a payment against an order.
type ProviderPayment struct {
	ID       string
	OrderID  string
	Status   string
	Amount   int64
	Currency string
}

// RefundRequest asks the provider to return Amount subunits of a captured payment.
type RefundRequest struct {
	ProviderPaymentID string
	Amount            int64
	Notes             map[string]string
}

// Refund is the provider's record of a refund.
type Refund struct {
	ID     string
	Amount int64
	Status string
}

// SettlementRecorder observes settlement outcomes.
type SettlementRecorder interface {
	RecordSettlement(outcome string)
}
