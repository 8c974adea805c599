// Package razorpay adapts the Razorpay SDK to the payments.Provider contract.
package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/creditwallet/internal/payments"
	razorpaysdk "github.com/razorpay/razorpay-go"
)

const (
	providerName        = "razorpay"
	fieldID             = "id"
	fieldAmount         = "amount"
	fieldCurrency       = "currency"
	fieldOrderID        = "order_id"
	fieldStatus         = "status"
	fieldReceipt        = "receipt"
	fieldNotes          = "notes"
	fieldPaymentCapture = "payment_capture"
	fieldSpeed          = "speed"
	refundSpeedNormal   = "normal"
)

var errMissingCredentials = errors.New("razorpay key id and key secret are required")

type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Signer computes and checks Razorpay HMAC-SHA256 signatures.
type Signer struct {
	keySecret     []byte
	webhookSecret []byte
}

// NewSigner builds a Signer from the API key secret and the webhook secret.
func NewSigner(keySecret string, webhookSecret string) Signer {
	return Signer{keySecret: []byte(keySecret), webhookSecret: []byte(webhookSecret)}
}

// PaymentSignature is the checkout signature over "orderID|paymentID".
func (signer Signer) PaymentSignature(orderID string, paymentID string) string {
	return sign(signer.keySecret, []byte(orderID+"|"+paymentID))
}

// WebhookSignature is the signature Razorpay sends in X-Razorpay-Signature.
func (signer Signer) WebhookSignature(body []byte) string {
	return sign(signer.webhookSecret, body)
}

func (signer Signer) VerifyPaymentSignature(orderID string, paymentID string, signature string) bool {
	if len(signer.keySecret) == 0 || signature == "" {
		return false
	}
	return hmac.Equal([]byte(signer.PaymentSignature(orderID, paymentID)), []byte(signature))
}

func (signer Signer) VerifyWebhookSignature(body []byte, signature string) bool {
	if len(signer.webhookSecret) == 0 || signature == "" {
		return false
	}
	return hmac.Equal([]byte(signer.WebhookSignature(body)), []byte(signature))
}

func sign(secret []byte, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Client implements payments.Provider against the Razorpay API.
type Client struct {
	Signer
	keyID    string
	orders   orderAPI
	payments paymentAPI
}

// NewClient wires a Razorpay client.
func NewClient(keyID string, keySecret string, webhookSecret string) (*Client, error) {
	if strings.TrimSpace(keyID) == "" || strings.TrimSpace(keySecret) == "" {
		return nil, errMissingCredentials
	}
	sdk := razorpaysdk.NewClient(keyID, keySecret)
	return &Client{
		Signer:   NewSigner(keySecret, webhookSecret),
		keyID:    keyID,
		orders:   sdk.Order,
		payments: sdk.Payment,
	}, nil
}

func (client *Client) Name() string {
	return providerName
}

// CreateOrder opens an auto-captured order. The SDK has no context support, so the
// call is abandoned when ctx ends.
func (client *Client) CreateOrder(ctx context.Context, request payments.OrderRequest) (payments.Order, error) {
	notes := make(map[string]interface{}, len(request.Notes))
	for key, value := range request.Notes {
		notes[key] = value
	}
	orderData := map[string]interface{}{
		fieldAmount:         request.Amount,
		fieldCurrency:       request.Currency,
		fieldReceipt:        request.Receipt,
		fieldNotes:          notes,
		fieldPaymentCapture: 1,
	}
	body, err := call(ctx, func() (map[string]interface{}, error) {
		return client.orders.Create(orderData, nil)
	})
	if err != nil {
		return payments.Order{}, fmt.Errorf("razorpay create order: %w", err)
	}
	orderID := stringField(body, fieldID)
	if orderID == "" {
		return payments.Order{}, errors.New("razorpay create order: response has no id")
	}
	return payments.Order{
		ID:       orderID,
		Amount:   int64Field(body, fieldAmount),
		Currency: stringField(body, fieldCurrency),
		KeyID:    client.keyID,
	}, nil
}

func (client *Client) FetchPayment(ctx context.Context, providerPaymentID string) (payments.ProviderPayment, error) {
	body, err := call(ctx, func() (map[string]interface{}, error) {
		return client.payments.Fetch(providerPaymentID, nil, nil)
	})
	if err != nil {
		return payments.ProviderPayment{}, fmt.Errorf("razorpay fetch payment: %w", err)
	}
	return payments.ProviderPayment{
		ID:       stringField(body, fieldID),
		OrderID:  stringField(body, fieldOrderID),
		Status:   stringField(body, fieldStatus),
		Amount:   int64Field(body, fieldAmount),
		Currency: stringField(body, fieldCurrency),
	}, nil
}

// RefundPayment refunds part or all of a captured payment at normal speed.
func (client *Client) RefundPayment(ctx context.Context, request payments.RefundRequest) (payments.Refund, error) {
	notes := make(map[string]interface{}, len(request.Notes))
	for key, value := range request.Notes {
		notes[key] = value
	}
	refundData := map[string]interface{}{
		fieldSpeed: refundSpeedNormal,
		fieldNotes: notes,
	}
	body, err := call(ctx, func() (map[string]interface{}, error) {
		return client.payments.Refund(request.ProviderPaymentID, int(request.Amount), refundData, nil)
	})
	if err != nil {
		return payments.Refund{}, fmt.Errorf("razorpay refund payment: %w", err)
	}
	refundID := stringField(body, fieldID)
	if refundID == "" {
		return payments.Refund{}, errors.New("razorpay refund payment: response has no id")
	}
	return payments.Refund{
		ID:     refundID,
		Amount: int64Field(body, fieldAmount),
		Status: stringField(body, fieldStatus),
	}, nil
}

type callResult struct {
	body map[string]interface{}
	err  error
}

func call(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	done := make(chan callResult, 1)
	go func() {
		body, err := fn()
		done <- callResult{body: body, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-done:
		return result.body, result.err
	}
}

func stringField(body map[string]interface{}, key string) string {
	value, ok := body[key]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}

// int64Field reads a numeric field; the SDK decodes JSON numbers as float64.
func int64Field(body map[string]interface{}, key string) int64 {
	switch value := body[key].(type) {
	case float64:
		return int64(value)
	case int64:
		return value
	case int:
		return int64(value)
	default:
		return 0
	}
}
