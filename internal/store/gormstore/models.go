package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User mirrors the users table maintained by the identity collaborator.
type User struct {
	ID         string    `gorm:"primaryKey"`
	ExternalID *string   `gorm:"uniqueIndex:idx_users_external_id"`
	Email      string    `gorm:"not null;default:''"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

func (user *User) BeforeCreate(tx *gorm.DB) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	return nil
}

// Wallet represents the wallets table.
type Wallet struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	TenantID   string    `gorm:"not null;index:idx_wallets_tenant_customer,unique,priority:1"`
	CustomerID string    `gorm:"not null;index:idx_wallets_tenant_customer,unique,priority:2"`
	Balance    int64     `gorm:"not null;default:0"`
	Currency   string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

func (wallet *Wallet) BeforeCreate(tx *gorm.DB) error {
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	return nil
}

// WalletTransaction mirrors the append-only wallet_transactions table.
// A PAYMENT reference may move a wallet at most once per direction.
type WalletTransaction struct {
	ID            string         `gorm:"type:uuid;primaryKey"`
	WalletID      string         `gorm:"type:uuid;not null;index:idx_wallet_transactions_wallet_created,priority:1;index:uniq_wallet_transactions_payment_reference,unique,priority:1,where:reference_type = 'PAYMENT'"`
	TenantID      string         `gorm:"not null"`
	CustomerID    string         `gorm:"not null"`
	Type          string         `gorm:"not null;index:uniq_wallet_transactions_payment_reference,unique,priority:2"`
	Subtype       string         `gorm:"not null"`
	Status        string         `gorm:"not null"`
	Amount        int64          `gorm:"not null"`
	BalanceAfter  int64          `gorm:"not null"`
	ReferenceType string         `gorm:"not null"`
	ReferenceID   string         `gorm:"not null;index:idx_wallet_transactions_reference;index:uniq_wallet_transactions_payment_reference,unique,priority:3"`
	Description   string         `gorm:"not null;default:''"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_wallet_transactions_wallet_created,priority:2"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

func (transaction *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.ID == "" {
		transaction.ID = uuid.NewString()
	}
	return nil
}

// Payment mirrors the payments table.
type Payment struct {
	ID                string         `gorm:"type:uuid;primaryKey"`
	TenantID          string         `gorm:"not null"`
	IdempotencyKey    string         `gorm:"not null;uniqueIndex:idx_payments_idempotency_key"`
	DestinationType   string         `gorm:"not null"`
	DestinationID     string         `gorm:"not null;index:idx_payments_destination_created,priority:1"`
	PaymentMethodType string         `gorm:"not null;default:''"`
	Gateway           string         `gorm:"not null;default:''"`
	ProviderOrderID   *string        `gorm:"uniqueIndex:idx_payments_provider_order_id"`
	ProviderPaymentID string         `gorm:"not null;default:''"`
	ProviderSignature string         `gorm:"not null;default:''"`
	Amount            int64          `gorm:"not null"`
	Currency          string         `gorm:"not null"`
	Credits           int64          `gorm:"not null"`
	Status            string         `gorm:"not null;index"`
	CreditsApplied    int64          `gorm:"not null;default:0"`
	BalanceAfter      int64          `gorm:"not null;default:0"`
	RefundedAmount    int64          `gorm:"not null;default:0"`
	Metadata          datatypes.JSON `gorm:"type:jsonb;not null"`
	ErrorMessage      string         `gorm:"not null;default:''"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_payments_destination_created,priority:2"`
	UpdatedAt         time.Time      `gorm:"not null"`
	SucceededAt       *time.Time
	FailedAt          *time.Time
	RefundedAt        *time.Time
}

func (Payment) TableName() string { return "payments" }

func (payment *Payment) BeforeCreate(tx *gorm.DB) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	return nil
}

// PaymentAttempt mirrors the payment_attempts audit table.
type PaymentAttempt struct {
	ID                string    `gorm:"type:uuid;primaryKey"`
	PaymentID         string    `gorm:"type:uuid;not null;index:uniq_payment_attempts_number,unique,priority:1"`
	TenantID          string    `gorm:"not null"`
	AttemptNumber     int       `gorm:"not null;index:uniq_payment_attempts_number,unique,priority:2"`
	Status            string    `gorm:"not null"`
	ProviderAttemptID string    `gorm:"not null;default:''"`
	ErrorMessage      string    `gorm:"not null;default:''"`
	CreatedAt         time.Time `gorm:"not null"`
}

func (PaymentAttempt) TableName() string { return "payment_attempts" }

func (attempt *PaymentAttempt) BeforeCreate(tx *gorm.DB) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	return nil
}

// Project mirrors the projects table owned by the catalog.
type Project struct {
	ID        string    `gorm:"primaryKey"`
	OwnerID   string    `gorm:"not null;index"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Project) TableName() string { return "projects" }

// API mirrors the apis table owned by the catalog.
type API struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	Path      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (API) TableName() string { return "apis" }

// Subscription mirrors the subscriptions table.
type Subscription struct {
	ID         string    `gorm:"primaryKey"`
	TenantID   string    `gorm:"not null"`
	APIID      string    `gorm:"not null;index"`
	UserID     string    `gorm:"not null;index"`
	ProjectID  string    `gorm:"not null"`
	APIKey     string    `gorm:"not null;uniqueIndex:idx_subscriptions_api_key"`
	KeyName    string    `gorm:"not null;default:''"`
	CreditCost int64     `gorm:"not null"`
	Status     string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{
		&User{},
		&Wallet{},
		&WalletTransaction{},
		&Payment{},
		&PaymentAttempt{},
		&Project{},
		&API{},
		&Subscription{},
	}
}
