package ledger

import "time"

// User is the local identity record behind a wallet owner.
type User struct {
	ID         string
	ExternalID string
	Email      string
}

// Project groups a consumer's subscriptions.
type Project struct {
	ID      string
	OwnerID string
	Name    string
}

// API is a provider endpoint that can be subscribed to.
type API struct {
	ID   string
	Name string
	Path string
}

// SubscriptionStatusActive marks a usable subscription.
const SubscriptionStatusActive = "ACTIVE"

// Subscription binds a user, project and API to an issued API key.
type Subscription struct {
	ID         string
	TenantID   TenantID
	APIID      string
	UserID     string
	ProjectID  string
	APIKey     string
	KeyName    string
	CreditCost int64
	Status     string
	CreatedAt  time.Time
}
