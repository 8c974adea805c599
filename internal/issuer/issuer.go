// Package issuer couples a credit deduction to the creation of an API key subscription.
package issuer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"go.jetify.com/typeid/v2"
	"go.uber.org/zap"
)

const (
	DefaultKeyPrefix      = "veil_"
	defaultKeyName        = "API Key"
	subscriptionPrefix    = "sub"
	keyEntropyBytes       = 32
	referencePrefix       = "api_key:"
	compensationTimeout   = 10 * time.Second
	registrationTimeout   = 8 * time.Second
	descriptionAPIKeyCost = "API key generation"
)

// ErrGatewayRegistration reports that the API gateway did not accept an issued key.
var ErrGatewayRegistration = errors.New("api gateway registration failed")

// Registrar publishes issued keys to the API gateway.
type Registrar interface {
	RegisterAPIKey(ctx context.Context, apiPath string, key string, name string) error
	DeleteAPIKey(ctx context.Context, apiPath string, key string) error
}

// IssueRecorder observes issued keys.
type IssueRecorder interface {
	RecordAPIKeyIssued()
}

// IssueRequest describes the key a customer is paying for.
type IssueRequest struct {
	CreditCost int64
	KeyName    string
	APIID      string
	ProjectID  string
}

// IssuedKey is returned once the deduction and the subscription are committed.
type IssuedKey struct {
	APIKey           string
	RemainingCredits int64
	SubscriptionID   string
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithLogger sets the issuer logger.
func WithLogger(logger *zap.Logger) Option {
	return func(issuer *Issuer) {
		if logger != nil {
			issuer.logger = logger
		}
	}
}

// WithKeyPrefix overrides the prefix that marks issued keys.
func WithKeyPrefix(prefix string) Option {
	return func(issuer *Issuer) {
		if strings.TrimSpace(prefix) != "" {
			issuer.keyPrefix = prefix
		}
	}
}

// WithRegistrationTimeout caps the gateway registration, retries included.
// The wallet row stays locked for that long at most.
func WithRegistrationTimeout(timeout time.Duration) Option {
	return func(issuer *Issuer) {
		if timeout > 0 {
			issuer.registrationTimeout = timeout
		}
	}
}

// WithRecorder observes successful issuance.
func WithRecorder(recorder IssueRecorder) Option {
	return func(issuer *Issuer) {
		issuer.recorder = recorder
	}
}

// Issuer sells API keys for credits.
type Issuer struct {
	store               ledger.Store
	wallets             *ledger.Service
	registrar           Registrar
	nowFn               func() time.Time
	keyPrefix           string
	registrationTimeout time.Duration
	logger              *zap.Logger
	recorder            IssueRecorder
}

// New wires an Issuer. A nil registrar skips gateway registration.
func New(store ledger.Store, wallets *ledger.Service, registrar Registrar, now func() time.Time, options ...Option) (*Issuer, error) {
	if store == nil || wallets == nil || now == nil {
		return nil, fmt.Errorf("%w: issuer dependencies are required", ledger.ErrInvalidServiceConfig)
	}
	issuer := &Issuer{
		store:               store,
		wallets:             wallets,
		registrar:           registrar,
		nowFn:               now,
		keyPrefix:           DefaultKeyPrefix,
		registrationTimeout: registrationTimeout,
		logger:              zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(issuer)
		}
	}
	return issuer, nil
}

// GenerateAPIKey deducts the key's cost and creates its subscription in one unit of work.
// Any failure after the deduction rolls the deduction back with everything else.
func (issuer *Issuer) GenerateAPIKey(ctx context.Context, customer ledger.CustomerRef, request IssueRequest) (IssuedKey, error) {
	if request.CreditCost <= 0 {
		return IssuedKey{}, fmt.Errorf("%w: creditCost must be greater than zero", ledger.ErrInvalidAmount)
	}
	apiID := strings.TrimSpace(request.APIID)
	projectID := strings.TrimSpace(request.ProjectID)
	if apiID == "" || projectID == "" {
		return IssuedKey{}, fmt.Errorf("%w: apiId and projectId are required", ledger.ErrMissingRequiredArgument)
	}
	keyName := strings.TrimSpace(request.KeyName)
	if keyName == "" {
		keyName = defaultKeyName
	}
	cost := ledger.Credits(request.CreditCost)

	wallet, err := issuer.wallets.FindWalletByCustomer(ctx, customer)
	if err != nil {
		return IssuedKey{}, err
	}
	if wallet == nil {
		return IssuedKey{}, fmt.Errorf("%w: customer %s", ledger.ErrWalletNotFound, customer.String())
	}
	sufficient, err := issuer.wallets.HasSufficientCredits(ctx, wallet.ID, cost)
	if err != nil {
		return IssuedKey{}, err
	}
	if !sufficient {
		return IssuedKey{}, ledger.ErrInsufficientCredits
	}

	subscriptionID, err := typeid.Generate(subscriptionPrefix)
	if err != nil {
		return IssuedKey{}, fmt.Errorf("subscription id: %w", err)
	}
	var (
		issued     IssuedKey
		registered bool
		apiPath    string
		apiKey     string
	)
	issueErr := issuer.store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		metadata, err := ledger.MetadataFromMap(map[string]any{
			"apiId":          apiID,
			"projectId":      projectID,
			"subscriptionId": subscriptionID.String(),
		})
		if err != nil {
			return err
		}
		transaction, err := issuer.wallets.WithStore(txStore).DeductCredits(ctx, wallet.ID, ledger.CreditRequest{
			Amount:        cost,
			Subtype:       ledger.SubtypePayment,
			ReferenceType: ledger.ReferenceExternal,
			ReferenceID:   referencePrefix + subscriptionID.String(),
			Description:   descriptionAPIKeyCost,
			Metadata:      metadata,
		})
		if err != nil {
			return err
		}
		if _, err := txStore.GetProject(ctx, projectID); err != nil {
			return err
		}
		api, err := txStore.GetAPI(ctx, apiID)
		if err != nil {
			return err
		}
		apiKey, err = issuer.generateKey()
		if err != nil {
			return err
		}
		subscription, err := txStore.CreateSubscription(ctx, ledger.Subscription{
			ID:         subscriptionID.String(),
			TenantID:   issuer.wallets.Tenant(),
			APIID:      api.ID,
			UserID:     wallet.CustomerID,
			ProjectID:  projectID,
			APIKey:     apiKey,
			KeyName:    keyName,
			CreditCost: request.CreditCost,
			Status:     ledger.SubscriptionStatusActive,
			CreatedAt:  issuer.nowFn(),
		})
		if err != nil {
			return err
		}
		if issuer.registrar != nil {
			apiPath = api.Path
			registerCtx, cancel := context.WithTimeout(ctx, issuer.registrationTimeout)
			err := issuer.registrar.RegisterAPIKey(registerCtx, api.Path, apiKey, keyName)
			cancel()
			if err != nil {
				// a request cut off by the deadline may still have landed
				registered = errors.Is(err, context.DeadlineExceeded)
				return fmt.Errorf("%w: %w", ErrGatewayRegistration, err)
			}
			registered = true
		}
		issued = IssuedKey{
			APIKey:           subscription.APIKey,
			RemainingCredits: transaction.BalanceAfter,
			SubscriptionID:   subscription.ID,
		}
		return nil
	})
	if issueErr != nil {
		if registered {
			issuer.compensate(ctx, apiPath, apiKey, subscriptionID.String())
		}
		issuer.logger.Warn("api key issuance rolled back",
			zap.String("wallet_id", wallet.ID.String()),
			zap.String("api_id", apiID),
			zap.Error(issueErr),
		)
		return IssuedKey{}, issueErr
	}
	if issuer.recorder != nil {
		issuer.recorder.RecordAPIKeyIssued()
	}
	issuer.logger.Info("api key issued",
		zap.String("wallet_id", wallet.ID.String()),
		zap.String("subscription_id", issued.SubscriptionID),
		zap.Int64("cost", request.CreditCost),
		zap.Int64("remaining", issued.RemainingCredits),
	)
	return issued, nil
}

// compensate removes a key the gateway accepted for a unit of work that never committed.
func (issuer *Issuer) compensate(ctx context.Context, apiPath string, apiKey string, subscriptionID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := issuer.registrar.DeleteAPIKey(cleanupCtx, apiPath, apiKey); err != nil {
		issuer.logger.Error("gateway key cleanup failed",
			zap.String("subscription_id", subscriptionID),
			zap.String("api_path", apiPath),
			zap.Error(err),
		)
	}
}

func (issuer *Issuer) generateKey() (string, error) {
	buffer := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return issuer.keyPrefix + hex.EncodeToString(buffer), nil
}
