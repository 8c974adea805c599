package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service owns every balance mutation in the wallet core.
type Service struct {
	store    Store
	nowFn    func() time.Time
	logger   OperationLogger
	tenantID TenantID
	currency string
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:    store,
		nowFn:    now,
		tenantID: TenantID{value: DefaultTenantID},
		currency: DefaultCurrency,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.tenantID.String() == "" {
		return nil, fmt.Errorf("%w: tenant is empty", ErrInvalidServiceConfig)
	}
	return service, nil
}

// CreateWallet provisions the customer's wallet, optionally seeding it with free credits.
func (service *Service) CreateWallet(ctx context.Context, customer CustomerRef, initialBalance int64) (Wallet, error) {
	var created Wallet
	operationError := func() error {
		if initialBalance < 0 {
			return fmt.Errorf("%w: must not be negative", ErrInvalidInitialBalance)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			_, err := transactionStore.FindWalletByCustomer(ctx, service.tenantID, customer)
			if err == nil {
				return ErrWalletExists
			}
			if !errors.Is(err, ErrWalletNotFound) {
				return err
			}
			user, err := transactionStore.ResolveUser(ctx, customer)
			if err != nil {
				return err
			}
			wallet, err := transactionStore.CreateWallet(ctx, WalletInput{
				TenantID:   service.tenantID,
				CustomerID: user.ID,
				Currency:   service.currency,
				CreatedAt:  service.nowFn(),
			})
			if err != nil {
				return err
			}
			if initialBalance > 0 {
				if _, err := transactionStore.ApplyTransaction(ctx, TransactionInput{
					WalletID:      wallet.ID,
					Type:          TransactionCredit,
					Subtype:       SubtypeFree,
					Status:        TransactionCompleted,
					Amount:        Credits(initialBalance),
					ReferenceType: ReferenceExternal,
					ReferenceID:   referenceSystem,
					Description:   descriptionInitial,
					Metadata:      MetadataJSON{value: defaultMetadataJSON},
					CreatedAt:     service.nowFn(),
				}); err != nil {
					return err
				}
				wallet, err = transactionStore.GetWallet(ctx, wallet.ID)
				if err != nil {
					return err
				}
			}
			created = wallet
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:    operationCreateWallet,
		WalletID:     created.ID,
		CustomerRef:  customer,
		Amount:       Credits(initialBalance),
		Subtype:      SubtypeFree,
		BalanceAfter: created.Balance,
		Error:        operationError,
	})
	return created, operationError
}

// FindWalletByCustomer returns nil without error when the customer has no wallet.
func (service *Service) FindWalletByCustomer(ctx context.Context, customer CustomerRef) (*Wallet, error) {
	wallet, err := service.store.FindWalletByCustomer(ctx, service.tenantID, customer)
	if errors.Is(err, ErrWalletNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// GetWallet loads a wallet by id.
func (service *Service) GetWallet(ctx context.Context, walletID WalletID) (Wallet, error) {
	return service.store.GetWallet(ctx, walletID)
}

// AddCredits appends a CREDIT transaction and increments the balance.
func (service *Service) AddCredits(ctx context.Context, walletID WalletID, request CreditRequest) (Transaction, error) {
	request = applyCreditDefaults(request, SubtypePaid, referenceManual, descriptionCredit)
	var transaction Transaction
	operationError := func() error {
		if request.Amount <= 0 {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if _, err := transactionStore.LockWallet(ctx, walletID); err != nil {
				return err
			}
			applied, err := transactionStore.ApplyTransaction(ctx, service.transactionInput(walletID, TransactionCredit, request))
			if err != nil {
				return err
			}
			transaction = applied
			return nil
		})
	}()
	service.logOperation(ctx, service.movementLog(operationAddCredits, walletID, request, transaction, operationError))
	return transaction, operationError
}

// DeductCredits appends a DEBIT transaction when the balance covers it.
// The balance check and the decrement happen in the same unit of work.
func (service *Service) DeductCredits(ctx context.Context, walletID WalletID, request CreditRequest) (Transaction, error) {
	request = applyCreditDefaults(request, SubtypePayment, referenceAPIUsage, descriptionDebit)
	var transaction Transaction
	operationError := func() error {
		if request.Amount <= 0 {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			wallet, err := transactionStore.LockWallet(ctx, walletID)
			if err != nil {
				return err
			}
			if wallet.Balance < request.Amount.Int64() {
				return ErrInsufficientCredits
			}
			applied, err := transactionStore.ApplyTransaction(ctx, service.transactionInput(walletID, TransactionDebit, request))
			if err != nil {
				return err
			}
			transaction = applied
			return nil
		})
	}()
	service.logOperation(ctx, service.movementLog(operationDeductCredit, walletID, request, transaction, operationError))
	return transaction, operationError
}

// HasSufficientCredits is an advisory read; it does not reserve anything.
func (service *Service) HasSufficientCredits(ctx context.Context, walletID WalletID, amount Credits) (bool, error) {
	wallet, err := service.store.GetWallet(ctx, walletID)
	if err != nil {
		return false, err
	}
	return wallet.Balance >= amount.Int64(), nil
}

func (service *Service) transactionInput(walletID WalletID, transactionType TransactionType, request CreditRequest) TransactionInput {
	return TransactionInput{
		WalletID:      walletID,
		Type:          transactionType,
		Subtype:       request.Subtype,
		Status:        TransactionCompleted,
		Amount:        request.Amount,
		ReferenceType: request.ReferenceType,
		ReferenceID:   request.ReferenceID,
		Description:   request.Description,
		Metadata:      request.Metadata,
		CreatedAt:     service.nowFn(),
	}
}

func (service *Service) movementLog(operation string, walletID WalletID, request CreditRequest, transaction Transaction, operationError error) OperationLog {
	return OperationLog{
		Operation:     operation,
		WalletID:      walletID,
		Amount:        request.Amount,
		Subtype:       request.Subtype,
		ReferenceType: request.ReferenceType,
		ReferenceID:   request.ReferenceID,
		BalanceAfter:  transaction.BalanceAfter,
		Error:         operationError,
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.TenantID.String() == "" {
		entry.TenantID = service.tenantID
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func applyCreditDefaults(request CreditRequest, subtype TransactionSubtype, referenceID string, description string) CreditRequest {
	if request.Subtype == "" {
		request.Subtype = subtype
	}
	if request.ReferenceType == "" {
		request.ReferenceType = ReferenceExternal
	}
	if request.ReferenceID == "" {
		request.ReferenceID = referenceID
	}
	if request.Description == "" {
		request.Description = description
	}
	if request.Metadata.value == "" {
		request.Metadata = MetadataJSON{value: defaultMetadataJSON}
	}
	return request
}
