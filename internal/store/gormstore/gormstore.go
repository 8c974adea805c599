package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintWalletCustomer      = "idx_wallets_tenant_customer"
	constraintPaymentReference    = "uniq_wallet_transactions_payment_reference"
	constraintPaymentIdempotency  = "idx_payments_idempotency_key"
	constraintSubscriptionAPIKey  = "idx_subscriptions_api_key"
	constraintUserExternalID      = "idx_users_external_id"
	defaultMetadataJSON           = "{}"
	pgUniqueViolationCode         = "23505"
	sqliteConstraintCode          = 19
	errorOperationStore           = "store"
	errorSubjectWallet            = "wallet"
	errorSubjectBalance           = "balance"
	errorSubjectTransaction       = "transaction"
	errorSubjectUser              = "user"
	errorCodeCreate               = "create"
	errorCodeDuplicate            = "duplicate"
	errorCodeGet                  = "get"
	errorCodeInsert               = "insert"
	errorCodeInvalid              = "invalid"
	errorCodeList                 = "list"
	errorCodeLock                 = "lock"
	errorCodeLookup               = "lookup"
	errorCodeSum                  = "sum"
	errorCodeUpdate               = "update"
	errorCodeInsufficientCredits  = "insufficient_credits"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates every table the store uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction. Calls on a transactional store nest as savepoints.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateWallet(ctx context.Context, input ledger.WalletInput) (ledger.Wallet, error) {
	createdAt := input.CreatedAt.UTC()
	if input.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := Wallet{
		TenantID:   input.TenantID.String(),
		CustomerID: input.CustomerID,
		Currency:   input.Currency,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintWalletCustomer) {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeDuplicate, ledger.ErrWalletExists)
	}
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	return mapWallet(model)
}

func (store *Store) GetWallet(ctx context.Context, walletID ledger.WalletID) (ledger.Wallet, error) {
	return store.takeWallet(store.db.WithContext(ctx), walletID, errorCodeGet)
}

func (store *Store) LockWallet(ctx context.Context, walletID ledger.WalletID) (ledger.Wallet, error) {
	return store.takeWallet(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), walletID, errorCodeLock)
}

func (store *Store) takeWallet(query *gorm.DB, walletID ledger.WalletID, code string) (ledger.Wallet, error) {
	var model Wallet
	err := query.Where("id = ?", walletID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, code, ledger.ErrWalletNotFound)
		}
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, code, err)
	}
	return mapWallet(model)
}

func (store *Store) FindWalletByCustomer(ctx context.Context, tenantID ledger.TenantID, ref ledger.CustomerRef) (ledger.Wallet, error) {
	db := store.db.WithContext(ctx)
	externalMatches := db.Session(&gorm.Session{NewDB: true}).Model(&User{}).Select("id").Where("external_id = ?", ref.String())
	var model Wallet
	err := db.
		Where("tenant_id = ?", tenantID.String()).
		Where("customer_id = ? OR customer_id IN (?)", ref.String(), externalMatches).
		Order("created_at ASC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, ledger.ErrWalletNotFound)
		}
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, err)
	}
	return mapWallet(model)
}

// ApplyTransaction moves the balance with a guarded update and appends the
// ledger line in the same (nested) transaction.
func (store *Store) ApplyTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.Transaction, error) {
	if input.Amount <= 0 {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, ledger.ErrInvalidAmount)
	}
	createdAt := input.CreatedAt.UTC()
	if input.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var applied WalletTransaction
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		amount := input.Amount.Int64()
		update := transaction.Model(&Wallet{}).Where("id = ?", input.WalletID.String())
		balanceExpression := gorm.Expr("balance + ?", amount)
		if input.Type == ledger.TransactionDebit {
			update = update.Where("balance >= ?", amount)
			balanceExpression = gorm.Expr("balance - ?", amount)
		}
		result := update.Updates(map[string]any{"balance": balanceExpression, "updated_at": createdAt})
		if result.Error != nil {
			return wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
		}
		var wallet Wallet
		if err := transaction.Where("id = ?", input.WalletID.String()).Take(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return wrapStoreError(errorSubjectWallet, errorCodeGet, ledger.ErrWalletNotFound)
			}
			return wrapStoreError(errorSubjectWallet, errorCodeGet, err)
		}
		if result.RowsAffected == 0 {
			return wrapStoreError(errorSubjectBalance, errorCodeInsufficientCredits, ledger.ErrInsufficientCredits)
		}
		applied = WalletTransaction{
			WalletID:      wallet.ID,
			TenantID:      wallet.TenantID,
			CustomerID:    wallet.CustomerID,
			Type:          input.Type.String(),
			Subtype:       input.Subtype.String(),
			Status:        input.Status.String(),
			Amount:        amount,
			BalanceAfter:  wallet.Balance,
			ReferenceType: input.ReferenceType.String(),
			ReferenceID:   input.ReferenceID,
			Description:   input.Description,
			Metadata:      datatypesJSON(input.Metadata.String()),
			CreatedAt:     createdAt,
		}
		err := transaction.Create(&applied).Error
		if isUniqueViolation(err, constraintPaymentReference) {
			return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateReference)
		}
		if err != nil {
			return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
		}
		return nil
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return mapTransaction(applied)
}

func (store *Store) ListTransactions(ctx context.Context, walletID ledger.WalletID, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	query := store.db.WithContext(ctx).Where("wallet_id = ?", walletID.String())
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type.String())
	}
	var rows []WalletTransaction
	err := query.
		Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) SumCompletedTransactions(ctx context.Context, walletID ledger.WalletID) (int64, int64, error) {
	var sums struct {
		Credits int64
		Debits  int64
	}
	err := store.db.WithContext(ctx).
		Model(&WalletTransaction{}).
		Select(
			"coalesce(sum(case when type = ? then amount else 0 end),0) as credits, coalesce(sum(case when type = ? then amount else 0 end),0) as debits",
			ledger.TransactionCredit.String(),
			ledger.TransactionDebit.String(),
		).
		Where("wallet_id = ? AND status = ?", walletID.String(), ledger.TransactionCompleted.String()).
		Scan(&sums).Error
	if err != nil {
		return 0, 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sums.Credits, sums.Debits, nil
}

func (store *Store) FindTransactionByReference(ctx context.Context, referenceID string) (ledger.Transaction, error) {
	var row WalletTransaction
	err := store.db.WithContext(ctx).
		Where("reference_id = ?", referenceID).
		Order("created_at DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeLookup, ledger.ErrTransactionNotFound)
		}
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return mapTransaction(row)
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func mapWallet(model Wallet) (ledger.Wallet, error) {
	walletID, err := ledger.NewWalletID(model.ID)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	tenantID, err := ledger.NewTenantID(model.TenantID)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	if model.Balance < 0 {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, ledger.ErrInvalidBalance)
	}
	return ledger.Wallet{
		ID:         walletID,
		TenantID:   tenantID,
		CustomerID: model.CustomerID,
		Balance:    model.Balance,
		Currency:   model.Currency,
		CreatedAt:  model.CreatedAt.UTC(),
		UpdatedAt:  model.UpdatedAt.UTC(),
	}, nil
}

func mapTransaction(row WalletTransaction) (ledger.Transaction, error) {
	walletID, err := ledger.NewWalletID(row.WalletID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tenantID, err := ledger.NewTenantID(row.TenantID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	transactionType, err := ledger.ParseTransactionType(row.Type)
	if err != nil {
		return ledger.Transaction{}, err
	}
	subtype, err := ledger.ParseTransactionSubtype(row.Subtype)
	if err != nil {
		return ledger.Transaction{}, err
	}
	status, err := ledger.ParseTransactionStatus(row.Status)
	if err != nil {
		return ledger.Transaction{}, err
	}
	referenceType, err := ledger.ParseReferenceType(row.ReferenceType)
	if err != nil {
		return ledger.Transaction{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		ID:            row.ID,
		WalletID:      walletID,
		TenantID:      tenantID,
		CustomerID:    row.CustomerID,
		Type:          transactionType,
		Subtype:       subtype,
		Status:        status,
		Amount:        ledger.Credits(row.Amount),
		BalanceAfter:  row.BalanceAfter,
		ReferenceType: referenceType,
		ReferenceID:   row.ReferenceID,
		Description:   row.Description,
		Metadata:      metadata,
		CreatedAt:     row.CreatedAt.UTC(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isUniqueViolation reports a unique-constraint failure. Postgres errors are
// matched on constraint name; SQLite does not expose it, so any constraint
// failure counts.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
