package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"gorm.io/gorm"
)

func (store *Store) ResolveUser(ctx context.Context, ref ledger.CustomerRef) (ledger.User, error) {
	var model User
	err := store.db.WithContext(ctx).
		Where("id = ? OR external_id = ?", ref.String(), ref.String()).
		Order("created_at ASC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, ledger.ErrUserNotFound)
		}
		return ledger.User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return mapUser(model), nil
}

// EnsureUser upserts the local record for an externally asserted subject.
func (store *Store) EnsureUser(ctx context.Context, externalID string, email string) (ledger.User, error) {
	subject := strings.TrimSpace(externalID)
	if subject == "" {
		return ledger.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, ledger.ErrInvalidCustomerRef)
	}
	db := store.db.WithContext(ctx)
	var model User
	err := db.Where("external_id = ?", subject).Take(&model).Error
	if err == nil {
		if email != "" && model.Email != email {
			if updateErr := db.Model(&User{}).Where("id = ?", model.ID).Update("email", email).Error; updateErr != nil {
				return ledger.User{}, wrapStoreError(errorSubjectUser, errorCodeUpdate, updateErr)
			}
			model.Email = email
		}
		return mapUser(model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	model = User{ExternalID: &subject, Email: email, CreatedAt: time.Now().UTC()}
	createErr := db.Transaction(func(transaction *gorm.DB) error {
		return transaction.Create(&model).Error
	})
	if isUniqueViolation(createErr, constraintUserExternalID) {
		var existing User
		if lookupErr := db.Where("external_id = ?", subject).Take(&existing).Error; lookupErr != nil {
			return ledger.User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, lookupErr)
		}
		return mapUser(existing), nil
	}
	if createErr != nil {
		return ledger.User{}, wrapStoreError(errorSubjectUser, errorCodeCreate, createErr)
	}
	return mapUser(model), nil
}

// CreateUser inserts a user row with a caller-chosen internal id.
func (store *Store) CreateUser(ctx context.Context, user ledger.User) (ledger.User, error) {
	model := User{ID: user.ID, Email: user.Email, CreatedAt: time.Now().UTC()}
	if user.ExternalID != "" {
		externalID := user.ExternalID
		model.ExternalID = &externalID
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if err != nil {
		return ledger.User{}, wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	return mapUser(model), nil
}

func mapUser(model User) ledger.User {
	user := ledger.User{ID: model.ID, Email: model.Email}
	if model.ExternalID != nil {
		user.ExternalID = *model.ExternalID
	}
	return user
}
