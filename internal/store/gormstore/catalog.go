package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"gorm.io/gorm"
)

const (
	errorSubjectProject      = "project"
	errorSubjectAPI          = "api"
	errorSubjectSubscription = "subscription"
)

func (store *Store) GetProject(ctx context.Context, projectID string) (ledger.Project, error) {
	var model Project
	err := store.db.WithContext(ctx).Where("id = ?", projectID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Project{}, wrapStoreError(errorSubjectProject, errorCodeGet, ledger.ErrProjectNotFound)
		}
		return ledger.Project{}, wrapStoreError(errorSubjectProject, errorCodeGet, err)
	}
	return ledger.Project{ID: model.ID, OwnerID: model.OwnerID, Name: model.Name}, nil
}

func (store *Store) GetAPI(ctx context.Context, apiID string) (ledger.API, error) {
	var model API
	err := store.db.WithContext(ctx).Where("id = ?", apiID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.API{}, wrapStoreError(errorSubjectAPI, errorCodeGet, ledger.ErrAPINotFound)
		}
		return ledger.API{}, wrapStoreError(errorSubjectAPI, errorCodeGet, err)
	}
	return ledger.API{ID: model.ID, Name: model.Name, Path: model.Path}, nil
}

func (store *Store) CreateSubscription(ctx context.Context, subscription ledger.Subscription) (ledger.Subscription, error) {
	createdAt := subscription.CreatedAt.UTC()
	if subscription.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := Subscription{
		ID:         subscription.ID,
		TenantID:   subscription.TenantID.String(),
		APIID:      subscription.APIID,
		UserID:     subscription.UserID,
		ProjectID:  subscription.ProjectID,
		APIKey:     subscription.APIKey,
		KeyName:    subscription.KeyName,
		CreditCost: subscription.CreditCost,
		Status:     subscription.Status,
		CreatedAt:  createdAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintSubscriptionAPIKey) {
		return ledger.Subscription{}, wrapStoreError(errorSubjectSubscription, errorCodeDuplicate, ledger.ErrAPIKeyExists)
	}
	if err != nil {
		return ledger.Subscription{}, wrapStoreError(errorSubjectSubscription, errorCodeCreate, err)
	}
	return mapSubscription(model)
}

func (store *Store) GetSubscriptionByAPIKey(ctx context.Context, apiKey string) (ledger.Subscription, error) {
	var model Subscription
	err := store.db.WithContext(ctx).Where("api_key = ?", apiKey).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Subscription{}, wrapStoreError(errorSubjectSubscription, errorCodeGet, ledger.ErrSubscriptionNotFound)
		}
		return ledger.Subscription{}, wrapStoreError(errorSubjectSubscription, errorCodeGet, err)
	}
	return mapSubscription(model)
}

// CreateProject seeds a catalog project. The catalog is owned elsewhere; this
// exists for bootstrap tooling and tests.
func (store *Store) CreateProject(ctx context.Context, project ledger.Project) error {
	model := Project{ID: project.ID, OwnerID: project.OwnerID, Name: project.Name, CreatedAt: time.Now().UTC()}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectProject, errorCodeCreate, err)
	}
	return nil
}

// CreateAPI seeds a catalog API.
func (store *Store) CreateAPI(ctx context.Context, api ledger.API) error {
	model := API{ID: api.ID, Name: api.Name, Path: api.Path, CreatedAt: time.Now().UTC()}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAPI, errorCodeCreate, err)
	}
	return nil
}

func mapSubscription(model Subscription) (ledger.Subscription, error) {
	tenantID, err := ledger.NewTenantID(model.TenantID)
	if err != nil {
		return ledger.Subscription{}, wrapStoreError(errorSubjectSubscription, errorCodeInvalid, err)
	}
	return ledger.Subscription{
		ID:         model.ID,
		TenantID:   tenantID,
		APIID:      model.APIID,
		UserID:     model.UserID,
		ProjectID:  model.ProjectID,
		APIKey:     model.APIKey,
		KeyName:    model.KeyName,
		CreditCost: model.CreditCost,
		Status:     model.Status,
		CreatedAt:  model.CreatedAt.UTC(),
	}, nil
}
