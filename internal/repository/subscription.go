package repository

import (
	"context"
	"errors"
	"fmt"
	"newsletter/internal/model"
	"newsletter/pkg/constraints"

	"gorm.io/gorm"
)

var ErrDuplicateEmail = errors.New("email already subscribed")

type SubscriptionInterface interface {
	Create(ctx context.Context, sub *model.Subscription, token string) error
	SubscriberIDByToken(ctx context.Context, token string) (string, error)
	Confirm(ctx context.Context, subscriberID string) error
	ListConfirmedEmails(ctx context.Context) ([]string, error)
	WithTx(tx *gorm.DB) SubscriptionInterface
}

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Create stores a pending subscription together with its confirmation token.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *model.Subscription, token string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Subscription{}).Where("email = ?", sub.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateEmail
		}
		if err := tx.Create(sub).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("insert subscription: %w", err)
		}
		return tx.Create(&model.SubscriptionToken{Token: token, SubscriberID: sub.ID}).Error
	})
}

// SubscriberIDByToken returns "" when the token is unknown.
func (r *SubscriptionRepository) SubscriberIDByToken(ctx context.Context, token string) (string, error) {
	var st model.SubscriptionToken
	err := r.db.WithContext(ctx).Where("subscription_token = ?", token).Take(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return st.SubscriberID, nil
}

func (r *SubscriptionRepository) Confirm(ctx context.Context, subscriberID string) error {
	return r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ?", subscriberID).
		Update("status", constraints.StatusConfirmed).Error
}

// ListConfirmedEmails is the recipient snapshot used when an issue is published.
func (r *SubscriptionRepository) ListConfirmedEmails(ctx context.Context) ([]string, error) {
	var emails []string
	err := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("status = ?", constraints.StatusConfirmed).
		Order("email ASC").
		Pluck("email", &emails).Error
	return emails, err
}

func (r *SubscriptionRepository) WithTx(tx *gorm.DB) SubscriptionInterface {
	return &SubscriptionRepository{db: tx}
}
