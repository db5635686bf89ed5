package repository

import (
	"context"
	"errors"
	"fmt"
	"newsletter/internal/model"

	"gorm.io/gorm"
)

// IssueInterface persists published newsletter issues. Issues are immutable once written.
type IssueInterface interface {
	Create(ctx context.Context, issue *model.NewsletterIssue) error
	Get(ctx context.Context, id string) (*model.NewsletterIssue, error)
	ListRecent(ctx context.Context, limit int) ([]model.NewsletterIssue, error)
	WithTx(tx *gorm.DB) IssueInterface
}

type IssueRepository struct {
	db *gorm.DB
}

func NewIssueRepository(db *gorm.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

func (r *IssueRepository) Create(ctx context.Context, issue *model.NewsletterIssue) error {
	if err := r.db.WithContext(ctx).Create(issue).Error; err != nil {
		return fmt.Errorf("insert newsletter issue: %w", err)
	}
	return nil
}

// Get returns nil without error when the issue does not exist.
func (r *IssueRepository) Get(ctx context.Context, id string) (*model.NewsletterIssue, error) {
	var issue model.NewsletterIssue
	if err := r.db.WithContext(ctx).Where("newsletter_issue_id = ?", id).Take(&issue).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load newsletter issue: %w", err)
	}
	return &issue, nil
}

func (r *IssueRepository) ListRecent(ctx context.Context, limit int) ([]model.NewsletterIssue, error) {
	if limit <= 0 {
		limit = 20
	}
	var issues []model.NewsletterIssue
	err := r.db.WithContext(ctx).Order("published_at DESC").Limit(limit).Find(&issues).Error
	return issues, err
}

func (r *IssueRepository) WithTx(tx *gorm.DB) IssueInterface {
	return &IssueRepository{db: tx}
}
