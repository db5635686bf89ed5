package repository

import (
	"context"
	"errors"
	"fmt"
	"newsletter/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const enqueueBatchSize = 500

// QueueStats is a point-in-time view of the delivery queue.
type QueueStats struct {
	Depth int64 // all pending tasks
	Ready int64 // tasks whose execute_after has passed
}

type DeliveryQueueInterface interface {
	Enqueue(ctx context.Context, issueID string, recipients []string, executeAfter time.Time) (int, error)
	Dequeue(ctx context.Context, now time.Time) (*model.DeliveryTask, error)
	Delete(ctx context.Context, task *model.DeliveryTask) error
	Reschedule(ctx context.Context, task *model.DeliveryTask, nRetries int, executeAfter time.Time, lastErr string) error
	CountByIssue(ctx context.Context, issueID string) (int64, error)
	Stats(ctx context.Context, now time.Time) (QueueStats, error)
	WithTx(tx *gorm.DB) DeliveryQueueInterface
}

type DeliveryQueueRepository struct {
	db *gorm.DB
}

func NewDeliveryQueueRepository(db *gorm.DB) *DeliveryQueueRepository {
	return &DeliveryQueueRepository{db: db}
}

// Enqueue inserts one task per recipient, all eligible at executeAfter.
func (r *DeliveryQueueRepository) Enqueue(ctx context.Context, issueID string, recipients []string, executeAfter time.Time) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}
	tasks := make([]model.DeliveryTask, 0, len(recipients))
	for _, email := range recipients {
		tasks = append(tasks, model.DeliveryTask{
			IssueID:        issueID,
			RecipientEmail: email,
			ExecuteAfter:   executeAfter.UTC(),
		})
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&tasks, enqueueBatchSize).Error; err != nil {
		return 0, fmt.Errorf("enqueue delivery tasks: %w", err)
	}
	return len(tasks), nil
}

// Dequeue locks the oldest eligible task, skipping rows other workers already hold.
// Returns nil when nothing is eligible. The lock lives as long as the surrounding transaction.
func (r *DeliveryQueueRepository) Dequeue(ctx context.Context, now time.Time) (*model.DeliveryTask, error) {
	var task model.DeliveryTask
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("execute_after <= ?", now.UTC()).
		Order("execute_after ASC").
		Take(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue delivery task: %w", err)
	}
	return &task, nil
}

func (r *DeliveryQueueRepository) Delete(ctx context.Context, task *model.DeliveryTask) error {
	err := r.db.WithContext(ctx).
		Where("newsletter_issue_id = ? AND subscriber_email = ?", task.IssueID, task.RecipientEmail).
		Delete(&model.DeliveryTask{}).Error
	if err != nil {
		return fmt.Errorf("delete delivery task: %w", err)
	}
	return nil
}

func (r *DeliveryQueueRepository) Reschedule(ctx context.Context, task *model.DeliveryTask, nRetries int, executeAfter time.Time, lastErr string) error {
	err := r.db.WithContext(ctx).Model(&model.DeliveryTask{}).
		Where("newsletter_issue_id = ? AND subscriber_email = ?", task.IssueID, task.RecipientEmail).
		Updates(map[string]any{
			"n_retries":     nRetries,
			"execute_after": executeAfter.UTC(),
			"last_error":    lastErr,
		}).Error
	if err != nil {
		return fmt.Errorf("reschedule delivery task: %w", err)
	}
	return nil
}

func (r *DeliveryQueueRepository) CountByIssue(ctx context.Context, issueID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.DeliveryTask{}).
		Where("newsletter_issue_id = ?", issueID).
		Count(&n).Error
	return n, err
}

func (r *DeliveryQueueRepository) Stats(ctx context.Context, now time.Time) (QueueStats, error) {
	var stats QueueStats
	db := r.db.WithContext(ctx).Model(&model.DeliveryTask{})
	if err := db.Count(&stats.Depth).Error; err != nil {
		return stats, err
	}
	err := r.db.WithContext(ctx).Model(&model.DeliveryTask{}).
		Where("execute_after <= ?", now.UTC()).
		Count(&stats.Ready).Error
	return stats, err
}

func (r *DeliveryQueueRepository) WithTx(tx *gorm.DB) DeliveryQueueInterface {
	return &DeliveryQueueRepository{db: tx}
}
