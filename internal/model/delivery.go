package model

import "time"

// DeliveryTask is one pending (issue, recipient) delivery. The row is deleted once delivery
// terminally succeeds or is abandoned.
type DeliveryTask struct {
	IssueID        string    `gorm:"column:newsletter_issue_id;primaryKey;size:36"`
	RecipientEmail string    `gorm:"column:subscriber_email;primaryKey;size:254"`
	NRetries       int       `gorm:"column:n_retries;not null;default:0"`
	ExecuteAfter   time.Time `gorm:"column:execute_after;not null;index"`
	LastError      string    `gorm:"column:last_error;type:text"`
}

func (DeliveryTask) TableName() string {
	return "issue_delivery_queue"
}
