package model

import "time"

type NewsletterIssue struct {
	ID          string    `json:"issue_id" gorm:"column:newsletter_issue_id;primaryKey;size:36"`
	Title       string    `json:"title" gorm:"type:text;not null"`
	TextContent string    `json:"text_content" gorm:"type:text;not null"`
	HTMLContent string    `json:"html_content" gorm:"column:html_content;type:text;not null"`
	PublishedAt time.Time `json:"published_at" gorm:"not null;index"`
}
