package model

import "time"

type Subscription struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Email        string    `json:"email" gorm:"size:254;not null;uniqueIndex"`
	Name         string    `json:"name" gorm:"size:256;not null"`
	SubscribedAt time.Time `json:"subscribed_at" gorm:"not null"`
	Status       string    `json:"status" gorm:"size:32;not null;index"`
}

type SubscriptionToken struct {
	Token        string `gorm:"column:subscription_token;primaryKey;size:25"`
	SubscriberID string `gorm:"size:36;not null;index"`
}
