package models

import "time"

// SearchEntry records one catalog search performed by a user.
type SearchEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"type:varchar(255);not null;index" json:"user_id"`
	Term       string    `gorm:"type:varchar(255);not null" json:"term"`
	SearchedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"searched_at"`
}

func (SearchEntry) TableName() string { return "search_history" }
