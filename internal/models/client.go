package models

import "time"

// Client represents a customer record owned by a sales user.
// The primary key is a local surrogate; the authoritative UUID assigned by the
// remote service lives in the identity_mappings table once the record has synced.
type Client struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(255);not null;index" json:"user_id"`
	Name      string    `gorm:"type:varchar(255);not null;index" json:"name"`
	Email     string    `gorm:"type:varchar(255)" json:"email"`
	Phone     string    `gorm:"type:varchar(64)" json:"phone"`
	City      string    `gorm:"type:varchar(255)" json:"city"`
	Notes     string    `gorm:"type:text" json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Client) TableName() string { return "clients" }
