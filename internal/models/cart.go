package models

import "time"

// CartItem is one line of a user's working cart. Product and client references
// use local surrogate keys; translation to remote UUIDs happens only inside the
// reconciler, never at call sites.
type CartItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_cart_natural" json:"user_id"`
	ProductID uint      `gorm:"not null;uniqueIndex:idx_cart_natural" json:"product_id"`
	ClientID  *uint     `gorm:"uniqueIndex:idx_cart_natural" json:"client_id,omitempty"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	UnitPrice float64   `json:"unit_price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CartItem) TableName() string { return "cart_items" }
