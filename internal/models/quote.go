package models

import "time"

// Quote is a priced offer issued to a client. Rendering (PDF/Excel) is handled
// by a separate collaborator; the engine only cares about identity and totals.
type Quote struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	UserID    string      `gorm:"type:varchar(255);not null;index" json:"user_id"`
	ClientID  uint        `gorm:"not null;index" json:"client_id"`
	Reference string      `gorm:"type:varchar(64);index" json:"reference"`
	Total     float64     `json:"total"`
	Status    string      `gorm:"type:varchar(32);default:'draft'" json:"status"`
	Items     []QuoteItem `gorm:"foreignKey:QuoteID" json:"items,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (Quote) TableName() string { return "quotes" }

// QuoteItem is one line of a quote, frozen at creation time (absolute price and
// quantity, not a reference into the live cart).
type QuoteItem struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	QuoteID   uint    `gorm:"not null;index" json:"quote_id"`
	ProductID uint    `gorm:"not null" json:"product_id"`
	Quantity  int     `gorm:"not null" json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

func (QuoteItem) TableName() string { return "quote_items" }
