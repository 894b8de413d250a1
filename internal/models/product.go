package models

import (
	"time"

	"gorm.io/datatypes"
)

// Product is a row of the shared catalog. The remote service is always the
// source of truth for products; the local table is a read cache refreshed by
// catalog pulls and is therefore excluded from snapshots and offline inserts.
type Product struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	RemoteID     string         `gorm:"type:varchar(64);uniqueIndex" json:"remote_id"`
	SKU          string         `gorm:"type:varchar(64);index" json:"sku"`
	Name         string         `gorm:"type:varchar(255);not null;index" json:"name"`
	ListPrice    float64        `json:"list_price"`
	Active       bool           `gorm:"default:true" json:"active"`
	LastSyncedAt time.Time      `json:"last_synced_at"`
	RawData      datatypes.JSON `json:"raw_data,omitempty"`
}

func (Product) TableName() string { return "products" }
