package main

import (
	"fmt"
	"log"
	"time"

	"github.com/ventalink/salesbridge/internal/config"
	"github.com/ventalink/salesbridge/internal/database"
	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/utils"
	"gorm.io/gorm/clause"
)

// Seeds the local catalog cache with a small demo product set and prints a
// ready-to-use access token, so the API is explorable without a remote store.
func main() {
	fmt.Println("🌱 SalesBridge Demo Data Seeder")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	fmt.Println("✅ Connected to database")

	fmt.Println("🔨 Running database migrations...")
	err = db.AutoMigrate(
		&models.Client{},
		&models.CartItem{},
		&models.Quote{},
		&models.QuoteItem{},
		&models.SearchEntry{},
		&models.Product{},
		&models.ChangeEntry{},
		&models.IdentityMapping{},
	)
	if err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	fmt.Println("✅ Migrations complete")

	fmt.Println("📦 Seeding demo catalog...")
	products := []models.Product{
		{RemoteID: "demo-prod-0001", SKU: "PVC-110", Name: "PVC Pipe 110mm x 3m", ListPrice: 12.40, Active: true},
		{RemoteID: "demo-prod-0002", SKU: "PVC-160", Name: "PVC Pipe 160mm x 3m", ListPrice: 21.90, Active: true},
		{RemoteID: "demo-prod-0003", SKU: "ELB-110", Name: "Elbow Joint 110mm 90deg", ListPrice: 3.15, Active: true},
		{RemoteID: "demo-prod-0004", SKU: "CEM-25", Name: "Cement Bag 25kg", ListPrice: 8.75, Active: true},
		{RemoteID: "demo-prod-0005", SKU: "INS-50", Name: "Insulation Roll 50mm", ListPrice: 34.00, Active: true},
		{RemoteID: "demo-prod-0006", SKU: "SCR-4x40", Name: "Wood Screws 4x40 (box 200)", ListPrice: 6.20, Active: true},
	}
	now := time.Now().UTC()
	for i := range products {
		products[i].LastSyncedAt = now
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "remote_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"sku", "name", "list_price", "active", "last_synced_at"}),
		}).Create(&products[i]).Error
		if err != nil {
			log.Fatalf("❌ Failed to seed product %s: %v", products[i].SKU, err)
		}
	}
	fmt.Printf("✅ %d products seeded\n", len(products))

	token, err := utils.GenerateToken("demo-rep", cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		log.Fatalf("❌ Failed to mint demo token: %v", err)
	}

	fmt.Println()
	fmt.Println("Demo access token (user demo-rep, valid 24h):")
	fmt.Println(token)
}
