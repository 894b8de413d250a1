package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ventalink/salesbridge/internal/database"
	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/store"
	"gorm.io/gorm"
)

// Router is the façade every domain mutation goes through. Each mutation
// commits its local write together with a mirrored queue entry in one
// transaction, then attempts the remote write; on success the mirror is
// resolved, otherwise it stays queued for the reconciler. Offline is a normal
// state here, not an error: the only failures surfaced to callers are local
// durability failures and explicit remote rejections.
type Router struct {
	db         *database.DB
	remote     store.RemoteStore
	queue      *ChangeQueue
	translator *Translator
	monitor    *Monitor
	instanceID string
}

// NewRouter creates the dual-store router
func NewRouter(db *database.DB, remote store.RemoteStore, queue *ChangeQueue, translator *Translator, monitor *Monitor, instanceID string) *Router {
	return &Router{
		db:         db,
		remote:     remote,
		queue:      queue,
		translator: translator,
		monitor:    monitor,
		instanceID: instanceID,
	}
}

// mutateAndMirror runs a local mutation and its queue mirror in one
// transaction. A crash can therefore never leave a durable row without the
// change entry that would push it remote.
func (r *Router) mutateAndMirror(entity string, op Operation, mutate func(tx *gorm.DB) (map[string]interface{}, error)) (*models.ChangeEntry, error) {
	var entry *models.ChangeEntry
	err := r.db.Transaction(func(tx *gorm.DB) error {
		payload, err := mutate(tx)
		if err != nil {
			return err
		}
		entry, err = r.queue.EnqueueTx(tx, entity, op, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// settle marks a mirrored entry resolved after its remote write succeeded
func (r *Router) settle(entry *models.ChangeEntry) {
	if err := r.queue.Resolve([]uint{entry.ID}); err != nil {
		log.Printf("⚠️ Remote write applied but mirror %d not resolved: %v", entry.ID, err)
	}
}

// CreateClient durably creates a client. A remote rejection (e.g. duplicate on
// the authoritative store) is surfaced to the caller and the local row undone;
// any other remote failure leaves the queued mirror for the reconciler.
func (r *Router) CreateClient(ctx context.Context, client *models.Client) error {
	if strings.TrimSpace(client.Name) == "" {
		return fmt.Errorf("client name is required")
	}

	entry, err := r.mutateAndMirror(EntityClients, OpInsert, func(tx *gorm.DB) (map[string]interface{}, error) {
		if err := tx.Create(client).Error; err != nil {
			return nil, &LocalStoreError{Op: "create client", Err: err}
		}
		return clientPayload(client), nil
	})
	if err != nil {
		return err
	}

	if r.monitor.IsReachable(false) {
		key, insErr := r.remote.Insert(ctx, EntityClients, clientFields(client),
			idempotencyKey(r.instanceID, EntityClients, client.ID))
		if insErr == nil {
			if bindErr := r.translator.Bind(EntityClients, client.ID, key); bindErr == nil {
				r.settle(entry)
				return nil
			} else {
				log.Printf("⚠️ Client %d created remotely but bind failed, mirror stays queued: %v", client.ID, bindErr)
			}
		} else if store.IsRejected(insErr) {
			undoErr := r.db.Transaction(func(tx *gorm.DB) error {
				if err := tx.Delete(&models.Client{}, client.ID).Error; err != nil {
					return err
				}
				return r.queue.DiscardTx(tx, entry, insErr)
			})
			if undoErr != nil {
				log.Printf("⚠️ Failed to undo local client %d after remote rejection: %v", client.ID, undoErr)
			}
			return insErr
		}
	}
	return nil
}

// AddToCart adds quantity to the user's cart line for a product, creating the
// line if needed. The mirrored change always carries the absolute quantity:
// increments are recomputed locally, never sent as increment RPCs.
func (r *Router) AddToCart(ctx context.Context, userID string, productID uint, clientID *uint, qty int, unitPrice float64) (*models.CartItem, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	item, err := r.findCartItem(userID, productID, clientID)
	if err != nil {
		return nil, err
	}

	entry, err := r.mutateAndMirror(EntityCartItems, OpUpsert, func(tx *gorm.DB) (map[string]interface{}, error) {
		if item != nil {
			item.Quantity += qty
			item.UnitPrice = unitPrice
			if err := tx.Save(item).Error; err != nil {
				return nil, &LocalStoreError{Op: "update cart item", Err: err}
			}
		} else {
			item = &models.CartItem{
				UserID:    userID,
				ProductID: productID,
				ClientID:  clientID,
				Quantity:  qty,
				UnitPrice: unitPrice,
			}
			if err := tx.Create(item).Error; err != nil {
				return nil, &LocalStoreError{Op: "create cart item", Err: err}
			}
		}
		return cartItemPayload(item), nil
	})
	if err != nil {
		return nil, err
	}

	r.pushCartItem(ctx, item, entry)
	return item, nil
}

// UpdateCartQuantity sets the absolute quantity on a cart line
func (r *Router) UpdateCartQuantity(ctx context.Context, itemID uint, qty int) (*models.CartItem, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	var item models.CartItem
	if err := r.db.First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("cart item %d not found", itemID)
		}
		return nil, &LocalStoreError{Op: "load cart item", Err: err}
	}

	entry, err := r.mutateAndMirror(EntityCartItems, OpUpsert, func(tx *gorm.DB) (map[string]interface{}, error) {
		item.Quantity = qty
		if err := tx.Save(&item).Error; err != nil {
			return nil, &LocalStoreError{Op: "update cart item", Err: err}
		}
		return cartItemPayload(&item), nil
	})
	if err != nil {
		return nil, err
	}

	r.pushCartItem(ctx, &item, entry)
	return &item, nil
}

// RemoveFromCart deletes a cart line
func (r *Router) RemoveFromCart(ctx context.Context, itemID uint) error {
	var item models.CartItem
	if err := r.db.First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("cart item %d not found", itemID)
		}
		return &LocalStoreError{Op: "load cart item", Err: err}
	}

	entry, err := r.mutateAndMirror(EntityCartItems, OpDelete, func(tx *gorm.DB) (map[string]interface{}, error) {
		if err := tx.Delete(&models.CartItem{}, itemID).Error; err != nil {
			return nil, &LocalStoreError{Op: "delete cart item", Err: err}
		}
		return cartItemPayload(&item), nil
	})
	if err != nil {
		return err
	}

	if r.monitor.IsReachable(false) {
		if key, resErr := r.translator.Resolve(EntityCartItems, item.ID); resErr == nil {
			if delErr := r.remote.Delete(ctx, EntityCartItems, key); delErr == nil {
				r.settle(entry)
			}
		}
	}
	return nil
}

// ClearCart removes every cart line of a user
func (r *Router) ClearCart(ctx context.Context, userID string) error {
	entry, err := r.mutateAndMirror(EntityCartItems, OpClear, func(tx *gorm.DB) (map[string]interface{}, error) {
		if err := tx.Where("user_id = ?", userID).Delete(&models.CartItem{}).Error; err != nil {
			return nil, &LocalStoreError{Op: "clear cart", Err: err}
		}
		return map[string]interface{}{"user_id": userID}, nil
	})
	if err != nil {
		return err
	}

	if r.monitor.IsReachable(false) {
		if delErr := r.remote.DeleteWhere(ctx, EntityCartItems, store.Record{"user_id": userID}); delErr == nil {
			r.settle(entry)
		}
	}
	return nil
}

// CreateQuote durably creates a quote with its lines. Quote lines reference
// products by local key at creation time; if any referenced record has not
// synced yet the quote stays mirrored and its remote creation deferred until
// the dependencies resolve.
func (r *Router) CreateQuote(ctx context.Context, quote *models.Quote) error {
	if len(quote.Items) == 0 {
		return fmt.Errorf("quote needs at least one item")
	}
	if quote.Reference == "" {
		quote.Reference = "Q-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if quote.Status == "" {
		quote.Status = "draft"
	}

	total := 0.0
	for _, item := range quote.Items {
		total += float64(item.Quantity) * item.UnitPrice
	}
	quote.Total = total

	entry, err := r.mutateAndMirror(EntityQuotes, OpInsert, func(tx *gorm.DB) (map[string]interface{}, error) {
		if err := tx.Create(quote).Error; err != nil {
			return nil, &LocalStoreError{Op: "create quote", Err: err}
		}
		return quotePayload(quote), nil
	})
	if err != nil {
		return err
	}

	if r.monitor.IsReachable(false) {
		if fields, fldErr := r.remoteQuote(quote); fldErr == nil {
			key, insErr := r.remote.Insert(ctx, EntityQuotes, fields,
				idempotencyKey(r.instanceID, EntityQuotes, quote.ID))
			if insErr == nil {
				if bindErr := r.translator.Bind(EntityQuotes, quote.ID, key); bindErr == nil {
					r.settle(entry)
				}
			}
		}
	}
	return nil
}

// RecordSearchTerm appends one search history entry
func (r *Router) RecordSearchTerm(ctx context.Context, userID, term string) (*models.SearchEntry, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("search term is empty")
	}

	searchEntry := &models.SearchEntry{
		UserID:     userID,
		Term:       term,
		SearchedAt: time.Now().UTC(),
	}
	entry, err := r.mutateAndMirror(EntitySearchHistory, OpInsert, func(tx *gorm.DB) (map[string]interface{}, error) {
		if err := tx.Create(searchEntry).Error; err != nil {
			return nil, &LocalStoreError{Op: "record search", Err: err}
		}
		return searchPayload(searchEntry), nil
	})
	if err != nil {
		return nil, err
	}

	if r.monitor.IsReachable(false) {
		key, insErr := r.remote.Insert(ctx, EntitySearchHistory,
			pickFields(searchPayload(searchEntry), "user_id", "term", "searched_at"),
			idempotencyKey(r.instanceID, EntitySearchHistory, searchEntry.ID))
		if insErr == nil {
			if bindErr := r.translator.Bind(EntitySearchHistory, searchEntry.ID, key); bindErr == nil {
				r.settle(entry)
			}
		}
	}
	return searchEntry, nil
}

// ClearSearchHistory removes a user's search history
func (r *Router) ClearSearchHistory(ctx context.Context, userID string) error {
	entry, err := r.mutateAndMirror(EntitySearchHistory, OpClear, func(tx *gorm.DB) (map[string]interface{}, error) {
		if err := tx.Where("user_id = ?", userID).Delete(&models.SearchEntry{}).Error; err != nil {
			return nil, &LocalStoreError{Op: "clear search history", Err: err}
		}
		return map[string]interface{}{"user_id": userID}, nil
	})
	if err != nil {
		return err
	}

	if r.monitor.IsReachable(false) {
		if delErr := r.remote.DeleteWhere(ctx, EntitySearchHistory, store.Record{"user_id": userID}); delErr == nil {
			r.settle(entry)
		}
	}
	return nil
}

// ProductUpdate is an absolute field set for an admin product edit
type ProductUpdate struct {
	Name      *string  `json:"name,omitempty"`
	SKU       *string  `json:"sku,omitempty"`
	ListPrice *float64 `json:"list_price,omitempty"`
	Active    *bool    `json:"active,omitempty"`
}

// UpdateProduct applies an admin edit to a catalog row. The mirrored change
// carries the full resulting field set, so replays are idempotent.
func (r *Router) UpdateProduct(ctx context.Context, productID uint, upd ProductUpdate) (*models.Product, error) {
	var product models.Product
	if err := r.db.First(&product, productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("product %d not found", productID)
		}
		return nil, &LocalStoreError{Op: "load product", Err: err}
	}

	if upd.Name != nil {
		product.Name = *upd.Name
	}
	if upd.SKU != nil {
		product.SKU = *upd.SKU
	}
	if upd.ListPrice != nil {
		product.ListPrice = *upd.ListPrice
	}
	if upd.Active != nil {
		product.Active = *upd.Active
	}

	fields := store.Record{
		"name":       product.Name,
		"sku":        product.SKU,
		"list_price": product.ListPrice,
		"active":     product.Active,
	}

	entry, err := r.mutateAndMirror(EntityProducts, OpUpdate, func(tx *gorm.DB) (map[string]interface{}, error) {
		if err := tx.Save(&product).Error; err != nil {
			return nil, &LocalStoreError{Op: "update product", Err: err}
		}
		payload := map[string]interface{}(fields)
		payload["local_id"] = product.ID
		return payload, nil
	})
	if err != nil {
		return nil, err
	}

	if r.monitor.IsReachable(false) {
		if key, resErr := r.translator.Resolve(EntityProducts, product.ID); resErr == nil {
			if updErr := r.remote.Update(ctx, EntityProducts, key, fields); updErr == nil {
				r.settle(entry)
			}
		}
	}
	return &product, nil
}

// ---- reads ----
// Per-user data is kept current by write-through, so reads stay local and
// avoid remote round-trips even when online.

// ListClients returns a user's clients
func (r *Router) ListClients(userID string) ([]models.Client, error) {
	var clients []models.Client
	if err := r.db.Where("user_id = ?", userID).Order("name ASC").Find(&clients).Error; err != nil {
		return nil, &LocalStoreError{Op: "list clients", Err: err}
	}
	return clients, nil
}

// CartForUser returns a user's cart lines
func (r *Router) CartForUser(userID string) ([]models.CartItem, error) {
	var items []models.CartItem
	if err := r.db.Where("user_id = ?", userID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, &LocalStoreError{Op: "load cart", Err: err}
	}
	return items, nil
}

// ListQuotes returns a user's quotes with their lines
func (r *Router) ListQuotes(userID string) ([]models.Quote, error) {
	var quotes []models.Quote
	err := r.db.Preload("Items").Where("user_id = ?", userID).
		Order("id DESC").Find(&quotes).Error
	if err != nil {
		return nil, &LocalStoreError{Op: "list quotes", Err: err}
	}
	return quotes, nil
}

// SearchHistoryFor returns a user's most recent searches
func (r *Router) SearchHistoryFor(userID string, limit int) ([]models.SearchEntry, error) {
	var entries []models.SearchEntry
	tx := r.db.Where("user_id = ?", userID).Order("searched_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entries).Error; err != nil {
		return nil, &LocalStoreError{Op: "search history", Err: err}
	}
	return entries, nil
}

// SearchProducts queries the catalog. The remote store is authoritative for
// products, so the search prefers it when reachable and degrades to the local
// cache otherwise (or when the remote read fails mid-flight).
func (r *Router) SearchProducts(ctx context.Context, query string, limit int) ([]models.Product, error) {
	if r.monitor.IsReachable(false) {
		if products, err := r.remoteProducts(ctx, query, limit); err == nil {
			return products, nil
		}
	}

	var products []models.Product
	tx := r.db.Where("active = ?", true).Order("name ASC")
	if query != "" {
		like := "%" + strings.ToLower(query) + "%"
		tx = tx.Where("LOWER(name) LIKE ? OR LOWER(sku) LIKE ?", like, like)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&products).Error; err != nil {
		return nil, &LocalStoreError{Op: "search products", Err: err}
	}
	return products, nil
}

// remoteProducts serves a catalog search from the authoritative store. Rows
// that exist in the local cache keep their cached local id so references stay
// usable; rows not cached yet come back with a zero id.
func (r *Router) remoteProducts(ctx context.Context, query string, limit int) ([]models.Product, error) {
	records, err := r.remote.List(ctx, EntityProducts, store.Record{"active": true}, 0)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	products := make([]models.Product, 0, len(records))
	for _, rec := range records {
		name := recordString(rec, "name")
		sku := recordString(rec, "sku")
		if needle != "" &&
			!strings.Contains(strings.ToLower(name), needle) &&
			!strings.Contains(strings.ToLower(sku), needle) {
			continue
		}

		product := models.Product{
			RemoteID:  recordString(rec, "id"),
			SKU:       sku,
			Name:      name,
			ListPrice: recordFloat(rec, "list_price"),
			Active:    true,
		}
		var cached models.Product
		if err := r.db.Where("remote_id = ?", product.RemoteID).First(&cached).Error; err == nil {
			product.ID = cached.ID
			product.LastSyncedAt = cached.LastSyncedAt
			product.RawData = cached.RawData
		}
		products = append(products, product)

		if limit > 0 && len(products) >= limit {
			break
		}
	}

	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

// ---- helpers ----

// findCartItem looks up a cart line by its natural key
func (r *Router) findCartItem(userID string, productID uint, clientID *uint) (*models.CartItem, error) {
	tx := r.db.Where("user_id = ? AND product_id = ?", userID, productID)
	if clientID != nil {
		tx = tx.Where("client_id = ?", *clientID)
	} else {
		tx = tx.Where("client_id IS NULL")
	}

	var item models.CartItem
	err := tx.First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &LocalStoreError{Op: "find cart item", Err: err}
	}
	return &item, nil
}

// pushCartItem attempts the remote upsert for an already-mirrored cart line,
// resolving the mirror on success. Offline, untranslated references or a
// remote failure leave the mirror queued for the reconciler.
func (r *Router) pushCartItem(ctx context.Context, item *models.CartItem, entry *models.ChangeEntry) {
	if !r.monitor.IsReachable(false) {
		return
	}
	natural, fields, err := r.remoteCartItem(item)
	if err != nil {
		return
	}
	key, err := r.remote.Upsert(ctx, EntityCartItems, natural, fields)
	if err != nil {
		return
	}
	if bindErr := r.translator.Bind(EntityCartItems, item.ID, key); bindErr != nil {
		return
	}
	r.settle(entry)
}

// remoteCartItem translates a cart line's references for a remote upsert
func (r *Router) remoteCartItem(item *models.CartItem) (natural, fields store.Record, err error) {
	productKey, err := r.translator.Resolve(EntityProducts, item.ProductID)
	if err != nil {
		return nil, nil, err
	}

	natural = store.Record{
		"user_id":    item.UserID,
		"product_id": productKey,
	}
	if item.ClientID != nil {
		clientKey, err := r.translator.Resolve(EntityClients, *item.ClientID)
		if err != nil {
			return nil, nil, err
		}
		natural["client_id"] = clientKey
	}

	fields = store.Record{
		"quantity":   item.Quantity,
		"unit_price": item.UnitPrice,
	}
	return natural, fields, nil
}

// remoteQuote translates a quote's references for a remote insert
func (r *Router) remoteQuote(quote *models.Quote) (store.Record, error) {
	clientKey, err := r.translator.Resolve(EntityClients, quote.ClientID)
	if err != nil {
		return nil, err
	}

	items := make([]store.Record, 0, len(quote.Items))
	for _, item := range quote.Items {
		productKey, err := r.translator.Resolve(EntityProducts, item.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, store.Record{
			"product_id": productKey,
			"quantity":   item.Quantity,
			"unit_price": item.UnitPrice,
		})
	}

	return store.Record{
		"user_id":   quote.UserID,
		"client_id": clientKey,
		"reference": quote.Reference,
		"status":    quote.Status,
		"total":     quote.Total,
		"items":     items,
	}, nil
}
