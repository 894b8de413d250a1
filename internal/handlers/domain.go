package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/ventalink/salesbridge/internal/engine"
	"github.com/ventalink/salesbridge/internal/middleware"
	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/store"
)

// DomainHandler exposes the field-sales data surface. Every mutation goes
// through the dual-store router, so an offline remote never turns into a 5xx
// here; only local durability failures and explicit remote rejections do.
type DomainHandler struct {
	router *engine.Router
}

// NewDomainHandler creates a new domain handler
func NewDomainHandler(router *engine.Router) *DomainHandler {
	return &DomainHandler{router: router}
}

// RegisterRoutes registers domain routes
func (dh *DomainHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/clients", dh.ListClients).Methods("GET")
	r.HandleFunc("/clients", dh.CreateClient).Methods("POST")

	r.HandleFunc("/cart", dh.GetCart).Methods("GET")
	r.HandleFunc("/cart", dh.ClearCart).Methods("DELETE")
	r.HandleFunc("/cart/items", dh.AddToCart).Methods("POST")
	r.HandleFunc("/cart/items/{id}", dh.UpdateCartItem).Methods("PUT")
	r.HandleFunc("/cart/items/{id}", dh.RemoveCartItem).Methods("DELETE")

	r.HandleFunc("/quotes", dh.ListQuotes).Methods("GET")
	r.HandleFunc("/quotes", dh.CreateQuote).Methods("POST")

	r.HandleFunc("/search", dh.GetSearchHistory).Methods("GET")
	r.HandleFunc("/search", dh.RecordSearch).Methods("POST")
	r.HandleFunc("/search", dh.ClearSearchHistory).Methods("DELETE")

	r.HandleFunc("/products", dh.SearchProducts).Methods("GET")
	r.HandleFunc("/products/{id}", dh.UpdateProduct).Methods("PUT", "PATCH")
}

// ListClients returns the caller's clients from the local store
func (dh *DomainHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := dh.router.ListClients(middleware.RequestUserID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, clients)
}

// CreateClient creates a client for the caller
func (dh *DomainHandler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var client models.Client
	if err := json.NewDecoder(r.Body).Decode(&client); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	client.ID = 0
	client.UserID = middleware.RequestUserID(r)

	if err := dh.router.CreateClient(r.Context(), &client); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, client)
}

// GetCart returns the caller's cart
func (dh *DomainHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	items, err := dh.router.CartForUser(middleware.RequestUserID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// AddToCart adds a quantity of a product, merging with an existing line
func (dh *DomainHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID uint    `json:"product_id"`
		ClientID  *uint   `json:"client_id,omitempty"`
		Quantity  int     `json:"quantity"`
		UnitPrice float64 `json:"unit_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProductID == 0 || req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "product_id and a positive quantity are required")
		return
	}

	item, err := dh.router.AddToCart(r.Context(), middleware.RequestUserID(r),
		req.ProductID, req.ClientID, req.Quantity, req.UnitPrice)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// UpdateCartItem sets the absolute quantity of a cart line
func (dh *DomainHandler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "a positive quantity is required")
		return
	}

	item, err := dh.router.UpdateCartQuantity(r.Context(), itemID, req.Quantity)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// RemoveCartItem deletes one cart line
func (dh *DomainHandler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := dh.router.RemoveFromCart(r.Context(), itemID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// ClearCart empties the caller's cart
func (dh *DomainHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := dh.router.ClearCart(r.Context(), middleware.RequestUserID(r)); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// ListQuotes returns the caller's quotes with their lines
func (dh *DomainHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := dh.router.ListQuotes(middleware.RequestUserID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, quotes)
}

// CreateQuote creates a quote with its lines in one durable write
func (dh *DomainHandler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID uint `json:"client_id"`
		Items    []struct {
			ProductID uint    `json:"product_id"`
			Quantity  int     `json:"quantity"`
			UnitPrice float64 `json:"unit_price"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ClientID == 0 || len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "client_id and at least one item are required")
		return
	}

	quote := models.Quote{
		UserID:   middleware.RequestUserID(r),
		ClientID: req.ClientID,
	}
	for _, line := range req.Items {
		quote.Items = append(quote.Items, models.QuoteItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	if err := dh.router.CreateQuote(r.Context(), &quote); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, quote)
}

// GetSearchHistory returns the caller's recent search terms
func (dh *DomainHandler) GetSearchHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := dh.router.SearchHistoryFor(middleware.RequestUserID(r), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// RecordSearch appends a search term to the caller's history
func (dh *DomainHandler) RecordSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Term string `json:"term"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := dh.router.RecordSearchTerm(r.Context(), middleware.RequestUserID(r), req.Term)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

// ClearSearchHistory wipes the caller's search history
func (dh *DomainHandler) ClearSearchHistory(w http.ResponseWriter, r *http.Request) {
	if err := dh.router.ClearSearchHistory(r.Context(), middleware.RequestUserID(r)); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// SearchProducts queries the local catalog cache
func (dh *DomainHandler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	products, err := dh.router.SearchProducts(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, products)
}

// UpdateProduct applies an admin edit to a catalog row
func (dh *DomainHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r)
	if !ok {
		return
	}

	var upd engine.ProductUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	product, err := dh.router.UpdateProduct(r.Context(), productID, upd)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

// pathID parses the {id} path variable
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return uint(id), true
}

// respondDomainError maps router errors onto HTTP statuses. A rejected remote
// write means the authoritative store refused the data; a local store error is
// the only path to a 500.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case store.IsRejected(err):
		respondError(w, http.StatusConflict, err.Error())
	case engine.IsLocalStoreError(err):
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondError(w, http.StatusBadRequest, err.Error())
	}
}
