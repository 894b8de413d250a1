package engine

import (
	"encoding/json"
	"fmt"

	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/store"
)

// payloadMap decodes a change entry payload into a field map
func payloadMap(entry *models.ChangeEntry) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	if err := json.Unmarshal(entry.Payload, &m); err != nil {
		return nil, fmt.Errorf("entry %d: malformed payload: %w", entry.ID, err)
	}
	return m, nil
}

// payloadUint reads a numeric payload field as a local key. JSON decoding
// yields float64 for all numbers.
func payloadUint(m map[string]interface{}, key string) (uint, bool) {
	switch v := m[key].(type) {
	case float64:
		return uint(v), true
	case int:
		return uint(v), true
	case uint:
		return v, true
	default:
		return 0, false
	}
}

func payloadString(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// pickFields copies the named fields into a remote record, skipping absent ones
func pickFields(m map[string]interface{}, keys ...string) store.Record {
	out := make(store.Record, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}

// clientFields is the absolute field set sent to the remote store
func clientFields(c *models.Client) store.Record {
	return store.Record{
		"user_id": c.UserID,
		"name":    c.Name,
		"email":   c.Email,
		"phone":   c.Phone,
		"city":    c.City,
		"notes":   c.Notes,
	}
}

// clientPayload is clientFields plus the local key, for queued replay
func clientPayload(c *models.Client) map[string]interface{} {
	p := map[string]interface{}(clientFields(c))
	p["local_id"] = c.ID
	return p
}

// cartItemPayload keeps references as local keys; translation happens only in
// the reconciler.
func cartItemPayload(item *models.CartItem) map[string]interface{} {
	p := map[string]interface{}{
		"local_id":         item.ID,
		"user_id":          item.UserID,
		"product_local_id": item.ProductID,
		"quantity":         item.Quantity,
		"unit_price":       item.UnitPrice,
	}
	if item.ClientID != nil {
		p["client_local_id"] = *item.ClientID
	}
	return p
}

// quotePayload embeds the quote lines; quote_items never travel through the
// queue on their own.
func quotePayload(q *models.Quote) map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(q.Items))
	for _, item := range q.Items {
		items = append(items, map[string]interface{}{
			"product_local_id": item.ProductID,
			"quantity":         item.Quantity,
			"unit_price":       item.UnitPrice,
		})
	}
	return map[string]interface{}{
		"local_id":        q.ID,
		"user_id":         q.UserID,
		"client_local_id": q.ClientID,
		"reference":       q.Reference,
		"status":          q.Status,
		"total":           q.Total,
		"items":           items,
	}
}

func searchPayload(s *models.SearchEntry) map[string]interface{} {
	return map[string]interface{}{
		"local_id":    s.ID,
		"user_id":     s.UserID,
		"term":        s.Term,
		"searched_at": s.SearchedAt,
	}
}
