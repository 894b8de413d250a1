package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestClient(handler http.HandlerFunc) (*RESTClient, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewRESTClient(srv.URL, "test-service-key", 2*time.Second), srv
}

func TestRESTClientSendsSignedBearer(t *testing.T) {
	var authHeader string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		t.Fatalf("missing bearer header: %q", authHeader)
	}

	token, err := jwt.Parse(strings.TrimPrefix(authHeader, "Bearer "),
		func(token *jwt.Token) (interface{}, error) {
			return []byte("test-service-key"), nil
		})
	if err != nil || !token.Valid {
		t.Fatalf("token does not verify against the service key: %v", err)
	}
	claims := token.Claims.(jwt.MapClaims)
	if claims["role"] != "service_role" {
		t.Errorf("token role = %v, want service_role", claims["role"])
	}
}

func TestRESTClientInsertSendsIdempotencyKey(t *testing.T) {
	var gotBody map[string]interface{}
	var gotConflict, gotPrefer string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotConflict = r.URL.Query().Get("on_conflict")
		gotPrefer = r.Header.Get("Prefer")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Record{{"id": "uuid-1", "name": "A"}})
	})
	defer srv.Close()

	key, err := client.Insert(context.Background(), "clients",
		Record{"name": "A"}, "inst:clients:1")
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if key != "uuid-1" {
		t.Errorf("key = %q, want uuid-1", key)
	}
	if gotConflict != "idem_key" {
		t.Errorf("on_conflict = %q, want idem_key", gotConflict)
	}
	if gotBody["idem_key"] != "inst:clients:1" {
		t.Errorf("body idem_key = %v", gotBody["idem_key"])
	}
	if !strings.Contains(gotPrefer, "merge-duplicates") {
		t.Errorf("Prefer = %q, want merge-duplicates", gotPrefer)
	}
}

func TestRESTClientUpsertConflictColumnsSorted(t *testing.T) {
	var gotConflict string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotConflict = r.URL.Query().Get("on_conflict")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Record{{"id": "uuid-2"}})
	})
	defer srv.Close()

	_, err := client.Upsert(context.Background(), "cart_items",
		Record{"user_id": "rep-1", "product_id": "p-1", "client_id": "c-1"},
		Record{"quantity": 3})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// Column order must be stable so replays hit the same unique constraint.
	if gotConflict != "client_id,product_id,user_id" {
		t.Errorf("on_conflict = %q, want client_id,product_id,user_id", gotConflict)
	}
}

func TestRESTClientClassifiesStatuses(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		name   string
	}{
		{http.StatusUnauthorized, IsAuthFailure, "401 auth"},
		{http.StatusForbidden, IsAuthFailure, "403 auth"},
		{http.StatusInternalServerError, IsTransient, "500 transient"},
		{http.StatusTooManyRequests, IsTransient, "429 transient"},
		{http.StatusConflict, IsRejected, "409 rejected"},
		{http.StatusUnprocessableEntity, IsRejected, "422 rejected"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			defer srv.Close()

			err := client.Update(context.Background(), "clients", "uuid-1", Record{"name": "B"})
			if err == nil || !tc.check(err) {
				t.Errorf("status %d classified wrong: %v", tc.status, err)
			}
		})
	}
}

func TestRESTClientNetworkErrorIsTransient(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {})
	srv.Close() // connection refused from here on

	err := client.Ping(context.Background())
	if !IsTransient(err) {
		t.Errorf("network error classified as %v, want transient", err)
	}
}
