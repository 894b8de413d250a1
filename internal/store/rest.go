package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ventalink/salesbridge/internal/models"
)

// pingEntity is the known tiny resource used for reachability probes.
const pingEntity = "products"

// RESTClient talks to a PostgREST-style data service. Each table is exposed
// under /rest/v1/<entity>; writes are made idempotent with on_conflict merge
// semantics so the reconciler can safely replay them.
type RESTClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client

	mu          sync.Mutex
	cachedToken string
	tokenExpiry time.Time
}

// NewRESTClient creates a client for the remote data service
func NewRESTClient(baseURL, serviceKey string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// bearerToken mints a short-lived HS256 token from the service key. Tokens are
// cached until shortly before expiry to avoid signing on every request.
func (c *RESTClient) bearerToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.cachedToken, nil
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "service_role",
		"iss":  "salesbridge",
		"iat":  now.Unix(),
		"exp":  now.Add(5 * time.Minute).Unix(),
	})

	signed, err := token.SignedString([]byte(c.serviceKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}

	c.cachedToken = signed
	c.tokenExpiry = now.Add(4 * time.Minute)
	return signed, nil
}

// do executes one request and decodes the JSON response into out (if non-nil).
func (c *RESTClient) do(ctx context.Context, method, entity string, query url.Values, body interface{}, prefer string, out interface{}) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, entity)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Rejected(entity, fmt.Errorf("failed to encode request body: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return Rejected(entity, err)
	}

	token, err := c.bearerToken()
	if err != nil {
		return AuthFailure(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transient(entity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("%s %s: status %d: %s", method, entity, resp.StatusCode, strings.TrimSpace(string(msg)))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return AuthFailure(err)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
			return Transient(entity, err)
		default:
			return Rejected(entity, err)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Transient(entity, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// Ping performs a bounded HEAD request against a known tiny resource
func (c *RESTClient) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("select", "id")
	q.Set("limit", "1")
	return c.do(ctx, http.MethodHead, pingEntity, q, nil, "", nil)
}

// Insert creates a record, deduplicating on the idempotency key
func (c *RESTClient) Insert(ctx context.Context, entity string, fields Record, idempotencyKey string) (string, error) {
	body := make(Record, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["idem_key"] = idempotencyKey

	q := url.Values{}
	q.Set("on_conflict", "idem_key")

	var rows []Record
	err := c.do(ctx, http.MethodPost, entity, q, body,
		"resolution=merge-duplicates,return=representation", &rows)
	if err != nil {
		return "", err
	}
	return extractKey(entity, rows)
}

// Update replaces the given fields on the record with the given remote key
func (c *RESTClient) Update(ctx context.Context, entity, key string, fields Record) error {
	q := url.Values{}
	q.Set("id", "eq."+key)
	return c.do(ctx, http.MethodPatch, entity, q, fields, "", nil)
}

// Delete removes a record by remote key
func (c *RESTClient) Delete(ctx context.Context, entity, key string) error {
	q := url.Values{}
	q.Set("id", "eq."+key)
	return c.do(ctx, http.MethodDelete, entity, q, nil, "", nil)
}

// Upsert inserts or updates by natural key and returns the surviving key
func (c *RESTClient) Upsert(ctx context.Context, entity string, naturalKey Record, fields Record) (string, error) {
	body := make(Record, len(naturalKey)+len(fields))
	cols := make([]string, 0, len(naturalKey))
	for k, v := range naturalKey {
		body[k] = v
		cols = append(cols, k)
	}
	for k, v := range fields {
		body[k] = v
	}
	sort.Strings(cols)

	q := url.Values{}
	q.Set("on_conflict", strings.Join(cols, ","))

	var rows []Record
	err := c.do(ctx, http.MethodPost, entity, q, body,
		"resolution=merge-duplicates,return=representation", &rows)
	if err != nil {
		return "", err
	}
	return extractKey(entity, rows)
}

// DeleteWhere removes all records matching the filter
func (c *RESTClient) DeleteWhere(ctx context.Context, entity string, filter Record) error {
	if len(filter) == 0 {
		return Rejected(entity, fmt.Errorf("refusing unfiltered delete"))
	}
	return c.do(ctx, http.MethodDelete, entity, filterQuery(filter), nil, "", nil)
}

// List returns records matching the filter
func (c *RESTClient) List(ctx context.Context, entity string, filter Record, limit int) ([]Record, error) {
	q := filterQuery(filter)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var rows []Record
	if err := c.do(ctx, http.MethodGet, entity, q, nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// PutSnapshot appends a snapshot to the remote blob table
func (c *RESTClient) PutSnapshot(ctx context.Context, snap *models.SnapshotRecord) error {
	return c.do(ctx, http.MethodPost, "snapshots", nil, snap, "", nil)
}

// GetSnapshot fetches a snapshot by id
func (c *RESTClient) GetSnapshot(ctx context.Context, id string) (*models.SnapshotRecord, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("limit", "1")

	var rows []models.SnapshotRecord
	if err := c.do(ctx, http.MethodGet, "snapshots", q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, Rejected("snapshots", fmt.Errorf("snapshot %s not found", id))
	}
	return &rows[0], nil
}

// LatestSnapshot returns the most recent snapshot, or nil if none exist
func (c *RESTClient) LatestSnapshot(ctx context.Context) (*models.SnapshotRecord, error) {
	q := url.Values{}
	q.Set("order", "created_at.desc")
	q.Set("limit", "1")

	var rows []models.SnapshotRecord
	if err := c.do(ctx, http.MethodGet, "snapshots", q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// PruneSnapshots deletes snapshots created before the cutoff
func (c *RESTClient) PruneSnapshots(ctx context.Context, before time.Time) (int, error) {
	q := url.Values{}
	q.Set("created_at", "lt."+before.UTC().Format(time.RFC3339))
	q.Set("select", "id")

	var rows []Record
	err := c.do(ctx, http.MethodDelete, "snapshots", q, nil, "return=representation", &rows)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// filterQuery renders a filter map as PostgREST eq. query parameters
func filterQuery(filter Record) url.Values {
	q := url.Values{}
	for k, v := range filter {
		q.Set(k, fmt.Sprintf("eq.%v", v))
	}
	return q
}

// extractKey pulls the remote id out of a return=representation response
func extractKey(entity string, rows []Record) (string, error) {
	if len(rows) == 0 {
		return "", Transient(entity, fmt.Errorf("write returned no representation"))
	}
	switch id := rows[0]["id"].(type) {
	case string:
		return id, nil
	case float64:
		return strconv.FormatInt(int64(id), 10), nil
	default:
		return "", Rejected(entity, fmt.Errorf("unexpected id type %T in response", rows[0]["id"]))
	}
}
