// Package addrbook implements the remote boundary against an address-book
// style REST API: bearer-token login, a per-account address list capped at
// a fixed quota, and delete-by-id. It only shapes requests and responses;
// pacing, failover, and consistency confirmation are the caller's job.
package addrbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quotapilot/quotapilot/internal/remote"
)

const defaultTimeout = 15 * time.Second

// Client talks to one address-book API base URL. TokenSource is consulted
// per request so identity rotation takes effect without rebuilding clients.
type Client struct {
	BaseURL     string
	HTTPClient  *http.Client
	Timeout     time.Duration
	TokenSource func() string
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Timeout: defaultTimeout,
	}
}

// Login authenticates one set of credentials and extracts the bearer token.
// The token is returned alongside the raw response so callers can apply
// their own retry policy on throttling or server errors.
func (c *Client) Login(ctx context.Context, creds remote.Credentials) (*remote.Response, string, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	})
	if err != nil {
		return nil, "", fmt.Errorf("encode login request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/login", payload, false)
	if err != nil {
		return nil, "", err
	}
	if !resp.Success() {
		return resp, "", nil
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return resp, "", fmt.Errorf("decode login response: %w", err)
	}
	return resp, strings.TrimSpace(body.Token), nil
}

// List fetches every address for the active identity.
func (c *Client) List(ctx context.Context) ([]remote.Record, *remote.Response, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/addresses", nil, true)
	if err != nil {
		return nil, nil, err
	}
	if !resp.Success() {
		return nil, resp, nil
	}

	records, err := decodeRecords(resp.Body)
	if err != nil {
		return nil, resp, err
	}
	return records, resp, nil
}

// Create writes one address from loosely-typed fields.
func (c *Client) Create(ctx context.Context, fields map[string]string) (*remote.Response, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode create request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/addresses", payload, true)
}

// Delete removes one address by id.
func (c *Client) Delete(ctx context.Context, id string) (*remote.Response, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("address id is required")
	}
	return c.do(ctx, http.MethodDelete, "/api/addresses/"+url.PathEscape(id), nil, true)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, authed bool) (*remote.Response, error) {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return nil, fmt.Errorf("addrbook client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token := ""
		if c.TokenSource != nil {
			token = strings.TrimSpace(c.TokenSource())
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}

	return &remote.Response{
		StatusCode: resp.StatusCode,
		Body:       data,
		Header:     resp.Header.Clone(),
	}, nil
}

// decodeRecords accepts either a bare JSON array or an object wrapping the
// array under "addresses", since deployed backends disagree on the shape.
func decodeRecords(data []byte) ([]remote.Record, error) {
	var wrapper struct {
		Addresses []map[string]any `json:"addresses"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Addresses != nil {
		return mapRecords(wrapper.Addresses), nil
	}

	var plain []map[string]any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, fmt.Errorf("decode address list: %w", err)
	}
	return mapRecords(plain), nil
}

func mapRecords(items []map[string]any) []remote.Record {
	records := make([]remote.Record, 0, len(items))
	for _, item := range items {
		records = append(records, mapRecord(item))
	}
	return records
}

func mapRecord(item map[string]any) remote.Record {
	record := remote.Record{Fields: make(map[string]string, len(item))}
	for key, value := range item {
		switch key {
		case "id":
			record.ID = stringify(value)
		case "isDefault", "is_default", "default":
			record.IsDefault = truthy(value)
		case "createdAt", "created_at":
			if ts, ok := parseTime(value); ok {
				record.CreatedAt = ts
			}
		}
		record.Fields[key] = stringify(value)
	}
	return record
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// truthy interprets the default/protected marker, which backends send as a
// boolean or as 0/1.
func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v == "1" || strings.EqualFold(v, "true")
	default:
		return false
	}
}

func parseTime(value any) (time.Time, bool) {
	raw, ok := value.(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
