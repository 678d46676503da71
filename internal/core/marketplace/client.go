package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/catalogsync/catalogsync/internal/core"
)

const (
	// ListPath is the catalog card listing endpoint.
	ListPath = "/content/v2/get/cards/list"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// Client fetches catalog pages from the marketplace content API.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Clock     func() time.Time
}

type listRequest struct {
	Page         int            `json:"page"`
	ItemsPerPage int            `json:"itemsPerPage"`
	Filters      map[string]any `json:"filters,omitempty"`
}

type listResponse struct {
	Results    []json.RawMessage `json:"results"`
	Pagination struct {
		TotalPages int `json:"totalPages"`
	} `json:"pagination"`
}

type wireItem struct {
	SKU        string      `json:"sku"`
	VendorCode string      `json:"vendorCode"`
	Name       string      `json:"name"`
	Title      string      `json:"title"`
	Brand      string      `json:"brand"`
	Price      json.Number `json:"price"`
	Stock      json.Number `json:"stock"`
	UpdatedAt  string      `json:"updatedAt"`
}

// Endpoint returns the path reported in request metrics.
func (c *Client) Endpoint() string { return ListPath }

// Method returns the HTTP method reported in request metrics.
func (c *Client) Method() string { return http.MethodPost }

// FetchPage requests one page of the catalog listing for a scope. Items
// without a SKU are reported in Page.Invalid and left out of Page.Items.
func (c *Client) FetchPage(ctx context.Context, creds core.ScopeCredentials, req core.PageRequest) (*core.Page, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	endpoint, err := listURL(creds.BaseURL)
	if err != nil {
		return nil, &core.ConfigError{Field: "scopes." + creds.Scope + ".base_url", Reason: err.Error()}
	}

	body, err := json.Marshal(listRequest{Page: req.Page, ItemsPerPage: req.ItemsPerPage, Filters: req.Filters})
	if err != nil {
		return nil, fmt.Errorf("encode list request: %w", err)
	}

	timeout := creds.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.New().String())
	if c.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.UserAgent)
	}
	if creds.Username != "" || creds.Password != "" {
		httpReq.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := c.client().Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &core.TransientNetworkError{Err: err}
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &core.RateLimitExceededError{RetryAfter: c.retryAfter(resp)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &core.AuthError{StatusCode: resp.StatusCode, Scope: creds.Scope}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		return nil, &core.TransientNetworkError{StatusCode: resp.StatusCode, Err: errors.New(errorBody(resp))}
	default:
		return nil, fmt.Errorf("unexpected marketplace response %d: %s", resp.StatusCode, errorBody(resp))
	}

	var decoded listResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &core.TransientNetworkError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode list response: %w", err)}
	}

	page := &core.Page{
		Number:     req.Page,
		TotalPages: decoded.Pagination.TotalPages,
		StatusCode: resp.StatusCode,
		Items:      make([]core.RemoteItem, 0, len(decoded.Results)),
	}
	for idx, raw := range decoded.Results {
		item, err := parseItem(idx, raw)
		if err != nil {
			page.Invalid = append(page.Invalid, err)
			continue
		}
		item.Scope = req.Scope
		page.Items = append(page.Items, item)
	}

	return page, nil
}

func parseItem(idx int, raw json.RawMessage) (core.RemoteItem, error) {
	var wire wireItem
	if err := json.Unmarshal(raw, &wire); err != nil {
		return core.RemoteItem{}, &core.ValidationError{Index: idx, Reason: err.Error()}
	}

	sku := strings.TrimSpace(wire.SKU)
	if sku == "" {
		sku = strings.TrimSpace(wire.VendorCode)
	}
	if sku == "" {
		return core.RemoteItem{}, &core.ValidationError{Index: idx, Reason: "missing sku"}
	}

	item := core.RemoteItem{
		SKU:   sku,
		Name:  firstNonEmpty(wire.Name, wire.Title),
		Brand: wire.Brand,
	}
	if wire.Price != "" {
		price, err := wire.Price.Float64()
		if err != nil {
			return core.RemoteItem{}, &core.ValidationError{Index: idx, Reason: "invalid price " + wire.Price.String()}
		}
		item.Price = price
	}
	if wire.Stock != "" {
		stock, err := wire.Stock.Int64()
		if err != nil {
			return core.RemoteItem{}, &core.ValidationError{Index: idx, Reason: "invalid stock " + wire.Stock.String()}
		}
		item.Stock = int(stock)
	}
	if wire.UpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, wire.UpdatedAt); err == nil {
			item.UpdatedAt = ts.UTC()
		}
	}

	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err == nil {
		item.Raw = extra
	}

	return item, nil
}

func listURL(baseURL string) (string, error) {
	value := strings.TrimSpace(baseURL)
	if value == "" {
		return "", errors.New("base url is required")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", value)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + ListPath
	return parsed.String(), nil
}

// retryAfter parses Retry-After as seconds or an HTTP date.
func (c *Client) retryAfter(resp *http.Response) time.Duration {
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if parsed, err := http.ParseTime(value); err == nil {
		if wait := parsed.Sub(c.now()); wait > 0 {
			return wait
		}
	}
	return 0
}

func (c *Client) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

func errorBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return http.StatusText(resp.StatusCode)
	}
	return msg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
