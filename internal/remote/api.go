package remote

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

	"shopsync/internal/models"
)

const maxResponseBytes = 8 << 20

type APIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

// APIDriver speaks the storefront web service: JSON over HTTP with the API key
// as the basic auth user and an empty password.
type APIDriver struct {
	base   *url.URL
	key    string
	client *http.Client
}

func NewAPIDriver(cfg APIConfig) (*APIDriver, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid api base url %q", models.ErrInvalidConfig, cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: api key is required", models.ErrInvalidConfig)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &APIDriver{base: u, key: cfg.APIKey, client: client}, nil
}

func (d *APIDriver) endpoint(path string, query url.Values) string {
	u := *d.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends the request and decodes a 2xx JSON body into out. 404 becomes a
// not_found error so callers can tell "absent" from "broken".
func (d *APIDriver) do(ctx context.Context, op, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(d.key, "")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Output-Format", "JSON")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransport(op, err)
	}

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
	case code == http.StatusNotFound || code == http.StatusGone:
		return newError(CodeNotFound, op, "not found", nil)
	case code == http.StatusTooManyRequests:
		e := newError(CodeRateLimited, op, "rate limited", nil)
		e.RetryAfter = parseRetryAfter(resp.Header)
		return e
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return newError(CodeUpstreamTimeout, op, fmt.Sprintf("upstream returned %d", code), nil)
	default:
		return newError(CodeUpstreamError, op, fmt.Sprintf("upstream returned %d: %s", code, snippet(data)), nil)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return newError(CodeInvalidResponse, op, "decode response: "+err.Error(), err)
	}
	return nil
}

func (d *APIDriver) ListOrders(ctx context.Context, q OrderQuery) (OrderPage, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(q.Offset))
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if s := joinStatuses(q.Statuses); s != "" {
		query.Set("status", s)
	}
	if q.From != nil {
		query.Set("date_from", q.From.UTC().Format(time.RFC3339))
	}
	if q.To != nil {
		query.Set("date_to", q.To.UTC().Format(time.RFC3339))
	}
	var page OrderPage
	if err := d.do(ctx, "list_orders", http.MethodGet, d.endpoint("/orders", query), nil, &page); err != nil {
		return OrderPage{}, err
	}
	return page, nil
}

func (d *APIDriver) FetchOrder(ctx context.Context, externalID string) (Order, error) {
	var out Order
	err := d.do(ctx, "fetch_order", http.MethodGet, d.endpoint("/orders/"+url.PathEscape(externalID), nil), nil, &out)
	if err != nil {
		return Order{}, err
	}
	if out.ExternalID == "" {
		out.ExternalID = externalID
	}
	return out, nil
}

func (d *APIDriver) FindProduct(ctx context.Context, by Identifier, code string) (Product, bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Product{}, false, nil
	}
	query := url.Values{}
	query.Set(string(by), code)
	var resp struct {
		Products []Product `json:"products"`
	}
	err := d.do(ctx, "find_product", http.MethodGet, d.endpoint("/products", query), nil, &resp)
	if ErrorCode(err) == CodeNotFound {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, err
	}
	for _, p := range resp.Products {
		if matchesCode(p, by, code) {
			return p, true, nil
		}
	}
	return Product{}, false, nil
}

func matchesCode(p Product, by Identifier, code string) bool {
	switch by {
	case ByEAN:
		return strings.TrimSpace(p.EAN) == code
	default:
		return strings.EqualFold(strings.TrimSpace(p.SKU), code)
	}
}

func (d *APIDriver) UpdateAvailability(ctx context.Context, externalID string, outOfStock bool, text string) error {
	body := map[string]any{"out_of_stock": outOfStock, "text": text}
	return d.do(ctx, "update_availability", http.MethodPut,
		d.endpoint("/products/"+url.PathEscape(externalID)+"/availability", nil), body, nil)
}

func (d *APIDriver) UpdateStock(ctx context.Context, externalID string, quantity int64) error {
	body := map[string]any{"quantity": quantity}
	return d.do(ctx, "update_stock", http.MethodPut,
		d.endpoint("/products/"+url.PathEscape(externalID)+"/stock", nil), body, nil)
}

func (d *APIDriver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func parseRetryAfter(hdr http.Header) time.Duration {
	v := strings.TrimSpace(hdr.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
