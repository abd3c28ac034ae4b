// Package remote talks to a connected storefront, either through its web
// service API or directly through its database.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shopsync/internal/metrics"
	"shopsync/internal/models"
)

const DefaultTimeout = 20 * time.Second

type OrderQuery struct {
	From     *time.Time
	To       *time.Time
	Statuses []string
	Offset   int
	Limit    int
}

// Order is a storefront order as reported by a driver.
type Order struct {
	ExternalID    string                `json:"id"`
	Reference     string                `json:"reference"`
	Status        string                `json:"status"`
	PaymentStatus string                `json:"payment_status"`
	Currency      string                `json:"currency"`
	TotalGross    *float64              `json:"total_gross"`
	CustomerEmail string                `json:"customer_email"`
	PlacedAt      *time.Time            `json:"placed_at"`
	Items         []models.OrderItem    `json:"items"`
	Addresses     []models.OrderAddress `json:"addresses"`
}

type OrderPage struct {
	Orders     []Order `json:"orders"`
	NextOffset int     `json:"next_offset"`
	HasMore    bool    `json:"has_more"`
}

// Identifier names the product code FindProduct searches by.
type Identifier string

const (
	BySKU Identifier = "sku"
	ByEAN Identifier = "ean"
)

type Product struct {
	ExternalID string `json:"id"`
	SKU        string `json:"sku"`
	EAN        string `json:"ean"`
	Name       string `json:"name"`
	Quantity   *int64 `json:"quantity,omitempty"`
}

// Driver is the capability surface the sync engine needs from a storefront.
type Driver interface {
	ListOrders(ctx context.Context, q OrderQuery) (OrderPage, error)
	FetchOrder(ctx context.Context, externalID string) (Order, error)
	// FindProduct reports false when no product carries the code.
	FindProduct(ctx context.Context, by Identifier, code string) (Product, bool, error)
	UpdateAvailability(ctx context.Context, externalID string, outOfStock bool, text string) error
	UpdateStock(ctx context.Context, externalID string, quantity int64) error
	Close() error
}

// Factory opens a driver for an integration.
type Factory func(ctx context.Context, integration models.Integration) (Driver, error)

type Options struct {
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// NewFactory returns the production factory selecting the driver by transport.
func NewFactory(opts Options) Factory {
	return func(ctx context.Context, integration models.Integration) (Driver, error) {
		return New(ctx, integration, opts)
	}
}

func New(ctx context.Context, integration models.Integration, opts Options) (Driver, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	var (
		d   Driver
		err error
	)
	switch integration.Transport {
	case models.TransportAPI:
		d, err = NewAPIDriver(APIConfig{
			BaseURL: integration.APIBaseURL,
			APIKey:  integration.APIKey,
			Timeout: opts.Timeout,
		})
	case models.TransportDB:
		d, err = NewDBDriver(ctx, integration.DB, opts.Timeout)
	default:
		return nil, fmt.Errorf("%w: unsupported transport %q", models.ErrInvalidConfig, integration.Transport)
	}
	if err != nil {
		return nil, err
	}
	return instrument(d, string(integration.Transport), opts.Metrics), nil
}

type instrumented struct {
	next      Driver
	transport string
	metrics   *metrics.Metrics
}

func instrument(d Driver, transport string, m *metrics.Metrics) Driver {
	if m == nil {
		return d
	}
	return &instrumented{next: d, transport: transport, metrics: m}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	code := "ok"
	if err != nil {
		code = ErrorCode(err)
	}
	i.metrics.ObserveRemoteCall(i.transport, op, code, time.Since(start))
}

func (i *instrumented) ListOrders(ctx context.Context, q OrderQuery) (OrderPage, error) {
	start := time.Now()
	page, err := i.next.ListOrders(ctx, q)
	i.observe("list_orders", start, err)
	return page, err
}

func (i *instrumented) FetchOrder(ctx context.Context, externalID string) (Order, error) {
	start := time.Now()
	o, err := i.next.FetchOrder(ctx, externalID)
	i.observe("fetch_order", start, err)
	return o, err
}

func (i *instrumented) FindProduct(ctx context.Context, by Identifier, code string) (Product, bool, error) {
	start := time.Now()
	p, ok, err := i.next.FindProduct(ctx, by, code)
	i.observe("find_product", start, err)
	return p, ok, err
}

func (i *instrumented) UpdateAvailability(ctx context.Context, externalID string, outOfStock bool, text string) error {
	start := time.Now()
	err := i.next.UpdateAvailability(ctx, externalID, outOfStock, text)
	i.observe("update_availability", start, err)
	return err
}

func (i *instrumented) UpdateStock(ctx context.Context, externalID string, quantity int64) error {
	start := time.Now()
	err := i.next.UpdateStock(ctx, externalID, quantity)
	i.observe("update_stock", start, err)
	return err
}

func (i *instrumented) Close() error { return i.next.Close() }

func joinStatuses(statuses []string) string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ",")
}
