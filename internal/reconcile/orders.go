package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"shopsync/internal/logging"
	"shopsync/internal/models"
	"shopsync/internal/remote"
	"shopsync/internal/store"
)

// grossTolerance is the smallest total difference that counts as a change.
const grossTolerance = 0.01

type ImportOptions struct {
	From     *time.Time
	To       *time.Time
	Statuses []string
	// Limit caps imported (created or updated) orders; zero means no cap.
	Limit    int
	PageSize int
	Force    bool
}

type OrderOutcome struct {
	ExternalID string `json:"externalId"`
	Result
}

type OrderSummary struct {
	Tally
	Pages  int            `json:"pages"`
	Orders []OrderOutcome `json:"orders"`
}

// Imported counts orders that were written.
func (s OrderSummary) Imported() int { return s.Created + s.Updated }

// OrderImporter pulls storefront orders into the local store, deduplicated by
// (integration, external order id).
type OrderImporter struct {
	store *store.Store
	log   *logging.Logger
	now   func() time.Time
}

func NewOrderImporter(st *store.Store) *OrderImporter {
	return &OrderImporter{
		store: st,
		log:   logging.Default().With("orders"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Import walks the order listing page by page. A listing failure aborts the
// import; a single order's failure does not.
func (imp *OrderImporter) Import(ctx context.Context, integ models.Integration, d remote.Driver, opts ImportOptions) (OrderSummary, error) {
	summary := OrderSummary{Orders: []OrderOutcome{}}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = integ.Orders.PageSize
	}
	if pageSize <= 0 {
		pageSize = store.DefaultOrderPageSize
	}
	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = integ.Orders.Statuses
	}

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		page, err := d.ListOrders(ctx, remote.OrderQuery{
			From:     opts.From,
			To:       opts.To,
			Statuses: statuses,
			Offset:   offset,
			Limit:    pageSize,
		})
		if err != nil {
			return summary, fmt.Errorf("list orders at offset %d: %w", offset, err)
		}
		summary.Pages++

		for _, listed := range page.Orders {
			if opts.Limit > 0 && summary.Imported() >= opts.Limit {
				break
			}
			res := imp.importOne(ctx, integ, d, listed, opts.Force)
			summary.Tally.Add(res, "order "+listed.ExternalID)
			summary.Orders = append(summary.Orders, OrderOutcome{ExternalID: listed.ExternalID, Result: res})
			if res.Outcome == Failed {
				imp.log.WarnFields("order import failed", map[string]any{
					"event":          "order_import_failed",
					"integration_id": integ.ID,
					"external_id":    listed.ExternalID,
					"error":          res.Reason,
				})
			}
		}

		if opts.Limit > 0 && summary.Imported() >= opts.Limit {
			break
		}
		if !page.HasMore || page.NextOffset <= offset {
			break
		}
		offset = page.NextOffset
	}

	if err := imp.store.MarkIntegrationSynced(ctx, integ.TenantID, integ.ID, store.SyncKindOrders, imp.now()); err != nil {
		return summary, err
	}
	return summary, nil
}

func (imp *OrderImporter) importOne(ctx context.Context, integ models.Integration, d remote.Driver, listed remote.Order, force bool) Result {
	externalID := strings.TrimSpace(listed.ExternalID)
	if externalID == "" {
		return failed(errors.New("order without external id"))
	}
	existing, found, err := imp.store.FindOrderByExternalID(ctx, integ.TenantID, integ.ID, externalID)
	if err != nil {
		return failed(err)
	}
	if found && !force && !orderChanged(existing, listed) {
		return Result{Outcome: SkippedUnchanged, ID: existing.ID}
	}

	detail, err := d.FetchOrder(ctx, externalID)
	if err != nil {
		return failed(fmt.Errorf("fetch order detail: %w", err))
	}
	detail = fillFromListing(detail, listed)

	if found {
		merged := mergeOrder(existing, detail)
		if _, err := imp.store.SaveOrder(ctx, merged, imp.now()); err != nil {
			return failed(err)
		}
		return Result{Outcome: Updated, ID: existing.ID}
	}

	order := mergeOrder(models.Order{
		TenantID:        integ.TenantID,
		IntegrationID:   integ.ID,
		ExternalOrderID: externalID,
	}, detail)
	created, err := imp.store.CreateOrder(ctx, order, imp.now())
	if err != nil {
		// A concurrent import may have inserted the same order first.
		if again, ok, lookupErr := imp.store.FindOrderByExternalID(ctx, integ.TenantID, integ.ID, externalID); lookupErr == nil && ok {
			return Result{Outcome: SkippedUnchanged, ID: again.ID}
		}
		return failed(err)
	}
	return Result{Outcome: Created, ID: created.ID}
}

// orderChanged compares the listing summary with the stored order. Fields the
// listing does not carry are not compared.
func orderChanged(existing models.Order, listed remote.Order) bool {
	if s := strings.TrimSpace(listed.Status); s != "" && s != existing.Status {
		return true
	}
	if s := strings.TrimSpace(listed.PaymentStatus); s != "" && s != existing.PaymentStatus {
		return true
	}
	if listed.TotalGross != nil && math.Abs(*listed.TotalGross-existing.TotalGross) > grossTolerance+1e-9 {
		return true
	}
	return false
}

func fillFromListing(detail, listed remote.Order) remote.Order {
	if detail.ExternalID == "" {
		detail.ExternalID = listed.ExternalID
	}
	if detail.Status == "" {
		detail.Status = listed.Status
	}
	if detail.PaymentStatus == "" {
		detail.PaymentStatus = listed.PaymentStatus
	}
	if detail.TotalGross == nil {
		detail.TotalGross = listed.TotalGross
	}
	if detail.Reference == "" {
		detail.Reference = listed.Reference
	}
	if detail.PlacedAt == nil {
		detail.PlacedAt = listed.PlacedAt
	}
	return detail
}

// mergeOrder takes each external value when present and keeps the stored one
// otherwise.
func mergeOrder(o models.Order, ext remote.Order) models.Order {
	pick := func(cur, next string) string {
		if v := strings.TrimSpace(next); v != "" {
			return v
		}
		return cur
	}
	o.Reference = pick(o.Reference, ext.Reference)
	o.Status = pick(o.Status, ext.Status)
	o.PaymentStatus = pick(o.PaymentStatus, ext.PaymentStatus)
	o.Currency = pick(o.Currency, ext.Currency)
	o.CustomerEmail = pick(o.CustomerEmail, ext.CustomerEmail)
	if ext.TotalGross != nil {
		o.TotalGross = *ext.TotalGross
	}
	if ext.PlacedAt != nil {
		placed := ext.PlacedAt.UTC()
		o.PlacedAt = &placed
	}
	if len(ext.Items) > 0 {
		o.Items = ext.Items
	}
	if len(ext.Addresses) > 0 {
		o.Addresses = ext.Addresses
	}
	return o
}
