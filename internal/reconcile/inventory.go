package reconcile

import (
	"context"
	"time"

	"shopsync/internal/logging"
	"shopsync/internal/models"
	"shopsync/internal/remote"
	"shopsync/internal/store"
)

type InventoryOptions struct {
	ProductIDs []string
}

type InventorySummary struct {
	Total   int      `json:"total"`
	Synced  int      `json:"synced"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// InventorySyncer pushes local stock quantities of matched products.
type InventorySyncer struct {
	store *store.Store
	log   *logging.Logger
	now   func() time.Time
}

func NewInventorySyncer(st *store.Store) *InventorySyncer {
	return &InventorySyncer{
		store: st,
		log:   logging.Default().With("inventory"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SyncIntegrationInventory skips a product when its quantity equals the last
// quantity delivered successfully.
func (is *InventorySyncer) SyncIntegrationInventory(ctx context.Context, integ models.Integration, d remote.Driver, opts InventoryOptions) (InventorySummary, error) {
	summary := InventorySummary{Errors: []string{}}
	linked, err := is.store.ListLinkedProducts(ctx, integ.TenantID, integ.ID, store.LinkFilter{
		ProductIDs:  opts.ProductIDs,
		MatchedOnly: true,
	})
	if err != nil {
		return summary, err
	}

	for _, lp := range linked {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Total++
		link := lp.Link
		qty := lp.Product.StockQuantity
		meta := link.Metadata
		if meta.LastStatus == models.LinkStatusSynced && meta.LastQuantity != nil && *meta.LastQuantity == qty {
			summary.Skipped++
			continue
		}

		now := is.now()
		meta.LastSyncedAt = &now
		if err := d.UpdateStock(ctx, *link.ExternalProductID, qty); err != nil {
			meta.LastStatus = models.LinkStatusFailed
			meta.LastError = err.Error()
			link.Metadata = meta
			is.saveFailedState(ctx, link, now)
			summary.fail(lp.Product.ID, err)
			continue
		}
		meta.LastQuantity = &qty
		meta.LastStatus = models.LinkStatusSynced
		meta.LastError = ""
		link.Metadata = meta
		if err := is.store.SaveLinkState(ctx, link, now); err != nil {
			summary.fail(lp.Product.ID, err)
			continue
		}
		summary.Synced++
	}

	if err := is.store.MarkIntegrationSynced(ctx, integ.TenantID, integ.ID, store.SyncKindInventory, is.now()); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *InventorySummary) fail(productID string, err error) {
	s.Failed++
	s.Errors = appendCapped(s.Errors, "product "+productID+": "+err.Error())
}

// saveFailedState stamps a failed push. A write error is logged since the
// push itself has already failed.
func (is *InventorySyncer) saveFailedState(ctx context.Context, link models.MatchLink, now time.Time) {
	if err := is.store.SaveLinkState(ctx, link, now); err != nil {
		is.log.WarnFields("inventory failure not recorded", map[string]any{
			"event":          "inventory_state_save_failed",
			"integration_id": link.IntegrationID,
			"product_id":     link.ProductID,
			"error":          err.Error(),
		})
	}
}
