package reconcile

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"shopsync/internal/logging"
	"shopsync/internal/models"
	"shopsync/internal/remote"
	"shopsync/internal/store"
)

var errNotLinked = errors.New("product has no storefront counterpart")

type AvailabilityOptions struct {
	ProductIDs   []string
	ContractorID *string
	Limit        int
}

type AvailabilitySummary struct {
	Total   int      `json:"total"`
	Synced  int      `json:"synced"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// AvailabilitySyncer pushes the available / unavailable flag and display text
// of linked products to the storefront.
type AvailabilitySyncer struct {
	store *store.Store
	log   *logging.Logger
	now   func() time.Time
}

func NewAvailabilitySyncer(st *store.Store) *AvailabilitySyncer {
	return &AvailabilitySyncer{
		store: st,
		log:   logging.Default().With("availability"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Decision is the computed availability of one product.
type Decision struct {
	Available    bool
	DeliveryDays *int
	Text         string
}

// Decide applies the threshold (inclusive) and renders the display text.
func Decide(settings models.AvailabilitySettings, p models.Product) Decision {
	if p.StockQuantity < settings.MinStockThreshold {
		text := settings.UnavailableText
		if text == "" {
			text = store.DefaultUnavailableText
		}
		return Decision{Available: false, Text: text}
	}
	days := settings.DefaultDeliveryDays
	if days <= 0 {
		days = store.DefaultDeliveryDays
	}
	if p.DeliveryDays != nil && *p.DeliveryDays > 0 {
		days = *p.DeliveryDays
	}
	tmpl := settings.AvailableText
	if tmpl == "" {
		tmpl = store.DefaultAvailableText
	}
	return Decision{
		Available:    true,
		DeliveryDays: &days,
		Text:         strings.ReplaceAll(tmpl, "{days}", strconv.Itoa(days)),
	}
}

// SyncSupplierAvailability evaluates every linked product of the integration.
// With sync-only-changed, a product whose computed availability equals the
// last delivered value is skipped without a storefront write.
func (as *AvailabilitySyncer) SyncSupplierAvailability(ctx context.Context, integ models.Integration, d remote.Driver, opts AvailabilityOptions) (AvailabilitySummary, error) {
	summary := AvailabilitySummary{Errors: []string{}}
	linked, err := as.store.ListLinkedProducts(ctx, integ.TenantID, integ.ID, store.LinkFilter{
		ProductIDs:   opts.ProductIDs,
		ContractorID: opts.ContractorID,
		Limit:        opts.Limit,
	})
	if err != nil {
		return summary, err
	}

	for _, lp := range linked {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Total++
		now := as.now()
		link := lp.Link
		state := link.Availability
		state.LastCheckedAt = &now

		if link.ExternalProductID == nil || *link.ExternalProductID == "" {
			if integ.MissingBehavior != models.MissingBehaviorFail {
				link.Availability = state
				summary.skip(as.store.SaveLinkState(ctx, link, now), lp.Product.ID)
				continue
			}
			state.LastStatus = models.LinkStatusFailed
			state.LastError = errNotLinked.Error()
			link.Availability = state
			as.saveFailedState(ctx, link, now)
			summary.fail(lp.Product.ID, errNotLinked)
			continue
		}

		decision := Decide(integ.Availability, lp.Product)
		if integ.Availability.SyncOnlyChanged && state.IsAvailable != nil && *state.IsAvailable == decision.Available {
			link.Availability = state
			summary.skip(as.store.SaveLinkState(ctx, link, now), lp.Product.ID)
			continue
		}

		if err := d.UpdateAvailability(ctx, *link.ExternalProductID, !decision.Available, decision.Text); err != nil {
			state.LastStatus = models.LinkStatusFailed
			state.LastError = err.Error()
			link.Availability = state
			as.saveFailedState(ctx, link, now)
			summary.fail(lp.Product.ID, err)
			continue
		}

		if state.IsAvailable == nil || *state.IsAvailable != decision.Available {
			state.LastStatusChangeAt = &now
		}
		available := decision.Available
		stock := lp.Product.StockQuantity
		state.IsAvailable = &available
		state.StockQuantity = &stock
		state.DeliveryDays = decision.DeliveryDays
		state.DisplayText = decision.Text
		state.LastStatus = models.LinkStatusSynced
		state.LastError = ""
		link.Availability = state
		if err := as.store.SaveLinkState(ctx, link, now); err != nil {
			summary.fail(lp.Product.ID, err)
			continue
		}
		summary.Synced++
	}

	if err := as.store.MarkIntegrationSynced(ctx, integ.TenantID, integ.ID, store.SyncKindAvailability, as.now()); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *AvailabilitySummary) skip(saveErr error, productID string) {
	if saveErr != nil {
		s.fail(productID, saveErr)
		return
	}
	s.Skipped++
}

func (s *AvailabilitySummary) fail(productID string, err error) {
	s.Failed++
	s.Errors = appendCapped(s.Errors, "product "+productID+": "+err.Error())
}

// saveFailedState stamps a failed push. A write error is logged since the
// push itself has already failed.
func (as *AvailabilitySyncer) saveFailedState(ctx context.Context, link models.MatchLink, now time.Time) {
	if err := as.store.SaveLinkState(ctx, link, now); err != nil {
		as.log.WarnFields("availability failure not recorded", map[string]any{
			"event":          "availability_state_save_failed",
			"integration_id": link.IntegrationID,
			"product_id":     link.ProductID,
			"error":          err.Error(),
		})
	}
}
