package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shopsync/internal/models"
	"shopsync/internal/remote"
	"shopsync/internal/store"
)

type LinkOptions struct {
	ProductIDs   []string
	ContractorID *string
	Limit        int
}

type LinkSummary struct {
	Total         int      `json:"total"`
	Matched       int      `json:"matched"`
	Unmatched     int      `json:"unmatched"`
	SkippedManual int      `json:"skippedManual"`
	Failed        int      `json:"failed"`
	Errors        []string `json:"errors"`
}

// LinkMatcher pairs local products with storefront products by identifier.
type LinkMatcher struct {
	store *store.Store
	now   func() time.Time
}

func NewLinkMatcher(st *store.Store) *LinkMatcher {
	return &LinkMatcher{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// AutoMatch looks every selected product up on the storefront. Manual links
// are never touched. A product without a hit is unmatched, not failed.
func (lm *LinkMatcher) AutoMatch(ctx context.Context, integ models.Integration, d remote.Driver, opts LinkOptions) (LinkSummary, error) {
	summary := LinkSummary{Errors: []string{}}
	products, err := lm.store.ListProducts(ctx, integ.TenantID, store.ProductFilter{
		IDs:          opts.ProductIDs,
		ContractorID: opts.ContractorID,
		Limit:        opts.Limit,
	})
	if err != nil {
		return summary, err
	}
	m := Matcher{Strategy: integ.MatchStrategy}
	lookup := remoteLookup(d)

	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Total++
		link, exists, err := lm.store.GetLink(ctx, integ.TenantID, integ.ID, p.ID)
		if err != nil {
			summary.fail(p.ID, err)
			continue
		}
		if exists && link.IsManual {
			summary.SkippedManual++
			continue
		}

		match, ok, err := m.Match(ctx, lookup, Keys{SKU: p.SKU, EAN: p.EAN})
		if err != nil {
			summary.fail(p.ID, err)
			continue
		}
		if !ok {
			summary.Unmatched++
			if !exists {
				if _, err := lm.store.UpsertLink(ctx, models.MatchLink{
					TenantID:      integ.TenantID,
					IntegrationID: integ.ID,
					ProductID:     p.ID,
					MatchedBy:     models.MatchedByNone,
				}, lm.now()); err != nil {
					summary.Unmatched--
					summary.fail(p.ID, err)
				}
			}
			continue
		}

		next := link
		if !exists {
			next = models.MatchLink{TenantID: integ.TenantID, IntegrationID: integ.ID, ProductID: p.ID}
		}
		if next.ExternalProductID == nil || *next.ExternalProductID != match.ID {
			// State recorded against another storefront product no longer applies.
			next.Metadata = models.LinkMetadata{}
			next.Availability = models.AvailabilityState{}
		}
		externalID := match.ID
		next.ExternalProductID = &externalID
		next.MatchedBy = match.By
		next.IsManual = false
		if _, err := lm.store.UpsertLink(ctx, next, lm.now()); err != nil {
			summary.fail(p.ID, err)
			continue
		}
		summary.Matched++
	}
	return summary, nil
}

func (s *LinkSummary) fail(productID string, err error) {
	s.Failed++
	s.Errors = appendCapped(s.Errors, "product "+productID+": "+err.Error())
}

// SetManualLink pins a product to a storefront product. Auto-matching never
// overrides the result.
func (lm *LinkMatcher) SetManualLink(ctx context.Context, tenantID, integrationID, productID, externalProductID string) (models.MatchLink, error) {
	externalProductID = strings.TrimSpace(externalProductID)
	if externalProductID == "" {
		return models.MatchLink{}, fmt.Errorf("%w: externalProductId is required", models.ErrInvalidConfig)
	}
	if _, ok, err := lm.store.GetProduct(ctx, tenantID, productID); err != nil {
		return models.MatchLink{}, err
	} else if !ok {
		return models.MatchLink{}, store.ErrNotFound
	}

	link, exists, err := lm.store.GetLink(ctx, tenantID, integrationID, productID)
	if err != nil {
		return models.MatchLink{}, err
	}
	if !exists {
		link = models.MatchLink{TenantID: tenantID, IntegrationID: integrationID, ProductID: productID}
	}
	if link.ExternalProductID == nil || *link.ExternalProductID != externalProductID {
		link.Metadata = models.LinkMetadata{}
		link.Availability = models.AvailabilityState{}
	}
	link.ExternalProductID = &externalProductID
	link.MatchedBy = models.MatchedByManual
	link.IsManual = true
	return lm.store.UpsertLink(ctx, link, lm.now())
}

func remoteLookup(d remote.Driver) Lookup {
	return func(ctx context.Context, by remote.Identifier, code string) (string, bool, error) {
		p, ok, err := d.FindProduct(ctx, by, code)
		if err != nil || !ok {
			return "", false, err
		}
		return p.ExternalID, true, nil
	}
}
