package syncer

import (
	"context"
	"fmt"

	"shopsync/internal/models"
	"shopsync/internal/reconcile"
	"shopsync/internal/remote"
	"shopsync/internal/runs"
	"shopsync/internal/store"
)

// sampleCap bounds the success samples built from a summary.
const sampleCap = runs.WindowSize

func (s *Syncer) integration(ctx context.Context, tenantID, integrationID string) (models.Integration, error) {
	integ, ok, err := s.store.GetIntegration(ctx, tenantID, integrationID)
	if err != nil {
		return models.Integration{}, err
	}
	if !ok {
		return models.Integration{}, fmt.Errorf("integration %s: %w", integrationID, store.ErrNotFound)
	}
	if !integ.Active {
		return models.Integration{}, fmt.Errorf("%w: integration %s is inactive", models.ErrInvalidConfig, integrationID)
	}
	return integ, nil
}

// inlineRun runs fn under a run of the given kind with a fresh driver. The
// run fails when fn returns an error; otherwise it completes with fn's result.
func (s *Syncer) inlineRun(ctx context.Context, tenantID, integrationID string, kind models.RunKind, fn func(ctx context.Context, integ models.Integration, d remote.Driver) (runs.ChunkResult, error)) (models.Run, error) {
	integ, err := s.integration(ctx, tenantID, integrationID)
	if err != nil {
		return models.Run{}, err
	}
	id := integ.ID
	run, err := s.tracker.Start(ctx, runs.Spec{TenantID: tenantID, Kind: kind, IntegrationID: &id})
	if err != nil {
		return models.Run{}, err
	}
	bg := context.WithoutCancel(ctx)

	d, err := s.drivers(ctx, integ)
	if err != nil {
		return s.failRun(bg, run, err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			s.log.Warnf("integration %s: close driver: %v", integ.ID, err)
		}
	}()

	res, err := fn(ctx, integ, d)
	if err != nil {
		return s.failRun(bg, run, err)
	}
	return s.tracker.Complete(bg, tenantID, run.ID, res, "")
}

func (s *Syncer) failRun(ctx context.Context, run models.Run, cause error) (models.Run, error) {
	failed, err := s.tracker.Fail(ctx, run.TenantID, run.ID, cause)
	if err != nil {
		s.log.Errorf("run %s: mark failed: %v", run.ID, err)
		return run, cause
	}
	return failed, cause
}

// ImportOrders pulls storefront orders. Without an explicit start the window
// begins shortly before the last successful order sync.
func (s *Syncer) ImportOrders(ctx context.Context, tenantID, integrationID string, opts reconcile.ImportOptions) (models.Run, reconcile.OrderSummary, error) {
	var summary reconcile.OrderSummary
	run, err := s.inlineRun(ctx, tenantID, integrationID, models.RunKindOrderImport, func(ctx context.Context, integ models.Integration, d remote.Driver) (runs.ChunkResult, error) {
		if opts.From == nil && integ.LastOrdersSyncedAt != nil {
			from := integ.LastOrdersSyncedAt.Add(-orderWindowOverlap)
			opts.From = &from
		}
		var err error
		summary, err = s.orders.Import(ctx, integ, d, opts)
		res := tallyResult(summary.Tally)
		for _, o := range summary.Orders {
			if len(res.Samples) >= sampleCap {
				break
			}
			if o.Outcome == reconcile.Created || o.Outcome == reconcile.Updated {
				res.Sample("order %s %s", o.ExternalID, o.Outcome)
			}
		}
		return res, err
	})
	return run, summary, err
}

func (s *Syncer) SyncIntegrationInventory(ctx context.Context, tenantID, integrationID string, opts reconcile.InventoryOptions) (models.Run, reconcile.InventorySummary, error) {
	var summary reconcile.InventorySummary
	run, err := s.inlineRun(ctx, tenantID, integrationID, models.RunKindInventorySync, func(ctx context.Context, integ models.Integration, d remote.Driver) (runs.ChunkResult, error) {
		var err error
		summary, err = s.inventory.SyncIntegrationInventory(ctx, integ, d, opts)
		return countsResult(summary.Total, summary.Synced, summary.Failed, summary.Skipped, summary.Errors), err
	})
	return run, summary, err
}

func (s *Syncer) SyncSupplierAvailability(ctx context.Context, tenantID, integrationID string, opts reconcile.AvailabilityOptions) (models.Run, reconcile.AvailabilitySummary, error) {
	var summary reconcile.AvailabilitySummary
	run, err := s.inlineRun(ctx, tenantID, integrationID, models.RunKindAvailabilitySync, func(ctx context.Context, integ models.Integration, d remote.Driver) (runs.ChunkResult, error) {
		var err error
		summary, err = s.availability.SyncSupplierAvailability(ctx, integ, d, opts)
		return countsResult(summary.Total, summary.Synced, summary.Failed, summary.Skipped, summary.Errors), err
	})
	return run, summary, err
}

func (s *Syncer) AutoMatchLinks(ctx context.Context, tenantID, integrationID string, opts reconcile.LinkOptions) (models.Run, reconcile.LinkSummary, error) {
	var summary reconcile.LinkSummary
	run, err := s.inlineRun(ctx, tenantID, integrationID, models.RunKindLinkMatch, func(ctx context.Context, integ models.Integration, d remote.Driver) (runs.ChunkResult, error) {
		var err error
		summary, err = s.links.AutoMatch(ctx, integ, d, opts)
		skipped := summary.Unmatched + summary.SkippedManual
		return countsResult(summary.Total, summary.Matched, summary.Failed, skipped, summary.Errors), err
	})
	return run, summary, err
}

// SetManualLink pins a product to a storefront product id.
func (s *Syncer) SetManualLink(ctx context.Context, tenantID, integrationID, productID, externalProductID string) (models.MatchLink, error) {
	if _, ok, err := s.store.GetIntegration(ctx, tenantID, integrationID); err != nil {
		return models.MatchLink{}, err
	} else if !ok {
		return models.MatchLink{}, fmt.Errorf("integration %s: %w", integrationID, store.ErrNotFound)
	}
	return s.links.SetManualLink(ctx, tenantID, integrationID, productID, externalProductID)
}

func tallyResult(t reconcile.Tally) runs.ChunkResult {
	return runs.ChunkResult{
		Processed: int64(t.Total()),
		Success:   int64(t.Created + t.Updated),
		Failure:   int64(t.Failed),
		Skipped:   int64(t.SkippedUnchanged + t.SkippedMissing),
		Errors:    t.Errors,
	}
}

func countsResult(total, success, failed, skipped int, errs []string) runs.ChunkResult {
	return runs.ChunkResult{
		Processed: int64(total),
		Success:   int64(success),
		Failure:   int64(failed),
		Skipped:   int64(skipped),
		Errors:    errs,
	}
}
