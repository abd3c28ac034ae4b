package syncer

import (
	"context"
	"errors"
	"time"

	"shopsync/internal/dirlock"
	"shopsync/internal/models"
	"shopsync/internal/schedule"
)

type DispatchSummary struct {
	Profiles     int `json:"profiles"`
	Orders       int `json:"orders"`
	Availability int `json:"availability"`
}

// DispatchDue enqueues every due profile and every integration whose order or
// availability interval has elapsed. A profile's next_run_at is moved forward
// with a compare-and-set before its task is queued, so concurrent dispatchers
// cannot queue the same tick twice.
func (s *Syncer) DispatchDue(ctx context.Context, now time.Time) (DispatchSummary, error) {
	var summary DispatchSummary
	now = now.UTC()

	due, err := s.store.ListDueProfiles(ctx, now, dueBatchSize)
	if err != nil {
		return summary, err
	}
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		ok, err := s.dispatchProfile(ctx, p, now)
		if err != nil {
			s.log.WarnFields("profile dispatch failed", map[string]any{
				"event":      "scheduler.dispatch_failed",
				"tenant_id":  p.TenantID,
				"profile_id": p.ID,
				"error":      err.Error(),
			})
			continue
		}
		if ok {
			summary.Profiles++
		}
	}

	integrations, err := s.store.ListScheduledIntegrations(ctx)
	if err != nil {
		return summary, err
	}
	for _, integ := range integrations {
		if s.integrationDue(integ.ID, TaskOrdersImport, integ.OrderSyncMinutes, integ.LastOrdersSyncedAt, now) {
			if s.dispatchIntegration(ctx, integ, TaskOrdersImport, now) {
				summary.Orders++
			}
		}
		if s.integrationDue(integ.ID, TaskAvailabilitySync, integ.AvailabilitySyncMinutes, integ.LastAvailabilitySyncedAt, now) {
			if s.dispatchIntegration(ctx, integ, TaskAvailabilitySync, now) {
				summary.Availability++
			}
		}
	}
	return summary, nil
}

func (s *Syncer) dispatchProfile(ctx context.Context, p models.SyncProfile, now time.Time) (bool, error) {
	next, err := schedule.ForProfile(p, now)
	if err != nil {
		// A stored schedule that no longer validates stops auto-running.
		s.log.Warnf("profile %s: schedule: %v", p.ID, err)
		next = nil
	}
	claimed, err := s.store.ClaimProfileRun(ctx, p.TenantID, p.ID, p.NextRunAt, next, now)
	if err != nil || !claimed {
		return false, err
	}
	if _, err := s.queue.Enqueue(ctx, TaskProfileImport, ProfileImportPayload{TenantID: p.TenantID, ProfileID: p.ID}); err != nil {
		// Put the tick back so the next dispatch picks it up again.
		if restoreErr := s.store.SetProfileNextRun(context.WithoutCancel(ctx), p.TenantID, p.ID, p.NextRunAt, now); restoreErr != nil {
			s.log.Errorf("profile %s: restore next run: %v", p.ID, restoreErr)
		}
		return false, err
	}
	s.metrics.IncSchedulerDispatched(TaskProfileImport)
	return true, nil
}

func dispatchKey(integrationID, task string) string {
	return integrationID + "/" + task
}

func (s *Syncer) integrationDue(integrationID, task string, minutes int, lastSynced *time.Time, now time.Time) bool {
	if minutes <= 0 {
		return false
	}
	interval := time.Duration(minutes) * time.Minute
	var last time.Time
	if lastSynced != nil {
		last = *lastSynced
	}
	s.dispatchMu.Lock()
	if at, ok := s.lastDispatch[dispatchKey(integrationID, task)]; ok && at.After(last) {
		last = at
	}
	s.dispatchMu.Unlock()
	return last.IsZero() || !last.Add(interval).After(now)
}

func (s *Syncer) dispatchIntegration(ctx context.Context, integ models.Integration, task string, now time.Time) bool {
	_, err := s.queue.Enqueue(ctx, task, IntegrationPayload{TenantID: integ.TenantID, IntegrationID: integ.ID})
	if err != nil {
		s.log.WarnFields("integration dispatch failed", map[string]any{
			"event":          "scheduler.dispatch_failed",
			"tenant_id":      integ.TenantID,
			"integration_id": integ.ID,
			"task":           task,
			"error":          err.Error(),
		})
		return false
	}
	s.dispatchMu.Lock()
	s.lastDispatch[dispatchKey(integ.ID, task)] = now
	s.dispatchMu.Unlock()
	s.metrics.IncSchedulerDispatched(task)
	return true
}

// RunScheduler calls DispatchDue every tick until ctx is done. Only the
// process holding the scheduler lock of the data directory dispatches; others
// stand by and try to take the lock on later ticks.
func (s *Syncer) RunScheduler(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultDispatchInterval
	}
	var lock *dirlock.Lock
	defer func() {
		if err := lock.Release(); err != nil {
			s.log.Warnf("release scheduler lock: %v", err)
		}
	}()

	tick := func() {
		if lock == nil {
			l, err := dirlock.AcquireNamed(s.dataDir, schedulerLockName)
			if errors.Is(err, dirlock.ErrLocked) {
				s.log.Debugf("scheduler lock held elsewhere; standing by")
				return
			}
			if err != nil {
				s.log.Warnf("acquire scheduler lock: %v", err)
				return
			}
			lock = l
			s.log.Infof("scheduler lock acquired: %s", lock.Path())
		}
		summary, err := s.DispatchDue(ctx, s.now())
		if err != nil {
			if ctx.Err() == nil {
				s.log.Errorf("dispatch due work: %v", err)
			}
			return
		}
		if summary.Profiles+summary.Orders+summary.Availability > 0 {
			s.log.InfoFields("due work dispatched", map[string]any{
				"event":        "scheduler.dispatched",
				"profiles":     summary.Profiles,
				"orders":       summary.Orders,
				"availability": summary.Availability,
			})
		}
	}

	tick()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// UpdateNextRun recomputes and stores the profile's next run from now.
func (s *Syncer) UpdateNextRun(ctx context.Context, p models.SyncProfile) (*time.Time, error) {
	now := s.now()
	next, err := schedule.ForProfile(p, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetProfileNextRun(ctx, p.TenantID, p.ID, next, now); err != nil {
		return nil, err
	}
	return next, nil
}
