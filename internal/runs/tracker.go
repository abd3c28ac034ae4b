// Package runs tracks run progress. Chunk results may arrive in any order and
// concurrently; every mutation goes through the store's locked update.
package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopsync/internal/logging"
	"shopsync/internal/metrics"
	"shopsync/internal/models"
	"shopsync/internal/store"
	"shopsync/internal/ws"
)

// WindowSize caps the samples and errors kept on a run.
const WindowSize = 5

// ErrRunFinished is returned when work is queued against a terminal run.
var ErrRunFinished = errors.New("run already finished")

// ChunkResult is the outcome of one chunk, or of a whole inline run.
type ChunkResult struct {
	Processed int64
	Success   int64
	Failure   int64
	Skipped   int64
	Samples   []string
	Errors    []string
}

// Add folds another result into r.
func (r *ChunkResult) Add(o ChunkResult) {
	r.Processed += o.Processed
	r.Success += o.Success
	r.Failure += o.Failure
	r.Skipped += o.Skipped
	r.Samples = appendWindow(r.Samples, o.Samples)
	r.Errors = appendWindow(r.Errors, o.Errors)
}

// Sample records a sample line, keeping only the window.
func (r *ChunkResult) Sample(format string, args ...any) {
	r.Samples = appendWindow(r.Samples, []string{fmt.Sprintf(format, args...)})
}

// Error records an error line, keeping only the window.
func (r *ChunkResult) Error(format string, args ...any) {
	r.Errors = appendWindow(r.Errors, []string{fmt.Sprintf(format, args...)})
}

// Spec names what a new run belongs to.
type Spec struct {
	TenantID      string
	Kind          models.RunKind
	ProfileID     *string
	IntegrationID *string
}

type Tracker struct {
	store   *store.Store
	hub     *ws.Hub
	metrics *metrics.Metrics
	log     *logging.Logger
	now     func() time.Time
}

func NewTracker(st *store.Store, hub *ws.Hub, m *metrics.Metrics) *Tracker {
	return &Tracker{
		store:   st,
		hub:     hub,
		metrics: m,
		log:     logging.Default().With("runs"),
		now:     time.Now,
	}
}

// Start creates a running run for inline work.
func (t *Tracker) Start(ctx context.Context, spec Spec) (models.Run, error) {
	return t.start(ctx, spec, 0)
}

// StartChunked creates a running run whose producer holds one pending token.
// The producer adds one per dispatched chunk with MarkQueued and releases its
// own token with an empty ApplyChunk once every chunk is out.
func (t *Tracker) StartChunked(ctx context.Context, spec Spec) (models.Run, error) {
	return t.start(ctx, spec, 1)
}

func (t *Tracker) start(ctx context.Context, spec Spec, pending int) (models.Run, error) {
	now := t.now().UTC()
	run, err := t.store.CreateRun(ctx, models.Run{
		TenantID:      spec.TenantID,
		Kind:          spec.Kind,
		ProfileID:     spec.ProfileID,
		IntegrationID: spec.IntegrationID,
		Status:        models.RunStatusRunning,
		PendingChunks: pending,
		StartedAt:     &now,
	}, now)
	if err != nil {
		return models.Run{}, err
	}
	t.metrics.IncRunsStarted(string(run.Kind))
	t.publish(ws.EventRunStarted, run)
	return run, nil
}

// MarkQueued adds n expected chunk completions. It must be called before the
// chunks are enqueued.
func (t *Tracker) MarkQueued(ctx context.Context, tenantID, runID string, n int) (models.Run, error) {
	if n <= 0 {
		return t.Get(ctx, tenantID, runID)
	}
	return t.store.UpdateRunLocked(ctx, tenantID, runID, func(run *models.Run) error {
		if run.Status.Terminal() {
			return ErrRunFinished
		}
		run.PendingChunks += n
		return nil
	})
}

// ApplyChunk adds a chunk's deltas and releases one pending token. The run is
// finalized when the last token is released. Deltas against a terminal run
// are dropped; only its windows still take late entries.
func (t *Tracker) ApplyChunk(ctx context.Context, tenantID, runID string, res ChunkResult) (models.Run, error) {
	var finalized, dropped bool
	run, err := t.store.UpdateRunLocked(ctx, tenantID, runID, func(run *models.Run) error {
		if run.Status.Terminal() {
			dropped = true
			run.Samples = appendWindow(run.Samples, res.Samples)
			run.Errors = appendWindow(run.Errors, res.Errors)
			return nil
		}
		addDeltas(run, res)
		if run.PendingChunks > 0 {
			run.PendingChunks--
		}
		if run.PendingChunks == 0 {
			t.finalize(run)
			finalized = true
		}
		return nil
	})
	if err != nil {
		return models.Run{}, err
	}
	if dropped {
		t.log.Debugf("run %s: chunk result after finish ignored", runID)
		return run, nil
	}
	t.metrics.IncChunksApplied()
	t.observeRecords(run.Kind, res)
	if finalized {
		t.finished(run)
	} else {
		t.publish(ws.EventRunProgress, run)
	}
	return run, nil
}

// Complete finalizes an inline run with its aggregated result.
func (t *Tracker) Complete(ctx context.Context, tenantID, runID string, res ChunkResult, message string) (models.Run, error) {
	var finalized bool
	run, err := t.store.UpdateRunLocked(ctx, tenantID, runID, func(run *models.Run) error {
		if run.Status.Terminal() {
			return nil
		}
		addDeltas(run, res)
		run.PendingChunks = 0
		if message != "" {
			run.Message = &message
		}
		t.finalize(run)
		finalized = true
		return nil
	})
	if err != nil {
		return models.Run{}, err
	}
	if finalized {
		t.observeRecords(run.Kind, res)
		t.finished(run)
	}
	return run, nil
}

// CompleteEmpty finishes a run whose source had no records.
func (t *Tracker) CompleteEmpty(ctx context.Context, tenantID, runID, message string) (models.Run, error) {
	if message == "" {
		message = "source contained no records"
	}
	return t.Complete(ctx, tenantID, runID, ChunkResult{}, message)
}

// Fail marks the run failed. Chunks still in flight are ignored when they land.
func (t *Tracker) Fail(ctx context.Context, tenantID, runID string, cause error) (models.Run, error) {
	msg := "run failed"
	if cause != nil {
		msg = cause.Error()
	}
	var changed bool
	run, err := t.store.UpdateRunLocked(ctx, tenantID, runID, func(run *models.Run) error {
		if run.Status.Terminal() {
			return nil
		}
		now := t.now().UTC()
		run.Status = models.RunStatusFailed
		run.PendingChunks = 0
		run.FinishedAt = &now
		run.Message = &msg
		run.Errors = appendWindow(run.Errors, []string{msg})
		changed = true
		return nil
	})
	if err != nil {
		return models.Run{}, err
	}
	if changed {
		t.log.WarnFields("run failed", map[string]any{
			"event":  "run.failed",
			"run_id": run.ID,
			"kind":   string(run.Kind),
			"error":  msg,
		})
		t.finished(run)
	}
	return run, nil
}

func (t *Tracker) Get(ctx context.Context, tenantID, runID string) (models.Run, error) {
	run, ok, err := t.store.GetRun(ctx, tenantID, runID)
	if err != nil {
		return models.Run{}, err
	}
	if !ok {
		return models.Run{}, store.ErrNotFound
	}
	return run, nil
}

func (t *Tracker) List(ctx context.Context, tenantID string, f store.RunFilter) (models.RunsListResponse, error) {
	return t.store.ListRuns(ctx, tenantID, f)
}

// finalize is the only place a successful run picks its terminal status.
func (t *Tracker) finalize(run *models.Run) {
	now := t.now().UTC()
	run.FinishedAt = &now
	if run.Failure > 0 {
		run.Status = models.RunStatusCompletedWithErrors
	} else {
		run.Status = models.RunStatusCompleted
	}
}

func (t *Tracker) finished(run models.Run) {
	t.metrics.IncRunsFinished(string(run.Kind), string(run.Status))
	t.publish(ws.EventRunCompleted, run)
	t.log.InfoFields("run finished", map[string]any{
		"event":     "run.completed",
		"run_id":    run.ID,
		"kind":      string(run.Kind),
		"status":    string(run.Status),
		"processed": run.Processed,
		"success":   run.Success,
		"failure":   run.Failure,
		"skipped":   run.Skipped,
	})
}

func (t *Tracker) observeRecords(kind models.RunKind, res ChunkResult) {
	t.metrics.AddRecords(string(kind), "success", res.Success)
	t.metrics.AddRecords(string(kind), "failure", res.Failure)
	t.metrics.AddRecords(string(kind), "skipped", res.Skipped)
}

func (t *Tracker) publish(eventType string, run models.Run) {
	t.hub.Publish(ws.Event{
		Type:     eventType,
		TenantID: run.TenantID,
		RunID:    run.ID,
		Payload:  run,
	})
}

func addDeltas(run *models.Run, res ChunkResult) {
	run.Processed += res.Processed
	run.Success += res.Success
	run.Failure += res.Failure
	run.Skipped += res.Skipped
	run.Samples = appendWindow(run.Samples, res.Samples)
	run.Errors = appendWindow(run.Errors, res.Errors)
}

// appendWindow appends and keeps the WindowSize most recent entries.
func appendWindow(window, add []string) []string {
	if len(add) == 0 {
		return window
	}
	out := make([]string, 0, len(window)+len(add))
	out = append(out, window...)
	out = append(out, add...)
	if len(out) > WindowSize {
		out = out[len(out)-WindowSize:]
	}
	return out
}
