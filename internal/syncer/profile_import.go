package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"shopsync/internal/mapping"
	"shopsync/internal/models"
	"shopsync/internal/parser"
	"shopsync/internal/reconcile"
	"shopsync/internal/runs"
	"shopsync/internal/schedule"
	"shopsync/internal/source"
	"shopsync/internal/store"
)

func (s *Syncer) profile(ctx context.Context, tenantID, profileID string) (models.SyncProfile, error) {
	p, ok, err := s.store.GetProfile(ctx, tenantID, profileID)
	if err != nil {
		return models.SyncProfile{}, err
	}
	if !ok {
		return models.SyncProfile{}, fmt.Errorf("profile %s: %w", profileID, store.ErrNotFound)
	}
	return p, nil
}

func profileRunSpec(p models.SyncProfile) runs.Spec {
	id := p.ID
	return runs.Spec{
		TenantID:      p.TenantID,
		Kind:          models.RunKindProfileImport,
		ProfileID:     &id,
		IntegrationID: p.IntegrationID,
	}
}

// StartProfileImport creates the run right away and queues the import.
func (s *Syncer) StartProfileImport(ctx context.Context, tenantID, profileID string) (models.Run, error) {
	p, err := s.profile(ctx, tenantID, profileID)
	if err != nil {
		return models.Run{}, err
	}
	run, err := s.tracker.StartChunked(ctx, profileRunSpec(p))
	if err != nil {
		return models.Run{}, err
	}
	payload := ProfileImportPayload{TenantID: tenantID, ProfileID: profileID, RunID: run.ID}
	if _, err := s.queue.Enqueue(ctx, TaskProfileImport, payload); err != nil {
		failed, failErr := s.tracker.Fail(context.WithoutCancel(ctx), tenantID, run.ID, err)
		if failErr == nil {
			run = failed
		}
		return run, err
	}
	return run, nil
}

// RunProfileImport reads the profile's source and fans the records out as
// chunk tasks. The returned run is still running unless the source was empty
// or the import failed.
func (s *Syncer) RunProfileImport(ctx context.Context, tenantID, profileID string) (models.Run, error) {
	return s.importProfile(ctx, ProfileImportPayload{TenantID: tenantID, ProfileID: profileID})
}

func (s *Syncer) importProfile(ctx context.Context, req ProfileImportPayload) (models.Run, error) {
	bg := context.WithoutCancel(ctx)
	p, err := s.profile(ctx, req.TenantID, req.ProfileID)
	if err != nil {
		if req.RunID != "" {
			if run, failErr := s.tracker.Fail(bg, req.TenantID, req.RunID, err); failErr == nil {
				return run, err
			}
		}
		return models.Run{}, err
	}
	run, err := s.openRun(ctx, p, req.RunID)
	if err != nil {
		return models.Run{}, err
	}

	dispatched, err := s.produce(ctx, p, run)
	if err != nil {
		s.reschedule(bg, p, false)
		failed, failErr := s.tracker.Fail(bg, p.TenantID, run.ID, err)
		if failErr != nil {
			s.log.Errorf("run %s: mark failed: %v", run.ID, failErr)
			return run, err
		}
		return failed, err
	}

	if dispatched == 0 {
		run, err = s.tracker.CompleteEmpty(bg, p.TenantID, run.ID, "")
	} else {
		// Release the producer's own token; the last chunk finalizes the run.
		run, err = s.tracker.ApplyChunk(bg, p.TenantID, run.ID, runs.ChunkResult{})
	}
	s.reschedule(bg, p, true)
	return run, err
}

func (s *Syncer) openRun(ctx context.Context, p models.SyncProfile, runID string) (models.Run, error) {
	if runID != "" {
		run, err := s.tracker.Get(ctx, p.TenantID, runID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return models.Run{}, err
		}
		if err == nil && !run.Status.Terminal() {
			return run, nil
		}
		s.log.Infof("run %s is gone or finished; starting a new run for profile %s", runID, p.ID)
	}
	return s.tracker.StartChunked(ctx, profileRunSpec(p))
}

// reschedule stamps last_fetched_at after a successful read and always
// recomputes next_run_at.
func (s *Syncer) reschedule(ctx context.Context, p models.SyncProfile, fetched bool) {
	now := s.now()
	next, err := schedule.ForProfile(p, now)
	if err != nil {
		s.log.Warnf("profile %s: schedule: %v", p.ID, err)
		next = nil
	}
	if fetched {
		err = s.store.MarkProfileFetched(ctx, p.TenantID, p.ID, now, next)
	} else {
		err = s.store.SetProfileNextRun(ctx, p.TenantID, p.ID, next, now)
	}
	if err != nil {
		s.log.Errorf("profile %s: update schedule: %v", p.ID, err)
	}
}

func (s *Syncer) resolve(ctx context.Context, p models.SyncProfile) (*source.Resolved, error) {
	resolver, err := s.sources.For(p.SourceType)
	if err != nil {
		return nil, err
	}
	return resolver.Resolve(ctx, p.TenantID, p.SourceLocation)
}

func (s *Syncer) cleanup(res *source.Resolved) {
	if err := res.Cleanup(); err != nil {
		s.log.Warnf("remove temporary source %s: %v", res.Path, err)
	}
}

// matchStrategy is the strategy of the linked integration, or sku_or_ean.
func (s *Syncer) matchStrategy(ctx context.Context, p models.SyncProfile) (models.MatchStrategy, error) {
	if p.IntegrationID == nil {
		return models.MatchStrategySKUOrEAN, nil
	}
	integ, ok, err := s.store.GetIntegration(ctx, p.TenantID, *p.IntegrationID)
	if err != nil {
		return "", err
	}
	if !ok || integ.MatchStrategy == "" {
		return models.MatchStrategySKUOrEAN, nil
	}
	return integ.MatchStrategy, nil
}

// produce returns the number of records and rejects handed to chunks.
func (s *Syncer) produce(ctx context.Context, p models.SyncProfile, run models.Run) (int, error) {
	res, err := s.resolve(ctx, p)
	if err != nil {
		return 0, err
	}
	defer s.cleanup(res)

	prs, err := parser.New(p.Format)
	if err != nil {
		return 0, err
	}
	it, err := prs.Open(res.Path, parser.OptionsFrom(p.Options))
	if err != nil {
		return 0, err
	}
	defer it.Close()

	headers := it.Headers()
	if err := s.store.SetProfileHeaders(ctx, p.TenantID, p.ID, headers, s.now()); err != nil {
		return 0, err
	}
	set, err := s.compileMappings(ctx, p, headers)
	if err != nil {
		return 0, err
	}
	strategy, err := s.matchStrategy(ctx, p)
	if err != nil {
		return 0, err
	}

	size := p.ChunkSize
	if size <= 0 {
		size = store.DefaultChunkSize
	}
	template := ChunkPayload{
		TenantID:  p.TenantID,
		RunID:     run.ID,
		ProfileID: p.ID,
		Strategy:  strategy,
		Mappings:  set.Rules(),
	}
	var (
		batch      = make([]parser.Record, 0, size)
		rejected   []string
		dispatched int
		seq        int
	)
	flush := func() error {
		if len(batch) == 0 && len(rejected) == 0 {
			return nil
		}
		chunk := template
		chunk.ChunkID = uuid.NewString()
		chunk.Seq = seq
		chunk.Records = batch
		chunk.Rejected = rejected
		if err := s.enqueueChunk(ctx, chunk); err != nil {
			return err
		}
		seq++
		dispatched += len(batch) + len(rejected)
		batch = make([]parser.Record, 0, size)
		rejected = nil
		return nil
	}

	for {
		rec, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var recErr *parser.RecordError
		if errors.As(err, &recErr) {
			rejected = append(rejected, recErr.Error())
		} else if err != nil {
			return dispatched, err
		} else {
			batch = append(batch, rec)
		}
		if len(batch)+len(rejected) >= size {
			if err := flush(); err != nil {
				return dispatched, err
			}
		}
	}
	if err := flush(); err != nil {
		return dispatched, err
	}
	return dispatched, nil
}

func (s *Syncer) compileMappings(ctx context.Context, p models.SyncProfile, headers []string) (*mapping.Set, error) {
	stored, err := s.store.ListMappings(ctx, p.TenantID, p.ID)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: profile has no field mappings", models.ErrInvalidConfig)
	}
	rules := make([]models.MappingRule, 0, len(stored))
	for _, m := range stored {
		rules = append(rules, m.MappingRule)
	}
	set, err := mapping.Compile(rules)
	if err != nil {
		return nil, err
	}
	if err := set.CheckHeaders(headers); err != nil {
		return nil, err
	}
	return set, nil
}

// enqueueChunk reserves the chunk's pending token before the task exists.
func (s *Syncer) enqueueChunk(ctx context.Context, chunk ChunkPayload) error {
	if _, err := s.tracker.MarkQueued(ctx, chunk.TenantID, chunk.RunID, 1); err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, TaskProfileChunk, chunk); err != nil {
		return fmt.Errorf("enqueue chunk %d: %w", chunk.Seq, err)
	}
	return nil
}

// ProcessChunk reconciles the chunk's records in order and applies the
// aggregated result to the run. Per-record problems become failures; the
// chunk's token is released in every case.
func (s *Syncer) ProcessChunk(ctx context.Context, p ChunkPayload) (models.Run, error) {
	var res runs.ChunkResult
	for _, msg := range p.Rejected {
		res.Processed++
		res.Failure++
		res.Error("%s", msg)
	}

	set, err := mapping.Compile(p.Mappings)
	if err != nil {
		for _, rec := range p.Records {
			res.Processed++
			res.Failure++
			res.Error("record %d: %v", rec.Index+1, err)
		}
		return s.tracker.ApplyChunk(ctx, p.TenantID, p.RunID, res)
	}

	m := reconcile.Matcher{Strategy: p.Strategy, Missing: models.MissingBehaviorCreate}
	for _, rec := range p.Records {
		out := s.catalog.Record(ctx, p.TenantID, m, set, rec)
		res.Processed++
		switch out.Outcome {
		case reconcile.Created, reconcile.Updated:
			res.Success++
			res.Sample("record %d: %s %s", rec.Index+1, out.Outcome, out.ID)
		case reconcile.Failed:
			res.Failure++
			res.Error("record %d: %s", rec.Index+1, out.Reason)
		default:
			res.Skipped++
		}
	}

	run, err := s.tracker.ApplyChunk(ctx, p.TenantID, p.RunID, res)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Warnf("chunk %s: run %s no longer exists", p.ChunkID, p.RunID)
		return models.Run{}, nil
	}
	return run, err
}

// RefreshHeaders reads the source's header row and stores it as the
// profile's last known headers.
func (s *Syncer) RefreshHeaders(ctx context.Context, tenantID, profileID string) ([]string, error) {
	p, err := s.profile(ctx, tenantID, profileID)
	if err != nil {
		return nil, err
	}
	res, err := s.resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	defer s.cleanup(res)

	prs, err := parser.New(p.Format)
	if err != nil {
		return nil, err
	}
	headers, err := prs.DetectHeaders(res.Path, parser.OptionsFrom(p.Options))
	if err != nil {
		return nil, err
	}
	if err := s.store.SetProfileHeaders(ctx, tenantID, profileID, headers, s.now()); err != nil {
		return nil, err
	}
	return headers, nil
}

// SyncMappings replaces the profile's mappings after checking every source
// field against the last known headers.
func (s *Syncer) SyncMappings(ctx context.Context, tenantID, profileID string, rules []models.MappingRule) ([]models.FieldMapping, error) {
	p, err := s.profile(ctx, tenantID, profileID)
	if err != nil {
		return nil, err
	}
	set, err := mapping.Compile(rules)
	if err != nil {
		return nil, err
	}
	if err := set.CheckHeaders(p.LastHeaders); err != nil {
		return nil, err
	}
	return s.store.ReplaceMappings(ctx, tenantID, profileID, set.Rules())
}
