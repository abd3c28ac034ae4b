// Package syncer drives every sync: it dispatches due profiles and
// integrations, produces chunked profile imports and runs the integration
// syncs inline with a run of their own.
package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"shopsync/internal/logging"
	"shopsync/internal/metrics"
	"shopsync/internal/models"
	"shopsync/internal/parser"
	"shopsync/internal/reconcile"
	"shopsync/internal/remote"
	"shopsync/internal/runs"
	"shopsync/internal/source"
	"shopsync/internal/store"
	"shopsync/internal/tasks"
)

const (
	TaskProfileImport    = "profile.import"
	TaskProfileChunk     = "profile.chunk"
	TaskOrdersImport     = "orders.import"
	TaskInventorySync    = "inventory.sync"
	TaskAvailabilitySync = "availability.sync"
	TaskLinksMatch       = "links.match"
)

const (
	DefaultDispatchInterval = time.Minute
	// orders placed shortly before the last sync are listed again
	orderWindowOverlap = 5 * time.Minute
	dueBatchSize       = 100
	schedulerLockName  = "scheduler"
)

// Queue is the part of the task manager the orchestrator needs.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload any) (models.Task, error)
	Register(name string, h tasks.Handler)
}

type ProfileImportPayload struct {
	TenantID  string `json:"tenantId"`
	ProfileID string `json:"profileId"`
	// RunID is set when the run was created up front by an API call.
	RunID string `json:"runId,omitempty"`
}

// ChunkPayload carries everything a chunk needs, so chunks share no state
// beyond the run row.
type ChunkPayload struct {
	TenantID  string               `json:"tenantId"`
	RunID     string               `json:"runId"`
	ProfileID string               `json:"profileId"`
	ChunkID   string               `json:"chunkId"`
	Seq       int                  `json:"seq"`
	Strategy  models.MatchStrategy `json:"strategy"`
	Mappings  []models.MappingRule `json:"mappings"`
	Records   []parser.Record      `json:"records"`
	// Rejected holds records the parser could not read; each counts as a failure.
	Rejected []string `json:"rejected,omitempty"`
}

type IntegrationPayload struct {
	TenantID      string `json:"tenantId"`
	IntegrationID string `json:"integrationId"`
}

type Config struct {
	Store   *store.Store
	Tracker *runs.Tracker
	Queue   Queue
	Sources source.Factory
	Drivers remote.Factory
	Metrics *metrics.Metrics
	// DataDir holds the scheduler lock.
	DataDir string
}

type Syncer struct {
	store   *store.Store
	tracker *runs.Tracker
	queue   Queue
	sources source.Factory
	drivers remote.Factory
	metrics *metrics.Metrics
	dataDir string

	catalog      *reconcile.Catalog
	orders       *reconcile.OrderImporter
	links        *reconcile.LinkMatcher
	availability *reconcile.AvailabilitySyncer
	inventory    *reconcile.InventorySyncer

	log *logging.Logger
	now func() time.Time

	// last automatic dispatch per integration and task, so a slow sync is
	// not enqueued again on every tick
	dispatchMu   sync.Mutex
	lastDispatch map[string]time.Time
}

func New(cfg Config) *Syncer {
	return &Syncer{
		store:        cfg.Store,
		tracker:      cfg.Tracker,
		queue:        cfg.Queue,
		sources:      cfg.Sources,
		drivers:      cfg.Drivers,
		metrics:      cfg.Metrics,
		dataDir:      cfg.DataDir,
		catalog:      reconcile.NewCatalog(cfg.Store),
		orders:       reconcile.NewOrderImporter(cfg.Store),
		links:        reconcile.NewLinkMatcher(cfg.Store),
		availability: reconcile.NewAvailabilitySyncer(cfg.Store),
		inventory:    reconcile.NewInventorySyncer(cfg.Store),
		log:          logging.Default().With("syncer"),
		now:          func() time.Time { return time.Now().UTC() },
		lastDispatch: make(map[string]time.Time),
	}
}

// Register installs the task handlers on q.
func (s *Syncer) Register(q Queue) {
	q.Register(TaskProfileImport, s.handleProfileImport)
	q.Register(TaskProfileChunk, s.handleChunk)
	q.Register(TaskOrdersImport, s.handleIntegration(models.RunKindOrderImport))
	q.Register(TaskInventorySync, s.handleIntegration(models.RunKindInventorySync))
	q.Register(TaskAvailabilitySync, s.handleIntegration(models.RunKindAvailabilitySync))
	q.Register(TaskLinksMatch, s.handleIntegration(models.RunKindLinkMatch))
}

func decode(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return tasks.Permanent(tasks.ErrorCodeInvalidPayload, err)
	}
	return nil
}

func (s *Syncer) handleProfileImport(ctx context.Context, raw json.RawMessage) error {
	var p ProfileImportPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	run, err := s.importProfile(ctx, p)
	if err != nil && run.ID != "" && run.Status == models.RunStatusFailed {
		// The failure is on the run; the next scheduled tick tries again.
		return nil
	}
	return err
}

func (s *Syncer) handleChunk(ctx context.Context, raw json.RawMessage) error {
	var p ChunkPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	_, err := s.ProcessChunk(ctx, p)
	return err
}

func (s *Syncer) handleIntegration(kind models.RunKind) tasks.Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var p IntegrationPayload
		if err := decode(raw, &p); err != nil {
			return err
		}
		var err error
		switch kind {
		case models.RunKindOrderImport:
			_, _, err = s.ImportOrders(ctx, p.TenantID, p.IntegrationID, reconcile.ImportOptions{})
		case models.RunKindInventorySync:
			_, _, err = s.SyncIntegrationInventory(ctx, p.TenantID, p.IntegrationID, reconcile.InventoryOptions{})
		case models.RunKindAvailabilitySync:
			_, _, err = s.SyncSupplierAvailability(ctx, p.TenantID, p.IntegrationID, reconcile.AvailabilityOptions{})
		case models.RunKindLinkMatch:
			_, _, err = s.AutoMatchLinks(ctx, p.TenantID, p.IntegrationID, reconcile.LinkOptions{})
		}
		return err
	}
}
