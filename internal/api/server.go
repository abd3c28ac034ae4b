package api

import (
	"context"

	"shopsync/internal/config"
	"shopsync/internal/metrics"
	"shopsync/internal/runs"
	"shopsync/internal/store"
	"shopsync/internal/syncer"
	"shopsync/internal/tasks"
	"shopsync/internal/ws"
)

type server struct {
	cfg        config.Config
	store      *store.Store
	syncer     *syncer.Syncer
	tracker    *runs.Tracker
	tasks      *tasks.Manager
	hub        *ws.Hub
	metrics    *metrics.Metrics
	serverAddr string
	syncLimit  *requestLimiter
}

type contextKey string

const tenantIDKey contextKey = "tenant_id"

func tenantFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}
