package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"shopsync/internal/config"
	"shopsync/internal/metrics"
	"shopsync/internal/runs"
	"shopsync/internal/store"
	"shopsync/internal/syncer"
	"shopsync/internal/tasks"
	"shopsync/internal/ws"
)

type Dependencies struct {
	Config     config.Config
	Store      *store.Store
	Syncer     *syncer.Syncer
	Tracker    *runs.Tracker
	Tasks      *tasks.Manager
	Hub        *ws.Hub
	Metrics    *metrics.Metrics
	ServerAddr string
}

func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(securityHeaders)

	api := &server{
		cfg:        dep.Config,
		store:      dep.Store,
		syncer:     dep.Syncer,
		tracker:    dep.Tracker,
		tasks:      dep.Tasks,
		hub:        dep.Hub,
		metrics:    dep.Metrics,
		serverAddr: dep.ServerAddr,
		syncLimit:  newRequestLimiter(dep.Config.SyncMaxConcurrentRequests),
	}
	r.Use(api.observeRequests)

	apiRouter := chi.NewRouter()
	apiRouter.Use(api.restrictClients)
	apiRouter.Use(api.requireAPIToken)
	apiRouter.Use(api.requireTenant)

	apiRouter.Get("/ws", api.handleWS)
	apiRouter.Get("/events", api.handleEventsSSE)
	apiRouter.Get("/meta", api.handleGetMeta)

	apiRouter.Route("/profiles", func(r chi.Router) {
		r.Get("/", api.handleListProfiles)
		r.Post("/", api.handleCreateProfile)
		r.Post("/import", api.handleImportProfile)
		r.Route("/{profileId}", func(r chi.Router) {
			r.Get("/", api.handleGetProfile)
			r.Patch("/", api.handleUpdateProfile)
			r.Delete("/", api.handleDeleteProfile)
			r.Get("/export", api.handleExportProfile)
			r.Get("/mappings", api.handleListMappings)
			r.Put("/mappings", api.handleReplaceMappings)
			r.Post("/headers/refresh", api.handleRefreshHeaders)
			r.Post("/run", api.handleRunProfile)
			r.Get("/runs", api.handleListProfileRuns)
		})
	})

	apiRouter.Route("/runs", func(r chi.Router) {
		r.Get("/", api.handleListRuns)
		r.Get("/{runId}", api.handleGetRun)
	})

	apiRouter.Route("/integrations", func(r chi.Router) {
		r.Get("/", api.handleListIntegrations)
		r.Post("/", api.handleCreateIntegration)
		r.Route("/{integrationId}", func(r chi.Router) {
			r.Get("/", api.handleGetIntegration)
			r.Patch("/", api.handleUpdateIntegration)
			r.Delete("/", api.handleDeleteIntegration)
			r.Post("/orders/import", api.handleImportOrders)
			r.Post("/inventory/sync", api.handleSyncInventory)
			r.Post("/availability/sync", api.handleSyncAvailability)
			r.Post("/links/match", api.handleMatchLinks)
			r.Put("/links/{productId}", api.handleSetManualLink)
		})
	})

	r.Mount("/api/v1", apiRouter)

	r.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		specPath, ok := findOpenAPISpecPath()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		http.ServeFile(w, r, specPath)
	})
	r.Get("/docs", serveOpenAPIDocs)
	r.Get("/healthz", api.handleHealthz)
	r.Get("/readyz", api.handleReadyz)
	r.Get("/metrics", api.handleMetrics)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("shopsync is running\n\nAPI: /api/v1  docs: /docs\n"))
	})

	return r
}

func findOpenAPISpecPath() (path string, ok bool) {
	candidates := []string{}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates, filepath.Join(exeDir, "openapi.yml"))
	}

	candidates = append(candidates,
		"openapi.yml",
		filepath.Join("dist", "openapi.yml"),
		filepath.Join("..", "openapi.yml"),
		filepath.Join("..", "..", "openapi.yml"),
	)

	for _, p := range candidates {
		if fileExists(p) {
			return p, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
