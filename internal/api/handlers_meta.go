package api

import (
	"net/http"

	"shopsync/internal/models"
	"shopsync/internal/version"
)

func (s *server) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	var taskRetentionSeconds *int64
	if s.cfg.TaskRetention > 0 {
		v := int64(s.cfg.TaskRetention.Seconds())
		taskRetentionSeconds = &v
	}
	resp := models.MetaResponse{
		Version:                  version.Version,
		ServerAddr:               s.serverAddr,
		DataDir:                  s.cfg.DataDir,
		DBBackend:                s.cfg.DBBackend,
		APITokenEnabled:          s.cfg.APIToken != "",
		SchedulerEnabled:         s.cfg.SchedulerEnabled,
		SchedulerIntervalSeconds: int64(s.cfg.SchedulerInterval.Seconds()),
		TaskConcurrency:          s.cfg.TaskConcurrency,
		TaskMaxAttempts:          s.cfg.TaskMaxAttempts,
		TaskRetentionSeconds:     taskRetentionSeconds,
	}
	if s.tasks != nil {
		stats := s.tasks.QueueStats()
		resp.Queue = models.QueueInfo{Depth: stats.Depth, Capacity: stats.Capacity}
	}
	writeJSON(w, http.StatusOK, resp)
}
