package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"shopsync/internal/models"
)

type RunFilter struct {
	ProfileID     *string
	IntegrationID *string
	Kind          *models.RunKind
	Status        *models.RunStatus
	Limit         int
	Cursor        *string
}

func runFromRow(row runRow) models.Run {
	out := models.Run{
		ID:            row.ID,
		TenantID:      row.TenantID,
		Kind:          models.RunKind(row.Kind),
		ProfileID:     row.ProfileID,
		IntegrationID: row.IntegrationID,
		Status:        models.RunStatus(row.Status),
		Processed:     row.Processed,
		Success:       row.Success,
		Failure:       row.Failure,
		Skipped:       row.Skipped,
		PendingChunks: row.PendingChunks,
		Samples:       []string(row.Samples),
		Errors:        []string(row.Errors),
		Message:       row.Message,
		StartedAt:     parseTimePtr(row.StartedAt),
		FinishedAt:    parseTimePtr(row.FinishedAt),
		CreatedAt:     parseTime(row.CreatedAt),
	}
	if out.Samples == nil {
		out.Samples = []string{}
	}
	if out.Errors == nil {
		out.Errors = []string{}
	}
	return out
}

func runUpdates(run models.Run) map[string]any {
	samples := run.Samples
	if samples == nil {
		samples = []string{}
	}
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	return map[string]any{
		"status":         string(run.Status),
		"processed":      run.Processed,
		"success":        run.Success,
		"failure":        run.Failure,
		"skipped":        run.Skipped,
		"pending_chunks": run.PendingChunks,
		"samples_json":   datatypes.JSONSlice[string](samples),
		"errors_json":    datatypes.JSONSlice[string](errs),
		"message":        run.Message,
		"started_at":     formatTimePtr(run.StartedAt),
		"finished_at":    formatTimePtr(run.FinishedAt),
	}
}

// CreateRun persists a new run. ID and CreatedAt are assigned here.
func (s *Store) CreateRun(ctx context.Context, run models.Run, now time.Time) (models.Run, error) {
	run.ID = newID()
	run.CreatedAt = now.UTC()
	if run.Samples == nil {
		run.Samples = []string{}
	}
	if run.Errors == nil {
		run.Errors = []string{}
	}
	row := runRow{
		ID:            run.ID,
		TenantID:      run.TenantID,
		Kind:          string(run.Kind),
		ProfileID:     run.ProfileID,
		IntegrationID: run.IntegrationID,
		Status:        string(run.Status),
		Processed:     run.Processed,
		Success:       run.Success,
		Failure:       run.Failure,
		Skipped:       run.Skipped,
		PendingChunks: run.PendingChunks,
		Samples:       datatypes.JSONSlice[string](run.Samples),
		Errors:        datatypes.JSONSlice[string](run.Errors),
		Message:       run.Message,
		StartedAt:     formatTimePtr(run.StartedAt),
		FinishedAt:    formatTimePtr(run.FinishedAt),
		CreatedAt:     formatTime(now),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Run{}, err
	}
	return runFromRow(row), nil
}

func (s *Store) GetRun(ctx context.Context, tenantID, runID string) (models.Run, bool, error) {
	var row runRow
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", runID, tenantID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Run{}, false, nil
	}
	if err != nil {
		return models.Run{}, false, err
	}
	return runFromRow(row), true, nil
}

func (s *Store) ListRuns(ctx context.Context, tenantID string, f RunFilter) (models.RunsListResponse, error) {
	limit := clampLimit(f.Limit, 50, 200)

	query := s.db.WithContext(ctx).
		Model(&runRow{}).
		Where("tenant_id = ?", tenantID)
	if f.ProfileID != nil {
		query = query.Where("profile_id = ?", *f.ProfileID)
	}
	if f.IntegrationID != nil {
		query = query.Where("integration_id = ?", *f.IntegrationID)
	}
	if f.Kind != nil {
		query = query.Where("kind = ?", string(*f.Kind))
	}
	if f.Status != nil {
		query = query.Where("status = ?", string(*f.Status))
	}
	if f.Cursor != nil && *f.Cursor != "" {
		query = query.Where("id < ?", *f.Cursor)
	}

	var rows []runRow
	if err := query.
		Order("id DESC").
		Limit(limit + 1).
		Find(&rows).Error; err != nil {
		return models.RunsListResponse{}, err
	}

	resp := models.RunsListResponse{Items: make([]models.Run, 0, len(rows))}
	for i, row := range rows {
		if i == limit {
			last := resp.Items[len(resp.Items)-1].ID
			resp.NextCursor = &last
			break
		}
		resp.Items = append(resp.Items, runFromRow(row))
	}
	return resp, nil
}

// UpdateRunLocked is the read-modify-write primitive for run rows. The
// transaction writes the row before reading it: on postgres that takes the
// row lock, on sqlite it takes the database write lock. Concurrent callers on
// the same run are therefore serialized and never lose an update.
func (s *Store) UpdateRunLocked(ctx context.Context, tenantID, runID string, fn func(run *models.Run) error) (models.Run, error) {
	var out models.Run
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&runRow{}).
			Where("id = ? AND tenant_id = ?", runID, tenantID).
			UpdateColumn("lock_version", gorm.Expr("lock_version + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		var row runRow
		if err := s.forUpdate(tx).
			Where("id = ?", runID).
			Take(&row).Error; err != nil {
			return err
		}
		run := runFromRow(row)
		if err := fn(&run); err != nil {
			return err
		}
		if err := tx.Model(&runRow{}).
			Where("id = ?", runID).
			Updates(runUpdates(run)).Error; err != nil {
			return err
		}
		out = run
		return nil
	})
	if err != nil {
		return models.Run{}, err
	}
	return out, nil
}

// DeleteFinishedRunsBefore prunes old terminal runs.
func (s *Store) DeleteFinishedRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("finished_at IS NOT NULL AND finished_at < ?", formatTime(before)).
		Delete(&runRow{})
	return res.RowsAffected, res.Error
}
