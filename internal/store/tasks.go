package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"shopsync/internal/models"
)

func taskFromRow(row taskRow) models.Task {
	return models.Task{
		ID:          row.ID,
		Name:        row.Name,
		Payload:     []byte(row.PayloadJSON),
		Status:      models.TaskStatus(row.Status),
		Attempts:    row.Attempts,
		MaxAttempts: row.MaxAttempts,
		LastError:   row.LastError,
		ErrorCode:   row.ErrorCode,
		AvailableAt: parseTime(row.AvailableAt),
		CreatedAt:   parseTime(row.CreatedAt),
		StartedAt:   parseTimePtr(row.StartedAt),
		FinishedAt:  parseTimePtr(row.FinishedAt),
	}
}

func (s *Store) CreateTask(ctx context.Context, name string, payload []byte, maxAttempts int, now time.Time) (models.Task, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	ts := formatTime(now)
	row := taskRow{
		ID:          newID(),
		Name:        name,
		PayloadJSON: string(payload),
		Status:      string(models.TaskStatusQueued),
		MaxAttempts: maxAttempts,
		AvailableAt: ts,
		CreatedAt:   ts,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Task{}, err
	}
	return taskFromRow(row), nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (models.Task, bool, error) {
	var row taskRow
	err := s.db.WithContext(ctx).Where("id = ?", taskID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Task{}, false, nil
	}
	if err != nil {
		return models.Task{}, false, err
	}
	return taskFromRow(row), true, nil
}

// ClaimTask moves a queued task to running and counts the attempt. It returns
// false when another worker already claimed it or it is not yet available.
func (s *Store) ClaimTask(ctx context.Context, taskID string, now time.Time) (models.Task, bool, error) {
	res := s.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("id = ? AND status = ? AND available_at <= ?", taskID, string(models.TaskStatusQueued), formatTime(now)).
		Updates(map[string]any{
			"status":      string(models.TaskStatusRunning),
			"attempts":    gorm.Expr("attempts + 1"),
			"started_at":  formatTime(now),
			"finished_at": nil,
		})
	if res.Error != nil {
		return models.Task{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return models.Task{}, false, nil
	}
	task, ok, err := s.GetTask(ctx, taskID)
	if err != nil || !ok {
		return models.Task{}, false, err
	}
	return task, true, nil
}

func (s *Store) CompleteTask(ctx context.Context, taskID string, now time.Time) error {
	return s.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("id = ?", taskID).
		Updates(map[string]any{
			"status":      string(models.TaskStatusSucceeded),
			"last_error":  nil,
			"error_code":  nil,
			"finished_at": formatTime(now),
		}).Error
}

// RetryTask puts a task back in the queue, available again at availableAt.
func (s *Store) RetryTask(ctx context.Context, taskID, errMsg, errCode string, availableAt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("id = ?", taskID).
		Updates(map[string]any{
			"status":       string(models.TaskStatusQueued),
			"last_error":   errMsg,
			"error_code":   errCode,
			"available_at": formatTime(availableAt),
		}).Error
}

func (s *Store) FailTask(ctx context.Context, taskID, errMsg, errCode string, now time.Time) error {
	return s.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("id = ?", taskID).
		Updates(map[string]any{
			"status":      string(models.TaskStatusFailed),
			"last_error":  errMsg,
			"error_code":  errCode,
			"finished_at": formatTime(now),
		}).Error
}

// ListDueTaskIDs returns queued tasks whose available_at has passed.
func (s *Store) ListDueTaskIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	limit = clampLimit(limit, 100, 1000)
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("status = ? AND available_at <= ?", string(models.TaskStatusQueued), formatTime(now)).
		Order("available_at ASC, id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ResetRunningTasks requeues tasks left running by a previous process.
func (s *Store) ResetRunningTasks(ctx context.Context, now time.Time) (int64, error) {
	return s.exec(ctx,
		`UPDATE tasks SET status = ?, available_at = ?, started_at = NULL WHERE status = ?`,
		string(models.TaskStatusQueued), formatTime(now), string(models.TaskStatusRunning),
	)
}

// DeleteFinishedTasksBefore removes succeeded and failed tasks finished
// before the cutoff.
func (s *Store) DeleteFinishedTasksBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND finished_at IS NOT NULL AND finished_at < ?",
			[]string{string(models.TaskStatusSucceeded), string(models.TaskStatusFailed)},
			formatTime(before)).
		Delete(&taskRow{})
	return res.RowsAffected, res.Error
}

func (s *Store) CountTasksByStatus(ctx context.Context, status models.TaskStatus) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("status = ?", string(status)).
		Count(&count).Error
	return count, err
}
