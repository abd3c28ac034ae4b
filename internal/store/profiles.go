package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"shopsync/internal/models"
	"shopsync/internal/parser"
	"shopsync/internal/schedule"
)

const (
	DefaultChunkSize = 100
	maxChunkSize     = 5000
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func profileFromRow(row profileRow) models.SyncProfile {
	out := models.SyncProfile{
		ID:             row.ID,
		TenantID:       row.TenantID,
		IntegrationID:  row.IntegrationID,
		Name:           row.Name,
		Format:         models.SourceFormat(row.Format),
		SourceType:     models.SourceType(row.SourceType),
		SourceLocation: row.SourceLocation,
		Options: models.ParseOptions{
			Delimiter:  row.Delimiter,
			HasHeader:  row.HasHeader,
			RecordPath: row.RecordPath,
			Encoding:   row.Encoding,
		},
		Active: row.Active,
		Schedule: models.Schedule{
			Mode:            models.FetchMode(row.FetchMode),
			IntervalMinutes: row.IntervalMinutes,
			DailyTime:       row.DailyTime,
			Timezone:        row.Timezone,
			CronExpression:  row.CronExpression,
		},
		ChunkSize:     row.ChunkSize,
		NextRunAt:     parseTimePtr(row.NextRunAt),
		LastFetchedAt: parseTimePtr(row.LastFetchedAt),
		LastHeaders:   []string(row.LastHeaders),
		CreatedAt:     parseTime(row.CreatedAt),
		UpdatedAt:     parseTime(row.UpdatedAt),
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = DefaultChunkSize
	}
	return out
}

func applyProfileToRow(row *profileRow, p models.SyncProfile) {
	row.IntegrationID = p.IntegrationID
	row.Name = p.Name
	row.Format = string(p.Format)
	row.SourceType = string(p.SourceType)
	row.SourceLocation = p.SourceLocation
	row.Delimiter = p.Options.Delimiter
	row.HasHeader = p.Options.HasHeader
	row.RecordPath = p.Options.RecordPath
	row.Encoding = p.Options.Encoding
	row.Active = p.Active
	row.FetchMode = string(p.Schedule.Mode)
	row.IntervalMinutes = p.Schedule.IntervalMinutes
	row.DailyTime = p.Schedule.DailyTime
	row.Timezone = p.Schedule.Timezone
	row.CronExpression = p.Schedule.CronExpression
	row.ChunkSize = p.ChunkSize
	row.NextRunAt = formatTimePtr(p.NextRunAt)
}

// normalizeProfile validates a profile before it is written and recomputes
// next_run_at from its schedule.
func normalizeProfile(p *models.SyncProfile, now time.Time) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return invalidf("name is required")
	}
	p.Format = models.SourceFormat(strings.ToLower(strings.TrimSpace(string(p.Format))))
	switch p.Format {
	case models.SourceFormatCSV, models.SourceFormatXML:
	default:
		return invalidf("unsupported format %q", p.Format)
	}
	p.SourceType = models.SourceType(strings.ToLower(strings.TrimSpace(string(p.SourceType))))
	switch p.SourceType {
	case models.SourceTypeFile, models.SourceTypeURL:
	default:
		return invalidf("unsupported source type %q", p.SourceType)
	}
	p.SourceLocation = strings.TrimSpace(p.SourceLocation)
	if p.SourceLocation == "" {
		return invalidf("source location is required")
	}
	if p.SourceType == models.SourceTypeURL {
		lower := strings.ToLower(p.SourceLocation)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			return invalidf("url source must be http or https")
		}
	}
	if p.Format == models.SourceFormatXML {
		p.Options.Delimiter = ""
	} else {
		p.Options.RecordPath = ""
	}
	p.Options.Encoding = strings.ToLower(strings.TrimSpace(p.Options.Encoding))
	if err := parser.ValidateOptions(p.Format, parser.OptionsFrom(p.Options)); err != nil {
		return err
	}
	p.IntegrationID = trimPtr(p.IntegrationID)
	if p.ChunkSize <= 0 {
		p.ChunkSize = DefaultChunkSize
	}
	if p.ChunkSize > maxChunkSize {
		return invalidf("chunk size must be at most %d", maxChunkSize)
	}

	p.Schedule = schedule.Normalize(p.Schedule)
	if err := schedule.Validate(p.Schedule); err != nil {
		return err
	}
	next, err := schedule.ForProfile(*p, now)
	if err != nil {
		return err
	}
	p.NextRunAt = next
	return nil
}

func (s *Store) CreateProfile(ctx context.Context, tenantID string, req models.ProfileCreateRequest, now time.Time) (models.SyncProfile, error) {
	p := models.SyncProfile{
		TenantID:       tenantID,
		IntegrationID:  req.IntegrationID,
		Name:           req.Name,
		Format:         req.Format,
		SourceType:     req.SourceType,
		SourceLocation: req.SourceLocation,
		Options:        models.ParseOptions{HasHeader: true},
		Active:         true,
		Schedule:       req.Schedule,
		ChunkSize:      req.ChunkSize,
	}
	if req.Options != nil {
		p.Options = *req.Options
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
	if err := normalizeProfile(&p, now); err != nil {
		return models.SyncProfile{}, err
	}
	if p.IntegrationID != nil {
		if _, ok, err := s.GetIntegration(ctx, tenantID, *p.IntegrationID); err != nil {
			return models.SyncProfile{}, err
		} else if !ok {
			return models.SyncProfile{}, invalidf("integration %q not found", *p.IntegrationID)
		}
	}

	ts := formatTime(now)
	row := profileRow{
		ID:          newID(),
		TenantID:    tenantID,
		LastHeaders: datatypes.JSONSlice[string]{},
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	applyProfileToRow(&row, p)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.SyncProfile{}, err
	}
	return profileFromRow(row), nil
}

func (s *Store) GetProfile(ctx context.Context, tenantID, profileID string) (models.SyncProfile, bool, error) {
	var row profileRow
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", profileID, tenantID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.SyncProfile{}, false, nil
	}
	if err != nil {
		return models.SyncProfile{}, false, err
	}
	return profileFromRow(row), true, nil
}

func (s *Store) ListProfiles(ctx context.Context, tenantID string) ([]models.SyncProfile, error) {
	var rows []profileRow
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("name ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.SyncProfile, 0, len(rows))
	for _, row := range rows {
		out = append(out, profileFromRow(row))
	}
	return out, nil
}

// UpdateProfile applies a partial update and recomputes next_run_at.
func (s *Store) UpdateProfile(ctx context.Context, tenantID, profileID string, req models.ProfileUpdateRequest, now time.Time) (models.SyncProfile, bool, error) {
	var out models.SyncProfile
	found := true
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var row profileRow
		err := s.forUpdate(tx).
			Where("id = ? AND tenant_id = ?", profileID, tenantID).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}

		p := profileFromRow(row)
		if req.Name != nil {
			p.Name = *req.Name
		}
		if req.Format != nil {
			p.Format = *req.Format
		}
		if req.SourceType != nil {
			p.SourceType = *req.SourceType
		}
		if req.SourceLocation != nil {
			p.SourceLocation = *req.SourceLocation
		}
		if req.Options != nil {
			p.Options = *req.Options
		}
		if req.Active != nil {
			p.Active = *req.Active
		}
		if req.Schedule != nil {
			p.Schedule = *req.Schedule
		}
		if req.ChunkSize != nil {
			p.ChunkSize = *req.ChunkSize
		}
		if err := normalizeProfile(&p, now); err != nil {
			return err
		}

		applyProfileToRow(&row, p)
		row.UpdatedAt = formatTime(now)
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = profileFromRow(row)
		return nil
	})
	if err != nil {
		return models.SyncProfile{}, false, err
	}
	return out, found, nil
}

// DeleteProfile removes the profile; mappings and runs cascade.
func (s *Store) DeleteProfile(ctx context.Context, tenantID, profileID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", profileID, tenantID).
		Delete(&profileRow{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListDueProfiles returns active profiles across all tenants whose next run
// is at or before now, oldest first.
func (s *Store) ListDueProfiles(ctx context.Context, now time.Time, limit int) ([]models.SyncProfile, error) {
	limit = clampLimit(limit, 100, 1000)
	var rows []profileRow
	if err := s.db.WithContext(ctx).
		Where("active = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, formatTime(now)).
		Order("next_run_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.SyncProfile, 0, len(rows))
	for _, row := range rows {
		out = append(out, profileFromRow(row))
	}
	return out, nil
}

func (s *Store) SetProfileNextRun(ctx context.Context, tenantID, profileID string, next *time.Time, now time.Time) error {
	return s.db.WithContext(ctx).
		Model(&profileRow{}).
		Where("id = ? AND tenant_id = ?", profileID, tenantID).
		Updates(map[string]any{
			"next_run_at": formatTimePtr(next),
			"updated_at":  formatTime(now),
		}).Error
}

// ClaimProfileRun moves next_run_at forward only if it still holds the value
// the caller observed, so two dispatchers cannot both enqueue the same tick.
func (s *Store) ClaimProfileRun(ctx context.Context, tenantID, profileID string, observed, next *time.Time, now time.Time) (bool, error) {
	query := s.db.WithContext(ctx).
		Model(&profileRow{}).
		Where("id = ? AND tenant_id = ? AND active = ?", profileID, tenantID, true)
	if observed == nil {
		query = query.Where("next_run_at IS NULL")
	} else {
		query = query.Where("next_run_at = ?", formatTime(*observed))
	}
	res := query.Updates(map[string]any{
		"next_run_at": formatTimePtr(next),
		"updated_at":  formatTime(now),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) SetProfileHeaders(ctx context.Context, tenantID, profileID string, headers []string, now time.Time) error {
	if headers == nil {
		headers = []string{}
	}
	return s.db.WithContext(ctx).
		Model(&profileRow{}).
		Where("id = ? AND tenant_id = ?", profileID, tenantID).
		Updates(map[string]any{
			"last_headers_json": datatypes.JSONSlice[string](headers),
			"updated_at":        formatTime(now),
		}).Error
}

// MarkProfileFetched stamps last_fetched_at and stores the recomputed next run.
func (s *Store) MarkProfileFetched(ctx context.Context, tenantID, profileID string, fetchedAt time.Time, next *time.Time) error {
	return s.db.WithContext(ctx).
		Model(&profileRow{}).
		Where("id = ? AND tenant_id = ?", profileID, tenantID).
		Updates(map[string]any{
			"last_fetched_at": formatTime(fetchedAt),
			"next_run_at":     formatTimePtr(next),
			"updated_at":      formatTime(fetchedAt),
		}).Error
}
