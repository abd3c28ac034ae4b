package store

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"shopsync/internal/models"
)

func (s *Store) ListMappings(ctx context.Context, tenantID, profileID string) ([]models.FieldMapping, error) {
	var rows []fieldMappingRow
	if err := s.db.WithContext(ctx).
		Where("profile_id = ? AND profile_id IN (SELECT id FROM sync_profiles WHERE tenant_id = ?)", profileID, tenantID).
		Order("position ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.FieldMapping, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.FieldMapping{
			ID:        row.ID,
			ProfileID: row.ProfileID,
			MappingRule: models.MappingRule{
				TargetType:  models.TargetType(row.TargetType),
				SourceField: row.SourceField,
				TargetField: row.TargetField,
				Transform:   row.Transform,
			},
		})
	}
	return out, nil
}

// ReplaceMappings deletes every mapping of the profile and writes rules in
// their place, in one transaction. Callers validate rules first.
func (s *Store) ReplaceMappings(ctx context.Context, tenantID, profileID string, rules []models.MappingRule) ([]models.FieldMapping, error) {
	out := make([]models.FieldMapping, 0, len(rules))
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&profileRow{}).
			Where("id = ? AND tenant_id = ?", profileID, tenantID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		if err := tx.Where("profile_id = ?", profileID).Delete(&fieldMappingRow{}).Error; err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(rules))
		for i, rule := range rules {
			key := string(rule.TargetType) + "\x00" + strings.ToLower(strings.TrimSpace(rule.SourceField))
			if _, dup := seen[key]; dup {
				return invalidf("duplicate mapping for %s source field %q", rule.TargetType, rule.SourceField)
			}
			seen[key] = struct{}{}

			row := fieldMappingRow{
				ID:          newID(),
				ProfileID:   profileID,
				TargetType:  string(rule.TargetType),
				SourceField: strings.TrimSpace(rule.SourceField),
				TargetField: strings.TrimSpace(rule.TargetField),
				Transform:   strings.TrimSpace(rule.Transform),
				Position:    i,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			out = append(out, models.FieldMapping{
				ID:        row.ID,
				ProfileID: profileID,
				MappingRule: models.MappingRule{
					TargetType:  rule.TargetType,
					SourceField: row.SourceField,
					TargetField: row.TargetField,
					Transform:   row.Transform,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
