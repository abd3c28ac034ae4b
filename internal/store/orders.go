package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"shopsync/internal/models"
)

func orderFromRow(row orderRow) models.Order {
	items := []models.OrderItem(row.Items)
	if items == nil {
		items = []models.OrderItem{}
	}
	addrs := []models.OrderAddress(row.Addresses)
	if addrs == nil {
		addrs = []models.OrderAddress{}
	}
	return models.Order{
		ID:              row.ID,
		TenantID:        row.TenantID,
		IntegrationID:   row.IntegrationID,
		ExternalOrderID: row.ExternalOrderID,
		Reference:       row.Reference,
		Status:          row.Status,
		PaymentStatus:   row.PaymentStatus,
		Currency:        row.Currency,
		TotalGross:      row.TotalGross,
		CustomerEmail:   row.CustomerEmail,
		PlacedAt:        parseTimePtr(row.PlacedAt),
		Items:           items,
		Addresses:       addrs,
		CreatedAt:       parseTime(row.CreatedAt),
		UpdatedAt:       parseTime(row.UpdatedAt),
	}
}

func (s *Store) FindOrderByExternalID(ctx context.Context, tenantID, integrationID, externalOrderID string) (models.Order, bool, error) {
	var row orderRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND integration_id = ? AND external_order_id = ?", tenantID, integrationID, externalOrderID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Order{}, false, nil
	}
	if err != nil {
		return models.Order{}, false, err
	}
	return orderFromRow(row), true, nil
}

// CreateOrder writes the order with its items and addresses as one row, so
// the unit is created atomically. A concurrent insert of the same external id
// fails on the (integration_id, external_order_id) unique constraint.
func (s *Store) CreateOrder(ctx context.Context, o models.Order, now time.Time) (models.Order, error) {
	ts := formatTime(now)
	items := o.Items
	if items == nil {
		items = []models.OrderItem{}
	}
	addrs := o.Addresses
	if addrs == nil {
		addrs = []models.OrderAddress{}
	}
	row := orderRow{
		ID:              newID(),
		TenantID:        o.TenantID,
		IntegrationID:   o.IntegrationID,
		ExternalOrderID: o.ExternalOrderID,
		Reference:       o.Reference,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		Currency:        o.Currency,
		TotalGross:      o.TotalGross,
		CustomerEmail:   o.CustomerEmail,
		PlacedAt:        formatTimePtr(o.PlacedAt),
		Items:           datatypes.JSONSlice[models.OrderItem](items),
		Addresses:       datatypes.JSONSlice[models.OrderAddress](addrs),
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Order{}, err
	}
	return orderFromRow(row), nil
}

func (s *Store) SaveOrder(ctx context.Context, o models.Order, now time.Time) (models.Order, error) {
	items := o.Items
	if items == nil {
		items = []models.OrderItem{}
	}
	addrs := o.Addresses
	if addrs == nil {
		addrs = []models.OrderAddress{}
	}
	res := s.db.WithContext(ctx).
		Model(&orderRow{}).
		Where("id = ? AND tenant_id = ?", o.ID, o.TenantID).
		Updates(map[string]any{
			"reference":      o.Reference,
			"status":         o.Status,
			"payment_status": o.PaymentStatus,
			"currency":       o.Currency,
			"total_gross":    o.TotalGross,
			"customer_email": o.CustomerEmail,
			"placed_at":      formatTimePtr(o.PlacedAt),
			"items_json":     datatypes.JSONSlice[models.OrderItem](items),
			"addresses_json": datatypes.JSONSlice[models.OrderAddress](addrs),
			"updated_at":     formatTime(now),
		})
	if res.Error != nil {
		return models.Order{}, res.Error
	}
	if res.RowsAffected == 0 {
		return models.Order{}, ErrNotFound
	}
	o.UpdatedAt = now.UTC()
	return o, nil
}

func (s *Store) CountOrders(ctx context.Context, tenantID, integrationID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&orderRow{}).
		Where("tenant_id = ? AND integration_id = ?", tenantID, integrationID).
		Count(&count).Error
	return count, err
}
