package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"shopsync/internal/models"
)

type ProductFilter struct {
	IDs          []string
	ContractorID *string
	Limit        int
}

func productFromRow(row productRow) models.Product {
	return models.Product{
		ID:            row.ID,
		TenantID:      row.TenantID,
		SKU:           row.SKU,
		EAN:           row.EAN,
		Name:          row.Name,
		StockQuantity: row.StockQuantity,
		DeliveryDays:  row.DeliveryDays,
		ContractorID:  row.ContractorID,
		CategoryID:    row.CategoryID,
		ExternalKey:   row.ExternalKey,
		Attributes:    row.Attributes.Data(),
		CreatedAt:     parseTime(row.CreatedAt),
		UpdatedAt:     parseTime(row.UpdatedAt),
	}
}

func productToRow(p models.Product) productRow {
	attrs := p.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return productRow{
		ID:            p.ID,
		TenantID:      p.TenantID,
		SKU:           strings.TrimSpace(p.SKU),
		EAN:           strings.TrimSpace(p.EAN),
		Name:          p.Name,
		StockQuantity: p.StockQuantity,
		DeliveryDays:  p.DeliveryDays,
		ContractorID:  p.ContractorID,
		CategoryID:    p.CategoryID,
		ExternalKey:   p.ExternalKey,
		Attributes:    datatypes.NewJSONType(attrs),
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
}

func (s *Store) takeProduct(ctx context.Context, tenantID, column, value string) (models.Product, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return models.Product{}, false, nil
	}
	var row productRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND "+column+" = ?", tenantID, value).
		Order("id ASC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Product{}, false, nil
	}
	if err != nil {
		return models.Product{}, false, err
	}
	return productFromRow(row), true, nil
}

func (s *Store) GetProduct(ctx context.Context, tenantID, productID string) (models.Product, bool, error) {
	return s.takeProduct(ctx, tenantID, "id", productID)
}

func (s *Store) FindProductBySKU(ctx context.Context, tenantID, sku string) (models.Product, bool, error) {
	return s.takeProduct(ctx, tenantID, "sku", sku)
}

func (s *Store) FindProductByEAN(ctx context.Context, tenantID, ean string) (models.Product, bool, error) {
	return s.takeProduct(ctx, tenantID, "ean", ean)
}

func (s *Store) FindProductByExternalKey(ctx context.Context, tenantID, key string) (models.Product, bool, error) {
	return s.takeProduct(ctx, tenantID, "external_key", key)
}

func (s *Store) CreateProduct(ctx context.Context, p models.Product, now time.Time) (models.Product, error) {
	p.ID = newID()
	p.CreatedAt = now
	p.UpdatedAt = now
	row := productToRow(p)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Product{}, err
	}
	return productFromRow(row), nil
}

// SaveProduct overwrites every mutable column of an existing product.
func (s *Store) SaveProduct(ctx context.Context, p models.Product, now time.Time) (models.Product, error) {
	p.UpdatedAt = now
	row := productToRow(p)
	res := s.db.WithContext(ctx).
		Model(&productRow{}).
		Where("id = ? AND tenant_id = ?", p.ID, p.TenantID).
		Updates(map[string]any{
			"sku":             row.SKU,
			"ean":             row.EAN,
			"name":            row.Name,
			"stock_quantity":  row.StockQuantity,
			"delivery_days":   row.DeliveryDays,
			"contractor_id":   row.ContractorID,
			"category_id":     row.CategoryID,
			"external_key":    row.ExternalKey,
			"attributes_json": row.Attributes,
			"updated_at":      row.UpdatedAt,
		})
	if res.Error != nil {
		return models.Product{}, res.Error
	}
	if res.RowsAffected == 0 {
		return models.Product{}, ErrNotFound
	}
	return productFromRow(row), nil
}

func (s *Store) ListProducts(ctx context.Context, tenantID string, f ProductFilter) ([]models.Product, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if len(f.IDs) > 0 {
		query = query.Where("id IN ?", f.IDs)
	}
	if f.ContractorID != nil {
		query = query.Where("contractor_id = ?", *f.ContractorID)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	var rows []productRow
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Product, 0, len(rows))
	for _, row := range rows {
		out = append(out, productFromRow(row))
	}
	return out, nil
}

func categoryFromRow(row categoryRow) models.Category {
	return models.Category{
		ID:          row.ID,
		TenantID:    row.TenantID,
		Name:        row.Name,
		ParentID:    row.ParentID,
		Description: row.Description,
		ExternalKey: row.ExternalKey,
		CreatedAt:   parseTime(row.CreatedAt),
		UpdatedAt:   parseTime(row.UpdatedAt),
	}
}

func (s *Store) takeCategory(ctx context.Context, tenantID, column, value string) (models.Category, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return models.Category{}, false, nil
	}
	var row categoryRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND "+column+" = ?", tenantID, value).
		Order("id ASC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Category{}, false, nil
	}
	if err != nil {
		return models.Category{}, false, err
	}
	return categoryFromRow(row), true, nil
}

func (s *Store) FindCategoryByName(ctx context.Context, tenantID, name string) (models.Category, bool, error) {
	return s.takeCategory(ctx, tenantID, "name", name)
}

func (s *Store) FindCategoryByExternalKey(ctx context.Context, tenantID, key string) (models.Category, bool, error) {
	return s.takeCategory(ctx, tenantID, "external_key", key)
}

func (s *Store) CreateCategory(ctx context.Context, c models.Category, now time.Time) (models.Category, error) {
	ts := formatTime(now)
	row := categoryRow{
		ID:          newID(),
		TenantID:    c.TenantID,
		Name:        strings.TrimSpace(c.Name),
		ParentID:    c.ParentID,
		Description: c.Description,
		ExternalKey: c.ExternalKey,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Category{}, err
	}
	return categoryFromRow(row), nil
}

func (s *Store) SaveCategory(ctx context.Context, c models.Category, now time.Time) (models.Category, error) {
	c.UpdatedAt = now.UTC()
	res := s.db.WithContext(ctx).
		Model(&categoryRow{}).
		Where("id = ? AND tenant_id = ?", c.ID, c.TenantID).
		Updates(map[string]any{
			"name":         strings.TrimSpace(c.Name),
			"parent_id":    c.ParentID,
			"description":  c.Description,
			"external_key": c.ExternalKey,
			"updated_at":   formatTime(now),
		})
	if res.Error != nil {
		return models.Category{}, res.Error
	}
	if res.RowsAffected == 0 {
		return models.Category{}, ErrNotFound
	}
	return c, nil
}
