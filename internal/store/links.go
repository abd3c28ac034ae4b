package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopsync/internal/models"
)

type LinkFilter struct {
	ProductIDs   []string
	ContractorID *string
	// MatchedOnly keeps links that carry an external product id.
	MatchedOnly bool
	Limit       int
}

// LinkedProduct pairs a product with its link to one integration.
type LinkedProduct struct {
	Product models.Product
	Link    models.MatchLink
}

func linkFromRow(row matchLinkRow) models.MatchLink {
	return models.MatchLink{
		ID:                row.ID,
		TenantID:          row.TenantID,
		IntegrationID:     row.IntegrationID,
		ProductID:         row.ProductID,
		ExternalProductID: row.ExternalProductID,
		MatchedBy:         models.MatchedBy(row.MatchedBy),
		IsManual:          row.IsManual,
		Metadata:          row.Metadata.Data(),
		Availability:      row.Availability.Data(),
		CreatedAt:         parseTime(row.CreatedAt),
		UpdatedAt:         parseTime(row.UpdatedAt),
	}
}

func (s *Store) GetLink(ctx context.Context, tenantID, integrationID, productID string) (models.MatchLink, bool, error) {
	var row matchLinkRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND integration_id = ? AND product_id = ?", tenantID, integrationID, productID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.MatchLink{}, false, nil
	}
	if err != nil {
		return models.MatchLink{}, false, err
	}
	return linkFromRow(row), true, nil
}

// UpsertLink inserts or updates the link for (integration, product). The link
// row itself is never deleted by a sync.
func (s *Store) UpsertLink(ctx context.Context, link models.MatchLink, now time.Time) (models.MatchLink, error) {
	if link.ID == "" {
		link.ID = newID()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now.UTC()
	}
	link.UpdatedAt = now.UTC()
	link.Metadata.Version = 1
	link.Availability.Version = 1
	row := matchLinkRow{
		ID:                link.ID,
		TenantID:          link.TenantID,
		IntegrationID:     link.IntegrationID,
		ProductID:         link.ProductID,
		ExternalProductID: link.ExternalProductID,
		MatchedBy:         string(link.MatchedBy),
		IsManual:          link.IsManual,
		Metadata:          datatypes.NewJSONType(link.Metadata),
		Availability:      datatypes.NewJSONType(link.Availability),
		CreatedAt:         formatTime(link.CreatedAt),
		UpdatedAt:         formatTime(link.UpdatedAt),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "integration_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"external_product_id",
			"matched_by",
			"is_manual",
			"metadata_json",
			"availability_json",
			"updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return models.MatchLink{}, err
	}
	stored, ok, err := s.GetLink(ctx, link.TenantID, link.IntegrationID, link.ProductID)
	if err != nil {
		return models.MatchLink{}, err
	}
	if !ok {
		return models.MatchLink{}, ErrNotFound
	}
	return stored, nil
}

// SaveLinkState writes only the metadata and availability bags.
func (s *Store) SaveLinkState(ctx context.Context, link models.MatchLink, now time.Time) error {
	link.Metadata.Version = 1
	link.Availability.Version = 1
	res := s.db.WithContext(ctx).
		Model(&matchLinkRow{}).
		Where("id = ? AND tenant_id = ?", link.ID, link.TenantID).
		Updates(map[string]any{
			"metadata_json":     datatypes.NewJSONType(link.Metadata),
			"availability_json": datatypes.NewJSONType(link.Availability),
			"updated_at":        formatTime(now),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLinkedProducts returns links of one integration together with their
// products, ordered by product id.
func (s *Store) ListLinkedProducts(ctx context.Context, tenantID, integrationID string, f LinkFilter) ([]LinkedProduct, error) {
	query := s.db.WithContext(ctx).
		Where("tenant_id = ? AND integration_id = ?", tenantID, integrationID)
	if f.MatchedOnly {
		query = query.Where("external_product_id IS NOT NULL AND external_product_id <> ''")
	}
	if len(f.ProductIDs) > 0 {
		query = query.Where("product_id IN ?", f.ProductIDs)
	}
	if f.ContractorID != nil {
		query = query.Where("product_id IN (SELECT id FROM products WHERE tenant_id = ? AND contractor_id = ?)", tenantID, *f.ContractorID)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	var rows []matchLinkRow
	if err := query.Order("product_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []LinkedProduct{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ProductID)
	}
	products, err := s.ListProducts(ctx, tenantID, ProductFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	out := make([]LinkedProduct, 0, len(rows))
	for _, row := range rows {
		p, ok := byID[row.ProductID]
		if !ok {
			continue
		}
		out = append(out, LinkedProduct{Product: p, Link: linkFromRow(row)})
	}
	return out, nil
}
