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

const (
	DefaultAvailableText   = "Available, ships in {days} days"
	DefaultUnavailableText = "Temporarily unavailable"
	DefaultDeliveryDays    = 3
	DefaultOrderPageSize   = 50
)

// SyncKind names one of the integration's "last synced" stamps.
type SyncKind string

const (
	SyncKindOrders       SyncKind = "orders"
	SyncKindInventory    SyncKind = "inventory"
	SyncKindAvailability SyncKind = "availability"
)

func (k SyncKind) column() (string, bool) {
	switch k {
	case SyncKindOrders:
		return "last_orders_synced_at", true
	case SyncKindInventory:
		return "last_inventory_synced_at", true
	case SyncKindAvailability:
		return "last_availability_synced_at", true
	default:
		return "", false
	}
}

func (s *Store) integrationFromRow(row integrationRow) (models.Integration, error) {
	apiKey, err := s.open(row.APIKey)
	if err != nil {
		return models.Integration{}, err
	}
	password, err := s.open(row.DBPassword)
	if err != nil {
		return models.Integration{}, err
	}
	conn := row.DB.Data()
	conn.Password = password
	return models.Integration{
		ID:                       row.ID,
		TenantID:                 row.TenantID,
		Name:                     row.Name,
		Platform:                 row.Platform,
		Transport:                models.Transport(row.Transport),
		APIBaseURL:               row.APIBaseURL,
		APIKey:                   apiKey,
		DB:                       conn,
		MatchStrategy:            models.MatchStrategy(row.MatchStrategy),
		MissingBehavior:          models.MissingBehavior(row.MissingBehavior),
		Availability:             row.Availability.Data(),
		Orders:                   row.Orders.Data(),
		Active:                   row.Active,
		OrderSyncMinutes:         row.OrderSyncMinutes,
		AvailabilitySyncMinutes:  row.AvailabilitySyncMinutes,
		LastOrdersSyncedAt:       parseTimePtr(row.LastOrdersSyncedAt),
		LastInventorySyncedAt:    parseTimePtr(row.LastInventorySyncedAt),
		LastAvailabilitySyncedAt: parseTimePtr(row.LastAvailabilitySyncedAt),
		CreatedAt:                parseTime(row.CreatedAt),
		UpdatedAt:                parseTime(row.UpdatedAt),
	}, nil
}

func normalizeIntegration(req models.IntegrationCreateRequest) (models.Integration, error) {
	out := models.Integration{
		Name:                    strings.TrimSpace(req.Name),
		Platform:                strings.ToLower(strings.TrimSpace(req.Platform)),
		Transport:               models.Transport(strings.ToLower(strings.TrimSpace(string(req.Transport)))),
		APIBaseURL:              strings.TrimRight(strings.TrimSpace(req.APIBaseURL), "/"),
		APIKey:                  strings.TrimSpace(req.APIKey),
		MatchStrategy:           req.MatchStrategy,
		MissingBehavior:         req.MissingBehavior,
		Active:                  true,
		OrderSyncMinutes:        req.OrderSyncMinutes,
		AvailabilitySyncMinutes: req.AvailabilitySyncMinutes,
	}
	if out.Name == "" {
		return models.Integration{}, invalidf("name is required")
	}
	if out.Platform == "" {
		out.Platform = "prestashop"
	}
	switch out.Transport {
	case models.TransportAPI:
		if out.APIBaseURL == "" || out.APIKey == "" {
			return models.Integration{}, invalidf("api transport requires apiBaseUrl and apiKey")
		}
	case models.TransportDB:
		if req.DB == nil || strings.TrimSpace(req.DB.Host) == "" || strings.TrimSpace(req.DB.Database) == "" {
			return models.Integration{}, invalidf("db transport requires db.host and db.database")
		}
		out.DB = *req.DB
		out.DB.Password = req.DBPassword
		if out.DB.Port == 0 {
			out.DB.Port = 5432
		}
	default:
		return models.Integration{}, invalidf("unsupported transport %q", req.Transport)
	}
	switch out.MatchStrategy {
	case "":
		out.MatchStrategy = models.MatchStrategySKUOrEAN
	case models.MatchStrategySKU, models.MatchStrategyEAN, models.MatchStrategySKUOrEAN:
	default:
		return models.Integration{}, invalidf("unsupported match strategy %q", req.MatchStrategy)
	}
	switch out.MissingBehavior {
	case "":
		out.MissingBehavior = models.MissingBehaviorSkip
	case models.MissingBehaviorSkip, models.MissingBehaviorFail:
	default:
		return models.Integration{}, invalidf("unsupported missing behavior %q", req.MissingBehavior)
	}
	if out.OrderSyncMinutes < 0 || out.AvailabilitySyncMinutes < 0 {
		return models.Integration{}, invalidf("sync intervals must not be negative")
	}

	out.Availability = models.AvailabilitySettings{
		MinStockThreshold:   1,
		SyncOnlyChanged:     true,
		AvailableText:       DefaultAvailableText,
		UnavailableText:     DefaultUnavailableText,
		DefaultDeliveryDays: DefaultDeliveryDays,
	}
	if req.Availability != nil {
		out.Availability = *req.Availability
		if out.Availability.AvailableText == "" {
			out.Availability.AvailableText = DefaultAvailableText
		}
		if out.Availability.UnavailableText == "" {
			out.Availability.UnavailableText = DefaultUnavailableText
		}
		if out.Availability.DefaultDeliveryDays <= 0 {
			out.Availability.DefaultDeliveryDays = DefaultDeliveryDays
		}
		if out.Availability.MinStockThreshold < 0 {
			return models.Integration{}, invalidf("minStockThreshold must not be negative")
		}
	}
	out.Orders = models.OrderImportSettings{PageSize: DefaultOrderPageSize}
	if req.Orders != nil {
		out.Orders = *req.Orders
		if out.Orders.PageSize <= 0 {
			out.Orders.PageSize = DefaultOrderPageSize
		}
	}
	return out, nil
}

func (s *Store) CreateIntegration(ctx context.Context, tenantID string, req models.IntegrationCreateRequest, now time.Time) (models.Integration, error) {
	in, err := normalizeIntegration(req)
	if err != nil {
		return models.Integration{}, err
	}
	conn := in.DB
	password, err := s.seal(conn.Password)
	if err != nil {
		return models.Integration{}, err
	}
	conn.Password = ""
	apiKey, err := s.seal(in.APIKey)
	if err != nil {
		return models.Integration{}, err
	}

	ts := formatTime(now)
	row := integrationRow{
		ID:                      newID(),
		TenantID:                tenantID,
		Name:                    in.Name,
		Platform:                in.Platform,
		Transport:               string(in.Transport),
		APIBaseURL:              in.APIBaseURL,
		APIKey:                  apiKey,
		DB:                      datatypes.NewJSONType(conn),
		DBPassword:              password,
		MatchStrategy:           string(in.MatchStrategy),
		MissingBehavior:         string(in.MissingBehavior),
		Availability:            datatypes.NewJSONType(in.Availability),
		Orders:                  datatypes.NewJSONType(in.Orders),
		Active:                  true,
		OrderSyncMinutes:        in.OrderSyncMinutes,
		AvailabilitySyncMinutes: in.AvailabilitySyncMinutes,
		CreatedAt:               ts,
		UpdatedAt:               ts,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Integration{}, err
	}
	return s.integrationFromRow(row)
}

func (s *Store) GetIntegration(ctx context.Context, tenantID, integrationID string) (models.Integration, bool, error) {
	var row integrationRow
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", integrationID, tenantID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Integration{}, false, nil
	}
	if err != nil {
		return models.Integration{}, false, err
	}
	in, err := s.integrationFromRow(row)
	if err != nil {
		return models.Integration{}, false, err
	}
	return in, true, nil
}

func (s *Store) ListIntegrations(ctx context.Context, tenantID string) ([]models.Integration, error) {
	var rows []integrationRow
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("name ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Integration, 0, len(rows))
	for _, row := range rows {
		in, err := s.integrationFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// ListScheduledIntegrations returns active integrations of every tenant that
// have at least one automatic sync interval configured.
func (s *Store) ListScheduledIntegrations(ctx context.Context) ([]models.Integration, error) {
	var rows []integrationRow
	if err := s.db.WithContext(ctx).
		Where("active = ? AND (order_sync_minutes > 0 OR availability_sync_minutes > 0)", true).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Integration, 0, len(rows))
	for _, row := range rows {
		in, err := s.integrationFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

func (s *Store) SetIntegrationActive(ctx context.Context, tenantID, integrationID string, active bool, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&integrationRow{}).
		Where("id = ? AND tenant_id = ?", integrationID, tenantID).
		Updates(map[string]any{"active": active, "updated_at": formatTime(now)})
	return res.RowsAffected > 0, res.Error
}

// MarkIntegrationSynced stamps one of the integration's last-synced columns.
func (s *Store) MarkIntegrationSynced(ctx context.Context, tenantID, integrationID string, kind SyncKind, at time.Time) error {
	col, ok := kind.column()
	if !ok {
		return invalidf("unknown sync kind %q", kind)
	}
	return s.db.WithContext(ctx).
		Model(&integrationRow{}).
		Where("id = ? AND tenant_id = ?", integrationID, tenantID).
		Updates(map[string]any{col: formatTime(at), "updated_at": formatTime(at)}).Error
}

func (s *Store) DeleteIntegration(ctx context.Context, tenantID, integrationID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", integrationID, tenantID).
		Delete(&integrationRow{})
	return res.RowsAffected > 0, res.Error
}
