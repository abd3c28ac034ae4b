package store

import (
	"gorm.io/datatypes"

	"shopsync/internal/models"
)

type integrationRow struct {
	ID                       string                                         `gorm:"column:id;primaryKey"`
	TenantID                 string                                         `gorm:"column:tenant_id"`
	Name                     string                                         `gorm:"column:name"`
	Platform                 string                                         `gorm:"column:platform"`
	Transport                string                                         `gorm:"column:transport"`
	APIBaseURL               string                                         `gorm:"column:api_base_url"`
	APIKey                   string                                         `gorm:"column:api_key"`
	DB                       datatypes.JSONType[models.DBConnection]        `gorm:"column:db_json"`
	DBPassword               string                                         `gorm:"column:db_password"`
	MatchStrategy            string                                         `gorm:"column:match_strategy"`
	MissingBehavior          string                                         `gorm:"column:missing_behavior"`
	Availability             datatypes.JSONType[models.AvailabilitySettings] `gorm:"column:availability_json"`
	Orders                   datatypes.JSONType[models.OrderImportSettings]  `gorm:"column:orders_json"`
	Active                   bool                                           `gorm:"column:active"`
	OrderSyncMinutes         int                                            `gorm:"column:order_sync_minutes"`
	AvailabilitySyncMinutes  int                                            `gorm:"column:availability_sync_minutes"`
	LastOrdersSyncedAt       *string                                        `gorm:"column:last_orders_synced_at"`
	LastInventorySyncedAt    *string                                        `gorm:"column:last_inventory_synced_at"`
	LastAvailabilitySyncedAt *string                                        `gorm:"column:last_availability_synced_at"`
	CreatedAt                string                                         `gorm:"column:created_at"`
	UpdatedAt                string                                         `gorm:"column:updated_at"`
}

func (integrationRow) TableName() string { return "integrations" }

type profileRow struct {
	ID              string                     `gorm:"column:id;primaryKey"`
	TenantID        string                     `gorm:"column:tenant_id"`
	IntegrationID   *string                    `gorm:"column:integration_id"`
	Name            string                     `gorm:"column:name"`
	Format          string                     `gorm:"column:format"`
	SourceType      string                     `gorm:"column:source_type"`
	SourceLocation  string                     `gorm:"column:source_location"`
	Delimiter       string                     `gorm:"column:delimiter"`
	HasHeader       bool                       `gorm:"column:has_header"`
	RecordPath      string                     `gorm:"column:record_path"`
	Encoding        string                     `gorm:"column:encoding"`
	Active          bool                       `gorm:"column:active"`
	FetchMode       string                     `gorm:"column:fetch_mode"`
	IntervalMinutes *int                       `gorm:"column:interval_minutes"`
	DailyTime       *string                    `gorm:"column:daily_time"`
	Timezone        string                     `gorm:"column:timezone"`
	CronExpression  *string                    `gorm:"column:cron_expression"`
	ChunkSize       int                        `gorm:"column:chunk_size"`
	NextRunAt       *string                    `gorm:"column:next_run_at"`
	LastFetchedAt   *string                    `gorm:"column:last_fetched_at"`
	LastHeaders     datatypes.JSONSlice[string] `gorm:"column:last_headers_json"`
	CreatedAt       string                     `gorm:"column:created_at"`
	UpdatedAt       string                     `gorm:"column:updated_at"`
}

func (profileRow) TableName() string { return "sync_profiles" }

type fieldMappingRow struct {
	ID          string `gorm:"column:id;primaryKey"`
	ProfileID   string `gorm:"column:profile_id"`
	TargetType  string `gorm:"column:target_type"`
	SourceField string `gorm:"column:source_field"`
	TargetField string `gorm:"column:target_field"`
	Transform   string `gorm:"column:transform"`
	Position    int    `gorm:"column:position"`
}

func (fieldMappingRow) TableName() string { return "field_mappings" }

type runRow struct {
	ID            string                     `gorm:"column:id;primaryKey"`
	TenantID      string                     `gorm:"column:tenant_id"`
	Kind          string                     `gorm:"column:kind"`
	ProfileID     *string                    `gorm:"column:profile_id"`
	IntegrationID *string                    `gorm:"column:integration_id"`
	Status        string                     `gorm:"column:status"`
	Processed     int64                      `gorm:"column:processed"`
	Success       int64                      `gorm:"column:success"`
	Failure       int64                      `gorm:"column:failure"`
	Skipped       int64                      `gorm:"column:skipped"`
	PendingChunks int                        `gorm:"column:pending_chunks"`
	Samples       datatypes.JSONSlice[string] `gorm:"column:samples_json"`
	Errors        datatypes.JSONSlice[string] `gorm:"column:errors_json"`
	Message       *string                    `gorm:"column:message"`
	LockVersion   int64                      `gorm:"column:lock_version"`
	StartedAt     *string                    `gorm:"column:started_at"`
	FinishedAt    *string                    `gorm:"column:finished_at"`
	CreatedAt     string                     `gorm:"column:created_at"`
}

func (runRow) TableName() string { return "runs" }

type categoryRow struct {
	ID          string  `gorm:"column:id;primaryKey"`
	TenantID    string  `gorm:"column:tenant_id"`
	Name        string  `gorm:"column:name"`
	ParentID    *string `gorm:"column:parent_id"`
	Description string  `gorm:"column:description"`
	ExternalKey *string `gorm:"column:external_key"`
	CreatedAt   string  `gorm:"column:created_at"`
	UpdatedAt   string  `gorm:"column:updated_at"`
}

func (categoryRow) TableName() string { return "categories" }

type productRow struct {
	ID            string                                  `gorm:"column:id;primaryKey"`
	TenantID      string                                  `gorm:"column:tenant_id"`
	SKU           string                                  `gorm:"column:sku"`
	EAN           string                                  `gorm:"column:ean"`
	Name          string                                  `gorm:"column:name"`
	StockQuantity int64                                   `gorm:"column:stock_quantity"`
	DeliveryDays  *int                                    `gorm:"column:delivery_days"`
	ContractorID  *string                                 `gorm:"column:contractor_id"`
	CategoryID    *string                                 `gorm:"column:category_id"`
	ExternalKey   *string                                 `gorm:"column:external_key"`
	Attributes    datatypes.JSONType[map[string]string]   `gorm:"column:attributes_json"`
	CreatedAt     string                                  `gorm:"column:created_at"`
	UpdatedAt     string                                  `gorm:"column:updated_at"`
}

func (productRow) TableName() string { return "products" }

type matchLinkRow struct {
	ID                string                                      `gorm:"column:id;primaryKey"`
	TenantID          string                                      `gorm:"column:tenant_id"`
	IntegrationID     string                                      `gorm:"column:integration_id"`
	ProductID         string                                      `gorm:"column:product_id"`
	ExternalProductID *string                                     `gorm:"column:external_product_id"`
	MatchedBy         string                                      `gorm:"column:matched_by"`
	IsManual          bool                                        `gorm:"column:is_manual"`
	Metadata          datatypes.JSONType[models.LinkMetadata]      `gorm:"column:metadata_json"`
	Availability      datatypes.JSONType[models.AvailabilityState] `gorm:"column:availability_json"`
	CreatedAt         string                                      `gorm:"column:created_at"`
	UpdatedAt         string                                      `gorm:"column:updated_at"`
}

func (matchLinkRow) TableName() string { return "match_links" }

type orderRow struct {
	ID              string                                  `gorm:"column:id;primaryKey"`
	TenantID        string                                  `gorm:"column:tenant_id"`
	IntegrationID   string                                  `gorm:"column:integration_id"`
	ExternalOrderID string                                  `gorm:"column:external_order_id"`
	Reference       string                                  `gorm:"column:reference"`
	Status          string                                  `gorm:"column:status"`
	PaymentStatus   string                                  `gorm:"column:payment_status"`
	Currency        string                                  `gorm:"column:currency"`
	TotalGross      float64                                 `gorm:"column:total_gross"`
	CustomerEmail   string                                  `gorm:"column:customer_email"`
	PlacedAt        *string                                 `gorm:"column:placed_at"`
	Items           datatypes.JSONSlice[models.OrderItem]    `gorm:"column:items_json"`
	Addresses       datatypes.JSONSlice[models.OrderAddress] `gorm:"column:addresses_json"`
	CreatedAt       string                                  `gorm:"column:created_at"`
	UpdatedAt       string                                  `gorm:"column:updated_at"`
}

func (orderRow) TableName() string { return "orders" }

type taskRow struct {
	ID          string  `gorm:"column:id;primaryKey"`
	Name        string  `gorm:"column:name"`
	PayloadJSON string  `gorm:"column:payload_json"`
	Status      string  `gorm:"column:status"`
	Attempts    int     `gorm:"column:attempts"`
	MaxAttempts int     `gorm:"column:max_attempts"`
	LastError   *string `gorm:"column:last_error"`
	ErrorCode   *string `gorm:"column:error_code"`
	AvailableAt string  `gorm:"column:available_at"`
	CreatedAt   string  `gorm:"column:created_at"`
	StartedAt   *string `gorm:"column:started_at"`
	FinishedAt  *string `gorm:"column:finished_at"`
}

func (taskRow) TableName() string { return "tasks" }
