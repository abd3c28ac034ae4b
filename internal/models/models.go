package models

import "time"

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// NormalizedErrorCode is a stable classification of an API error for clients that
// decide whether to retry.
type NormalizedErrorCode string

const (
	NormalizedErrorNotFound        NormalizedErrorCode = "not_found"
	NormalizedErrorRateLimited     NormalizedErrorCode = "rate_limited"
	NormalizedErrorNetworkError    NormalizedErrorCode = "network_error"
	NormalizedErrorInvalidConfig   NormalizedErrorCode = "invalid_config"
	NormalizedErrorConflict        NormalizedErrorCode = "conflict"
	NormalizedErrorUpstreamTimeout NormalizedErrorCode = "upstream_timeout"
	NormalizedErrorUnknown         NormalizedErrorCode = "unknown"
)

type NormalizedError struct {
	Code      NormalizedErrorCode `json:"code"`
	Retryable bool                `json:"retryable"`
}

type APIError struct {
	Code            string           `json:"code"`
	Message         string           `json:"message"`
	NormalizedError *NormalizedError `json:"normalizedError,omitempty"`
	Details         map[string]any   `json:"details,omitempty"`
}

type SourceFormat string

const (
	SourceFormatCSV SourceFormat = "csv"
	SourceFormatXML SourceFormat = "xml"
)

type SourceType string

const (
	SourceTypeFile SourceType = "file"
	SourceTypeURL  SourceType = "url"
)

type FetchMode string

const (
	FetchModeManual   FetchMode = "manual"
	FetchModeInterval FetchMode = "interval"
	FetchModeDaily    FetchMode = "daily"
	FetchModeCron     FetchMode = "cron"
)

type TargetType string

const (
	TargetTypeProduct  TargetType = "product"
	TargetTypeCategory TargetType = "category"
)

type ParseOptions struct {
	Delimiter  string `json:"delimiter,omitempty"`
	HasHeader  bool   `json:"hasHeader"`
	RecordPath string `json:"recordPath,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
}

// Schedule holds the fetch mode and exactly one populated parameter group.
type Schedule struct {
	Mode            FetchMode `json:"fetchMode"`
	IntervalMinutes *int      `json:"intervalMinutes,omitempty"`
	DailyTime       *string   `json:"dailyTime,omitempty"`
	Timezone        string    `json:"timezone,omitempty"`
	CronExpression  *string   `json:"cronExpression,omitempty"`
}

type SyncProfile struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenantId"`
	IntegrationID  *string      `json:"integrationId,omitempty"`
	Name           string       `json:"name"`
	Format         SourceFormat `json:"format"`
	SourceType     SourceType   `json:"sourceType"`
	SourceLocation string       `json:"sourceLocation"`
	Options        ParseOptions `json:"options"`
	Active         bool         `json:"active"`
	Schedule       Schedule     `json:"schedule"`
	ChunkSize      int          `json:"chunkSize"`
	NextRunAt      *time.Time   `json:"nextRunAt,omitempty"`
	LastFetchedAt  *time.Time   `json:"lastFetchedAt,omitempty"`
	LastHeaders    []string     `json:"lastHeaders,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

type ProfileCreateRequest struct {
	IntegrationID  *string       `json:"integrationId,omitempty"`
	Name           string        `json:"name"`
	Format         SourceFormat  `json:"format"`
	SourceType     SourceType    `json:"sourceType"`
	SourceLocation string        `json:"sourceLocation"`
	Options        *ParseOptions `json:"options,omitempty"`
	Active         *bool         `json:"active,omitempty"`
	Schedule       Schedule      `json:"schedule"`
	ChunkSize      int           `json:"chunkSize,omitempty"`
}

type ProfileUpdateRequest struct {
	Name           *string       `json:"name,omitempty"`
	Format         *SourceFormat `json:"format,omitempty"`
	SourceType     *SourceType   `json:"sourceType,omitempty"`
	SourceLocation *string       `json:"sourceLocation,omitempty"`
	Options        *ParseOptions `json:"options,omitempty"`
	Active         *bool         `json:"active,omitempty"`
	Schedule       *Schedule     `json:"schedule,omitempty"`
	ChunkSize      *int          `json:"chunkSize,omitempty"`
}

// MappingRule maps one source column onto one target field.
type MappingRule struct {
	TargetType  TargetType `json:"targetType"`
	SourceField string     `json:"sourceField"`
	TargetField string     `json:"targetField"`
	Transform   string     `json:"transform,omitempty"`
}

type FieldMapping struct {
	ID        string `json:"id"`
	ProfileID string `json:"profileId"`
	MappingRule
}

type RunKind string

const (
	RunKindProfileImport    RunKind = "profile_import"
	RunKindOrderImport      RunKind = "order_import"
	RunKindInventorySync    RunKind = "inventory_sync"
	RunKindAvailabilitySync RunKind = "availability_sync"
	RunKindLinkMatch        RunKind = "link_match"
)

type RunStatus string

const (
	RunStatusPending             RunStatus = "pending"
	RunStatusRunning             RunStatus = "running"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
	RunStatusFailed              RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCompletedWithErrors, RunStatusFailed:
		return true
	default:
		return false
	}
}

type Run struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	Kind          RunKind    `json:"kind"`
	ProfileID     *string    `json:"profileId,omitempty"`
	IntegrationID *string    `json:"integrationId,omitempty"`
	Status        RunStatus  `json:"status"`
	Processed     int64      `json:"processed"`
	Success       int64      `json:"success"`
	Failure       int64      `json:"failure"`
	Skipped       int64      `json:"skipped"`
	PendingChunks int        `json:"pendingChunks"`
	Samples       []string   `json:"samples"`
	Errors        []string   `json:"errors"`
	Message       *string    `json:"message,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type RunsListResponse struct {
	Items      []Run   `json:"items"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

type Transport string

const (
	TransportAPI Transport = "api"
	TransportDB  Transport = "db"
)

type MatchStrategy string

const (
	MatchStrategySKU      MatchStrategy = "sku"
	MatchStrategyEAN      MatchStrategy = "ean"
	MatchStrategySKUOrEAN MatchStrategy = "sku_or_ean"
)

type MissingBehavior string

const (
	MissingBehaviorSkip   MissingBehavior = "skip"
	MissingBehaviorFail   MissingBehavior = "fail"
	MissingBehaviorCreate MissingBehavior = "create"
)

type AvailabilitySettings struct {
	MinStockThreshold   int64  `json:"minStockThreshold"`
	SyncOnlyChanged     bool   `json:"syncOnlyChanged"`
	AvailableText       string `json:"availableText,omitempty"`
	UnavailableText     string `json:"unavailableText,omitempty"`
	DefaultDeliveryDays int    `json:"defaultDeliveryDays,omitempty"`
}

type OrderImportSettings struct {
	Statuses []string `json:"statuses,omitempty"`
	PageSize int      `json:"pageSize,omitempty"`
}

// DBConnection describes direct access to the storefront's database.
type DBConnection struct {
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	User        string `json:"user,omitempty"`
	Password    string `json:"-"`
	Database    string `json:"database,omitempty"`
	TablePrefix string `json:"tablePrefix,omitempty"`
	SSL         bool   `json:"ssl,omitempty"`
}

type Integration struct {
	ID                       string               `json:"id"`
	TenantID                 string               `json:"tenantId"`
	Name                     string               `json:"name"`
	Platform                 string               `json:"platform"`
	Transport                Transport            `json:"transport"`
	APIBaseURL               string               `json:"apiBaseUrl,omitempty"`
	APIKey                   string               `json:"-"`
	DB                       DBConnection         `json:"db"`
	MatchStrategy            MatchStrategy        `json:"matchStrategy"`
	MissingBehavior          MissingBehavior      `json:"missingBehavior"`
	Availability             AvailabilitySettings `json:"availability"`
	Orders                   OrderImportSettings  `json:"orders"`
	Active                   bool                 `json:"active"`
	OrderSyncMinutes         int                  `json:"orderSyncMinutes"`
	AvailabilitySyncMinutes  int                  `json:"availabilitySyncMinutes"`
	LastOrdersSyncedAt       *time.Time           `json:"lastOrdersSyncedAt,omitempty"`
	LastInventorySyncedAt    *time.Time           `json:"lastInventorySyncedAt,omitempty"`
	LastAvailabilitySyncedAt *time.Time           `json:"lastAvailabilitySyncedAt,omitempty"`
	CreatedAt                time.Time            `json:"createdAt"`
	UpdatedAt                time.Time            `json:"updatedAt"`
}

type IntegrationCreateRequest struct {
	Name                    string                `json:"name"`
	Platform                string                `json:"platform,omitempty"`
	Transport               Transport             `json:"transport"`
	APIBaseURL              string                `json:"apiBaseUrl,omitempty"`
	APIKey                  string                `json:"apiKey,omitempty"`
	DB                      *DBConnection         `json:"db,omitempty"`
	DBPassword              string                `json:"dbPassword,omitempty"`
	MatchStrategy           MatchStrategy         `json:"matchStrategy,omitempty"`
	MissingBehavior         MissingBehavior       `json:"missingBehavior,omitempty"`
	Availability            *AvailabilitySettings `json:"availability,omitempty"`
	Orders                  *OrderImportSettings  `json:"orders,omitempty"`
	OrderSyncMinutes        int                   `json:"orderSyncMinutes,omitempty"`
	AvailabilitySyncMinutes int                   `json:"availabilitySyncMinutes,omitempty"`
}

type MatchedBy string

const (
	MatchedBySKU    MatchedBy = "sku"
	MatchedByEAN    MatchedBy = "ean"
	MatchedByManual MatchedBy = "manual"
	MatchedByNone   MatchedBy = "none"
)

const (
	LinkStatusSynced = "synced"
	LinkStatusFailed = "failed"
)

// LinkMetadata records point-in-time facts about the last inventory push.
type LinkMetadata struct {
	Version      int        `json:"v"`
	LastQuantity *int64     `json:"last_quantity,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	LastStatus   string     `json:"last_status,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// AvailabilityState is the change-gate memory of a link. IsAvailable is the
// last value confirmed delivered to the storefront; failed attempts never
// touch it.
type AvailabilityState struct {
	Version            int        `json:"v"`
	IsAvailable        *bool      `json:"is_available,omitempty"`
	StockQuantity      *int64     `json:"stock_quantity,omitempty"`
	DeliveryDays       *int       `json:"delivery_days,omitempty"`
	DisplayText        string     `json:"display_text,omitempty"`
	LastCheckedAt      *time.Time `json:"last_checked_at,omitempty"`
	LastStatusChangeAt *time.Time `json:"last_status_change_at,omitempty"`
	LastStatus         string     `json:"last_status,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
}

type MatchLink struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenantId"`
	IntegrationID     string            `json:"integrationId"`
	ProductID         string            `json:"productId"`
	ExternalProductID *string           `json:"externalProductId,omitempty"`
	MatchedBy         MatchedBy         `json:"matchedBy"`
	IsManual          bool              `json:"isManual"`
	Metadata          LinkMetadata      `json:"metadata"`
	Availability      AvailabilityState `json:"availability"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

type Product struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenantId"`
	SKU           string            `json:"sku,omitempty"`
	EAN           string            `json:"ean,omitempty"`
	Name          string            `json:"name"`
	StockQuantity int64             `json:"stockQuantity"`
	DeliveryDays  *int              `json:"deliveryDays,omitempty"`
	ContractorID  *string           `json:"contractorId,omitempty"`
	CategoryID    *string           `json:"categoryId,omitempty"`
	ExternalKey   *string           `json:"externalKey,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

type Category struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Name        string    `json:"name"`
	ParentID    *string   `json:"parentId,omitempty"`
	Description string    `json:"description,omitempty"`
	ExternalKey *string   `json:"externalKey,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type OrderItem struct {
	ExternalID string  `json:"externalId,omitempty"`
	SKU        string  `json:"sku,omitempty"`
	EAN        string  `json:"ean,omitempty"`
	Name       string  `json:"name"`
	Quantity   int64   `json:"quantity"`
	UnitGross  float64 `json:"unitGross"`
}

type OrderAddress struct {
	Kind       string `json:"kind"`
	Name       string `json:"name,omitempty"`
	Company    string `json:"company,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type Order struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenantId"`
	IntegrationID   string         `json:"integrationId"`
	ExternalOrderID string         `json:"externalOrderId"`
	Reference       string         `json:"reference,omitempty"`
	Status          string         `json:"status"`
	PaymentStatus   string         `json:"paymentStatus,omitempty"`
	Currency        string         `json:"currency,omitempty"`
	TotalGross      float64        `json:"totalGross"`
	CustomerEmail   string         `json:"customerEmail,omitempty"`
	PlacedAt        *time.Time     `json:"placedAt,omitempty"`
	Items           []OrderItem    `json:"items"`
	Addresses       []OrderAddress `json:"addresses"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Payload     []byte     `json:"-"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	LastError   *string    `json:"lastError,omitempty"`
	ErrorCode   *string    `json:"errorCode,omitempty"`
	AvailableAt time.Time  `json:"availableAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

type IntegrationUpdateRequest struct {
	Active *bool `json:"active,omitempty"`
}

type MappingsRequest struct {
	Mappings []MappingRule `json:"mappings"`
}

type HeadersResponse struct {
	Headers []string `json:"headers"`
}

type OrdersImportRequest struct {
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	Statuses []string   `json:"statuses,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	PageSize int        `json:"pageSize,omitempty"`
	Force    bool       `json:"force,omitempty"`
}

// ProductSelectionRequest narrows an inventory, availability or matching pass.
type ProductSelectionRequest struct {
	ProductIDs   []string `json:"productIds,omitempty"`
	ContractorID *string  `json:"contractorId,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

type ManualLinkRequest struct {
	ExternalProductID string `json:"externalProductId"`
}

// SyncResponse pairs the run recorded for an inline sync with its summary.
type SyncResponse struct {
	Run     Run `json:"run"`
	Summary any `json:"summary"`
}

type QueueInfo struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

type MetaResponse struct {
	Version                  string    `json:"version"`
	ServerAddr               string    `json:"serverAddr"`
	DataDir                  string    `json:"dataDir"`
	DBBackend                string    `json:"dbBackend"`
	APITokenEnabled          bool      `json:"apiTokenEnabled"`
	SchedulerEnabled         bool      `json:"schedulerEnabled"`
	SchedulerIntervalSeconds int64     `json:"schedulerIntervalSeconds"`
	TaskConcurrency          int       `json:"taskConcurrency"`
	TaskMaxAttempts          int       `json:"taskMaxAttempts"`
	TaskRetentionSeconds     *int64    `json:"taskRetentionSeconds,omitempty"`
	Queue                    QueueInfo `json:"queue"`
}
