package core

import "time"

// ResourceClass names a group of remote endpoints sharing one rate budget.
type ResourceClass string

const (
	ResourceOrders  ResourceClass = "orders"
	ResourceCatalog ResourceClass = "catalog"
	ResourceOther   ResourceClass = "other"
)

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// ScopeStatus is the outcome of one account scope within a run.
type ScopeStatus string

const (
	ScopeRunning   ScopeStatus = "running"
	ScopeCompleted ScopeStatus = "completed"
	ScopeDegraded  ScopeStatus = "degraded"
	ScopeFailed    ScopeStatus = "failed"
	ScopeCancelled ScopeStatus = "cancelled"
)

// RemoteItem is a catalog record fetched from the marketplace, keyed by SKU.
type RemoteItem struct {
	SKU       string         `json:"sku" yaml:"sku"`
	Scope     string         `json:"scope" yaml:"scope"`
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Brand     string         `json:"brand,omitempty" yaml:"brand,omitempty"`
	Price     float64        `json:"price,omitempty" yaml:"price,omitempty"`
	Stock     int            `json:"stock,omitempty" yaml:"stock,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	Raw       map[string]any `json:"raw,omitempty" yaml:"-"`
}

// Page is one fully consumed page of the remote listing.
type Page struct {
	Number     int
	Items      []RemoteItem
	TotalPages int
	StatusCode int
	// Invalid holds per-item validation failures; those items are not in Items.
	Invalid []error
}

// PageRequest describes a single paginated list call.
type PageRequest struct {
	Scope        string
	Page         int
	ItemsPerPage int
	Filters      map[string]any
}

// RequestMetric captures the outcome of one remote call.
type RequestMetric struct {
	Timestamp  time.Time `json:"timestamp"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	StatusCode int       `json:"status_code"`
	LatencyMS  float64   `json:"latency_ms"`
	Scope      string    `json:"scope"`
	Success    bool      `json:"success"`
	ErrorCode  string    `json:"error_code,omitempty"`
}

// ScopeError annotates a scope report with a non-fatal failure.
type ScopeError struct {
	Page    int    `json:"page,omitempty" yaml:"page,omitempty"`
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
}

// ScopeReport summarizes one scope's contribution to a run.
type ScopeReport struct {
	Scope          string       `json:"scope" yaml:"scope"`
	Status         ScopeStatus  `json:"status" yaml:"status"`
	PagesProcessed int          `json:"pages_processed" yaml:"pages_processed"`
	ItemsCollected int          `json:"items_collected" yaml:"items_collected"`
	MoreAvailable  bool         `json:"more_available" yaml:"more_available"`
	Errors         []ScopeError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// SyncRun is the report of a full synchronization run.
type SyncRun struct {
	ID                string                  `json:"id" yaml:"id"`
	ScopesRequested   []string                `json:"scopes_requested" yaml:"scopes_requested"`
	Scopes            map[string]*ScopeReport `json:"scopes" yaml:"scopes"`
	ItemsCollected    int                     `json:"items_collected" yaml:"items_collected"`
	ItemsMerged       int                     `json:"items_merged" yaml:"items_merged"`
	DuplicatesRemoved int                     `json:"duplicates_removed" yaml:"duplicates_removed"`
	Created           int                     `json:"created" yaml:"created"`
	Updated           int                     `json:"updated" yaml:"updated"`
	StartedAt         time.Time               `json:"started_at" yaml:"started_at"`
	CompletedAt       *time.Time              `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status            RunStatus               `json:"status" yaml:"status"`
	Errors            []string                `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// PagesProcessed returns pages processed keyed by scope.
func (r *SyncRun) PagesProcessed() map[string]int {
	if r == nil {
		return nil
	}
	pages := make(map[string]int, len(r.Scopes))
	for name, report := range r.Scopes {
		if report != nil {
			pages[name] = report.PagesProcessed
		}
	}
	return pages
}

// UpsertResult reports whether persistence created or updated a record.
type UpsertResult string

const (
	UpsertCreated UpsertResult = "created"
	UpsertUpdated UpsertResult = "updated"
)

// RateLimits holds per-second and per-minute budgets for one resource class.
type RateLimits struct {
	PerSecond int `json:"per_second" mapstructure:"per_second"`
	PerMinute int `json:"per_minute" mapstructure:"per_minute"`
}

// ScopeCredentials is what the orchestrator needs to talk to one account.
type ScopeCredentials struct {
	Scope                string
	BaseURL              string
	Username             string
	Password             string
	Timeout              time.Duration
	RateLimits           map[ResourceClass]RateLimits
	MaxPages             int
	ItemsPerPage         int
	DelayBetweenRequests time.Duration
}
