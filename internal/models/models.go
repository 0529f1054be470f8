package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// StringList is a []string stored as a JSON column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type %T for StringList", value)
	}
}

// User owns search jobs and receives digests. Authentication lives elsewhere;
// the agent only needs the address to deliver to.
type User struct {
	ID            uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	Email         string         `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	DigestEnabled bool           `json:"digest_enabled" gorm:"default:true"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// SearchJob is a saved recurring search: keywords plus an optional filter
// expression, re-executed on every agent run while enabled.
type SearchJob struct {
	ID         uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID     uint           `json:"user_id" gorm:"not null;index"`
	Label      string         `json:"label" gorm:"type:varchar(255);not null"`
	Keywords   StringList     `json:"keywords" gorm:"type:text;not null"`
	PriceMin   *float64       `json:"price_min"`
	PriceMax   *float64       `json:"price_max"`
	Conditions StringList     `json:"conditions" gorm:"type:text"`
	SortKey    string         `json:"sort_key" gorm:"type:varchar(32);default:bestMatch"`
	Enabled    bool           `json:"enabled" gorm:"default:true"`
	LastRunAt  *time.Time     `json:"last_run_at"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	// Relationship
	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// TableName specifies the table name for SearchJob
func (SearchJob) TableName() string {
	return "search_jobs"
}

// SeenRecord remembers that an item was observed for a job, and when it was
// last included in a dispatched digest. LastNotifiedAt stays nil until a
// digest containing the item is confirmed sent.
type SeenRecord struct {
	ID             uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	JobID          uint       `json:"job_id" gorm:"not null;uniqueIndex:idx_seen_key"`
	Source         string     `json:"source" gorm:"type:varchar(32);not null;uniqueIndex:idx_seen_key"`
	ItemID         string     `json:"item_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_seen_key"`
	FirstSeenAt    time.Time  `json:"first_seen_at"`
	LastNotifiedAt *time.Time `json:"last_notified_at"`
}

// TableName specifies the table name for SeenRecord
func (SeenRecord) TableName() string {
	return "seen_records"
}

// RunLog persists the outcome of one agent run for observability.
type RunLog struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID          string    `json:"run_id" gorm:"type:varchar(36);not null;uniqueIndex"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
	JobsProcessed  int       `json:"jobs_processed"`
	JobsSkipped    int       `json:"jobs_skipped"`
	ItemsFound     int       `json:"items_found"`
	ItemsNotified  int       `json:"items_notified"`
	ProviderErrors string    `json:"provider_errors" gorm:"type:text"` // JSON map provider -> count
	Status         string    `json:"status" gorm:"type:varchar(50);not null"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for RunLog
func (RunLog) TableName() string {
	return "run_logs"
}

// Item is the provider-agnostic search result every provider client must
// produce and every downstream consumer accepts unchanged. It is never
// persisted; only SeenRecord keys derived from it are.
type Item struct {
	ID        string    `json:"id"` // provider-qualified, e.g. "ebay:v1|123|0"
	Title     string    `json:"title"`
	Price     *float64  `json:"price,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	URL       string    `json:"url"`
	ImageURL  string    `json:"image_url,omitempty"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// DedupeKey implements the merge equality rule: canonical URL when present,
// otherwise the provider-qualified ID.
func (i Item) DedupeKey() string {
	if i.URL != "" {
		return i.URL
	}
	return i.ID
}

// SeenKey is the composite ledger key for one observed item.
type SeenKey struct {
	Source string
	ItemID string
}

// Key returns the ledger key for an item.
func (i Item) Key() SeenKey {
	return SeenKey{Source: i.Source, ItemID: i.ID}
}

// SearchJobRequest represents the request structure for creating/updating jobs
type SearchJobRequest struct {
	UserID     uint     `json:"user_id" binding:"required"`
	Label      string   `json:"label" binding:"required"`
	Keywords   []string `json:"keywords" binding:"required,min=1"`
	PriceMin   *float64 `json:"price_min"`
	PriceMax   *float64 `json:"price_max"`
	Conditions []string `json:"conditions"`
	SortKey    string   `json:"sort_key"`
	Enabled    *bool    `json:"enabled"`
}

// SearchJobResponse represents the response structure for search jobs
type SearchJobResponse struct {
	ID         uint       `json:"id"`
	UserID     uint       `json:"user_id"`
	Label      string     `json:"label"`
	Keywords   []string   `json:"keywords"`
	PriceMin   *float64   `json:"price_min,omitempty"`
	PriceMax   *float64   `json:"price_max,omitempty"`
	Conditions []string   `json:"conditions,omitempty"`
	SortKey    string     `json:"sort_key"`
	Enabled    bool       `json:"enabled"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Providers map[string]string `json:"providers,omitempty"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
