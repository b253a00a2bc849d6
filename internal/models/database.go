package models

// GORM models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// StringArray for PostgreSQL array support
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}
	return fmt.Sprintf("{%s}", strings.Join(s, ",")), nil
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		if v == "{}" {
			*s = StringArray{}
			return nil
		}
		v = strings.Trim(v, "{}")
		if v == "" {
			*s = StringArray{}
			return nil
		}
		*s = StringArray(strings.Split(v, ","))
	case []byte:
		return s.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}
	return nil
}

// QueryMap stores per-database query strings as jsonb.
type QueryMap map[string]string

func (m QueryMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *QueryMap) Scan(value interface{}) error {
	if value == nil {
		*m = QueryMap{}
		return nil
	}
	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), m)
	case []byte:
		return json.Unmarshal(v, m)
	default:
		return fmt.Errorf("cannot scan %T into QueryMap", value)
	}
}

// CountMap stores per-database result counts as jsonb.
type CountMap map[string]int

func (m CountMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *CountMap) Scan(value interface{}) error {
	if value == nil {
		*m = CountMap{}
		return nil
	}
	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), m)
	case []byte:
		return json.Unmarshal(v, m)
	default:
		return fmt.Errorf("cannot scan %T into CountMap", value)
	}
}

// Base model with common fields
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Search result statuses
const (
	SearchStatusPending   = "pending"
	SearchStatusCompleted = "completed"
	SearchStatusDegraded  = "degraded"
	SearchStatusFailed    = "failed"
)

// SearchResult represents a saved query execution against the compute backend
type SearchResult struct {
	BaseModel
	ProjectID         string      `json:"project_id" gorm:"uniqueIndex;not null"`
	ProjectName       string      `json:"project_name" gorm:"not null"`
	UserID            string      `json:"user_id" gorm:"type:uuid;index;not null"`
	Databases         StringArray `json:"databases" gorm:"type:text[]"`
	Queries           QueryMap    `json:"queries" gorm:"type:jsonb"`
	TotalResults      int         `json:"total_results" gorm:"default:0"`
	ResultsByDatabase CountMap    `json:"results_by_database" gorm:"type:jsonb"`
	Status            string      `json:"status" gorm:"default:'pending';check:status IN ('pending','completed','degraded','failed')"`
	SearchedAt        time.Time   `json:"searched_at" gorm:"default:NOW()"`

	// Associations
	Articles []Article `json:"articles" gorm:"foreignKey:SearchResultID;constraint:OnDelete:CASCADE"`
}

// Article screening statuses
const (
	ScreeningUnscreened = "unscreened"
	ScreeningIncluded   = "included"
	ScreeningExcluded   = "excluded"
)

// Article is a bibliographic record tied to one SearchResult
type Article struct {
	BaseModel
	SearchResultID  uint    `json:"search_result_id" gorm:"index;not null"`
	RecordID        string  `json:"record_id" gorm:"index"`
	Title           string  `json:"title" gorm:"type:text;not null"`
	Authors         string  `json:"authors" gorm:"type:text"`
	Journal         string  `json:"journal"`
	Year            int     `json:"year"`
	DOI             string  `json:"doi" gorm:"index"`
	Abstract        string  `json:"abstract" gorm:"type:text"`
	SourceDB        string  `json:"source_db" gorm:"index"`
	RelevanceScore  float64 `json:"relevance_score" gorm:"default:0"`
	ScreeningStatus string  `json:"screening_status" gorm:"default:'unscreened';check:screening_status IN ('unscreened','included','excluded')"`
	DecisionSource  string  `json:"decision_source"` // simple, ml or manual

	// Associations
	SearchResult SearchResult `json:"-" gorm:"foreignKey:SearchResultID"`
}

// User roles
const (
	RoleFree    = "free"
	RolePremium = "premium"
	RoleAdmin   = "admin"
)

// UserProfile mirrors the hosted auth service's profile row
type UserProfile struct {
	ID           string    `json:"id" gorm:"type:uuid;primaryKey"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null"`
	DisplayName  string    `json:"display_name"`
	SessionToken string    `json:"-" gorm:"uniqueIndex"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserRole grants an authorization tier to a profile
type UserRole struct {
	BaseModel
	UserID string `json:"user_id" gorm:"type:uuid;index;not null"`
	Role   string `json:"role" gorm:"not null;check:role IN ('free','premium','admin')"`
}

// ServiceHealth represents service health monitoring rows
type ServiceHealth struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ServiceName    string    `json:"service_name" gorm:"not null"`
	Status         string    `json:"status" gorm:"not null;check:status IN ('healthy','degraded','unhealthy')"`
	ResponseTimeMs int       `json:"response_time_ms"`
	ErrorMessage   string    `json:"error_message"`
	CheckedAt      time.Time `json:"checked_at" gorm:"default:NOW()"`
}

// Database interfaces for repository pattern
type SearchResultRepository interface {
	Create(result *SearchResult) error
	GetByID(id uint) (*SearchResult, error)
	GetByProjectID(projectID string) (*SearchResult, error)
	GetByUser(userID string) ([]SearchResult, error)
	GetRecent(userID string, limit int) ([]SearchResult, error)
	GetAll(limit int) ([]SearchResult, error)
	UpdateStatus(projectID, status string) error
	Delete(id uint) error
}

type ArticleRepository interface {
	BulkCreate(articles []Article) error
	GetByID(id uint) (*Article, error)
	GetBySearchResult(searchResultID uint) ([]Article, error)
	GetMissingAbstracts(limit int) ([]Article, error)
	UpdateScreening(id uint, status, source string, score float64) error
	UpdateScreeningByRecordIDs(searchResultID uint, recordIDs []string, status, source string, scores map[string]float64) error
	UpdateAbstract(id uint, abstract string) error
	CountByStatus(searchResultID uint, status string) (int64, error)
	DeleteBySearchResult(searchResultID uint) error
}

type UserProfileRepository interface {
	Create(profile *UserProfile) error
	GetByID(id string) (*UserProfile, error)
	GetBySessionToken(token string) (*UserProfile, error)
	GetAll() ([]UserProfile, error)
}

type UserRoleRepository interface {
	Grant(userID, role string) error
	GetRoles(userID string) ([]string, error)
	HasRole(userID, role string) (bool, error)
}

type ServiceHealthRepository interface {
	UpdateServiceHealth(serviceName, status string, responseTime int, errorMsg string) error
	GetServiceHealth(serviceName string) (*ServiceHealth, error)
	GetAllServicesHealth() ([]ServiceHealth, error)
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// TableName methods for custom table names
func (SearchResult) TableName() string  { return "search_results" }
func (Article) TableName() string       { return "articles" }
func (UserProfile) TableName() string   { return "profiles" }
func (UserRole) TableName() string      { return "user_roles" }
func (ServiceHealth) TableName() string { return "service_health" }

// Model validation methods
func (sr *SearchResult) Validate() error {
	if sr.ProjectID == "" {
		return fmt.Errorf("project ID is required")
	}
	if sr.ProjectName == "" {
		return fmt.Errorf("project name is required")
	}
	if sr.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	validStatuses := map[string]bool{
		SearchStatusPending:   true,
		SearchStatusCompleted: true,
		SearchStatusDegraded:  true,
		SearchStatusFailed:    true,
	}
	if !validStatuses[sr.Status] {
		return fmt.Errorf("invalid search status: %s", sr.Status)
	}
	return nil
}

func (a *Article) Validate() error {
	if a.SearchResultID == 0 {
		return fmt.Errorf("search result ID is required")
	}
	if a.Title == "" {
		return fmt.Errorf("article title is required")
	}
	validStatuses := map[string]bool{
		ScreeningUnscreened: true,
		ScreeningIncluded:   true,
		ScreeningExcluded:   true,
	}
	if !validStatuses[a.ScreeningStatus] {
		return fmt.Errorf("invalid screening status: %s", a.ScreeningStatus)
	}
	return nil
}

func (ur *UserRole) Validate() error {
	if ur.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	validRoles := map[string]bool{
		RoleFree:    true,
		RolePremium: true,
		RoleAdmin:   true,
	}
	if !validRoles[ur.Role] {
		return fmt.Errorf("invalid role: %s", ur.Role)
	}
	return nil
}

// GORM hooks
func (sr *SearchResult) BeforeCreate(tx *gorm.DB) error {
	if sr.Status == "" {
		sr.Status = SearchStatusPending
	}
	return sr.Validate()
}

func (a *Article) BeforeCreate(tx *gorm.DB) error {
	if a.ScreeningStatus == "" {
		a.ScreeningStatus = ScreeningUnscreened
	}
	return a.Validate()
}

func (ur *UserRole) BeforeCreate(tx *gorm.DB) error {
	return ur.Validate()
}
