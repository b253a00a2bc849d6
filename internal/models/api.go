package models

// API request/response models

import "time"

// SearchSubmitRequest is the body of POST /api/search
type SearchSubmitRequest struct {
	ProjectName     string            `json:"project_name" binding:"required"`
	Databases       []string          `json:"databases" binding:"required,min=1"`
	Queries         map[string]string `json:"queries" binding:"required"`
	DateStart       string            `json:"date_start"`
	DateEnd         string            `json:"date_end"`
	Language        string            `json:"language"`
	PubTypesExclude []string          `json:"pub_types_exclude"`
	Email           string            `json:"email"`
	APIKeys         map[string]string `json:"api_keys"`
}

// DeduplicateRequest is the body of POST /api/projects/:id/deduplicate
type DeduplicateRequest struct {
	FuzzyThreshold int `json:"fuzzy_threshold"`
}

// ScreenSimpleSubmitRequest is the body of POST /api/projects/:id/screen/simple
type ScreenSimpleSubmitRequest struct {
	IncludeTerms []string `json:"include_terms" binding:"required,min=1"`
	ExcludeTerms []string `json:"exclude_terms"`
	Logic        string   `json:"logic"`
}

// ScreenMLSubmitRequest is the body of POST /api/projects/:id/screen/ml
type ScreenMLSubmitRequest struct {
	Labels    []ScreenLabel `json:"labels" binding:"required,min=1"`
	Threshold float64       `json:"threshold"`
}

type ScreenLabel struct {
	RecordID string `json:"record_id" binding:"required"`
	Label    int    `json:"label" binding:"oneof=0 1"`
}

// PrismaSubmitRequest is the body of POST /api/projects/:id/prisma
type PrismaSubmitRequest struct {
	IdentifiedTotal   int `json:"identified_total"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	RecordsScreened   int `json:"records_screened"`
	RecordsExcluded   int `json:"records_excluded"`
	StudiesIncluded   int `json:"studies_included"`
}

// ScreeningUpdateRequest is the body of PATCH /api/articles/:id/screening
type ScreeningUpdateRequest struct {
	Status string `json:"status" binding:"required,oneof=unscreened included excluded"`
}

// SearchSubmitResponse is returned by POST /api/search on success
type SearchSubmitResponse struct {
	ProjectID         string         `json:"project_id"`
	ProjectName       string         `json:"project_name"`
	TotalRecords      int            `json:"total_records"`
	RecordsByDatabase map[string]int `json:"records_by_database"`
	Degraded          bool           `json:"degraded"`
	DroppedDatabases  []string       `json:"dropped_databases,omitempty"`
	Message           string         `json:"message,omitempty"`
	Preview           []ArticleView  `json:"preview"`
}

// ArticleView is the trimmed article shape returned in previews
type ArticleView struct {
	RecordID        string  `json:"record_id"`
	Title           string  `json:"title"`
	Authors         string  `json:"authors"`
	Journal         string  `json:"journal"`
	Year            int     `json:"year"`
	DOI             string  `json:"doi"`
	SourceDB        string  `json:"source_db"`
	ScreeningStatus string  `json:"screening_status,omitempty"`
	Score           float64 `json:"score,omitempty"`
}

// RecentSearchView is one row of GET /api/searches/recent
type RecentSearchView struct {
	ProjectID    string    `json:"project_id"`
	ProjectName  string    `json:"project_name"`
	Databases    []string  `json:"databases"`
	TotalResults int       `json:"total_results"`
	Status       string    `json:"status"`
	SearchedAt   time.Time `json:"searched_at"`
}

// AdminCreateUserRequest is the body of POST /api/admin/users
type AdminCreateUserRequest struct {
	Email       string `json:"email" binding:"required,email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role" binding:"omitempty,oneof=free premium admin"`
}

// AdminUserView is one row of GET /api/admin/users
type AdminUserView struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Roles       []string  `json:"roles"`
	CreatedAt   time.Time `json:"created_at"`
}
