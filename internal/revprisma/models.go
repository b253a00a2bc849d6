package revprisma

// Request models

type SearchRequest struct {
	ProjectName            string            `json:"project_name"`
	Databases              []string          `json:"databases"`
	Queries                map[string]string `json:"queries"`
	DateStart              string            `json:"date_start,omitempty"`
	DateEnd                string            `json:"date_end,omitempty"`
	FiltersLanguage        []string          `json:"filters_language,omitempty"`
	FiltersPubTypesExclude []string          `json:"filters_pub_types_exclude,omitempty"`
	Email                  string            `json:"email,omitempty"`
	APIKeys                map[string]string `json:"api_keys,omitempty"`
}

type ScreenSimpleRequest struct {
	Records         []Record `json:"records"`
	IncludeKeywords []string `json:"include_keywords"`
	ExcludeKeywords []string `json:"exclude_keywords"`
	IncludeLogic    string   `json:"include_logic,omitempty"`
	ExcludeLogic    string   `json:"exclude_logic,omitempty"`
}

type ScreenMLRequest struct {
	Records    []Record     `json:"records"`
	LabelsData []LabelEntry `json:"labels_data"`
	Threshold  float64      `json:"threshold"`
}

type LabelEntry struct {
	RecordID string `json:"record_id"`
	Label    int    `json:"label"`
}

type PrismaRequest struct {
	RecordsCounts map[string]int         `json:"records_counts"`
	CustomInputs  map[string]interface{} `json:"custom_inputs,omitempty"`
}

// Record is the standardized bibliographic record shape the compute backend
// produces for every source database.
type Record struct {
	RecordID          string  `json:"record_id"`
	Source            string  `json:"source"`
	Title             string  `json:"title"`
	Abstract          string  `json:"abstract"`
	Authors           string  `json:"authors"`
	Journal           string  `json:"journal"`
	Year              int     `json:"year,omitempty"`
	Language          string  `json:"language,omitempty"`
	PubTypes          string  `json:"pub_types,omitempty"`
	DOI               string  `json:"doi,omitempty"`
	PMID              string  `json:"pmid,omitempty"`
	EID               string  `json:"eid,omitempty"`
	WosUID            string  `json:"wos_uid,omitempty"`
	Query             string  `json:"query,omitempty"`
	RetrievedAt       string  `json:"retrieved_at,omitempty"`
	ScreenScore       float64 `json:"screen_score,omitempty"`
	ScreeningDecision string  `json:"screening_decision,omitempty"`
}

// Response models

type SearchResponse struct {
	ProjectID         string         `json:"project_id"`
	TotalRecords      int            `json:"total_records"`
	RecordsByDatabase map[string]int `json:"records_by_database"`
	Records           []Record       `json:"records"`
	Message           string         `json:"message"`
}

type DedupResponse struct {
	OriginalCount     int      `json:"original_count"`
	DeduplicatedCount int      `json:"deduplicated_count"`
	DuplicatesRemoved int      `json:"duplicates_removed"`
	Records           []Record `json:"records"`
}

type ScreenResponse struct {
	TotalScreened   int      `json:"total_screened"`
	IncludedCount   int      `json:"included_count"`
	ExcludedCount   int      `json:"excluded_count"`
	ThresholdUsed   float64  `json:"threshold_used,omitempty"`
	IncludedRecords []Record `json:"included_records"`
}

type MetricsResponse struct {
	BasicStats *BasicStats        `json:"basic_stats,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

type BasicStats struct {
	TotalScreened int     `json:"total_screened"`
	Included      int     `json:"included"`
	Excluded      int     `json:"excluded"`
	InclusionRate float64 `json:"inclusion_rate"`
}

type PrismaResponse struct {
	Counts           map[string]int `json:"counts"`
	DiagramGenerated bool           `json:"diagram_generated"`
	DownloadURL      string         `json:"download_url"`
}

type ProjectStatusResponse struct {
	ProjectID       string `json:"project_id"`
	ProjectName     string `json:"project_name"`
	HasRawData      bool   `json:"has_raw_data"`
	HasDeduplicated bool   `json:"has_deduplicated"`
	HasScreened     bool   `json:"has_screened"`
	RawCount        int    `json:"raw_count"`
	DedupCount      int    `json:"dedup_count"`
	ScreenedCount   int    `json:"screened_count"`
	IncludedCount   int    `json:"included_count,omitempty"`
	ExcludedCount   int    `json:"excluded_count,omitempty"`
}

type ProjectListResponse struct {
	Projects []ProjectSummary `json:"projects"`
}

type ProjectSummary struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	CreatedAt   string `json:"created_at"`
	Status      string `json:"status"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Export holds the raw bytes of a generated export file.
type Export struct {
	Data        []byte
	ContentType string
}
