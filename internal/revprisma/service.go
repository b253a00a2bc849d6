package revprisma

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// fallbackDatabase is dropped and the search resubmitted when a federated
// search fails; PubMed is by far the most common source of malformed
// responses upstream.
const fallbackDatabase = "pubmed"

type Service struct {
	client *Client
	logger *logrus.Logger
}

func NewService(client *Client, logger *logrus.Logger) *Service {
	return &Service{
		client: client,
		logger: logger,
	}
}

// SearchOutcome wraps a search response together with degradation info from
// the fallback path.
type SearchOutcome struct {
	Response *SearchResponse
	Degraded bool
	Dropped  []string
	Message  string
}

// SubmitSearch runs a federated search. If the first attempt fails and PubMed
// was among the requested databases, the search is resubmitted once without
// it and the outcome is flagged as degraded.
func (s *Service) SubmitSearch(ctx context.Context, req SearchRequest) (*SearchOutcome, error) {
	resp, err := s.client.Search(ctx, req)
	if err == nil {
		return &SearchOutcome{Response: resp, Message: resp.Message}, nil
	}

	if !containsDatabase(req.Databases, fallbackDatabase) {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"project": req.ProjectName,
		"error":   err.Error(),
	}).Warn("Search failed, retrying without PubMed")

	retryReq := withoutDatabase(req, fallbackDatabase)
	if len(retryReq.Databases) == 0 {
		return nil, err
	}

	resp, retryErr := s.client.Search(ctx, retryReq)
	if retryErr != nil {
		// Surface the original failure; the fallback attempt is secondary.
		return nil, fmt.Errorf("search failed (fallback without %s also failed: %v): %w", fallbackDatabase, retryErr, err)
	}

	return &SearchOutcome{
		Response: resp,
		Degraded: true,
		Dropped:  []string{fallbackDatabase},
		Message:  fmt.Sprintf("Search completed without %s results: %s source failed and was skipped", fallbackDatabase, fallbackDatabase),
	}, nil
}

// Deduplicate removes duplicate records for a project.
func (s *Service) Deduplicate(ctx context.Context, projectID string, fuzzyThreshold int) (*DedupResponse, error) {
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = 95
	}
	return s.client.Deduplicate(ctx, projectID, fuzzyThreshold)
}

// ScreenSimple runs keyword screening against a project's records.
func (s *Service) ScreenSimple(ctx context.Context, projectID string, req ScreenSimpleRequest) (*ScreenResponse, error) {
	if req.IncludeLogic == "" {
		req.IncludeLogic = "any"
	}
	if req.ExcludeLogic == "" {
		req.ExcludeLogic = "any"
	}
	return s.client.ScreenSimple(ctx, projectID, req)
}

// ScreenML runs model-based screening against a project's records.
func (s *Service) ScreenML(ctx context.Context, projectID string, req ScreenMLRequest) (*ScreenResponse, error) {
	if req.Threshold == 0 {
		req.Threshold = 0.5
	}
	return s.client.ScreenML(ctx, projectID, req)
}

// Metrics fetches screening quality metrics for a project.
func (s *Service) Metrics(ctx context.Context, projectID string) (*MetricsResponse, error) {
	return s.client.Metrics(ctx, projectID)
}

// GeneratePrisma requests a PRISMA 2020 flow diagram.
func (s *Service) GeneratePrisma(ctx context.Context, projectID string, req *PrismaRequest) (*PrismaResponse, error) {
	return s.client.Prisma(ctx, projectID, req)
}

// ExportProject downloads the project export in the given backend format.
func (s *Service) ExportProject(ctx context.Context, projectID, format string) (*Export, error) {
	return s.client.ExportProject(ctx, projectID, format)
}

// ProjectStatus reads the backend's view of a project.
func (s *Service) ProjectStatus(ctx context.Context, projectID string) (*ProjectStatusResponse, error) {
	return s.client.ProjectStatusWithRetry(ctx, projectID)
}

func containsDatabase(databases []string, name string) bool {
	for _, db := range databases {
		if db == name {
			return true
		}
	}
	return false
}

func withoutDatabase(req SearchRequest, name string) SearchRequest {
	out := req
	out.Databases = make([]string, 0, len(req.Databases))
	for _, db := range req.Databases {
		if db != name {
			out.Databases = append(out.Databases, db)
		}
	}
	out.Queries = make(map[string]string, len(req.Queries))
	for db, q := range req.Queries {
		if db != name {
			out.Queries[db] = q
		}
	}
	return out
}
