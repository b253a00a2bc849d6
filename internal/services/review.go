package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/revprisma/gateway/internal/database"
	"github.com/revprisma/gateway/internal/metrics"
	"github.com/revprisma/gateway/internal/models"
	"github.com/revprisma/gateway/internal/repository"
	"github.com/revprisma/gateway/internal/revprisma"
	"github.com/revprisma/gateway/internal/state"
	"github.com/revprisma/gateway/pkg/utils"
)

// Preview caps keep response payloads bounded; full data stays on the backend
// and is reachable through export.
const (
	searchPreviewLimit = 100
	screenPreviewLimit = 50
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrNotProjectOwner = errors.New("project belongs to another user")
	ErrUnknownFormat   = errors.New("unknown export format")
	ErrArticleNotFound = errors.New("article not found")
	ErrNothingToScreen = errors.New("no records available for screening")
)

// ReviewService orchestrates the systematic review workflow across the
// compute backend, the database and the in-memory project state.
type ReviewService struct {
	api    *revprisma.Service
	repos  *repository.RepositoryManager
	state  *state.Store
	cache  *database.Cache
	meter  *metrics.Collector
	logger *logrus.Logger
}

func NewReviewService(api *revprisma.Service, repos *repository.RepositoryManager, stateStore *state.Store, cache *database.Cache, meter *metrics.Collector, logger *logrus.Logger) *ReviewService {
	return &ReviewService{
		api:    api,
		repos:  repos,
		state:  stateStore,
		cache:  cache,
		meter:  meter,
		logger: logger,
	}
}

// RunSearch submits a federated search and persists the outcome. On failure a
// failed SearchResult row is saved for history, no articles are stored and the
// project state cache is left untouched.
func (s *ReviewService) RunSearch(ctx context.Context, user *models.UserProfile, req *models.SearchSubmitRequest) (*models.SearchSubmitResponse, error) {
	s.meter.SearchesTotal.Inc()

	outcome, err := s.api.SubmitSearch(ctx, revprisma.SearchRequest{
		ProjectName:            req.ProjectName,
		Databases:              req.Databases,
		Queries:                req.Queries,
		DateStart:              req.DateStart,
		DateEnd:                req.DateEnd,
		FiltersLanguage:        languageFilter(req.Language),
		FiltersPubTypesExclude: req.PubTypesExclude,
		Email:                  req.Email,
		APIKeys:                req.APIKeys,
	})
	if err != nil {
		s.meter.SearchesFailed.Inc()
		s.recordFailedSearch(user, req)
		return nil, fmt.Errorf("search failed: %w", err)
	}

	resp := outcome.Response
	status := models.SearchStatusCompleted
	if outcome.Degraded {
		status = models.SearchStatusDegraded
		s.meter.SearchesDegraded.Inc()
	}

	result := &models.SearchResult{
		ProjectID:         resp.ProjectID,
		ProjectName:       req.ProjectName,
		UserID:            user.ID,
		Databases:         models.StringArray(req.Databases),
		Queries:           models.QueryMap(req.Queries),
		TotalResults:      resp.TotalRecords,
		ResultsByDatabase: models.CountMap(resp.RecordsByDatabase),
		Status:            status,
		SearchedAt:        time.Now(),
	}
	if err := s.repos.SearchResult.Create(result); err != nil {
		return nil, fmt.Errorf("failed to save search result: %w", err)
	}

	articles := articlesFromRecords(result.ID, resp.Records)
	if err := s.repos.Article.BulkCreate(articles); err != nil {
		s.logger.WithError(err).WithField("project_id", resp.ProjectID).
			Error("Failed to save articles")
	}

	s.state.Put(&state.ProjectState{
		ProjectID:   resp.ProjectID,
		ProjectName: req.ProjectName,
		OwnerID:     user.ID,
		RawCount:    resp.TotalRecords,
		Stage:       state.StageSearched,
		Records:     resp.Records,
	})

	if err := s.cache.InvalidateRecentSearches(ctx, user.ID); err != nil {
		s.logger.WithError(err).Debug("Failed to invalidate recent searches cache")
	}

	s.logger.WithFields(logrus.Fields{
		"project_id": resp.ProjectID,
		"records":    resp.TotalRecords,
		"degraded":   outcome.Degraded,
	}).Info("Search completed")

	return &models.SearchSubmitResponse{
		ProjectID:         resp.ProjectID,
		ProjectName:       req.ProjectName,
		TotalRecords:      resp.TotalRecords,
		RecordsByDatabase: resp.RecordsByDatabase,
		Degraded:          outcome.Degraded,
		DroppedDatabases:  outcome.Dropped,
		Message:           outcome.Message,
		Preview:           previewFromRecords(resp.Records, searchPreviewLimit),
	}, nil
}

func (s *ReviewService) recordFailedSearch(user *models.UserProfile, req *models.SearchSubmitRequest) {
	// No backend project ID exists for a failed search; a local one keeps
	// the history row addressable.
	failed := &models.SearchResult{
		ProjectID:   "failed-" + uuid.NewString(),
		ProjectName: req.ProjectName,
		UserID:      user.ID,
		Databases:   models.StringArray(req.Databases),
		Queries:     models.QueryMap(req.Queries),
		Status:      models.SearchStatusFailed,
		SearchedAt:  time.Now(),
	}
	if err := s.repos.SearchResult.Create(failed); err != nil {
		s.logger.WithError(err).Error("Failed to record failed search")
	}
}

// Deduplicate removes duplicates on the backend and refreshes project state.
func (s *ReviewService) Deduplicate(ctx context.Context, user *models.UserProfile, projectID string, fuzzyThreshold int) (*revprisma.DedupResponse, []models.ArticleView, error) {
	if err := s.checkOwnership(user, projectID); err != nil {
		return nil, nil, err
	}

	resp, err := s.api.Deduplicate(ctx, projectID, fuzzyThreshold)
	if err != nil {
		return nil, nil, err
	}

	s.state.Update(projectID, func(ps *state.ProjectState) {
		ps.DedupCount = resp.DeduplicatedCount
		ps.Stage = state.StageDeduplicated
		ps.Records = resp.Records
	})

	if err := s.cache.InvalidateProject(ctx, projectID); err != nil {
		s.logger.WithError(err).Debug("Failed to invalidate project cache")
	}

	return resp, previewFromRecords(resp.Records, searchPreviewLimit), nil
}

// ScreenSimple runs keyword screening and mirrors decisions onto stored articles.
func (s *ReviewService) ScreenSimple(ctx context.Context, user *models.UserProfile, projectID string, req *models.ScreenSimpleSubmitRequest) (*revprisma.ScreenResponse, []models.ArticleView, error) {
	if err := s.checkOwnership(user, projectID); err != nil {
		return nil, nil, err
	}

	ps := s.state.Get(projectID)
	if ps == nil || len(ps.Records) == 0 {
		return nil, nil, ErrNothingToScreen
	}

	resp, err := s.api.ScreenSimple(ctx, projectID, revprisma.ScreenSimpleRequest{
		Records:         ps.Records,
		IncludeKeywords: req.IncludeTerms,
		ExcludeKeywords: req.ExcludeTerms,
		IncludeLogic:    req.Logic,
	})
	if err != nil {
		return nil, nil, err
	}
	s.meter.ScreeningsTotal.WithLabelValues("simple").Inc()

	s.applyScreening(ctx, projectID, ps, resp, "simple")

	return resp, previewFromRecords(resp.IncludedRecords, screenPreviewLimit), nil
}

// ScreenML runs model-based screening and mirrors decisions onto stored articles.
func (s *ReviewService) ScreenML(ctx context.Context, user *models.UserProfile, projectID string, req *models.ScreenMLSubmitRequest) (*revprisma.ScreenResponse, []models.ArticleView, error) {
	if err := s.checkOwnership(user, projectID); err != nil {
		return nil, nil, err
	}

	ps := s.state.Get(projectID)
	if ps == nil || len(ps.Records) == 0 {
		return nil, nil, ErrNothingToScreen
	}

	labels := make([]revprisma.LabelEntry, len(req.Labels))
	for i, l := range req.Labels {
		labels[i] = revprisma.LabelEntry{RecordID: l.RecordID, Label: l.Label}
	}

	resp, err := s.api.ScreenML(ctx, projectID, revprisma.ScreenMLRequest{
		Records:    ps.Records,
		LabelsData: labels,
		Threshold:  req.Threshold,
	})
	if err != nil {
		return nil, nil, err
	}
	s.meter.ScreeningsTotal.WithLabelValues("ml").Inc()

	s.applyScreening(ctx, projectID, ps, resp, "ml")

	return resp, previewFromRecords(resp.IncludedRecords, screenPreviewLimit), nil
}

// applyScreening updates the project state and the stored articles' screening
// fields. Only screening columns change; bibliographic data is untouched.
func (s *ReviewService) applyScreening(ctx context.Context, projectID string, ps *state.ProjectState, resp *revprisma.ScreenResponse, source string) {
	includedIDs := make(map[string]bool, len(resp.IncludedRecords))
	scores := make(map[string]float64)
	for _, rec := range resp.IncludedRecords {
		includedIDs[rec.RecordID] = true
		if rec.ScreenScore > 0 {
			scores[rec.RecordID] = rec.ScreenScore
		}
	}

	var included, excluded []string
	for _, rec := range ps.Records {
		if includedIDs[rec.RecordID] {
			included = append(included, rec.RecordID)
		} else {
			excluded = append(excluded, rec.RecordID)
		}
	}

	s.state.Update(projectID, func(st *state.ProjectState) {
		st.ScreenedCount = resp.TotalScreened
		st.IncludedCount = resp.IncludedCount
		st.ExcludedCount = resp.ExcludedCount
		st.Stage = state.StageScreened
	})

	result, err := s.repos.SearchResult.GetByProjectID(projectID)
	if err != nil {
		s.logger.WithError(err).WithField("project_id", projectID).
			Warn("No stored search result to mirror screening into")
		return
	}

	if err := s.repos.Article.UpdateScreeningByRecordIDs(result.ID, included, models.ScreeningIncluded, source, scores); err != nil {
		s.logger.WithError(err).Error("Failed to mark included articles")
	}
	if err := s.repos.Article.UpdateScreeningByRecordIDs(result.ID, excluded, models.ScreeningExcluded, source, nil); err != nil {
		s.logger.WithError(err).Error("Failed to mark excluded articles")
	}

	if err := s.cache.InvalidateProject(ctx, projectID); err != nil {
		s.logger.WithError(err).Debug("Failed to invalidate project cache")
	}
}

// Metrics fetches screening quality metrics, cached briefly in Redis.
func (s *ReviewService) Metrics(ctx context.Context, user *models.UserProfile, projectID string) (*revprisma.MetricsResponse, error) {
	if err := s.checkOwnership(user, projectID); err != nil {
		return nil, err
	}

	var cached revprisma.MetricsResponse
	if err := s.cache.GetCachedProjectMetrics(ctx, projectID, &cached); err == nil {
		return &cached, nil
	}

	resp, err := s.api.Metrics(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.CacheProjectMetrics(ctx, projectID, resp, 5*time.Minute); err != nil {
		s.logger.WithError(err).Debug("Failed to cache project metrics")
	}

	return resp, nil
}

// GeneratePrisma requests a PRISMA flow diagram. Counts missing from the
// request are inferred from project state:
//
//	duplicates_removed = raw - deduplicated
//	records_excluded   = deduplicated - included
func (s *ReviewService) GeneratePrisma(ctx context.Context, user *models.UserProfile, projectID string, req *models.PrismaSubmitRequest) (*revprisma.PrismaResponse, error) {
	if err := s.checkOwnership(user, projectID); err != nil {
		return nil, err
	}

	counts := map[string]int{}
	if req != nil {
		counts["identified_total"] = req.IdentifiedTotal
		counts["duplicates_removed"] = req.DuplicatesRemoved
		counts["records_screened"] = req.RecordsScreened
		counts["records_excluded"] = req.RecordsExcluded
		counts["studies_included"] = req.StudiesIncluded
	}

	if ps := s.state.Get(projectID); ps != nil {
		if counts["identified_total"] == 0 {
			counts["identified_total"] = ps.RawCount
		}
		if counts["duplicates_removed"] == 0 && ps.DedupCount > 0 {
			counts["duplicates_removed"] = ps.RawCount - ps.DedupCount
		}
		if counts["records_screened"] == 0 {
			counts["records_screened"] = ps.DedupCount
		}
		if counts["records_excluded"] == 0 && ps.IncludedCount > 0 {
			counts["records_excluded"] = ps.DedupCount - ps.IncludedCount
		}
		if counts["studies_included"] == 0 {
			counts["studies_included"] = ps.IncludedCount
		}
	}

	resp, err := s.api.GeneratePrisma(ctx, projectID, &revprisma.PrismaRequest{RecordsCounts: counts})
	if err != nil {
		return nil, err
	}

	s.state.Update(projectID, func(st *state.ProjectState) {
		st.Stage = state.StageCompleted
	})

	return resp, nil
}

// ExportResult carries a downloadable export with its delivery metadata.
type ExportResult struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Export formats
const (
	FormatCSV   = "csv"
	FormatExcel = "excel"
)

// Export downloads a project export from the backend. The filename is derived
// from the stored project name.
func (s *ReviewService) Export(ctx context.Context, user *models.UserProfile, projectID, format string) (*ExportResult, error) {
	if format != FormatCSV && format != FormatExcel {
		return nil, ErrUnknownFormat
	}

	result, err := s.repos.SearchResult.GetByProjectID(projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	if result.UserID != user.ID {
		return nil, ErrNotProjectOwner
	}

	export, err := s.api.ExportProject(ctx, projectID, format)
	if err != nil {
		return nil, err
	}
	s.meter.ExportsTotal.WithLabelValues(format).Inc()

	base := sanitizeFilename(result.ProjectName) + "_results"
	out := &ExportResult{Data: export.Data}
	switch format {
	case FormatCSV:
		out.Filename = base + ".csv"
		out.ContentType = "text/csv"
	case FormatExcel:
		out.Filename = base + ".xlsx"
		out.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if export.ContentType != "" {
		out.ContentType = export.ContentType
	}

	return out, nil
}

// ProjectStatus returns the pipeline position of a project, preferring local
// state and falling back to the backend.
func (s *ReviewService) ProjectStatus(ctx context.Context, user *models.UserProfile, projectID string) (*revprisma.ProjectStatusResponse, error) {
	if err := s.checkOwnership(user, projectID); err != nil {
		return nil, err
	}

	if ps := s.state.Get(projectID); ps != nil {
		return &revprisma.ProjectStatusResponse{
			ProjectID:       ps.ProjectID,
			ProjectName:     ps.ProjectName,
			HasRawData:      ps.RawCount > 0,
			HasDeduplicated: ps.DedupCount > 0,
			HasScreened:     ps.ScreenedCount > 0,
			RawCount:        ps.RawCount,
			DedupCount:      ps.DedupCount,
			ScreenedCount:   ps.ScreenedCount,
			IncludedCount:   ps.IncludedCount,
			ExcludedCount:   ps.ExcludedCount,
		}, nil
	}

	var cached revprisma.ProjectStatusResponse
	if err := s.cache.GetCachedProjectStatus(ctx, projectID, &cached); err == nil {
		return &cached, nil
	}

	resp, err := s.api.ProjectStatus(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.CacheProjectStatus(ctx, projectID, resp, time.Minute); err != nil {
		s.logger.WithError(err).Debug("Failed to cache project status")
	}

	return resp, nil
}

// ListProjects returns the caller's saved projects, newest first.
func (s *ReviewService) ListProjects(user *models.UserProfile) ([]models.RecentSearchView, error) {
	results, err := s.repos.SearchResult.GetByUser(user.ID)
	if err != nil {
		return nil, err
	}
	return searchViews(results), nil
}

// RecentSearches returns the caller's five most recent searches.
func (s *ReviewService) RecentSearches(ctx context.Context, user *models.UserProfile) ([]models.RecentSearchView, error) {
	if cached, err := s.cache.GetCachedRecentSearches(ctx, user.ID); err == nil {
		return cached, nil
	}

	results, err := s.repos.SearchResult.GetRecent(user.ID, 5)
	if err != nil {
		return nil, err
	}
	views := searchViews(results)

	if err := s.cache.CacheRecentSearches(ctx, user.ID, views, time.Minute); err != nil {
		s.logger.WithError(err).Debug("Failed to cache recent searches")
	}

	return views, nil
}

// ProjectArticles returns the stored articles for one of the caller's projects.
func (s *ReviewService) ProjectArticles(user *models.UserProfile, projectID string) ([]models.Article, error) {
	result, err := s.repos.SearchResult.GetByProjectID(projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	if result.UserID != user.ID {
		return nil, ErrNotProjectOwner
	}
	return s.repos.Article.GetBySearchResult(result.ID)
}

// UpdateArticleScreening records a manual include/exclude decision. Only the
// screening fields are modified.
func (s *ReviewService) UpdateArticleScreening(user *models.UserProfile, articleID uint, status string) (*models.Article, error) {
	article, err := s.repos.Article.GetByID(articleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrArticleNotFound
		}
		return nil, err
	}

	result, err := s.repos.SearchResult.GetByID(article.SearchResultID)
	if err != nil {
		return nil, err
	}
	if result.UserID != user.ID {
		return nil, ErrNotProjectOwner
	}

	if err := s.repos.Article.UpdateScreening(articleID, status, "manual", 0); err != nil {
		return nil, err
	}

	article.ScreeningStatus = status
	article.DecisionSource = "manual"
	return article, nil
}

// DeleteProject removes a saved search and all of its articles.
func (s *ReviewService) DeleteProject(ctx context.Context, user *models.UserProfile, projectID string) error {
	result, err := s.repos.SearchResult.GetByProjectID(projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		return err
	}
	if result.UserID != user.ID {
		return ErrNotProjectOwner
	}

	if err := s.repos.SearchResult.Delete(result.ID); err != nil {
		return err
	}

	s.state.Delete(projectID)
	if err := s.cache.InvalidateProject(ctx, projectID); err != nil {
		s.logger.WithError(err).Debug("Failed to invalidate project cache")
	}
	if err := s.cache.InvalidateRecentSearches(ctx, user.ID); err != nil {
		s.logger.WithError(err).Debug("Failed to invalidate recent searches cache")
	}

	return nil
}

// AdminListUsers returns every profile with its roles.
func (s *ReviewService) AdminListUsers() ([]models.AdminUserView, error) {
	profiles, err := s.repos.UserProfile.GetAll()
	if err != nil {
		return nil, err
	}

	views := make([]models.AdminUserView, 0, len(profiles))
	for _, p := range profiles {
		roles, err := s.repos.UserRole.GetRoles(p.ID)
		if err != nil {
			s.logger.WithError(err).WithField("user_id", p.ID).Warn("Failed to load roles")
			roles = nil
		}
		views = append(views, models.AdminUserView{
			ID:          p.ID,
			Email:       p.Email,
			DisplayName: p.DisplayName,
			Roles:       roles,
			CreatedAt:   p.CreatedAt,
		})
	}
	return views, nil
}

// AdminCreateUser provisions a profile with a fresh session token and an
// initial role. The token is returned once and never readable afterwards.
func (s *ReviewService) AdminCreateUser(email, displayName, role string) (*models.UserProfile, string, error) {
	if role == "" {
		role = models.RoleFree
	}

	token := utils.NewSessionToken()
	profile := &models.UserProfile{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		SessionToken: token,
	}
	if err := s.repos.UserProfile.Create(profile); err != nil {
		return nil, "", fmt.Errorf("failed to create profile: %w", err)
	}
	if err := s.repos.UserRole.Grant(profile.ID, role); err != nil {
		return nil, "", fmt.Errorf("failed to grant role: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": profile.ID,
		"role":    role,
	}).Info("User provisioned")

	return profile, token, nil
}

// AdminListSearches returns recent searches across all users.
func (s *ReviewService) AdminListSearches(limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repos.SearchResult.GetAll(limit)
}

// CleanupStaleHealthRecords deletes health rows older than the retention window.
func (s *ReviewService) CleanupStaleHealthRecords(retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	deleted, err := s.repos.ServiceHealth.DeleteOlderThan(cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Health record cleanup failed")
		return
	}
	if deleted > 0 {
		s.logger.WithField("deleted", deleted).Info("Cleaned up stale health records")
	}
}

func (s *ReviewService) checkOwnership(user *models.UserProfile, projectID string) error {
	if ps := s.state.Get(projectID); ps != nil {
		if ps.OwnerID != user.ID {
			return ErrNotProjectOwner
		}
		return nil
	}

	result, err := s.repos.SearchResult.GetByProjectID(projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		return err
	}
	if result.UserID != user.ID {
		return ErrNotProjectOwner
	}
	return nil
}

func articlesFromRecords(searchResultID uint, records []revprisma.Record) []models.Article {
	articles := make([]models.Article, 0, len(records))
	for _, rec := range records {
		if rec.Title == "" {
			continue
		}
		articles = append(articles, models.Article{
			SearchResultID:  searchResultID,
			RecordID:        rec.RecordID,
			Title:           rec.Title,
			Authors:         rec.Authors,
			Journal:         rec.Journal,
			Year:            rec.Year,
			DOI:             rec.DOI,
			Abstract:        rec.Abstract,
			SourceDB:        rec.Source,
			ScreeningStatus: models.ScreeningUnscreened,
		})
	}
	return articles
}

func previewFromRecords(records []revprisma.Record, limit int) []models.ArticleView {
	if len(records) > limit {
		records = records[:limit]
	}
	views := make([]models.ArticleView, len(records))
	for i, rec := range records {
		views[i] = models.ArticleView{
			RecordID:        rec.RecordID,
			Title:           rec.Title,
			Authors:         rec.Authors,
			Journal:         rec.Journal,
			Year:            rec.Year,
			DOI:             rec.DOI,
			SourceDB:        rec.Source,
			ScreeningStatus: rec.ScreeningDecision,
			Score:           rec.ScreenScore,
		}
	}
	return views
}

func searchViews(results []models.SearchResult) []models.RecentSearchView {
	views := make([]models.RecentSearchView, len(results))
	for i, r := range results {
		views[i] = models.RecentSearchView{
			ProjectID:    r.ProjectID,
			ProjectName:  r.ProjectName,
			Databases:    []string(r.Databases),
			TotalResults: r.TotalResults,
			Status:       r.Status,
			SearchedAt:   r.SearchedAt,
		}
	}
	return views
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_")
	name = replacer.Replace(name)
	if name == "" {
		name = "project"
	}
	return name
}

func languageFilter(lang string) []string {
	if lang == "" {
		return nil
	}
	return []string{lang}
}
