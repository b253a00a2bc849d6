package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/revprisma/gateway/internal/database"
	"github.com/revprisma/gateway/internal/metrics"
	"github.com/revprisma/gateway/internal/models"
	"github.com/revprisma/gateway/internal/repository"
	"github.com/revprisma/gateway/internal/revprisma"
	"github.com/revprisma/gateway/internal/state"
)

// In-memory repository fakes

type fakeSearchResultRepo struct {
	results map[string]*models.SearchResult
	nextID  uint
}

func newFakeSearchResultRepo() *fakeSearchResultRepo {
	return &fakeSearchResultRepo{results: make(map[string]*models.SearchResult), nextID: 1}
}

func (f *fakeSearchResultRepo) Create(result *models.SearchResult) error {
	result.ID = f.nextID
	f.nextID++
	f.results[result.ProjectID] = result
	return nil
}

func (f *fakeSearchResultRepo) GetByID(id uint) (*models.SearchResult, error) {
	for _, r := range f.results {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeSearchResultRepo) GetByProjectID(projectID string) (*models.SearchResult, error) {
	if r, ok := f.results[projectID]; ok {
		return r, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeSearchResultRepo) GetByUser(userID string) ([]models.SearchResult, error) {
	return f.sorted(userID, 0), nil
}

func (f *fakeSearchResultRepo) GetRecent(userID string, limit int) ([]models.SearchResult, error) {
	return f.sorted(userID, limit), nil
}

func (f *fakeSearchResultRepo) GetAll(limit int) ([]models.SearchResult, error) {
	return f.sorted("", limit), nil
}

func (f *fakeSearchResultRepo) UpdateStatus(projectID, status string) error {
	r, ok := f.results[projectID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	r.Status = status
	return nil
}

func (f *fakeSearchResultRepo) Delete(id uint) error {
	for pid, r := range f.results {
		if r.ID == id {
			delete(f.results, pid)
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeSearchResultRepo) sorted(userID string, limit int) []models.SearchResult {
	var out []models.SearchResult
	for _, r := range f.results {
		if userID == "" || r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SearchedAt.After(out[j].SearchedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type fakeArticleRepo struct {
	articles map[uint]*models.Article
	nextID   uint
}

func newFakeArticleRepo() *fakeArticleRepo {
	return &fakeArticleRepo{articles: make(map[uint]*models.Article), nextID: 1}
}

func (f *fakeArticleRepo) BulkCreate(articles []models.Article) error {
	for i := range articles {
		a := articles[i]
		a.ID = f.nextID
		f.nextID++
		f.articles[a.ID] = &a
	}
	return nil
}

func (f *fakeArticleRepo) GetByID(id uint) (*models.Article, error) {
	if a, ok := f.articles[id]; ok {
		return a, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeArticleRepo) GetBySearchResult(searchResultID uint) ([]models.Article, error) {
	var out []models.Article
	for _, a := range f.articles {
		if a.SearchResultID == searchResultID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeArticleRepo) GetMissingAbstracts(limit int) ([]models.Article, error) {
	var out []models.Article
	for _, a := range f.articles {
		if a.Abstract == "" && a.DOI != "" {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeArticleRepo) UpdateScreening(id uint, status, source string, score float64) error {
	a, ok := f.articles[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.ScreeningStatus = status
	a.DecisionSource = source
	if score > 0 {
		a.RelevanceScore = score
	}
	return nil
}

func (f *fakeArticleRepo) UpdateScreeningByRecordIDs(searchResultID uint, recordIDs []string, status, source string, scores map[string]float64) error {
	ids := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		ids[id] = true
	}
	for _, a := range f.articles {
		if a.SearchResultID == searchResultID && ids[a.RecordID] {
			a.ScreeningStatus = status
			a.DecisionSource = source
			if score, ok := scores[a.RecordID]; ok {
				a.RelevanceScore = score
			}
		}
	}
	return nil
}

func (f *fakeArticleRepo) UpdateAbstract(id uint, abstract string) error {
	a, ok := f.articles[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.Abstract = abstract
	return nil
}

func (f *fakeArticleRepo) CountByStatus(searchResultID uint, status string) (int64, error) {
	var count int64
	for _, a := range f.articles {
		if a.SearchResultID == searchResultID && a.ScreeningStatus == status {
			count++
		}
	}
	return count, nil
}

func (f *fakeArticleRepo) DeleteBySearchResult(searchResultID uint) error {
	for id, a := range f.articles {
		if a.SearchResultID == searchResultID {
			delete(f.articles, id)
		}
	}
	return nil
}

type fakeProfileRepo struct {
	profiles []models.UserProfile
}

func (f *fakeProfileRepo) Create(profile *models.UserProfile) error {
	f.profiles = append(f.profiles, *profile)
	return nil
}

func (f *fakeProfileRepo) GetByID(id string) (*models.UserProfile, error) {
	for i := range f.profiles {
		if f.profiles[i].ID == id {
			return &f.profiles[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeProfileRepo) GetBySessionToken(token string) (*models.UserProfile, error) {
	for i := range f.profiles {
		if f.profiles[i].SessionToken == token {
			return &f.profiles[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeProfileRepo) GetAll() ([]models.UserProfile, error) {
	return f.profiles, nil
}

type fakeRoleRepo struct {
	roles map[string][]string
}

func (f *fakeRoleRepo) Grant(userID, role string) error {
	f.roles[userID] = append(f.roles[userID], role)
	return nil
}

func (f *fakeRoleRepo) GetRoles(userID string) ([]string, error) {
	return f.roles[userID], nil
}

func (f *fakeRoleRepo) HasRole(userID, role string) (bool, error) {
	for _, r := range f.roles[userID] {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

type fakeHealthRepo struct{}

func (f *fakeHealthRepo) UpdateServiceHealth(serviceName, status string, responseTime int, errorMsg string) error {
	return nil
}

func (f *fakeHealthRepo) GetServiceHealth(serviceName string) (*models.ServiceHealth, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeHealthRepo) GetAllServicesHealth() ([]models.ServiceHealth, error) {
	return nil, nil
}

func (f *fakeHealthRepo) DeleteOlderThan(cutoff time.Time) (int64, error) {
	return 0, nil
}

type testEnv struct {
	service     *ReviewService
	searchRepo  *fakeSearchResultRepo
	articleRepo *fakeArticleRepo
	state       *state.Store
	user        *models.UserProfile
}

// newTestEnv wires a ReviewService against a stub backend and fake repos.
// The Redis cache points at an unreachable address so every cache call
// degrades to a miss.
func newTestEnv(t *testing.T, backend http.HandlerFunc) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	var server *httptest.Server
	if backend != nil {
		server = httptest.NewServer(backend)
		t.Cleanup(server.Close)
	} else {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unexpected backend call", http.StatusInternalServerError)
		}))
		t.Cleanup(server.Close)
	}

	searchRepo := newFakeSearchResultRepo()
	articleRepo := newFakeArticleRepo()
	repos := &repository.RepositoryManager{
		SearchResult:  searchRepo,
		Article:       articleRepo,
		UserProfile:   &fakeProfileRepo{},
		UserRole:      &fakeRoleRepo{roles: map[string][]string{}},
		ServiceHealth: &fakeHealthRepo{},
	}

	deadRedis := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 10 * time.Millisecond})
	cache := database.NewCache(deadRedis, logger)

	stateStore := state.NewStore(time.Hour)
	api := revprisma.NewService(revprisma.NewClient(server.URL, "test-key", logger), logger)

	return &testEnv{
		service:     NewReviewService(api, repos, stateStore, cache, metrics.NewCollector(), logger),
		searchRepo:  searchRepo,
		articleRepo: articleRepo,
		state:       stateStore,
		user:        &models.UserProfile{ID: "user-1", Email: "reviewer@example.org"},
	}
}

func TestRunSearch_PersistsResultAndState(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(revprisma.SearchResponse{
			ProjectID:         "proj-1",
			TotalRecords:      2,
			RecordsByDatabase: map[string]int{"scopus": 2},
			Records: []revprisma.Record{
				{RecordID: "r1", Source: "scopus", Title: "First"},
				{RecordID: "r2", Source: "scopus", Title: "Second"},
			},
		})
	})

	resp, err := env.service.RunSearch(context.Background(), env.user, &models.SearchSubmitRequest{
		ProjectName: "test project",
		Databases:   []string{"scopus"},
		Queries:     map[string]string{"scopus": "q"},
	})
	require.NoError(t, err)

	assert.Equal(t, "proj-1", resp.ProjectID)
	assert.Equal(t, 2, resp.TotalRecords)
	assert.False(t, resp.Degraded)
	assert.Len(t, resp.Preview, 2)

	stored, err := env.searchRepo.GetByProjectID("proj-1")
	require.NoError(t, err)
	assert.Equal(t, models.SearchStatusCompleted, stored.Status)
	assert.Equal(t, "user-1", stored.UserID)

	articles, err := env.articleRepo.GetBySearchResult(stored.ID)
	require.NoError(t, err)
	assert.Len(t, articles, 2)

	ps := env.state.Get("proj-1")
	require.NotNil(t, ps)
	assert.Equal(t, state.StageSearched, ps.Stage)
	assert.Equal(t, 2, ps.RawCount)
}

func TestRunSearch_FailureLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"detail": "backend down"})
	})

	_, err := env.service.RunSearch(context.Background(), env.user, &models.SearchSubmitRequest{
		ProjectName: "doomed project",
		Databases:   []string{"scopus"},
		Queries:     map[string]string{"scopus": "q"},
	})
	require.Error(t, err)

	// No project state, no articles; only a failed history row
	assert.Equal(t, 0, env.state.Count())
	assert.Empty(t, env.articleRepo.articles)

	recent, err := env.searchRepo.GetRecent("user-1", 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.SearchStatusFailed, recent[0].Status)
	assert.Equal(t, "doomed project", recent[0].ProjectName)
}

func TestRunSearch_DegradedStatusSaved(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		var req revprisma.SearchRequest
		json.NewDecoder(r.Body).Decode(&req)

		for _, db := range req.Databases {
			if db == "pubmed" {
				w.WriteHeader(http.StatusBadGateway)
				json.NewEncoder(w).Encode(map[string]string{"detail": "pubmed error"})
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(revprisma.SearchResponse{ProjectID: "proj-2", TotalRecords: 1})
	})

	resp, err := env.service.RunSearch(context.Background(), env.user, &models.SearchSubmitRequest{
		ProjectName: "partial project",
		Databases:   []string{"pubmed", "scopus"},
		Queries:     map[string]string{"pubmed": "q", "scopus": "q"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, []string{"pubmed"}, resp.DroppedDatabases)

	stored, err := env.searchRepo.GetByProjectID("proj-2")
	require.NoError(t, err)
	assert.Equal(t, models.SearchStatusDegraded, stored.Status)
}

func TestRecentSearches_LimitFive(t *testing.T) {
	env := newTestEnv(t, nil)

	base := time.Now()
	for i := 0; i < 7; i++ {
		env.searchRepo.Create(&models.SearchResult{
			ProjectID:   "proj-" + string(rune('a'+i)),
			ProjectName: "p",
			UserID:      "user-1",
			Status:      models.SearchStatusCompleted,
			SearchedAt:  base.Add(time.Duration(i) * time.Minute),
		})
	}

	views, err := env.service.RecentSearches(context.Background(), env.user)
	require.NoError(t, err)
	require.Len(t, views, 5)

	// Newest first
	for i := 1; i < len(views); i++ {
		assert.True(t, views[i-1].SearchedAt.After(views[i].SearchedAt))
	}
}

func TestExport_FilenameAndFormat(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("record_id,title\n"))
	})

	env.searchRepo.Create(&models.SearchResult{
		ProjectID:   "proj-1",
		ProjectName: "My Review",
		UserID:      "user-1",
		Status:      models.SearchStatusCompleted,
	})

	result, err := env.service.Export(context.Background(), env.user, "proj-1", "csv")
	require.NoError(t, err)
	assert.Equal(t, "My_Review_results.csv", result.Filename)
	assert.Equal(t, "text/csv", result.ContentType)
}

func TestExport_ExcelExtension(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "excel", r.URL.Query().Get("format"))
		w.Write([]byte{0x50, 0x4b})
	})

	env.searchRepo.Create(&models.SearchResult{
		ProjectID:   "proj-1",
		ProjectName: "My Review",
		UserID:      "user-1",
		Status:      models.SearchStatusCompleted,
	})

	result, err := env.service.Export(context.Background(), env.user, "proj-1", "excel")
	require.NoError(t, err)
	assert.Equal(t, "My_Review_results.xlsx", result.Filename)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", result.ContentType)
}

func TestExport_UnknownFormat(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.service.Export(context.Background(), env.user, "proj-1", "pdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestExport_OtherUsersProject(t *testing.T) {
	env := newTestEnv(t, nil)

	env.searchRepo.Create(&models.SearchResult{
		ProjectID:   "proj-1",
		ProjectName: "Not Yours",
		UserID:      "user-2",
		Status:      models.SearchStatusCompleted,
	})

	_, err := env.service.Export(context.Background(), env.user, "proj-1", "csv")
	assert.ErrorIs(t, err, ErrNotProjectOwner)
}

func TestGeneratePrisma_InfersCountsFromState(t *testing.T) {
	var received revprisma.PrismaRequest

	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(revprisma.PrismaResponse{DiagramGenerated: true})
	})

	env.state.Put(&state.ProjectState{
		ProjectID:     "proj-1",
		OwnerID:       "user-1",
		RawCount:      100,
		DedupCount:    80,
		ScreenedCount: 80,
		IncludedCount: 30,
		Stage:         state.StageScreened,
	})

	resp, err := env.service.GeneratePrisma(context.Background(), env.user, "proj-1", &models.PrismaSubmitRequest{})
	require.NoError(t, err)
	assert.True(t, resp.DiagramGenerated)

	assert.Equal(t, 100, received.RecordsCounts["identified_total"])
	assert.Equal(t, 20, received.RecordsCounts["duplicates_removed"])
	assert.Equal(t, 80, received.RecordsCounts["records_screened"])
	assert.Equal(t, 50, received.RecordsCounts["records_excluded"])
	assert.Equal(t, 30, received.RecordsCounts["studies_included"])

	assert.Equal(t, state.StageCompleted, env.state.Get("proj-1").Stage)
}

func TestScreenSimple_MirrorsDecisionsOntoArticles(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(revprisma.ScreenResponse{
			TotalScreened:   2,
			IncludedCount:   1,
			ExcludedCount:   1,
			IncludedRecords: []revprisma.Record{{RecordID: "r1", Title: "First"}},
		})
	})

	env.searchRepo.Create(&models.SearchResult{
		ProjectID:   "proj-1",
		ProjectName: "p",
		UserID:      "user-1",
		Status:      models.SearchStatusCompleted,
	})
	stored, _ := env.searchRepo.GetByProjectID("proj-1")
	env.articleRepo.BulkCreate([]models.Article{
		{SearchResultID: stored.ID, RecordID: "r1", Title: "First", ScreeningStatus: models.ScreeningUnscreened},
		{SearchResultID: stored.ID, RecordID: "r2", Title: "Second", ScreeningStatus: models.ScreeningUnscreened},
	})
	env.state.Put(&state.ProjectState{
		ProjectID: "proj-1",
		OwnerID:   "user-1",
		Records: []revprisma.Record{
			{RecordID: "r1", Title: "First"},
			{RecordID: "r2", Title: "Second"},
		},
	})

	resp, _, err := env.service.ScreenSimple(context.Background(), env.user, "proj-1", &models.ScreenSimpleSubmitRequest{
		IncludeTerms: []string{"first"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.IncludedCount)

	articles, _ := env.articleRepo.GetBySearchResult(stored.ID)
	byRecord := map[string]models.Article{}
	for _, a := range articles {
		byRecord[a.RecordID] = a
	}
	assert.Equal(t, models.ScreeningIncluded, byRecord["r1"].ScreeningStatus)
	assert.Equal(t, "simple", byRecord["r1"].DecisionSource)
	assert.Equal(t, models.ScreeningExcluded, byRecord["r2"].ScreeningStatus)

	ps := env.state.Get("proj-1")
	assert.Equal(t, state.StageScreened, ps.Stage)
	assert.Equal(t, 1, ps.IncludedCount)
}

func TestScreenSimple_NoRecords(t *testing.T) {
	env := newTestEnv(t, nil)

	env.searchRepo.Create(&models.SearchResult{
		ProjectID:   "proj-1",
		ProjectName: "p",
		UserID:      "user-1",
		Status:      models.SearchStatusCompleted,
	})

	_, _, err := env.service.ScreenSimple(context.Background(), env.user, "proj-1", &models.ScreenSimpleSubmitRequest{
		IncludeTerms: []string{"term"},
	})
	assert.ErrorIs(t, err, ErrNothingToScreen)
}

func TestScreenML_PersistsRelevanceScores(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(revprisma.ScreenResponse{
			TotalScreened:   2,
			IncludedCount:   1,
			ExcludedCount:   1,
			ThresholdUsed:   0.5,
			IncludedRecords: []revprisma.Record{{RecordID: "r1", Title: "First", ScreenScore: 0.93}},
		})
	})

	env.searchRepo.Create(&models.SearchResult{
		ProjectID:   "proj-1",
		ProjectName: "p",
		UserID:      "user-1",
		Status:      models.SearchStatusCompleted,
	})
	stored, _ := env.searchRepo.GetByProjectID("proj-1")
	env.articleRepo.BulkCreate([]models.Article{
		{SearchResultID: stored.ID, RecordID: "r1", Title: "First", ScreeningStatus: models.ScreeningUnscreened},
		{SearchResultID: stored.ID, RecordID: "r2", Title: "Second", ScreeningStatus: models.ScreeningUnscreened},
	})
	env.state.Put(&state.ProjectState{
		ProjectID: "proj-1",
		OwnerID:   "user-1",
		Records: []revprisma.Record{
			{RecordID: "r1", Title: "First"},
			{RecordID: "r2", Title: "Second"},
		},
	})

	resp, _, err := env.service.ScreenML(context.Background(), env.user, "proj-1", &models.ScreenMLSubmitRequest{
		Labels: []models.ScreenLabel{{RecordID: "r1", Label: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.IncludedCount)

	articles, _ := env.articleRepo.GetBySearchResult(stored.ID)
	byRecord := map[string]models.Article{}
	for _, a := range articles {
		byRecord[a.RecordID] = a
	}
	assert.Equal(t, models.ScreeningIncluded, byRecord["r1"].ScreeningStatus)
	assert.Equal(t, "ml", byRecord["r1"].DecisionSource)
	assert.InDelta(t, 0.93, byRecord["r1"].RelevanceScore, 1e-9)
	assert.Equal(t, models.ScreeningExcluded, byRecord["r2"].ScreeningStatus)
	assert.Zero(t, byRecord["r2"].RelevanceScore)
}

func TestUpdateArticleScreening_ManualDecision(t *testing.T) {
	env := newTestEnv(t, nil)

	env.searchRepo.Create(&models.SearchResult{
		ProjectID:   "proj-1",
		ProjectName: "p",
		UserID:      "user-1",
		Status:      models.SearchStatusCompleted,
	})
	stored, _ := env.searchRepo.GetByProjectID("proj-1")
	env.articleRepo.BulkCreate([]models.Article{
		{SearchResultID: stored.ID, RecordID: "r1", Title: "First", Abstract: "original abstract"},
	})

	article, err := env.service.UpdateArticleScreening(env.user, 1, models.ScreeningIncluded)
	require.NoError(t, err)
	assert.Equal(t, models.ScreeningIncluded, article.ScreeningStatus)
	assert.Equal(t, "manual", article.DecisionSource)

	// Bibliographic fields are untouched
	updated, _ := env.articleRepo.GetByID(1)
	assert.Equal(t, "First", updated.Title)
	assert.Equal(t, "original abstract", updated.Abstract)
}

func TestDeleteProject_RemovesStateAndRows(t *testing.T) {
	env := newTestEnv(t, nil)

	env.searchRepo.Create(&models.SearchResult{
		ProjectID:   "proj-1",
		ProjectName: "p",
		UserID:      "user-1",
		Status:      models.SearchStatusCompleted,
	})
	env.state.Put(&state.ProjectState{ProjectID: "proj-1", OwnerID: "user-1"})

	err := env.service.DeleteProject(context.Background(), env.user, "proj-1")
	require.NoError(t, err)

	_, err = env.searchRepo.GetByProjectID("proj-1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Nil(t, env.state.Get("proj-1"))
}
