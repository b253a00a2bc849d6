package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/revprisma/gateway/internal/models"
)

// SearchResultRepositoryImpl implements SearchResultRepository
type SearchResultRepositoryImpl struct {
	db *gorm.DB
}

func NewSearchResultRepository(db *gorm.DB) models.SearchResultRepository {
	return &SearchResultRepositoryImpl{db: db}
}

func (r *SearchResultRepositoryImpl) Create(result *models.SearchResult) error {
	return r.db.Create(result).Error
}

func (r *SearchResultRepositoryImpl) GetByID(id uint) (*models.SearchResult, error) {
	var result models.SearchResult
	err := r.db.First(&result, id).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *SearchResultRepositoryImpl) GetByProjectID(projectID string) (*models.SearchResult, error) {
	var result models.SearchResult
	err := r.db.Where("project_id = ?", projectID).First(&result).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *SearchResultRepositoryImpl) GetByUser(userID string) ([]models.SearchResult, error) {
	var results []models.SearchResult
	err := r.db.Where("user_id = ?", userID).
		Order("searched_at DESC").
		Find(&results).Error
	return results, err
}

func (r *SearchResultRepositoryImpl) GetRecent(userID string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	var results []models.SearchResult
	err := r.db.Where("user_id = ?", userID).
		Order("searched_at DESC").
		Limit(limit).
		Find(&results).Error
	return results, err
}

func (r *SearchResultRepositoryImpl) GetAll(limit int) ([]models.SearchResult, error) {
	var results []models.SearchResult
	query := r.db.Order("searched_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&results).Error
	return results, err
}

func (r *SearchResultRepositoryImpl) UpdateStatus(projectID, status string) error {
	result := r.db.Model(&models.SearchResult{}).
		Where("project_id = ?", projectID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes the search result and its articles in one transaction.
func (r *SearchResultRepositoryImpl) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("search_result_id = ?", id).Delete(&models.Article{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.SearchResult{}, id).Error
	})
}

// ArticleRepositoryImpl implements ArticleRepository
type ArticleRepositoryImpl struct {
	db *gorm.DB
}

func NewArticleRepository(db *gorm.DB) models.ArticleRepository {
	return &ArticleRepositoryImpl{db: db}
}

func (r *ArticleRepositoryImpl) BulkCreate(articles []models.Article) error {
	if len(articles) == 0 {
		return nil
	}
	return r.db.CreateInBatches(articles, 100).Error
}

func (r *ArticleRepositoryImpl) GetByID(id uint) (*models.Article, error) {
	var article models.Article
	err := r.db.First(&article, id).Error
	if err != nil {
		return nil, err
	}
	return &article, nil
}

func (r *ArticleRepositoryImpl) GetBySearchResult(searchResultID uint) ([]models.Article, error) {
	var articles []models.Article
	err := r.db.Where("search_result_id = ?", searchResultID).
		Order("relevance_score DESC, id ASC").
		Find(&articles).Error
	return articles, err
}

func (r *ArticleRepositoryImpl) GetMissingAbstracts(limit int) ([]models.Article, error) {
	var articles []models.Article
	query := r.db.Where("(abstract IS NULL OR abstract = '') AND doi != ''")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&articles).Error
	return articles, err
}

func (r *ArticleRepositoryImpl) UpdateScreening(id uint, status, source string, score float64) error {
	updates := map[string]interface{}{
		"screening_status": status,
		"decision_source":  source,
	}
	if score > 0 {
		updates["relevance_score"] = score
	}
	result := r.db.Model(&models.Article{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *ArticleRepositoryImpl) UpdateScreeningByRecordIDs(searchResultID uint, recordIDs []string, status, source string, scores map[string]float64) error {
	if len(recordIDs) == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		bulk := recordIDs
		if len(scores) > 0 {
			bulk = make([]string, 0, len(recordIDs))
			for _, id := range recordIDs {
				if score, ok := scores[id]; ok {
					err := tx.Model(&models.Article{}).
						Where("search_result_id = ? AND record_id = ?", searchResultID, id).
						Updates(map[string]interface{}{
							"screening_status": status,
							"decision_source":  source,
							"relevance_score":  score,
						}).Error
					if err != nil {
						return err
					}
				} else {
					bulk = append(bulk, id)
				}
			}
		}
		if len(bulk) == 0 {
			return nil
		}
		return tx.Model(&models.Article{}).
			Where("search_result_id = ? AND record_id IN ?", searchResultID, bulk).
			Updates(map[string]interface{}{
				"screening_status": status,
				"decision_source":  source,
			}).Error
	})
}

func (r *ArticleRepositoryImpl) UpdateAbstract(id uint, abstract string) error {
	return r.db.Model(&models.Article{}).
		Where("id = ?", id).
		Update("abstract", abstract).Error
}

func (r *ArticleRepositoryImpl) CountByStatus(searchResultID uint, status string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Article{}).
		Where("search_result_id = ? AND screening_status = ?", searchResultID, status).
		Count(&count).Error
	return count, err
}

func (r *ArticleRepositoryImpl) DeleteBySearchResult(searchResultID uint) error {
	return r.db.Where("search_result_id = ?", searchResultID).
		Delete(&models.Article{}).Error
}

// UserProfileRepositoryImpl implements UserProfileRepository
type UserProfileRepositoryImpl struct {
	db *gorm.DB
}

func NewUserProfileRepository(db *gorm.DB) models.UserProfileRepository {
	return &UserProfileRepositoryImpl{db: db}
}

func (r *UserProfileRepositoryImpl) Create(profile *models.UserProfile) error {
	return r.db.Create(profile).Error
}

func (r *UserProfileRepositoryImpl) GetByID(id string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := r.db.Where("id = ?", id).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *UserProfileRepositoryImpl) GetBySessionToken(token string) (*models.UserProfile, error) {
	if token == "" {
		return nil, fmt.Errorf("empty session token")
	}
	var profile models.UserProfile
	err := r.db.Where("session_token = ?", token).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *UserProfileRepositoryImpl) GetAll() ([]models.UserProfile, error) {
	var profiles []models.UserProfile
	err := r.db.Order("created_at DESC").Find(&profiles).Error
	return profiles, err
}

// UserRoleRepositoryImpl implements UserRoleRepository
type UserRoleRepositoryImpl struct {
	db *gorm.DB
}

func NewUserRoleRepository(db *gorm.DB) models.UserRoleRepository {
	return &UserRoleRepositoryImpl{db: db}
}

func (r *UserRoleRepositoryImpl) Grant(userID, role string) error {
	var existing models.UserRole
	err := r.db.Where("user_id = ? AND role = ?", userID, role).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return r.db.Create(&models.UserRole{UserID: userID, Role: role}).Error
}

func (r *UserRoleRepositoryImpl) GetRoles(userID string) ([]string, error) {
	var rows []models.UserRole
	err := r.db.Where("user_id = ?", userID).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	roles := make([]string, 0, len(rows))
	for _, row := range rows {
		roles = append(roles, row.Role)
	}
	return roles, nil
}

func (r *UserRoleRepositoryImpl) HasRole(userID, role string) (bool, error) {
	var count int64
	err := r.db.Model(&models.UserRole{}).
		Where("user_id = ? AND role = ?", userID, role).
		Count(&count).Error
	return count > 0, err
}

// ServiceHealthRepositoryImpl implements ServiceHealthRepository
type ServiceHealthRepositoryImpl struct {
	db *gorm.DB
}

func NewServiceHealthRepository(db *gorm.DB) models.ServiceHealthRepository {
	return &ServiceHealthRepositoryImpl{db: db}
}

func (r *ServiceHealthRepositoryImpl) UpdateServiceHealth(serviceName, status string, responseTime int, errorMsg string) error {
	health := models.ServiceHealth{
		ServiceName:    serviceName,
		Status:         status,
		ResponseTimeMs: responseTime,
		ErrorMessage:   errorMsg,
		CheckedAt:      time.Now(),
	}
	return r.db.Create(&health).Error
}

func (r *ServiceHealthRepositoryImpl) GetServiceHealth(serviceName string) (*models.ServiceHealth, error) {
	var health models.ServiceHealth
	err := r.db.Where("service_name = ?", serviceName).
		Order("checked_at DESC").
		First(&health).Error
	if err != nil {
		return nil, err
	}
	return &health, nil
}

func (r *ServiceHealthRepositoryImpl) GetAllServicesHealth() ([]models.ServiceHealth, error) {
	var healths []models.ServiceHealth
	// Latest check per service
	subQuery := r.db.Model(&models.ServiceHealth{}).
		Select("service_name, MAX(checked_at) as max_checked_at").
		Group("service_name")

	err := r.db.Joins("JOIN (?) as latest ON service_health.service_name = latest.service_name AND service_health.checked_at = latest.max_checked_at", subQuery).
		Find(&healths).Error
	return healths, err
}

func (r *ServiceHealthRepositoryImpl) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := r.db.Where("checked_at < ?", cutoff).Delete(&models.ServiceHealth{})
	return result.RowsAffected, result.Error
}

// RepositoryManager holds all repositories
type RepositoryManager struct {
	SearchResult  models.SearchResultRepository
	Article       models.ArticleRepository
	UserProfile   models.UserProfileRepository
	UserRole      models.UserRoleRepository
	ServiceHealth models.ServiceHealthRepository
}

func NewRepositoryManager(db *gorm.DB) *RepositoryManager {
	return &RepositoryManager{
		SearchResult:  NewSearchResultRepository(db),
		Article:       NewArticleRepository(db),
		UserProfile:   NewUserProfileRepository(db),
		UserRole:      NewUserRoleRepository(db),
		ServiceHealth: NewServiceHealthRepository(db),
	}
}
