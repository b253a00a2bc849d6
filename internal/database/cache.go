package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/revprisma/gateway/internal/models"
)

// Cache implementation
type Cache struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewCache(client *redis.Client, logger *logrus.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger,
	}
}

// Cache key constants
const (
	ProjectStatusKey  = "project:status:%s"
	ProjectMetricsKey = "project:metrics:%s"
	RecentSearchesKey = "searches:recent:%s"
	SystemHealthKey   = "system:health"
)

// CacheProjectStatus caches a project status snapshot
func (c *Cache) CacheProjectStatus(ctx context.Context, projectID string, status interface{}, expiration time.Duration) error {
	key := fmt.Sprintf(ProjectStatusKey, projectID)

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal project status: %w", err)
	}

	return c.client.Set(ctx, key, data, expiration).Err()
}

// GetCachedProjectStatus retrieves a cached project status snapshot
func (c *Cache) GetCachedProjectStatus(ctx context.Context, projectID string, result interface{}) error {
	key := fmt.Sprintf(ProjectStatusKey, projectID)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), result)
}

// CacheProjectMetrics caches computed screening metrics for a project
func (c *Cache) CacheProjectMetrics(ctx context.Context, projectID string, metrics interface{}, expiration time.Duration) error {
	key := fmt.Sprintf(ProjectMetricsKey, projectID)

	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal project metrics: %w", err)
	}

	return c.client.Set(ctx, key, data, expiration).Err()
}

// GetCachedProjectMetrics retrieves cached screening metrics
func (c *Cache) GetCachedProjectMetrics(ctx context.Context, projectID string, result interface{}) error {
	key := fmt.Sprintf(ProjectMetricsKey, projectID)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), result)
}

// CacheRecentSearches caches a user's recent search list
func (c *Cache) CacheRecentSearches(ctx context.Context, userID string, searches []models.RecentSearchView, expiration time.Duration) error {
	key := fmt.Sprintf(RecentSearchesKey, userID)

	data, err := json.Marshal(searches)
	if err != nil {
		return fmt.Errorf("failed to marshal recent searches: %w", err)
	}

	return c.client.Set(ctx, key, data, expiration).Err()
}

// GetCachedRecentSearches retrieves a user's cached recent search list
func (c *Cache) GetCachedRecentSearches(ctx context.Context, userID string) ([]models.RecentSearchView, error) {
	key := fmt.Sprintf(RecentSearchesKey, userID)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	var searches []models.RecentSearchView
	err = json.Unmarshal([]byte(data), &searches)
	return searches, err
}

// CacheSystemHealth caches system health status
func (c *Cache) CacheSystemHealth(ctx context.Context, health interface{}, expiration time.Duration) error {
	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("failed to marshal system health: %w", err)
	}

	return c.client.Set(ctx, SystemHealthKey, data, expiration).Err()
}

// GetCachedSystemHealth retrieves cached system health
func (c *Cache) GetCachedSystemHealth(ctx context.Context, result interface{}) error {
	data, err := c.client.Get(ctx, SystemHealthKey).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), result)
}

// InvalidateProject removes cached status and metrics for a project
func (c *Cache) InvalidateProject(ctx context.Context, projectID string) error {
	return c.client.Del(ctx,
		fmt.Sprintf(ProjectStatusKey, projectID),
		fmt.Sprintf(ProjectMetricsKey, projectID),
	).Err()
}

// InvalidateRecentSearches removes a user's cached recent search list
func (c *Cache) InvalidateRecentSearches(ctx context.Context, userID string) error {
	key := fmt.Sprintf(RecentSearchesKey, userID)
	return c.client.Del(ctx, key).Err()
}

// GetCacheStats returns basic Redis statistics
func (c *Cache) GetCacheStats(ctx context.Context) (map[string]interface{}, error) {
	info := c.client.Info(ctx, "stats").Val()

	stats := map[string]interface{}{
		"keyspace_hits":     c.extractStat(info, "keyspace_hits"),
		"keyspace_misses":   c.extractStat(info, "keyspace_misses"),
		"used_memory":       c.extractStat(info, "used_memory"),
		"connected_clients": c.extractStat(info, "connected_clients"),
	}

	return stats, nil
}

func (c *Cache) extractStat(info, key string) string {
	lines := strings.Split(info, "\r\n")
	for _, line := range lines {
		if strings.HasPrefix(line, key+":") {
			return strings.TrimPrefix(line, key+":")
		}
	}
	return "0"
}
