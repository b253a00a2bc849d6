package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/revprisma/gateway/internal/config"
	"github.com/revprisma/gateway/internal/models"
)

// Manager handles database connections
type Manager struct {
	DB     *gorm.DB
	Redis  *redis.Client
	logger *logrus.Logger
}

// NewManager creates database connections
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{logger: logger}

	if err := manager.connectPostgreSQL(cfg.Database.URL); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := manager.connectRedis(cfg.Redis.URL); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return manager, nil
}

func (m *Manager) connectPostgreSQL(databaseURL string) error {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	db, err := gorm.Open(postgres.Open(databaseURL), gormConfig)
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	m.DB = db
	m.logger.Info("Connected to PostgreSQL database")
	return nil
}

func (m *Manager) connectRedis(redisURL string) error {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}

	m.Redis = client
	m.logger.Info("Connected to Redis")
	return nil
}

// Migrate runs auto-migration for all models
func (m *Manager) Migrate() error {
	m.logger.Info("Running database migrations...")

	err := m.DB.AutoMigrate(
		&models.UserProfile{},
		&models.UserRole{},
		&models.SearchResult{},
		&models.Article{},
		&models.ServiceHealth{},
	)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	m.logger.Info("Database migrations completed")
	return nil
}

// PingPostgreSQL checks the PostgreSQL connection
func (m *Manager) PingPostgreSQL(ctx context.Context) error {
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// PingRedis checks the Redis connection
func (m *Manager) PingRedis(ctx context.Context) error {
	return m.Redis.Ping(ctx).Err()
}

// Close shuts down all connections
func (m *Manager) Close() error {
	var errs []error

	if m.DB != nil {
		if sqlDB, err := m.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("postgres close: %w", err))
			}
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}

	m.logger.Info("Database connections closed")
	return nil
}
