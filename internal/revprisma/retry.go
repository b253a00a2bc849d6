package revprisma

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
	}
}

// HealthWithRetry probes the backend health endpoint, retrying transient
// transport failures. Search submissions are never retried here; the only
// recovery path for a failed search is the database fallback in Service.
func (c *Client) HealthWithRetry(ctx context.Context) (*HealthResponse, error) {
	var result *HealthResponse
	err := c.retryOperation(ctx, func() error {
		var err error
		result, err = c.Health(ctx)
		return err
	})
	return result, err
}

// ProjectStatusWithRetry reads project status with transient-failure retries.
func (c *Client) ProjectStatusWithRetry(ctx context.Context, projectID string) (*ProjectStatusResponse, error) {
	var result *ProjectStatusResponse
	err := c.retryOperation(ctx, func() error {
		var err error
		result, err = c.ProjectStatus(ctx, projectID)
		return err
	})
	return result, err
}

func (c *Client) retryOperation(ctx context.Context, operation func() error) error {
	config := DefaultRetryConfig()

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		// Backend-produced errors are deterministic; retrying them is noise.
		if IsAPIError(err) {
			return err
		}

		if attempt == config.MaxRetries {
			return fmt.Errorf("operation failed after %d retries: %w", config.MaxRetries, err)
		}

		delay := time.Duration(float64(config.BaseDelay) * math.Pow(1.5, float64(attempt)))
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}

		c.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
			"error":   err.Error(),
		}).Warn("Retrying RevPRISMA operation")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil
}
