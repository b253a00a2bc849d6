//go:build integration

package revprisma

import (
	"context"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestIntegration_RealBackend(t *testing.T) {
	apiKey := os.Getenv("REVPRISMA_API_KEY")
	baseURL := os.Getenv("REVPRISMA_BASE_URL")

	if baseURL == "" {
		t.Skip("REVPRISMA_BASE_URL required for integration tests")
	}

	client := NewClient(baseURL, apiKey, logrus.New())
	ctx := context.Background()

	health, err := client.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "healthy", health.Status)

	projects, err := client.ListProjects(ctx)
	require.NoError(t, err)
	require.NotNil(t, projects)
}
