package revprisma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Search(t *testing.T) {
	expectedResponse := SearchResponse{
		ProjectID:         "proj-123",
		TotalRecords:      2,
		RecordsByDatabase: map[string]int{"pubmed": 1, "scopus": 1},
		Records: []Record{
			{RecordID: "r1", Source: "pubmed", Title: "First study"},
			{RecordID: "r2", Source: "scopus", Title: "Second study"},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "diabetes review", req.ProjectName)
		assert.Equal(t, []string{"pubmed", "scopus"}, req.Databases)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(expectedResponse)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", logrus.New())

	resp, err := client.Search(context.Background(), SearchRequest{
		ProjectName: "diabetes review",
		Databases:   []string{"pubmed", "scopus"},
		Queries: map[string]string{
			"pubmed": "diabetes[tiab]",
			"scopus": "TITLE-ABS(diabetes)",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "proj-123", resp.ProjectID)
	assert.Equal(t, 2, resp.TotalRecords)
	assert.Len(t, resp.Records, 2)
}

func TestClient_Deduplicate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/deduplicate/proj-123", r.URL.Path)
		assert.Equal(t, "90", r.URL.Query().Get("fuzzy_threshold"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(DedupResponse{
			OriginalCount:     100,
			DeduplicatedCount: 80,
			DuplicatesRemoved: 20,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", logrus.New())

	resp, err := client.Deduplicate(context.Background(), "proj-123", 90)
	require.NoError(t, err)
	assert.Equal(t, 100, resp.OriginalCount)
	assert.Equal(t, 20, resp.DuplicatesRemoved)
}

func TestClient_ScreenSimple(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/screen-simple/proj-123", r.URL.Path)

		var req ScreenSimpleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"randomized"}, req.IncludeKeywords)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ScreenResponse{
			TotalScreened: 80,
			IncludedCount: 30,
			ExcludedCount: 50,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", logrus.New())

	resp, err := client.ScreenSimple(context.Background(), "proj-123", ScreenSimpleRequest{
		IncludeKeywords: []string{"randomized"},
	})
	require.NoError(t, err)
	assert.Equal(t, 30, resp.IncludedCount)
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Project not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", logrus.New())

	_, err := client.ProjectStatus(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsAPIError(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Detail, "Project not found")
}

func TestClient_NoAuthHeaderWithoutKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", logrus.New())

	resp, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp.Status)
}

func TestClient_ExportProject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/export/proj-123", r.URL.Path)
		assert.Equal(t, "csv", r.URL.Query().Get("format"))

		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("record_id,title\nr1,First study\n"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", logrus.New())

	export, err := client.ExportProject(context.Background(), "proj-123", "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", export.ContentType)
	assert.Contains(t, string(export.Data), "First study")
}

func TestClient_LatencyObserver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", logrus.New())

	var observed []time.Duration
	client.SetLatencyObserver(func(d time.Duration) {
		observed = append(observed, d)
	})

	_, err := client.Health(context.Background())
	require.NoError(t, err)

	_, err = client.ExportProject(context.Background(), "proj-123", "csv")
	require.NoError(t, err)

	require.Len(t, observed, 2)
	for _, d := range observed {
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", logrus.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Health(ctx)
	require.Error(t, err)
	assert.False(t, IsAPIError(err))
}
