package revprisma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// APIError is an error response produced by the compute backend itself, as
// opposed to a transport failure reaching it.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("revprisma API error (status %d): %s", e.StatusCode, e.Detail)
}

// IsAPIError reports whether err originated from a non-2xx backend response.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	logger         *logrus.Logger
	observeLatency func(time.Duration)
}

func NewClient(baseURL, apiKey string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // federated searches can be slow
		},
		logger: logger,
	}
}

// SetLatencyObserver registers fn to receive the duration of every backend
// round trip. Timing covers the HTTP exchange, not JSON decoding.
func (c *Client) SetLatencyObserver(fn func(time.Duration)) {
	c.observeLatency = fn
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.observeLatency != nil {
		c.observeLatency(time.Since(start))
	}
	return resp, err
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var response HealthResponse
	err := c.makeRequest(ctx, "GET", "/health", nil, &response)
	return &response, err
}

func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var response SearchResponse
	err := c.makeRequest(ctx, "POST", "/api/search", req, &response)
	return &response, err
}

func (c *Client) Deduplicate(ctx context.Context, projectID string, fuzzyThreshold int) (*DedupResponse, error) {
	var response DedupResponse
	endpoint := fmt.Sprintf("/api/deduplicate/%s?fuzzy_threshold=%d", url.PathEscape(projectID), fuzzyThreshold)
	err := c.makeRequest(ctx, "POST", endpoint, nil, &response)
	return &response, err
}

func (c *Client) ScreenSimple(ctx context.Context, projectID string, req ScreenSimpleRequest) (*ScreenResponse, error) {
	var response ScreenResponse
	endpoint := fmt.Sprintf("/api/screen-simple/%s", url.PathEscape(projectID))
	err := c.makeRequest(ctx, "POST", endpoint, req, &response)
	return &response, err
}

func (c *Client) ScreenML(ctx context.Context, projectID string, req ScreenMLRequest) (*ScreenResponse, error) {
	var response ScreenResponse
	endpoint := fmt.Sprintf("/api/screen-ml/%s", url.PathEscape(projectID))
	err := c.makeRequest(ctx, "POST", endpoint, req, &response)
	return &response, err
}

func (c *Client) Metrics(ctx context.Context, projectID string) (*MetricsResponse, error) {
	var response MetricsResponse
	endpoint := fmt.Sprintf("/api/metrics/%s", url.PathEscape(projectID))
	err := c.makeRequest(ctx, "GET", endpoint, nil, &response)
	return &response, err
}

func (c *Client) Prisma(ctx context.Context, projectID string, req *PrismaRequest) (*PrismaResponse, error) {
	var response PrismaResponse
	endpoint := fmt.Sprintf("/api/prisma/%s", url.PathEscape(projectID))
	var payload interface{}
	if req != nil {
		payload = req
	}
	err := c.makeRequest(ctx, "POST", endpoint, payload, &response)
	return &response, err
}

func (c *Client) ProjectStatus(ctx context.Context, projectID string) (*ProjectStatusResponse, error) {
	var response ProjectStatusResponse
	endpoint := fmt.Sprintf("/api/projects/%s/status", url.PathEscape(projectID))
	err := c.makeRequest(ctx, "GET", endpoint, nil, &response)
	return &response, err
}

func (c *Client) ListProjects(ctx context.Context) (*ProjectListResponse, error) {
	var response ProjectListResponse
	err := c.makeRequest(ctx, "GET", "/api/projects", nil, &response)
	return &response, err
}

// ExportProject downloads a generated export file. Unlike the JSON endpoints
// the body is returned as-is together with its content type.
func (c *Client) ExportProject(ctx context.Context, projectID, format string) (*Export, error) {
	endpoint := fmt.Sprintf("%s/api/export/%s?format=%s", c.baseURL, url.PathEscape(projectID), url.QueryEscape(format))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Detail: string(body)}
	}

	return &Export{
		Data:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, payload interface{}, result interface{}) error {
	fullURL := c.baseURL + endpoint

	var body io.Reader
	var contentLength int

	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
		contentLength = len(jsonData)

		// Only log full payload for small requests to avoid spam
		if contentLength < 1000 {
			c.logger.WithFields(logrus.Fields{
				"method":       method,
				"url":          fullURL,
				"payload_json": string(jsonData),
			}).Debug("Request payload")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"url":      fullURL,
		"has_body": payload != nil,
		"size":     contentLength,
	}).Debug("Making RevPRISMA API request")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"status_code":   resp.StatusCode,
		"method":        method,
		"url":           fullURL,
		"response_size": len(responseBody),
	}).Debug("RevPRISMA API response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := string(responseBody)
		// FastAPI-style error bodies carry the message in a "detail" field
		var errBody struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(responseBody, &errBody) == nil && errBody.Detail != "" {
			detail = errBody.Detail
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: detail}
	}

	if result != nil && len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
