package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/revprisma/gateway/internal/middleware"
	"github.com/revprisma/gateway/internal/models"
	"github.com/revprisma/gateway/internal/revprisma"
	"github.com/revprisma/gateway/internal/services"
	"github.com/revprisma/gateway/pkg/utils"
)

type SearchHandler struct {
	review *services.ReviewService
	logger *logrus.Logger
}

func NewSearchHandler(review *services.ReviewService, logger *logrus.Logger) *SearchHandler {
	return &SearchHandler{
		review: review,
		logger: logger,
	}
}

// HandleSearch processes federated search submissions
func (h *SearchHandler) HandleSearch(c *gin.Context) {
	startTime := time.Now()

	var req models.SearchSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Invalid search request")
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	req.ProjectName = strings.TrimSpace(req.ProjectName)
	if req.ProjectName == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Project name cannot be empty", nil)
		return
	}

	for _, db := range req.Databases {
		if _, ok := req.Queries[db]; !ok {
			utils.ErrorResponse(c, http.StatusBadRequest, "Missing query for database: "+db, nil)
			return
		}
	}

	user := middleware.CurrentUser(c)

	h.logger.WithFields(logrus.Fields{
		"project_name": req.ProjectName,
		"databases":    req.Databases,
		"user_id":      user.ID,
	}).Info("Processing search request")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 150*time.Second)
	defer cancel()

	resp, err := h.review.RunSearch(ctx, user, &req)
	if err != nil {
		status := http.StatusBadGateway
		var apiErr *revprisma.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			status = apiErr.StatusCode
		}
		utils.ErrorResponse(c, status, "Search failed", err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"project_id":  resp.ProjectID,
		"records":     resp.TotalRecords,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Info("Search request completed")

	utils.SuccessResponse(c, http.StatusOK, "Search completed", resp)
}

// HandleRecentSearches returns the caller's five most recent searches
func (h *SearchHandler) HandleRecentSearches(c *gin.Context) {
	user := middleware.CurrentUser(c)

	views, err := h.review.RecentSearches(c.Request.Context(), user)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load recent searches")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to load recent searches", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Recent searches", views)
}
