package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/revprisma/gateway/internal/middleware"
	"github.com/revprisma/gateway/internal/models"
	"github.com/revprisma/gateway/internal/revprisma"
	"github.com/revprisma/gateway/internal/services"
	"github.com/revprisma/gateway/pkg/utils"
)

type ProjectHandler struct {
	review *services.ReviewService
	logger *logrus.Logger
}

func NewProjectHandler(review *services.ReviewService, logger *logrus.Logger) *ProjectHandler {
	return &ProjectHandler{
		review: review,
		logger: logger,
	}
}

// HandleDeduplicate removes duplicate records from a project
func (h *ProjectHandler) HandleDeduplicate(c *gin.Context) {
	projectID := c.Param("id")
	user := middleware.CurrentUser(c)

	var req models.DeduplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if threshold := c.Query("fuzzy_threshold"); threshold != "" {
		if v, err := strconv.Atoi(threshold); err == nil {
			req.FuzzyThreshold = v
		}
	}

	resp, preview, err := h.review.Deduplicate(c.Request.Context(), user, projectID, req.FuzzyThreshold)
	if err != nil {
		h.respondError(c, err, "Deduplication failed")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Deduplication completed", gin.H{
		"original_count":     resp.OriginalCount,
		"deduplicated_count": resp.DeduplicatedCount,
		"duplicates_removed": resp.DuplicatesRemoved,
		"preview":            preview,
	})
}

// HandleScreenSimple runs keyword-based screening
func (h *ProjectHandler) HandleScreenSimple(c *gin.Context) {
	projectID := c.Param("id")
	user := middleware.CurrentUser(c)

	var req models.ScreenSimpleSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	resp, preview, err := h.review.ScreenSimple(c.Request.Context(), user, projectID, &req)
	if err != nil {
		h.respondError(c, err, "Screening failed")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Screening completed", gin.H{
		"total_screened": resp.TotalScreened,
		"included_count": resp.IncludedCount,
		"excluded_count": resp.ExcludedCount,
		"preview":        preview,
	})
}

// HandleScreenML runs model-based screening
func (h *ProjectHandler) HandleScreenML(c *gin.Context) {
	projectID := c.Param("id")
	user := middleware.CurrentUser(c)

	var req models.ScreenMLSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	resp, preview, err := h.review.ScreenML(c.Request.Context(), user, projectID, &req)
	if err != nil {
		h.respondError(c, err, "Screening failed")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Screening completed", gin.H{
		"total_screened": resp.TotalScreened,
		"included_count": resp.IncludedCount,
		"excluded_count": resp.ExcludedCount,
		"threshold_used": resp.ThresholdUsed,
		"preview":        preview,
	})
}

// HandleMetrics returns screening quality metrics
func (h *ProjectHandler) HandleMetrics(c *gin.Context) {
	projectID := c.Param("id")
	user := middleware.CurrentUser(c)

	resp, err := h.review.Metrics(c.Request.Context(), user, projectID)
	if err != nil {
		h.respondError(c, err, "Failed to compute metrics")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Metrics computed", resp)
}

// HandlePrisma generates a PRISMA 2020 flow diagram
func (h *ProjectHandler) HandlePrisma(c *gin.Context) {
	projectID := c.Param("id")
	user := middleware.CurrentUser(c)

	var req models.PrismaSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	resp, err := h.review.GeneratePrisma(c.Request.Context(), user, projectID, &req)
	if err != nil {
		h.respondError(c, err, "PRISMA generation failed")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "PRISMA diagram generated", resp)
}

// HandleExport streams a project export as a file download
func (h *ProjectHandler) HandleExport(c *gin.Context) {
	projectID := c.Param("id")
	user := middleware.CurrentUser(c)
	format := c.DefaultQuery("format", services.FormatCSV)

	result, err := h.review.Export(c.Request.Context(), user, projectID, format)
	if err != nil {
		if errors.Is(err, services.ErrUnknownFormat) {
			utils.ErrorResponse(c, http.StatusBadRequest, "Unknown export format: "+format, nil)
			return
		}
		h.respondError(c, err, "Export failed")
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

// HandleStatus returns the pipeline position of a project
func (h *ProjectHandler) HandleStatus(c *gin.Context) {
	projectID := c.Param("id")
	user := middleware.CurrentUser(c)

	resp, err := h.review.ProjectStatus(c.Request.Context(), user, projectID)
	if err != nil {
		h.respondError(c, err, "Failed to read project status")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Project status", resp)
}

// HandleList returns the caller's saved projects
func (h *ProjectHandler) HandleList(c *gin.Context) {
	user := middleware.CurrentUser(c)

	views, err := h.review.ListProjects(user)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list projects", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Projects", views)
}

// HandleArticles returns the stored articles of a project
func (h *ProjectHandler) HandleArticles(c *gin.Context) {
	projectID := c.Param("id")
	user := middleware.CurrentUser(c)

	articles, err := h.review.ProjectArticles(user, projectID)
	if err != nil {
		h.respondError(c, err, "Failed to load articles")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Articles", articles)
}

// HandleDelete removes a saved project and its articles
func (h *ProjectHandler) HandleDelete(c *gin.Context) {
	projectID := c.Param("id")
	user := middleware.CurrentUser(c)

	if err := h.review.DeleteProject(c.Request.Context(), user, projectID); err != nil {
		h.respondError(c, err, "Failed to delete project")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Project deleted", nil)
}

// HandleUpdateScreening records a manual screening decision for one article
func (h *ProjectHandler) HandleUpdateScreening(c *gin.Context) {
	user := middleware.CurrentUser(c)

	articleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid article ID", err)
		return
	}

	var req models.ScreeningUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	article, err := h.review.UpdateArticleScreening(user, uint(articleID), req.Status)
	if err != nil {
		if errors.Is(err, services.ErrArticleNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Article not found", nil)
			return
		}
		h.respondError(c, err, "Failed to update screening")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Screening updated", article)
}

func (h *ProjectHandler) respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, services.ErrProjectNotFound):
		utils.ErrorResponse(c, http.StatusNotFound, "Project not found", nil)
	case errors.Is(err, services.ErrNotProjectOwner):
		utils.ErrorResponse(c, http.StatusForbidden, "Project belongs to another user", nil)
	case errors.Is(err, services.ErrNothingToScreen):
		utils.ErrorResponse(c, http.StatusConflict, "No records available; run a search first", nil)
	default:
		var apiErr *revprisma.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			utils.ErrorResponse(c, apiErr.StatusCode, message, err)
			return
		}
		h.logger.WithError(err).Error(message)
		utils.ErrorResponse(c, http.StatusBadGateway, message, err)
	}
}
