package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/revprisma/gateway/internal/models"
	"github.com/revprisma/gateway/internal/services"
	"github.com/revprisma/gateway/pkg/utils"
)

type AdminHandler struct {
	review *services.ReviewService
	logger *logrus.Logger
}

func NewAdminHandler(review *services.ReviewService, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		review: review,
		logger: logger,
	}
}

// HandleListUsers returns all profiles with their roles
func (h *AdminHandler) HandleListUsers(c *gin.Context) {
	users, err := h.review.AdminListUsers()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list users")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Users", users)
}

// HandleCreateUser provisions a new profile and returns its session token
func (h *AdminHandler) HandleCreateUser(c *gin.Context) {
	var req models.AdminCreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	profile, token, err := h.review.AdminCreateUser(req.Email, req.DisplayName, req.Role)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create user")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to create user", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "User created", gin.H{
		"id":            profile.ID,
		"email":         profile.Email,
		"session_token": token,
	})
}

// HandleListSearches returns recent searches across all users
func (h *AdminHandler) HandleListSearches(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	searches, err := h.review.AdminListSearches(limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list searches")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list searches", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Searches", searches)
}
