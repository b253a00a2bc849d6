package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/revprisma/gateway/internal/health"
)

type HealthHandler struct {
	checker *health.HealthChecker
	logger  *logrus.Logger
}

func NewHealthHandler(checker *health.HealthChecker, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		logger:  logger,
	}
}

// HandleHealth returns overall system health. Cached results from the
// periodic checker are preferred; a live check runs on cache miss.
func (h *HealthHandler) HandleHealth(c *gin.Context) {
	if cached, err := h.checker.CheckCached(c.Request.Context()); err == nil {
		h.respond(c, cached)
		return
	}

	overall := h.checker.CheckAll(c.Request.Context())
	h.respond(c, &overall)
}

func (h *HealthHandler) respond(c *gin.Context, overall *health.OverallHealth) {
	status := http.StatusOK
	if overall.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, overall)
}
