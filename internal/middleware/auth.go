package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/revprisma/gateway/internal/models"
	"github.com/revprisma/gateway/pkg/utils"
)

const userContextKey = "current_user"

// Authenticator resolves bearer tokens against stored profiles
type Authenticator struct {
	profiles models.UserProfileRepository
	roles    models.UserRoleRepository
	logger   *logrus.Logger
}

func NewAuthenticator(profiles models.UserProfileRepository, roles models.UserRoleRepository, logger *logrus.Logger) *Authenticator {
	return &Authenticator{
		profiles: profiles,
		roles:    roles,
		logger:   logger,
	}
}

// RequireAuth rejects requests without a valid session token
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if !utils.ValidateSessionToken(token) {
			utils.ErrorResponse(c, http.StatusUnauthorized, "Missing or malformed session token", nil)
			c.Abort()
			return
		}

		profile, err := a.profiles.GetBySessionToken(token)
		if err != nil {
			a.logger.WithField("request_id", c.GetString("request_id")).
				Debug("Session token lookup failed")
			utils.ErrorResponse(c, http.StatusUnauthorized, "Invalid session token", nil)
			c.Abort()
			return
		}

		c.Set(userContextKey, profile)
		c.Next()
	}
}

// RequireRole rejects authenticated requests lacking the given role.
// Must be chained after RequireAuth.
func (a *Authenticator) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile := CurrentUser(c)
		if profile == nil {
			utils.ErrorResponse(c, http.StatusUnauthorized, "Authentication required", nil)
			c.Abort()
			return
		}

		ok, err := a.roles.HasRole(profile.ID, role)
		if err != nil {
			a.logger.WithError(err).Error("Role lookup failed")
			utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to verify permissions", err)
			c.Abort()
			return
		}
		if !ok {
			utils.ErrorResponse(c, http.StatusForbidden, "Insufficient permissions", nil)
			c.Abort()
			return
		}

		c.Next()
	}
}

// CurrentUser returns the authenticated profile, or nil
func CurrentUser(c *gin.Context) *models.UserProfile {
	if v, exists := c.Get(userContextKey); exists {
		if profile, ok := v.(*models.UserProfile); ok {
			return profile
		}
	}
	return nil
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
