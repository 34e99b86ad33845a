package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/fitauth/internal/authkit"
	"go.uber.org/zap"
)

// ProfileFinder resolves stored profiles by user id.
type ProfileFinder interface {
	FindProfile(ctx context.Context, userID string) (authkit.UserProfile, error)
}

// HandleProfileLookup serves the stored profile for the :user_id path parameter.
// Secondary-link credentials never leave the store; only the external account id and link time are returned.
func HandleProfileLookup(logger *zap.Logger, profiles ProfileFinder) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if profiles == nil {
		panic("profile finder is required")
	}

	return func(contextGin *gin.Context) {
		userID := contextGin.Param("user_id")
		profile, err := profiles.FindProfile(contextGin.Request.Context(), userID)
		if err != nil {
			status, code := authkit.ClassifyError(err)
			switch {
			case errors.Is(err, authkit.ErrProfileNotFound), errors.Is(err, authkit.ErrMissingInput):
				logger.Warn("user profile missing",
					zap.String("code", "api.users.profile_missing"),
					zap.String("user_id", userID))
			default:
				logger.Error("user profile lookup error",
					zap.String("code", "api.users.profile_error"),
					zap.String("user_id", userID),
					zap.Error(err))
			}
			contextGin.AbortWithStatusJSON(status, gin.H{"error": code})
			return
		}
		contextGin.JSON(http.StatusOK, profile)
	}
}
