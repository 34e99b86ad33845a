package authkit

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MountAuthRoutes registers the login, verify, refresh, link, sync, and health routes.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, gateway *Gateway, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/auth/google/start", func(contextGin *gin.Context) {
		contextGin.Redirect(http.StatusFound, gateway.GoogleAuthURL(uuid.NewString()))
	})

	router.GET("/oauth2callback", func(contextGin *gin.Context) {
		result, err := gateway.LoginWithCode(contextGin.Request.Context(), contextGin.Query("code"))
		if err != nil {
			abortWithClassifiedError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, loginPayload(result))
	})

	router.POST("/auth/verify", func(contextGin *gin.Context) {
		var inbound struct {
			IDToken string `json:"id_token"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		claims, err := gateway.VerifyIdentity(contextGin.Request.Context(), inbound.IDToken)
		if err != nil {
			abortWithClassifiedError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"valid":  true,
			"claims": claims,
		})
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		var inbound struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		result, err := gateway.RefreshLogin(contextGin.Request.Context(), inbound.RefreshToken)
		if err != nil {
			abortWithClassifiedError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, loginPayload(result))
	})

	router.GET("/auth/fitness/start", func(contextGin *gin.Context) {
		authURL, err := gateway.FitnessAuthURL(contextGin.Query("user_ref"))
		if err != nil {
			abortWithClassifiedError(contextGin, err)
			return
		}
		contextGin.Redirect(http.StatusFound, authURL)
	})

	router.GET("/auth/fitness/callback", func(contextGin *gin.Context) {
		if providerErr := contextGin.Query("error"); providerErr != "" {
			logger.Info("fitness consent declined",
				zap.String("code", "link.fitness.declined"),
				zap.String("provider_error", providerErr))
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "link_declined"})
			return
		}
		localUserRef := contextGin.Query("state")
		link, err := gateway.LinkFitnessAccount(contextGin.Request.Context(), contextGin.Query("code"), localUserRef)
		if err != nil {
			abortWithClassifiedError(contextGin, err)
			return
		}
		if configuration.FitnessSuccessRedirect != "" {
			contextGin.Redirect(http.StatusFound, configuration.FitnessSuccessRedirect)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"linked":              true,
			"user_id":             localUserRef,
			"external_account_id": link.ExternalAccountID,
		})
	})

	router.POST("/users/sync", func(contextGin *gin.Context) {
		var inbound struct {
			UserID  string `json:"user_id"`
			Email   string `json:"email"`
			Name    string `json:"name"`
			Picture string `json:"picture"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		err := gateway.SyncProfile(contextGin.Request.Context(), IdentityClaims{
			Subject:    strings.TrimSpace(inbound.UserID),
			Email:      inbound.Email,
			Name:       inbound.Name,
			PictureURL: inbound.Picture,
		})
		if err != nil {
			abortWithClassifiedError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"synced": true})
	})

	router.GET("/healthz", func(contextGin *gin.Context) {
		count, err := gateway.CountProfiles(contextGin.Request.Context())
		if err != nil {
			logger.Error("health probe failed", zap.String("code", "health.count"), zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok", "profiles": count})
	})
}

func loginPayload(result LoginResult) gin.H {
	payload := gin.H{
		"user_id":      result.Claims.Subject,
		"email":        result.Claims.Email,
		"name":         result.Claims.Name,
		"picture":      result.Claims.PictureURL,
		"id_token":     result.Bundle.IdentityToken,
		"access_token": result.Bundle.AccessToken,
	}
	if result.Bundle.RefreshToken != "" {
		payload["refresh_token"] = result.Bundle.RefreshToken
	}
	if !result.Bundle.Expiry.IsZero() {
		payload["expires_at"] = result.Bundle.Expiry.UTC().Format(time.RFC3339)
	}
	return payload
}

func abortWithClassifiedError(contextGin *gin.Context, err error) {
	status, code := ClassifyError(err)
	contextGin.AbortWithStatusJSON(status, gin.H{"error": code})
}

// ClassifyError maps a gateway error to an HTTP status and a generic error code.
func ClassifyError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMissingInput):
		return http.StatusBadRequest, "missing_input"
	case errors.Is(err, ErrExchangeRejected):
		return http.StatusUnauthorized, "invalid_code"
	case errors.Is(err, ErrIncompleteBundle):
		return http.StatusUnauthorized, "incomplete_credentials"
	case errors.Is(err, ErrTokenInvalid):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, ErrProfileNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrLinkingDisabled):
		return http.StatusNotFound, "linking_disabled"
	case errors.Is(err, ErrProviderUnavailable):
		return http.StatusBadGateway, "provider_unavailable"
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
