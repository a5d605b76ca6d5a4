package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/concours-api/internal/middleware"
	"github.com/noah-isme/concours-api/internal/models"
	appErrors "github.com/noah-isme/concours-api/pkg/errors"
	"github.com/noah-isme/concours-api/pkg/response"
)

type candidateResolver interface {
	ResolveCandidateID(ctx context.Context, claims *models.JWTClaims) (string, error)
}

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// requireClaims writes a 401 and returns false when the request carries no verified token.
func requireClaims(c *gin.Context) (*models.JWTClaims, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

// resolveCandidate maps the caller's token onto their candidate record, writing the error
// response when that fails.
func resolveCandidate(c *gin.Context, resolver candidateResolver) (*models.JWTClaims, string, bool) {
	claims, ok := requireClaims(c)
	if !ok {
		return nil, "", false
	}
	candidateID, err := resolver.ResolveCandidateID(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return nil, "", false
	}
	return claims, candidateID, true
}
