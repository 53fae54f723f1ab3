package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/univ-scheduler-api/internal/middleware"
	"github.com/noah-isme/univ-scheduler-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.CurrentClaims(c)
}

func actorID(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}
