package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"tourtrack/api/utils"
)

// AuthRequired admits requests carrying the shared API key in X-API-KEY or a
// valid dashboard JWT (cookie or Bearer header).
func AuthRequired(tokens *utils.TokenIssuer, apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := log.Ctx(c.Request.Context())

		if key := c.GetHeader("X-API-KEY"); apiKey != "" && key != "" &&
			subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			c.Set("auth_method", "api_key")
			c.Next()
			return
		}

		tokenString, err := c.Cookie("jwt_token")
		if err != nil || tokenString == "" {
			tokenString = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
			if tokenString == "" {
				logger.Debug().Msg("no JWT token found in cookie or header")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
				return
			}
		}

		claims, err := tokens.ValidateJWT(tokenString)
		if err != nil {
			logger.Info().Err(err).Msg("invalid JWT token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set("auth_method", "jwt")
		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Next()
	}
}
