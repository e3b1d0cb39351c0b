package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminAuth guards the administrative API with a static bearer token. An
// empty configured token disables the admin surface entirely rather than
// leaving it open.
func AdminAuth(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "admin API is disabled",
			})
			return
		}

		auth := c.GetHeader("Authorization")
		expected := "Bearer " + adminToken
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid admin credentials",
			})
			return
		}

		c.Next()
	}
}
