package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKey guards operator routes. An empty key disables the check, which is
// only meant for local development.
func AdminKey(required string) gin.HandlerFunc {
	want := []byte(required)
	return func(c *gin.Context) {
		if required == "" {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(AdminKeyHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Invalid admin key",
				},
			})
			return
		}
		c.Next()
	}
}
