package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/transacta/paymentid/internal/accounts"
)

// Context keys set by RequireAuth.
const (
	ContextUID  = "uid"
	ContextRole = "role"
)

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

// RequireAuth accepts requests carrying a valid Bearer identity token.
func RequireAuth(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abort(c, http.StatusUnauthorized, "Authorization header missing or invalid")
			return
		}
		claims, err := v.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		c.Set(ContextUID, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireRole must run after RequireAuth.
func RequireRole(roles ...accounts.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, RoleFrom(c)) {
			abort(c, http.StatusForbidden, "Forbidden: insufficient permissions")
			return
		}
		c.Next()
	}
}

func UIDFrom(c *gin.Context) string { return c.GetString(ContextUID) }

func RoleFrom(c *gin.Context) accounts.Role {
	role, _ := c.Get(ContextRole)
	r, _ := role.(accounts.Role)
	return r
}
