package rbac

import (
	"net/http"

	"fleet-ledger/internal/auth"
	"fleet-ledger/internal/tenant"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BindScope turns the verified identity into a bound scope on the request
// context. The hidden system role binds the system scope; every other role binds
// the tenant from its token. Cross-tenant roles without a tenant claim stay
// unbound and must name a scope per request.
func BindScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		role, _ := auth.Role(ctx)
		if IsHiddenRole(role) {
			c.Request = c.Request.WithContext(tenant.BindSystem(ctx))
			c.Next()
			return
		}

		raw, err := auth.TenantID(ctx)
		if err != nil {
			if IsCrossTenant(role) {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid tenant_id"})
			return
		}
		bound, err := tenant.Bind(ctx, id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid tenant_id"})
			return
		}
		c.Request = c.Request.WithContext(bound)
		c.Set("scope", id.String())
		c.Next()
	}
}

// RequireTenant enforces the multi-tenant invariant: a tenant scope must be
// bound before any tenant data is touched.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := tenant.RequireTenant(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant scope required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Hidden roles are denied unless listed explicitly. There is no bypass role.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
