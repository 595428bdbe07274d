package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"fleet-ledger/internal/auth"
	"fleet-ledger/internal/tenant"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func identity(userID, tenantID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, tenantID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// scopeEcho answers with the bound scope key, or "none".
func scopeEcho(c *gin.Context) {
	s, ok := tenant.FromContext(c.Request.Context())
	if !ok {
		c.String(http.StatusOK, "none")
		return
	}
	c.String(http.StatusOK, s.Key())
}

func serve(t *testing.T, handlers ...gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", handlers...)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func TestBindScope_TenantClaim(t *testing.T) {
	tid := uuid.New()
	w := serve(t, identity("u", tid.String(), RoleOperator), BindScope(), RequireTenant(), scopeEcho)
	if w.Code != 200 || w.Body.String() != tid.String() {
		t.Fatalf("expected 200 %s, got %d %q", tid, w.Code, w.Body.String())
	}
}

func TestBindScope_SystemRole(t *testing.T) {
	w := serve(t, identity("scheduler", "", RoleSystem), BindScope(), scopeEcho)
	if w.Code != 200 || w.Body.String() != tenant.System().Key() {
		t.Fatalf("expected system scope, got %d %q", w.Code, w.Body.String())
	}
}

func TestBindScope_SystemCannotPassRequireTenant(t *testing.T) {
	w := serve(t, identity("scheduler", "", RoleSystem), BindScope(), RequireTenant(), scopeEcho)
	if w.Code != 401 {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestBindScope_GlobalAuditorStaysUnbound(t *testing.T) {
	w := serve(t, identity("a", "", RoleGlobalAuditor), BindScope(), scopeEcho)
	if w.Code != 200 || w.Body.String() != "none" {
		t.Fatalf("expected unbound, got %d %q", w.Code, w.Body.String())
	}
}

func TestBindScope_TenantRequired(t *testing.T) {
	for _, raw := range []string{"", "not-a-uuid", uuid.Nil.String()} {
		w := serve(t, identity("u", raw, RoleOperator), BindScope(), scopeEcho)
		if w.Code != 401 {
			t.Fatalf("tenant %q: expected 401, got %d", raw, w.Code)
		}
	}
}

func TestRequireAnyRole_HiddenRoleDeniedUnlessAllowed(t *testing.T) {
	w := serve(t, identity("u", "", RoleSystem), RequireAnyRole(RoleOperator, RoleAuditor), scopeEcho)
	if w.Code != 403 {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	w = serve(t, identity("u", "", RoleSystem), RequireAnyRole(RoleSystem), scopeEcho)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequireAnyRole_RoleRequired(t *testing.T) {
	w := serve(t, identity("u", uuid.NewString(), ""), RequireAnyRole(RoleOperator), scopeEcho)
	if w.Code != 401 {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRoles(t *testing.T) {
	if !IsKnownRole(RoleGlobalAuditor) || IsKnownRole("super_admin") {
		t.Fatalf("unexpected role table")
	}
	if IsCrossTenant(RoleAuditor) {
		t.Fatalf("auditor is tenant-bound")
	}
	if !IsHiddenRole(RoleSystem) || IsHiddenRole(RoleGlobalAuditor) {
		t.Fatalf("only the system role is hidden")
	}
}
