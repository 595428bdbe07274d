package httpapi

import (
	"fleet-ledger/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Mount registers the /v1 API. authMW verifies the bearer token; every
// group below it binds the caller's scope before any handler runs.
func Mount(r gin.IRouter, h Handlers, authMW gin.HandlerFunc, limiter Limiter, devLogin bool) {
	v1 := r.Group("/v1")
	if devLogin {
		v1.POST("/auth/login", h.Login)
	}

	api := v1.Group("")
	api.Use(authMW, rbac.BindScope())

	ops := api.Group("/ops")
	ops.Use(rbac.RequireTenant(), rbac.RequireAnyRole(rbac.RoleOperator), WriteCap(limiter))
	{
		ops.POST("/batches", h.RegisterBatch)
		ops.POST("/batches/:key/units", h.GenerateUnits)
		ops.POST("/units/:serial/qc", h.SetQC)
		ops.POST("/units/:serial/install", h.Install)
		ops.POST("/units/:serial/remove", h.Remove)
		ops.POST("/units/:serial/scrap", h.Scrap)
		ops.POST("/units/:serial/relocate", h.Relocate)
		ops.POST("/shipments/:key/units", h.AddToShipment)
		ops.POST("/shipments/:key/deliver", h.DeliverShipment)
	}

	views := api.Group("/views")
	views.Use(rbac.RequireTenant(), rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAuditor))
	{
		views.GET("/units", h.ListUnits)
		views.GET("/units/:serial", h.GetUnit)
		views.GET("/units/:serial/movements", h.UnitMovements)
		views.GET("/stock", h.Stock)
		views.GET("/summary", h.Summary)
		views.GET("/shipments/:key", h.GetShipment)
		views.GET("/installations", h.OpenInstallations)
		views.GET("/audit", h.AuditEntries)
	}

	aud := api.Group("/audit")
	aud.Use(rbac.RequireAnyRole(rbac.RoleAuditor, rbac.RoleGlobalAuditor))
	{
		aud.GET("/verify", h.Verify)
		aud.GET("/export", h.Export)
		aud.POST("/archive", h.Archive)
	}

	sys := api.Group("/system")
	sys.Use(rbac.RequireAnyRole(rbac.RoleSystem), WriteCap(limiter))
	{
		sys.POST("/events", h.RecordSystemEvent)
		sys.GET("/audit", h.AuditEntries)
		sys.POST("/halts/:scope/release", h.ReleaseHalt)
	}
}
