package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"fleet-ledger/internal/apperrors"
	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/auth"
	"fleet-ledger/internal/export"
	"fleet-ledger/internal/gateway"
	"fleet-ledger/internal/inventory"
	"fleet-ledger/internal/projection"
	"fleet-ledger/internal/rbac"
	"fleet-ledger/internal/storage"
	"fleet-ledger/internal/tenant"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse input, call internal services, return JSON.
type Handlers struct {
	Auth  *auth.Manager
	Ops   gateway.Operations
	Views *projection.Service
	Chain *audit.Chain
	// Archiver is nil when no archive bucket is configured.
	Archiver *export.Archiver
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair. It checks no credentials and is mounted
// only outside production.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, err)
		return
	}
	if req.UserID == "" || !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "user_id and a known role are required"})
		return
	}
	if req.TenantID == "" && req.Role != rbac.RoleSystem && !rbac.IsCrossTenant(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "tenant_id required for role " + req.Role})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Operations ---

func (h Handlers) RegisterBatch(c *gin.Context) {
	var req gateway.RegisterBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, err)
		return
	}
	res, err := h.Ops.RegisterBatch(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type countBody struct {
	Count int `json:"count"`
}

func (h Handlers) GenerateUnits(c *gin.Context) {
	var body countBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badJSON(c, err)
		return
	}
	res, err := h.Ops.GenerateUnits(c.Request.Context(), gateway.GenerateUnitsRequest{BatchKey: c.Param("key"), Count: body.Count})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h Handlers) SetQC(c *gin.Context) {
	var body struct {
		Result gateway.QCResult `json:"result"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badJSON(c, err)
		return
	}
	u, err := h.Ops.SetQC(c.Request.Context(), gateway.SetQCRequest{Serial: c.Param("serial"), Result: body.Result})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h Handlers) AddToShipment(c *gin.Context) {
	var body struct {
		Serial      string             `json:"serial"`
		Destination inventory.Location `json:"destination"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badJSON(c, err)
		return
	}
	res, err := h.Ops.AddToShipment(c.Request.Context(), gateway.AddToShipmentRequest{
		ShipmentKey: c.Param("key"),
		Destination: body.Destination,
		Serial:      body.Serial,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) DeliverShipment(c *gin.Context) {
	res, err := h.Ops.DeliverShipment(c.Request.Context(), gateway.DeliverShipmentRequest{ShipmentKey: c.Param("key")})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) Install(c *gin.Context) {
	var body struct {
		VehicleID string `json:"vehicle_id"`
		Position  string `json:"position"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badJSON(c, err)
		return
	}
	res, err := h.Ops.Install(c.Request.Context(), gateway.InstallRequest{Serial: c.Param("serial"), VehicleID: body.VehicleID, Position: body.Position})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) Remove(c *gin.Context) {
	var body struct {
		Reason      string `json:"reason"`
		WarehouseID string `json:"warehouse_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badJSON(c, err)
		return
	}
	res, err := h.Ops.Remove(c.Request.Context(), gateway.RemoveRequest{Serial: c.Param("serial"), Reason: body.Reason, WarehouseID: body.WarehouseID})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) Scrap(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badJSON(c, err)
		return
	}
	u, err := h.Ops.Scrap(c.Request.Context(), gateway.ScrapRequest{Serial: c.Param("serial"), Reason: body.Reason})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h Handlers) Relocate(c *gin.Context) {
	var body struct {
		WarehouseID string `json:"warehouse_id"`
		Note        string `json:"note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badJSON(c, err)
		return
	}
	u, err := h.Ops.Relocate(c.Request.Context(), gateway.RelocateRequest{Serial: c.Param("serial"), WarehouseID: body.WarehouseID, Note: body.Note})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// --- Views ---

func (h Handlers) ListUnits(c *gin.Context) {
	f := storage.UnitFilter{
		Status:      inventory.Status(c.Query("status")),
		AfterSerial: c.Query("after"),
	}
	if raw := c.Query("batch_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(c, apperrors.Validation("batch_id", "must be a uuid"))
			return
		}
		f.BatchID = id
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}
	f.Limit = limit

	units, err := h.Views.ListUnits(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"units": units})
}

func (h Handlers) GetUnit(c *gin.Context) {
	d, err := h.Views.GetUnit(c.Request.Context(), c.Param("serial"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h Handlers) UnitMovements(c *gin.Context) {
	moves, err := h.Views.UnitMovements(c.Request.Context(), c.Param("serial"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": moves})
}

func (h Handlers) Stock(c *gin.Context) {
	levels, err := h.Views.StockByLocation(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": levels})
}

func (h Handlers) Summary(c *gin.Context) {
	s, err := h.Views.Summary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) GetShipment(c *gin.Context) {
	sh, err := h.Views.GetShipment(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sh)
}

func (h Handlers) OpenInstallations(c *gin.Context) {
	list, err := h.Views.ListOpenInstallations(c.Request.Context(), c.Query("vehicle"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"installations": list})
}

func (h Handlers) AuditEntries(c *gin.Context) {
	after, err := int64Query(c, "after")
	if err != nil {
		writeError(c, err)
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}
	entries, err := h.Views.AuditEntries(c.Request.Context(), after, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// --- Audit ---

// auditScope is the chain an auditor asked about. Cross-tenant auditors name
// it with ?tenant= (a tenant id or "system"); everyone else gets their own.
func auditScope(c *gin.Context) (tenant.Scope, error) {
	ctx := c.Request.Context()
	role, _ := auth.Role(ctx)
	requested := c.Query("tenant")
	if rbac.IsCrossTenant(role) {
		if requested == "" {
			return tenant.Scope{}, apperrors.Validation("tenant", "is required")
		}
		return tenant.ParseScope(requested)
	}
	own, err := tenant.RequireTenant(ctx)
	if err != nil {
		return tenant.Scope{}, err
	}
	if requested != "" && requested != own.Key() {
		return tenant.Scope{}, errForbiddenScope
	}
	return own, nil
}

func (h Handlers) Verify(c *gin.Context) {
	scope, err := auditScope(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rep, err := h.Chain.Verify(c.Request.Context(), scope)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Export returns the scope's entries as JSON, or as JSON Lines with
// ?format=jsonl.
func (h Handlers) Export(c *gin.Context) {
	scope, err := auditScope(c)
	if err != nil {
		writeError(c, err)
		return
	}
	exp, err := h.Chain.Export(c.Request.Context(), scope)
	if err != nil {
		writeError(c, err)
		return
	}
	if c.Query("format") == "jsonl" {
		c.Header("Content-Type", "application/x-ndjson")
		c.Status(http.StatusOK)
		if err := export.Encode(c.Writer, exp.Entries); err != nil {
			_ = c.Error(err)
		}
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (h Handlers) Archive(c *gin.Context) {
	if h.Archiver == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "archive not configured"})
		return
	}
	scope, err := auditScope(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rc, err := h.Archiver.Archive(c.Request.Context(), scope)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if rc.Existing {
		status = http.StatusOK
	}
	c.JSON(status, rc)
}

// --- System ---

func (h Handlers) RecordSystemEvent(c *gin.Context) {
	var req gateway.SystemEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, err)
		return
	}
	e, err := h.Ops.RecordSystemEvent(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h Handlers) ReleaseHalt(c *gin.Context) {
	target, err := tenant.ParseScope(c.Param("scope"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Ops.ReleaseHalt(c.Request.Context(), target); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation(name, "must be an integer")
	}
	return n, nil
}

func int64Query(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Validation(name, "must be an integer")
	}
	return n, nil
}
