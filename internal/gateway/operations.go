// Package gateway is the only code path that writes domain state. Each
// operation validates its request, runs one storage transaction in the
// caller's tenant scope and appends one audit entry per affected unit before
// the transaction commits.
package gateway

import (
	"context"

	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/inventory"
	"fleet-ledger/internal/tenant"
)

// Operations is the full set of permitted mutations.
type Operations interface {
	RegisterBatch(ctx context.Context, req RegisterBatchRequest) (BatchResult, error)
	GenerateUnits(ctx context.Context, req GenerateUnitsRequest) (BatchResult, error)
	SetQC(ctx context.Context, req SetQCRequest) (inventory.Unit, error)
	AddToShipment(ctx context.Context, req AddToShipmentRequest) (ShipmentResult, error)
	DeliverShipment(ctx context.Context, req DeliverShipmentRequest) (ShipmentResult, error)
	Install(ctx context.Context, req InstallRequest) (InstallationResult, error)
	Remove(ctx context.Context, req RemoveRequest) (InstallationResult, error)
	Scrap(ctx context.Context, req ScrapRequest) (inventory.Unit, error)
	Relocate(ctx context.Context, req RelocateRequest) (inventory.Unit, error)

	RecordSystemEvent(ctx context.Context, req SystemEventRequest) (audit.Entry, error)
	ReleaseHalt(ctx context.Context, target tenant.Scope) error
}

var _ Operations = (*Gateway)(nil)

type RegisterBatchRequest struct {
	BatchKey   string `json:"batch_key" validate:"required,max=64"`
	PartNumber string `json:"part_number" validate:"required,max=64"`
	PlantID    string `json:"plant_id" validate:"required,max=64"`
	Count      int    `json:"count" validate:"min=1"`
}

type GenerateUnitsRequest struct {
	BatchKey string `json:"batch_key" validate:"required"`
	Count    int    `json:"count" validate:"min=1"`
}

type BatchResult struct {
	Batch inventory.Batch  `json:"batch"`
	Units []inventory.Unit `json:"units"`
}

type QCResult string

const (
	QCPassed QCResult = "pass"
	QCFailed QCResult = "fail"
)

type SetQCRequest struct {
	Serial string   `json:"serial" validate:"required"`
	Result QCResult `json:"result" validate:"required,oneof=pass fail"`
}

type AddToShipmentRequest struct {
	ShipmentKey string             `json:"shipment_key" validate:"required,max=64"`
	Destination inventory.Location `json:"destination"`
	Serial      string             `json:"serial" validate:"required"`
}

type DeliverShipmentRequest struct {
	ShipmentKey string `json:"shipment_key" validate:"required"`
}

type ShipmentResult struct {
	Shipment inventory.Shipment `json:"shipment"`
	Units    []inventory.Unit   `json:"units"`
}

type InstallRequest struct {
	Serial    string `json:"serial" validate:"required"`
	VehicleID string `json:"vehicle_id" validate:"required,max=64"`
	Position  string `json:"position" validate:"required,max=64"`
}

type RemoveRequest struct {
	Serial string `json:"serial" validate:"required"`
	Reason string `json:"reason" validate:"required,max=256"`
	// WarehouseID is where the removed unit is taken; empty means an
	// unspecified warehouse.
	WarehouseID string `json:"warehouse_id" validate:"max=64"`
}

type InstallationResult struct {
	Unit         inventory.Unit         `json:"unit"`
	Installation inventory.Installation `json:"installation"`
}

type ScrapRequest struct {
	Serial string `json:"serial" validate:"required"`
	Reason string `json:"reason" validate:"required,max=256"`
}

type RelocateRequest struct {
	Serial      string `json:"serial" validate:"required"`
	WarehouseID string `json:"warehouse_id" validate:"required,max=64"`
	Note        string `json:"note" validate:"max=256"`
}

type SystemEventRequest struct {
	Subject string         `json:"subject" validate:"required,max=64"`
	Key     string         `json:"key" validate:"required,max=128"`
	Payload map[string]any `json:"payload"`
}
