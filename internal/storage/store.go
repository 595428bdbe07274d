// Package storage holds domain rows and audit entries. Writes happen only
// inside RunInTx, which binds one scope for the whole unit of work; every
// read takes the scope explicitly and never returns rows of another scope.
package storage

import (
	"context"

	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/inventory"
	"fleet-ledger/internal/tenant"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tx is a unit of work scoped to a single tenant (or the system scope).
// Domain writers are only reachable through it.
type Tx interface {
	audit.Tx
	Scope() tenant.Scope

	InsertBatch(ctx context.Context, b inventory.Batch) error
	BatchByKey(ctx context.Context, key string) (inventory.Batch, error)
	UpdateBatch(ctx context.Context, b inventory.Batch) error

	InsertUnit(ctx context.Context, u inventory.Unit) error
	UnitByID(ctx context.Context, id uuid.UUID) (inventory.Unit, error)
	UnitBySerial(ctx context.Context, serial string) (inventory.Unit, error)
	// UpdateUnit stores u if the stored version is u.Version-1.
	UpdateUnit(ctx context.Context, u inventory.Unit) error

	InsertMovement(ctx context.Context, m inventory.Movement) error

	ShipmentByKey(ctx context.Context, key string) (inventory.Shipment, error)
	InsertShipment(ctx context.Context, s inventory.Shipment) error
	UpdateShipment(ctx context.Context, s inventory.Shipment) error

	OpenInstallation(ctx context.Context, unitID uuid.UUID) (inventory.Installation, error)
	InsertInstallation(ctx context.Context, i inventory.Installation) error
	CloseInstallation(ctx context.Context, i inventory.Installation) error
}

// TxFunc is the unit of work executed by RunInTx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is implemented by MemoryStore and PostgresStore.
type Store interface {
	// RunInTx commits every write made through tx, or none of them.
	RunInTx(ctx context.Context, scope tenant.Scope, fn TxFunc) error
	Reader
}

// Reader serves committed, scope-filtered reads.
type Reader interface {
	audit.Reader

	Unit(ctx context.Context, scope tenant.Scope, serial string) (inventory.Unit, error)
	ListUnits(ctx context.Context, scope tenant.Scope, f UnitFilter) ([]inventory.Unit, error)
	Movements(ctx context.Context, scope tenant.Scope, unitID uuid.UUID) ([]inventory.Movement, error)
	StockLevels(ctx context.Context, scope tenant.Scope) ([]StockLevel, error)
	Shipment(ctx context.Context, scope tenant.Scope, key string) (inventory.Shipment, error)
	Installations(ctx context.Context, scope tenant.Scope, f InstallationFilter) ([]inventory.Installation, error)
}

type UnitFilter struct {
	Status  inventory.Status
	BatchID uuid.UUID
	// AfterSerial and Limit page through results ordered by serial.
	AfterSerial string
	Limit       int
}

type InstallationFilter struct {
	VehicleID string
	OpenOnly  bool
}

// StockLevel is what sits at one location: unit counts per status from the
// unit rows, and the net quantity from the movement ledger.
type StockLevel struct {
	Location inventory.Location          `json:"location"`
	Units    map[inventory.Status]int64 `json:"units"`
	Quantity decimal.Decimal             `json:"quantity"`
}

const defaultListLimit = 100
const maxListLimit = 1000

func (f UnitFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}
