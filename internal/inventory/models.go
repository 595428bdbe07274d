package inventory

import (
	"fmt"
	"time"

	"fleet-ledger/internal/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entity names used as audit subject tables and in error payloads.
const (
	EntityBatch        = "batches"
	EntityUnit         = "units"
	EntityShipment     = "shipments"
	EntityInstallation = "installations"
)

// Status is the lifecycle state of a serialized unit.
type Status string

const (
	StatusManufactured Status = "manufactured"
	StatusQCPass       Status = "qc_pass"
	StatusQCFail       Status = "qc_fail"
	StatusInTransit    Status = "in_transit"
	StatusInWarehouse  Status = "in_warehouse"
	StatusInstalled    Status = "installed"
	StatusReturned     Status = "returned"
	StatusScrapped     Status = "scrapped"
)

type LocationKind string

const (
	LocationPlant     LocationKind = "plant"
	LocationWarehouse LocationKind = "warehouse"
	LocationInTransit LocationKind = "in_transit"
	LocationVehicle   LocationKind = "vehicle"
	LocationCustomer  LocationKind = "customer"
	LocationUnknown   LocationKind = "unknown"
)

// Location is a typed union: Kind selects the variant, Ref holds the
// reference id where the variant has one.
type Location struct {
	Kind LocationKind `json:"kind"`
	Ref  string       `json:"ref,omitempty"`
}

func Plant(id string) Location     { return Location{Kind: LocationPlant, Ref: id} }
func Warehouse(id string) Location { return Location{Kind: LocationWarehouse, Ref: id} }
func Vehicle(id string) Location   { return Location{Kind: LocationVehicle, Ref: id} }
func Customer(id string) Location  { return Location{Kind: LocationCustomer, Ref: id} }
func Unknown() Location            { return Location{Kind: LocationUnknown} }

// InTransit refers to the shipment carrying the unit.
func InTransit(shipmentKey string) Location {
	return Location{Kind: LocationInTransit, Ref: shipmentKey}
}

func (l Location) String() string {
	if l.Ref == "" {
		return string(l.Kind)
	}
	return string(l.Kind) + ":" + l.Ref
}

func (l Location) Validate() error {
	switch l.Kind {
	case LocationPlant, LocationVehicle, LocationCustomer, LocationInTransit:
		if l.Ref == "" {
			return apperrors.Validation("location", fmt.Sprintf("%s requires a reference id", l.Kind))
		}
	case LocationWarehouse:
	case LocationUnknown:
		if l.Ref != "" {
			return apperrors.Validation("location", "unknown location cannot carry a reference id")
		}
	default:
		return apperrors.Validation("location", fmt.Sprintf("unsupported kind %q", l.Kind))
	}
	return nil
}

// IsDestination reports whether a shipment may be addressed to l.
func (l Location) IsDestination() bool {
	return l.Kind == LocationWarehouse || l.Kind == LocationCustomer
}

type Batch struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Key        string    `json:"batch_key"`
	PartNumber string    `json:"part_number"`
	PlantID    string    `json:"plant_id"`
	NextSerial int       `json:"next_serial"`
	CreatedAt  time.Time `json:"created_at"`
}

// SerialFor returns the serial number of the n-th unit (1-based) of a batch.
func SerialFor(batchKey string, n int) string {
	return fmt.Sprintf("%s-%04d", batchKey, n)
}

type Unit struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Serial    string    `json:"serial"`
	BatchID   uuid.UUID `json:"batch_id"`
	Status    Status    `json:"status"`
	Location  Location  `json:"location"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ShipmentStatus string

const (
	ShipmentPlanned   ShipmentStatus = "planned"
	ShipmentInTransit ShipmentStatus = "in_transit"
	ShipmentDelivered ShipmentStatus = "delivered"
)

type Shipment struct {
	ID          uuid.UUID      `json:"id"`
	TenantID    uuid.UUID      `json:"tenant_id"`
	Key         string         `json:"shipment_key"`
	Destination Location       `json:"destination"`
	Status      ShipmentStatus `json:"status"`
	UnitIDs     []uuid.UUID    `json:"unit_ids"`
	CreatedAt   time.Time      `json:"created_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
}

type Installation struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	UnitID        uuid.UUID  `json:"unit_id"`
	VehicleID     string     `json:"vehicle_id"`
	Position      string     `json:"position"`
	InstalledAt   time.Time  `json:"installed_at"`
	RemovedAt     *time.Time `json:"removed_at,omitempty"`
	RemovalReason string     `json:"removal_reason,omitempty"`
}

func (i Installation) Open() bool { return i.RemovedAt == nil }

type Reason string

const (
	ReasonProduction  Reason = "production"
	ReasonQCPass      Reason = "qc_pass"
	ReasonQCFail      Reason = "qc_fail"
	ReasonShipmentOut Reason = "shipment_out"
	ReasonShipmentIn  Reason = "shipment_in"
	ReasonInstall     Reason = "install"
	ReasonRemove      Reason = "remove"
	ReasonAdjust      Reason = "adjust"
	ReasonScrap       Reason = "scrap"
)

// Movement records one unit moving between two locations.
type Movement struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  uuid.UUID       `json:"tenant_id"`
	UnitID    uuid.UUID       `json:"unit_id"`
	From      Location        `json:"from"`
	To        Location        `json:"to"`
	Reason    Reason          `json:"reason"`
	Quantity  decimal.Decimal `json:"quantity"`
	Operation string          `json:"operation"`
	CreatedAt time.Time       `json:"created_at"`
}
