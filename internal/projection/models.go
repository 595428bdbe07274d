package projection

import (
	"fleet-ledger/internal/inventory"
)

// UnitDetail is a unit with its movement history and, when installed, the
// open installation.
type UnitDetail struct {
	Unit         inventory.Unit          `json:"unit"`
	Movements    []inventory.Movement    `json:"movements"`
	Installation *inventory.Installation `json:"installation,omitempty"`
}

// Summary counts the caller's units by status.
type Summary struct {
	TotalUnits int `json:"total_units"`

	Manufactured int `json:"manufactured"`
	QCPass       int `json:"qc_pass"`
	QCFail       int `json:"qc_fail"`
	InTransit    int `json:"in_transit"`
	InWarehouse  int `json:"in_warehouse"`
	Installed    int `json:"installed"`
	Returned     int `json:"returned"`
	Scrapped     int `json:"scrapped"`

	// YieldRate is the share of units past manufacture that are not in
	// qc_fail. Zero when nothing was inspected.
	YieldRate float64 `json:"yield_rate"`
}
