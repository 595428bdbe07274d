package inventory

import (
	"fmt"
	"slices"
	"time"

	"fleet-ledger/internal/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transition is one permitted unit state change.
type Transition struct {
	Name   string
	Reason Reason
	From   []Status
	To     Status
}

var (
	QCPass = Transition{Name: "set_qc", Reason: ReasonQCPass,
		From: []Status{StatusManufactured, StatusQCPass, StatusQCFail}, To: StatusQCPass}
	QCFail = Transition{Name: "set_qc", Reason: ReasonQCFail,
		From: []Status{StatusManufactured, StatusQCPass, StatusQCFail}, To: StatusQCFail}
	ShipOut = Transition{Name: "add_to_shipment", Reason: ReasonShipmentOut,
		From: []Status{StatusQCPass, StatusInWarehouse}, To: StatusInTransit}
	ShipIn = Transition{Name: "deliver_shipment", Reason: ReasonShipmentIn,
		From: []Status{StatusInTransit}, To: StatusInWarehouse}
	Install = Transition{Name: "install", Reason: ReasonInstall,
		From: []Status{StatusInWarehouse}, To: StatusInstalled}
	Remove = Transition{Name: "remove", Reason: ReasonRemove,
		From: []Status{StatusInstalled}, To: StatusReturned}
	Scrap = Transition{Name: "scrap", Reason: ReasonScrap,
		From: []Status{StatusManufactured, StatusQCFail, StatusInWarehouse, StatusReturned}, To: StatusScrapped}
	Relocate = Transition{Name: "relocate", Reason: ReasonAdjust,
		From: []Status{StatusInWarehouse, StatusReturned}}
)

func (t Transition) Allows(s Status) bool { return slices.Contains(t.From, s) }

// Apply moves u to dest and returns the updated unit with the movement that
// explains it. A transition with an empty To keeps the current status.
func (t Transition) Apply(u Unit, dest Location, now time.Time) (Unit, Movement, error) {
	if !t.Allows(u.Status) {
		required := make([]string, len(t.From))
		for i, s := range t.From {
			required[i] = string(s)
		}
		return Unit{}, Movement{}, apperrors.InvalidTransition(EntityUnit, u.Serial, string(u.Status), required...)
	}
	if err := dest.Validate(); err != nil {
		return Unit{}, Movement{}, err
	}

	next := u
	if t.To != "" {
		next.Status = t.To
	}
	next.Location = dest
	next.Version = u.Version + 1
	next.UpdatedAt = now

	return next, newMovement(u, u.Location, dest, t.Reason, t.Name, now), nil
}

// Manufacture creates the n-th unit of a batch at the batch's plant.
func Manufacture(b Batch, n int, now time.Time) (Unit, Movement) {
	u := Unit{
		ID:        uuid.New(),
		TenantID:  b.TenantID,
		Serial:    SerialFor(b.Key, n),
		BatchID:   b.ID,
		Status:    StatusManufactured,
		Location:  Plant(b.PlantID),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return u, newMovement(u, Unknown(), u.Location, ReasonProduction, "register_batch", now)
}

func newMovement(u Unit, from, to Location, reason Reason, op string, now time.Time) Movement {
	return Movement{
		ID:        uuid.New(),
		TenantID:  u.TenantID,
		UnitID:    u.ID,
		From:      from,
		To:        to,
		Reason:    reason,
		Quantity:  decimal.NewFromInt(1),
		Operation: op,
		CreatedAt: now,
	}
}

// CheckContinuity verifies that movements (oldest first) chain from an
// unknown origin to the unit's recorded location with no gaps.
func CheckContinuity(u Unit, movements []Movement) error {
	at := Unknown()
	for i, m := range movements {
		if m.UnitID != u.ID {
			return fmt.Errorf("movement %d belongs to unit %s", i, m.UnitID)
		}
		if m.From != at {
			return fmt.Errorf("movement %d starts at %s, unit was at %s", i, m.From, at)
		}
		at = m.To
	}
	if at != u.Location {
		return fmt.Errorf("unit %s recorded at %s, movements end at %s", u.Serial, u.Location, at)
	}
	return nil
}

// CanAddUnits checks the shipment accepts more units for dest.
func (s Shipment) CanAddUnits(dest Location) error {
	if s.Status == ShipmentDelivered {
		return apperrors.InvalidTransition(EntityShipment, s.Key, string(s.Status),
			string(ShipmentPlanned), string(ShipmentInTransit))
	}
	if s.Destination != dest {
		return apperrors.Validation("destination", fmt.Sprintf("shipment %s is addressed to %s", s.Key, s.Destination))
	}
	return nil
}

func (s Shipment) CanDeliver() error {
	if s.Status != ShipmentPlanned && s.Status != ShipmentInTransit {
		return apperrors.InvalidTransition(EntityShipment, s.Key, string(s.Status),
			string(ShipmentPlanned), string(ShipmentInTransit))
	}
	if len(s.UnitIDs) == 0 {
		return apperrors.Validation("shipment", fmt.Sprintf("shipment %s has no units", s.Key))
	}
	return nil
}
