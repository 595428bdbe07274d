package gateway

import (
	"context"
	"errors"
	"fmt"

	"fleet-ledger/internal/apperrors"
	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/inventory"

	"github.com/google/uuid"
)

// unitPayload is the body of every unit entry. Auxiliary rows written by the
// same operation ride along instead of getting entries of their own.
type unitPayload struct {
	Unit         inventory.Unit          `json:"unit"`
	Movement     inventory.Movement      `json:"movement"`
	Batch        *inventory.Batch        `json:"batch,omitempty"`
	Shipment     *inventory.Shipment     `json:"shipment,omitempty"`
	Installation *inventory.Installation `json:"installation,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
	Note         string                  `json:"note,omitempty"`
}

// move applies t to u, stores the unit and its movement, and records the
// unit entry. extra fills the auxiliary fields of the payload.
func (w *writer) move(ctx context.Context, t inventory.Transition, u inventory.Unit, dest inventory.Location, extra unitPayload) (inventory.Unit, error) {
	next, m, err := t.Apply(u, dest, w.now)
	if err != nil {
		return inventory.Unit{}, err
	}
	if err := w.UpdateUnit(ctx, next); err != nil {
		return inventory.Unit{}, err
	}
	if err := w.InsertMovement(ctx, m); err != nil {
		return inventory.Unit{}, err
	}
	extra.Unit, extra.Movement = next, m
	if _, err := w.record(ctx, inventory.EntityUnit, audit.ActionUpdate, next.Serial, extra); err != nil {
		return inventory.Unit{}, err
	}
	return next, nil
}

// manufacture creates units first..first+count-1 of b.
func (w *writer) manufacture(ctx context.Context, b inventory.Batch, first, count int) ([]inventory.Unit, error) {
	units := make([]inventory.Unit, 0, count)
	for n := first; n < first+count; n++ {
		u, m := inventory.Manufacture(b, n, w.now)
		if err := w.InsertUnit(ctx, u); err != nil {
			return nil, err
		}
		if err := w.InsertMovement(ctx, m); err != nil {
			return nil, err
		}
		batch := b
		if _, err := w.record(ctx, inventory.EntityUnit, audit.ActionCreate, u.Serial, unitPayload{Unit: u, Movement: m, Batch: &batch}); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func (g *Gateway) checkBatchSize(count int) error {
	if count > g.cfg.MaxBatchSize {
		return apperrors.Validation("count", fmt.Sprintf("at most %d units per call", g.cfg.MaxBatchSize))
	}
	return nil
}

func (g *Gateway) RegisterBatch(ctx context.Context, req RegisterBatchRequest) (BatchResult, error) {
	var out BatchResult
	err := g.tenantWrite(ctx, "register_batch", req, func(ctx context.Context, w *writer) error {
		if err := g.checkBatchSize(req.Count); err != nil {
			return err
		}
		_, err := w.BatchByKey(ctx, req.BatchKey)
		switch {
		case err == nil:
			return apperrors.DuplicateKey(inventory.EntityBatch, req.BatchKey)
		case !errors.Is(err, apperrors.ErrNotFound):
			return err
		}

		tid, _ := w.scope.TenantID()
		b := inventory.Batch{
			ID:         uuid.New(),
			TenantID:   tid,
			Key:        req.BatchKey,
			PartNumber: req.PartNumber,
			PlantID:    req.PlantID,
			NextSerial: req.Count + 1,
			CreatedAt:  w.now,
		}
		if err := w.InsertBatch(ctx, b); err != nil {
			return err
		}
		units, err := w.manufacture(ctx, b, 1, req.Count)
		if err != nil {
			return err
		}
		out = BatchResult{Batch: b, Units: units}
		return nil
	})
	return out, err
}

func (g *Gateway) GenerateUnits(ctx context.Context, req GenerateUnitsRequest) (BatchResult, error) {
	var out BatchResult
	err := g.tenantWrite(ctx, "generate_units", req, func(ctx context.Context, w *writer) error {
		if err := g.checkBatchSize(req.Count); err != nil {
			return err
		}
		b, err := w.BatchByKey(ctx, req.BatchKey)
		if err != nil {
			return err
		}
		first := b.NextSerial
		b.NextSerial += req.Count
		if err := w.UpdateBatch(ctx, b); err != nil {
			return err
		}
		units, err := w.manufacture(ctx, b, first, req.Count)
		if err != nil {
			return err
		}
		out = BatchResult{Batch: b, Units: units}
		return nil
	})
	return out, err
}

func (g *Gateway) SetQC(ctx context.Context, req SetQCRequest) (inventory.Unit, error) {
	var out inventory.Unit
	err := g.tenantWrite(ctx, "set_qc", req, func(ctx context.Context, w *writer) error {
		u, err := w.UnitBySerial(ctx, req.Serial)
		if err != nil {
			return err
		}
		t := inventory.QCPass
		if req.Result == QCFailed {
			t = inventory.QCFail
		}
		out, err = w.move(ctx, t, u, u.Location, unitPayload{})
		return err
	})
	return out, err
}

func (g *Gateway) AddToShipment(ctx context.Context, req AddToShipmentRequest) (ShipmentResult, error) {
	var out ShipmentResult
	err := g.tenantWrite(ctx, "add_to_shipment", req, func(ctx context.Context, w *writer) error {
		dest := req.Destination
		if err := dest.Validate(); err != nil {
			return err
		}
		if !dest.IsDestination() {
			return apperrors.Validation("destination", fmt.Sprintf("cannot ship to %s", dest.Kind))
		}
		u, err := w.UnitBySerial(ctx, req.Serial)
		if err != nil {
			return err
		}

		sh, err := w.ShipmentByKey(ctx, req.ShipmentKey)
		isNew := errors.Is(err, apperrors.ErrNotFound)
		switch {
		case isNew:
			tid, _ := w.scope.TenantID()
			sh = inventory.Shipment{
				ID:          uuid.New(),
				TenantID:    tid,
				Key:         req.ShipmentKey,
				Destination: dest,
				Status:      inventory.ShipmentPlanned,
				CreatedAt:   w.now,
			}
		case err != nil:
			return err
		}
		if err := sh.CanAddUnits(dest); err != nil {
			return err
		}

		sh.UnitIDs = append(sh.UnitIDs, u.ID)
		sh.Status = inventory.ShipmentInTransit
		if isNew {
			err = w.InsertShipment(ctx, sh)
		} else {
			err = w.UpdateShipment(ctx, sh)
		}
		if err != nil {
			return err
		}

		header := sh
		next, err := w.move(ctx, inventory.ShipOut, u, inventory.InTransit(sh.Key), unitPayload{Shipment: &header})
		if err != nil {
			return err
		}
		out = ShipmentResult{Shipment: sh, Units: []inventory.Unit{next}}
		return nil
	})
	return out, err
}

// DeliverShipment lands every unit at the shipment's destination. Units
// delivered to a customer keep status in_warehouse but are located at the
// customer.
func (g *Gateway) DeliverShipment(ctx context.Context, req DeliverShipmentRequest) (ShipmentResult, error) {
	var out ShipmentResult
	err := g.tenantWrite(ctx, "deliver_shipment", req, func(ctx context.Context, w *writer) error {
		sh, err := w.ShipmentByKey(ctx, req.ShipmentKey)
		if err != nil {
			return err
		}
		if err := sh.CanDeliver(); err != nil {
			return err
		}
		at := w.now
		sh.Status = inventory.ShipmentDelivered
		sh.DeliveredAt = &at
		if err := w.UpdateShipment(ctx, sh); err != nil {
			return err
		}

		units := make([]inventory.Unit, 0, len(sh.UnitIDs))
		for _, id := range sh.UnitIDs {
			u, err := w.UnitByID(ctx, id)
			if err != nil {
				return err
			}
			header := sh
			next, err := w.move(ctx, inventory.ShipIn, u, sh.Destination, unitPayload{Shipment: &header})
			if err != nil {
				return err
			}
			units = append(units, next)
		}
		out = ShipmentResult{Shipment: sh, Units: units}
		return nil
	})
	return out, err
}

func (g *Gateway) Install(ctx context.Context, req InstallRequest) (InstallationResult, error) {
	var out InstallationResult
	err := g.tenantWrite(ctx, "install", req, func(ctx context.Context, w *writer) error {
		u, err := w.UnitBySerial(ctx, req.Serial)
		if err != nil {
			return err
		}
		if !inventory.Install.Allows(u.Status) {
			_, _, err := inventory.Install.Apply(u, inventory.Vehicle(req.VehicleID), w.now)
			return err
		}
		inst := inventory.Installation{
			ID:          uuid.New(),
			TenantID:    u.TenantID,
			UnitID:      u.ID,
			VehicleID:   req.VehicleID,
			Position:    req.Position,
			InstalledAt: w.now,
		}
		if err := w.InsertInstallation(ctx, inst); err != nil {
			return err
		}
		next, err := w.move(ctx, inventory.Install, u, inventory.Vehicle(req.VehicleID), unitPayload{Installation: &inst})
		if err != nil {
			return err
		}
		out = InstallationResult{Unit: next, Installation: inst}
		return nil
	})
	return out, err
}

func (g *Gateway) Remove(ctx context.Context, req RemoveRequest) (InstallationResult, error) {
	var out InstallationResult
	err := g.tenantWrite(ctx, "remove", req, func(ctx context.Context, w *writer) error {
		u, err := w.UnitBySerial(ctx, req.Serial)
		if err != nil {
			return err
		}
		dest := inventory.Warehouse(req.WarehouseID)
		if !inventory.Remove.Allows(u.Status) {
			_, _, err := inventory.Remove.Apply(u, dest, w.now)
			return err
		}
		inst, err := w.OpenInstallation(ctx, u.ID)
		if err != nil {
			return err
		}
		at := w.now
		inst.RemovedAt = &at
		inst.RemovalReason = req.Reason
		if err := w.CloseInstallation(ctx, inst); err != nil {
			return err
		}
		next, err := w.move(ctx, inventory.Remove, u, dest, unitPayload{Installation: &inst, Reason: req.Reason})
		if err != nil {
			return err
		}
		out = InstallationResult{Unit: next, Installation: inst}
		return nil
	})
	return out, err
}

// Scrap retires a unit in place. Units are never deleted.
func (g *Gateway) Scrap(ctx context.Context, req ScrapRequest) (inventory.Unit, error) {
	var out inventory.Unit
	err := g.tenantWrite(ctx, "scrap", req, func(ctx context.Context, w *writer) error {
		u, err := w.UnitBySerial(ctx, req.Serial)
		if err != nil {
			return err
		}
		out, err = w.move(ctx, inventory.Scrap, u, u.Location, unitPayload{Reason: req.Reason})
		return err
	})
	return out, err
}

// Relocate is a stock adjustment between warehouses.
func (g *Gateway) Relocate(ctx context.Context, req RelocateRequest) (inventory.Unit, error) {
	var out inventory.Unit
	err := g.tenantWrite(ctx, "relocate", req, func(ctx context.Context, w *writer) error {
		u, err := w.UnitBySerial(ctx, req.Serial)
		if err != nil {
			return err
		}
		dest := inventory.Warehouse(req.WarehouseID)
		if u.Location == dest && inventory.Relocate.Allows(u.Status) {
			return apperrors.Validation("warehouse_id", fmt.Sprintf("unit %s is already at %s", u.Serial, dest))
		}
		out, err = w.move(ctx, inventory.Relocate, u, dest, unitPayload{Note: req.Note})
		return err
	})
	return out, err
}
