// Package projection serves read-only views. Every view reads the scope
// bound to the context; none takes a tenant argument.
package projection

import (
	"context"

	"fleet-ledger/internal/apperrors"
	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/inventory"
	"fleet-ledger/internal/storage"
	"fleet-ledger/internal/tenant"
)

const (
	defaultEntryLimit = 100
	maxEntryLimit     = 1000
	// summaryPage is the page size used when Summary walks all units.
	summaryPage = 1000
)

type Service struct {
	reader storage.Reader
}

func NewService(r storage.Reader) *Service { return &Service{reader: r} }

func (s *Service) GetUnit(ctx context.Context, serial string) (UnitDetail, error) {
	scope, err := tenant.RequireTenant(ctx)
	if err != nil {
		return UnitDetail{}, err
	}
	u, err := s.reader.Unit(ctx, scope, serial)
	if err != nil {
		return UnitDetail{}, err
	}
	moves, err := s.reader.Movements(ctx, scope, u.ID)
	if err != nil {
		return UnitDetail{}, err
	}
	out := UnitDetail{Unit: u, Movements: moves}

	if u.Status == inventory.StatusInstalled {
		open, err := s.reader.Installations(ctx, scope, storage.InstallationFilter{VehicleID: u.Location.Ref, OpenOnly: true})
		if err != nil {
			return UnitDetail{}, err
		}
		for i := range open {
			if open[i].UnitID == u.ID {
				out.Installation = &open[i]
				break
			}
		}
	}
	return out, nil
}

func (s *Service) ListUnits(ctx context.Context, f storage.UnitFilter) ([]inventory.Unit, error) {
	scope, err := tenant.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if f.Status != "" && !knownStatus(f.Status) {
		return nil, apperrors.Validation("status", "unknown status "+string(f.Status))
	}
	return s.reader.ListUnits(ctx, scope, f)
}

func (s *Service) UnitMovements(ctx context.Context, serial string) ([]inventory.Movement, error) {
	scope, err := tenant.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.reader.Unit(ctx, scope, serial)
	if err != nil {
		return nil, err
	}
	return s.reader.Movements(ctx, scope, u.ID)
}

// StockByLocation is computed only over the caller's rows.
func (s *Service) StockByLocation(ctx context.Context) ([]storage.StockLevel, error) {
	scope, err := tenant.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	return s.reader.StockLevels(ctx, scope)
}

func (s *Service) GetShipment(ctx context.Context, key string) (inventory.Shipment, error) {
	scope, err := tenant.RequireTenant(ctx)
	if err != nil {
		return inventory.Shipment{}, err
	}
	return s.reader.Shipment(ctx, scope, key)
}

// ListOpenInstallations optionally narrows to one vehicle.
func (s *Service) ListOpenInstallations(ctx context.Context, vehicleID string) ([]inventory.Installation, error) {
	scope, err := tenant.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	return s.reader.Installations(ctx, scope, storage.InstallationFilter{VehicleID: vehicleID, OpenOnly: true})
}

// AuditEntries pages through the bound scope's chain. The system scope may
// read its own chain here.
func (s *Service) AuditEntries(ctx context.Context, afterSeq int64, limit int) ([]audit.Entry, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	if afterSeq < 0 {
		return nil, apperrors.Validation("after", "must not be negative")
	}
	switch {
	case limit <= 0:
		limit = defaultEntryLimit
	case limit > maxEntryLimit:
		limit = maxEntryLimit
	}
	return s.reader.Entries(ctx, scope, afterSeq, limit)
}

func (s *Service) Summary(ctx context.Context) (Summary, error) {
	scope, err := tenant.RequireTenant(ctx)
	if err != nil {
		return Summary{}, err
	}

	var out Summary
	f := storage.UnitFilter{Limit: summaryPage}
	for {
		page, err := s.reader.ListUnits(ctx, scope, f)
		if err != nil {
			return Summary{}, err
		}
		for _, u := range page {
			out.TotalUnits++
			switch u.Status {
			case inventory.StatusManufactured:
				out.Manufactured++
			case inventory.StatusQCPass:
				out.QCPass++
			case inventory.StatusQCFail:
				out.QCFail++
			case inventory.StatusInTransit:
				out.InTransit++
			case inventory.StatusInWarehouse:
				out.InWarehouse++
			case inventory.StatusInstalled:
				out.Installed++
			case inventory.StatusReturned:
				out.Returned++
			case inventory.StatusScrapped:
				out.Scrapped++
			}
		}
		if len(page) < summaryPage {
			break
		}
		f.AfterSerial = page[len(page)-1].Serial
	}
	if inspected := out.TotalUnits - out.Manufactured; inspected > 0 {
		out.YieldRate = float64(inspected-out.QCFail) / float64(inspected)
	}
	return out, nil
}

func knownStatus(s inventory.Status) bool {
	switch s {
	case inventory.StatusManufactured, inventory.StatusQCPass, inventory.StatusQCFail,
		inventory.StatusInTransit, inventory.StatusInWarehouse, inventory.StatusInstalled,
		inventory.StatusReturned, inventory.StatusScrapped:
		return true
	}
	return false
}
