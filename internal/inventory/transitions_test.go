package inventory

import (
	"errors"
	"testing"
	"time"

	"fleet-ledger/internal/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch() Batch {
	return Batch{ID: uuid.New(), TenantID: uuid.New(), Key: "B7", PartNumber: "PN-100", PlantID: "plant-1"}
}

func TestManufacture(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	u, m := Manufacture(testBatch(), 3, now)

	assert.Equal(t, "B7-0003", u.Serial)
	assert.Equal(t, StatusManufactured, u.Status)
	assert.Equal(t, Plant("plant-1"), u.Location)
	assert.Equal(t, Unknown(), m.From)
	assert.Equal(t, u.Location, m.To)
	assert.Equal(t, ReasonProduction, m.Reason)
	assert.True(t, m.Quantity.Equal(decimal.NewFromInt(1)))
}

func TestApplyFollowsLifecycle(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	u, first := Manufacture(testBatch(), 1, now)
	moves := []Movement{first}

	steps := []struct {
		tr   Transition
		dest Location
	}{
		{QCPass, u.Location},
		{ShipOut, InTransit("S1")},
		{ShipIn, Warehouse("wh-1")},
		{Install, Vehicle("truck-9")},
		{Remove, Warehouse("wh-1")},
		{Scrap, Warehouse("wh-1")},
	}
	for _, s := range steps {
		var m Movement
		var err error
		u, m, err = s.tr.Apply(u, s.dest, now)
		require.NoError(t, err, s.tr.Name)
		moves = append(moves, m)
	}

	assert.Equal(t, StatusScrapped, u.Status)
	assert.EqualValues(t, 7, u.Version)
	require.NoError(t, CheckContinuity(u, moves))
}

func TestApplyRejectsWrongState(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	u, _ := Manufacture(testBatch(), 1, now)
	u, _, err := QCPass.Apply(u, u.Location, now)
	require.NoError(t, err)
	u, _, err = ShipOut.Apply(u, InTransit("S1"), now)
	require.NoError(t, err)

	_, _, err = Install.Apply(u, Vehicle("truck-1"), now)
	require.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)

	var te *apperrors.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, string(StatusInTransit), te.Current)
	assert.Equal(t, []string{string(StatusInWarehouse)}, te.Required)
}

func TestRelocateKeepsStatus(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	u := Unit{ID: uuid.New(), Serial: "X-0001", Status: StatusInWarehouse, Location: Warehouse("a"), Version: 4}

	next, m, err := Relocate.Apply(u, Warehouse("b"), now)
	require.NoError(t, err)
	assert.Equal(t, StatusInWarehouse, next.Status)
	assert.Equal(t, Warehouse("a"), m.From)
	assert.Equal(t, Warehouse("b"), m.To)
	assert.Equal(t, ReasonAdjust, m.Reason)
}

func TestCheckContinuityDetectsGap(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	u, m1 := Manufacture(testBatch(), 1, now)
	teleport := Movement{UnitID: u.ID, From: Warehouse("elsewhere"), To: Warehouse("wh")}
	u.Location = Warehouse("wh")

	assert.Error(t, CheckContinuity(u, []Movement{m1, teleport}))
}

func TestLocationValidate(t *testing.T) {
	assert.NoError(t, Warehouse("").Validate())
	assert.NoError(t, Customer("acme").Validate())
	assert.ErrorIs(t, Vehicle("").Validate(), apperrors.ErrValidation)
	assert.ErrorIs(t, Location{Kind: LocationUnknown, Ref: "x"}.Validate(), apperrors.ErrValidation)
	assert.ErrorIs(t, Location{Kind: "moon"}.Validate(), apperrors.ErrValidation)
}

func TestShipmentRules(t *testing.T) {
	s := Shipment{Key: "S1", Destination: Warehouse("wh"), Status: ShipmentPlanned}

	assert.ErrorIs(t, s.CanDeliver(), apperrors.ErrValidation)
	assert.ErrorIs(t, s.CanAddUnits(Customer("acme")), apperrors.ErrValidation)
	assert.NoError(t, s.CanAddUnits(Warehouse("wh")))

	s.UnitIDs = []uuid.UUID{uuid.New()}
	assert.NoError(t, s.CanDeliver())

	s.Status = ShipmentDelivered
	assert.ErrorIs(t, s.CanDeliver(), apperrors.ErrInvalidStateTransition)
	assert.ErrorIs(t, s.CanAddUnits(Warehouse("wh")), apperrors.ErrInvalidStateTransition)
}
