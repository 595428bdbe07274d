package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleet-ledger/internal/apperrors"
	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/auth"
	"fleet-ledger/internal/inventory"
	"fleet-ledger/internal/storage"
	"fleet-ledger/internal/tenant"
	"fleet-ledger/pkg/retry"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store   *storage.MemoryStore
	chain   *audit.Chain
	gw      *Gateway
	metrics *countingMetrics
}

type countingMetrics struct {
	mu      sync.Mutex
	results map[string]int
	retries int
}

func (m *countingMetrics) Observe(op, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[op+":"+result]++
}

func (m *countingMetrics) AppendRetried() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := storage.NewMemoryStore()
	chain := audit.NewChain(s, audit.NewMemoryHalts(), nil, nil)
	m := &countingMetrics{results: map[string]int{}}
	return &harness{
		store:   s,
		chain:   chain,
		metrics: m,
		gw:      New(s, chain, nil, m, Config{MaxBatchSize: 50, Retry: fastRetry()}),
	}
}

func tenantCtx(t *testing.T, tid uuid.UUID) context.Context {
	t.Helper()
	ctx, err := tenant.Bind(context.Background(), tid)
	require.NoError(t, err)
	return auth.WithIdentity(ctx, "op-1", tid.String(), "operator")
}

func systemCtx() context.Context {
	return auth.WithIdentity(tenant.BindSystem(context.Background()), "scheduler", "", "system")
}

func (h *harness) count(t *testing.T, scope tenant.Scope) int64 {
	t.Helper()
	head, err := h.store.Head(context.Background(), scope)
	require.NoError(t, err)
	return head.Count
}

func (h *harness) register(t *testing.T, ctx context.Context, key string, n int) []inventory.Unit {
	t.Helper()
	res, err := h.gw.RegisterBatch(ctx, RegisterBatchRequest{BatchKey: key, PartNumber: "PN-7", PlantID: "plant-1", Count: n})
	require.NoError(t, err)
	return res.Units
}

func TestTenUnitScenario(t *testing.T) {
	h := newHarness(t)
	tid := uuid.New()
	ctx := tenantCtx(t, tid)
	scope := tenant.ForTenant(tid)

	units := h.register(t, ctx, "B1", 10)
	require.Len(t, units, 10)

	for i, u := range units {
		result := QCPassed
		if i >= 8 {
			result = QCFailed
		}
		_, err := h.gw.SetQC(ctx, SetQCRequest{Serial: u.Serial, Result: result})
		require.NoError(t, err)
	}
	for _, u := range units[:6] {
		_, err := h.gw.AddToShipment(ctx, AddToShipmentRequest{ShipmentKey: "S1", Destination: inventory.Warehouse("W1"), Serial: u.Serial})
		require.NoError(t, err)
	}
	delivered, err := h.gw.DeliverShipment(ctx, DeliverShipmentRequest{ShipmentKey: "S1"})
	require.NoError(t, err)
	assert.Equal(t, inventory.ShipmentDelivered, delivered.Shipment.Status)
	assert.Len(t, delivered.Units, 6)

	for i, u := range units[:2] {
		_, err := h.gw.Install(ctx, InstallRequest{Serial: u.Serial, VehicleID: "V1", Position: fmt.Sprintf("slot-%d", i)})
		require.NoError(t, err)
	}

	assert.EqualValues(t, 34, h.count(t, scope))
	rep, err := h.chain.Verify(context.Background(), scope)
	require.NoError(t, err)
	assert.EqualValues(t, 34, rep.Entries)

	byStatus := map[inventory.Status]int{}
	all, err := h.store.ListUnits(context.Background(), scope, storage.UnitFilter{})
	require.NoError(t, err)
	for _, u := range all {
		byStatus[u.Status]++
		moves, err := h.store.Movements(context.Background(), scope, u.ID)
		require.NoError(t, err)
		require.NoError(t, inventory.CheckContinuity(u, moves), u.Serial)
	}
	assert.Equal(t, 4, byStatus[inventory.StatusInWarehouse])
	assert.Equal(t, 2, byStatus[inventory.StatusInstalled])
	assert.Equal(t, 2, byStatus[inventory.StatusQCPass])
	assert.Equal(t, 2, byStatus[inventory.StatusQCFail])
}

func TestRegisterEntriesCarryBatchHeader(t *testing.T) {
	h := newHarness(t)
	tid := uuid.New()
	h.register(t, tenantCtx(t, tid), "B1", 2)

	entries, err := h.store.Entries(context.Background(), tenant.ForTenant(tid), 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, audit.ActionCreate, e.Action)
		assert.Equal(t, inventory.EntityUnit, e.SubjectTable)
		assert.Equal(t, "op-1", e.Actor)

		var p map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(e.Payload, &p))
		assert.Contains(t, p, "batch")
		assert.Contains(t, p, "movement")
	}
	assert.Equal(t, "B1-0001", entries[0].SubjectKey)
}

func TestInstallInTransitLeavesChainUnchanged(t *testing.T) {
	h := newHarness(t)
	tid := uuid.New()
	ctx := tenantCtx(t, tid)
	scope := tenant.ForTenant(tid)

	u := h.register(t, ctx, "B1", 1)[0]
	_, err := h.gw.SetQC(ctx, SetQCRequest{Serial: u.Serial, Result: QCPassed})
	require.NoError(t, err)
	_, err = h.gw.AddToShipment(ctx, AddToShipmentRequest{ShipmentKey: "S1", Destination: inventory.Warehouse("W1"), Serial: u.Serial})
	require.NoError(t, err)
	before := h.count(t, scope)

	_, err = h.gw.Install(ctx, InstallRequest{Serial: u.Serial, VehicleID: "V1", Position: "front"})
	require.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
	var te *apperrors.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, string(inventory.StatusInTransit), te.Current)
	assert.Equal(t, []string{string(inventory.StatusInWarehouse)}, te.Required)

	assert.Equal(t, before, h.count(t, scope))
	open, err := h.store.Installations(context.Background(), scope, storage.InstallationFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func deliverOne(t *testing.T, h *harness, ctx context.Context, shipment string, dest inventory.Location) inventory.Unit {
	t.Helper()
	u := h.register(t, ctx, "B-"+shipment, 1)[0]
	_, err := h.gw.SetQC(ctx, SetQCRequest{Serial: u.Serial, Result: QCPassed})
	require.NoError(t, err)
	_, err = h.gw.AddToShipment(ctx, AddToShipmentRequest{ShipmentKey: shipment, Destination: dest, Serial: u.Serial})
	require.NoError(t, err)
	res, err := h.gw.DeliverShipment(ctx, DeliverShipmentRequest{ShipmentKey: shipment})
	require.NoError(t, err)
	return res.Units[0]
}

func TestDoubleInstallRejected(t *testing.T) {
	h := newHarness(t)
	tid := uuid.New()
	ctx := tenantCtx(t, tid)
	u := deliverOne(t, h, ctx, "S1", inventory.Warehouse("W1"))

	_, err := h.gw.Install(ctx, InstallRequest{Serial: u.Serial, VehicleID: "V1", Position: "front"})
	require.NoError(t, err)
	before := h.count(t, tenant.ForTenant(tid))

	_, err = h.gw.Install(ctx, InstallRequest{Serial: u.Serial, VehicleID: "V2", Position: "rear"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
	assert.Equal(t, before, h.count(t, tenant.ForTenant(tid)))
}

func TestRemoveRelocateScrapLifecycle(t *testing.T) {
	h := newHarness(t)
	tid := uuid.New()
	ctx := tenantCtx(t, tid)
	scope := tenant.ForTenant(tid)
	u := deliverOne(t, h, ctx, "S1", inventory.Warehouse("W1"))

	_, err := h.gw.Install(ctx, InstallRequest{Serial: u.Serial, VehicleID: "V1", Position: "front"})
	require.NoError(t, err)

	removed, err := h.gw.Remove(ctx, RemoveRequest{Serial: u.Serial, Reason: "worn", WarehouseID: "W2"})
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusReturned, removed.Unit.Status)
	assert.Equal(t, inventory.Warehouse("W2"), removed.Unit.Location)
	require.NotNil(t, removed.Installation.RemovedAt)
	assert.Equal(t, "worn", removed.Installation.RemovalReason)

	_, err = h.gw.Remove(ctx, RemoveRequest{Serial: u.Serial, Reason: "again"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)

	moved, err := h.gw.Relocate(ctx, RelocateRequest{Serial: u.Serial, WarehouseID: "W3", Note: "rebalance"})
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusReturned, moved.Status)
	assert.Equal(t, inventory.Warehouse("W3"), moved.Location)

	_, err = h.gw.Relocate(ctx, RelocateRequest{Serial: u.Serial, WarehouseID: "W3"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	scrapped, err := h.gw.Scrap(ctx, ScrapRequest{Serial: u.Serial, Reason: "cracked housing"})
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusScrapped, scrapped.Status)
	assert.Equal(t, inventory.Warehouse("W3"), scrapped.Location)

	_, err = h.gw.Scrap(ctx, ScrapRequest{Serial: u.Serial, Reason: "twice"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)

	moves, err := h.store.Movements(context.Background(), scope, u.ID)
	require.NoError(t, err)
	require.NoError(t, inventory.CheckContinuity(scrapped, moves))

	_, err = h.chain.Verify(context.Background(), scope)
	require.NoError(t, err)
}

func TestCustomerDeliveryKeepsCustomerLocation(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(t, uuid.New())
	u := deliverOne(t, h, ctx, "S9", inventory.Customer("ACME"))

	assert.Equal(t, inventory.StatusInWarehouse, u.Status)
	assert.Equal(t, inventory.Customer("ACME"), u.Location)
}

func TestShipmentRules(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(t, uuid.New())
	units := h.register(t, ctx, "B1", 3)
	for _, u := range units {
		_, err := h.gw.SetQC(ctx, SetQCRequest{Serial: u.Serial, Result: QCPassed})
		require.NoError(t, err)
	}

	_, err := h.gw.AddToShipment(ctx, AddToShipmentRequest{ShipmentKey: "S1", Destination: inventory.Vehicle("V1"), Serial: units[0].Serial})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = h.gw.AddToShipment(ctx, AddToShipmentRequest{ShipmentKey: "S1", Destination: inventory.Warehouse("W1"), Serial: units[0].Serial})
	require.NoError(t, err)
	_, err = h.gw.AddToShipment(ctx, AddToShipmentRequest{ShipmentKey: "S1", Destination: inventory.Warehouse("W2"), Serial: units[1].Serial})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = h.gw.DeliverShipment(ctx, DeliverShipmentRequest{ShipmentKey: "S1"})
	require.NoError(t, err)
	_, err = h.gw.DeliverShipment(ctx, DeliverShipmentRequest{ShipmentKey: "S1"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
	_, err = h.gw.AddToShipment(ctx, AddToShipmentRequest{ShipmentKey: "S1", Destination: inventory.Warehouse("W1"), Serial: units[2].Serial})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)

	_, err = h.gw.DeliverShipment(ctx, DeliverShipmentRequest{ShipmentKey: "nope"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTenantIsolation(t *testing.T) {
	h := newHarness(t)
	a, b := uuid.New(), uuid.New()
	ctxA, ctxB := tenantCtx(t, a), tenantCtx(t, b)

	units := h.register(t, ctxA, "B1", 2)

	_, err := h.gw.SetQC(ctxB, SetQCRequest{Serial: units[0].Serial, Result: QCPassed})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Zero(t, h.count(t, tenant.ForTenant(b)))

	// the same keys are free in another tenant
	h.register(t, ctxB, "B1", 1)
	assert.EqualValues(t, 2, h.count(t, tenant.ForTenant(a)))
	assert.EqualValues(t, 1, h.count(t, tenant.ForTenant(b)))

	entries, err := h.store.Entries(context.Background(), tenant.ForTenant(b), 0, 10)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotNil(t, e.TenantID)
		assert.Equal(t, b, *e.TenantID)
	}
}

func TestScopeIsRequired(t *testing.T) {
	h := newHarness(t)

	noScope := auth.WithIdentity(context.Background(), "op-1", "", "operator")
	_, err := h.gw.RegisterBatch(noScope, RegisterBatchRequest{BatchKey: "B1", PartNumber: "PN", PlantID: "P", Count: 1})
	assert.ErrorIs(t, err, apperrors.ErrNoActiveTenant)

	_, err = h.gw.RegisterBatch(systemCtx(), RegisterBatchRequest{BatchKey: "B1", PartNumber: "PN", PlantID: "P", Count: 1})
	assert.ErrorIs(t, err, apperrors.ErrNoActiveTenant)

	_, err = h.gw.RecordSystemEvent(tenantCtx(t, uuid.New()), SystemEventRequest{Subject: "jobs", Key: "k"})
	assert.ErrorIs(t, err, apperrors.ErrNoActiveTenant)
	assert.Zero(t, h.count(t, tenant.System()))
}

func TestFailedOperationsWriteNothing(t *testing.T) {
	h := newHarness(t)
	tid := uuid.New()
	ctx := tenantCtx(t, tid)
	scope := tenant.ForTenant(tid)
	h.register(t, ctx, "B1", 3)

	cases := []struct {
		name string
		call func() error
		want error
	}{
		{"duplicate batch", func() error {
			_, err := h.gw.RegisterBatch(ctx, RegisterBatchRequest{BatchKey: "B1", PartNumber: "PN", PlantID: "P", Count: 1})
			return err
		}, apperrors.ErrDuplicateKey},
		{"batch too large", func() error {
			_, err := h.gw.RegisterBatch(ctx, RegisterBatchRequest{BatchKey: "B2", PartNumber: "PN", PlantID: "P", Count: 51})
			return err
		}, apperrors.ErrValidation},
		{"zero count", func() error {
			_, err := h.gw.GenerateUnits(ctx, GenerateUnitsRequest{BatchKey: "B1", Count: 0})
			return err
		}, apperrors.ErrValidation},
		{"unknown batch", func() error {
			_, err := h.gw.GenerateUnits(ctx, GenerateUnitsRequest{BatchKey: "B9", Count: 1})
			return err
		}, apperrors.ErrNotFound},
		{"bad qc result", func() error {
			_, err := h.gw.SetQC(ctx, SetQCRequest{Serial: "B1-0001", Result: "maybe"})
			return err
		}, apperrors.ErrValidation},
		{"unknown unit", func() error {
			_, err := h.gw.Scrap(ctx, ScrapRequest{Serial: "B1-0099", Reason: "x"})
			return err
		}, apperrors.ErrNotFound},
		{"missing actor", func() error {
			bare, _ := tenant.Bind(context.Background(), tid)
			_, err := h.gw.SetQC(bare, SetQCRequest{Serial: "B1-0001", Result: QCPassed})
			return err
		}, apperrors.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := h.count(t, scope)
			assert.ErrorIs(t, tc.call(), tc.want)
			assert.Equal(t, before, h.count(t, scope))
		})
	}
}

func TestGenerateUnitsContinuesSerials(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(t, uuid.New())
	h.register(t, ctx, "B1", 2)

	res, err := h.gw.GenerateUnits(ctx, GenerateUnitsRequest{BatchKey: "B1", Count: 2})
	require.NoError(t, err)
	require.Len(t, res.Units, 2)
	assert.Equal(t, "B1-0003", res.Units[0].Serial)
	assert.Equal(t, "B1-0004", res.Units[1].Serial)
	assert.Equal(t, 5, res.Batch.NextSerial)
}

func TestConcurrentOperationsProduceOneLinearChain(t *testing.T) {
	h := newHarness(t)
	tid := uuid.New()
	ctx := tenantCtx(t, tid)
	units := h.register(t, ctx, "B1", 20)

	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(serial string) {
			defer wg.Done()
			_, err := h.gw.SetQC(ctx, SetQCRequest{Serial: serial, Result: QCPassed})
			assert.NoError(t, err)
		}(u.Serial)
	}
	wg.Wait()

	rep, err := h.chain.Verify(context.Background(), tenant.ForTenant(tid))
	require.NoError(t, err)
	assert.EqualValues(t, 40, rep.Entries)
}

func TestVerifyWhileWritesAreInFlight(t *testing.T) {
	h := newHarness(t)
	tid := uuid.New()
	ctx := tenantCtx(t, tid)
	scope := tenant.ForTenant(tid)
	h.register(t, ctx, "B1", 1)
	h.chain.SetPageSize(7)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 300; i++ {
			_, err := h.gw.GenerateUnits(ctx, GenerateUnitsRequest{BatchKey: "B1", Count: 1})
			assert.NoError(t, err)
		}
	}()

	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		_, err := h.chain.Verify(context.Background(), scope)
		require.NoError(t, err)
		exp, err := h.chain.Export(context.Background(), scope)
		require.NoError(t, err)
		require.EqualValues(t, exp.Head.Count, len(exp.Entries))
		require.NoError(t, audit.VerifyEntries(scope.Key(), exp.Entries))
	}

	assert.NoError(t, h.chain.CheckWritable(context.Background(), scope))
	rep, err := h.chain.Verify(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, h.count(t, scope), rep.Entries)
}

func TestTamperHaltsOnlyThatTenant(t *testing.T) {
	h := newHarness(t)
	a, b := uuid.New(), uuid.New()
	ctxA, ctxB := tenantCtx(t, a), tenantCtx(t, b)
	unitsA := h.register(t, ctxA, "B1", 3)
	h.register(t, ctxB, "B1", 1)

	entries, err := h.store.Entries(context.Background(), tenant.ForTenant(a), 0, 10)
	require.NoError(t, err)
	target := entries[1].Seq
	require.True(t, h.store.Corrupt(tenant.ForTenant(a), target, func(e *audit.Entry) {
		e.Payload = json.RawMessage(`{"unit":{"status":"installed"}}`)
	}))

	_, err = h.chain.Verify(context.Background(), tenant.ForTenant(a))
	var broken *apperrors.ChainBrokenError
	require.True(t, errors.As(err, &broken))
	assert.Equal(t, target, broken.At)

	_, err = h.gw.SetQC(ctxA, SetQCRequest{Serial: unitsA[0].Serial, Result: QCPassed})
	assert.ErrorIs(t, err, apperrors.ErrChainBroken)

	_, err = h.chain.Verify(context.Background(), tenant.ForTenant(b))
	require.NoError(t, err)
	_, err = h.gw.GenerateUnits(ctxB, GenerateUnitsRequest{BatchKey: "B1", Count: 1})
	require.NoError(t, err)

	require.NoError(t, h.gw.ReleaseHalt(systemCtx(), tenant.ForTenant(a)))
	_, err = h.gw.SetQC(ctxA, SetQCRequest{Serial: unitsA[0].Serial, Result: QCPassed})
	require.NoError(t, err)

	sys, err := h.store.Entries(context.Background(), tenant.System(), 0, 10)
	require.NoError(t, err)
	require.Len(t, sys, 1)
	assert.Equal(t, subjectHalts, sys[0].SubjectTable)
	assert.Equal(t, a.String(), sys[0].SubjectKey)
	assert.Nil(t, sys[0].TenantID)

	assert.ErrorIs(t, h.gw.ReleaseHalt(systemCtx(), tenant.ForTenant(a)), apperrors.ErrNotFound)
	assert.ErrorIs(t, h.gw.ReleaseHalt(ctxB, tenant.ForTenant(a)), apperrors.ErrNoActiveTenant)
}

func TestReleaseHaltNeedsActorBeforeClearing(t *testing.T) {
	h := newHarness(t)
	tid := uuid.New()
	h.register(t, tenantCtx(t, tid), "B1", 2)
	scope := tenant.ForTenant(tid)
	head, err := h.store.Head(context.Background(), scope)
	require.NoError(t, err)
	require.True(t, h.store.Corrupt(scope, head.LastSeq, func(e *audit.Entry) { e.Actor = "mallory" }))
	_, err = h.chain.Verify(context.Background(), scope)
	require.ErrorIs(t, err, apperrors.ErrChainBroken)

	anonymous := tenant.BindSystem(context.Background())
	assert.ErrorIs(t, h.gw.ReleaseHalt(anonymous, scope), apperrors.ErrValidation)
	assert.ErrorIs(t, h.chain.CheckWritable(context.Background(), scope), apperrors.ErrChainBroken, "halt must survive")
	assert.Zero(t, h.count(t, tenant.System()))
}

func TestRecordSystemEvent(t *testing.T) {
	h := newHarness(t)
	e, err := h.gw.RecordSystemEvent(systemCtx(), SystemEventRequest{Subject: "jobs", Key: "nightly-verify", Payload: map[string]any{"tenants": 3}})
	require.NoError(t, err)
	assert.Equal(t, "scheduler", e.Actor)
	assert.Nil(t, e.TenantID)
	assert.Equal(t, "", e.PrevHash)

	_, err = h.chain.Verify(context.Background(), tenant.System())
	require.NoError(t, err)
}

// flakyStore loses the chain append race a fixed number of times.
type flakyStore struct {
	storage.Store
	failures atomic.Int32
}

func (f *flakyStore) RunInTx(ctx context.Context, scope tenant.Scope, fn storage.TxFunc) error {
	if f.failures.Add(-1) >= 0 {
		return apperrors.ErrChainContention
	}
	return f.Store.RunInTx(ctx, scope, fn)
}

func TestContentionIsRetried(t *testing.T) {
	mem := storage.NewMemoryStore()
	flaky := &flakyStore{Store: mem}
	chain := audit.NewChain(mem, nil, nil, nil)
	m := &countingMetrics{results: map[string]int{}}
	gw := New(flaky, chain, nil, m, Config{Retry: fastRetry()})
	tid := uuid.New()
	ctx := tenantCtx(t, tid)

	flaky.failures.Store(2)
	_, err := gw.RegisterBatch(ctx, RegisterBatchRequest{BatchKey: "B1", PartNumber: "PN", PlantID: "P", Count: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, m.retries)
	assert.Equal(t, 1, m.results["register_batch:ok"])

	flaky.failures.Store(100)
	_, err = gw.GenerateUnits(ctx, GenerateUnitsRequest{BatchKey: "B1", Count: 1})
	assert.ErrorIs(t, err, apperrors.ErrChainContention)
	assert.Equal(t, 1, m.results["generate_units:chain_contention"])

	head, err := mem.Head(context.Background(), tenant.ForTenant(tid))
	require.NoError(t, err)
	assert.EqualValues(t, 1, head.Count)
}
