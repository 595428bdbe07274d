package storage

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"fleet-ledger/internal/apperrors"
	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/inventory"
	"fleet-ledger/internal/tenant"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps each scope in its own partition. A transaction holds the
// partition's writer slot for its whole lifetime and works on a copy of the
// committed dataset, which replaces the committed one on success. Scopes
// never share a lock, so tenants proceed in parallel.
type MemoryStore struct {
	mu         sync.Mutex
	partitions map[string]*partition
	seq        atomic.Int64
}

type partition struct {
	writer chan struct{}

	mu        sync.RWMutex
	committed *dataset
}

type dataset struct {
	batches       map[string]inventory.Batch
	units         map[uuid.UUID]inventory.Unit
	serials       map[string]uuid.UUID
	shipments     map[string]inventory.Shipment
	installations map[uuid.UUID]inventory.Installation
	movements     []inventory.Movement
	entries       []audit.Entry
	head          audit.Head
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: map[string]*partition{}}
}

func newDataset(scopeKey string) *dataset {
	return &dataset{
		batches:       map[string]inventory.Batch{},
		units:         map[uuid.UUID]inventory.Unit{},
		serials:       map[string]uuid.UUID{},
		shipments:     map[string]inventory.Shipment{},
		installations: map[uuid.UUID]inventory.Installation{},
		head:          audit.Head{ScopeKey: scopeKey},
	}
}

// clone copies the maps; append-only slices are clipped so appends in the
// copy never write into the committed backing array.
func (d *dataset) clone() *dataset {
	return &dataset{
		batches:       maps.Clone(d.batches),
		units:         maps.Clone(d.units),
		serials:       maps.Clone(d.serials),
		shipments:     maps.Clone(d.shipments),
		installations: maps.Clone(d.installations),
		movements:     slices.Clip(d.movements),
		entries:       slices.Clip(d.entries),
		head:          d.head,
	}
}

func (s *MemoryStore) partition(scope tenant.Scope) *partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[scope.Key()]
	if !ok {
		p = &partition{writer: make(chan struct{}, 1), committed: newDataset(scope.Key())}
		s.partitions[scope.Key()] = p
	}
	return p
}

func (p *partition) snapshot() *dataset {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.committed
}

func (s *MemoryStore) RunInTx(ctx context.Context, scope tenant.Scope, fn TxFunc) error {
	if scope.IsZero() {
		return apperrors.ErrNoActiveTenant
	}
	p := s.partition(scope)

	select {
	case p.writer <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.writer }()

	tx := &memoryTx{store: s, scope: scope, data: p.snapshot().clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.committed = tx.data
	p.mu.Unlock()
	return nil
}

// Corrupt rewrites a committed entry in place, bypassing the chain. It
// exists to exercise tamper detection.
func (s *MemoryStore) Corrupt(scope tenant.Scope, seq int64, fn func(*audit.Entry)) bool {
	p := s.partition(scope)
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := slices.Clone(p.committed.entries)
	for i := range entries {
		if entries[i].Seq == seq {
			fn(&entries[i])
			next := *p.committed
			next.entries = entries
			p.committed = &next
			return true
		}
	}
	return false
}

type memoryTx struct {
	store *MemoryStore
	scope tenant.Scope
	data  *dataset
}

func (t *memoryTx) Scope() tenant.Scope { return t.scope }

func (t *memoryTx) tenantID() (uuid.UUID, error) {
	id, ok := t.scope.TenantID()
	if !ok {
		return uuid.Nil, apperrors.ErrNoActiveTenant
	}
	return id, nil
}

func (t *memoryTx) owns(rowTenant uuid.UUID) error {
	id, err := t.tenantID()
	if err != nil {
		return err
	}
	if rowTenant != id {
		return apperrors.Validation("tenant_id", "row does not belong to the bound tenant")
	}
	return nil
}

func (t *memoryTx) ChainHead(_ context.Context, scope tenant.Scope) (audit.Head, error) {
	if scope != t.scope {
		return audit.Head{}, apperrors.Validation("scope", "transaction is bound to "+t.scope.Key())
	}
	return t.data.head, nil
}

func (t *memoryTx) NextSequence(context.Context) (int64, error) {
	return t.store.seq.Add(1), nil
}

func (t *memoryTx) InsertEntry(_ context.Context, e audit.Entry) error {
	if e.Scope() != t.scope {
		return apperrors.Validation("scope", "entry scope does not match transaction")
	}
	if e.PrevHash != t.data.head.LastHash {
		return apperrors.ErrChainContention
	}
	t.data.entries = append(t.data.entries, e)
	t.data.head = audit.Head{
		ScopeKey: t.scope.Key(),
		LastSeq:  e.Seq,
		LastHash: e.CurrHash,
		Count:    t.data.head.Count + 1,
	}
	return nil
}

func (t *memoryTx) InsertBatch(_ context.Context, b inventory.Batch) error {
	if err := t.owns(b.TenantID); err != nil {
		return err
	}
	if _, ok := t.data.batches[b.Key]; ok {
		return apperrors.DuplicateKey(inventory.EntityBatch, b.Key)
	}
	t.data.batches[b.Key] = b
	return nil
}

func (t *memoryTx) BatchByKey(_ context.Context, key string) (inventory.Batch, error) {
	if _, err := t.tenantID(); err != nil {
		return inventory.Batch{}, err
	}
	b, ok := t.data.batches[key]
	if !ok {
		return inventory.Batch{}, apperrors.NotFound(inventory.EntityBatch, key)
	}
	return b, nil
}

func (t *memoryTx) UpdateBatch(_ context.Context, b inventory.Batch) error {
	if err := t.owns(b.TenantID); err != nil {
		return err
	}
	if _, ok := t.data.batches[b.Key]; !ok {
		return apperrors.NotFound(inventory.EntityBatch, b.Key)
	}
	t.data.batches[b.Key] = b
	return nil
}

func (t *memoryTx) InsertUnit(_ context.Context, u inventory.Unit) error {
	if err := t.owns(u.TenantID); err != nil {
		return err
	}
	if _, ok := t.data.serials[u.Serial]; ok {
		return apperrors.DuplicateKey(inventory.EntityUnit, u.Serial)
	}
	t.data.units[u.ID] = u
	t.data.serials[u.Serial] = u.ID
	return nil
}

func (t *memoryTx) UnitByID(_ context.Context, id uuid.UUID) (inventory.Unit, error) {
	if _, err := t.tenantID(); err != nil {
		return inventory.Unit{}, err
	}
	u, ok := t.data.units[id]
	if !ok {
		return inventory.Unit{}, apperrors.NotFound(inventory.EntityUnit, id.String())
	}
	return u, nil
}

func (t *memoryTx) UnitBySerial(ctx context.Context, serial string) (inventory.Unit, error) {
	if _, err := t.tenantID(); err != nil {
		return inventory.Unit{}, err
	}
	id, ok := t.data.serials[serial]
	if !ok {
		return inventory.Unit{}, apperrors.NotFound(inventory.EntityUnit, serial)
	}
	return t.UnitByID(ctx, id)
}

func (t *memoryTx) UpdateUnit(_ context.Context, u inventory.Unit) error {
	if err := t.owns(u.TenantID); err != nil {
		return err
	}
	cur, ok := t.data.units[u.ID]
	if !ok {
		return apperrors.NotFound(inventory.EntityUnit, u.Serial)
	}
	if cur.Version != u.Version-1 {
		return apperrors.ErrChainContention
	}
	t.data.units[u.ID] = u
	return nil
}

func (t *memoryTx) InsertMovement(_ context.Context, m inventory.Movement) error {
	if err := t.owns(m.TenantID); err != nil {
		return err
	}
	t.data.movements = append(t.data.movements, m)
	return nil
}

func (t *memoryTx) ShipmentByKey(_ context.Context, key string) (inventory.Shipment, error) {
	if _, err := t.tenantID(); err != nil {
		return inventory.Shipment{}, err
	}
	s, ok := t.data.shipments[key]
	if !ok {
		return inventory.Shipment{}, apperrors.NotFound(inventory.EntityShipment, key)
	}
	s.UnitIDs = slices.Clone(s.UnitIDs)
	return s, nil
}

func (t *memoryTx) InsertShipment(_ context.Context, s inventory.Shipment) error {
	if err := t.owns(s.TenantID); err != nil {
		return err
	}
	if _, ok := t.data.shipments[s.Key]; ok {
		return apperrors.DuplicateKey(inventory.EntityShipment, s.Key)
	}
	s.UnitIDs = slices.Clone(s.UnitIDs)
	t.data.shipments[s.Key] = s
	return nil
}

func (t *memoryTx) UpdateShipment(_ context.Context, s inventory.Shipment) error {
	if err := t.owns(s.TenantID); err != nil {
		return err
	}
	if _, ok := t.data.shipments[s.Key]; !ok {
		return apperrors.NotFound(inventory.EntityShipment, s.Key)
	}
	s.UnitIDs = slices.Clone(s.UnitIDs)
	t.data.shipments[s.Key] = s
	return nil
}

func (t *memoryTx) OpenInstallation(_ context.Context, unitID uuid.UUID) (inventory.Installation, error) {
	if _, err := t.tenantID(); err != nil {
		return inventory.Installation{}, err
	}
	for _, i := range t.data.installations {
		if i.UnitID == unitID && i.Open() {
			return i, nil
		}
	}
	return inventory.Installation{}, apperrors.NotFound(inventory.EntityInstallation, unitID.String())
}

func (t *memoryTx) InsertInstallation(ctx context.Context, i inventory.Installation) error {
	if err := t.owns(i.TenantID); err != nil {
		return err
	}
	if _, err := t.OpenInstallation(ctx, i.UnitID); err == nil {
		return apperrors.DuplicateKey(inventory.EntityInstallation, i.UnitID.String())
	}
	t.data.installations[i.ID] = i
	return nil
}

func (t *memoryTx) CloseInstallation(_ context.Context, i inventory.Installation) error {
	if err := t.owns(i.TenantID); err != nil {
		return err
	}
	cur, ok := t.data.installations[i.ID]
	if !ok || !cur.Open() {
		return apperrors.NotFound(inventory.EntityInstallation, i.ID.String())
	}
	t.data.installations[i.ID] = i
	return nil
}

// --- committed reads ---

func (s *MemoryStore) read(scope tenant.Scope) (*dataset, error) {
	if scope.IsZero() {
		return nil, apperrors.ErrNoActiveTenant
	}
	return s.partition(scope).snapshot(), nil
}

func (s *MemoryStore) Head(_ context.Context, scope tenant.Scope) (audit.Head, error) {
	d, err := s.read(scope)
	if err != nil {
		return audit.Head{}, err
	}
	return d.head, nil
}

func (s *MemoryStore) Entries(_ context.Context, scope tenant.Scope, afterSeq int64, limit int) ([]audit.Entry, error) {
	d, err := s.read(scope)
	if err != nil {
		return nil, err
	}
	// entries are appended in sequence order
	i := sort.Search(len(d.entries), func(i int) bool { return d.entries[i].Seq > afterSeq })
	end := len(d.entries)
	if limit > 0 && i+limit < end {
		end = i + limit
	}
	return slices.Clone(d.entries[i:end]), nil
}

func (s *MemoryStore) Unit(_ context.Context, scope tenant.Scope, serial string) (inventory.Unit, error) {
	d, err := s.read(scope)
	if err != nil {
		return inventory.Unit{}, err
	}
	id, ok := d.serials[serial]
	if !ok {
		return inventory.Unit{}, apperrors.NotFound(inventory.EntityUnit, serial)
	}
	return d.units[id], nil
}

func (s *MemoryStore) ListUnits(_ context.Context, scope tenant.Scope, f UnitFilter) ([]inventory.Unit, error) {
	d, err := s.read(scope)
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Unit, 0)
	for _, u := range d.units {
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if f.BatchID != uuid.Nil && u.BatchID != f.BatchID {
			continue
		}
		if f.AfterSerial != "" && u.Serial <= f.AfterSerial {
			continue
		}
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b inventory.Unit) int { return strings.Compare(a.Serial, b.Serial) })
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}

func (s *MemoryStore) Movements(_ context.Context, scope tenant.Scope, unitID uuid.UUID) ([]inventory.Movement, error) {
	d, err := s.read(scope)
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Movement, 0)
	for _, m := range d.movements {
		if m.UnitID == unitID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) StockLevels(_ context.Context, scope tenant.Scope) ([]StockLevel, error) {
	d, err := s.read(scope)
	if err != nil {
		return nil, err
	}
	levels := map[inventory.Location]*StockLevel{}
	level := func(l inventory.Location) *StockLevel {
		sl, ok := levels[l]
		if !ok {
			sl = &StockLevel{Location: l, Units: map[inventory.Status]int64{}, Quantity: decimal.Zero}
			levels[l] = sl
		}
		return sl
	}
	for _, u := range d.units {
		level(u.Location).Units[u.Status]++
	}
	for _, m := range d.movements {
		if m.From == m.To {
			continue
		}
		level(m.To).Quantity = level(m.To).Quantity.Add(m.Quantity)
		level(m.From).Quantity = level(m.From).Quantity.Sub(m.Quantity)
	}
	return collectLevels(levels), nil
}

// collectLevels drops the synthetic production origin and empty locations
// and orders the rest by location.
func collectLevels(levels map[inventory.Location]*StockLevel) []StockLevel {
	out := make([]StockLevel, 0, len(levels))
	for l, sl := range levels {
		if l.Kind == inventory.LocationUnknown {
			continue
		}
		if len(sl.Units) == 0 && sl.Quantity.IsZero() {
			continue
		}
		out = append(out, *sl)
	}
	slices.SortFunc(out, func(a, b StockLevel) int { return strings.Compare(a.Location.String(), b.Location.String()) })
	return out
}

func (s *MemoryStore) Shipment(_ context.Context, scope tenant.Scope, key string) (inventory.Shipment, error) {
	d, err := s.read(scope)
	if err != nil {
		return inventory.Shipment{}, err
	}
	sh, ok := d.shipments[key]
	if !ok {
		return inventory.Shipment{}, apperrors.NotFound(inventory.EntityShipment, key)
	}
	sh.UnitIDs = slices.Clone(sh.UnitIDs)
	return sh, nil
}

func (s *MemoryStore) Installations(_ context.Context, scope tenant.Scope, f InstallationFilter) ([]inventory.Installation, error) {
	d, err := s.read(scope)
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Installation, 0)
	for _, i := range d.installations {
		if f.VehicleID != "" && i.VehicleID != f.VehicleID {
			continue
		}
		if f.OpenOnly && !i.Open() {
			continue
		}
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b inventory.Installation) int { return a.InstalledAt.Compare(b.InstalledAt) })
	return out, nil
}
