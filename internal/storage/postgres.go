package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fleet-ledger/internal/apperrors"
	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/inventory"
	"fleet-ledger/internal/tenant"
	"fleet-ledger/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PostgresStore persists through database/sql on the pgx stdlib driver.
//
// Every transaction, read or write, first binds app.current_tenant and
// app.current_scope for the row-level security policies. Write transactions
// then lock the scope's audit_chain_heads row, which serializes writers per
// scope for the rest of the transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// mapWriteErr turns a unique violation on a domain table into DuplicateKey
// and a lost race into ChainContention.
func mapWriteErr(err error, entity, key string) error {
	switch {
	case utils.PgCode(err) == utils.PgUniqueViolation:
		return apperrors.DuplicateKey(entity, key)
	case utils.IsTxConflict(err):
		return fmt.Errorf("%w: %v", apperrors.ErrChainContention, err)
	}
	return err
}

func bindScope(ctx context.Context, tx *sql.Tx, scope tenant.Scope) error {
	tid := ""
	if id, ok := scope.TenantID(); ok {
		tid = id.String()
	}
	const q = `SELECT set_config('app.current_tenant', $1, true), set_config('app.current_scope', $2, true)`
	var a, b string
	if err := tx.QueryRowContext(ctx, q, tid, scope.Key()).Scan(&a, &b); err != nil {
		return fmt.Errorf("bind scope: %w", err)
	}
	return nil
}

func (s *PostgresStore) RunInTx(ctx context.Context, scope tenant.Scope, fn TxFunc) error {
	if scope.IsZero() {
		return apperrors.ErrNoActiveTenant
	}
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx *sql.Tx) error {
		if err := bindScope(ctx, tx, scope); err != nil {
			return err
		}
		head, err := lockHead(ctx, tx, scope)
		if err != nil {
			return err
		}
		return fn(ctx, &pgTx{tx: tx, scope: scope, head: head})
	})
	return mapWriteErr(err, "", "")
}

func (s *PostgresStore) read(ctx context.Context, scope tenant.Scope, fn utils.TxFunc) error {
	if scope.IsZero() {
		return apperrors.ErrNoActiveTenant
	}
	return utils.ReadTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := bindScope(ctx, tx, scope); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func lockHead(ctx context.Context, tx *sql.Tx, scope tenant.Scope) (audit.Head, error) {
	const ensure = `INSERT INTO audit_chain_heads (scope_key) VALUES ($1) ON CONFLICT (scope_key) DO NOTHING`
	if _, err := tx.ExecContext(ctx, ensure, scope.Key()); err != nil {
		return audit.Head{}, fmt.Errorf("ensure chain head: %w", err)
	}
	const q = `
SELECT scope_key, last_seq, last_hash, entry_count
FROM audit_chain_heads
WHERE scope_key = $1
FOR UPDATE
`
	var h audit.Head
	if err := tx.QueryRowContext(ctx, q, scope.Key()).Scan(&h.ScopeKey, &h.LastSeq, &h.LastHash, &h.Count); err != nil {
		return audit.Head{}, fmt.Errorf("lock chain head: %w", err)
	}
	return h, nil
}

type pgTx struct {
	tx    *sql.Tx
	scope tenant.Scope
	head  audit.Head
}

func (t *pgTx) Scope() tenant.Scope { return t.scope }

func (t *pgTx) tenantID() (uuid.UUID, error) {
	id, ok := t.scope.TenantID()
	if !ok {
		return uuid.Nil, apperrors.ErrNoActiveTenant
	}
	return id, nil
}

func (t *pgTx) owns(rowTenant uuid.UUID) error {
	id, err := t.tenantID()
	if err != nil {
		return err
	}
	if rowTenant != id {
		return apperrors.Validation("tenant_id", "row does not belong to the bound tenant")
	}
	return nil
}

// --- audit.Tx ---

func (t *pgTx) ChainHead(_ context.Context, scope tenant.Scope) (audit.Head, error) {
	if scope != t.scope {
		return audit.Head{}, apperrors.Validation("scope", "transaction is bound to "+t.scope.Key())
	}
	return t.head, nil
}

func (t *pgTx) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := t.tx.QueryRowContext(ctx, `SELECT nextval('audit_entries_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next audit sequence: %w", err)
	}
	return seq, nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e audit.Entry) error {
	if e.Scope() != t.scope {
		return apperrors.Validation("scope", "entry scope does not match transaction")
	}
	// compare-and-append on the expected predecessor
	const advance = `
UPDATE audit_chain_heads
SET last_seq = $2, last_hash = $3, entry_count = entry_count + 1
WHERE scope_key = $1 AND last_hash = $4
`
	res, err := t.tx.ExecContext(ctx, advance, t.scope.Key(), e.Seq, e.CurrHash, e.PrevHash)
	if err != nil {
		return fmt.Errorf("advance chain head: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return apperrors.ErrChainContention
	}

	const insert = `
INSERT INTO audit_entries (
  sequence_id, scope_key, tenant_id, created_at, actor, subject_table, action, subject_key, prev_hash, curr_hash, payload
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	var tid uuid.NullUUID
	if e.TenantID != nil {
		tid = uuid.NullUUID{UUID: *e.TenantID, Valid: true}
	}
	if _, err := t.tx.ExecContext(ctx, insert,
		e.Seq,
		t.scope.Key(),
		tid,
		e.CreatedAt,
		e.Actor,
		e.SubjectTable,
		string(e.Action),
		e.SubjectKey,
		e.PrevHash,
		e.CurrHash,
		[]byte(e.Payload),
	); err != nil {
		if utils.PgCode(err) == utils.PgUniqueViolation {
			return apperrors.ErrChainContention
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}
	t.head = audit.Head{ScopeKey: t.scope.Key(), LastSeq: e.Seq, LastHash: e.CurrHash, Count: t.head.Count + 1}
	return nil
}

// --- batches ---

func (t *pgTx) InsertBatch(ctx context.Context, b inventory.Batch) error {
	if err := t.owns(b.TenantID); err != nil {
		return err
	}
	const q = `
INSERT INTO batches (id, tenant_id, batch_key, part_number, plant_id, next_serial, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := t.tx.ExecContext(ctx, q, b.ID, b.TenantID, b.Key, b.PartNumber, b.PlantID, b.NextSerial, b.CreatedAt)
	return mapWriteErr(err, inventory.EntityBatch, b.Key)
}

func (t *pgTx) BatchByKey(ctx context.Context, key string) (inventory.Batch, error) {
	tid, err := t.tenantID()
	if err != nil {
		return inventory.Batch{}, err
	}
	const q = `
SELECT id, tenant_id, batch_key, part_number, plant_id, next_serial, created_at
FROM batches
WHERE tenant_id = $1 AND batch_key = $2
FOR UPDATE
`
	var b inventory.Batch
	if err := t.tx.QueryRowContext(ctx, q, tid, key).Scan(
		&b.ID, &b.TenantID, &b.Key, &b.PartNumber, &b.PlantID, &b.NextSerial, &b.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.Batch{}, apperrors.NotFound(inventory.EntityBatch, key)
		}
		return inventory.Batch{}, err
	}
	return b, nil
}

func (t *pgTx) UpdateBatch(ctx context.Context, b inventory.Batch) error {
	if err := t.owns(b.TenantID); err != nil {
		return err
	}
	const q = `UPDATE batches SET next_serial = $3 WHERE tenant_id = $1 AND id = $2`
	res, err := t.tx.ExecContext(ctx, q, b.TenantID, b.ID, b.NextSerial)
	if err != nil {
		return err
	}
	return expectOne(res, apperrors.NotFound(inventory.EntityBatch, b.Key))
}

// --- units ---

const unitColumns = `id, tenant_id, serial, batch_id, status, location_kind, location_ref, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(r rowScanner) (inventory.Unit, error) {
	var u inventory.Unit
	var status, kind string
	err := r.Scan(&u.ID, &u.TenantID, &u.Serial, &u.BatchID, &status, &kind, &u.Location.Ref, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	u.Status = inventory.Status(status)
	u.Location.Kind = inventory.LocationKind(kind)
	return u, err
}

func (t *pgTx) InsertUnit(ctx context.Context, u inventory.Unit) error {
	if err := t.owns(u.TenantID); err != nil {
		return err
	}
	q := `INSERT INTO units (` + unitColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := t.tx.ExecContext(ctx, q,
		u.ID, u.TenantID, u.Serial, u.BatchID, string(u.Status),
		string(u.Location.Kind), u.Location.Ref, u.Version, u.CreatedAt, u.UpdatedAt,
	)
	return mapWriteErr(err, inventory.EntityUnit, u.Serial)
}

func (t *pgTx) unitWhere(ctx context.Context, cond string, arg any, key string) (inventory.Unit, error) {
	tid, err := t.tenantID()
	if err != nil {
		return inventory.Unit{}, err
	}
	q := `SELECT ` + unitColumns + ` FROM units WHERE tenant_id = $1 AND ` + cond + ` FOR UPDATE`
	u, err := scanUnit(t.tx.QueryRowContext(ctx, q, tid, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.Unit{}, apperrors.NotFound(inventory.EntityUnit, key)
		}
		return inventory.Unit{}, err
	}
	return u, nil
}

func (t *pgTx) UnitByID(ctx context.Context, id uuid.UUID) (inventory.Unit, error) {
	return t.unitWhere(ctx, "id = $2", id, id.String())
}

func (t *pgTx) UnitBySerial(ctx context.Context, serial string) (inventory.Unit, error) {
	return t.unitWhere(ctx, "serial = $2", serial, serial)
}

func (t *pgTx) UpdateUnit(ctx context.Context, u inventory.Unit) error {
	if err := t.owns(u.TenantID); err != nil {
		return err
	}
	const q = `
UPDATE units
SET status = $3, location_kind = $4, location_ref = $5, version = $6, updated_at = $7
WHERE tenant_id = $1 AND id = $2 AND version = $6 - 1
`
	res, err := t.tx.ExecContext(ctx, q, u.TenantID, u.ID, string(u.Status),
		string(u.Location.Kind), u.Location.Ref, u.Version, u.UpdatedAt)
	if err != nil {
		return err
	}
	return expectOne(res, apperrors.ErrChainContention)
}

func (t *pgTx) InsertMovement(ctx context.Context, m inventory.Movement) error {
	if err := t.owns(m.TenantID); err != nil {
		return err
	}
	const q = `
INSERT INTO movements (id, tenant_id, unit_id, from_kind, from_ref, to_kind, to_ref, reason, quantity, operation, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := t.tx.ExecContext(ctx, q, m.ID, m.TenantID, m.UnitID,
		string(m.From.Kind), m.From.Ref, string(m.To.Kind), m.To.Ref,
		string(m.Reason), m.Quantity, m.Operation, m.CreatedAt)
	return err
}

// --- shipments ---

func (t *pgTx) ShipmentByKey(ctx context.Context, key string) (inventory.Shipment, error) {
	tid, err := t.tenantID()
	if err != nil {
		return inventory.Shipment{}, err
	}
	return loadShipment(ctx, t.tx, tid, key, true)
}

func loadShipment(ctx context.Context, tx *sql.Tx, tid uuid.UUID, key string, lock bool) (inventory.Shipment, error) {
	q := `
SELECT id, tenant_id, shipment_key, destination_kind, destination_ref, status, created_at, delivered_at
FROM shipments
WHERE tenant_id = $1 AND shipment_key = $2`
	if lock {
		q += ` FOR UPDATE`
	}
	var (
		s         inventory.Shipment
		kind      string
		status    string
		delivered sql.NullTime
	)
	if err := tx.QueryRowContext(ctx, q, tid, key).Scan(
		&s.ID, &s.TenantID, &s.Key, &kind, &s.Destination.Ref, &status, &s.CreatedAt, &delivered,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.Shipment{}, apperrors.NotFound(inventory.EntityShipment, key)
		}
		return inventory.Shipment{}, err
	}
	s.Destination.Kind = inventory.LocationKind(kind)
	s.Status = inventory.ShipmentStatus(status)
	if delivered.Valid {
		at := delivered.Time
		s.DeliveredAt = &at
	}

	const units = `SELECT unit_id FROM shipment_units WHERE tenant_id = $1 AND shipment_id = $2 ORDER BY position`
	rows, err := tx.QueryContext(ctx, units, tid, s.ID)
	if err != nil {
		return inventory.Shipment{}, err
	}
	defer rows.Close()
	s.UnitIDs = make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return inventory.Shipment{}, err
		}
		s.UnitIDs = append(s.UnitIDs, id)
	}
	return s, rows.Err()
}

func (t *pgTx) InsertShipment(ctx context.Context, s inventory.Shipment) error {
	if err := t.owns(s.TenantID); err != nil {
		return err
	}
	const q = `
INSERT INTO shipments (id, tenant_id, shipment_key, destination_kind, destination_ref, status, created_at, delivered_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	if _, err := t.tx.ExecContext(ctx, q, s.ID, s.TenantID, s.Key, string(s.Destination.Kind), s.Destination.Ref,
		string(s.Status), s.CreatedAt, s.DeliveredAt); err != nil {
		return mapWriteErr(err, inventory.EntityShipment, s.Key)
	}
	return t.syncShipmentUnits(ctx, s)
}

func (t *pgTx) UpdateShipment(ctx context.Context, s inventory.Shipment) error {
	if err := t.owns(s.TenantID); err != nil {
		return err
	}
	const q = `UPDATE shipments SET status = $3, delivered_at = $4 WHERE tenant_id = $1 AND id = $2`
	res, err := t.tx.ExecContext(ctx, q, s.TenantID, s.ID, string(s.Status), s.DeliveredAt)
	if err != nil {
		return err
	}
	if err := expectOne(res, apperrors.NotFound(inventory.EntityShipment, s.Key)); err != nil {
		return err
	}
	return t.syncShipmentUnits(ctx, s)
}

func (t *pgTx) syncShipmentUnits(ctx context.Context, s inventory.Shipment) error {
	const q = `
INSERT INTO shipment_units (shipment_id, unit_id, tenant_id, position)
VALUES ($1,$2,$3,$4)
ON CONFLICT (shipment_id, unit_id) DO NOTHING
`
	for i, id := range s.UnitIDs {
		if _, err := t.tx.ExecContext(ctx, q, s.ID, id, s.TenantID, i+1); err != nil {
			return err
		}
	}
	return nil
}

// --- installations ---

const installationColumns = `id, tenant_id, unit_id, vehicle_id, position, installed_at, removed_at, removal_reason`

func scanInstallation(r rowScanner) (inventory.Installation, error) {
	var (
		i       inventory.Installation
		removed sql.NullTime
	)
	if err := r.Scan(&i.ID, &i.TenantID, &i.UnitID, &i.VehicleID, &i.Position, &i.InstalledAt, &removed, &i.RemovalReason); err != nil {
		return inventory.Installation{}, err
	}
	if removed.Valid {
		at := removed.Time
		i.RemovedAt = &at
	}
	return i, nil
}

func (t *pgTx) OpenInstallation(ctx context.Context, unitID uuid.UUID) (inventory.Installation, error) {
	tid, err := t.tenantID()
	if err != nil {
		return inventory.Installation{}, err
	}
	q := `SELECT ` + installationColumns + ` FROM installations
WHERE tenant_id = $1 AND unit_id = $2 AND removed_at IS NULL
FOR UPDATE`
	i, err := scanInstallation(t.tx.QueryRowContext(ctx, q, tid, unitID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.Installation{}, apperrors.NotFound(inventory.EntityInstallation, unitID.String())
		}
		return inventory.Installation{}, err
	}
	return i, nil
}

func (t *pgTx) InsertInstallation(ctx context.Context, i inventory.Installation) error {
	if err := t.owns(i.TenantID); err != nil {
		return err
	}
	q := `INSERT INTO installations (` + installationColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := t.tx.ExecContext(ctx, q, i.ID, i.TenantID, i.UnitID, i.VehicleID, i.Position, i.InstalledAt, i.RemovedAt, i.RemovalReason)
	return mapWriteErr(err, inventory.EntityInstallation, i.UnitID.String())
}

func (t *pgTx) CloseInstallation(ctx context.Context, i inventory.Installation) error {
	if err := t.owns(i.TenantID); err != nil {
		return err
	}
	const q = `
UPDATE installations SET removed_at = $3, removal_reason = $4
WHERE tenant_id = $1 AND id = $2 AND removed_at IS NULL
`
	res, err := t.tx.ExecContext(ctx, q, i.TenantID, i.ID, i.RemovedAt, i.RemovalReason)
	if err != nil {
		return err
	}
	return expectOne(res, apperrors.NotFound(inventory.EntityInstallation, i.ID.String()))
}

func expectOne(res sql.Result, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return otherwise
	}
	return nil
}

// --- committed reads ---

func (s *PostgresStore) Head(ctx context.Context, scope tenant.Scope) (audit.Head, error) {
	h := audit.Head{ScopeKey: scope.Key()}
	err := s.read(ctx, scope, func(ctx context.Context, tx *sql.Tx) error {
		const q = `SELECT last_seq, last_hash, entry_count FROM audit_chain_heads WHERE scope_key = $1`
		err := tx.QueryRowContext(ctx, q, scope.Key()).Scan(&h.LastSeq, &h.LastHash, &h.Count)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	return h, err
}

func (s *PostgresStore) Entries(ctx context.Context, scope tenant.Scope, afterSeq int64, limit int) ([]audit.Entry, error) {
	out := make([]audit.Entry, 0)
	err := s.read(ctx, scope, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
SELECT sequence_id, tenant_id, created_at, actor, subject_table, action, subject_key, prev_hash, curr_hash, payload
FROM audit_entries
WHERE scope_key = $1 AND sequence_id > $2
ORDER BY sequence_id
LIMIT $3
`
		rows, err := tx.QueryContext(ctx, q, scope.Key(), afterSeq, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				e       audit.Entry
				tid     uuid.NullUUID
				action  string
				payload []byte
			)
			if err := rows.Scan(&e.Seq, &tid, &e.CreatedAt, &e.Actor, &e.SubjectTable, &action,
				&e.SubjectKey, &e.PrevHash, &e.CurrHash, &payload); err != nil {
				return err
			}
			if tid.Valid {
				id := tid.UUID
				e.TenantID = &id
			}
			e.CreatedAt = e.CreatedAt.UTC()
			e.Action = audit.Action(action)
			e.Payload = payload
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) scopedTenant(scope tenant.Scope) (uuid.UUID, error) {
	id, ok := scope.TenantID()
	if !ok {
		return uuid.Nil, apperrors.ErrNoActiveTenant
	}
	return id, nil
}

func (s *PostgresStore) Unit(ctx context.Context, scope tenant.Scope, serial string) (inventory.Unit, error) {
	tid, err := s.scopedTenant(scope)
	if err != nil {
		return inventory.Unit{}, err
	}
	var u inventory.Unit
	err = s.read(ctx, scope, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + unitColumns + ` FROM units WHERE tenant_id = $1 AND serial = $2`
		var err error
		u, err = scanUnit(tx.QueryRowContext(ctx, q, tid, serial))
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound(inventory.EntityUnit, serial)
		}
		return err
	})
	return u, err
}

func (s *PostgresStore) ListUnits(ctx context.Context, scope tenant.Scope, f UnitFilter) ([]inventory.Unit, error) {
	tid, err := s.scopedTenant(scope)
	if err != nil {
		return nil, err
	}
	var (
		where = []string{"tenant_id = $1"}
		args  = []any{tid}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.BatchID != uuid.Nil {
		add("batch_id = $%d", f.BatchID)
	}
	if f.AfterSerial != "" {
		add("serial > $%d", f.AfterSerial)
	}
	args = append(args, f.limit())
	q := fmt.Sprintf(`SELECT %s FROM units WHERE %s ORDER BY serial LIMIT $%d`,
		unitColumns, strings.Join(where, " AND "), len(args))

	out := make([]inventory.Unit, 0)
	err = s.read(ctx, scope, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			u, err := scanUnit(rows)
			if err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) Movements(ctx context.Context, scope tenant.Scope, unitID uuid.UUID) ([]inventory.Movement, error) {
	tid, err := s.scopedTenant(scope)
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Movement, 0)
	err = s.read(ctx, scope, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
SELECT id, tenant_id, unit_id, from_kind, from_ref, to_kind, to_ref, reason, quantity, operation, created_at
FROM movements
WHERE tenant_id = $1 AND unit_id = $2
ORDER BY created_at, id
`
		rows, err := tx.QueryContext(ctx, q, tid, unitID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				m                inventory.Movement
				fromKind, toKind string
				reason           string
			)
			if err := rows.Scan(&m.ID, &m.TenantID, &m.UnitID, &fromKind, &m.From.Ref, &toKind, &m.To.Ref,
				&reason, &m.Quantity, &m.Operation, &m.CreatedAt); err != nil {
				return err
			}
			m.From.Kind = inventory.LocationKind(fromKind)
			m.To.Kind = inventory.LocationKind(toKind)
			m.Reason = inventory.Reason(reason)
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) StockLevels(ctx context.Context, scope tenant.Scope) ([]StockLevel, error) {
	tid, err := s.scopedTenant(scope)
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
	err = s.read(ctx, scope, func(ctx context.Context, tx *sql.Tx) error {
		const counts = `
SELECT location_kind, location_ref, status, COUNT(*)
FROM units
WHERE tenant_id = $1
GROUP BY location_kind, location_ref, status
`
		rows, err := tx.QueryContext(ctx, counts, tid)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				kind, ref, status string
				n                 int64
			)
			if err := rows.Scan(&kind, &ref, &status, &n); err != nil {
				rows.Close()
				return err
			}
			level(inventory.Location{Kind: inventory.LocationKind(kind), Ref: ref}).Units[inventory.Status(status)] = n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		const net = `
SELECT kind, ref, SUM(qty)
FROM (
  SELECT to_kind AS kind, to_ref AS ref, quantity AS qty FROM movements
  WHERE tenant_id = $1 AND (to_kind <> from_kind OR to_ref <> from_ref)
  UNION ALL
  SELECT from_kind, from_ref, -quantity FROM movements
  WHERE tenant_id = $1 AND (to_kind <> from_kind OR to_ref <> from_ref)
) m
GROUP BY kind, ref
`
		rows, err = tx.QueryContext(ctx, net, tid)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				kind, ref string
				qty       decimal.Decimal
			)
			if err := rows.Scan(&kind, &ref, &qty); err != nil {
				return err
			}
			level(inventory.Location{Kind: inventory.LocationKind(kind), Ref: ref}).Quantity = qty
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return collectLevels(levels), nil
}

func (s *PostgresStore) Shipment(ctx context.Context, scope tenant.Scope, key string) (inventory.Shipment, error) {
	tid, err := s.scopedTenant(scope)
	if err != nil {
		return inventory.Shipment{}, err
	}
	var out inventory.Shipment
	err = s.read(ctx, scope, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = loadShipment(ctx, tx, tid, key, false)
		return err
	})
	return out, err
}

func (s *PostgresStore) Installations(ctx context.Context, scope tenant.Scope, f InstallationFilter) ([]inventory.Installation, error) {
	tid, err := s.scopedTenant(scope)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + installationColumns + ` FROM installations WHERE tenant_id = $1`
	args := []any{tid}
	if f.VehicleID != "" {
		args = append(args, f.VehicleID)
		q += ` AND vehicle_id = $2`
	}
	if f.OpenOnly {
		q += ` AND removed_at IS NULL`
	}
	q += ` ORDER BY installed_at`

	out := make([]inventory.Installation, 0)
	err = s.read(ctx, scope, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			i, err := scanInstallation(rows)
			if err != nil {
				return err
			}
			out = append(out, i)
		}
		return rows.Err()
	})
	return out, err
}
