package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"fleet-ledger/internal/apperrors"
	"fleet-ledger/internal/tenant"

	"go.uber.org/zap"
)

// Tx is the slice of a storage transaction that the chain appends through.
//
// Ordering contract:
// - ChainHead takes exclusive ownership of the scope's head until the
//   transaction ends (single writer per scope).
// - InsertEntry is a compare-and-append: it must fail with
//   apperrors.ErrChainContention unless the head still ends at e.PrevHash.
type Tx interface {
	ChainHead(ctx context.Context, scope tenant.Scope) (Head, error)
	NextSequence(ctx context.Context) (int64, error)
	InsertEntry(ctx context.Context, e Entry) error
}

// Reader reads committed entries of any scope. Only the chain and the audit
// routes use it; tenant projections go through the bound scope instead.
type Reader interface {
	Head(ctx context.Context, scope tenant.Scope) (Head, error)
	Entries(ctx context.Context, scope tenant.Scope, afterSeq int64, limit int) ([]Entry, error)
}

type Metrics interface {
	VerifyFailed()
}

type noopMetrics struct{}

func (noopMetrics) VerifyFailed() {}

const defaultPageSize = 500

// Chain appends and verifies per-scope hash chains.
type Chain struct {
	reader   Reader
	halts    HaltRegistry
	metrics  Metrics
	log      *zap.Logger
	pageSize int
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewChain(reader Reader, halts HaltRegistry, log *zap.Logger, m Metrics) *Chain {
	if halts == nil {
		halts = NewMemoryHalts()
	}
	if m == nil {
		m = noopMetrics{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{reader: reader, halts: halts, metrics: m, log: log, pageSize: defaultPageSize, clock: time.Now}
}

// SetPageSize changes how many entries Verify and Export read per query.
func (c *Chain) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

// Append writes one entry for d to scope inside tx. It never returns a
// partially filled entry.
func (c *Chain) Append(ctx context.Context, tx Tx, scope tenant.Scope, d Draft) (Entry, error) {
	if err := validateDraft(d); err != nil {
		return Entry{}, err
	}
	raw, err := json.Marshal(d.Payload)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal payload: %w", err)
	}
	payload, err := CanonicalJSON(raw)
	if err != nil {
		return Entry{}, err
	}

	head, err := tx.ChainHead(ctx, scope)
	if err != nil {
		return Entry{}, err
	}
	seq, err := tx.NextSequence(ctx)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		Seq: seq,
		// storage keeps microseconds; hash what will be read back
		CreatedAt:    c.clock().UTC().Truncate(time.Microsecond),
		Actor:        d.Actor,
		SubjectTable: d.SubjectTable,
		Action:       d.Action,
		SubjectKey:   d.SubjectKey,
		PrevHash:     head.LastHash,
		Payload:      payload,
	}
	if id, ok := scope.TenantID(); ok {
		e.TenantID = &id
	}
	if e.CurrHash, err = hashEntry(e); err != nil {
		return Entry{}, err
	}
	if err := tx.InsertEntry(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func validateDraft(d Draft) error {
	switch {
	case d.Actor == "":
		return apperrors.Validation("actor", "is required")
	case d.SubjectTable == "":
		return apperrors.Validation("subject_table", "is required")
	case d.SubjectKey == "":
		return apperrors.Validation("subject_key", "is required")
	}
	switch d.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
		return nil
	default:
		return apperrors.Validation("action", fmt.Sprintf("unsupported %q", d.Action))
	}
}

// CheckWritable refuses writes to a halted scope.
func (c *Chain) CheckWritable(ctx context.Context, scope tenant.Scope) error {
	h, halted, err := c.halts.Halted(ctx, scope.Key())
	if err != nil {
		return err
	}
	if halted {
		return &apperrors.ChainBrokenError{Scope: scope.Key(), At: h.At, Reason: "scope halted pending investigation: " + h.Reason}
	}
	return nil
}

// Verify walks the scope's entries up to the head read at the start. On the
// first mismatch the scope is halted and a ChainBrokenError naming that
// sequence id is returned. Entries committed while the walk runs are left for
// the next call.
func (c *Chain) Verify(ctx context.Context, scope tenant.Scope) (Report, error) {
	key := scope.Key()
	head, err := c.reader.Head(ctx, scope)
	if err != nil {
		return Report{}, err
	}

	var (
		prev  string
		last  int64
		count int64
	)
	err = c.walk(ctx, scope, head, func(page []Entry) error {
		var err error
		prev, last, err = verifyFrom(key, prev, last, page)
		count += int64(len(page))
		return err
	})
	if err != nil {
		return Report{}, c.fail(ctx, err)
	}

	// a truncated or rewritten tail leaves the head pointing elsewhere
	if prev != head.LastHash || last != head.LastSeq || count != head.Count {
		at := head.LastSeq
		if at == 0 {
			at = last
		}
		return Report{}, c.fail(ctx, &apperrors.ChainBrokenError{Scope: key, At: at, Reason: "chain head does not match stored entries"})
	}
	if err := c.checkBeyond(ctx, scope, head); err != nil {
		return Report{}, c.fail(ctx, err)
	}
	return Report{ScopeKey: key, Entries: count, HeadSeq: last, HeadHash: prev}, nil
}

// walk hands fn the scope's entries with sequence ids up to head.LastSeq,
// one page at a time.
func (c *Chain) walk(ctx context.Context, scope tenant.Scope, head Head, fn func(page []Entry) error) error {
	var last int64
	for last < head.LastSeq {
		page, err := c.reader.Entries(ctx, scope, last, c.pageSize)
		if err != nil {
			return err
		}
		full := len(page) == c.pageSize
		if i := slices.IndexFunc(page, func(e Entry) bool { return e.Seq > head.LastSeq }); i >= 0 {
			page, full = page[:i], false
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
			last = page[len(page)-1].Seq
		}
		if !full {
			return nil
		}
	}
	return nil
}

// checkBeyond looks at the first entry past head. An entry there is fine
// when a later head covers it (a write committed during the walk); one no
// head accounts for was inserted around the chain.
func (c *Chain) checkBeyond(ctx context.Context, scope tenant.Scope, head Head) error {
	next, err := c.reader.Entries(ctx, scope, head.LastSeq, 1)
	if err != nil || len(next) == 0 {
		return err
	}
	now, err := c.reader.Head(ctx, scope)
	if err != nil {
		return err
	}
	if now.LastSeq < next[0].Seq {
		return &apperrors.ChainBrokenError{Scope: scope.Key(), At: next[0].Seq, Reason: "entry past the chain head"}
	}
	return nil
}

func (c *Chain) fail(ctx context.Context, err error) error {
	var broken *apperrors.ChainBrokenError
	if !errors.As(err, &broken) {
		return err
	}
	c.metrics.VerifyFailed()
	c.log.Error("audit chain broken",
		zap.String("scope", broken.Scope),
		zap.Int64("sequence_id", broken.At),
		zap.String("reason", broken.Reason),
	)
	h := Halt{ScopeKey: broken.Scope, At: broken.At, Reason: broken.Reason, HaltedAt: c.clock().UTC()}
	if herr := c.halts.Halt(ctx, h); herr != nil {
		c.log.Error("failed to halt scope", zap.String("scope", broken.Scope), zap.Error(herr))
	}
	return err
}

// Export returns the scope's entries up to its head, plus that head.
func (c *Chain) Export(ctx context.Context, scope tenant.Scope) (Export, error) {
	head, err := c.reader.Head(ctx, scope)
	if err != nil {
		return Export{}, err
	}
	out := Export{Head: head, Entries: make([]Entry, 0, head.Count)}
	err = c.walk(ctx, scope, head, func(page []Entry) error {
		out.Entries = append(out.Entries, page...)
		return nil
	})
	if err != nil {
		return Export{}, err
	}
	return out, nil
}

// Release clears a halt. Callers record the release as a system event.
func (c *Chain) Release(ctx context.Context, scope tenant.Scope) error {
	_, halted, err := c.halts.Halted(ctx, scope.Key())
	if err != nil {
		return err
	}
	if !halted {
		return apperrors.NotFound("halt", scope.Key())
	}
	c.log.Warn("audit chain halt released", zap.String("scope", scope.Key()))
	return c.halts.Release(ctx, scope.Key())
}
