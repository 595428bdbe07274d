package audit

import (
	"encoding/json"
	"time"

	"fleet-ledger/internal/tenant"

	"github.com/google/uuid"
)

// Entry is an immutable, append-only audit record.
//
// Invariants:
// - Entries are never updated or deleted.
// - Within one scope, ordered by Seq, each PrevHash equals the CurrHash of
//   the entry before it; the first entry has an empty PrevHash.
// - CurrHash = hex(SHA-256(PrevHash || Canonical(entry))).
type Entry struct {
	Seq       int64     `json:"sequence_id"`
	CreatedAt time.Time `json:"created_at"`
	Actor     string    `json:"actor"`

	// TenantID is nil for system-scope entries.
	TenantID *uuid.UUID `json:"tenant_id"`

	SubjectTable string          `json:"subject_table"`
	Action       Action          `json:"action"`
	SubjectKey   string          `json:"subject_key"`
	PrevHash     string          `json:"prev_hash"`
	CurrHash     string          `json:"curr_hash"`
	Payload      json.RawMessage `json:"payload"`
}

// Scope returns the chain the entry belongs to.
func (e Entry) Scope() tenant.Scope {
	if e.TenantID == nil {
		return tenant.System()
	}
	return tenant.ForTenant(*e.TenantID)
}

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Draft is what a caller supplies; the chain fills in sequence, time and hashes.
type Draft struct {
	Actor        string
	SubjectTable string
	Action       Action
	SubjectKey   string
	Payload      any
}

// Head is the tail of one scope's chain.
type Head struct {
	ScopeKey string `json:"scope"`
	LastSeq  int64  `json:"last_sequence_id"`
	LastHash string `json:"last_hash"`
	Count    int64  `json:"count"`
}

// Export is the ordered entry sequence of a scope plus its head, enough for a
// third party to re-run VerifyEntries.
type Export struct {
	Head    Head    `json:"head"`
	Entries []Entry `json:"entries"`
}

// Report summarizes a successful verification.
type Report struct {
	ScopeKey string `json:"scope"`
	Entries  int64  `json:"entries"`
	HeadSeq  int64  `json:"head_sequence_id"`
	HeadHash string `json:"head_hash"`
}
