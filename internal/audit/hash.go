package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"fleet-ledger/internal/apperrors"

	"github.com/shopspring/decimal"
)

// canonicalEntry fixes field order; payload keys are sorted separately.
type canonicalEntry struct {
	Seq          int64           `json:"sequence_id"`
	CreatedAt    string          `json:"created_at"`
	Actor        string          `json:"actor"`
	TenantID     string          `json:"tenant_id"`
	SubjectTable string          `json:"subject_table"`
	Action       Action          `json:"action"`
	SubjectKey   string          `json:"subject_key"`
	Payload      json.RawMessage `json:"payload"`
}

// Canonical returns the deterministic byte form of e that is hashed.
// PrevHash and CurrHash are not part of it.
func Canonical(e Entry) ([]byte, error) {
	payload, err := CanonicalJSON(e.Payload)
	if err != nil {
		return nil, err
	}
	tid := ""
	if e.TenantID != nil {
		tid = e.TenantID.String()
	}
	return json.Marshal(canonicalEntry{
		Seq:          e.Seq,
		CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		Actor:        e.Actor,
		TenantID:     tid,
		SubjectTable: e.SubjectTable,
		Action:       e.Action,
		SubjectKey:   e.SubjectKey,
		Payload:      payload,
	})
}

// CanonicalJSON re-encodes raw with sorted object keys and no insignificant
// whitespace. Numbers are written in plain decimal form without trailing
// zeros, the same text whether they went through jsonb or not.
func CanonicalJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("audit: payload is not valid json: %w", err)
	}
	v, err := normalizeNumbers(v)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeNumbers(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil, fmt.Errorf("audit: payload number %q: %w", t, err)
		}
		return json.Number(d.String()), nil
	case map[string]any:
		for k, item := range t {
			n, err := normalizeNumbers(item)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
	case []any:
		for i, item := range t {
			n, err := normalizeNumbers(item)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
	}
	return v, nil
}

// ComputeHash returns hex(SHA-256(prev || canonical)).
func ComputeHash(prev string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

func hashEntry(e Entry) (string, error) {
	c, err := Canonical(e)
	if err != nil {
		return "", err
	}
	return ComputeHash(e.PrevHash, c), nil
}

// VerifyEntries checks a single scope's entries, ordered by sequence id.
// It needs nothing but the entries themselves.
func VerifyEntries(scopeKey string, entries []Entry) error {
	_, _, err := verifyFrom(scopeKey, "", 0, entries)
	return err
}

// verifyFrom continues a walk whose previous entry had hash prev and
// sequence id lastSeq. It returns the new tail.
func verifyFrom(scopeKey, prev string, lastSeq int64, entries []Entry) (string, int64, error) {
	for _, e := range entries {
		broken := func(reason string) error {
			return &apperrors.ChainBrokenError{Scope: scopeKey, At: e.Seq, Reason: reason}
		}
		if e.Scope().Key() != scopeKey {
			return prev, lastSeq, broken("entry belongs to scope " + e.Scope().Key())
		}
		if e.Seq <= lastSeq {
			return prev, lastSeq, broken("sequence id not increasing")
		}
		if e.PrevHash != prev {
			return prev, lastSeq, broken("prev_hash does not match preceding entry")
		}
		got, err := hashEntry(e)
		if err != nil {
			return prev, lastSeq, broken(err.Error())
		}
		if got != e.CurrHash {
			return prev, lastSeq, broken("curr_hash mismatch")
		}
		prev, lastSeq = e.CurrHash, e.Seq
	}
	return prev, lastSeq, nil
}
