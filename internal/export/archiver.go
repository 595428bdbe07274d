package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"fleet-ledger/internal/apperrors"
	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/tenant"

	"go.uber.org/zap"
)

const contentType = "application/x-ndjson"

// Receipt describes one archive object.
type Receipt struct {
	Key      string `json:"key"`
	Entries  int64  `json:"entries"`
	HeadSeq  int64  `json:"head_sequence_id"`
	HeadHash string `json:"head_hash"`
	// Existing is set when an archive for this head was already stored.
	Existing bool `json:"existing"`
}

type Archiver struct {
	chain *audit.Chain
	sink  Sink
	log   *zap.Logger
}

func NewArchiver(chain *audit.Chain, sink Sink, log *zap.Logger) *Archiver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Archiver{chain: chain, sink: sink, log: log}
}

// Key is where the archive of scope up to headSeq is stored.
func Key(scope tenant.Scope, headSeq int64) string {
	return fmt.Sprintf("audit/%s/%d.jsonl", scope.Key(), headSeq)
}

// Archive verifies the scope's chain and stores its export. A broken chain
// is never archived; Verify halts it instead.
func (a *Archiver) Archive(ctx context.Context, scope tenant.Scope) (Receipt, error) {
	if _, err := a.chain.Verify(ctx, scope); err != nil {
		return Receipt{}, err
	}
	exp, err := a.chain.Export(ctx, scope)
	if err != nil {
		return Receipt{}, err
	}
	if len(exp.Entries) == 0 {
		return Receipt{}, apperrors.Validation("scope", "chain is empty")
	}
	// Export can include entries committed after Verify ran.
	last := exp.Entries[len(exp.Entries)-1]
	if err := audit.VerifyEntries(scope.Key(), exp.Entries); err != nil {
		return Receipt{}, err
	}

	var buf bytes.Buffer
	if err := Encode(&buf, exp.Entries); err != nil {
		return Receipt{}, err
	}
	rc := Receipt{
		Key:      Key(scope, last.Seq),
		Entries:  int64(len(exp.Entries)),
		HeadSeq:  last.Seq,
		HeadHash: last.CurrHash,
	}
	switch err := a.sink.Put(ctx, rc.Key, buf.Bytes(), contentType); {
	case errors.Is(err, ErrExists):
		rc.Existing = true
	case err != nil:
		return Receipt{}, fmt.Errorf("archive %s: %w", scope.Key(), err)
	}
	a.log.Info("audit chain archived",
		zap.String("scope", scope.Key()),
		zap.String("key", rc.Key),
		zap.Int64("entries", rc.Entries),
		zap.Bool("existing", rc.Existing))
	return rc, nil
}

// Encode writes one JSON entry per line.
func Encode(w io.Writer, entries []audit.Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode entry %d: %w", e.Seq, err)
		}
	}
	return nil
}

// Decode reads what Encode wrote.
func Decode(r io.Reader) ([]audit.Entry, error) {
	var out []audit.Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var e audit.Entry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
