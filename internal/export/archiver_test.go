package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"fleet-ledger/internal/apperrors"
	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/storage"
	"fleet-ledger/internal/tenant"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendEntries(t *testing.T, s *storage.MemoryStore, chain *audit.Chain, scope tenant.Scope, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := s.RunInTx(context.Background(), scope, func(ctx context.Context, tx storage.Tx) error {
			_, err := chain.Append(ctx, tx, scope, audit.Draft{
				Actor:        "op-1",
				SubjectTable: "units",
				Action:       audit.ActionUpdate,
				SubjectKey:   fmt.Sprintf("B1-%04d", i+1),
				Payload:      map[string]any{"n": i, "qty": "1.50"},
			})
			return err
		})
		require.NoError(t, err)
	}
}

func TestArchiveRoundTripVerifies(t *testing.T) {
	s := storage.NewMemoryStore()
	chain := audit.NewChain(s, audit.NewMemoryHalts(), nil, nil)
	scope := tenant.ForTenant(uuid.New())
	appendEntries(t, s, chain, scope, 5)

	sink := NewMemorySink()
	rc, err := NewArchiver(chain, sink, nil).Archive(context.Background(), scope)
	require.NoError(t, err)
	assert.EqualValues(t, 5, rc.Entries)
	assert.False(t, rc.Existing)
	assert.Equal(t, Key(scope, rc.HeadSeq), rc.Key)
	assert.True(t, strings.HasPrefix(rc.Key, "audit/"+scope.Key()+"/"))

	body, ok := sink.Get(rc.Key)
	require.True(t, ok)
	entries, err := Decode(bytes.NewReader(body))
	require.NoError(t, err)
	require.Len(t, entries, 5)
	require.NoError(t, audit.VerifyEntries(scope.Key(), entries))
	assert.Equal(t, rc.HeadHash, entries[4].CurrHash)

	// Editing the archive is detectable without the database.
	entries[2].Actor = "intruder"
	var broken *apperrors.ChainBrokenError
	assert.True(t, errors.As(audit.VerifyEntries(scope.Key(), entries), &broken))
}

func TestArchiveIsCreateOnly(t *testing.T) {
	s := storage.NewMemoryStore()
	chain := audit.NewChain(s, audit.NewMemoryHalts(), nil, nil)
	scope := tenant.ForTenant(uuid.New())
	appendEntries(t, s, chain, scope, 2)

	sink := NewMemorySink()
	a := NewArchiver(chain, sink, nil)
	first, err := a.Archive(context.Background(), scope)
	require.NoError(t, err)
	again, err := a.Archive(context.Background(), scope)
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Equal(t, first.Key, again.Key)

	appendEntries(t, s, chain, scope, 1)
	next, err := a.Archive(context.Background(), scope)
	require.NoError(t, err)
	assert.False(t, next.Existing)
	assert.Len(t, sink.Keys(), 2)
}

func TestArchiveRefusesBrokenOrEmptyChain(t *testing.T) {
	s := storage.NewMemoryStore()
	halts := audit.NewMemoryHalts()
	chain := audit.NewChain(s, halts, nil, nil)
	sink := NewMemorySink()
	a := NewArchiver(chain, sink, nil)

	_, err := a.Archive(context.Background(), tenant.ForTenant(uuid.New()))
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	scope := tenant.ForTenant(uuid.New())
	appendEntries(t, s, chain, scope, 3)
	head, err := s.Head(context.Background(), scope)
	require.NoError(t, err)
	require.True(t, s.Corrupt(scope, head.LastSeq, func(e *audit.Entry) { e.CurrHash = strings.Repeat("0", 64) }))

	_, err = a.Archive(context.Background(), scope)
	assert.True(t, errors.Is(err, apperrors.ErrChainBroken))
	assert.Empty(t, sink.Keys())
	_, halted, err := halts.Halted(context.Background(), scope.Key())
	require.NoError(t, err)
	assert.True(t, halted)
}

func TestDecodeReportsLine(t *testing.T) {
	_, err := Decode(strings.NewReader("{\"sequence_id\":1}\n\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

// fakeS3 serves the HEAD and PUT subset of the S3 path-style API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/archive/")
	switch r.Method {
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.puts++
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestS3SinkCreateOnly(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	sink, err := NewS3Sink(context.Background(), S3Config{
		Bucket:    "archive",
		Endpoint:  srv.URL,
		AccessKey: "AKIA",
		SecretKey: "SECRET",
		PathStyle: true,
	}, nil)
	require.NoError(t, err)

	key := "audit/system/7.jsonl"
	require.NoError(t, sink.Put(context.Background(), key, []byte("{\"sequence_id\":7}\n"), contentType))
	assert.Equal(t, 1, fake.puts)
	assert.Contains(t, string(fake.objects[key]), "sequence_id")

	err = sink.Put(context.Background(), key, []byte("{}\n"), contentType)
	assert.True(t, errors.Is(err, ErrExists))
	assert.Equal(t, 1, fake.puts)
}

func TestNewS3SinkRequiresBucket(t *testing.T) {
	_, err := NewS3Sink(context.Background(), S3Config{}, nil)
	require.Error(t, err)
}
