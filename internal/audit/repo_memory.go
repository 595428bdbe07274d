package audit

import (
	"context"
	"sync"
	"time"
)

// Halt marks a scope whose chain failed verification. Writes to a halted
// scope are refused until an operator releases it.
type Halt struct {
	ScopeKey string    `json:"scope"`
	At       int64     `json:"at"`
	Reason   string    `json:"reason"`
	HaltedAt time.Time `json:"halted_at"`
}

// HaltRegistry stores halt markers.
type HaltRegistry interface {
	Halt(ctx context.Context, h Halt) error
	Halted(ctx context.Context, scopeKey string) (Halt, bool, error)
	Release(ctx context.Context, scopeKey string) error
}

// MemoryHalts is a process-local HaltRegistry, used in tests and single-node
// deployments without Redis.
type MemoryHalts struct {
	mu    sync.Mutex
	halts map[string]Halt
}

func NewMemoryHalts() *MemoryHalts { return &MemoryHalts{halts: map[string]Halt{}} }

func (r *MemoryHalts) Halt(_ context.Context, h Halt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// keep the earliest break
	if _, ok := r.halts[h.ScopeKey]; !ok {
		r.halts[h.ScopeKey] = h
	}
	return nil
}

func (r *MemoryHalts) Halted(_ context.Context, scopeKey string) (Halt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.halts[scopeKey]
	return h, ok, nil
}

func (r *MemoryHalts) Release(_ context.Context, scopeKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.halts, scopeKey)
	return nil
}
