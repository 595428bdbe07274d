// Package tenant carries the active tenant scope on context.Context.
//
// Every read and write in the service resolves its scope from the context it
// was handed. There is no package-level "current tenant"; two requests on the
// same process can never observe each other's binding.
package tenant

import (
	"context"
	"fmt"

	"fleet-ledger/internal/apperrors"

	"github.com/google/uuid"
)

const systemKey = "system"

// Scope is either a single tenant or the privileged system scope.
// The zero value is not a valid scope.
type Scope struct {
	id     uuid.UUID
	system bool
}

func ForTenant(id uuid.UUID) Scope { return Scope{id: id} }

func System() Scope { return Scope{system: true} }

func (s Scope) IsSystem() bool { return s.system }

func (s Scope) IsZero() bool { return !s.system && s.id == uuid.Nil }

// TenantID returns the tenant id, or false for the system scope.
func (s Scope) TenantID() (uuid.UUID, bool) {
	if s.system || s.id == uuid.Nil {
		return uuid.Nil, false
	}
	return s.id, true
}

// Key is the stable string form used for chain heads, halt markers and
// archive paths.
func (s Scope) Key() string {
	if s.system {
		return systemKey
	}
	return s.id.String()
}

func (s Scope) String() string { return s.Key() }

// ParseScope is the inverse of Key.
func ParseScope(key string) (Scope, error) {
	if key == systemKey {
		return System(), nil
	}
	id, err := uuid.Parse(key)
	if err != nil || id == uuid.Nil {
		return Scope{}, apperrors.Validation("tenant", fmt.Sprintf("invalid scope %q", key))
	}
	return ForTenant(id), nil
}

type ctxKey struct{}

// Bind returns a context scoped to the given tenant.
func Bind(ctx context.Context, id uuid.UUID) (context.Context, error) {
	if id == uuid.Nil {
		return ctx, apperrors.Validation("tenant", "must not be empty")
	}
	return context.WithValue(ctx, ctxKey{}, ForTenant(id)), nil
}

// BindSystem returns a context bound to the system scope. Only privileged
// callers (system-role routes and process-internal jobs) use this.
func BindSystem(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, System())
}

func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	if !ok || s.IsZero() {
		return Scope{}, false
	}
	return s, true
}

// Current returns the bound tenant id. It is false for the system scope and
// for unbound contexts.
func Current(ctx context.Context) (uuid.UUID, bool) {
	s, ok := FromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return s.TenantID()
}

// Require returns the bound scope (tenant or system).
func Require(ctx context.Context) (Scope, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return Scope{}, apperrors.ErrNoActiveTenant
	}
	return s, nil
}

// RequireTenant is Require without the system scope.
func RequireTenant(ctx context.Context) (Scope, error) {
	s, err := Require(ctx)
	if err != nil {
		return Scope{}, err
	}
	if s.IsSystem() {
		return Scope{}, fmt.Errorf("%w: system scope cannot perform tenant operations", apperrors.ErrNoActiveTenant)
	}
	return s, nil
}
