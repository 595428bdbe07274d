package gateway

import (
	"context"
	"fmt"

	"fleet-ledger/internal/apperrors"
	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/tenant"

	"go.uber.org/zap"
)

const subjectHalts = "audit_halts"

func requireSystem(ctx context.Context) (tenant.Scope, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return tenant.Scope{}, err
	}
	if !scope.IsSystem() {
		return tenant.Scope{}, fmt.Errorf("%w: system scope required", apperrors.ErrNoActiveTenant)
	}
	return scope, nil
}

// RecordSystemEvent appends one entry to the system chain.
func (g *Gateway) RecordSystemEvent(ctx context.Context, req SystemEventRequest) (audit.Entry, error) {
	scope, err := requireSystem(ctx)
	if err != nil {
		g.metrics.Observe("record_system_event", apperrors.Code(err), 0)
		return audit.Entry{}, err
	}
	var out audit.Entry
	err = g.mediate(ctx, "record_system_event", scope, req, func(ctx context.Context, w *writer) error {
		payload := req.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		var err error
		out, err = w.record(ctx, req.Subject, audit.ActionCreate, req.Key, payload)
		return err
	})
	return out, err
}

// ReleaseHalt lets writes into target resume after an investigation. The
// release itself is recorded on the system chain.
func (g *Gateway) ReleaseHalt(ctx context.Context, target tenant.Scope) error {
	if _, err := requireSystem(ctx); err != nil {
		return err
	}
	if target.IsZero() {
		return apperrors.Validation("scope", "is required")
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return err
	}
	if err := g.chain.Release(ctx, target); err != nil {
		return err
	}
	_, err = g.RecordSystemEvent(ctx, SystemEventRequest{
		Subject: subjectHalts,
		Key:     target.Key(),
		Payload: map[string]any{"event": "released", "released_by": actor},
	})
	if err != nil {
		g.log.Error("halt released but not recorded", zap.String("scope", target.Key()), zap.Error(err))
		return err
	}
	return nil
}
