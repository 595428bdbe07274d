package gateway

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"fleet-ledger/internal/apperrors"
	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/auth"
	"fleet-ledger/internal/storage"
	"fleet-ledger/internal/tenant"
	"fleet-ledger/pkg/logger"
	"fleet-ledger/pkg/retry"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Metrics receives one observation per operation and one tick per retried
// transaction.
type Metrics interface {
	Observe(op, result string, elapsed time.Duration)
	AppendRetried()
}

type noopMetrics struct{}

func (noopMetrics) Observe(string, string, time.Duration) {}
func (noopMetrics) AppendRetried()                        {}

type Config struct {
	// MaxBatchSize caps the units created by one RegisterBatch or GenerateUnits.
	MaxBatchSize int
	// Retry bounds how often a transaction that lost a chain append race is
	// rerun. nil uses retry.DefaultConfig.
	Retry *retry.Config
}

const defaultMaxBatchSize = 1000

type Gateway struct {
	store    storage.Store
	chain    *audit.Chain
	validate *validator.Validate
	metrics  Metrics
	log      *zap.Logger
	cfg      Config
	clock    func() time.Time
}

func New(store storage.Store, chain *audit.Chain, log *zap.Logger, m Metrics, cfg Config) *Gateway {
	if m == nil {
		m = noopMetrics{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}
	return &Gateway{
		store:    store,
		chain:    chain,
		validate: newValidator(),
		metrics:  m,
		log:      log,
		cfg:      cfg,
		clock:    time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (g *Gateway) check(req any) error {
	err := g.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return apperrors.Validation(fe.Field(), reason)
	}
	return apperrors.Validation("request", err.Error())
}

func actorFrom(ctx context.Context) (string, error) {
	id, err := auth.UserID(ctx)
	if err != nil {
		return "", apperrors.Validation("actor", "no authenticated user")
	}
	return id, nil
}

// writer is the view of one transaction attempt handed to an operation.
type writer struct {
	storage.Tx
	chain *audit.Chain
	scope tenant.Scope
	actor string
	now   time.Time
}

// record appends one audit entry in the transaction's scope.
func (w *writer) record(ctx context.Context, table string, action audit.Action, key string, payload any) (audit.Entry, error) {
	return w.chain.Append(ctx, w.Tx, w.scope, audit.Draft{
		Actor:        w.actor,
		SubjectTable: table,
		Action:       action,
		SubjectKey:   key,
		Payload:      payload,
	})
}

// mediate runs fn as operation op in scope. fn may run more than once when
// the transaction loses a chain append race; every attempt starts from
// committed state.
func (g *Gateway) mediate(ctx context.Context, op string, scope tenant.Scope, req any, fn func(ctx context.Context, w *writer) error) (err error) {
	start := g.clock()
	log := logger.From(ctx, g.log).With(zap.String("op", op), zap.String("tenant", scope.Key()))
	defer func() {
		g.metrics.Observe(op, apperrors.Code(err), g.clock().Sub(start))
		if err != nil {
			log.Debug("operation rejected", zap.Error(err))
		}
	}()

	if err := g.check(req); err != nil {
		return err
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return err
	}
	if err := g.chain.CheckWritable(ctx, scope); err != nil {
		return err
	}

	onRetry := func(attempt int, err error) {
		g.metrics.AppendRetried()
		log.Warn("audit chain contention, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	err = retry.Do(ctx, g.cfg.Retry, apperrors.IsRetryable, onRetry, func() error {
		return g.store.RunInTx(ctx, scope, func(ctx context.Context, tx storage.Tx) error {
			return fn(ctx, &writer{Tx: tx, chain: g.chain, scope: scope, actor: actor, now: g.clock().UTC()})
		})
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Debug("operation committed")
	return nil
}

// tenantWrite resolves the caller's tenant scope and mediates op in it.
func (g *Gateway) tenantWrite(ctx context.Context, op string, req any, fn func(ctx context.Context, w *writer) error) error {
	scope, err := tenant.RequireTenant(ctx)
	if err != nil {
		g.metrics.Observe(op, apperrors.Code(err), 0)
		return err
	}
	return g.mediate(ctx, op, scope, req, fn)
}
