// Package sink reconciles funnel snapshots against rows already present in a
// sheet-like store: a row with the same natural key is rewritten in place,
// anything else is appended.
package sink

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"advisor/schemas"
)

// Store is a tabular lead store addressed by sheet and tab. Row ids are
// opaque to the sink.
type Store interface {
	Rows(ctx context.Context, target schemas.SheetTarget) ([]schemas.LeadRow, error)
	Row(ctx context.Context, target schemas.SheetTarget, id string) (schemas.LeadRow, bool, error)
	Update(ctx context.Context, target schemas.SheetTarget, id string, lead schemas.Lead) error
	Append(ctx context.Context, target schemas.SheetTarget, lead schemas.Lead) (string, error)
}

// IndexCache remembers which row a key was last written to. Entries are
// hints only and are verified against the store before use.
type IndexCache interface {
	Get(ctx context.Context, target schemas.SheetTarget, key string) (string, bool, error)
	Set(ctx context.Context, target schemas.SheetTarget, key, id string) error
}

type Option func(*Sink)

func WithIndexCache(cache IndexCache) Option {
	return func(s *Sink) {
		s.cache = cache
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLookupTimeout bounds the search for an existing row. The lookup never
// gets more than half of the caller's remaining deadline either, so the
// fallback append always keeps time to run.
func WithLookupTimeout(d time.Duration) Option {
	return func(s *Sink) {
		s.lookupTimeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type Sink struct {
	store  Store
	cache  IndexCache
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer

	lookupTimeout time.Duration
}

func New(store Store, opts ...Option) *Sink {
	s := &Sink{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer("advisor/sink"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sink")
	return s
}

// Persist upserts lead into target. Lookup failures degrade to an append;
// write failures are returned in the result, never retried here.
func (s *Sink) Persist(ctx context.Context, target schemas.SheetTarget, lead schemas.Lead) schemas.PersistResult {
	if strings.TrimSpace(target.SheetID) == "" {
		return schemas.PersistResult{Status: schemas.PersistSkipped}
	}
	if lead.Timestamp.IsZero() {
		lead.Timestamp = s.now().UTC()
	}

	key := KeyOf(lead)
	ctx, span := s.tracer.Start(ctx, "sink.Persist", trace.WithAttributes(
		attribute.String("sheet.id", target.SheetID),
		attribute.String("sheet.tab", target.Tab),
		attribute.String("lead.key_kind", string(key.Kind)),
	))
	defer span.End()

	res := s.persist(ctx, target, lead, key)
	span.SetAttributes(attribute.String("persist.status", string(res.Status)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		s.logger.Error("persist lead", "sheet_id", target.SheetID, "tab", target.Tab, "key", res.Key, "error", res.Err)
		return res
	}
	s.logger.Info("persist lead", "sheet_id", target.SheetID, "tab", target.Tab, "key", res.Key, "status", res.Status, "row_id", res.RowID)
	return res
}

func (s *Sink) persist(ctx context.Context, target schemas.SheetTarget, lead schemas.Lead, key Key) schemas.PersistResult {
	res := schemas.PersistResult{Key: key.String()}

	if !key.IsZero() {
		lookupCtx, cancel := s.lookupContext(ctx)
		id, found, err := s.lookup(lookupCtx, target, key)
		cancel()
		if err != nil {
			s.logger.Warn("lookup failed, appending", "sheet_id", target.SheetID, "key", res.Key, "error", err)
		}
		if found {
			res.RowID = id
			if err := s.store.Update(ctx, target, id, lead); err != nil {
				res.Status = schemas.PersistError
				res.Err = err
				return res
			}
			res.Status = schemas.PersistUpdated
			s.remember(ctx, target, key, id)
			return res
		}
	}

	id, err := s.store.Append(ctx, target, lead)
	if err != nil {
		res.Status = schemas.PersistError
		res.Err = err
		return res
	}
	res.Status = schemas.PersistCreated
	res.RowID = id
	if !key.IsZero() {
		s.remember(ctx, target, key, id)
	}
	return res
}

func (s *Sink) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	budget := s.lookupTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if half := time.Until(deadline) / 2; budget <= 0 || half < budget {
			budget = half
		}
	}
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

// lookup returns the id of the first row whose key equals key.
func (s *Sink) lookup(ctx context.Context, target schemas.SheetTarget, key Key) (string, bool, error) {
	if id, ok := s.cached(ctx, target, key); ok {
		return id, true, nil
	}
	rows, err := s.store.Rows(ctx, target)
	if err != nil {
		return "", false, err
	}
	for _, row := range rows {
		if KeyOf(row.Lead) == key {
			return row.ID, true, nil
		}
	}
	return "", false, nil
}

func (s *Sink) cached(ctx context.Context, target schemas.SheetTarget, key Key) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	id, ok, err := s.cache.Get(ctx, target, key.String())
	if err != nil {
		s.logger.Debug("index cache get", "key", key.String(), "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	row, ok, err := s.store.Row(ctx, target, id)
	if err != nil || !ok || KeyOf(row.Lead) != key {
		return "", false
	}
	return id, true
}

func (s *Sink) remember(ctx context.Context, target schemas.SheetTarget, key Key, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, target, key.String(), id); err != nil {
		s.logger.Debug("index cache set", "key", key.String(), "error", err)
	}
}
