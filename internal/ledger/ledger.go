// Package ledger is the write path into the event store: it validates each
// event, appends it with bounded retries on lock contention, records
// metrics and wakes subscribed indexers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/atomledger/internal/ir"
	"github.com/roach88/atomledger/internal/metrics"
	"github.com/roach88/atomledger/internal/store"
	"github.com/roach88/atomledger/internal/validate"
)

// DefaultMaxAttempts bounds store attempts per Append.
const DefaultMaxAttempts = 5

// AppendResult describes a successful Append.
type AppendResult struct {
	StoreID  int64
	Inserted bool // false when an identical event was already stored
	Event    ir.Event
}

// Ledger appends validated events to a store.
type Ledger struct {
	store       *store.Store
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxAttempts uint
	newBackOff  func() backoff.BackOff
	now         func() time.Time

	// writeMu makes the integrity checks and the insert one step for
	// appends made through this Ledger.
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[int]chan struct{}
	next int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) { lg.logger = l }
}

// WithMetrics records append outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(lg *Ledger) { lg.metrics = m }
}

// WithMaxAttempts bounds the store attempts per Append.
func WithMaxAttempts(n uint) Option {
	return func(lg *Ledger) {
		if n > 0 {
			lg.maxAttempts = n
		}
	}
}

// WithBackOff replaces the retry schedule. The factory is called once per
// Append.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(lg *Ledger) { lg.newBackOff = f }
}

// WithClock sets the clock used for defaulting event_ts.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// New creates a Ledger over s.
func New(s *store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       s,
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		newBackOff:  defaultBackOff,
		now:         time.Now,
		subs:        make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.RandomizationFactor = 0.5
	return b
}

// Append validates ev and stores it. A zero event_ts is set to now.
//
// Input and integrity problems are returned as validate.Errors and nothing
// is stored. A duplicate created also matches store.ErrDuplicateCreate.
// Transient storage errors are retried with exponential backoff and jitter
// up to the attempt bound. Appending an identical event twice returns the
// first store id with Inserted false.
func (l *Ledger) Append(ctx context.Context, ev ir.Event) (AppendResult, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}
	if ev.Meta == nil {
		ev.Meta = ir.IRObject{}
	}

	if errs := validate.Event(ev); len(errs) > 0 {
		l.count(metrics.OutcomeRejected)
		return AppendResult{}, validate.Errors(errs)
	}

	op := func() (AppendResult, error) {
		l.writeMu.Lock()
		defer l.writeMu.Unlock()

		if err := l.checkIntegrity(ctx, ev); err != nil {
			return AppendResult{}, classify(err)
		}
		id, inserted, err := l.store.Append(ctx, ev)
		if err != nil {
			return AppendResult{}, classify(err)
		}
		stored := ev
		stored.StoreID = id
		return AppendResult{StoreID: id, Inserted: inserted, Event: stored}, nil
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(l.newBackOff()),
		backoff.WithMaxTries(l.maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if l.metrics != nil {
				l.metrics.AppendRetries.Inc()
			}
			l.logger.Debug("append retry", "uid", ev.AtomUID, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		return AppendResult{}, l.fail(ctx, ev, err)
	}

	if !res.Inserted {
		l.count(metrics.OutcomeDuplicate)
		l.logger.Debug("duplicate event ignored", "uid", ev.AtomUID, "store_id", res.StoreID)
		return res, nil
	}

	l.count(metrics.OutcomeInserted)
	l.logger.Debug("event appended",
		"uid", ev.AtomUID,
		"type", ev.Type.String(),
		"store_id", res.StoreID,
	)
	l.notify()
	return res, nil
}

// checkIntegrity rejects events that reference atoms the ledger has never
// seen (a lifecycle event before any created, a dependency on an unknown
// atom) and events that would take a key another live atom holds.
func (l *Ledger) checkIntegrity(ctx context.Context, ev ir.Event) error {
	var errs validate.Errors

	if ev.Type != ir.EventCreated {
		known, err := l.store.HasUID(ctx, ev.AtomUID)
		if err != nil {
			return err
		}
		if !known {
			errs = append(errs, validate.ValidationError{
				Field:   "atom_uid",
				Message: fmt.Sprintf("atom %s has no created event", ev.AtomUID),
				Code:    validate.ErrUnknownAtom,
			})
		}
	}

	if deps, ok := declaredDeps(ev); ok {
		for i, dep := range deps {
			if dep == ev.AtomUID {
				continue
			}
			known, err := l.store.HasUID(ctx, dep)
			if err != nil {
				return err
			}
			if !known {
				errs = append(errs, validate.ValidationError{
					Field:   fmt.Sprintf("meta.deps[%d]", i),
					Message: fmt.Sprintf("unknown dependency %s", dep),
					Code:    validate.ErrUnknownDep,
				})
			}
		}
	}

	collision, err := l.checkKey(ctx, ev)
	if err != nil {
		return err
	}
	if collision != nil {
		errs = append(errs, *collision)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func declaredDeps(ev ir.Event) ([]string, bool) {
	switch ev.Type {
	case ir.EventCreated, ir.EventRevised:
		return ev.Meta.GetStringList(ir.MetaDeps)
	case ir.EventCorrected:
		if t, _ := ev.Meta.GetString(ir.MetaIntendedType); t == ir.EventRevised.String() {
			return ev.Meta.GetStringList(ir.MetaDeps)
		}
	}
	return nil, false
}

// classify marks everything but lock contention as permanent.
func classify(err error) error {
	if store.IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

func (l *Ledger) fail(ctx context.Context, ev ir.Event, err error) error {
	var verrs validate.Errors
	if errors.As(err, &verrs) {
		l.count(metrics.OutcomeRejected)
		return verrs
	}
	if errors.Is(err, store.ErrDuplicateCreate) {
		l.count(metrics.OutcomeRejected)
		return fmt.Errorf("%w: %w", l.duplicateCreate(ctx, ev), err)
	}

	l.count(metrics.OutcomeFailed)
	l.logger.Error("append failed", "uid", ev.AtomUID, "type", ev.Type.String(), "error", err)
	return fmt.Errorf("append %s %s: %w", ev.Type, ev.AtomUID, err)
}

// duplicateCreate explains a rejected second created: a retired atom
// cannot be resurrected, a live one already exists.
func (l *Ledger) duplicateCreate(ctx context.Context, ev ir.Event) validate.Errors {
	entry, err := l.store.GetEntry(ctx, ev.AtomUID)
	if err == nil && entry.Status.Terminal() {
		return validate.Errors{{
			Field:   "event_type",
			Message: fmt.Sprintf("atom %s is %s; created after a terminal status is rejected", ev.AtomUID, entry.Status),
			Code:    validate.ErrTerminalAtom,
		}}
	}
	return validate.Errors{{
		Field:   "atom_uid",
		Message: fmt.Sprintf("atom %s already has a created event", ev.AtomUID),
		Code:    validate.ErrDuplicateUID,
	}}
}

func (l *Ledger) count(outcome string) {
	if l.metrics != nil {
		l.metrics.AppendTotal.WithLabelValues(outcome).Inc()
	}
}
