package identity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/helanludovic-commits/middleware-journea/internal/store"
)

// PersonIndexer receives every person that was created or updated.
type PersonIndexer interface {
	IndexPerson(person store.Person)
}

// Recorder observes engine results; metrics.Metrics satisfies it.
type Recorder interface {
	ObserveReconcile(outcome string)
	ObserveBackSync(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveReconcile(string) {}
func (nopRecorder) ObserveBackSync(string)  {}

type EngineOptions struct {
	Logger   *zap.Logger
	Indexer  PersonIndexer
	Recorder Recorder
	// Dispatch runs detached work. Defaults to a new goroutine.
	Dispatch func(func())
	// DetachedTimeout bounds back-sync after the request has returned.
	DetachedTimeout time.Duration
}

// Result is what one webhook delivery did.
type Result struct {
	Event   Event
	Tenant  *store.Tenant
	Person  store.Person
	Outcome Outcome
}

// Engine runs normalize, resolve, reconcile and then back-sync for a single
// delivery. Back-sync never affects the returned result.
type Engine struct {
	tenants    *TenantResolver
	reconciler *Reconciler
	backsync   *BackSyncWriter
	indexer    PersonIndexer
	recorder   Recorder
	logger     *zap.Logger
	dispatch   func(func())
	detached   time.Duration
}

func NewEngine(tenants *TenantResolver, reconciler *Reconciler, backsync *BackSyncWriter, opts EngineOptions) *Engine {
	e := &Engine{
		tenants:    tenants,
		reconciler: reconciler,
		backsync:   backsync,
		indexer:    opts.Indexer,
		recorder:   opts.Recorder,
		logger:     opts.Logger,
		dispatch:   opts.Dispatch,
		detached:   opts.DetachedTimeout,
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.dispatch == nil {
		e.dispatch = func(fn func()) { go fn() }
	}
	if e.detached <= 0 {
		e.detached = 10 * time.Second
	}
	return e
}

// Handle processes one raw webhook body. It returns ErrMalformedEvent or
// ErrNoIdentity for deliveries that must be acknowledged without retry and
// ErrStorage for failures that redelivery can fix.
func (e *Engine) Handle(ctx context.Context, raw []byte) (Result, error) {
	ev, err := Normalize(raw)
	if err != nil {
		e.recorder.ObserveReconcile("malformed")
		return Result{Outcome: NoOp}, err
	}
	return e.HandleEvent(ctx, ev)
}

func (e *Engine) HandleEvent(ctx context.Context, ev Event) (Result, error) {
	result := Result{Event: ev, Outcome: NoOp}
	if !ev.HasIdentity() {
		e.recorder.ObserveReconcile(NoOp.String())
		return result, ErrNoIdentity
	}

	tenant, err := e.tenants.Resolve(ctx, ev.ExternalTenantID, ev.ExternalTenantName)
	if err != nil {
		e.recorder.ObserveReconcile("error")
		return result, err
	}
	result.Tenant = tenant

	person, outcome, err := e.reconciler.Reconcile(ctx, ev, tenant)
	if err != nil {
		e.recorder.ObserveReconcile("error")
		return result, err
	}
	result.Person = person
	result.Outcome = outcome
	e.recorder.ObserveReconcile(outcome.String())

	e.logger.Info("contact reconciled",
		zap.String("person_id", person.ID),
		zap.String("outcome", outcome.String()),
		zap.String("name_source", ev.NameSource.String()),
	)

	if (outcome == Created || outcome == Updated) && e.indexer != nil {
		e.indexer.IndexPerson(person)
	}
	// redeliveries re-send the idempotent field write
	e.scheduleBackSync(ctx, person)
	return result, nil
}

func (e *Engine) scheduleBackSync(ctx context.Context, person store.Person) {
	if e.backsync == nil || person.ExternalContactID == "" {
		return
	}
	detached := context.WithoutCancel(ctx)
	e.dispatch(func() {
		ctx, cancel := context.WithTimeout(detached, e.detached)
		defer cancel()
		// failures are logged and queued by the writer
		res, _ := e.backsync.WriteBack(ctx, person)
		e.recorder.ObserveBackSync(string(res))
	})
}
