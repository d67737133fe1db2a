package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	mu         sync.Mutex
	reconciles []string
	backsyncs  []string
}

func (r *recorded) ObserveReconcile(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconciles = append(r.reconciles, outcome)
}

func (r *recorded) ObserveBackSync(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backsyncs = append(r.backsyncs, result)
}

type engineFixture struct {
	store    *countingStore
	crm      *fakeCRM
	indexer  *fakeIndexer
	recorder *recorded
	engine   *Engine
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		store:    newCountingStore(),
		crm:      &fakeCRM{},
		indexer:  &fakeIndexer{},
		recorder: &recorded{},
	}
	f.engine = NewEngine(
		NewTenantResolver(f.store, nil),
		NewReconciler(f.store, testCredential(), nil),
		NewBackSyncWriter(f.crm, "journea_person_id", nil, nil),
		EngineOptions{Indexer: f.indexer, Recorder: f.recorder, Dispatch: syncDispatch},
	)
	return f
}

func TestEngineFirstContactScenario(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	result, err := f.engine.Handle(ctx, []byte(`{"email":"j@x.com","contact_id":"c1","location":{"id":"loc1","name":"Agence X"}}`))
	require.NoError(t, err)
	assert.Equal(t, Created, result.Outcome)

	tenant, err := f.store.FindTenantByExternalID(ctx, "loc1")
	require.NoError(t, err)
	assert.Equal(t, "Agence X", tenant.Name)

	person, err := f.store.FindPersonByEmail(ctx, "j@x.com")
	require.NoError(t, err)
	assert.Equal(t, "c1", person.ExternalContactID)
	assert.Equal(t, tenant.ID, person.TenantID)

	assert.Equal(t, []crmCall{{ContactID: "c1", Key: "journea_person_id", Value: person.ID}}, f.crm.Calls())
	assert.Len(t, f.indexer.indexed, 1)
	assert.Equal(t, []string{"written"}, f.recorder.backsyncs)
}

func TestEngineReplayWithoutLocationKeepsTenant(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	_, err := f.engine.Handle(ctx, []byte(`{"email":"j@x.com","contact_id":"c1","location":{"id":"loc1","name":"Agence X"}}`))
	require.NoError(t, err)
	first, err := f.store.FindPersonByEmail(ctx, "j@x.com")
	require.NoError(t, err)

	result, err := f.engine.Handle(ctx, []byte(`{"email":"j@x.com","contact_id":"c1"}`))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, result.Outcome)
	assert.Equal(t, first.TenantID, result.Person.TenantID)

	result, err = f.engine.Handle(ctx, []byte(`{"email":"j@x.com","contact_id":"c1","first_name":"Jean"}`))
	require.NoError(t, err)
	assert.Equal(t, Updated, result.Outcome)
	assert.Equal(t, first.TenantID, result.Person.TenantID)
	assert.Equal(t, "Jean", result.Person.DisplayName)
}

func TestEngineNoEmailIsAcknowledgedWithoutWrites(t *testing.T) {
	f := newEngineFixture()

	result, err := f.engine.Handle(context.Background(), []byte(`{"contact_id":"c1","location":{"id":"loc1"}}`))
	assert.True(t, errors.Is(err, ErrNoIdentity))
	assert.Equal(t, NoOp, result.Outcome)
	assert.Zero(t, f.store.writes.Load())
	assert.Empty(t, f.crm.Calls())
}

func TestEngineMalformedPayload(t *testing.T) {
	f := newEngineFixture()
	_, err := f.engine.Handle(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Equal(t, []string{"malformed"}, f.recorder.reconciles)
}

func TestEngineBackSyncFailureDoesNotFailReconcile(t *testing.T) {
	f := newEngineFixture()
	f.crm.err = errors.New("crm unavailable")

	result, err := f.engine.Handle(context.Background(), []byte(`{"email":"a@b.c","contact_id":"c1"}`))
	require.NoError(t, err)
	assert.Equal(t, Created, result.Outcome)
	assert.Equal(t, []string{"failed"}, f.recorder.backsyncs)
}

func TestEngineBackSyncOutlivesRequestContext(t *testing.T) {
	f := newEngineFixture()
	var pending func()
	f.engine.dispatch = func(fn func()) { pending = fn }

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.engine.Handle(ctx, []byte(`{"email":"a@b.c","contact_id":"c1"}`))
	require.NoError(t, err)
	cancel()

	require.NotNil(t, pending)
	pending()
	assert.Len(t, f.crm.Calls(), 1)
	assert.Equal(t, []string{"written"}, f.recorder.backsyncs)
}

func TestEngineRedeliveryRetriesFailedBackSync(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	payload := []byte(`{"email":"a@b.c","contact_id":"c1"}`)

	f.crm.err = errors.New("crm unavailable")
	_, err := f.engine.Handle(ctx, payload)
	require.NoError(t, err)

	f.crm.err = nil
	result, err := f.engine.Handle(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, result.Outcome)

	calls := f.crm.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, crmCall{ContactID: "c1", Key: "journea_person_id", Value: result.Person.ID}, calls[1])
	assert.Equal(t, []string{"failed", "written"}, f.recorder.backsyncs)
	assert.Len(t, f.indexer.indexed, 1)
}
