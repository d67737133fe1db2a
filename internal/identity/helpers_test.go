package identity

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/helanludovic-commits/middleware-journea/internal/retryqueue"
	"github.com/helanludovic-commits/middleware-journea/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// countingStore wraps MemoryStore and counts every write.
type countingStore struct {
	*store.MemoryStore
	writes atomic.Int64
	reads  atomic.Int64
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *countingStore) FindPersonByEmail(ctx context.Context, email string) (store.Person, error) {
	s.reads.Add(1)
	return s.MemoryStore.FindPersonByEmail(ctx, email)
}

func (s *countingStore) CreatePerson(ctx context.Context, p store.Person) (store.Person, error) {
	s.writes.Add(1)
	return s.MemoryStore.CreatePerson(ctx, p)
}

func (s *countingStore) UpdatePerson(ctx context.Context, id string, upd store.PersonUpdate) (store.Person, error) {
	s.writes.Add(1)
	return s.MemoryStore.UpdatePerson(ctx, id, upd)
}

func (s *countingStore) CreateTenant(ctx context.Context, t store.Tenant) (store.Tenant, error) {
	s.writes.Add(1)
	return s.MemoryStore.CreateTenant(ctx, t)
}

type crmCall struct {
	ContactID string
	Key       string
	Value     string
}

type fakeCRM struct {
	mu    sync.Mutex
	calls []crmCall
	err   error
}

func (f *fakeCRM) UpdateContactField(ctx context.Context, contactID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, crmCall{ContactID: contactID, Key: key, Value: value})
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.err
}

func (f *fakeCRM) Calls() []crmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crmCall(nil), f.calls...)
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []retryqueue.Job
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, job retryqueue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []store.Person
}

func (f *fakeIndexer) IndexPerson(p store.Person) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, p)
}

func testCredential() CredentialIssuer {
	return NewCredentialIssuer(bcrypt.MinCost)
}

func syncDispatch(fn func()) { fn() }
