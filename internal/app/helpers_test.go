package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/helanludovic-commits/middleware-journea/internal/config"
	"github.com/helanludovic-commits/middleware-journea/internal/crm"
	"github.com/helanludovic-commits/middleware-journea/internal/identity"
	"github.com/helanludovic-commits/middleware-journea/internal/savestate"
	"github.com/helanludovic-commits/middleware-journea/internal/search"
	"github.com/helanludovic-commits/middleware-journea/internal/store"
)

// testStore lets a test fail individual store operations.
type testStore struct {
	*store.MemoryStore
	pingErr   error
	lookupErr error
}

func (s *testStore) Ping(ctx context.Context) error {
	if s.pingErr != nil {
		return s.pingErr
	}
	return s.MemoryStore.Ping(ctx)
}

func (s *testStore) FindPersonByEmail(ctx context.Context, email string) (store.Person, error) {
	if s.lookupErr != nil {
		return store.Person{}, s.lookupErr
	}
	return s.MemoryStore.FindPersonByEmail(ctx, email)
}

type fakeCRM struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeCRM) UpdateOpportunityField(_ context.Context, opportunityID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opportunityID+"|"+key+"|"+value)
	return f.err
}

func (f *fakeCRM) UpdateContactFields(_ context.Context, contactID string, fields []crm.Field) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, field := range fields {
		f.calls = append(f.calls, contactID+"|"+field.Key+"|"+field.Value)
	}
	return f.err
}

// flakyRemote wraps the store-backed sink and fails saves while err is set.
type flakyRemote struct {
	*savestate.StoreSink
	mu  sync.Mutex
	err error
}

func (f *flakyRemote) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *flakyRemote) SaveContent(ctx context.Context, docID string, content []byte, revision int64) error {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.StoreSink.SaveContent(ctx, docID, content, revision)
}

type fakeMetrics struct {
	mu       sync.Mutex
	routes   []string
	openDocs int
}

func (f *fakeMetrics) RecordHTTPRequest(method, route string, statusCode int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, method+" "+route)
}

func (f *fakeMetrics) SetOpenDocuments(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openDocs = n
}

type fixture struct {
	store    *testStore
	remote   *flakyRemote
	crm      *fakeCRM
	metrics  *fakeMetrics
	registry *savestate.Registry
	service  *Service
	server   *HTTPServer
}

var errBoom = errors.New("boom")

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	st := &testStore{MemoryStore: store.NewMemoryStore()}
	f := &fixture{
		store:   st,
		remote:  &flakyRemote{StoreSink: savestate.NewStoreSink(st)},
		crm:     &fakeCRM{},
		metrics: &fakeMetrics{},
	}
	// timers never fire during a test; saves happen through the API
	f.registry = savestate.NewRegistry(nil, f.remote, savestate.Options{
		QuietPeriod: time.Hour,
		Ceiling:     time.Hour,
	})
	engine := identity.NewEngine(
		identity.NewTenantResolver(st, nil),
		identity.NewReconciler(st, nil, nil),
		nil,
		identity.EngineOptions{},
	)
	if cfg.CRMOpportunityLinkField == "" {
		cfg.CRMOpportunityLinkField = "itinerary_link"
	}
	f.service = New(cfg, Dependencies{
		Store:         st,
		Engine:        engine,
		Documents:     f.registry,
		Search:        search.NewService(nil, st, nil),
		CRM:           f.crm,
		OpenDocuments: f.metrics,
	})
	f.server = NewHTTPServer(f.service, ServerOptions{
		CORSOrigin:     "*",
		Metrics:        f.metrics,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
	})
	t.Cleanup(func() { _ = f.registry.CloseAll(context.Background()) })
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	return rr
}

func (f *fixture) createItinerary(t *testing.T, item store.Itinerary) store.Itinerary {
	t.Helper()
	created, err := f.store.CreateItinerary(context.Background(), item)
	if err != nil {
		t.Fatalf("CreateItinerary() error = %v", err)
	}
	return created
}
