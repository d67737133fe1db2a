package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helanludovic-commits/middleware-journea/internal/store"
)

type errSearcher struct{}

func (errSearcher) SearchPersons(context.Context, store.PersonQuery) ([]store.Person, int, error) {
	return nil, 0, errors.New("db down")
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	for _, p := range []store.Person{
		{Email: "ada@example.com", DisplayName: "Ada Lovelace", TenantID: "t1", Metadata: map[string]string{"phone": "+44"}},
		{Email: "grace@example.com", DisplayName: "Grace Hopper", TenantID: "t2"},
	} {
		_, err := s.CreatePerson(context.Background(), p)
		require.NoError(t, err)
	}
	return s
}

func TestSearchFallsBackWithoutMeili(t *testing.T) {
	svc := NewService(nil, seededStore(t), nil)

	resp := svc.Search(context.Background(), Query{Text: " ada "})
	assert.Equal(t, "postgres", resp.Source)
	assert.Equal(t, "ada", resp.Query)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Ada Lovelace", resp.Results[0].DisplayName)
	assert.Equal(t, "+44", resp.Results[0].Phone)
}

func TestSearchFallsBackWhenMeiliUnhealthy(t *testing.T) {
	m := &Meili{done: make(chan struct{})}
	svc := NewService(m, seededStore(t), nil)

	resp := svc.Search(context.Background(), Query{Text: "example.com", TenantID: "t2"})
	assert.Equal(t, "postgres", resp.Source)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "grace@example.com", resp.Results[0].Email)
}

func TestSearchFallbackPaginatesWithinTenant(t *testing.T) {
	s := store.NewMemoryStore()
	for _, p := range []store.Person{
		{Email: "grace@example.com", TenantID: "t2"},
		{Email: "a@example.com", TenantID: "t1"},
		{Email: "b@example.com", TenantID: "t1"},
		{Email: "c@example.com", TenantID: "t1"},
	} {
		_, err := s.CreatePerson(context.Background(), p)
		require.NoError(t, err)
	}
	svc := NewService(nil, s, nil)

	resp := svc.Search(context.Background(), Query{TenantID: "t2", Limit: 2})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "grace@example.com", resp.Results[0].Email)
	assert.Equal(t, 1, resp.Total)

	resp = svc.Search(context.Background(), Query{TenantID: "t1", Limit: 2})
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, 3, resp.Total)
}

func TestSearchFallbackErrorReturnsEmptyResults(t *testing.T) {
	resp := NewService(nil, errSearcher{}, nil).Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestIndexPersonWithoutMeiliIsNoop(t *testing.T) {
	svc := NewService(nil, seededStore(t), nil)
	svc.IndexPerson(store.Person{ID: "p1"})
	n, err := svc.Reindex(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":          json.RawMessage(`"p1"`),
		"email":       json.RawMessage(`"a@b.c"`),
		"displayName": json.RawMessage(`" Ann "`),
		"tenantId":    json.RawMessage(`42`),
	}
	got := hitToResult(hit)
	assert.Equal(t, Result{ID: "p1", Email: "a@b.c", DisplayName: "Ann"}, got)
}

func TestRecordFromPerson(t *testing.T) {
	rec := RecordFromPerson(store.Person{
		ID: "p1", Email: "a@b.c", DisplayName: "A", TenantID: "t1", ExternalContactID: "c1",
		Metadata: map[string]string{"phone": "1"},
	})
	assert.Equal(t, ClientRecord{ID: "p1", Email: "a@b.c", DisplayName: "A", Phone: "1", TenantID: "t1", ExternalContactID: "c1"}, rec)
}
