package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/helanludovic-commits/middleware-journea/internal/util"
)

// MemoryStore keeps everything in process. It enforces the same uniqueness
// and adoption rules as PostgresStore and backs memory:// deployments and tests.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	tenants     map[string]Tenant // by external id
	persons     map[string]Person // by id
	emails      map[string]string // email -> person id
	itineraries map[string]Itinerary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         func() time.Time { return time.Now().UTC() },
		tenants:     map[string]Tenant{},
		persons:     map[string]Person{},
		emails:      map[string]string{},
		itineraries: map[string]Itinerary{},
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) FindTenantByExternalID(_ context.Context, externalID string) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[externalID]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return tenant, nil
}

func (s *MemoryStore) CreateTenant(_ context.Context, tenant Tenant) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenant.ExternalID]; ok {
		return Tenant{}, ErrAlreadyExists
	}
	if tenant.ID == "" {
		tenant.ID = util.NewID("")
	}
	tenant.CreatedAt = s.now()
	s.tenants[tenant.ExternalID] = tenant
	return tenant, nil
}

func (s *MemoryStore) FindPersonByEmail(_ context.Context, email string) (Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[email]
	if !ok {
		return Person{}, ErrNotFound
	}
	return clonePerson(s.persons[id]), nil
}

func (s *MemoryStore) GetPerson(_ context.Context, id string) (Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	person, ok := s.persons[id]
	if !ok {
		return Person{}, ErrNotFound
	}
	return clonePerson(person), nil
}

func (s *MemoryStore) CreatePerson(_ context.Context, person Person) (Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[person.Email]; ok {
		return Person{}, ErrAlreadyExists
	}
	if person.ID == "" {
		person.ID = util.NewID("")
	}
	now := s.now()
	person.CreatedAt = now
	person.UpdatedAt = now
	person.Metadata = copyMetadata(person.Metadata)
	s.persons[person.ID] = person
	s.emails[person.Email] = person.ID
	return clonePerson(person), nil
}

func (s *MemoryStore) UpdatePerson(_ context.Context, id string, upd PersonUpdate) (Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	person, ok := s.persons[id]
	if !ok {
		return Person{}, ErrNotFound
	}
	if person.ExternalContactID == "" {
		person.ExternalContactID = upd.ExternalContactID
	}
	if person.TenantID == "" {
		person.TenantID = upd.TenantID
	}
	if upd.DisplayName != nil {
		person.DisplayName = *upd.DisplayName
	}
	person.Metadata = mergeMetadata(person.Metadata, upd.Metadata)
	person.UpdatedAt = s.now()
	s.persons[id] = person
	return clonePerson(person), nil
}

func (s *MemoryStore) SearchPersons(_ context.Context, q PersonQuery) ([]Person, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	matches := make([]Person, 0)
	for _, person := range s.persons {
		if q.TenantID != "" && person.TenantID != q.TenantID {
			continue
		}
		if strings.Contains(strings.ToLower(person.Email), needle) ||
			strings.Contains(strings.ToLower(person.DisplayName), needle) {
			matches = append(matches, clonePerson(person))
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].Email < matches[j].Email
		}
		return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
	})
	total := len(matches)
	if q.Offset >= total {
		return []Person{}, total, nil
	}
	if q.Offset > 0 {
		matches = matches[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(matches) {
		matches = matches[:q.Limit]
	}
	return matches, total, nil
}

func (s *MemoryStore) GetItinerary(_ context.Context, id string) (Itinerary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.itineraries[id]
	if !ok {
		return Itinerary{}, ErrNotFound
	}
	item.Content = append(json.RawMessage(nil), item.Content...)
	return item, nil
}

func (s *MemoryStore) CreateItinerary(_ context.Context, item Itinerary) (Itinerary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = util.NewID("itn")
	}
	if _, ok := s.itineraries[item.ID]; ok {
		return Itinerary{}, ErrAlreadyExists
	}
	item.Content = json.RawMessage("[]")
	item.Revision = 0
	item.UpdatedAt = s.now()
	s.itineraries[item.ID] = item
	return item, nil
}

func (s *MemoryStore) SaveItineraryContent(_ context.Context, id string, content json.RawMessage, revision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.itineraries[id]
	if ok && item.Revision >= revision {
		return ErrStaleRevision
	}
	if !ok {
		item = Itinerary{ID: id}
	}
	item.Content = append(json.RawMessage(nil), content...)
	item.Revision = revision
	item.UpdatedAt = s.now()
	s.itineraries[id] = item
	return nil
}

func clonePerson(p Person) Person {
	p.Metadata = copyMetadata(p.Metadata)
	return p
}
