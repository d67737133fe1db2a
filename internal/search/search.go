package search

import (
	"context"

	"github.com/helanludovic-commits/middleware-journea/internal/store"
)

// ClientRecord is what we index for a person.
type ClientRecord struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	DisplayName       string `json:"displayName"`
	Phone             string `json:"phone,omitempty"`
	TenantID          string `json:"tenantId,omitempty"`
	ExternalContactID string `json:"externalContactId,omitempty"`
}

// Result is a single directory hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phone,omitempty"`
	TenantID    string `json:"tenantId,omitempty"`
}

// Query describes a directory search.
type Query struct {
	Text     string
	TenantID string // empty = all tenants
	Limit    int
	Offset   int
}

// Response is the envelope returned by the clients endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// PersonSearcher is the Postgres substring fallback.
type PersonSearcher interface {
	SearchPersons(ctx context.Context, q store.PersonQuery) ([]store.Person, int, error)
}

func RecordFromPerson(p store.Person) ClientRecord {
	return ClientRecord{
		ID:                p.ID,
		Email:             p.Email,
		DisplayName:       p.DisplayName,
		Phone:             p.Metadata["phone"],
		TenantID:          p.TenantID,
		ExternalContactID: p.ExternalContactID,
	}
}

func resultFromPerson(p store.Person) Result {
	return Result{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Phone:       p.Metadata["phone"],
		TenantID:    p.TenantID,
	}
}
