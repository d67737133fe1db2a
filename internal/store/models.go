package store

import (
	"encoding/json"
	"time"
)

// Tenant is a partner agency, keyed externally by the CRM location id.
type Tenant struct {
	ID         string
	ExternalID string
	Name       string
	CreatedAt  time.Time
}

// Person is a client record, keyed by normalized email.
type Person struct {
	ID                   string
	Email                string
	ExternalContactID    string
	TenantID             string
	DisplayName          string
	Metadata             map[string]string
	PortalCredentialHash string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PersonUpdate describes a merge onto an existing Person.
//
// ExternalContactID and TenantID are only adopted when the stored value is
// empty. DisplayName overwrites when non-nil. Metadata keys overwrite the
// stored keys with the same name; other stored keys are kept.
type PersonUpdate struct {
	ExternalContactID string
	TenantID          string
	DisplayName       *string
	Metadata          map[string]string
}

// PersonQuery filters the substring search. An empty TenantID matches every
// tenant. Limit <= 0 means no limit.
type PersonQuery struct {
	Text     string
	TenantID string
	Limit    int
	Offset   int
}

// Itinerary holds the editor document persisted by the save-state coordinator.
type Itinerary struct {
	ID                    string
	Title                 string
	PersonID              string
	ExternalOpportunityID string
	Content               json.RawMessage
	Revision              int64
	UpdatedAt             time.Time
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mergeMetadata(current, incoming map[string]string) map[string]string {
	merged := copyMetadata(current)
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}
