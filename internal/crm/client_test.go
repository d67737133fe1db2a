package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateContactFieldSendsVersionedBearerRequest(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotHeader http.Header
		gotBody   customFieldsBody
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotHeader = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"contact":{}}`))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL + "/", APIKey: "secret"})
	require.NoError(t, client.UpdateContactField(context.Background(), "c1", "journea_person_id", "p-1"))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/contacts/c1", gotPath)
	assert.Equal(t, "Bearer secret", gotHeader.Get("Authorization"))
	assert.Equal(t, DefaultAPIVersion, gotHeader.Get("Version"))
	assert.Equal(t, []Field{{Key: "journea_person_id", Value: "p-1"}}, gotBody.CustomFields)
}

func TestUpdateOpportunityFieldPath(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, APIKey: "k"})
	require.NoError(t, client.UpdateOpportunityField(context.Background(), "opp-9", "itinerary_link", "https://x"))
	assert.Equal(t, "/opportunities/opp-9", gotPath)
}

func TestUpdateContactFieldReturnsAPIError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"bad field"}`))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, APIKey: "k"})
	err := client.UpdateContactField(context.Background(), "c1", "k", "v")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Contains(t, apiErr.Body, "bad field")
	assert.Equal(t, 1, calls, "client must not retry")
}

func TestUpdateContactFieldHonorsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(ClientOptions{BaseURL: server.URL, APIKey: "k", Timeout: 50 * time.Millisecond})
	start := time.Now()
	err := client.UpdateContactField(context.Background(), "c1", "k", "v")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestUpdateContactFieldRequiresIDAndKey(t *testing.T) {
	client := NewClient(ClientOptions{APIKey: "k"})
	assert.Error(t, client.UpdateContactField(context.Background(), " ", "k", "v"))

	client = NewClient(ClientOptions{})
	assert.Error(t, client.UpdateContactField(context.Background(), "c1", "k", "v"))
}

func TestUpdateContactFieldsSendsOneRequest(t *testing.T) {
	calls := 0
	var gotBody customFieldsBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/contacts/c1", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, APIKey: "k"})
	fields := []Field{{Key: "itinerary_id", Value: "it-1"}, {Key: "itinerary_title", Value: "Azores"}}
	require.NoError(t, client.UpdateContactFields(context.Background(), "c1", fields))
	assert.Equal(t, 1, calls)
	assert.Equal(t, fields, gotBody.CustomFields)

	assert.Error(t, client.UpdateContactFields(context.Background(), "c1", nil))
	assert.Equal(t, 1, calls)
}
