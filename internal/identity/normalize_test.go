package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeExtractsCanonicalFields(t *testing.T) {
	ev, err := Normalize([]byte(`{
		"email": " J@X.com ",
		"contact_id": "c1",
		"location": {"id": "loc1", "name": "Agence X"},
		"first_name": "Jean",
		"last_name": "Dupont",
		"phone": "+33 6"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "j@x.com", ev.Email)
	assert.Equal(t, "c1", ev.ExternalContactID)
	assert.Equal(t, "loc1", ev.ExternalTenantID)
	assert.Equal(t, "Agence X", ev.ExternalTenantName)
	assert.Equal(t, "Jean Dupont", ev.DisplayName)
	assert.Equal(t, NameFromParts, ev.NameSource)
	assert.Equal(t, map[string]string{
		"first_name": "Jean",
		"last_name":  "Dupont",
		"phone":      "+33 6",
	}, ev.Metadata)
	assert.True(t, ev.HasIdentity())
}

func TestNormalizeFieldPriority(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, ev Event)
	}{
		{
			name:    "contact_id beats id",
			payload: `{"email":"a@b.c","id":"generic","contact_id":"specific"}`,
			check:   func(t *testing.T, ev Event) { assert.Equal(t, "specific", ev.ExternalContactID) },
		},
		{
			name:    "camel case contact id beats id",
			payload: `{"email":"a@b.c","id":"generic","contactId":"camel"}`,
			check:   func(t *testing.T, ev Event) { assert.Equal(t, "camel", ev.ExternalContactID) },
		},
		{
			name:    "id used when nothing else",
			payload: `{"email":"a@b.c","id":"generic"}`,
			check:   func(t *testing.T, ev Event) { assert.Equal(t, "generic", ev.ExternalContactID) },
		},
		{
			name:    "nested contact",
			payload: `{"contact":{"email":"N@B.C","id":"nested","firstName":"Ann"}}`,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, "n@b.c", ev.Email)
				assert.Equal(t, "nested", ev.ExternalContactID)
				assert.Equal(t, "Ann", ev.DisplayName)
			},
		},
		{
			name:    "numeric ids become decimal strings",
			payload: `{"email":"a@b.c","contact_id":12345678901,"location_id":42}`,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, "12345678901", ev.ExternalContactID)
				assert.Equal(t, "42", ev.ExternalTenantID)
			},
		},
		{
			name:    "location object beats flat location id",
			payload: `{"email":"a@b.c","location":{"id":"obj"},"location_id":"flat","locationName":"Flat Name"}`,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, "obj", ev.ExternalTenantID)
				assert.Equal(t, "Flat Name", ev.ExternalTenantName)
			},
		},
		{
			name:    "blank higher priority value falls through",
			payload: `{"email":"a@b.c","contact_id":"  ","id":"fallback"}`,
			check:   func(t *testing.T, ev Event) { assert.Equal(t, "fallback", ev.ExternalContactID) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Normalize([]byte(tt.payload))
			require.NoError(t, err)
			tt.check(t, ev)
		})
	}
}

func TestNormalizeNamePrecedence(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantName   string
		wantSource NameSource
	}{
		{"combined field wins", `{"email":"a@b.c","full_name":"Full","first_name":"F","last_name":"L"}`, "Full", NameFromField},
		{"camel full name", `{"email":"a@b.c","fullName":"Camel"}`, "Camel", NameFromField},
		{"plain name", `{"email":"a@b.c","name":"Plain"}`, "Plain", NameFromField},
		{"first only", `{"email":"a@b.c","first_name":"First"}`, "First", NameFromParts},
		{"last only", `{"email":"a@b.c","lastName":"Last"}`, "Last", NameFromParts},
		{"email local part", `{"email":"Jo.Smith@b.c"}`, "jo.smith", NameFromEmail},
		{"nothing", `{"contact_id":"c1"}`, "", NameNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Normalize([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, ev.DisplayName)
			assert.Equal(t, tt.wantSource, ev.NameSource)
		})
	}
}

func TestNormalizeMissingEmailIsNotAnError(t *testing.T) {
	ev, err := Normalize([]byte(`{"contact_id":"c1","first_name":"Ann"}`))
	require.NoError(t, err)
	assert.False(t, ev.HasIdentity())
	assert.Equal(t, "c1", ev.ExternalContactID)
}

func TestNormalizeRejectsMalformedPayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"invalid json":     `{"email":`,
		"array":            `[{"email":"a@b.c"}]`,
		"string":           `"a@b.c"`,
		"numeric email":    `{"email": 12}`,
		"email without at": `{"email":"nobody"}`,
		"object email":     `{"contact":{"email":{"value":"a@b.c"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize([]byte(payload))
			assert.True(t, errors.Is(err, ErrMalformedEvent), "got %v", err)
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@example.com", NormalizeEmail("A@Example.com "))
	assert.Equal(t, NormalizeEmail("a@example.com"), NormalizeEmail("\tA@EXAMPLE.COM"))
	assert.Equal(t, "", NormalizeEmail("   "))
}
