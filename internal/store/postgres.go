package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/helanludovic-commits/middleware-journea/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) FindTenantByExternalID(ctx context.Context, externalID string) (Tenant, error) {
	var tenant Tenant
	var ext sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, created_at
		FROM tenants
		WHERE external_id = $1
	`, externalID).Scan(&tenant.ID, &ext, &tenant.Name, &tenant.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("find tenant: %w", err)
	}
	tenant.ExternalID = ext.String
	return tenant, nil
}

// CreateTenant inserts a tenant. A concurrent insert for the same external id
// surfaces as ErrAlreadyExists.
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant Tenant) (Tenant, error) {
	if tenant.ID == "" {
		tenant.ID = util.NewID("")
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tenants (id, external_id, name)
		VALUES ($1, NULLIF($2, ''), $3)
		RETURNING created_at
	`, tenant.ID, tenant.ExternalID, tenant.Name).Scan(&tenant.CreatedAt)
	if isUniqueViolation(err, "") {
		return Tenant{}, fmt.Errorf("insert tenant %s: %w", tenant.ExternalID, ErrAlreadyExists)
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	return tenant, nil
}

const personColumns = `id, email, external_contact_id, tenant_id, display_name, metadata, portal_credential_hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row rowScanner) (Person, error) {
	var (
		person    Person
		contactID sql.NullString
		tenantID  sql.NullString
		metadata  []byte
	)
	if err := row.Scan(
		&person.ID,
		&person.Email,
		&contactID,
		&tenantID,
		&person.DisplayName,
		&metadata,
		&person.PortalCredentialHash,
		&person.CreatedAt,
		&person.UpdatedAt,
	); err != nil {
		return Person{}, err
	}
	person.ExternalContactID = contactID.String
	person.TenantID = tenantID.String
	person.Metadata = map[string]string{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &person.Metadata); err != nil {
			return Person{}, fmt.Errorf("decode person metadata: %w", err)
		}
	}
	return person, nil
}

func (s *PostgresStore) FindPersonByEmail(ctx context.Context, email string) (Person, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM persons WHERE email = $1`, email)
	person, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Person{}, ErrNotFound
	}
	if err != nil {
		return Person{}, fmt.Errorf("find person: %w", err)
	}
	return person, nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, id string) (Person, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM persons WHERE id = $1`, id)
	person, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Person{}, ErrNotFound
	}
	if err != nil {
		return Person{}, fmt.Errorf("get person: %w", err)
	}
	return person, nil
}

// CreatePerson inserts a person. A concurrent insert for the same email
// surfaces as ErrAlreadyExists.
func (s *PostgresStore) CreatePerson(ctx context.Context, person Person) (Person, error) {
	if person.ID == "" {
		person.ID = util.NewID("")
	}
	metadata, err := json.Marshal(nonNilMetadata(person.Metadata))
	if err != nil {
		return Person{}, fmt.Errorf("encode person metadata: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO persons (id, email, external_contact_id, tenant_id, display_name, metadata, portal_credential_hash)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6::jsonb, $7)
		RETURNING `+personColumns,
		person.ID, person.Email, person.ExternalContactID, person.TenantID, person.DisplayName, string(metadata), person.PortalCredentialHash,
	)
	created, err := scanPerson(row)
	if isUniqueViolation(err, "persons_email_key") {
		return Person{}, fmt.Errorf("insert person: %w", ErrAlreadyExists)
	}
	if err != nil {
		return Person{}, fmt.Errorf("insert person: %w", err)
	}
	return created, nil
}

// UpdatePerson applies upd atomically: contact id and tenant are adopted with
// COALESCE so a concurrent writer can never replace a value already stored.
func (s *PostgresStore) UpdatePerson(ctx context.Context, id string, upd PersonUpdate) (Person, error) {
	metadata, err := json.Marshal(nonNilMetadata(upd.Metadata))
	if err != nil {
		return Person{}, fmt.Errorf("encode person metadata: %w", err)
	}
	setName := upd.DisplayName != nil
	name := ""
	if setName {
		name = *upd.DisplayName
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE persons SET
			external_contact_id = COALESCE(external_contact_id, NULLIF($2, '')),
			tenant_id           = COALESCE(tenant_id, NULLIF($3, '')),
			display_name        = CASE WHEN $4::boolean THEN $5 ELSE display_name END,
			metadata            = metadata || $6::jsonb,
			updated_at          = NOW()
		WHERE id = $1
		RETURNING `+personColumns,
		id, upd.ExternalContactID, upd.TenantID, setName, name, string(metadata),
	)
	updated, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Person{}, ErrNotFound
	}
	if err != nil {
		return Person{}, fmt.Errorf("update person: %w", err)
	}
	return updated, nil
}

// SearchPersons is the substring fallback used when the search index is down.
// The tenant filter applies before pagination; total counts every match.
func (s *PostgresStore) SearchPersons(ctx context.Context, q PersonQuery) ([]Person, int, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(q.Text)) + "%"
	const where = `WHERE (email ILIKE $1 OR display_name ILIKE $1) AND ($2 = '' OR tenant_id = $2)`

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM persons `+where, pattern, q.TenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count persons: %w", err)
	}

	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+personColumns+`
		FROM persons
		`+where+`
		ORDER BY updated_at DESC, email
		LIMIT $3 OFFSET $4
	`, pattern, q.TenantID, limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search persons: %w", err)
	}
	defer rows.Close()

	items := make([]Person, 0)
	for rows.Next() {
		person, err := scanPerson(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan person: %w", err)
		}
		items = append(items, person)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate persons: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) GetItinerary(ctx context.Context, id string) (Itinerary, error) {
	var (
		item          Itinerary
		personID      sql.NullString
		opportunityID sql.NullString
		content       []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, person_id, external_opportunity_id, content, revision, updated_at
		FROM itineraries
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Title, &personID, &opportunityID, &content, &item.Revision, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Itinerary{}, ErrNotFound
	}
	if err != nil {
		return Itinerary{}, fmt.Errorf("get itinerary: %w", err)
	}
	item.PersonID = personID.String
	item.ExternalOpportunityID = opportunityID.String
	item.Content = json.RawMessage(content)
	return item, nil
}

// CreateItinerary registers an itinerary before its first save. The content
// starts empty at revision 0.
func (s *PostgresStore) CreateItinerary(ctx context.Context, item Itinerary) (Itinerary, error) {
	if item.ID == "" {
		item.ID = util.NewID("itn")
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO itineraries (id, title, person_id, external_opportunity_id)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
		RETURNING revision, updated_at
	`, item.ID, item.Title, item.PersonID, item.ExternalOpportunityID).Scan(&item.Revision, &item.UpdatedAt)
	if isUniqueViolation(err, "itineraries_pkey") {
		return Itinerary{}, ErrAlreadyExists
	}
	if err != nil {
		return Itinerary{}, fmt.Errorf("create itinerary: %w", err)
	}
	item.Content = json.RawMessage("[]")
	return item, nil
}

// SaveItineraryContent writes content only when revision is newer than the
// stored one, creating the row on first save.
func (s *PostgresStore) SaveItineraryContent(ctx context.Context, id string, content json.RawMessage, revision int64) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO itineraries (id, content, revision)
		VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content, revision = EXCLUDED.revision, updated_at = NOW()
			WHERE itineraries.revision < EXCLUDED.revision
	`, id, string(content), revision)
	if err != nil {
		return fmt.Errorf("save itinerary content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save itinerary content: %w", err)
	}
	if affected == 0 {
		return ErrStaleRevision
	}
	return nil
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
