package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/helanludovic-commits/middleware-journea/internal/store"
)

// Outcome describes what Reconcile did to the identity store.
type Outcome int

const (
	NoOp Outcome = iota
	Created
	Updated
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	default:
		return "noop"
	}
}

type PersonStore interface {
	FindPersonByEmail(ctx context.Context, email string) (store.Person, error)
	CreatePerson(ctx context.Context, person store.Person) (store.Person, error)
	UpdatePerson(ctx context.Context, id string, upd store.PersonUpdate) (store.Person, error)
}

// Reconciler finds or creates exactly one Person per normalized email and
// merges event attributes onto it.
type Reconciler struct {
	store      PersonStore
	credential CredentialIssuer
	logger     *zap.Logger
}

func NewReconciler(persons PersonStore, credential CredentialIssuer, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: persons, credential: credential, logger: logger}
}

// Reconcile applies ev to the identity store. tenant may be nil. An event
// without email returns NoOp and touches nothing.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event, tenant *store.Tenant) (store.Person, Outcome, error) {
	email := NormalizeEmail(ev.Email)
	if email == "" {
		return store.Person{}, NoOp, nil
	}
	ev.Email = email

	existing, err := r.store.FindPersonByEmail(ctx, email)
	if err == nil {
		return r.merge(ctx, existing, ev, tenant)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Person{}, NoOp, fmt.Errorf("%w: find person: %w", ErrStorage, err)
	}

	created, err := r.create(ctx, ev, tenant)
	if err == nil {
		r.logger.Info("person created",
			zap.String("person_id", created.ID),
			zap.String("external_contact_id", created.ExternalContactID),
			zap.String("tenant_id", created.TenantID),
		)
		return created, Created, nil
	}
	if errors.Is(err, ErrCredential) {
		return store.Person{}, NoOp, err
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return store.Person{}, NoOp, fmt.Errorf("%w: create person: %w", ErrStorage, err)
	}

	// a concurrent delivery created the row first; merge onto the winner
	existing, err = r.store.FindPersonByEmail(ctx, email)
	if err != nil {
		return store.Person{}, NoOp, fmt.Errorf("%w: re-read person: %w", ErrStorage, err)
	}
	return r.merge(ctx, existing, ev, tenant)
}

func (r *Reconciler) create(ctx context.Context, ev Event, tenant *store.Tenant) (store.Person, error) {
	person := store.Person{
		Email:             ev.Email,
		ExternalContactID: ev.ExternalContactID,
		DisplayName:       ev.DisplayName,
		Metadata:          ev.Metadata,
	}
	if tenant != nil {
		person.TenantID = tenant.ID
	}
	if r.credential != nil {
		hash, err := r.credential()
		if err != nil {
			return store.Person{}, fmt.Errorf("%w: %w", ErrCredential, err)
		}
		person.PortalCredentialHash = hash
	}
	return r.store.CreatePerson(ctx, person)
}

func (r *Reconciler) merge(ctx context.Context, existing store.Person, ev Event, tenant *store.Tenant) (store.Person, Outcome, error) {
	upd, changed := r.diff(existing, ev, tenant)
	if !changed {
		return existing, Unchanged, nil
	}
	updated, err := r.store.UpdatePerson(ctx, existing.ID, upd)
	if err != nil {
		return store.Person{}, NoOp, fmt.Errorf("%w: update person: %w", ErrStorage, err)
	}
	return updated, Updated, nil
}

// diff builds the update that brings existing in line with ev and reports
// whether any stored field would change.
func (r *Reconciler) diff(existing store.Person, ev Event, tenant *store.Tenant) (store.PersonUpdate, bool) {
	var upd store.PersonUpdate
	changed := false

	if ev.ExternalContactID != "" {
		switch existing.ExternalContactID {
		case "":
			upd.ExternalContactID = ev.ExternalContactID
			changed = true
		case ev.ExternalContactID:
		default:
			r.logger.Info("person already linked to another contact",
				zap.String("person_id", existing.ID),
				zap.String("stored_contact_id", existing.ExternalContactID),
				zap.String("event_contact_id", ev.ExternalContactID),
			)
		}
	}

	if tenant != nil {
		switch existing.TenantID {
		case "":
			upd.TenantID = tenant.ID
			changed = true
		case tenant.ID:
		default:
			r.logger.Warn("ignoring tenant reassignment",
				zap.String("person_id", existing.ID),
				zap.String("stored_tenant_id", existing.TenantID),
				zap.String("event_tenant_id", tenant.ID),
			)
		}
	}

	if ev.DisplayName != "" && ev.DisplayName != existing.DisplayName {
		// an email-derived name is a placeholder and never replaces a real one
		if ev.NameSource != NameFromEmail || existing.DisplayName == "" {
			name := ev.DisplayName
			upd.DisplayName = &name
			changed = true
		}
	}

	for key, value := range ev.Metadata {
		if current, ok := existing.Metadata[key]; !ok || current != value {
			if upd.Metadata == nil {
				upd.Metadata = make(map[string]string, len(ev.Metadata))
			}
			upd.Metadata[key] = value
			changed = true
		}
	}
	return upd, changed
}
