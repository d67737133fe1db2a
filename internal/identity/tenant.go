package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/helanludovic-commits/middleware-journea/internal/store"
)

type TenantStore interface {
	FindTenantByExternalID(ctx context.Context, externalID string) (store.Tenant, error)
	CreateTenant(ctx context.Context, tenant store.Tenant) (store.Tenant, error)
}

// TenantResolver maps an external location id onto a Tenant, creating it on
// first sight. Tenants are never modified once stored, so hits are cached.
type TenantResolver struct {
	store  TenantStore
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]store.Tenant
}

func NewTenantResolver(tenants TenantStore, logger *zap.Logger) *TenantResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantResolver{
		store:  tenants,
		logger: logger,
		cache:  make(map[string]store.Tenant),
	}
}

// Resolve returns nil without error when externalID is empty.
func (r *TenantResolver) Resolve(ctx context.Context, externalID, name string) (*store.Tenant, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, nil
	}
	if tenant, ok := r.cached(externalID); ok {
		return &tenant, nil
	}

	tenant, err := r.store.FindTenantByExternalID(ctx, externalID)
	switch {
	case err == nil:
		return r.remember(tenant), nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: find tenant %s: %w", ErrStorage, externalID, err)
	}

	tenant, err = r.store.CreateTenant(ctx, store.Tenant{
		ExternalID: externalID,
		Name:       strings.TrimSpace(name),
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		// lost the race; the winner's row is authoritative
		tenant, err = r.store.FindTenantByExternalID(ctx, externalID)
		if err != nil {
			return nil, fmt.Errorf("%w: re-read tenant %s: %w", ErrStorage, externalID, err)
		}
		return r.remember(tenant), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: create tenant %s: %w", ErrStorage, externalID, err)
	}
	r.logger.Info("tenant created",
		zap.String("tenant_id", tenant.ID),
		zap.String("external_id", externalID),
	)
	return r.remember(tenant), nil
}

func (r *TenantResolver) cached(externalID string) (store.Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenant, ok := r.cache[externalID]
	return tenant, ok
}

func (r *TenantResolver) remember(tenant store.Tenant) *store.Tenant {
	r.mu.Lock()
	r.cache[tenant.ExternalID] = tenant
	r.mu.Unlock()
	return &tenant
}
