package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/helanludovic-commits/middleware-journea/internal/app"
	"github.com/helanludovic-commits/middleware-journea/internal/config"
	"github.com/helanludovic-commits/middleware-journea/internal/crm"
	"github.com/helanludovic-commits/middleware-journea/internal/identity"
	"github.com/helanludovic-commits/middleware-journea/internal/localcache"
	"github.com/helanludovic-commits/middleware-journea/internal/metrics"
	"github.com/helanludovic-commits/middleware-journea/internal/objectstore"
	"github.com/helanludovic-commits/middleware-journea/internal/retryqueue"
	"github.com/helanludovic-commits/middleware-journea/internal/savestate"
	"github.com/helanludovic-commits/middleware-journea/internal/search"
	"github.com/helanludovic-commits/middleware-journea/internal/store"
)

// backend is satisfied by both store.PostgresStore and store.MemoryStore.
type backend interface {
	identity.TenantStore
	identity.PersonStore
	Ping(ctx context.Context) error
	GetPerson(ctx context.Context, id string) (store.Person, error)
	SearchPersons(ctx context.Context, q store.PersonQuery) ([]store.Person, int, error)
	GetItinerary(ctx context.Context, id string) (store.Itinerary, error)
	CreateItinerary(ctx context.Context, item store.Itinerary) (store.Itinerary, error)
	SaveItineraryContent(ctx context.Context, id string, content json.RawMessage, revision int64) error
}

type runtimeOptions struct {
	// Dispatch overrides how the engine runs back-sync. nil means a goroutine.
	Dispatch func(func())
}

type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	db       *sql.DB
	store    backend
	metrics  *metrics.Metrics
	crm      *crm.Client
	queue    *retryqueue.Queue
	backsync *identity.BackSyncWriter
	meili    *search.Meili
	search   *search.Service
	cache    *localcache.Cache
	registry *savestate.Registry
	engine   *identity.Engine
	service  *app.Service

	closers []func()
}

func buildRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger, opts runtimeOptions) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if err := rt.openStore(ctx); err != nil {
		return nil, err
	}
	if err := rt.openBackSync(); err != nil {
		return nil, err
	}
	rt.openSearch()
	if err := rt.openDocuments(ctx); err != nil {
		return nil, err
	}

	reconciler := identity.NewReconciler(rt.store, identity.NewCredentialIssuer(0), logger)
	rt.engine = identity.NewEngine(
		identity.NewTenantResolver(rt.store, logger),
		reconciler,
		rt.backsync,
		identity.EngineOptions{
			Logger:          logger,
			Indexer:         rt.search,
			Recorder:        rt.metrics,
			Dispatch:        opts.Dispatch,
			DetachedTimeout: cfg.CRMTimeout * 2,
		},
	)

	deps := app.Dependencies{
		Store:         rt.store,
		Engine:        rt.engine,
		Documents:     rt.registry,
		Search:        rt.search,
		OpenDocuments: rt.metrics,
		Logger:        logger,
	}
	if rt.crm != nil {
		deps.CRM = rt.crm
	}
	rt.service = app.New(cfg, deps)
	return rt, nil
}

func (rt *runtime) openStore(ctx context.Context) error {
	if rt.cfg.UsesMemoryStore() {
		rt.logger.Warn("using in-memory store; data is lost on exit")
		rt.store = store.NewMemoryStore()
		return nil
	}
	db, err := openDatabase(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	rt.db = db
	rt.closers = append(rt.closers, func() { _ = db.Close() })
	rt.store = store.NewPostgresStore(db)
	return nil
}

func openDatabase(ctx context.Context, cfg config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}
	return db, nil
}

func (rt *runtime) openBackSync() error {
	if rt.cfg.CRMAPIKey == "" {
		rt.logger.Warn("CRM_API_KEY not set; back-sync disabled")
		return nil
	}
	rt.crm = crm.NewClient(crm.ClientOptions{
		BaseURL:    rt.cfg.CRMBaseURL,
		APIKey:     rt.cfg.CRMAPIKey,
		APIVersion: rt.cfg.CRMAPIVersion,
		Timeout:    rt.cfg.CRMTimeout,
	})

	var retries identity.RetryEnqueuer
	if rt.cfg.RedisURL != "" {
		queue, err := retryqueue.Dial(rt.cfg.RedisURL, retryqueue.Options{
			Capacity:    rt.cfg.BacksyncQueueCapacity,
			MaxAttempts: rt.cfg.BacksyncMaxAttempts,
		}, rt.logger)
		if err != nil {
			return err
		}
		rt.queue = queue
		rt.closers = append(rt.closers, func() { _ = queue.Close() })
		retries = queue
	} else {
		rt.logger.Info("REDIS_URL not set; failed back-sync writes are not retried")
	}
	rt.backsync = identity.NewBackSyncWriter(rt.crm, rt.cfg.CRMPersonFieldKey, retries, rt.logger)
	return nil
}

func (rt *runtime) openSearch() {
	if rt.cfg.MeiliURL != "" {
		rt.meili = search.NewMeili(rt.cfg.MeiliURL, rt.cfg.MeiliMasterKey, rt.logger)
		rt.closers = append(rt.closers, rt.meili.Close)
	}
	rt.search = search.NewService(rt.meili, rt.store, rt.logger)
}

func (rt *runtime) openDocuments(ctx context.Context) error {
	var local savestate.LocalSink
	if path := rt.cfg.LocalCachePath; path != "" {
		cache, err := localcache.Open(path)
		if err != nil {
			return err
		}
		rt.cache = cache
		rt.closers = append(rt.closers, func() { _ = cache.Close() })
		local = cache
	}

	var remote savestate.RemoteSink
	switch rt.cfg.DocumentBackend {
	case "s3":
		sink, err := objectstore.New(objectstore.Options{
			Endpoint:  rt.cfg.S3Endpoint,
			AccessKey: rt.cfg.S3AccessKey,
			SecretKey: rt.cfg.S3SecretKey,
			Bucket:    rt.cfg.S3Bucket,
			UseSSL:    rt.cfg.S3UseSSL,
		})
		if err != nil {
			return err
		}
		if err := sink.EnsureBucket(ctx); err != nil {
			return err
		}
		remote = sink
	default:
		remote = savestate.NewStoreSink(rt.store)
	}

	rt.registry = savestate.NewRegistry(local, remote, savestate.Options{
		QuietPeriod:   rt.cfg.SaveQuietPeriod,
		Ceiling:       rt.cfg.SaveCeiling,
		RemoteTimeout: rt.cfg.SaveRemoteTimeout,
		Logger:        rt.logger,
		OnFlush:       rt.metrics.ObserveFlush,
	})
	return nil
}

// retryHandler returns the drain handler, or an error when back-sync is off.
func (rt *runtime) retryHandler() (retryqueue.Handler, error) {
	if rt.queue == nil {
		return nil, errors.New("REDIS_URL is not set")
	}
	if rt.backsync == nil {
		return nil, errors.New("CRM_API_KEY is not set")
	}
	return rt.backsync.Retry, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
