// Package app builds and holds the long-lived services a command needs. It is
// the only place that knows which backend implements which contract.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-mapper/internal/api"
	"github.com/JakeFAU/domain-mapper/internal/backfill"
	"github.com/JakeFAU/domain-mapper/internal/clock"
	"github.com/JakeFAU/domain-mapper/internal/collector"
	"github.com/JakeFAU/domain-mapper/internal/collector/geo"
	"github.com/JakeFAU/domain-mapper/internal/collector/netinfo"
	"github.com/JakeFAU/domain-mapper/internal/collector/screenshot"
	"github.com/JakeFAU/domain-mapper/internal/collector/web"
	"github.com/JakeFAU/domain-mapper/internal/collector/whois"
	"github.com/JakeFAU/domain-mapper/internal/config"
	"github.com/JakeFAU/domain-mapper/internal/discovery"
	"github.com/JakeFAU/domain-mapper/internal/dispatcher"
	"github.com/JakeFAU/domain-mapper/internal/frontier"
	"github.com/JakeFAU/domain-mapper/internal/hash/sha256"
	"github.com/JakeFAU/domain-mapper/internal/id/uuid"
	"github.com/JakeFAU/domain-mapper/internal/lease"
	"github.com/JakeFAU/domain-mapper/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/domain-mapper/internal/publisher/pubsub"
	"github.com/JakeFAU/domain-mapper/internal/storage/gcs"
	"github.com/JakeFAU/domain-mapper/internal/storage/local"
	"github.com/JakeFAU/domain-mapper/internal/storage/memory"
	"github.com/JakeFAU/domain-mapper/internal/storage/postgres"
	"github.com/JakeFAU/domain-mapper/internal/worker"
)

// App holds the shared services for one process.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Store  discovery.Store
	Clock  discovery.Clock
	IDs    *uuid.Generator

	closers []closer
}

type closer struct {
	name  string
	close func() error
}

// New connects the configured store. Collection services are built on demand
// by NewDispatcher so read-only commands never dial Pub/Sub or start Chrome.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		Clock:  clock.New(),
		IDs:    uuid.New(),
	}
	switch cfg.Store.Backend {
	case "postgres":
		logger.Info("connecting to postgres")
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime(),
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.Store = store
	case "memory":
		logger.Warn("using in-memory store; queue state is lost on exit")
		a.Store = memory.NewStore()
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
	a.onClose("store", func() error {
		a.Store.Close()
		return nil
	})
	return a, nil
}

// NewWithStore builds an App around an existing store. Used by tests and by
// callers that manage the store themselves.
func NewWithStore(cfg config.Config, store discovery.Store, clk discovery.Clock, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &App{Config: cfg, Logger: logger, Store: store, Clock: clk, IDs: uuid.New()}
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

// Close releases services in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.Logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
}

// Migrate applies the schema when the store has one.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.Store.(interface{ Migrate(context.Context) error })
	if !ok {
		a.Logger.Info("store has no schema to migrate", zap.String("backend", a.Config.Store.Backend))
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Seed queues domains at depth 0 with the configured seed priority.
func (a *App) Seed(ctx context.Context, domains []string) (frontier.SeedResult, error) {
	return frontier.Seed(ctx, a.Store, domains, a.Config.Collection.SeedPriority, a.Clock.Now())
}

// RetryFailed re-queues up to limit failed items with attempts left.
func (a *App) RetryFailed(ctx context.Context, limit int) (int64, error) {
	n, err := a.Store.RetryFailed(ctx, limit, a.Config.Collection.MaxRetryAttempts, a.Clock.Now())
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}
	return n, nil
}

// Backfill re-collects up to limit domains that still have null fields.
func (a *App) Backfill(ctx context.Context, limit int, dryRun bool) (backfill.Result, error) {
	coll, err := a.newCollector(ctx)
	if err != nil {
		return backfill.Result{}, err
	}
	return a.newFiller(coll).Run(ctx, limit, dryRun)
}

func (a *App) newFiller(coll discovery.Collector) *backfill.Filler {
	limiter := ratelimit.New(ratelimit.Config{
		Delay:       a.Config.RequestDelay(),
		DomainRPS:   a.Config.Collection.DomainRPS,
		DomainBurst: a.Config.Collection.DomainBurst,
	})
	return backfill.New(a.Store, coll, limiter, a.Clock, a.Logger.Named("backfill"))
}

// Reclaimer builds the stale lease reclaimer.
func (a *App) Reclaimer() (*lease.Reclaimer, error) {
	return lease.New(a.Store, a.Clock, lease.Config{
		Timeout:  a.Config.LeaseTimeout(),
		Interval: a.Config.LeaseInterval(),
	}, a.Logger.Named("lease"))
}

// APIServer builds the admin HTTP server.
func (a *App) APIServer() (*api.Server, error) {
	reclaimer, err := a.Reclaimer()
	if err != nil {
		return nil, err
	}
	apiKey := ""
	if a.Config.Auth.Enabled {
		apiKey = a.Config.Auth.APIKey
	}
	return api.NewServer(a.Store, reclaimer, a.Clock, api.Options{
		SeedPriority:     a.Config.Collection.SeedPriority,
		MaxRetryAttempts: a.Config.Collection.MaxRetryAttempts,
		RequestTimeout:   a.Config.RequestTimeout(),
		APIKey:           apiKey,
	}, a.Logger.Named("api")), nil
}

// NewDispatcher assembles the collection pipeline and Collection.Workers
// workers sharing it. withReclaimer runs lease recovery next to them.
func (a *App) NewDispatcher(ctx context.Context, withReclaimer bool) (*dispatcher.Dispatcher, error) {
	coll, err := a.newCollector(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.newPublisher(ctx)
	if err != nil {
		return nil, err
	}
	return a.newDispatcher(coll, publisher, withReclaimer)
}

func (a *App) newDispatcher(coll discovery.Collector, publisher discovery.Publisher, withReclaimer bool) (*dispatcher.Dispatcher, error) {
	cfg := a.Config.Collection
	expander := frontier.New(a.Store, a.Store, a.Store, a.Clock, frontier.Config{
		MaxDepth:         cfg.MaxDepth,
		MaxURLsPerDomain: cfg.MaxURLsPerDomain,
		Priority:         cfg.DiscoveredPriority,
	}, a.Logger.Named("frontier"))
	limiter := ratelimit.New(ratelimit.Config{
		Delay:       a.Config.RequestDelay(),
		DomainRPS:   cfg.DomainRPS,
		DomainBurst: cfg.DomainBurst,
	})
	topic := ""
	if publisher != nil {
		topic = a.Config.PubSub.Topic
	}

	runners := make([]dispatcher.Runner, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		id, err := a.workerID(i)
		if err != nil {
			return nil, err
		}
		w, err := worker.New(a.Store, coll, expander, limiter, publisher, a.Clock, worker.Config{
			WorkerID:             id,
			MaxItems:             cfg.MaxItems,
			MaxURLsPerDomain:     cfg.MaxURLsPerDomain,
			SkipAlreadyProcessed: cfg.SkipAlreadyProcessed,
			ItemTimeout:          a.Config.ItemTimeout(),
			IdleSleep:            a.Config.IdleSleep(),
			Topic:                topic,
		}, a.Logger.Named("worker"))
		if err != nil {
			return nil, fmt.Errorf("init worker %d: %w", i, err)
		}
		runners = append(runners, w)
	}

	var background []dispatcher.Background
	if withReclaimer {
		reclaimer, err := a.Reclaimer()
		if err != nil {
			return nil, err
		}
		background = append(background, reclaimer)
	}
	return dispatcher.New(runners, background, a.Logger.Named("dispatcher"))
}

// workerID is collection.worker_id when set, suffixed with the index when
// more than one worker shares it; otherwise a fresh host/pid based id.
func (a *App) workerID(i int) (string, error) {
	base := a.Config.Collection.WorkerID
	if base == "" {
		id, err := a.IDs.WorkerID()
		if err != nil {
			return "", fmt.Errorf("worker id: %w", err)
		}
		return id, nil
	}
	if a.Config.Collection.Workers == 1 {
		return base, nil
	}
	return fmt.Sprintf("%s-%d", base, i), nil
}

func (a *App) newCollector(ctx context.Context) (*collector.Collector, error) {
	cfg := a.Config
	pages := web.New(web.Config{
		UserAgent:       cfg.Collection.UserAgent,
		RespectRobots:   cfg.Collection.RespectRobots,
		Timeout:         cfg.FetchTimeout(),
		MaxLinksPerPage: cfg.Collection.MaxLinksPerPage,
		FilterLinks:     cfg.Collection.FilterLinks,
	}, a.Logger.Named("web"))

	var enrichers []collector.Enricher
	if cfg.Data.CollectDNS {
		enrichers = append(enrichers, netinfo.New(netinfo.Config{
			Resolver:  cfg.Data.DNSResolver,
			Timeout:   cfg.DNSTimeout(),
			LookupASN: cfg.Data.LookupASN,
			CheckTLS:  cfg.Data.CheckTLS,
		}))
	}
	if cfg.Data.CollectWhois {
		enrichers = append(enrichers, whois.New(whois.Config{
			Timeout: cfg.WhoisTimeout(),
			Server:  cfg.Data.WhoisServer,
		}))
	}
	if cfg.Data.CollectGeolocation {
		locator, err := geo.New(geo.Config{
			MaxMindDB:      cfg.Data.MaxMindDB,
			IPInfoFallback: cfg.Data.IPInfoFallback,
			IPInfoToken:    cfg.Data.IPInfoToken,
			Timeout:        cfg.FetchTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("init geolocation: %w", err)
		}
		a.onClose("geo", locator.Close)
		enrichers = append(enrichers, locator)
	}
	if cfg.Data.Screenshots {
		blobs, err := a.newBlobStore(ctx)
		if err != nil {
			return nil, err
		}
		capturer, err := screenshot.New(screenshot.Config{
			MaxParallel:       cfg.Data.ScreenshotMaxParallel,
			UserAgent:         cfg.Collection.UserAgent,
			NavigationTimeout: cfg.ScreenshotTimeout(),
			PathPrefix:        cfg.Storage.Prefix,
		}, blobs, sha256.New())
		if err != nil {
			return nil, fmt.Errorf("init screenshots: %w", err)
		}
		a.onClose("screenshots", func() error {
			capturer.Close()
			return nil
		})
		enrichers = append(enrichers, capturer)
	}
	names := make([]string, 0, len(enrichers))
	for _, e := range enrichers {
		names = append(names, e.Name())
	}
	a.Logger.Info("collector ready", zap.Strings("enrichers", names))
	return collector.New(pages, enrichers, a.Logger.Named("collector")), nil
}

func (a *App) newBlobStore(ctx context.Context) (discovery.BlobStore, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		a.Logger.Info("using GCS blob store", zap.String("bucket", cfg.GCSBucket))
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		a.onClose("gcs", store.Close)
		return store, nil
	case "memory":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func (a *App) newPublisher(ctx context.Context) (discovery.Publisher, error) {
	if !a.Config.PubSub.Enabled {
		return nil, nil
	}
	a.Logger.Info("connecting to Pub/Sub", zap.String("topic", a.Config.PubSub.Topic))
	pub, err := pubsubpublisher.Dial(ctx, a.Config.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.onClose("pubsub", pub.Close)
	return pub, nil
}

// ShutdownTimeout bounds graceful shutdown of the admin server.
func (a *App) ShutdownTimeout() time.Duration {
	if d := a.Config.ShutdownGrace(); d > 0 {
		return d
	}
	return 10 * time.Second
}
