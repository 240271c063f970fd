// Package app initializes and holds the long-lived services of a harvester
// worker, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-harvester/internal/api"
	"github.com/JakeFAU/forum-harvester/internal/clock/system"
	"github.com/JakeFAU/forum-harvester/internal/config"
	"github.com/JakeFAU/forum-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/forum-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/forum-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/forum-harvester/internal/forum"
	"github.com/JakeFAU/forum-harvester/internal/guardian"
	"github.com/JakeFAU/forum-harvester/internal/hostctl"
	"github.com/JakeFAU/forum-harvester/internal/id/uuid"
	"github.com/JakeFAU/forum-harvester/internal/ingest"
	"github.com/JakeFAU/forum-harvester/internal/partition"
	"github.com/JakeFAU/forum-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/forum-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/forum-harvester/internal/retry"
	"github.com/JakeFAU/forum-harvester/internal/session"
	"github.com/JakeFAU/forum-harvester/internal/storage/gcs"
	"github.com/JakeFAU/forum-harvester/internal/storage/local"
	"github.com/JakeFAU/forum-harvester/internal/storage/memory"
	"github.com/JakeFAU/forum-harvester/internal/storage/postgres"
	"github.com/JakeFAU/forum-harvester/internal/storage/s3"
	"github.com/JakeFAU/forum-harvester/internal/worker"
)

// ErrNoDatabase is returned by operations that need Postgres when db.dsn is empty.
var ErrNoDatabase = errors.New("db.dsn is not configured")

type closer struct {
	name string
	fn   func() error
}

// App holds the shared services of one worker process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	owner    *partition.Assigner
	browser  *headless.Browser
	gateway  forum.Gateway
	postgres *postgres.Gateway
	guardian *guardian.Guardian
	worker   *worker.Worker
	closers  []closer
}

// New wires every service from cfg. It fails fast; whatever was opened
// before the failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.owner, err = partition.New(cfg.Worker.Index, cfg.Worker.Count)
	if err != nil {
		return a, err
	}
	logger.Info("initializing harvester", zap.Stringer("partition", a.owner))

	a.browser, err = headless.New(headless.Config{
		MaxAuxTabs:        cfg.Headless.MaxAuxTabs,
		UserAgent:         cfg.Headless.UserAgent,
		NavigationTimeout: cfg.Headless.NavigationTimeout,
		SettleDelay:       cfg.Headless.SettleDelay,
		AttachmentWait:    cfg.Headless.AttachmentWait,
		ExecPath:          cfg.Headless.ExecPath,
		ProfileRoot:       cfg.Headless.ProfileRoot,
		Headful:           cfg.Headless.Headful,
	}, logger)
	if err != nil {
		return a, fmt.Errorf("init browser: %w", err)
	}
	a.onClose("browser", func() error { a.browser.Close(); return nil })

	fetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.HTTP.Timeout,
		MaxBodySize: cfg.HTTP.MaxBodySize,
		Referer:     cfg.HTTP.Referer,
	})
	if err != nil {
		return a, fmt.Errorf("init asset fetcher: %w", err)
	}

	extractor, err := extract.New(cfg.Extract, cfg.Forum.BaseURL)
	if err != nil {
		return a, fmt.Errorf("init extractor: %w", err)
	}

	blobs, err := a.newBlobStore(ctx)
	if err != nil {
		return a, err
	}

	if err := a.openGateway(ctx); err != nil {
		return a, err
	}

	publisher, err := a.newPublisher(ctx)
	if err != nil {
		return a, err
	}

	host, err := a.newHostControl()
	if err != nil {
		return a, err
	}
	a.guardian = guardian.New(guardian.Config{
		RecycleEvery:     cfg.Guardian.RecycleEvery,
		MemoryFloorBytes: cfg.Guardian.MemoryFloorBytes(),
		SampleInterval:   cfg.Guardian.SampleInterval,
	}, a.browser, host, guardian.HostSampler{}, logger)

	pipeline := ingest.New(ingest.Config{
		BatchSize:       cfg.Ingest.BatchSize,
		DirectTimeout:   cfg.Ingest.DirectTimeout,
		IndirectTimeout: cfg.Ingest.IndirectTimeout,
		KeyPrefix:       cfg.Ingest.KeyPrefix,
		Retry: retry.Policy{
			MaxAttempts:    cfg.Ingest.Attempts,
			BaseDelay:      cfg.Ingest.RetryDelay,
			AttemptTimeout: cfg.Ingest.AttemptTimeout,
		},
	}, fetcher, a.browser, blobs, ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
	}), logger)

	sess := session.New(session.Config{
		CookiesFile:      cfg.Session.CookiesFile,
		CheckURL:         cfg.Session.CheckURL,
		LoggedInSelector: cfg.Session.LoggedInSelector,
	}, a.browser, logger, a.browser, fetcher)

	a.worker, err = worker.New(worker.Config{
		ThreadURLTemplate: cfg.Forum.ThreadURLTemplate,
		PageSuffix:        cfg.Forum.PageSuffix,
		BatchLimit:        cfg.Worker.BatchLimit,
		PageAttempts:      cfg.Worker.PageAttempts,
		RetryDelay:        cfg.Worker.RetryDelay,
		ThreadPacing:      cfg.Worker.ThreadPacing,
		PagePacing:        cfg.Worker.PagePacing,
		DiscoveryURLs:     cfg.Forum.DiscoveryPages,
	}, worker.Deps{
		Gateway:   a.gateway,
		Owner:     a.owner,
		Session:   sess,
		Navigator: a.browser,
		Extractor: extractor,
		Listing:   extractor,
		Ingester:  pipeline,
		Guardian:  a.guardian,
		Publisher: publisher,
		Limiter: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.Forum.RequestsPerSecond,
			Burst:             cfg.Forum.Burst,
		}),
		Clock: system.New(),
		IDs:   uuid.New(),
	}, logger)
	if err != nil {
		return a, fmt.Errorf("init worker: %w", err)
	}

	logger.Info("harvester initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("postgres", a.postgres != nil),
		zap.Bool("pubsub", publisher != nil),
	)
	return a, nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) newBlobStore(ctx context.Context) (forum.BlobStore, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case config.BackendS3:
		a.logger.Info("using S3 blob store", zap.String("bucket", cfg.S3.Bucket), zap.String("endpoint", cfg.S3.Endpoint))
		store, err := s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PublicBaseURL:   cfg.S3.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 blob store: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		a.logger.Info("using GCS blob store", zap.String("bucket", cfg.GCS.Bucket))
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose("gcs", client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket, PublicBaseURL: cfg.GCS.PublicBaseURL})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	case config.BackendLocal:
		a.logger.Info("using local blob store", zap.String("base_dir", cfg.Local.BaseDir))
		store, err := local.New(local.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		a.logger.Warn("using in-memory blob store; media is discarded on exit")
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func (a *App) openGateway(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("db.dsn is empty; checkpoints are kept in memory")
		a.gateway = memory.NewGateway()
		return nil
	}
	gw, err := postgres.New(ctx, postgres.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.onClose("postgres", func() error { gw.Close(); return nil })
	a.postgres = gw
	a.gateway = gw
	return nil
}

func (a *App) newPublisher(ctx context.Context) (forum.Publisher, error) {
	cfg := a.cfg.PubSub
	if cfg.ProjectID == "" {
		a.logger.Info("pubsub.project_id is empty; sync notifications are disabled")
		return nil, nil
	}
	pub, err := pubsub.New(ctx, cfg.ProjectID, cfg.TopicName)
	if err != nil {
		return nil, fmt.Errorf("init pubsub: %w", err)
	}
	a.onClose("pubsub", pub.Close)
	a.logger.Info("publishing sync notifications", zap.String("topic", cfg.TopicName))
	return pub, nil
}

func (a *App) newHostControl() (forum.HostControl, error) {
	if a.cfg.Guardian.RestartCommand == "" {
		return hostctl.LogOnly{Logger: a.logger}, nil
	}
	cmd, err := hostctl.NewCommand(a.cfg.Guardian.RestartCommand, a.cfg.Guardian.RestartTimeout, nil, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init host control: %w", err)
	}
	return cmd, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Owner returns this worker's partition.
func (a *App) Owner() *partition.Assigner { return a.owner }

// Worker returns the crawl orchestrator.
func (a *App) Worker() *worker.Worker { return a.worker }

// Guardian returns the resource guardian.
func (a *App) Guardian() *guardian.Guardian { return a.guardian }

// Gateway returns the persistence gateway.
func (a *App) Gateway() forum.Gateway { return a.gateway }

// EnsureSchema creates the Postgres tables.
func (a *App) EnsureSchema(ctx context.Context) error {
	if a.postgres == nil {
		return ErrNoDatabase
	}
	return a.postgres.EnsureSchema(ctx)
}

// Server builds the operational HTTP server.
func (a *App) Server() *api.Server {
	checks := map[string]api.ReadinessCheck{}
	if a.postgres != nil {
		checks["postgres"] = a.postgres.Ping
	}
	return api.NewServer(a.worker, api.Options{Checks: checks, Owner: a.owner}, a.logger)
}

// Close shuts down services in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
