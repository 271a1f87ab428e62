// Package artworkmodule acquires, caches and derives artwork images for
// library entities.
package artworkmodule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/config"
	"github.com/mantonx/viewra-artwork/internal/database"
	"github.com/mantonx/viewra-artwork/internal/logger"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/acquire"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/derive"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/pipeline"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/profile"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/queue"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/repository"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/source"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/storage"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
	"github.com/mantonx/viewra-artwork/internal/modules/modulemanager"
	"github.com/mantonx/viewra-artwork/internal/plugins/fanarttv"
	"github.com/mantonx/viewra-artwork/internal/plugins/tmdb"
	"gorm.io/gorm"
)

// ModuleID is the identifier of the artwork module.
const ModuleID = "system.artwork"

// Module wires the artwork pipeline into the module system.
type Module struct {
	cfg    *config.Config
	logger hclog.Logger

	db        *gorm.DB
	repo      *repository.Repository
	store     *storage.FileStore
	profiles  *profile.Registry
	generator *derive.Generator
	pipeline  *pipeline.Pipeline
	backend   queue.Backend
	sweeper   *queue.Sweeper

	cancel context.CancelFunc
	done   chan error
}

// NewModule creates the module. A nil cfg uses the global configuration and
// a nil logger the process-wide one, both resolved when the module loads.
func NewModule(cfg *config.Config, logger hclog.Logger) *Module {
	m := &Module{cfg: cfg}
	if logger != nil {
		m.logger = logger.Named("artwork-module")
	}
	return m
}

// ID returns the module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the human-readable module name
func (m *Module) Name() string {
	return "Artwork Module"
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return true
}

// Migrate creates the artwork tables
func (m *Module) Migrate(db *gorm.DB) error {
	if m.logger == nil {
		m.logger = logger.Default().Named("artwork-module")
	}
	m.db = db
	m.repo = repository.New(db, m.logger)
	return m.repo.Migrate()
}

// Init builds the pipeline, starts the queue workers and the sweeper.
func (m *Module) Init() error {
	if m.repo == nil {
		return fmt.Errorf("artwork module initialized before migration")
	}
	if m.cfg == nil {
		m.cfg = config.Get()
	}
	cfg := m.cfg.Artwork
	ctx := context.Background()

	store, err := storage.NewFileStore(cfg.CacheDir, m.logger)
	if err != nil {
		return fmt.Errorf("failed to open artwork cache: %w", err)
	}
	m.store = store

	configured, err := profilesFromConfig(cfg.Profiles)
	if err != nil {
		return err
	}
	m.profiles = profile.NewRegistry(m.repo, m.logger)
	if err := m.profiles.Seed(ctx, configured); err != nil {
		return fmt.Errorf("failed to seed profiles: %w", err)
	}

	resolver, err := m.buildResolver()
	if err != nil {
		return err
	}

	fetcher := acquire.NewHTTPFetcher(nil, acquire.FetchConfig{
		Timeout:    cfg.Fetch.Timeout,
		MaxBytes:   cfg.Fetch.MaxBytes,
		ProbeBytes: cfg.Fetch.ProbeBytes,
		UserAgent:  cfg.Fetch.UserAgent,
	})
	guard := derive.NewMemoryGuard(cfg.Guard.MaxPixels, cfg.Guard.MinAvailableMB, m.logger)
	m.generator = derive.NewGenerator(m.repo, store, m.profiles, guard, m.logger)

	m.pipeline = pipeline.New(pipeline.Config{
		Repository:    m.repo,
		Resolver:      resolver,
		Acquirer:      acquire.NewAcquirer(fetcher, store, m.repo, cfg.MinDimension, m.logger),
		Generator:     m.generator,
		Store:         store,
		MaxCandidates: cfg.MaxCandidates,
		Logger:        m.logger,
	})

	runner := queue.NewRunner(m.pipeline, func(ctx context.Context, item queue.Item, cause error) {
		if err := m.pipeline.MarkError(ctx, item.ID, cause); err != nil {
			m.logger.Error("failed to record artwork error", "artwork_id", item.ID, "error", err)
		}
	}, m.logger)

	switch cfg.Queue.Backend {
	case "redis":
		m.backend = queue.NewAsynqBackend(queue.AsynqConfig{
			RedisAddr:     cfg.Queue.RedisAddr,
			RedisPassword: cfg.Queue.RedisPassword,
			RedisDB:       cfg.Queue.RedisDB,
			Workers:       cfg.Workers,
			MaxRetry:      cfg.Queue.MaxRetry,
		}, runner, m.logger)
	default:
		m.backend = queue.NewMemoryBackend(runner, cfg.Workers, m.logger)
	}
	m.pipeline.SetSubmitter(m.backend)

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan error, 1)
	go func() {
		m.done <- m.backend.Run(runCtx)
	}()

	m.sweeper = queue.NewSweeper(m.repo, m.backend, cfg.SweepSchedule, cfg.SweepBatch, m.logger)
	if err := m.sweeper.Start(runCtx); err != nil {
		cancel()
		return err
	}

	m.logger.Info("artwork module initialized", "queue", cfg.Queue.Backend, "workers", cfg.Workers, "cache_dir", store.Root())
	return nil
}

func (m *Module) buildResolver() (*source.Resolver, error) {
	cfg := m.cfg
	providers := source.NewRegistry(m.logger)

	if cfg.Providers.TMDb.APIKey != "" {
		p := tmdb.New(tmdb.Config{
			APIKey:       cfg.Providers.TMDb.APIKey,
			Language:     cfg.Providers.TMDb.Language,
			RequestDelay: cfg.Providers.TMDb.RequestDelay,
			Timeout:      cfg.Artwork.Fetch.Timeout,
			UserAgent:    cfg.Artwork.Fetch.UserAgent,
		}, nil, m.logger)
		if err := providers.Register(p, cfg.Providers.TMDb.Priority); err != nil {
			return nil, err
		}
	}

	if cfg.Providers.FanartTV.APIKey != "" {
		p := fanarttv.New(fanarttv.Config{
			APIKey:   cfg.Providers.FanartTV.APIKey,
			Language: cfg.Providers.FanartTV.Language,
			Timeout:  cfg.Artwork.Fetch.Timeout,
		}, nil, m.logger)
		if err := providers.Register(p, cfg.Providers.FanartTV.Priority); err != nil {
			return nil, err
		}
	}

	var locals []source.LocalFinder
	if cfg.Artwork.EnableLocal {
		locals = append(locals, source.NewFileFinder())
	}
	if cfg.Artwork.EnableEmbedded {
		locals = append(locals, source.NewEmbeddedFinder())
	}

	if len(providers.Names()) == 0 && len(locals) == 0 {
		m.logger.Warn("no artwork sources configured, only uploads will produce artwork")
	}

	return source.NewResolver(providers, locals, cfg.Artwork.Sources, m.logger), nil
}

// profilesFromConfig converts configured profiles. An empty applies_to list
// applies the profile to every owner kind.
func profilesFromConfig(in []config.ProfileConfig) ([]types.ArtworkProfile, error) {
	out := make([]types.ArtworkProfile, 0, len(in))
	for _, pc := range in {
		kind, ok := types.ParseArtworkKind(pc.Kind)
		if !ok {
			return nil, fmt.Errorf("profile %s: unknown artwork kind %q", pc.Name, pc.Kind)
		}

		owners := types.AllOwnerKinds
		if len(pc.AppliesTo) > 0 {
			owners = nil
			for _, o := range pc.AppliesTo {
				owner := types.OwnerKind(o)
				if !owner.Valid() {
					return nil, fmt.Errorf("profile %s: unknown owner kind %q", pc.Name, o)
				}
				owners = append(owners, owner)
			}
		}

		quality := pc.CornerQuality
		if quality == 0 {
			quality = 1
		}

		out = append(out, types.ArtworkProfile{
			Name:           pc.Name,
			Kind:           kind,
			Width:          pc.Width,
			Height:         pc.Height,
			Scaling:        types.ParseScalingPolicy(pc.Scaling),
			CornerQuality:  quality,
			RoundedCorners: pc.RoundedCorners,
			CornerRadius:   pc.CornerRadius,
			Format:         pc.Format,
			PreProcess:     pc.PreProcess,
			AppliesTo:      types.MaskOf(owners...),
		})
	}
	return out, nil
}

// RegisterRoutes registers the artwork control plane under /api/artwork
func (m *Module) RegisterRoutes(router *gin.Engine) {
	h := &handler{
		pipeline:  m.pipeline,
		generator: m.generator,
		owners:    m.repo,
		maxUpload: m.cfg.Server.MaxUploadBytes,
		logger:    m.logger.Named("api"),
	}
	registerRoutes(router.Group("/api/artwork"), h)
}

// HealthCheck reports database reachability.
func (m *Module) HealthCheck(ctx context.Context) modulemanager.HealthStatus {
	status := modulemanager.HealthStatus{
		Status:      modulemanager.HealthStateHealthy,
		LastChecked: time.Now(),
		Details:     map[string]interface{}{"queue": m.cfg.Artwork.Queue.Backend},
	}
	if mb, ok := m.backend.(*queue.MemoryBackend); ok {
		status.Details["queued"] = mb.Queue().Len()
	}
	if err := database.Ping(ctx, m.db); err != nil {
		status.Status = modulemanager.HealthStateUnhealthy
		status.Message = err.Error()
	}
	return status
}

// Shutdown stops the sweeper and the queue workers.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.sweeper != nil {
		m.sweeper.Stop()
	}
	if m.backend == nil {
		return nil
	}

	closeErr := m.backend.Close()
	m.cancel()

	select {
	case err := <-m.done:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		return errors.Join(closeErr, err)
	case <-ctx.Done():
		return errors.Join(closeErr, ctx.Err())
	}
}

// Pipeline exposes the artwork pipeline to other modules.
func (m *Module) Pipeline() *pipeline.Pipeline {
	return m.pipeline
}
