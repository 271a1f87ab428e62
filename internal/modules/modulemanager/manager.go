package modulemanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

// Module defines the interface that all modules must implement
type Module interface {
	ID() string                // Unique identifier for the module
	Name() string              // Display name for the module
	Core() bool                // Whether this is a core module (cannot be disabled)
	Migrate(db *gorm.DB) error // Run database migrations
	Init() error               // Initialize the module
}

// RouteRegistrar is an optional interface for modules that need to register routes
type RouteRegistrar interface {
	RegisterRoutes(router *gin.Engine)
}

// ModuleRegistry manages module registration and initialization
type ModuleRegistry struct {
	modules         map[string]Module
	disabledModules map[string]bool
	loaded          []Module
	logger          hclog.Logger
	mu              sync.RWMutex
	initialized     bool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger hclog.Logger) *ModuleRegistry {
	return &ModuleRegistry{
		modules:         make(map[string]Module),
		disabledModules: make(map[string]bool),
		logger:          logger.Named("module-manager"),
	}
}

// Registry is the global module registry
var Registry = NewRegistry(hclog.Default())

// Register adds a module to the registry
func Register(m Module) {
	Registry.Register(m)
}

// Register adds a module to the registry
func (r *ModuleRegistry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		r.logger.Warn("module registered after initialization", "module", m.Name(), "id", m.ID())
	}

	r.modules[m.ID()] = m
	r.logger.Debug("module registered", "module", m.Name(), "id", m.ID())
}

// SetLogger replaces the registry logger.
func (r *ModuleRegistry) SetLogger(logger hclog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger.Named("module-manager")
}

// LoadAll initializes all registered modules
func LoadAll(db *gorm.DB) error {
	return Registry.LoadAll(db)
}

// LoadAll migrates and initializes all enabled modules in dependency order
func (r *ModuleRegistry) LoadAll(db *gorm.DB) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		r.logger.Warn("module system already initialized")
		return nil
	}

	enabledModules := make(map[string]Module)
	for id, module := range r.modules {
		if r.disabledModules[id] {
			if module.Core() {
				return fmt.Errorf("attempted to disable core module: %s", id)
			}
			r.logger.Warn("skipping disabled module", "module", module.Name())
			continue
		}
		enabledModules[id] = module
	}

	r.logger.Info("loading modules", "count", len(enabledModules))

	depGraph, err := BuildDependencyGraph(enabledModules)
	if err != nil {
		return fmt.Errorf("failed to build dependency graph: %w", err)
	}

	initOrder, err := depGraph.GetInitializationOrder()
	if err != nil {
		return fmt.Errorf("failed to determine initialization order: %w", err)
	}

	for i, module := range initOrder {
		r.logger.Debug("initializing module", "module", module.Name(), "step", i+1, "of", len(initOrder))

		if err := module.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", module.Name(), err)
		}

		if err := module.Init(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", module.Name(), err)
		}

		r.loaded = append(r.loaded, module)
		r.logger.Info("module loaded", "module", module.Name())
	}

	r.initialized = true
	return nil
}

// Shutdown stops loaded modules in reverse initialization order.
func Shutdown(ctx context.Context) error {
	return Registry.Shutdown(ctx)
}

// Shutdown stops loaded modules in reverse initialization order.
func (r *ModuleRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.loaded) - 1; i >= 0; i-- {
		module := r.loaded[i]
		s, ok := module.(Shutdowner)
		if !ok {
			continue
		}
		if err := s.Shutdown(ctx); err != nil {
			r.logger.Error("module shutdown failed", "module", module.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", module.Name(), err))
		}
	}

	r.loaded = nil
	r.initialized = false
	return errors.Join(errs...)
}

// DisableModule marks a module as disabled
func (r *ModuleRegistry) DisableModule(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	module, exists := r.modules[id]
	if !exists {
		r.logger.Warn("attempted to disable non-existent module", "id", id)
		return
	}

	if module.Core() {
		r.logger.Error("cannot disable core module", "id", id)
		return
	}

	r.disabledModules[id] = true
	r.logger.Info("module disabled", "id", id)
}

// EnableModule enables a previously disabled module
func (r *ModuleRegistry) EnableModule(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabledModules, id)
}

// GetModule returns a module by ID
func GetModule(id string) (Module, bool) {
	return Registry.GetModule(id)
}

// GetModule returns a module by ID
func (r *ModuleRegistry) GetModule(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	module, exists := r.modules[id]
	return module, exists
}

// ListModules returns all registered modules sorted by ID
func (r *ModuleRegistry) ListModules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	modules := make([]Module, 0, len(r.modules))
	for _, module := range r.modules {
		modules = append(modules, module)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].ID() < modules[j].ID() })
	return modules
}

// RegisterRoutes registers routes for all modules that implement RouteRegistrar
func RegisterRoutes(router *gin.Engine) {
	Registry.RegisterRoutes(router)
}

// RegisterRoutes registers routes for all loaded modules that implement RouteRegistrar
func (r *ModuleRegistry) RegisterRoutes(router *gin.Engine) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, module := range r.loaded {
		if routeRegistrar, ok := module.(RouteRegistrar); ok {
			r.logger.Debug("registering routes", "module", module.Name())
			routeRegistrar.RegisterRoutes(router)
		}
	}
}

// Health reports the health of every loaded module that can check itself.
func (r *ModuleRegistry) Health(ctx context.Context) map[string]HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]HealthStatus)
	for _, module := range r.loaded {
		if checker, ok := module.(HealthChecker); ok {
			out[module.ID()] = checker.HealthCheck(ctx)
		}
	}
	return out
}
