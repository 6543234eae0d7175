package factory

import (
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcoot/provisioner/internal/dependencies/clock"
	"github.com/mcoot/provisioner/internal/dependencies/random"
	"github.com/mcoot/provisioner/internal/metrics"
	"github.com/mcoot/provisioner/internal/remote"
	"github.com/mcoot/provisioner/internal/services/identity"
	"github.com/mcoot/provisioner/internal/services/oauth"
	"github.com/mcoot/provisioner/internal/services/pipeline"
	"github.com/mcoot/provisioner/internal/services/registration"
	"github.com/mcoot/provisioner/internal/services/scheduler"
	"github.com/mcoot/provisioner/internal/services/session"
	"github.com/mcoot/provisioner/internal/services/task"
	"github.com/mcoot/provisioner/internal/storage"
	"github.com/mcoot/provisioner/internal/storage/memory"
	redisstorage "github.com/mcoot/provisioner/internal/storage/redis"
)

// Storage type constants
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage     storage.Storage
	StorageType string

	// External dependencies
	Clock   clock.Clock
	Random  random.Random
	Metrics *metrics.Metrics

	// Services
	Sessions  *session.Manager
	Registrar registration.Registrar
	Generator *identity.Generator
	Scheduler *scheduler.Scheduler
	Acquirer  *oauth.Acquirer
	Pipeline  *pipeline.Pipeline
	Tasks     *task.Service
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory" or "redis")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config

	// Provisioning is the fingerprint-browser provisioning API
	Provisioning session.HTTPConfig
	// Driver is the browser automation driver service
	Driver remote.Config
	// InteractiveApproval approves device codes through the driver instead of
	// publishing the user code for a person to enter
	InteractiveApproval bool

	Session   session.Config
	Scheduler scheduler.Config
	OAuth     oauth.Config
	Pipeline  pipeline.Config
	Task      task.Config

	// Registry receives the Prometheus collectors. If nil, a private registry is used.
	Registry *prometheus.Registry
}

// New creates a new application with all dependencies wired
func New(cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	// Create storage based on type
	var store storage.Storage
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		store = memory.New()
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		redisStore, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		store = redisStore
	default:
		return nil, errors.New("invalid StorageType: must be 'memory' or 'redis'")
	}

	// Use default pacing if not provided
	if cfg.Scheduler == (scheduler.Config{}) {
		cfg.Scheduler = scheduler.DefaultConfig()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	provisioner := session.NewHTTPProvisioner(cfg.Provisioning)
	driver := registration.NewDriver(cfg.Driver)

	deps := dependencies{
		store:       store,
		storageType: storageType,
		provisioner: provisioner,
		registrar:   driver,
		clock:       clock.New(),
		random:      random.New(),
		metrics:     metrics.New(registry),
	}
	if cfg.InteractiveApproval {
		deps.driver = driver
	}

	return newWithDependencies(deps, cfg, logger), nil
}

// dependencies are the swappable edges of the App
type dependencies struct {
	store       storage.Storage
	storageType string
	provisioner session.Provisioner
	registrar   registration.Registrar
	// driver, when set, approves device codes on a browser session
	driver  oauth.InteractiveDriver
	clock   clock.Clock
	random  random.Random
	metrics *metrics.Metrics
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(deps dependencies, cfg Config, logger *slog.Logger) *App {
	sessions := session.NewManager(deps.provisioner, deps.clock, deps.metrics, cfg.Session, logger)
	sched := scheduler.New(sessions, deps.registrar, deps.clock, deps.random, deps.metrics, cfg.Scheduler, logger)

	var approver oauth.Approver
	if deps.driver != nil {
		approver = oauth.NewSessionApprover(sessions, deps.driver, nil)
	}
	acquirer := oauth.NewAcquirer(cfg.OAuth, approver, deps.clock, deps.metrics, logger)

	generator := identity.New(deps.random)
	p := pipeline.New(generator, sched, acquirer, deps.store, deps.clock, cfg.Pipeline, logger)
	tasks := task.NewService(deps.store, deps.clock, cfg.Task, logger)

	return &App{
		Storage:     deps.store,
		StorageType: deps.storageType,
		Clock:       deps.clock,
		Random:      deps.random,
		Metrics:     deps.metrics,
		Sessions:    sessions,
		Registrar:   deps.registrar,
		Generator:   generator,
		Scheduler:   sched,
		Acquirer:    acquirer,
		Pipeline:    p,
		Tasks:       tasks,
	}
}
