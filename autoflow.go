// Package autoflow provides a top-level convenience entry point that wires
// the orchestration core together with minimal boilerplate.
//
// Usage:
//
//	import "github.com/pwi-labs/autoflow"
//
//	sys, err := autoflow.Open(autoflow.WithConfigFile("autoflow.yaml"))
//	defer sys.Close()
//
//	wf, err := sys.Engine.Create(ctx, engine.CreateInput{Plan: plan})
//	err = sys.Engine.Execute(ctx, wf.ID)
//
// Every component is also usable standalone; this package only saves the
// wiring.
package autoflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pwi-labs/autoflow/bus"
	"github.com/pwi-labs/autoflow/checkpoint"
	"github.com/pwi-labs/autoflow/config"
	"github.com/pwi-labs/autoflow/engine"
	"github.com/pwi-labs/autoflow/internal/metrics"
	"github.com/pwi-labs/autoflow/persistence"
	"github.com/pwi-labs/autoflow/registry"
)

// System bundles a fully wired orchestration core.
type System struct {
	Config      config.Config
	Store       persistence.Store
	Bus         *bus.MessageBus
	Registry    *registry.Registry
	Checkpoints *checkpoint.Manager
	Engine      *engine.Engine
	Logger      *zap.Logger

	ownsLogger bool
}

type openOptions struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer
	engineOpts []engine.Option
}

// Option configures the system built by [Open].
type Option func(*openOptions)

// WithConfigFile loads configuration from the given YAML file.
func WithConfigFile(path string) Option {
	return func(o *openOptions) { o.configPath = path }
}

// WithConfig supplies a prebuilt configuration, skipping file and
// environment loading.
func WithConfig(cfg config.Config) Option {
	return func(o *openOptions) { o.cfg = &cfg }
}

// WithLogger sets a custom zap logger. The caller keeps ownership;
// [System.Close] will not sync it.
func WithLogger(logger *zap.Logger) Option {
	return func(o *openOptions) { o.logger = logger }
}

// WithRegisterer sets the Prometheus registerer metrics are registered
// with. Defaults to [prometheus.DefaultRegisterer].
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *openOptions) { o.registerer = reg }
}

// WithEngineOptions forwards options to [engine.New], e.g. a custom
// [engine.TaskRunner].
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *openOptions) { o.engineOpts = append(o.engineOpts, opts...) }
}

// Open builds a fully wired [System] from configuration.
func Open(opts ...Option) (*System, error) {
	var oo openOptions
	for _, opt := range opts {
		opt(&oo)
	}

	var cfg config.Config
	if oo.cfg != nil {
		cfg = *oo.cfg
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else {
		loaded, err := config.Load(oo.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := oo.logger
	ownsLogger := false
	if logger == nil {
		built, err := config.NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		logger = built
		ownsLogger = true
	}

	store, err := persistence.NewStore(cfg.Store)
	if err != nil {
		if ownsLogger {
			_ = logger.Sync()
		}
		return nil, err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		reg := oo.registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		collector = metrics.NewCollector(cfg.Metrics.Namespace, reg)
	}

	busStore := store
	if !cfg.Bus.PersistMessages {
		busStore = nil
	}
	msgBus := bus.New(bus.Options{
		MaxQueueSize: cfg.Bus.MaxQueueSize,
		Store:        busStore,
		Metrics:      collector,
	}, logger)

	reg := registry.New(registry.Options{
		MaxAgentsPerType: cfg.Registry.MaxAgentsPerType,
		IdleTimeout:      cfg.Registry.IdleTimeout,
		Bus:              msgBus,
		Metrics:          collector,
	}, logger)

	cpm := checkpoint.NewManager(store, checkpoint.Options{
		WorkDir:        cfg.Checkpoint.WorkDir,
		BackupDir:      cfg.Checkpoint.BackupDir,
		BackupPaths:    cfg.Checkpoint.BackupPaths,
		DisableBackup:  cfg.Checkpoint.DisableBackup,
		MaxCheckpoints: cfg.Checkpoint.MaxCheckpoints,
		Metrics:        collector,
	}, logger)

	engineOpts := oo.engineOpts
	if collector != nil {
		engineOpts = append([]engine.Option{engine.WithMetrics(collector)}, engineOpts...)
	}
	eng := engine.New(store, msgBus, reg, cpm, cfg.Engine, logger, engineOpts...)

	return &System{
		Config:      cfg,
		Store:       store,
		Bus:         msgBus,
		Registry:    reg,
		Checkpoints: cpm,
		Engine:      eng,
		Logger:      logger,
		ownsLogger:  ownsLogger,
	}, nil
}

// Close terminates all agents and releases the store.
func (s *System) Close() error {
	s.Registry.TerminateAll()
	err := s.Store.Close()
	if s.ownsLogger {
		_ = s.Logger.Sync()
	}
	return err
}
