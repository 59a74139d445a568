// Package engine wires a complete property database from a configuration.
package engine

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/andreyvit/propdb"
	"github.com/andreyvit/propdb/config"
	"github.com/andreyvit/propdb/defs"
	"github.com/andreyvit/propdb/defstore"
	"github.com/andreyvit/propdb/internal/logger"
	"github.com/andreyvit/propdb/internal/metrics"
	"github.com/andreyvit/propdb/props"
	"github.com/andreyvit/propdb/proto"
)

type Options struct {
	// LogOutput overrides where logs go; nil means stderr.
	LogOutput io.Writer
	// Registerer receives the metrics; nil means a private registry.
	Registerer prometheus.Registerer
}

type Engine struct {
	Config      *config.Config
	Log         zerolog.Logger
	Metrics     *metrics.Metrics
	DB          *propdb.DB
	Prototypes  *proto.Catalog
	Definitions *defstore.Store
	Kinds       *defstore.Registry
	Properties  *props.Store
}

// New opens the storage, builds every component and imports the
// configured definition sources. The caller must Close the engine.
func New(ctx context.Context, cfg *config.Config, opt Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Output: opt.LogOutput})

	m := metrics.Nop()
	if cfg.Metrics.Enabled {
		reg := opt.Registerer
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		m = metrics.New(cfg.Metrics.Namespace, reg)
	}

	db, err := propdb.Open(cfg.Storage.Path, propdb.Options{
		Backend:     propdb.Backend(cfg.Storage.Backend),
		Logger:      log,
		Metrics:     m,
		Verbose:     cfg.Storage.Verbose,
		MmapSize:    cfg.Storage.MmapSize,
		LockTimeout: cfg.Storage.LockTimeout,
		SyncWrites:  cfg.Storage.SyncWrites,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{Config: cfg, Log: log, Metrics: m, DB: db}
	if err := e.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) init(ctx context.Context) error {
	cfg := e.Config
	e.Prototypes = proto.New(e.DB, proto.Options{
		Logger:    logger.Component(e.Log, "prototypes"),
		Metrics:   e.Metrics,
		CacheSize: cfg.Properties.CacheSize,
	})
	e.Definitions = defstore.New(e.DB, e.Prototypes, defstore.Options{
		Logger:           logger.Component(e.Log, "definitions"),
		Metrics:          e.Metrics,
		CacheSize:        cfg.Definitions.CacheSize,
		DefaultContainer: cfg.Definitions.DefaultContainer,
	})

	var regs []defstore.Registration
	for _, name := range slices.Sorted(maps.Keys(cfg.Properties.Kinds)) {
		regs = append(regs, defstore.Registration{
			Kind:      props.Kind(cfg.Properties.Kinds[name]),
			Name:      name,
			Container: cfg.Definitions.Kinds[name],
		})
	}
	var err error
	e.Kinds, err = defstore.NewRegistry(e.Definitions, regs...)
	if err != nil {
		return err
	}

	e.Properties = props.New(e.DB, e.Prototypes, props.Options{
		Logger:                logger.Component(e.Log, "properties"),
		Metrics:               e.Metrics,
		Kinds:                 e.Kinds.Kinds(),
		CacheSize:             cfg.Properties.CacheSize,
		BatchSize:             cfg.Properties.BatchSize,
		NonPersistent:         cfg.Properties.NonPersistent,
		SaveWithoutDefinition: cfg.Properties.SaveWithoutDefinition,
		Resolver:              e.Kinds,
	})

	if err := e.ImportFiles(ctx, cfg.Definitions.Sources...); err != nil {
		return err
	}
	if cfg.Definitions.WarmUp {
		if _, err := e.Definitions.WarmUp(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ImportFiles parses YAML definition files and imports them together, so
// parents and children may live in different files.
func (e *Engine) ImportFiles(ctx context.Context, paths ...string) error {
	var specs []*defs.DefinitionSpec
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		s, err := defs.Parse(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("engine: %s: %w", path, err)
		}
		specs = append(specs, s...)
	}
	if len(specs) == 0 {
		return nil
	}
	ds, err := e.Definitions.Import(ctx, specs...)
	if err != nil {
		return err
	}
	e.Log.Info().Int("files", len(paths)).Int("definitions", len(ds)).Msg("definitions imported")
	return nil
}

// Key builds the entity key for a registered kind name.
func (e *Engine) Key(kind, beanID, definitionPath string) (props.EntityKey, error) {
	k, ok := e.Kinds.Kind(kind)
	if !ok {
		return props.EntityKey{}, fmt.Errorf("engine: unknown entity kind %q", kind)
	}
	return props.EntityKey{Kind: k, BeanID: beanID, Path: definitionPath}, nil
}

func (e *Engine) Close() error {
	e.Log.Debug().Msg("closing")
	return e.DB.Close()
}
