// Package operations runs the backup pipeline: dump, fetch binlogs,
// archive, upload, clean up and sweep.
package operations

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/spf13/afero"

	"github.com/kebairia/mybak/internal/database"
	"github.com/kebairia/mybak/internal/logger"
	"github.com/kebairia/mybak/internal/storage"
)

// Catalog lists what the source server holds.
type Catalog interface {
	ListDatabases(ctx context.Context) ([]string, error)
	ListBinaryLogs(ctx context.Context) ([]database.BinaryLog, error)
	Close() error
}

// CatalogOpener connects to the source server on first use.
type CatalogOpener func(ctx context.Context) (Catalog, error)

// Dumper writes a logical dump of one database to w.
type Dumper interface {
	Dump(ctx context.Context, database string, w io.Writer) error
}

// Fetcher copies one binary log into destDir.
type Fetcher interface {
	Fetch(ctx context.Context, name, destDir string) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Fs          afero.Fs
	OpenCatalog CatalogOpener
	Dumper      Dumper
	Fetcher     Fetcher
	// Storage is closed when Run returns if it implements io.Closer.
	Storage     storage.Provider
	Log         logger.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Orchestrator executes one run. Build a new one per run.
type Orchestrator struct {
	cfg         RunConfig
	fs          afero.Fs
	openCatalog CatalogOpener
	dumper      Dumper
	fetcher     Fetcher
	store       storage.Provider
	log         logger.Logger
	now         func() time.Time

	catalog Catalog
	report  *Report
}

// NewOrchestrator checks deps against what cfg enables.
func NewOrchestrator(cfg RunConfig, deps Deps) (*Orchestrator, error) {
	if deps.Fs == nil {
		return nil, errors.New("orchestrator: filesystem is required")
	}
	if deps.Storage == nil && (cfg.UseDump || cfg.UseBinlog) {
		return nil, errors.New("orchestrator: storage provider is required")
	}
	if deps.OpenCatalog == nil && (cfg.UseDump || cfg.UseBinlog) {
		return nil, errors.New("orchestrator: catalog is required")
	}
	if deps.Dumper == nil && cfg.UseDump {
		return nil, errors.New("orchestrator: dumper is required")
	}
	if deps.Fetcher == nil && cfg.UseBinlog {
		return nil, errors.New("orchestrator: binlog fetcher is required")
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Orchestrator{
		cfg:         cfg,
		fs:          deps.Fs,
		openCatalog: deps.OpenCatalog,
		dumper:      deps.Dumper,
		fetcher:     deps.Fetcher,
		store:       deps.Storage,
		log:         deps.Log.With("run_id", cfg.RunID, "label", cfg.Label),
		now:         deps.Clock,
		report: &Report{
			RunID:     cfg.RunID,
			Label:     cfg.Label,
			Container: cfg.Container,
			StartedAt: cfg.Started,
			State:     StateStarted,
		},
	}, nil
}

// Config returns the run configuration.
func (o *Orchestrator) Config() RunConfig { return o.cfg }

func (o *Orchestrator) source(ctx context.Context) (Catalog, error) {
	if o.catalog != nil {
		return o.catalog, nil
	}
	err := o.retry(ctx, "connect", o.cfg.Timeouts.Network, func(ctx context.Context) error {
		c, err := o.openCatalog(ctx)
		if err != nil {
			return err
		}
		o.catalog = c
		return nil
	})
	return o.catalog, err
}

func (o *Orchestrator) closeCatalog() {
	if o.catalog == nil {
		return
	}
	if err := o.catalog.Close(); err != nil {
		o.log.Warn("close catalog connection", "error", err.Error())
	}
	o.catalog = nil
}

func (o *Orchestrator) closeStorage() {
	c, ok := o.store.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		o.log.Warn("close storage client", "provider", o.store.Name(), "error", err.Error())
	}
}
