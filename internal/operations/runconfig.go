package operations

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kebairia/mybak/internal/archive"
	"github.com/kebairia/mybak/internal/config"
	"github.com/kebairia/mybak/internal/storage"
)

// RunOptions are per-invocation overrides from the command line.
type RunOptions struct {
	Label      string
	ForceClean bool
	SkipDump   bool
	SkipBinlog bool
}

// RunConfig is everything one pipeline run needs, resolved up front. It is
// passed by value and never modified once built.
type RunConfig struct {
	RunID   string
	Label   string
	Started time.Time

	BackupRoot string
	StateDir   string
	SQLDir     string
	BinlogDir  string

	Compression   string
	SQLArchive    string
	BinlogArchive string
	SQLObject     string
	BinlogObject  string
	Container     string

	UseDump   bool
	UseBinlog bool
	Exclude   []string

	RetentionDays int
	ForceClean    bool
	LockTTL       time.Duration

	Retry    config.RetryConfig
	Timeouts config.TimeoutConfig
}

// NewRunConfig resolves cfg and opts into a RunConfig for a run started at now.
func NewRunConfig(cfg config.Config, opts RunOptions, now time.Time) (RunConfig, error) {
	label := opts.Label
	if label == "" {
		label = cfg.RunLabel(now)
	}
	if !config.ValidLabel(label) {
		return RunConfig{}, fmt.Errorf("%w: invalid run label %q", config.ErrValidateConfig, label)
	}

	ext, err := archive.Extension(cfg.Backup.Compression)
	if err != nil {
		return RunConfig{}, fmt.Errorf("%w: %v", config.ErrValidateConfig, err)
	}
	container, err := storage.ContainerName(cfg.Storage.ContainerPrefix, label)
	if err != nil {
		return RunConfig{}, fmt.Errorf("%w: %v", config.ErrValidateConfig, err)
	}

	root := filepath.Clean(cfg.Backup.Root)
	staging := filepath.Join(root, label)
	sqlName := storage.ObjectName(storage.KindSQL, label, ext)
	binlogName := storage.ObjectName(storage.KindBinlog, label, ext)

	return RunConfig{
		RunID:         uuid.NewString(),
		Label:         label,
		Started:       now,
		BackupRoot:    root,
		StateDir:      filepath.Clean(cfg.StateDir),
		SQLDir:        filepath.Join(staging, "sql"),
		BinlogDir:     filepath.Join(staging, "binlog"),
		Compression:   cfg.Backup.Compression,
		SQLArchive:    filepath.Join(root, sqlName),
		BinlogArchive: filepath.Join(root, binlogName),
		SQLObject:     sqlName,
		BinlogObject:  binlogName,
		Container:     container,
		UseDump:       cfg.Features.UseMySQLDump && !opts.SkipDump,
		UseBinlog:     cfg.Features.UseMySQLBinlog && !opts.SkipBinlog,
		Exclude:       append([]string(nil), cfg.MySQL.Exclude...),
		RetentionDays: cfg.Retention.Days,
		ForceClean:    cfg.Cleanup.Force || opts.ForceClean,
		LockTTL:       cfg.Backup.LockTTL,
		Retry:         cfg.Retry,
		Timeouts:      cfg.Timeouts,
	}, nil
}

// StagingDir is the per-run directory holding the sql and binlog folders.
func (rc RunConfig) StagingDir() string {
	return filepath.Dir(rc.SQLDir)
}

// LockPath is the run lock file.
func (rc RunConfig) LockPath() string {
	return filepath.Join(rc.StateDir, "mybak.lock")
}

// ReportPath is where the last run report is written.
func (rc RunConfig) ReportPath() string {
	return filepath.Join(rc.StateDir, "last-run.json")
}

// BinlogStatePath holds the last binlog confirmed uploaded.
func (rc RunConfig) BinlogStatePath() string {
	return filepath.Join(rc.StateDir, "binlog-state.json")
}
