package operations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/kebairia/mybak/internal/archive"
	"github.com/kebairia/mybak/internal/database"
	"github.com/kebairia/mybak/internal/retention"
)

// errSkipped marks a stage disabled by the run configuration.
var errSkipped = errors.New("stage skipped")

type step struct {
	stage Stage
	run   func(ctx context.Context) error
}

// Run executes the pipeline once. Stages run in order and the first failure
// ends the run. The returned report is also written to the state directory
// unless the lock could not be taken.
func (o *Orchestrator) Run(ctx context.Context) (report *Report, err error) {
	defer o.closeStorage()

	lock, err := AcquireLock(o.fs, o.cfg.LockPath(), o.cfg.RunID, o.cfg.LockTTL, o.now())
	if err != nil {
		o.log.Error("backup run not started", "error", err.Error())
		o.report.ExitCode = ExitCode(err)
		o.report.Error = err.Error()
		return o.report, err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			o.log.Warn("release lock", "error", rerr.Error())
		}
	}()

	o.log.Info("backup run started",
		"container", o.cfg.Container,
		"mysqldump", o.cfg.UseDump,
		"mysqlbinlog", o.cfg.UseBinlog,
		"retention_days", o.cfg.RetentionDays,
	)
	defer o.closeCatalog()
	defer func() { o.finish(err) }()

	steps := []step{
		{StageTarget, o.ensureTarget},
		{StageStaging, o.ensureStaging},
		{StageEnumerate, o.enumerate},
		{StageDump, o.dumpDatabases},
		{StageArchiveSQL, o.archiveSQL},
		{StageFetchBinlogs, o.fetchBinlogs},
		{StageNormalize, o.normalizeBinlogs},
		{StageVerifyBinlogs, o.verifyBinlogs},
		{StageArchiveBinlog, o.archiveBinlogs},
		{StageUpload, o.upload},
		{StageCleanup, o.cleanup},
		{StageRetention, o.sweep},
	}
	for _, s := range steps {
		if err := o.runStage(ctx, s); err != nil {
			return o.report, err
		}
	}
	return o.report, nil
}

func (o *Orchestrator) runStage(ctx context.Context, s step) error {
	start := o.now()
	res := StageResult{Stage: s.stage, StartedAt: start}

	err := s.run(ctx)
	res.Duration = o.now().Sub(start)

	switch {
	case errors.Is(err, errSkipped):
		res.Status = StatusSkipped
		o.log.Debug("stage skipped", "stage", s.stage)
		err = nil
	case err != nil:
		res.Status = StatusFailed
		res.Error = err.Error()
		err = &StageError{Stage: s.stage, Err: err}
		o.log.Error("stage failed", "stage", s.stage, "error", res.Error)
	default:
		res.Status = StatusOK
		o.log.Info("stage completed", "stage", s.stage, "duration", res.Duration.String())
	}
	o.report.Stages = append(o.report.Stages, res)
	return err
}

// finish records the outcome, applies forced cleanup after a failure and
// writes the report.
func (o *Orchestrator) finish(err error) {
	if err != nil && o.cfg.ForceClean && o.report.State != StateCleaned {
		if cerr := o.removeArtifacts(); cerr != nil {
			o.log.Warn("forced cleanup incomplete", "error", cerr.Error())
		} else {
			o.report.State = StateCleaned
			o.log.Warn("local artifacts removed after failure (forced)")
		}
	}

	o.report.FinishedAt = o.now()
	o.report.ExitCode = ExitCode(err)
	if err != nil {
		o.report.Error = err.Error()
		o.log.Error("backup run failed",
			"exit_code", o.report.ExitCode,
			"state", o.report.State,
			"error", err.Error(),
		)
	} else {
		o.log.Info("backup run succeeded",
			"duration", o.report.FinishedAt.Sub(o.report.StartedAt).String(),
			"uploads", len(o.report.Uploads),
		)
	}
	if werr := o.report.Write(o.fs, o.cfg.ReportPath()); werr != nil {
		o.log.Warn("write run report", "error", werr.Error())
	}
}

// 1. Remote target.
func (o *Orchestrator) ensureTarget(ctx context.Context) error {
	if !o.cfg.UseDump && !o.cfg.UseBinlog {
		return errSkipped
	}
	return o.retry(ctx, "ensure target", o.cfg.Timeouts.Network, func(ctx context.Context) error {
		return o.store.EnsureTarget(ctx, o.cfg.Container)
	})
}

// 2. Local staging directories, each probed for writability.
func (o *Orchestrator) ensureStaging(context.Context) error {
	dirs := []string{o.cfg.BackupRoot}
	if o.cfg.UseDump {
		dirs = append(dirs, o.cfg.SQLDir)
	}
	if o.cfg.UseBinlog {
		dirs = append(dirs, o.cfg.BinlogDir)
	}
	for _, dir := range dirs {
		if err := o.fs.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if err := probeWritable(o.fs, dir, o.cfg.RunID); err != nil {
			return err
		}
	}
	return nil
}

func probeWritable(fs afero.Fs, dir, runID string) error {
	probe := filepath.Join(dir, ".mybak-probe-"+runID)
	f, err := fs.Create(probe)
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	_ = f.Close()
	if err := fs.Remove(probe); err != nil {
		return fmt.Errorf("remove probe %s: %w", probe, err)
	}
	return nil
}

// 3. Enumerate user databases.
func (o *Orchestrator) enumerate(ctx context.Context) error {
	if !o.cfg.UseDump {
		return errSkipped
	}
	catalog, err := o.source(ctx)
	if err != nil {
		return err
	}
	var raw []string
	err = o.retry(ctx, "list databases", o.cfg.Timeouts.Network, func(ctx context.Context) error {
		var lerr error
		raw, lerr = catalog.ListDatabases(ctx)
		return lerr
	})
	if err != nil {
		return err
	}

	valid, rejected := database.DecodeDatabases(raw, o.cfg.Exclude)
	o.reject(rejected)
	o.report.Databases = valid
	o.log.Info("databases enumerated", "count", len(valid), "databases", valid)
	return nil
}

func (o *Orchestrator) reject(rejected []database.Rejected) {
	for _, r := range rejected {
		o.log.Warn("skipping malformed name", "name", r.Name, "reason", r.Reason)
	}
	o.report.Rejected = append(o.report.Rejected, rejected...)
}

// 4. One dump file per database.
func (o *Orchestrator) dumpDatabases(ctx context.Context) error {
	if !o.cfg.UseDump {
		return errSkipped
	}
	files := database.DumpFileNames(o.report.Databases)
	for _, db := range o.report.Databases {
		path := filepath.Join(o.cfg.SQLDir, files[db])
		if err := o.dumpOne(ctx, db, path); err != nil {
			return err
		}
		o.report.DumpFiles = append(o.report.DumpFiles, files[db])
	}
	sort.Strings(o.report.DumpFiles)
	return nil
}

func (o *Orchestrator) dumpOne(ctx context.Context, db, path string) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Dump)
	defer cancel()

	f, err := o.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create dump file %s: %w", path, err)
	}
	derr := o.dumper.Dump(ctx, db, f)
	if cerr := f.Close(); derr == nil && cerr != nil {
		derr = fmt.Errorf("close dump file %s: %w", path, cerr)
	}
	if derr != nil {
		_ = o.fs.Remove(path)
		return derr
	}
	return nil
}

// 5. Archive the dumps.
func (o *Orchestrator) archiveSQL(context.Context) error {
	if !o.cfg.UseDump {
		return errSkipped
	}
	info, err := archive.Create(o.fs, o.cfg.SQLDir, o.cfg.SQLArchive, o.cfg.Compression)
	if err != nil {
		return err
	}
	o.report.SQLArchive = info.Path
	o.log.Info("sql archive created", "path", info.Path, "files", info.Files, "size_bytes", info.SizeBytes)
	return nil
}

// 6. Fetch binary logs newer than the last uploaded one.
func (o *Orchestrator) fetchBinlogs(ctx context.Context) error {
	if !o.cfg.UseBinlog {
		return errSkipped
	}
	catalog, err := o.source(ctx)
	if err != nil {
		return err
	}
	var logs []database.BinaryLog
	err = o.retry(ctx, "list binary logs", o.cfg.Timeouts.Network, func(ctx context.Context) error {
		var lerr error
		logs, lerr = catalog.ListBinaryLogs(ctx)
		return lerr
	})
	if err != nil {
		return err
	}

	state, err := LoadBinlogState(o.fs, o.cfg.BinlogStatePath())
	if err != nil {
		return err
	}
	names, rejected := database.SelectBinlogs(logs, state.LastBinlog)
	o.reject(rejected)
	o.log.Info("binary logs selected",
		"listed", len(logs),
		"selected", len(names),
		"resume_from", state.LastBinlog,
	)

	for _, name := range names {
		err := o.retry(ctx, "fetch "+name, o.cfg.Timeouts.Binlog, func(ctx context.Context) error {
			return o.fetcher.Fetch(ctx, name, o.cfg.BinlogDir)
		})
		if err != nil {
			return err
		}
		o.report.Binlogs = append(o.report.Binlogs, name)
	}
	return nil
}

// 7. Repair X+X artifacts.
func (o *Orchestrator) normalizeBinlogs(context.Context) error {
	if !o.cfg.UseBinlog {
		return errSkipped
	}
	fixed, err := NormalizeDuplicates(o.fs, o.cfg.BinlogDir)
	if err != nil {
		return err
	}
	if len(fixed) > 0 {
		o.log.Warn("normalized duplicated binlog names", "files", fixed)
	}
	return nil
}

// 8. Hard gate: at least one binlog must be on disk.
func (o *Orchestrator) verifyBinlogs(context.Context) error {
	if !o.cfg.UseBinlog {
		return errSkipped
	}
	found, err := VerifyBinlogs(o.fs, o.cfg.BinlogDir, database.BinlogBases(o.report.Binlogs))
	if err != nil {
		return err
	}
	o.log.Info("binlogs verified", "count", len(found))
	return nil
}

// 9. Archive the binlogs.
func (o *Orchestrator) archiveBinlogs(context.Context) error {
	if !o.cfg.UseBinlog {
		return errSkipped
	}
	info, err := archive.Create(o.fs, o.cfg.BinlogDir, o.cfg.BinlogArchive, o.cfg.Compression)
	if err != nil {
		return err
	}
	o.report.BinlogArchive = info.Path
	o.log.Info("binlog archive created", "path", info.Path, "files", info.Files, "size_bytes", info.SizeBytes)
	return nil
}

// 10. Upload and confirm each enabled archive.
func (o *Orchestrator) upload(ctx context.Context) error {
	if !o.cfg.UseDump && !o.cfg.UseBinlog {
		return errSkipped
	}
	o.report.State = StateStaged

	if o.cfg.UseDump {
		if err := o.uploadOne(ctx, o.cfg.SQLArchive, o.cfg.SQLObject); err != nil {
			return err
		}
	}
	if o.cfg.UseBinlog {
		if err := o.uploadOne(ctx, o.cfg.BinlogArchive, o.cfg.BinlogObject); err != nil {
			return err
		}
		if n := len(o.report.Binlogs); n > 0 {
			state := BinlogState{LastBinlog: o.report.Binlogs[n-1], RunID: o.cfg.RunID, UpdatedAt: o.now().UTC()}
			if err := state.Save(o.fs, o.cfg.BinlogStatePath()); err != nil {
				return err
			}
		}
	}
	o.report.State = StateUploaded
	return nil
}

func (o *Orchestrator) uploadOne(ctx context.Context, path, object string) error {
	st, err := o.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			o.log.Warn("archive missing, not uploaded", "path", path)
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	size := st.Size()

	var location string
	err = o.retry(ctx, "upload "+object, o.cfg.Timeouts.Upload, func(ctx context.Context) error {
		f, err := o.fs.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		location, err = o.store.Upload(ctx, o.cfg.Container, object, f, size)
		if err != nil {
			return err
		}
		return o.store.Confirm(ctx, o.cfg.Container, object, size)
	})
	if err != nil {
		o.report.Uploads = append(o.report.Uploads, Upload{Object: object, SizeBytes: size})
		return err
	}

	o.report.Uploads = append(o.report.Uploads, Upload{
		Object:    object,
		Location:  location,
		SizeBytes: size,
		Confirmed: true,
	})
	o.log.Info("archive uploaded",
		"provider", o.store.Name(),
		"container", o.cfg.Container,
		"object", object,
		"size_bytes", size,
	)
	return nil
}

// 11. Remove staging and archives once uploads are confirmed.
func (o *Orchestrator) cleanup(context.Context) error {
	uploads := o.cfg.UseDump || o.cfg.UseBinlog
	if uploads && o.report.State != StateUploaded && !o.cfg.ForceClean {
		return fmt.Errorf("%w: state is %s", ErrUploadsUnconfirmed, o.report.State)
	}
	if err := o.removeArtifacts(); err != nil {
		return err
	}
	o.report.State = StateCleaned
	return nil
}

func (o *Orchestrator) removeArtifacts() error {
	var errs *multierror.Error
	if err := o.fs.RemoveAll(o.cfg.StagingDir()); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("remove %s: %w", o.cfg.StagingDir(), err))
	}
	for _, path := range []string{o.cfg.SQLArchive, o.cfg.BinlogArchive} {
		if err := o.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	return errs.ErrorOrNil()
}

// 12. Retention sweep over the backup root.
func (o *Orchestrator) sweep(context.Context) error {
	s := retention.NewSweeper(o.fs, o.cfg.BackupRoot, o.cfg.RetentionDays, o.log)
	if s.Window <= 0 {
		return errSkipped
	}
	res, err := s.Sweep(o.now(), false)
	for _, f := range res.Deleted {
		o.report.Swept = append(o.report.Swept, f.Path)
	}
	return err
}
