// Package retention deletes aged files under the backup root.
package retention

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/kebairia/mybak/internal/logger"
)

// Day is the unit of the retention window.
const Day = 24 * time.Hour

var ErrSweepFailed = errors.New("retention sweep failed")

// File is a sweep candidate.
type File struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// Result summarizes one sweep.
type Result struct {
	Scanned int
	Deleted []File
	Kept    int
	DryRun  bool
}

// Sweeper applies a RetentionWindow to every file below Root.
type Sweeper struct {
	Fs     afero.Fs
	Root   string
	Window time.Duration
	Log    logger.Logger
}

// NewSweeper builds a sweeper for a window expressed in days.
func NewSweeper(fs afero.Fs, root string, days int, log logger.Logger) *Sweeper {
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{Fs: fs, Root: root, Window: time.Duration(days) * Day, Log: log}
}

// Expired reports whether a file last modified at mod is outside the window.
// A file exactly Window old is expired.
func (s *Sweeper) Expired(mod, now time.Time) bool {
	return now.Sub(mod) >= s.Window
}

// Candidates walks Root and returns the expired regular files, oldest first.
func (s *Sweeper) Candidates(now time.Time) (expired []File, scanned int, err error) {
	if _, err := s.Fs.Stat(s.Root); err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("%w: stat %s: %v", ErrSweepFailed, s.Root, err)
	}

	err = afero.Walk(s.Fs, s.Root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		scanned++
		if s.Expired(fi.ModTime(), now) {
			expired = append(expired, File{Path: path, ModTime: fi.ModTime(), Size: fi.Size()})
		}
		return nil
	})
	if err != nil {
		return nil, scanned, fmt.Errorf("%w: walk %s: %v", ErrSweepFailed, s.Root, err)
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].ModTime.Before(expired[j].ModTime) })
	return expired, scanned, nil
}

// Sweep deletes every expired file under Root. A window of zero disables
// the sweep. Individual delete failures are collected and the sweep keeps
// going.
func (s *Sweeper) Sweep(now time.Time, dryRun bool) (Result, error) {
	res := Result{DryRun: dryRun}
	if s.Window <= 0 {
		s.Log.Info("retention sweep disabled", "root", s.Root)
		return res, nil
	}

	expired, scanned, err := s.Candidates(now)
	if err != nil {
		return res, err
	}
	res.Scanned = scanned

	var errs *multierror.Error
	for _, f := range expired {
		if dryRun {
			s.Log.Info("would delete expired file", "path", f.Path, "modified", f.ModTime.Format(time.RFC3339))
			res.Deleted = append(res.Deleted, f)
			continue
		}
		if err := s.Fs.Remove(f.Path); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("remove %s: %w", f.Path, err))
			continue
		}
		s.Log.Info("deleted expired file", "path", f.Path, "modified", f.ModTime.Format(time.RFC3339))
		res.Deleted = append(res.Deleted, f)
	}
	res.Kept = res.Scanned - len(res.Deleted)

	s.Log.Info("retention sweep finished",
		"root", s.Root,
		"window", s.Window.String(),
		"scanned", res.Scanned,
		"deleted", len(res.Deleted),
		"dry_run", dryRun,
	)
	if err := errs.ErrorOrNil(); err != nil {
		return res, fmt.Errorf("%w: %v", ErrSweepFailed, err)
	}
	return res, nil
}
