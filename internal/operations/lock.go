package operations

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// lockInfo is the content of the lock file.
type lockInfo struct {
	RunID      string    `json:"run_id"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is an exclusive run lock backed by a file created with O_EXCL.
type Lock struct {
	fs   afero.Fs
	path string
	info lockInfo
}

// AcquireLock creates the lock file at path. A lock older than ttl is
// considered abandoned and replaced; ttl <= 0 never expires a lock. A lock
// file that cannot be decoded is aged by its modification time.
func AcquireLock(fs afero.Fs, path, runID string, ttl time.Duration, now time.Time) (*Lock, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	info := lockInfo{RunID: runID, PID: os.Getpid(), AcquiredAt: now.UTC()}

	for attempt := 0; attempt < 2; attempt++ {
		err := createExclusive(fs, path, info)
		if err == nil {
			return &Lock{fs: fs, path: path, info: info}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", path, err)
		}

		held, rerr := readLock(fs, path)
		if rerr == nil && !expired(held.AcquiredAt, now, ttl) {
			return nil, fmt.Errorf("%w: run %s (pid %d) since %s",
				ErrLocked, held.RunID, held.PID, held.AcquiredAt.Format(time.RFC3339))
		}
		if rerr != nil {
			// The holder may not have written its record yet; only the
			// file's age can tell an abandoned lock from a fresh one.
			fi, serr := fs.Stat(path)
			if serr != nil && !os.IsNotExist(serr) {
				return nil, fmt.Errorf("stat lock %s: %w", path, serr)
			}
			if serr == nil && !expired(fi.ModTime(), now, ttl) {
				return nil, fmt.Errorf("%w: unreadable lock %s modified %s: %v",
					ErrLocked, path, fi.ModTime().UTC().Format(time.RFC3339), rerr)
			}
		}
		if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("%w: lock %s keeps reappearing", ErrLocked, path)
}

// Release removes the lock file if it still belongs to this run.
func (l *Lock) Release() error {
	held, err := readLock(l.fs, l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock %s: %w", l.path, err)
	}
	if held.RunID != l.info.RunID {
		return fmt.Errorf("lock %s now held by run %s", l.path, held.RunID)
	}
	return l.fs.Remove(l.path)
}

func expired(since, now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(since) >= ttl
}

func createExclusive(fs afero.Fs, path string, info lockInfo) error {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	werr := json.NewEncoder(f).Encode(info)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = fs.Remove(path)
	}
	return werr
}

func readLock(fs afero.Fs, path string) (lockInfo, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return lockInfo{}, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return lockInfo{}, fmt.Errorf("decode lock: %w", err)
	}
	return info, nil
}
