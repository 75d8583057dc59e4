package operations

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/kebairia/mybak/internal/database"
)

// duplicateOf returns X when name is X+X for a valid binlog name X.
func duplicateOf(name string) (string, bool) {
	if len(name)%2 != 0 || len(name) == 0 {
		return "", false
	}
	half := name[:len(name)/2]
	if name[len(name)/2:] != half {
		return "", false
	}
	if database.ValidateBinlogName(half) != nil {
		return "", false
	}
	return half, true
}

// NormalizeDuplicates renames every file in dir named X+X to X, replacing
// any X already present. It returns the names that were repaired.
func NormalizeDuplicates(fs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var fixed []string
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		target, ok := duplicateOf(e.Name())
		if !ok {
			continue
		}
		src := filepath.Join(dir, e.Name())
		dst := filepath.Join(dir, target)
		if exists, _ := afero.Exists(fs, dst); exists {
			if err := fs.Remove(dst); err != nil {
				return fixed, fmt.Errorf("replace %s: %w", dst, err)
			}
		}
		if err := fs.Rename(src, dst); err != nil {
			return fixed, fmt.Errorf("rename %s: %w", src, err)
		}
		fixed = append(fixed, target)
	}
	return fixed, nil
}

// VerifyBinlogs lists the files in dir that look like binlogs of one of
// bases. Zero matches is ErrNoBinlogs.
func VerifyBinlogs(fs afero.Fs, dir string, bases map[string]struct{}) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var found []string
	for _, e := range entries {
		if e.Mode().IsRegular() && database.IsBinlogFile(e.Name(), bases) {
			found = append(found, e.Name())
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoBinlogs, dir)
	}
	sort.Strings(found)
	return found, nil
}
