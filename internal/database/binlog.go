package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kebairia/mybak/internal/shell"
)

// FetchArgs builds the mysqlbinlog argv that copies one binary log verbatim
// from the server into destDir, verifying event checksums on the way.
//
// With --raw, --result-file is a prefix. Passing the directory with a
// trailing separator yields destDir/<name>; passing a file path instead
// would produce the <name><name> artifact NormalizeDuplicates repairs.
func (m *MySQL) FetchArgs(name, destDir string) []string {
	prefix := filepath.Clean(destDir) + string(os.PathSeparator)
	args := []string{"--read-from-remote-server"}
	args = append(args, m.connectionArgs()...)
	return append(args,
		"--raw",
		"--verify-binlog-checksum",
		"--result-file="+prefix,
		name,
	)
}

// Fetch downloads the binary log name into destDir with `mysqlbinlog`.
func (m *MySQL) Fetch(ctx context.Context, name, destDir string) error {
	if err := ValidateBinlogName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	m.Logger.Info("binlog fetch started", "binlog", name, "host", m.Host)
	start := time.Now()
	if _, err := m.Runner.Run(ctx, shell.Command{
		Name: m.BinlogBinary,
		Args: m.FetchArgs(name, destDir),
		Env:  m.env(),
	}); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFetchFailed, name, err)
	}
	m.Logger.Info("binlog fetch completed", "binlog", name, "duration", time.Since(start).String())
	return nil
}

// SelectBinlogs decodes SHOW BINARY LOGS into the names to fetch this run.
// When last is known and still listed, fetching resumes at last (it may
// have grown since) and older logs are skipped. When last was purged or is
// empty every listed log is fetched.
func SelectBinlogs(logs []BinaryLog, last string) (names []string, rejected []Rejected) {
	start := 0
	if last != "" {
		for i, l := range logs {
			if l.Name == last {
				start = i
				break
			}
		}
	}
	for _, l := range logs[start:] {
		if err := ValidateBinlogName(l.Name); err != nil {
			rejected = append(rejected, Rejected{Name: l.Name, Reason: err.Error()})
			continue
		}
		names = append(names, l.Name)
	}
	return names, rejected
}

// BinlogBases returns the set of basenames used by names.
func BinlogBases(names []string) map[string]struct{} {
	bases := make(map[string]struct{}, 1)
	for _, n := range names {
		bases[BinlogBase(n)] = struct{}{}
	}
	return bases
}

// DuplicateName is the artifact some mysqlbinlog invocations leave behind.
func DuplicateName(name string) string {
	return strings.Repeat(name, 2)
}
