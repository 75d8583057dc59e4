package operations

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/kebairia/mybak/internal/database"
)

// RunState tracks local artifacts through the two-phase cleanup.
type RunState string

const (
	StateStarted  RunState = "started"
	StateStaged   RunState = "staged"
	StateUploaded RunState = "uploaded"
	StateCleaned  RunState = "cleaned"
)

// Stage outcomes.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// StageResult is the outcome of one stage.
type StageResult struct {
	Stage     Stage         `json:"stage"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Upload records one archive sent to the remote target.
type Upload struct {
	Object    string `json:"object"`
	Location  string `json:"location"`
	SizeBytes int64  `json:"size_bytes"`
	Confirmed bool   `json:"confirmed"`
}

// Report describes one backup run. It is written to the state directory
// when the run ends, whatever the outcome.
type Report struct {
	RunID      string    `json:"run_id"`
	Label      string    `json:"label"`
	Container  string    `json:"container"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	State      RunState  `json:"state"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`

	Databases     []string            `json:"databases,omitempty"`
	DumpFiles     []string            `json:"dump_files,omitempty"`
	Binlogs       []string            `json:"binlogs,omitempty"`
	Rejected      []database.Rejected `json:"rejected,omitempty"`
	SQLArchive    string              `json:"sql_archive,omitempty"`
	BinlogArchive string              `json:"binlog_archive,omitempty"`
	Uploads       []Upload            `json:"uploads,omitempty"`
	Swept         []string            `json:"swept,omitempty"`

	Stages []StageResult `json:"stages"`
}

// Stage returns the recorded result for s, if any.
func (r *Report) Stage(s Stage) (StageResult, bool) {
	for _, res := range r.Stages {
		if res.Stage == s {
			return res, true
		}
	}
	return StageResult{}, false
}

// Write stores the report as indented JSON at path, replacing it atomically.
func (r *Report) Write(fs afero.Fs, path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("ensure report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report JSON: %w", err)
	}
	return writeAtomic(fs, path, append(data, '\n'))
}

// LoadReport reads a report written by Write.
func LoadReport(fs afero.Fs, path string) (*Report, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read report %q: %w", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report JSON: %w", err)
	}
	return &r, nil
}

// BinlogState remembers the newest binary log already uploaded.
type BinlogState struct {
	LastBinlog string    `json:"last_binlog"`
	RunID      string    `json:"run_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LoadBinlogState returns the zero state when path does not exist.
func LoadBinlogState(fs afero.Fs, path string) (BinlogState, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return BinlogState{}, nil
		}
		return BinlogState{}, fmt.Errorf("read binlog state: %w", err)
	}
	var s BinlogState
	if err := json.Unmarshal(data, &s); err != nil {
		return BinlogState{}, fmt.Errorf("decode binlog state: %w", err)
	}
	return s, nil
}

// Save writes the state atomically.
func (s BinlogState) Save(fs afero.Fs, path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("ensure state directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode binlog state: %w", err)
	}
	return writeAtomic(fs, path, append(data, '\n'))
}

func writeAtomic(fs afero.Fs, path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o640); err != nil {
		return fmt.Errorf("write %q: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("rename %q: %w", path, err)
	}
	return nil
}
