package operations

import (
	"errors"
	"fmt"

	"github.com/kebairia/mybak/internal/config"
)

// Stage names one step of the backup pipeline.
type Stage string

const (
	StageTarget        Stage = "ensure_target"
	StageStaging       Stage = "ensure_staging"
	StageEnumerate     Stage = "enumerate_databases"
	StageDump          Stage = "dump_databases"
	StageArchiveSQL    Stage = "archive_sql"
	StageFetchBinlogs  Stage = "fetch_binlogs"
	StageNormalize     Stage = "normalize_binlogs"
	StageVerifyBinlogs Stage = "verify_binlogs"
	StageArchiveBinlog Stage = "archive_binlogs"
	StageUpload        Stage = "upload"
	StageCleanup       Stage = "cleanup"
	StageRetention     Stage = "retention_sweep"
)

// Stages lists the pipeline in execution order.
var Stages = []Stage{
	StageTarget,
	StageStaging,
	StageEnumerate,
	StageDump,
	StageArchiveSQL,
	StageFetchBinlogs,
	StageNormalize,
	StageVerifyBinlogs,
	StageArchiveBinlog,
	StageUpload,
	StageCleanup,
	StageRetention,
}

// Process exit codes.
const (
	ExitOK            = 0
	ExitGeneric       = 1
	ExitConfig        = 2
	ExitLocked        = 3
	ExitTarget        = 4
	ExitStaging       = 5
	ExitEnumerate     = 6
	ExitDump          = 7
	ExitBinlogFetch   = 8
	ExitBinlogMissing = 9
	ExitArchive       = 10
	ExitUpload        = 11
	ExitCleanup       = 12
	ExitRetention     = 13
)

var stageCodes = map[Stage]int{
	StageTarget:        ExitTarget,
	StageStaging:       ExitStaging,
	StageEnumerate:     ExitEnumerate,
	StageDump:          ExitDump,
	StageArchiveSQL:    ExitArchive,
	StageFetchBinlogs:  ExitBinlogFetch,
	StageNormalize:     ExitBinlogFetch,
	StageVerifyBinlogs: ExitBinlogMissing,
	StageArchiveBinlog: ExitArchive,
	StageUpload:        ExitUpload,
	StageCleanup:       ExitCleanup,
	StageRetention:     ExitRetention,
}

var (
	// ErrLocked means another run holds the lock file.
	ErrLocked = errors.New("another backup run is in progress")
	// ErrNoBinlogs is the hard gate after the binlog fetch.
	ErrNoBinlogs = errors.New("no binlog files retrieved")
	// ErrUploadsUnconfirmed blocks cleanup when an enabled upload is not confirmed.
	ErrUploadsUnconfirmed = errors.New("uploads not confirmed")
)

// StageError ties a failure to the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Code returns the exit code of the failed stage.
func (e *StageError) Code() int {
	if code, ok := stageCodes[e.Stage]; ok {
		return code
	}
	return ExitGeneric
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var se *StageError
	switch {
	case errors.Is(err, ErrLocked):
		return ExitLocked
	case errors.Is(err, config.ErrLoadConfig), errors.Is(err, config.ErrValidateConfig):
		return ExitConfig
	case errors.As(err, &se):
		return se.Code()
	default:
		return ExitGeneric
	}
}
