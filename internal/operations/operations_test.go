package operations

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/mybak/internal/config"
	"github.com/kebairia/mybak/internal/database"
)

func TestNormalizeDuplicates(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/backups/2024-06-15/binlog"
	require.NoError(t, fs.MkdirAll(dir, 0o750))
	require.NoError(t, afero.WriteFile(fs, dir+"/mysql-bin.000001mysql-bin.000001", []byte("full"), 0o640))
	require.NoError(t, afero.WriteFile(fs, dir+"/mysql-bin.000002", []byte("ok"), 0o640))
	require.NoError(t, afero.WriteFile(fs, dir+"/notes.txtnotes.txt", []byte("x"), 0o640))

	fixed, err := NormalizeDuplicates(fs, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"mysql-bin.000001"}, fixed)

	names, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	var got []string
	for _, n := range names {
		got = append(got, n.Name())
	}
	assert.ElementsMatch(t, []string{"mysql-bin.000001", "mysql-bin.000002", "notes.txtnotes.txt"}, got)

	data, err := afero.ReadFile(fs, dir+"/mysql-bin.000001")
	require.NoError(t, err)
	assert.Equal(t, "full", string(data))
}

func TestNormalizeDuplicates_ReplacesExisting(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/b"
	require.NoError(t, fs.MkdirAll(dir, 0o750))
	require.NoError(t, afero.WriteFile(fs, dir+"/binlog.000007", []byte("stub"), 0o640))
	require.NoError(t, afero.WriteFile(fs, dir+"/binlog.000007binlog.000007", []byte("full"), 0o640))

	_, err := NormalizeDuplicates(fs, dir)
	require.NoError(t, err)

	entries, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "binlog.000007", entries[0].Name())
	data, _ := afero.ReadFile(fs, dir+"/binlog.000007")
	assert.Equal(t, "full", string(data))
}

func TestVerifyBinlogs(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/b"
	require.NoError(t, fs.MkdirAll(dir, 0o750))

	_, err := VerifyBinlogs(fs, dir, database.BinlogBases([]string{"mysql-bin.000001"}))
	assert.ErrorIs(t, err, ErrNoBinlogs)

	require.NoError(t, afero.WriteFile(fs, dir+"/other-bin.000001", nil, 0o640))
	require.NoError(t, afero.WriteFile(fs, dir+"/mysql-bin.index", nil, 0o640))
	_, err = VerifyBinlogs(fs, dir, database.BinlogBases([]string{"mysql-bin.000001"}))
	assert.ErrorIs(t, err, ErrNoBinlogs)

	require.NoError(t, afero.WriteFile(fs, dir+"/mysql-bin.000002", nil, 0o640))
	require.NoError(t, afero.WriteFile(fs, dir+"/mysql-bin.000001", nil, 0o640))
	found, err := VerifyBinlogs(fs, dir, database.BinlogBases([]string{"mysql-bin.000001"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"mysql-bin.000001", "mysql-bin.000002"}, found)
}

func TestLock(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2024, 6, 15, 3, 0, 0, 0, time.UTC)

	first, err := AcquireLock(fs, "/state/mybak.lock", "run-1", time.Hour, now)
	require.NoError(t, err)

	_, err = AcquireLock(fs, "/state/mybak.lock", "run-2", time.Hour, now.Add(time.Minute))
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "run-1")

	require.NoError(t, first.Release())
	second, err := AcquireLock(fs, "/state/mybak.lock", "run-2", time.Hour, now.Add(time.Minute))
	require.NoError(t, err)

	// A stale lock is taken over, and the old holder cannot release it.
	third, err := AcquireLock(fs, "/state/mybak.lock", "run-3", time.Hour, now.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Error(t, second.Release())
	require.NoError(t, third.Release())

	ok, _ := afero.Exists(fs, "/state/mybak.lock")
	assert.False(t, ok)
}

func TestLock_UnreadableLockHeldUntilExpired(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2024, 6, 15, 3, 0, 0, 0, time.UTC)
	path := "/state/mybak.lock"

	// Holder created the file but has not written its record yet.
	require.NoError(t, afero.WriteFile(fs, path, nil, 0o640))
	require.NoError(t, fs.Chtimes(path, now, now))

	_, err := AcquireLock(fs, path, "run-b", time.Hour, now.Add(time.Second))
	require.ErrorIs(t, err, ErrLocked)
	ok, _ := afero.Exists(fs, path)
	assert.True(t, ok)

	_, err = AcquireLock(fs, path, "run-b", 0, now.Add(48*time.Hour))
	require.ErrorIs(t, err, ErrLocked, "ttl <= 0 never expires a lock")

	lock, err := AcquireLock(fs, path, "run-b", time.Hour, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"generic", errors.New("boom"), ExitGeneric},
		{"config", fmt.Errorf("%w: bad", config.ErrValidateConfig), ExitConfig},
		{"load", fmt.Errorf("%w: missing", config.ErrLoadConfig), ExitConfig},
		{"locked", fmt.Errorf("%w: run x", ErrLocked), ExitLocked},
		{"target", &StageError{Stage: StageTarget, Err: errors.New("x")}, ExitTarget},
		{"binlog missing", &StageError{Stage: StageVerifyBinlogs, Err: ErrNoBinlogs}, ExitBinlogMissing},
		{"wrapped upload", fmt.Errorf("run: %w", &StageError{Stage: StageUpload, Err: errors.New("x")}), ExitUpload},
		{"retention", &StageError{Stage: StageRetention, Err: errors.New("x")}, ExitRetention},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestStageCodesAreDistinctPerClass(t *testing.T) {
	for _, s := range Stages {
		code, ok := stageCodes[s]
		require.True(t, ok, s)
		assert.Greater(t, code, ExitLocked, s)
	}
}

func TestNewRunConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Backup.Compression = "zstd"

	rc, err := NewRunConfig(cfg, RunOptions{SkipBinlog: true, ForceClean: true}, testNow)
	require.NoError(t, err)

	assert.NotEmpty(t, rc.RunID)
	assert.Equal(t, label, rc.Label)
	assert.Equal(t, "/backups/2024-06-15/sql", rc.SQLDir)
	assert.Equal(t, "/backups/2024-06-15/binlog", rc.BinlogDir)
	assert.Equal(t, "/backups/2024-06-15", rc.StagingDir())
	assert.Equal(t, "/backups/sql-backup-2024-06-15.tar.zst", rc.SQLArchive)
	assert.Equal(t, "binlog-backup-2024-06-15.tar.zst", rc.BinlogObject)
	assert.Equal(t, "mysql-backup-2024-06-15", rc.Container)
	assert.Equal(t, "/state/mybak.lock", rc.LockPath())
	assert.True(t, rc.UseDump)
	assert.False(t, rc.UseBinlog)
	assert.True(t, rc.ForceClean)
}

func TestNewRunConfig_LabelFromClock(t *testing.T) {
	cfg := baseConfig()
	cfg.Backup.Label = ""
	cfg.Backup.LabelFormat = "2006-01-02"

	rc, err := NewRunConfig(cfg, RunOptions{}, testNow)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-15", rc.Label)

	_, err = NewRunConfig(cfg, RunOptions{Label: "../etc"}, testNow)
	assert.ErrorIs(t, err, config.ErrValidateConfig)
}
