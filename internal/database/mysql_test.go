package database

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/mybak/internal/shell"
)

type recordingRunner struct {
	commands []shell.Command
	output   string
	err      error
}

func (r *recordingRunner) Run(_ context.Context, cmd shell.Command) (shell.Result, error) {
	r.commands = append(r.commands, cmd)
	if cmd.Stdout != nil && r.output != "" {
		if _, err := io.WriteString(cmd.Stdout, r.output); err != nil {
			return shell.Result{}, err
		}
	}
	return shell.Result{}, r.err
}

func newTestMySQL(r shell.Runner) *MySQL {
	return NewMySQL(
		WithMySQLHost("db.internal"),
		WithMySQLPort("3306"),
		WithMySQLCredentials("backup", "secret"),
		WithMySQLRunner(r),
	)
}

func TestMySQL_DumpArgs(t *testing.T) {
	runner := &recordingRunner{output: "-- dump\n"}
	m := newTestMySQL(runner)

	var out bytes.Buffer
	require.NoError(t, m.Dump(context.Background(), "shop", &out))

	require.Len(t, runner.commands, 1)
	cmd := runner.commands[0]
	assert.Equal(t, "mysqldump", cmd.Name)
	assert.Equal(t, []string{
		"--host=db.internal", "--port=3306", "--user=backup",
		"--single-transaction", "--quick", "--lock-tables=false", "--set-gtid-purged=OFF",
		"shop",
	}, cmd.Args)
	assert.Equal(t, []string{"MYSQL_PWD=secret"}, cmd.Env)
	assert.NotContains(t, cmd.String(), "secret")
	assert.Equal(t, "-- dump\n", out.String())
}

func TestMySQL_DumpRejectsMalformedName(t *testing.T) {
	runner := &recordingRunner{}
	err := newTestMySQL(runner).Dump(context.Background(), "--all-databases", io.Discard)

	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, runner.commands)
}

func TestMySQL_DumpFailure(t *testing.T) {
	runner := &recordingRunner{err: errors.New("exit status 2")}
	err := newTestMySQL(runner).Dump(context.Background(), "shop", io.Discard)
	assert.ErrorIs(t, err, ErrDumpFailed)
}

func TestMySQL_FetchArgsUseDirectoryPrefix(t *testing.T) {
	runner := &recordingRunner{}
	m := newTestMySQL(runner)
	dir := filepath.Join("backups", "2024-01-01", "binlog")

	require.NoError(t, m.Fetch(context.Background(), "mysql-bin.000002", dir))

	cmd := runner.commands[0]
	assert.Equal(t, "mysqlbinlog", cmd.Name)
	assert.Contains(t, cmd.Args, "--read-from-remote-server")
	assert.Contains(t, cmd.Args, "--raw")
	assert.Contains(t, cmd.Args, "--verify-binlog-checksum")
	assert.Contains(t, cmd.Args, "--result-file="+dir+string(filepath.Separator))
	assert.Equal(t, "mysql-bin.000002", cmd.Args[len(cmd.Args)-1])
}

func TestMySQL_FetchRejectsMalformedName(t *testing.T) {
	runner := &recordingRunner{}
	err := newTestMySQL(runner).Fetch(context.Background(), "mysql-bin.index", t.TempDir())
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, runner.commands)
}

func TestSelectBinlogs(t *testing.T) {
	logs := []BinaryLog{
		{Name: "mysql-bin.000001"},
		{Name: "mysql-bin.000002"},
		{Name: "mysql-bin.000003"},
	}

	all, _ := SelectBinlogs(logs, "")
	assert.Equal(t, []string{"mysql-bin.000001", "mysql-bin.000002", "mysql-bin.000003"}, all)

	resumed, _ := SelectBinlogs(logs, "mysql-bin.000002")
	assert.Equal(t, []string{"mysql-bin.000002", "mysql-bin.000003"}, resumed)

	purged, _ := SelectBinlogs(logs[1:], "mysql-bin.000001")
	assert.Equal(t, []string{"mysql-bin.000002", "mysql-bin.000003"}, purged)

	_, rejected := SelectBinlogs(append(logs, BinaryLog{Name: "weird name"}), "")
	require.Len(t, rejected, 1)
	assert.Equal(t, "weird name", rejected[0].Name)
}
