package database

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kebairia/mybak/internal/logger"
	"github.com/kebairia/mybak/internal/shell"
)

// MySQLOption lets you override default settings on a MySQL.
type MySQLOption func(*MySQL)

// MySQL holds the connection used by the mysqldump and mysqlbinlog client tools.
type MySQL struct {
	Username     string
	Password     string
	Host         string
	Port         string
	DumpBinary   string
	BinlogBinary string
	Runner       shell.Runner
	Logger       logger.Logger
}

// NewMySQL returns a MySQL with defaults plus any overrides.
func NewMySQL(opts ...MySQLOption) *MySQL {
	m := &MySQL{
		Host:         "localhost",
		Port:         "3306",
		DumpBinary:   "mysqldump",
		BinlogBinary: "mysqlbinlog",
		Runner:       shell.ExecRunner{},
		Logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithMySQLCredentials sets username and password.
func WithMySQLCredentials(user, pass string) MySQLOption {
	return func(m *MySQL) {
		if user != "" {
			m.Username = user
		}
		if pass != "" {
			m.Password = pass
		}
	}
}

// WithMySQLHost overrides the host.
func WithMySQLHost(host string) MySQLOption {
	return func(m *MySQL) {
		if host != "" {
			m.Host = host
		}
	}
}

// WithMySQLPort overrides the port.
func WithMySQLPort(port string) MySQLOption {
	return func(m *MySQL) {
		if port != "" {
			m.Port = port
		}
	}
}

// WithMySQLBinaries overrides the client tool paths.
func WithMySQLBinaries(dump, binlog string) MySQLOption {
	return func(m *MySQL) {
		if dump != "" {
			m.DumpBinary = dump
		}
		if binlog != "" {
			m.BinlogBinary = binlog
		}
	}
}

// WithMySQLRunner swaps the process runner.
func WithMySQLRunner(r shell.Runner) MySQLOption {
	return func(m *MySQL) {
		if r != nil {
			m.Runner = r
		}
	}
}

// WithMySQLLogger sets the logger.
func WithMySQLLogger(l logger.Logger) MySQLOption {
	return func(m *MySQL) {
		if l != nil {
			m.Logger = l
		}
	}
}

func (m *MySQL) connectionArgs() []string {
	return []string{
		"--host=" + m.Host,
		"--port=" + m.Port,
		"--user=" + m.Username,
	}
}

// env passes MYSQL_PWD for non-interactive auth.
func (m *MySQL) env() []string {
	if m.Password == "" {
		return nil
	}
	return []string{"MYSQL_PWD=" + m.Password}
}

// DumpArgs builds the mysqldump argv for one database: a consistent,
// non-locking dump with GTID metadata stripped.
func (m *MySQL) DumpArgs(database string) []string {
	args := m.connectionArgs()
	return append(args,
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--set-gtid-purged=OFF",
		database,
	)
}

// Dump streams `mysqldump` output for database into w.
func (m *MySQL) Dump(ctx context.Context, database string, w io.Writer) error {
	if err := ValidateDatabaseName(database); err != nil {
		return fmt.Errorf("%w: database %q: %v", ErrInvalidInput, database, err)
	}

	m.Logger.Info("dump started", "database", database, "host", m.Host)
	start := time.Now()
	_, err := m.Runner.Run(ctx, shell.Command{
		Name:   m.DumpBinary,
		Args:   m.DumpArgs(database),
		Env:    m.env(),
		Stdout: w,
	})
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrDumpFailed, database, err)
	}
	m.Logger.Info("dump completed", "database", database, "duration", time.Since(start).String())
	return nil
}
