package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Catalog lists databases and binary logs on the source server.
type Catalog struct {
	db *sql.DB
}

// ConnectionConfig holds what is needed to open the catalog connection.
type ConnectionConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Timeout  time.Duration
}

// DSN renders the go-sql-driver DSN for cfg.
func (c ConnectionConfig) DSN() string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, c.Port)
	mc.Timeout = c.Timeout
	mc.ReadTimeout = c.Timeout
	mc.WriteTimeout = c.Timeout
	return mc.FormatDSN()
}

// OpenCatalog opens a small connection pool against the source server and
// pings it.
func OpenCatalog(ctx context.Context, cfg ConnectionConfig) (*Catalog, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrListFailed, err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrListFailed, cfg.Host, err)
	}
	return &Catalog{db: db}, nil
}

// NewCatalog wraps an existing handle; tests pass a sqlmock connection.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// Close releases the connection pool.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// ListDatabases returns every schema name reported by SHOW DATABASES,
// unfiltered. Use DecodeDatabases to build the dump set.
func (c *Catalog) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("%w: show databases: %v", ErrListFailed, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scan database name: %v", ErrListFailed, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate databases: %v", ErrListFailed, err)
	}
	return names, nil
}

// ListBinaryLogs returns SHOW BINARY LOGS in server order. Newer servers
// add an Encrypted column, so only the first two columns are read.
func (c *Catalog) ListBinaryLogs(ctx context.Context) ([]BinaryLog, error) {
	rows, err := c.db.QueryContext(ctx, "SHOW BINARY LOGS")
	if err != nil {
		return nil, fmt.Errorf("%w: show binary logs: %v", ErrListFailed, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: binary log columns: %v", ErrListFailed, err)
	}
	if len(cols) < 2 {
		return nil, fmt.Errorf("%w: unexpected binary log columns %v", ErrListFailed, cols)
	}

	var logs []BinaryLog
	for rows.Next() {
		dest := make([]any, len(cols))
		raw := make([]sql.RawBytes, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%w: scan binary log: %v", ErrListFailed, err)
		}
		size, err := strconv.ParseInt(string(raw[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: binary log size %q: %v", ErrListFailed, raw[1], err)
		}
		logs = append(logs, BinaryLog{Name: string(raw[0]), Size: size})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate binary logs: %v", ErrListFailed, err)
	}
	return logs, nil
}
