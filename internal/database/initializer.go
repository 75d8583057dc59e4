package database

import (
	"context"
	"fmt"

	"github.com/kebairia/mybak/internal/config"
	"github.com/kebairia/mybak/internal/logger"
	"github.com/kebairia/mybak/internal/shell"
)

// CredentialSource resolves MySQL credentials at run time, e.g. Vault
// dynamic database secrets.
type CredentialSource interface {
	MySQLCredentials(ctx context.Context) (user, password string, err error)
}

// Initialize builds the MySQL client wrapper and catalog connection settings
// from cfg. When creds is non-nil its values override the configured user
// and password.
func Initialize(
	ctx context.Context,
	cfg config.Config,
	creds CredentialSource,
	runner shell.Runner,
	log logger.Logger,
) (*MySQL, ConnectionConfig, error) {
	user, pass := cfg.MySQL.User, cfg.MySQL.Password
	if creds != nil {
		u, p, err := creds.MySQLCredentials(ctx)
		if err != nil {
			return nil, ConnectionConfig{}, fmt.Errorf("resolve mysql credentials: %w", err)
		}
		user, pass = u, p
	}
	if user == "" {
		return nil, ConnectionConfig{}, fmt.Errorf("%w: mysql user is empty", ErrInvalidInput)
	}

	m := NewMySQL(
		WithMySQLHost(cfg.MySQL.Host),
		WithMySQLPort(cfg.MySQL.Port),
		WithMySQLCredentials(user, pass),
		WithMySQLBinaries(cfg.MySQL.DumpBinary, cfg.MySQL.BinlogBinary),
		WithMySQLRunner(runner),
		WithMySQLLogger(log),
	)
	conn := ConnectionConfig{
		Host:     m.Host,
		Port:     m.Port,
		User:     user,
		Password: pass,
		Timeout:  cfg.Timeouts.Network,
	}
	return m, conn, nil
}
