// Package vault resolves MySQL and storage secrets from HashiCorp Vault.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/mitchellh/mapstructure"

	"github.com/kebairia/mybak/internal/config"
)

const (
	approleSecretIDPath = "auth/approle/role/%s/secret-id"
	approleLoginPath    = "auth/approle/login"
)

var (
	// ErrClientInit indicates failure to initialize the Vault API client.
	ErrClientInit = errors.New("vault client initialization failed")
	// ErrSecretNotFound is returned when a path holds no data.
	ErrSecretNotFound = errors.New("vault secret not found")
)

type Option func(*options)

type options struct {
	address  string
	token    string
	roleID   string
	roleName string
}

func WithAddress(address string) Option {
	return func(o *options) {
		if address != "" {
			o.address = address
		}
	}
}

func WithToken(token string) Option {
	return func(o *options) {
		if token != "" {
			o.token = token
		}
	}
}

func WithAppRole(roleID, roleName string) Option {
	return func(o *options) {
		o.roleID = roleID
		o.roleName = roleName
	}
}

type Client struct {
	api  *vault.Client
	opts *options

	mysqlPath   string
	storagePath string
}

// DynamicCredentials is a leased database user issued by the database
// secrets engine.
type DynamicCredentials struct {
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	TTL      time.Duration `mapstructure:"-"`
}

// StorageSecrets holds cloud credentials read from a KV path. Any field may
// be empty; only non-empty values override configuration.
type StorageSecrets struct {
	AzureAccountKey   string `mapstructure:"azure_account_key"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`
}

// NewClient creates a Vault client. VAULT_ADDR and VAULT_TOKEN are the
// defaults; AppRole login runs when both role id and role name are set.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	o := &options{
		address: os.Getenv("VAULT_ADDR"),
		token:   os.Getenv("VAULT_TOKEN"),
	}
	for _, opt := range opts {
		opt(o)
	}

	apiCfg := vault.DefaultConfig()
	if o.address != "" {
		apiCfg.Address = o.address
	}
	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, err)
	}

	client := &Client{api: api, opts: o}
	if o.token != "" {
		client.api.SetToken(o.token)
	}
	if o.roleID != "" && o.roleName != "" {
		if err := client.loginAppRole(ctx); err != nil {
			return nil, fmt.Errorf("%w: approle login: %v", ErrClientInit, err)
		}
	}
	return client, nil
}

// FromConfig builds a client for the vault section of cfg. It returns nil
// when no secret path is configured.
func FromConfig(ctx context.Context, cfg config.VaultConfig) (*Client, error) {
	if cfg.MySQLPath == "" && cfg.StoragePath == "" {
		return nil, nil
	}
	c, err := NewClient(ctx,
		WithAddress(cfg.Address),
		WithToken(cfg.Token),
		WithAppRole(cfg.RoleID, cfg.RoleName),
	)
	if err != nil {
		return nil, err
	}
	c.mysqlPath = cfg.MySQLPath
	c.storagePath = cfg.StoragePath
	return c, nil
}

func (c *Client) loginAppRole(ctx context.Context) error {
	path := fmt.Sprintf(approleSecretIDPath, c.opts.roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("generate secret_id: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("no secret_id returned from %s", path)
	}
	sid, ok := resp.Data["secret_id"].(string)
	if !ok || sid == "" {
		return fmt.Errorf("no secret_id returned from %s", path)
	}

	loginResp, err := c.api.Logical().WriteWithContext(ctx, approleLoginPath, map[string]any{
		"role_id":   c.opts.roleID,
		"secret_id": sid,
	})
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if loginResp == nil || loginResp.Auth == nil || loginResp.Auth.ClientToken == "" {
		return errors.New("no token in login response")
	}
	c.api.SetToken(loginResp.Auth.ClientToken)
	return nil
}

// GetDynamicCredentials reads a database secrets engine role path, e.g.
// database/creds/backup.
func (c *Client) GetDynamicCredentials(ctx context.Context, path string) (DynamicCredentials, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return DynamicCredentials{}, fmt.Errorf("read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return DynamicCredentials{}, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}
	creds, err := decodeDynamic(secret.Data)
	if err != nil {
		return DynamicCredentials{}, fmt.Errorf("decode %s: %w", path, err)
	}
	creds.TTL = time.Duration(secret.LeaseDuration) * time.Second
	return creds, nil
}

// GetStorageSecrets reads a KV path holding cloud credentials. Both KV v1
// and v2 layouts are accepted.
func (c *Client) GetStorageSecrets(ctx context.Context, path string) (StorageSecrets, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return StorageSecrets{}, fmt.Errorf("read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return StorageSecrets{}, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}
	return decodeStorage(secret.Data)
}

// MySQLCredentials returns the dynamic user for the configured mysql path.
func (c *Client) MySQLCredentials(ctx context.Context) (string, string, error) {
	creds, err := c.GetDynamicCredentials(ctx, c.mysqlPath)
	if err != nil {
		return "", "", err
	}
	return creds.Username, creds.Password, nil
}

// ApplyStorageSecrets overlays secrets from the configured storage path
// onto cfg. It is a no-op when no storage path is configured.
func (c *Client) ApplyStorageSecrets(ctx context.Context, cfg *config.StorageConfig) error {
	if c.storagePath == "" {
		return nil
	}
	s, err := c.GetStorageSecrets(ctx, c.storagePath)
	if err != nil {
		return err
	}
	s.Apply(cfg)
	return nil
}

// HasMySQLPath reports whether MySQL credentials come from Vault.
func (c *Client) HasMySQLPath() bool {
	return c.mysqlPath != ""
}

// Apply copies the non-empty secrets into cfg.
func (s StorageSecrets) Apply(cfg *config.StorageConfig) {
	if s.AzureAccountKey != "" {
		cfg.Azure.AccountKey = s.AzureAccountKey
	}
	if s.S3AccessKeyID != "" {
		cfg.S3.AccessKeyID = s.S3AccessKeyID
	}
	if s.S3SecretAccessKey != "" {
		cfg.S3.SecretAccessKey = s.S3SecretAccessKey
	}
}

func decodeDynamic(data map[string]any) (DynamicCredentials, error) {
	var creds DynamicCredentials
	if err := mapstructure.Decode(data, &creds); err != nil {
		return DynamicCredentials{}, err
	}
	if creds.Username == "" || creds.Password == "" {
		return DynamicCredentials{}, errors.New("username or password missing")
	}
	return creds, nil
}

func decodeStorage(data map[string]any) (StorageSecrets, error) {
	// KV v2 nests the payload under "data" next to "metadata".
	if inner, ok := data["data"].(map[string]any); ok {
		if _, hasMeta := data["metadata"]; hasMeta {
			data = inner
		}
	}
	var s StorageSecrets
	if err := mapstructure.Decode(data, &s); err != nil {
		return StorageSecrets{}, fmt.Errorf("decode storage secrets: %w", err)
	}
	return s, nil
}
