package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap/zapcore"
)

// Supported values for the enumerated settings.
const (
	ProviderAzure = "azure"
	ProviderS3    = "s3"
	ProviderGCS   = "gcs"

	CompressionGzip = "gzip"
	CompressionZstd = "zstd"

	DefaultContainerPrefix = "mysql-backup"
)

// labelPattern keeps labels usable as directory and container name segments.
var labelPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidLabel reports whether label can scope a run's directories and container.
func ValidLabel(label string) bool {
	return labelPattern.MatchString(label)
}

// Validate checks the loaded configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	add := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if c.MySQL.Host == "" {
		add("mysql.host is required")
	}
	if c.MySQL.User == "" && c.Vault.MySQLPath == "" {
		add("mysql.user is required unless vault.mysql_path is set")
	}
	if c.Features.UseMySQLDump && c.MySQL.DumpBinary == "" {
		add("mysql.dump_binary is required when features.use_mysqldump is enabled")
	}
	if c.Features.UseMySQLBinlog && c.MySQL.BinlogBinary == "" {
		add("mysql.binlog_binary is required when features.use_mysqlbinlog is enabled")
	}

	if c.Backup.Root == "" {
		add("backup.root is required")
	}
	if c.StateDir == "" {
		add("state_dir is required")
	} else if c.Backup.Root != "" && within(c.StateDir, c.Backup.Root) {
		add("state_dir %q must not be inside backup.root %q: the retention sweep would delete it", c.StateDir, c.Backup.Root)
	}
	if c.Backup.Label != "" && !ValidLabel(c.Backup.Label) {
		add("backup.label %q must match %s", c.Backup.Label, labelPattern)
	}
	if c.Backup.Label == "" && c.Backup.LabelFormat == "" {
		add("backup.label_format is required when backup.label is empty")
	}
	switch c.Backup.Compression {
	case CompressionGzip, CompressionZstd:
	default:
		add("backup.compression %q must be %q or %q", c.Backup.Compression, CompressionGzip, CompressionZstd)
	}

	switch c.Storage.Provider {
	case ProviderAzure:
		az := c.Storage.Azure
		if az.AccountName == "" {
			add("storage.azure.storage_account_name is required")
		}
		if az.CreateAccount && (az.ResourceGroup == "" || az.Location == "") {
			add("storage.azure.resource_group and storage.azure.location are required when create_account is enabled")
		}
		if az.AccountKey == "" && az.ResourceGroup == "" && c.Vault.StoragePath == "" {
			add("storage.azure.account_key, storage.azure.resource_group or vault.storage_path is required to resolve the account key")
		}
	case ProviderS3:
		if c.Storage.S3.Region == "" {
			add("storage.s3.region is required")
		}
	case ProviderGCS:
		if c.Storage.GCS.Project == "" {
			add("storage.gcs.project is required")
		}
	default:
		add("storage.provider %q must be one of %q, %q, %q", c.Storage.Provider, ProviderAzure, ProviderS3, ProviderGCS)
	}
	if c.Storage.ContainerPrefix == "" {
		add("storage.container_prefix is required")
	}
	if (c.Storage.Provider == ProviderS3 || c.Storage.Provider == ProviderGCS) &&
		c.Storage.ContainerPrefix == DefaultContainerPrefix {
		add("storage.container_prefix must not be the default %q with provider %q: bucket names are global",
			DefaultContainerPrefix, c.Storage.Provider)
	}

	if c.Retention.Days < 0 {
		add("retention.days must not be negative, got %d", c.Retention.Days)
	}

	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		add("retry intervals must be positive and max_interval >= initial_interval")
	}

	for name, d := range map[string]time.Duration{
		"network": c.Timeouts.Network,
		"dump":    c.Timeouts.Dump,
		"binlog":  c.Timeouts.Binlog,
		"upload":  c.Timeouts.Upload,
	} {
		if d <= 0 {
			add("timeouts.%s must be positive", name)
		}
	}

	if (c.Vault.RoleID == "") != (c.Vault.RoleName == "") {
		add("vault.role_id and vault.role_name must be set together")
	}
	if (c.Vault.MySQLPath != "" || c.Vault.StoragePath != "") && c.Vault.Address == "" {
		add("vault.address is required when a vault path is set")
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		add("log.format %q must be \"console\" or \"json\"", c.Log.Format)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidateConfig, err)
	}
	return nil
}

// within reports whether path equals root or lies below it.
func within(path, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
