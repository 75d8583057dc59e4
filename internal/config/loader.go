package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// EnvPrefix is prepended to every environment override, e.g. MYBAK_MYSQL_PASSWORD.
const EnvPrefix = "MYBAK"

// Config represents the top-level YAML configuration file.
type Config struct {
	Include   []string        `mapstructure:"include"   yaml:"include,omitempty"`
	StateDir  string          `mapstructure:"state_dir" yaml:"state_dir"`
	MySQL     MySQLConfig     `mapstructure:"mysql"     yaml:"mysql"`
	Features  FeatureConfig   `mapstructure:"features"  yaml:"features"`
	Backup    BackupConfig    `mapstructure:"backup"    yaml:"backup"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
	Retry     RetryConfig     `mapstructure:"retry"     yaml:"retry"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts"  yaml:"timeouts"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"   yaml:"cleanup"`
	Vault     VaultConfig     `mapstructure:"vault"     yaml:"vault"`
	Log       LogConfig       `mapstructure:"log"       yaml:"log"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"  yaml:"schedule"`
}

// MySQLConfig holds the source server connection and client tool settings.
type MySQLConfig struct {
	Host         string `mapstructure:"host"          yaml:"host"`
	Port         string `mapstructure:"port"          yaml:"port"`
	User         string `mapstructure:"user"          yaml:"user"`
	Password     string `mapstructure:"password"      yaml:"password,omitempty"`
	DumpBinary   string `mapstructure:"dump_binary"   yaml:"dump_binary"`
	BinlogBinary string `mapstructure:"binlog_binary" yaml:"binlog_binary"`
	// Exclude lists databases skipped in addition to the system schemas.
	Exclude []string `mapstructure:"exclude" yaml:"exclude,omitempty"`
}

// FeatureConfig toggles the two artifact types.
type FeatureConfig struct {
	UseMySQLDump   bool `mapstructure:"use_mysqldump"   yaml:"use_mysqldump"`
	UseMySQLBinlog bool `mapstructure:"use_mysqlbinlog" yaml:"use_mysqlbinlog"`
}

// BackupConfig contains global backup options.
type BackupConfig struct {
	Root        string        `mapstructure:"root"         yaml:"root"`
	Label       string        `mapstructure:"label"        yaml:"label,omitempty"`
	LabelFormat string        `mapstructure:"label_format" yaml:"label_format"`
	Compression string        `mapstructure:"compression"  yaml:"compression"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"     yaml:"lock_ttl"`
}

// StorageConfig selects the upload provider and holds per-provider settings.
type StorageConfig struct {
	Provider        string      `mapstructure:"provider"         yaml:"provider"`
	ContainerPrefix string      `mapstructure:"container_prefix" yaml:"container_prefix"`
	Azure           AzureConfig `mapstructure:"azure"            yaml:"azure"`
	S3              S3Config    `mapstructure:"s3"               yaml:"s3"`
	GCS             GCSConfig   `mapstructure:"gcs"              yaml:"gcs"`
}

// AzureConfig holds the storage account used as upload target.
type AzureConfig struct {
	AccountName   string `mapstructure:"storage_account_name" yaml:"storage_account_name"`
	AccountKey    string `mapstructure:"account_key"          yaml:"account_key,omitempty"`
	ResourceGroup string `mapstructure:"resource_group"       yaml:"resource_group"`
	Location      string `mapstructure:"location"             yaml:"location"`
	SKU           string `mapstructure:"sku"                  yaml:"sku"`
	CreateAccount bool   `mapstructure:"create_account"       yaml:"create_account"`
	// Endpoint overrides https://<account>.blob.core.windows.net, e.g. for Azurite.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	CLI      string `mapstructure:"cli"      yaml:"cli"`
}

// S3Config holds settings for AWS S3 or an S3-compatible service.
type S3Config struct {
	Region          string `mapstructure:"region"            yaml:"region"`
	Endpoint        string `mapstructure:"endpoint"          yaml:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id"     yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
}

// GCSConfig holds settings for Google Cloud Storage.
type GCSConfig struct {
	Project         string `mapstructure:"project"          yaml:"project"`
	Location        string `mapstructure:"location"         yaml:"location"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`
}

// RetentionConfig specifies the local retention window. Zero disables the sweep.
type RetentionConfig struct {
	Days int `mapstructure:"days" yaml:"days"`
}

// RetryConfig bounds the retries around network stages.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"     yaml:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"     yaml:"max_interval"`
}

// TimeoutConfig bounds every external call.
type TimeoutConfig struct {
	Network time.Duration `mapstructure:"network" yaml:"network"`
	Dump    time.Duration `mapstructure:"dump"    yaml:"dump"`
	Binlog  time.Duration `mapstructure:"binlog"  yaml:"binlog"`
	Upload  time.Duration `mapstructure:"upload"  yaml:"upload"`
}

// CleanupConfig controls removal of local artifacts.
type CleanupConfig struct {
	// Force removes local artifacts even when an upload was not confirmed.
	Force bool `mapstructure:"force" yaml:"force"`
}

// VaultConfig holds connection settings for HashiCorp Vault.
type VaultConfig struct {
	Address     string `mapstructure:"address"      yaml:"address"`
	Token       string `mapstructure:"token"        yaml:"token,omitempty"`
	RoleID      string `mapstructure:"role_id"      yaml:"role_id,omitempty"`
	RoleName    string `mapstructure:"role_name"    yaml:"role_name,omitempty"`
	MySQLPath   string `mapstructure:"mysql_path"   yaml:"mysql_path,omitempty"`
	StoragePath string `mapstructure:"storage_path" yaml:"storage_path,omitempty"`
}

// LogConfig configures the console logger and the plain-text run log.
type LogConfig struct {
	Level      string `mapstructure:"level"        yaml:"level"`
	Format     string `mapstructure:"format"       yaml:"format"`
	File       string `mapstructure:"file"         yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"  yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"  yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// ScheduleConfig holds the cron expression used by `mybak schedule`.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron" yaml:"cron"`
}

var defaults = map[string]any{
	"include":   []string{},
	"state_dir": "/var/lib/mybak",

	"mysql.host":          "localhost",
	"mysql.port":          "3306",
	"mysql.user":          "",
	"mysql.password":      "",
	"mysql.dump_binary":   "mysqldump",
	"mysql.binlog_binary": "mysqlbinlog",
	"mysql.exclude":       []string{},

	"features.use_mysqldump":   true,
	"features.use_mysqlbinlog": true,

	"backup.root":         "/var/backups/mysql",
	"backup.label":        "",
	"backup.label_format": "2006-01-02",
	"backup.compression":  "gzip",
	"backup.lock_ttl":     "24h",

	"storage.provider":                   "azure",
	"storage.container_prefix":           DefaultContainerPrefix,
	"storage.azure.storage_account_name": "",
	"storage.azure.account_key":          "",
	"storage.azure.resource_group":       "",
	"storage.azure.location":             "",
	"storage.azure.sku":                  "Standard_LRS",
	"storage.azure.create_account":       true,
	"storage.azure.endpoint":             "",
	"storage.azure.cli":                  "az",
	"storage.s3.region":                  "us-east-1",
	"storage.s3.endpoint":                "",
	"storage.s3.access_key_id":           "",
	"storage.s3.secret_access_key":       "",
	"storage.gcs.project":                "",
	"storage.gcs.location":               "",
	"storage.gcs.credentials_file":       "",

	"retention.days": 7,

	"retry.max_attempts":     3,
	"retry.initial_interval": "2s",
	"retry.max_interval":     "30s",

	"timeouts.network": "2m",
	"timeouts.dump":    "2h",
	"timeouts.binlog":  "30m",
	"timeouts.upload":  "1h",

	"cleanup.force": false,

	"vault.address":      "",
	"vault.token":        "",
	"vault.role_id":      "",
	"vault.role_name":    "",
	"vault.mysql_path":   "",
	"vault.storage_path": "",

	"log.level":        "info",
	"log.format":       "console",
	"log.file":         "",
	"log.max_size_mb":  50,
	"log.max_backups":  10,
	"log.max_age_days": 90,

	"schedule.cron": "0 2 * * *",
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, applies MYBAK_* environment overrides and
// unmarshals into the Config struct. An empty path loads defaults and
// environment only.
func (c *Config) Load(path string) error {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		// Read base configuration
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
		}

		// Merge include files (if any)
		for _, inc := range v.GetStringSlice("include") {
			data, err := os.ReadFile(inc)
			if err != nil {
				return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
			}
			if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
				return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
			}
		}
	}

	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return nil
}

// RunLabel returns the configured label, or now formatted with LabelFormat.
func (c *Config) RunLabel(now time.Time) string {
	if c.Backup.Label != "" {
		return c.Backup.Label
	}
	return now.Format(c.Backup.LabelFormat)
}
