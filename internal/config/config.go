// Package config loads chorechart settings from a config file, CHORECHART_
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CHORECHART"

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

type Config struct {
	Log     Log     `mapstructure:"log"`
	HTTP    HTTP    `mapstructure:"http"`
	Storage Storage `mapstructure:"storage"`
	Ledger  Ledger  `mapstructure:"ledger"`
	Backup  Backup  `mapstructure:"backup"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTP struct {
	Port         string `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	RateLimit    int    `mapstructure:"rate_limit"`
}

// AuthEnabled reports whether basic auth credentials are configured.
func (h HTTP) AuthEnabled() bool {
	return h.Username != "" && h.PasswordHash != ""
}

type Storage struct {
	Backend    string `mapstructure:"backend"`
	Tenant     string `mapstructure:"tenant"`
	Dir        string `mapstructure:"dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Mongo      Mongo  `mapstructure:"mongo"`
}

type Mongo struct {
	URI            string        `mapstructure:"uri"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type Ledger struct {
	// Retention is how long transactions are kept before settlement folds
	// them into a carried forward balance. Zero keeps everything.
	Retention       time.Duration `mapstructure:"retention"`
	ReconcileOnRead bool          `mapstructure:"reconcile_on_read"`
}

type Backup struct {
	S3            S3     `mapstructure:"s3"`
	Passphrase    string `mapstructure:"passphrase"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type S3 struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Enabled reports whether snapshots can be taken.
func (b Backup) Enabled() bool {
	return b.S3.Bucket != "" && b.S3.AccessKey != "" && b.S3.SecretKey != "" && b.Passphrase != ""
}

// SetDefaults registers every key so environment variables are picked up
// when unmarshalling.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.username", "")
	v.SetDefault("http.password_hash", "")
	v.SetDefault("http.rate_limit", 120)

	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.tenant", "household")
	v.SetDefault("storage.dir", ".")
	v.SetDefault("storage.sqlite_path", "chorechart.db")
	v.SetDefault("storage.mongo.uri", "")
	v.SetDefault("storage.mongo.username", "")
	v.SetDefault("storage.mongo.password", "")
	v.SetDefault("storage.mongo.database", "household-tracker")
	v.SetDefault("storage.mongo.connect_timeout", "10s")

	v.SetDefault("ledger.retention", "0s")
	v.SetDefault("ledger.reconcile_on_read", false)

	v.SetDefault("backup.s3.endpoint", "")
	v.SetDefault("backup.s3.bucket", "")
	v.SetDefault("backup.s3.region", "us-east-1")
	v.SetDefault("backup.s3.access_key", "")
	v.SetDefault("backup.s3.secret_key", "")
	v.SetDefault("backup.passphrase", "")
	v.SetDefault("backup.retention_days", 30)
}

// Init points v at a config file and the environment. An empty cfgFile
// searches ./chorechart.yaml and $HOME/.config/chorechart/config.yaml.
// A missing config file is not an error.
func Init(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigType("yaml")
		v.SetConfigName("chorechart")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "chorechart"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Load applies defaults, decodes v and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendMongo:
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	if c.Storage.Tenant == "" {
		errs = append(errs, errors.New("storage.tenant: must not be empty"))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("http.rate_limit: must not be negative"))
	}
	if c.Ledger.Retention < 0 {
		errs = append(errs, errors.New("ledger.retention: must not be negative"))
	}
	if c.Backup.RetentionDays < 0 {
		errs = append(errs, errors.New("backup.retention_days: must not be negative"))
	}

	return errors.Join(errs...)
}
