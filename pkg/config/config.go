// Package config provides configuration management for the classreg tools.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	apperrors "github.com/classreg/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. CLASSREG_ARCHIVE_COMPRESSION.
const EnvPrefix = "CLASSREG"

// Config holds all configuration for the application.
type Config struct {
	Registry  RegistryConfig  `mapstructure:"registry"`
	Classpath ClasspathConfig `mapstructure:"classpath"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// RegistryConfig sizes the per-namespace dictionaries and selects the
// definition policy.
type RegistryConfig struct {
	BootTableSize        int    `mapstructure:"boot_table_size"`
	DefaultTableSize     int    `mapstructure:"default_table_size"`
	ResizeLoadFactor     int    `mapstructure:"resize_load_factor"`
	MaxTableSize         int    `mapstructure:"max_table_size"`
	AllowParallelDefine  bool   `mapstructure:"allow_parallel_define"`
	StrictDuplicateCheck bool   `mapstructure:"strict_duplicate_check"`
	RootModule           string `mapstructure:"root_module"`
	// ModuleVersions lists runtime versions of builtin modules as
	// name@version entries, for example java.base@17.0.2.
	ModuleVersions []string `mapstructure:"module_versions"`
}

// ModuleVersionMap returns ModuleVersions keyed by module name.
func (r RegistryConfig) ModuleVersionMap() (map[string]string, error) {
	if len(r.ModuleVersions) == 0 {
		return nil, nil
	}
	versions := make(map[string]string, len(r.ModuleVersions))
	for _, entry := range r.ModuleVersions {
		name, version, ok := strings.Cut(entry, "@")
		if !ok || name == "" || version == "" {
			return nil, apperrors.Newf(apperrors.CodeConfigError,
				"registry module_versions entry %q is not name@version", entry)
		}
		versions[name] = version
	}
	return versions, nil
}

// ClasspathConfig lists the path entries searched by the builtin namespaces.
type ClasspathConfig struct {
	Boot     []string `mapstructure:"boot"`
	Platform []string `mapstructure:"platform"`
	App      []string `mapstructure:"app"`
	// Bootstrap synthesizes java/lang/Object when no boot entry provides it.
	Bootstrap bool `mapstructure:"bootstrap"`
}

// ArchiveConfig holds snapshot dump and restore settings.
type ArchiveConfig struct {
	ClasslistPath      string `mapstructure:"classlist_path"`
	OutputPath         string `mapstructure:"archive_output_path"`
	Compression        string `mapstructure:"compression"` // zstd, gzip or none
	ValidateTimestamps bool   `mapstructure:"validate_timestamps"`
	PreloadWorkers     int    `mapstructure:"preload_workers"`
	StorageKeyPrefix   string `mapstructure:"storage_key_prefix"`
	// ExcludeGenerated leaves out proxies and other run-time generated types.
	ExcludeGenerated bool     `mapstructure:"exclude_generated"`
	ExcludePrefixes  []string `mapstructure:"exclude_prefixes"`
}

// DatabaseConfig holds the archive catalog connection.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // postgres, mysql or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"` // file path for sqlite
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
	Tracing  bool   `mapstructure:"tracing"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos, local or none
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"` // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"` // e.g., "https" or "http"
	// Endpoint replaces the bucket URL derived from bucket, region and domain.
	Endpoint  string `mapstructure:"endpoint"`
	LocalPath string `mapstructure:"local_path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"` // empty writes to stdout
}

// TelemetryConfig configures OTLP tracing. OTEL_* variables override it.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Endpoint    string `mapstructure:"endpoint"`
	// Protocol is grpc or http/protobuf.
	Protocol     string  `mapstructure:"protocol"`
	Insecure     bool    `mapstructure:"insecure"`
	Sampler      string  `mapstructure:"sampler"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
}

// Load reads configuration from the specified file path. A missing file
// leaves the defaults in place.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("classreg")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/classreg")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintln(os.Stderr, "Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config file", err)
		}
	}

	return unmarshal(v)
}

// LoadFromReader loads configuration from an in-memory document.
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config", err)
	}
	return unmarshal(v)
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg, err := unmarshal(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Registry defaults
	v.SetDefault("registry.boot_table_size", 1009)
	v.SetDefault("registry.default_table_size", 107)
	v.SetDefault("registry.resize_load_factor", 5)
	v.SetDefault("registry.max_table_size", 1600033)
	v.SetDefault("registry.allow_parallel_define", false)
	v.SetDefault("registry.strict_duplicate_check", true)
	v.SetDefault("registry.root_module", "java.base")
	v.SetDefault("registry.module_versions", []string{})

	v.SetDefault("classpath.boot", []string{})
	v.SetDefault("classpath.platform", []string{})
	v.SetDefault("classpath.app", []string{})
	v.SetDefault("classpath.bootstrap", true)

	// Archive defaults
	v.SetDefault("archive.classlist_path", "")
	v.SetDefault("archive.archive_output_path", "")
	v.SetDefault("archive.compression", "zstd")
	v.SetDefault("archive.validate_timestamps", true)
	v.SetDefault("archive.preload_workers", 0)
	v.SetDefault("archive.storage_key_prefix", "archives")
	v.SetDefault("archive.exclude_generated", true)
	v.SetDefault("archive.exclude_prefixes", []string{})

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "classreg.db")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.tracing", false)

	// Storage defaults
	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.secret_id", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.domain", "")
	v.SetDefault("storage.scheme", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.local_path", "./storage")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "classreg")
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.protocol", "grpc")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sampler", "parentbased_always_on")
	v.SetDefault("telemetry.sampler_ratio", 1.0)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	r := c.Registry
	if r.BootTableSize <= 0 || r.DefaultTableSize <= 0 || r.ResizeLoadFactor <= 0 || r.MaxTableSize <= 0 {
		return apperrors.New(apperrors.CodeConfigError, "registry table sizes must be positive")
	}
	if r.MaxTableSize < r.BootTableSize || r.MaxTableSize < r.DefaultTableSize {
		return apperrors.Newf(apperrors.CodeConfigError,
			"registry max_table_size %d is below the initial sizes", r.MaxTableSize)
	}
	if r.RootModule == "" {
		return apperrors.New(apperrors.CodeConfigError, "registry root_module is required")
	}
	if _, err := r.ModuleVersionMap(); err != nil {
		return err
	}

	switch strings.ToLower(c.Archive.Compression) {
	case "", "zstd", "gzip", "none":
	default:
		return apperrors.Newf(apperrors.CodeConfigError, "unsupported compression: %s", c.Archive.Compression)
	}
	if c.Archive.PreloadWorkers < 0 {
		return apperrors.New(apperrors.CodeConfigError, "archive preload_workers must not be negative")
	}

	if c.Database.Enabled {
		switch c.Database.Type {
		case "postgres", "mysql":
			if c.Database.Host == "" {
				return apperrors.New(apperrors.CodeConfigError, "database host is required")
			}
		case "sqlite":
			if c.Database.Database == "" {
				return apperrors.New(apperrors.CodeConfigError, "sqlite database path is required")
			}
		default:
			return apperrors.Newf(apperrors.CodeConfigError, "unsupported database type: %s", c.Database.Type)
		}
	}

	switch c.Telemetry.Protocol {
	case "", "grpc", "http", "http/protobuf":
	default:
		return apperrors.Newf(apperrors.CodeConfigError, "unsupported telemetry protocol: %s", c.Telemetry.Protocol)
	}
	if c.Telemetry.SamplerRatio < 0 || c.Telemetry.SamplerRatio > 1 {
		return apperrors.New(apperrors.CodeConfigError, "telemetry sampler_ratio must be within [0, 1]")
	}

	// Storage config validation is delegated to the storage package.
	return nil
}

// ValidateForDump checks the settings a dump needs on top of Validate.
func (c *Config) ValidateForDump() error {
	if c.Archive.ClasslistPath == "" {
		return apperrors.New(apperrors.CodeConfigError, "archive classlist_path is required")
	}
	if c.Archive.OutputPath == "" {
		return apperrors.New(apperrors.CodeConfigError, "archive archive_output_path is required")
	}
	return nil
}

// EnsureOutputDir creates the directory the archive is written to.
func (c *Config) EnsureOutputDir() error {
	if c.Archive.OutputPath == "" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(c.Archive.OutputPath), 0755)
}
