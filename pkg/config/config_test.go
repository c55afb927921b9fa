package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/classreg/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "classreg.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	return configFile
}

func TestLoad_DefaultValues(t *testing.T) {
	configFile := writeConfig(t, `
archive:
  classlist_path: /tmp/classlist
`)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 1009, cfg.Registry.BootTableSize)
	assert.Equal(t, 107, cfg.Registry.DefaultTableSize)
	assert.Equal(t, 5, cfg.Registry.ResizeLoadFactor)
	assert.Equal(t, 1600033, cfg.Registry.MaxTableSize)
	assert.True(t, cfg.Registry.StrictDuplicateCheck)
	assert.False(t, cfg.Registry.AllowParallelDefine)
	assert.Equal(t, "java.base", cfg.Registry.RootModule)
	assert.Equal(t, "zstd", cfg.Archive.Compression)
	assert.True(t, cfg.Archive.ValidateTimestamps)
	assert.Equal(t, "archives", cfg.Archive.StorageKeyPrefix)
	assert.True(t, cfg.Classpath.Bootstrap)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "none", cfg.Storage.Type)
	assert.Equal(t, "/tmp/classlist", cfg.Archive.ClasslistPath)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "classreg", cfg.Telemetry.ServiceName)
	assert.Equal(t, "grpc", cfg.Telemetry.Protocol)
	assert.Equal(t, 1.0, cfg.Telemetry.SamplerRatio)
}

func TestLoad_CustomValues(t *testing.T) {
	configFile := writeConfig(t, `
registry:
  boot_table_size: 2017
  allow_parallel_define: true
  strict_duplicate_check: false
  module_versions:
    - java.base@17.0.2
    - java.sql@17
classpath:
  app:
    - /opt/app/lib/a.jar
    - /opt/app/classes
archive:
  classlist_path: /opt/app/classlist
  archive_output_path: /opt/app/app.jsa
  compression: gzip
  preload_workers: 4
database:
  enabled: true
  type: postgres
  host: db.example.com
  port: 5433
  database: classreg
  user: admin
storage:
  type: local
  local_path: /tmp/storage
`)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 2017, cfg.Registry.BootTableSize)
	assert.True(t, cfg.Registry.AllowParallelDefine)
	assert.False(t, cfg.Registry.StrictDuplicateCheck)
	versions, err := cfg.Registry.ModuleVersionMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"java.base": "17.0.2", "java.sql": "17"}, versions)
	assert.Equal(t, []string{"/opt/app/lib/a.jar", "/opt/app/classes"}, cfg.Classpath.App)
	assert.Equal(t, "/opt/app/app.jsa", cfg.Archive.OutputPath)
	assert.Equal(t, "gzip", cfg.Archive.Compression)
	assert.Equal(t, 4, cfg.Archive.PreloadWorkers)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.NoError(t, cfg.ValidateForDump())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CLASSREG_ARCHIVE_COMPRESSION", "none")
	t.Setenv("CLASSREG_REGISTRY_ROOT_MODULE", "java.core")

	cfg, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Archive.Compression)
	assert.Equal(t, "java.core", cfg.Registry.RootModule)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		message string
	}{
		{"compression", "archive:\n  compression: lz4\n", "unsupported compression"},
		{"table size", "registry:\n  default_table_size: 0\n", "must be positive"},
		{"max size", "registry:\n  max_table_size: 100\n", "below the initial sizes"},
		{"module version", "registry:\n  module_versions: [java.base]\n", "not name@version"},
		{"database type", "database:\n  enabled: true\n  type: oracle\n", "unsupported database type"},
		{"preload workers", "archive:\n  preload_workers: -1\n", "preload_workers"},
		{"telemetry protocol", "telemetry:\n  protocol: thrift\n", "telemetry protocol"},
		{"sampler ratio", "telemetry:\n  sampler_ratio: 2\n", "sampler_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestValidate_DisabledDatabaseIgnored(t *testing.T) {
	cfg := Default()
	cfg.Database.Type = "oracle"
	assert.NoError(t, cfg.Validate())

	cfg.Database.Enabled = true
	cfg.Database.Type = "postgres"
	cfg.Database.Host = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database host is required")
}

func TestValidateForDump(t *testing.T) {
	cfg := Default()
	err := cfg.ValidateForDump()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "classlist_path")

	cfg.Archive.ClasslistPath = "/tmp/classlist"
	err = cfg.ValidateForDump()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "archive_output_path")

	cfg.Archive.OutputPath = "/tmp/out/app.jsa"
	assert.NoError(t, cfg.ValidateForDump())
}

func TestEnsureOutputDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Archive.OutputPath = filepath.Join(dir, "out", "nested", "app.jsa")

	require.NoError(t, cfg.EnsureOutputDir())
	info, err := os.Stat(filepath.Join(dir, "out", "nested"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/classreg.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, 1009, cfg.Registry.BootTableSize)
}

func TestLoadFromReader(t *testing.T) {
	content := []byte(`
database:
  enabled: true
  type: mysql
  host: mysql.local
`)
	cfg, err := LoadFromReader("yaml", content)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Type)
	assert.Equal(t, "mysql.local", cfg.Database.Host)
}
