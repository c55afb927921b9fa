package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classreg/pkg/config"
	apperrors "github.com/classreg/pkg/errors"
)

func TestDialector(t *testing.T) {
	tests := []struct {
		dbType string
		name   string
	}{
		{"postgres", "postgres"},
		{"postgresql", "postgres"},
		{"mysql", "mysql"},
		{"sqlite", "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.dbType, func(t *testing.T) {
			d, err := Dialector(&config.DatabaseConfig{Type: tt.dbType, Host: "localhost", Port: 5432, Database: "classreg"})
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}

	_, err := Dialector(&config.DatabaseConfig{Type: "oracle"})
	assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
}

func TestOpen_SQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "catalog.db")}

	repos, err := Open(cfg)
	require.NoError(t, err)
	require.NotNil(t, repos.Catalog)
	assert.NoError(t, repos.HealthCheck(context.Background()))

	ctx := context.Background()
	snap := &Snapshot{Name: "nightly", Types: 1}
	require.NoError(t, repos.Catalog.SaveSnapshot(ctx, snap, sampleTypes()[:1], nil))

	got, err := repos.Reader().GetSnapshot(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)
	assert.Equal(t, 1, got.Types)

	assert.NoError(t, repos.Close())
}

func TestRepositories_Close(t *testing.T) {
	repos := NewRepositories(setupTestDB(t), "sqlite")
	assert.NotNil(t, repos.Catalog)
	assert.NotNil(t, repos.DB())
	assert.NoError(t, repos.Close())

	empty := &Repositories{}
	assert.NoError(t, empty.Close())
}
