package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/classreg/pkg/errors"
)

var snapshotRowColumns = []string{
	"id", "name", "archive_path", "storage_key", "storage_url", "compression", "root_module",
	"format_version", "type_count", "module_count", "package_count", "entry_count",
	"lambda_proxy_count", "create_time",
}

func TestSQLCatalogReader_GetSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reader := NewSQLCatalogReader(db, DBTypePostgres)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows(snapshotRowColumns).AddRow(
			int64(7), "nightly", "/out/app.jsa", "archives/nightly/app.jsa", "", "zstd", "java.base",
			1, 120, 3, 40, 5, 2, created,
		)
		mock.ExpectQuery(regexp.QuoteMeta("FROM archive_snapshots WHERE name = $1")).
			WithArgs("nightly").
			WillReturnRows(rows)

		snap, err := reader.GetSnapshot(context.Background(), "nightly")
		require.NoError(t, err)
		assert.Equal(t, int64(7), snap.ID)
		assert.Equal(t, "archives/nightly/app.jsa", snap.StorageKey)
		assert.Equal(t, 120, snap.Types)
		assert.Equal(t, 2, snap.LambdaProxies)
		assert.Equal(t, created, snap.CreatedAt)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery("FROM archive_snapshots").WithArgs("missing").WillReturnError(sql.ErrNoRows)

		snap, err := reader.GetSnapshot(context.Background(), "missing")
		assert.Nil(t, snap)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectQuery("FROM archive_snapshots").WithArgs("broken").WillReturnError(errors.New("connection reset"))

		_, err := reader.GetSnapshot(context.Background(), "broken")
		assert.Equal(t, apperrors.CodeDatabaseError, apperrors.GetErrorCode(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalogReader_LatestSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reader := NewSQLCatalogReader(db, DBTypeMySQL)
	rows := sqlmock.NewRows(snapshotRowColumns).AddRow(
		int64(9), "latest", "", "", "", "gzip", "java.base", 1, 1, 0, 0, 1, 0, time.Now(),
	)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY create_time DESC, id DESC LIMIT 1")).WillReturnRows(rows)

	snap, err := reader.LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "latest", snap.Name)
	assert.Equal(t, "gzip", snap.Compression)

	mock.ExpectQuery("FROM archive_snapshots").WillReturnError(sql.ErrNoRows)
	_, err = reader.LatestSnapshot(context.Background())
	assert.True(t, apperrors.IsNotFound(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalogReader_ListTypes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reader := NewSQLCatalogReader(db, DBTypePostgres)
	rows := sqlmock.NewRows([]string{
		"name", "super_name", "loader_kind", "path_index", "module", "package", "digest", "lambda_proxy",
	}).
		AddRow("com/a/Foo", "java/lang/Object", "app", 1, "", "com/a", int64(-1), false).
		AddRow("java/lang/Object", "", "boot", 0, "java.base", "java/lang", int64(42), false)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE snapshot_id = $1")).WithArgs(int64(7)).WillReturnRows(rows)

	types, err := reader.ListTypes(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "com/a/Foo", types[0].Name)
	assert.Equal(t, uint64(1<<64-1), types[0].Digest)
	assert.Equal(t, "java.base", types[1].Module)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalogReader_CountTypesByLoader(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reader := NewSQLCatalogReader(db, DBTypeMySQL)
	rows := sqlmock.NewRows([]string{"loader_kind", "count"}).
		AddRow("boot", 10).
		AddRow("app", 3)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE snapshot_id = ? GROUP BY loader_kind")).WithArgs(int64(1)).WillReturnRows(rows)

	counts, err := reader.CountTypesByLoader(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"boot": 10, "app": 3}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCatalogReader_Rebind(t *testing.T) {
	pg := NewSQLCatalogReader(nil, DBTypePostgres)
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	my := NewSQLCatalogReader(nil, DBTypeMySQL)
	assert.Equal(t, "a = ? AND b = ?", my.rebind("a = ? AND b = ?"))
}
