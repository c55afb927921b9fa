package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/classreg/pkg/errors"
)

// SQLCatalogReader reads the catalog with plain SQL. It serves read-only
// tools that hold a *sql.DB but not a GORM connection.
type SQLCatalogReader struct {
	db     *sql.DB
	dbType DBType
}

// NewSQLCatalogReader creates a reader. dbType selects the placeholder
// style: $n for postgres, ? otherwise.
func NewSQLCatalogReader(db *sql.DB, dbType DBType) *SQLCatalogReader {
	return &SQLCatalogReader{db: db, dbType: dbType}
}

const snapshotColumns = `id, name, COALESCE(archive_path, ''), COALESCE(storage_key, ''),
	COALESCE(storage_url, ''), COALESCE(compression, ''), COALESCE(root_module, ''),
	format_version, type_count, module_count, package_count, entry_count,
	lambda_proxy_count, create_time`

// rebind rewrites ? placeholders for the reader's dialect.
func (r *SQLCatalogReader) rebind(query string) string {
	if r.dbType != DBTypePostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// GetSnapshot retrieves a snapshot by name.
func (r *SQLCatalogReader) GetSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	query := r.rebind(`SELECT ` + snapshotColumns + ` FROM archive_snapshots WHERE name = ?`)
	snap, err := scanSnapshot(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "snapshot not found: %s", name)
		}
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to get snapshot", err)
	}
	return snap, nil
}

// LatestSnapshot retrieves the most recently created snapshot.
func (r *SQLCatalogReader) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM archive_snapshots ORDER BY create_time DESC, id DESC LIMIT 1`
	snap, err := scanSnapshot(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.CodeNotFound, "no snapshots recorded")
		}
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to get latest snapshot", err)
	}
	return snap, nil
}

// ListTypes returns the types of a snapshot ordered by name.
func (r *SQLCatalogReader) ListTypes(ctx context.Context, snapshotID int64) ([]TypeEntry, error) {
	query := r.rebind(`
		SELECT name, COALESCE(super_name, ''), loader_kind, path_index,
			   COALESCE(module, ''), COALESCE(package, ''), digest, lambda_proxy
		FROM archived_types
		WHERE snapshot_id = ?
		ORDER BY name ASC
	`)

	rows, err := r.db.QueryContext(ctx, query, snapshotID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to list types", err)
	}
	defer rows.Close()

	var result []TypeEntry
	for rows.Next() {
		var t TypeEntry
		var digest int64
		if err := rows.Scan(&t.Name, &t.SuperName, &t.LoaderKind, &t.PathIndex,
			&t.Module, &t.Package, &digest, &t.LambdaProxy); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to scan type", err)
		}
		t.Digest = uint64(digest)
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to list types", err)
	}
	return result, nil
}

// CountTypesByLoader returns how many types each loader kind archived.
func (r *SQLCatalogReader) CountTypesByLoader(ctx context.Context, snapshotID int64) (map[string]int, error) {
	query := r.rebind(`SELECT loader_kind, COUNT(*) FROM archived_types WHERE snapshot_id = ? GROUP BY loader_kind`)

	rows, err := r.db.QueryContext(ctx, query, snapshotID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to count types", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to scan count", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var s Snapshot
	var created time.Time
	err := row.Scan(&s.ID, &s.Name, &s.ArchivePath, &s.StorageKey, &s.StorageURL,
		&s.Compression, &s.RootModule, &s.FormatVersion, &s.Types, &s.Modules,
		&s.Packages, &s.Entries, &s.LambdaProxies, &created)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = created
	return &s, nil
}
