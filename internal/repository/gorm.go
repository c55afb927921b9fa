package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/classreg/pkg/errors"
)

// insertBatchSize bounds the rows sent per INSERT.
const insertBatchSize = 500

// GormCatalogRepository implements CatalogRepository using GORM.
type GormCatalogRepository struct {
	db *gorm.DB
}

// NewGormCatalogRepository creates a new GormCatalogRepository.
func NewGormCatalogRepository(db *gorm.DB) *GormCatalogRepository {
	return &GormCatalogRepository{db: db}
}

// SaveSnapshot records a snapshot, replacing any snapshot of the same name.
func (r *GormCatalogRepository) SaveSnapshot(ctx context.Context, snap *Snapshot, types []TypeEntry, paths []PathEntry) error {
	if snap == nil || snap.Name == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "snapshot name is required")
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}

	row := snapshotRow(snap)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteSnapshot(tx, snap.Name); err != nil {
			return err
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}

		if len(types) > 0 {
			typeRows := make([]ArchivedType, len(types))
			for i, t := range types {
				typeRows[i] = ArchivedType{
					SnapshotID:  row.ID,
					Name:        t.Name,
					SuperName:   t.SuperName,
					LoaderKind:  t.LoaderKind,
					PathIndex:   t.PathIndex,
					Module:      t.Module,
					Package:     t.Package,
					Digest:      int64(t.Digest),
					LambdaProxy: t.LambdaProxy,
				}
			}
			if err := tx.CreateInBatches(typeRows, insertBatchSize).Error; err != nil {
				return err
			}
		}

		if len(paths) > 0 {
			pathRows := make([]ArchivedPathEntry, len(paths))
			for i, p := range paths {
				pathRows[i] = ArchivedPathEntry{
					SnapshotID: row.ID,
					EntryIndex: p.Index,
					Path:       p.Path,
					Kind:       p.Kind,
					Size:       p.Size,
					ModTime:    p.ModTime,
				}
			}
			if err := tx.CreateInBatches(pathRows, insertBatchSize).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to save snapshot "+snap.Name, err)
	}

	snap.ID = row.ID
	return nil
}

// GetSnapshot retrieves a snapshot by name.
func (r *GormCatalogRepository) GetSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	var row ArchiveSnapshot

	err := r.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "snapshot not found: %s", name)
		}
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to get snapshot", err)
	}

	return row.ToModel(), nil
}

// LatestSnapshot retrieves the most recently created snapshot.
func (r *GormCatalogRepository) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var row ArchiveSnapshot

	err := r.db.WithContext(ctx).Order("create_time DESC").Order("id DESC").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "no snapshots recorded")
		}
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to get latest snapshot", err)
	}

	return row.ToModel(), nil
}

// ListTypes returns the types of a snapshot ordered by name.
func (r *GormCatalogRepository) ListTypes(ctx context.Context, snapshotID int64) ([]TypeEntry, error) {
	var rows []ArchivedType

	err := r.db.WithContext(ctx).
		Where("snapshot_id = ?", snapshotID).
		Order("name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to list types", err)
	}

	result := make([]TypeEntry, len(rows))
	for i := range rows {
		result[i] = rows[i].ToModel()
	}
	return result, nil
}

// ListPaths returns the classpath entries of a snapshot in index order.
func (r *GormCatalogRepository) ListPaths(ctx context.Context, snapshotID int64) ([]PathEntry, error) {
	var rows []ArchivedPathEntry

	err := r.db.WithContext(ctx).
		Where("snapshot_id = ?", snapshotID).
		Order("entry_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to list path entries", err)
	}

	result := make([]PathEntry, len(rows))
	for i := range rows {
		result[i] = rows[i].ToModel()
	}
	return result, nil
}

// DeleteSnapshot removes a snapshot and its rows.
func (r *GormCatalogRepository) DeleteSnapshot(ctx context.Context, name string) error {
	var found bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ArchiveSnapshot{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		found = count > 0
		return deleteSnapshot(tx, name)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to delete snapshot", err)
	}
	if !found {
		return apperrors.Newf(apperrors.CodeNotFound, "snapshot not found: %s", name)
	}
	return nil
}

func deleteSnapshot(tx *gorm.DB, name string) error {
	var ids []int64
	if err := tx.Model(&ArchiveSnapshot{}).Where("name = ?", name).Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Where("snapshot_id IN ?", ids).Delete(&ArchivedType{}).Error; err != nil {
		return err
	}
	if err := tx.Where("snapshot_id IN ?", ids).Delete(&ArchivedPathEntry{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&ArchiveSnapshot{}).Error
}
