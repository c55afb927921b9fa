package repository

import (
	"time"
)

// ArchiveSnapshot represents the archive_snapshots table.
type ArchiveSnapshot struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name          string    `gorm:"column:name;type:varchar(128);uniqueIndex"`
	ArchivePath   string    `gorm:"column:archive_path;type:varchar(1024)"`
	StorageKey    string    `gorm:"column:storage_key;type:varchar(512)"`
	StorageURL    string    `gorm:"column:storage_url;type:varchar(1024)"`
	Compression   string    `gorm:"column:compression;type:varchar(16)"`
	RootModule    string    `gorm:"column:root_module;type:varchar(128)"`
	FormatVersion int       `gorm:"column:format_version"`
	TypeCount     int       `gorm:"column:type_count"`
	ModuleCount   int       `gorm:"column:module_count"`
	PackageCount  int       `gorm:"column:package_count"`
	EntryCount    int       `gorm:"column:entry_count"`
	ProxyCount    int       `gorm:"column:lambda_proxy_count"`
	CreateTime    time.Time `gorm:"column:create_time;autoCreateTime"`
}

// TableName returns the table name for ArchiveSnapshot.
func (ArchiveSnapshot) TableName() string {
	return "archive_snapshots"
}

// ToModel converts ArchiveSnapshot to Snapshot.
func (s *ArchiveSnapshot) ToModel() *Snapshot {
	return &Snapshot{
		ID:            s.ID,
		Name:          s.Name,
		ArchivePath:   s.ArchivePath,
		StorageKey:    s.StorageKey,
		StorageURL:    s.StorageURL,
		Compression:   s.Compression,
		RootModule:    s.RootModule,
		FormatVersion: s.FormatVersion,
		Types:         s.TypeCount,
		Modules:       s.ModuleCount,
		Packages:      s.PackageCount,
		Entries:       s.EntryCount,
		LambdaProxies: s.ProxyCount,
		CreatedAt:     s.CreateTime,
	}
}

func snapshotRow(s *Snapshot) *ArchiveSnapshot {
	return &ArchiveSnapshot{
		Name:          s.Name,
		ArchivePath:   s.ArchivePath,
		StorageKey:    s.StorageKey,
		StorageURL:    s.StorageURL,
		Compression:   s.Compression,
		RootModule:    s.RootModule,
		FormatVersion: s.FormatVersion,
		TypeCount:     s.Types,
		ModuleCount:   s.Modules,
		PackageCount:  s.Packages,
		EntryCount:    s.Entries,
		ProxyCount:    s.LambdaProxies,
		CreateTime:    s.CreatedAt,
	}
}

// ArchivedType represents the archived_types table.
type ArchivedType struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SnapshotID  int64  `gorm:"column:snapshot_id;index:idx_archived_types_snapshot_name,priority:1"`
	Name        string `gorm:"column:name;type:varchar(512);index:idx_archived_types_snapshot_name,priority:2"`
	SuperName   string `gorm:"column:super_name;type:varchar(512)"`
	LoaderKind  string `gorm:"column:loader_kind;type:varchar(16)"`
	PathIndex   int    `gorm:"column:path_index"`
	Module      string `gorm:"column:module;type:varchar(256)"`
	Package     string `gorm:"column:package;type:varchar(512)"`
	Digest      int64  `gorm:"column:digest"`
	LambdaProxy bool   `gorm:"column:lambda_proxy"`
}

// TableName returns the table name for ArchivedType.
func (ArchivedType) TableName() string {
	return "archived_types"
}

// ToModel converts ArchivedType to TypeEntry.
func (t *ArchivedType) ToModel() TypeEntry {
	return TypeEntry{
		Name:        t.Name,
		SuperName:   t.SuperName,
		LoaderKind:  t.LoaderKind,
		PathIndex:   t.PathIndex,
		Module:      t.Module,
		Package:     t.Package,
		Digest:      uint64(t.Digest),
		LambdaProxy: t.LambdaProxy,
	}
}

// ArchivedPathEntry represents the archived_path_entries table.
type ArchivedPathEntry struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SnapshotID int64  `gorm:"column:snapshot_id;index"`
	EntryIndex int    `gorm:"column:entry_index"`
	Path       string `gorm:"column:path;type:varchar(1024)"`
	Kind       string `gorm:"column:kind;type:varchar(32)"`
	Size       int64  `gorm:"column:size"`
	ModTime    int64  `gorm:"column:mod_time"`
}

// TableName returns the table name for ArchivedPathEntry.
func (ArchivedPathEntry) TableName() string {
	return "archived_path_entries"
}

// ToModel converts ArchivedPathEntry to PathEntry.
func (p *ArchivedPathEntry) ToModel() PathEntry {
	return PathEntry{
		Index:   p.EntryIndex,
		Path:    p.Path,
		Kind:    p.Kind,
		Size:    p.Size,
		ModTime: p.ModTime,
	}
}

// AllModels lists the catalog tables for migration.
func AllModels() []interface{} {
	return []interface{}{&ArchiveSnapshot{}, &ArchivedType{}, &ArchivedPathEntry{}}
}
