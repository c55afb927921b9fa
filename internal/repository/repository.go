// Package repository records dumped archives in a catalog database.
package repository

import (
	"context"
	"time"
)

// CatalogRepository stores one row per dumped archive plus the types and
// classpath entries it carries.
type CatalogRepository interface {
	// SaveSnapshot records snap with its types and paths. A snapshot with
	// the same name is replaced. snap.ID is set on success.
	SaveSnapshot(ctx context.Context, snap *Snapshot, types []TypeEntry, paths []PathEntry) error

	// GetSnapshot retrieves a snapshot by name.
	GetSnapshot(ctx context.Context, name string) (*Snapshot, error)

	// LatestSnapshot retrieves the most recently created snapshot.
	LatestSnapshot(ctx context.Context) (*Snapshot, error)

	// ListTypes returns the types of a snapshot ordered by name.
	ListTypes(ctx context.Context, snapshotID int64) ([]TypeEntry, error)

	// ListPaths returns the classpath entries of a snapshot in index order.
	ListPaths(ctx context.Context, snapshotID int64) ([]PathEntry, error)

	// DeleteSnapshot removes a snapshot and its rows.
	DeleteSnapshot(ctx context.Context, name string) error
}

// Snapshot describes one dumped archive.
type Snapshot struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	ArchivePath   string    `json:"archive_path"`
	StorageKey    string    `json:"storage_key,omitempty"`
	StorageURL    string    `json:"storage_url,omitempty"`
	Compression   string    `json:"compression"`
	RootModule    string    `json:"root_module"`
	FormatVersion int       `json:"format_version"`
	Types         int       `json:"types"`
	Modules       int       `json:"modules"`
	Packages      int       `json:"packages"`
	Entries       int       `json:"entries"`
	LambdaProxies int       `json:"lambda_proxies"`
	CreatedAt     time.Time `json:"created_at"`
}

// TypeEntry is one archived type.
type TypeEntry struct {
	Name        string `json:"name"`
	SuperName   string `json:"super_name,omitempty"`
	LoaderKind  string `json:"loader_kind"`
	PathIndex   int    `json:"path_index"`
	Module      string `json:"module,omitempty"`
	Package     string `json:"package,omitempty"`
	Digest      uint64 `json:"digest"`
	LambdaProxy bool   `json:"lambda_proxy,omitempty"`
}

// PathEntry is one classpath entry recorded with a snapshot.
type PathEntry struct {
	Index   int    `json:"index"`
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mod_time"`
}
