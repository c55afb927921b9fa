// Package storage publishes archive files to object storage.
package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/classreg/pkg/config"
	apperrors "github.com/classreg/pkg/errors"
)

// Store defines the object storage operations used to publish and fetch
// archive files.
type Store interface {
	// Upload uploads data from reader to the specified key.
	Upload(ctx context.Context, key string, reader io.Reader) error

	// UploadFile uploads a local file to the specified key.
	UploadFile(ctx context.Context, key string, localPath string) error

	// Download downloads data from the specified key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// DownloadFile downloads data from the specified key to a local file.
	DownloadFile(ctx context.Context, key string, localPath string) error

	// Delete deletes the object at the specified key.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns the URL for the specified key.
	GetURL(key string) string
}

// StoreType represents the type of storage backend.
type StoreType string

const (
	StoreTypeNone  StoreType = "none"
	StoreTypeLocal StoreType = "local"
	StoreTypeCOS   StoreType = "cos"
)

// Enabled reports whether cfg selects a backend at all.
func Enabled(cfg *config.StorageConfig) bool {
	return cfg != nil && cfg.Type != "" && StoreType(cfg.Type) != StoreTypeNone
}

// NewStore creates a Store for the configured backend.
func NewStore(cfg *config.StorageConfig) (Store, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch StoreType(cfg.Type) {
	case StoreTypeCOS:
		return NewCOSStore(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
			Endpoint:  cfg.Endpoint,
		})
	default:
		return NewLocalStore(cfg.LocalPath)
	}
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return apperrors.New(apperrors.CodeConfigError, "storage config is nil")
	}

	storeType := StoreType(cfg.Type)
	if storeType == "" {
		storeType = StoreTypeLocal
	}

	switch storeType {
	case StoreTypeCOS:
		if cfg.Bucket == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS bucket is required")
		}
		if cfg.Region == "" && cfg.Endpoint == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS credentials are required")
		}
	case StoreTypeLocal:
		if cfg.LocalPath == "" {
			return apperrors.New(apperrors.CodeConfigError, "local storage path is required")
		}
	case StoreTypeNone:
		return apperrors.New(apperrors.CodeConfigError, "storage is disabled")
	default:
		return apperrors.Newf(apperrors.CodeConfigError, "unsupported storage type: %s", cfg.Type)
	}

	return nil
}

// ArchiveKey joins the key under which a snapshot's archive file is stored.
func ArchiveKey(prefix, snapshot, file string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, snapshot, path.Base(file)} {
		if p = strings.Trim(p, "/"); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// Publish uploads a local archive file and returns the URL it is served at.
func Publish(ctx context.Context, s Store, key, localPath string) (string, error) {
	if err := s.UploadFile(ctx, key, localPath); err != nil {
		return "", apperrors.Wrap(apperrors.CodeUploadError, "failed to publish "+key, err)
	}
	return s.GetURL(key), nil
}

// Fetch downloads a published archive file to localPath.
func Fetch(ctx context.Context, s Store, key, localPath string) error {
	ok, err := s.Exists(ctx, key)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDownloadError, "failed to look up "+key, err)
	}
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "archive %s is not published", key)
	}
	if err := s.DownloadFile(ctx, key, localPath); err != nil {
		return apperrors.Wrap(apperrors.CodeDownloadError, "failed to fetch "+key, err)
	}
	return nil
}
