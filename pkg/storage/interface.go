package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// Storage is the subset of blob storage the realtime engine needs: message
// attachments are uploaded by the REST API and only referenced by key here.
type Storage interface {
	// Exists checks if content with the given key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the content with the given key. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, key string) error

	// GetURL returns a URL for accessing the content.
	// For local storage, this returns the file path.
	// For S3, this returns a presigned URL valid for the specified duration.
	GetURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Config selects and configures a storage driver.
type Config struct {
	Driver string      `mapstructure:"driver"` // "local", "s3"
	Local  LocalConfig `mapstructure:"local"`
	S3     S3Config    `mapstructure:"s3"`
}

// New creates the configured storage driver.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	case "local", "":
		return NewLocalStorage(cfg.Local)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
