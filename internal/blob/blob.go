// Package blob is the single entry point to document content storage. Callers
// depend on Store and obtain an implementation from Open; only this package
// imports the infra backends.
package blob

import (
	"context"
	"fmt"

	"funnelcore/internal/blob/core"
	"funnelcore/internal/config"
	fsstore "funnelcore/internal/infra/blob/fs"
	memstore "funnelcore/internal/infra/blob/memory"
	s3store "funnelcore/internal/infra/blob/s3"
)

type (
	Store            = core.Store
	Driver           = core.Driver
	Info             = core.Info
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
)

// DocumentKey is the storage key of a prospect document's content.
func DocumentKey(prospectID, documentID, name string) string {
	return core.DocumentKey(prospectID, documentID, name)
}

// Open selects a Store implementation from cfg. An empty driver means fs.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.BlobFS:
		return fsstore.New(cfg.FSRoot)
	case config.BlobS3:
		return s3store.New(ctx, s3store.Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKey,
			SecretAccessKey: cfg.S3.SecretKey,
			PathStyle:       cfg.S3.UsePathStyle,
		})
	case config.BlobMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewMemory returns an in-process Store.
func NewMemory() Store { return memstore.New() }

// NewS3Mock returns an S3 Store over an in-memory fake transport.
func NewS3Mock() Store { return s3store.NewMockForTests() }
