package blob

import (
	"context"
	"fmt"
	"os"
	"time"

	"portioncore/internal/infra/blob/fs"
	"portioncore/internal/infra/blob/memory"
	"portioncore/internal/infra/blob/s3"
)

// S3Config configures the S3-compatible driver.
type S3Config = s3.Config

// Config selects and configures a blob driver.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
	NowFn  func() time.Time
}

// ConfigFromEnv reads the blob environment.
//
//	PORTIONCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	PORTIONCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	PORTIONCORE_BLOB_S3_*: see s3.ConfigFromEnv
func ConfigFromEnv() Config {
	return Config{
		Driver: Driver(os.Getenv("PORTIONCORE_BLOB_DRIVER")),
		FSRoot: os.Getenv("PORTIONCORE_BLOB_FS_ROOT"),
		S3:     s3.ConfigFromEnv(),
	}
}

// Open returns the Store named by cfg.Driver. An empty driver selects fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		store, err := NewFilesystem(cfg.FSRoot, cfg.NowFn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverS3:
		store, err := NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMemory:
		return NewMemory(cfg.NowFn), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewMemory returns an in-memory store.
func NewMemory(nowFn func() time.Time) Store { return memory.New(nowFn) }

// NewFilesystem returns a store rooted at root.
func NewFilesystem(root string, nowFn func() time.Time) (Store, error) {
	store, err := fs.New(root, nowFn)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewS3 returns a store on the bucket named in cfg.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	store, err := s3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMockS3ForTests returns an S3 store backed by an in-process fake bucket.
func NewMockS3ForTests(prefix string) Store { return s3.NewMock(prefix) }
