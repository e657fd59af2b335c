package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"medkb/internal/blob"
	"medkb/internal/config"
	"medkb/internal/infra/persistence/badger"
	"medkb/internal/infra/persistence/blobcorpus"
	"medkb/internal/infra/persistence/file"
	"medkb/internal/infra/persistence/memory"
	"medkb/internal/infra/persistence/postgres"
	"medkb/internal/infra/persistence/sqlite"
)

// OpenCorpusStore selects a corpus backend from configuration. An empty driver
// selects the JSON file store.
//
//	file:     corpus JSON at CorpusPath
//	memory:   process-local, starts empty
//	blob:     revisions under Blob.Prefix in the fs|s3|memory blob store
//	sqlite:   single-row table in SQLitePath
//	postgres: single-row JSONB table at PostgresDSN
//	badger:   embedded key-value directory at BadgerPath
func OpenCorpusStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (CorpusStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = config.DriverFile
	}
	logger.Debug("opening corpus store", zap.String("driver", driver))
	switch driver {
	case config.DriverFile:
		return file.NewStore(cfg.CorpusPath), nil
	case config.DriverMemory:
		return memory.NewStore(nil), nil
	case config.DriverSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case config.DriverPostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case config.DriverBadger:
		return badger.NewStore(badger.Config{Path: cfg.BadgerPath, SyncWrites: true, Logger: logger})
	case config.DriverBlob:
		blobs, err := blob.Open(ctx, blob.Config{
			Driver: blob.Driver(cfg.Blob.Driver),
			FSRoot: cfg.Blob.FSRoot,
			S3: blob.S3Config{
				Bucket:    cfg.Blob.S3.Bucket,
				Region:    cfg.Blob.S3.Region,
				Endpoint:  cfg.Blob.S3.Endpoint,
				PathStyle: cfg.Blob.S3.PathStyle,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		return blobcorpus.NewStore(blobs, cfg.Blob.Prefix, blobcorpus.WithRetain(cfg.Blob.Retain)), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
