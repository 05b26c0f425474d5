package checkpoint

import (
	"context"

	"github.com/padraicbc/dhworkers/config"
)

// Open returns the store selected by CHECKPOINT_BACKEND.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.CheckpointBackend == config.CheckpointS3 {
		return NewObjectStore(ctx, ObjectConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	return NewFileStore(cfg.CheckpointDir), nil
}
