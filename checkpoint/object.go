package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const objectPrefix = "checkpoints"

// ObjectConfig locates the bucket holding checkpoints.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectStore keeps checkpoints in an S3 compatible bucket under
// checkpoints/<run>.json. A PutObject is atomic, so a reader sees either the
// previous or the new checkpoint.
type ObjectStore struct {
	cli    *minio.Client
	bucket string
}

// NewObjectStore connects to the bucket and creates it if missing.
func NewObjectStore(ctx context.Context, cfg ObjectConfig) (*ObjectStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint bucket client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checkpoint bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create checkpoint bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &ObjectStore{cli: cli, bucket: cfg.Bucket}, nil
}

func (s *ObjectStore) key(run string) string {
	return path.Join(objectPrefix, run+".json")
}

func (s *ObjectStore) Load(ctx context.Context, run string) (*Checkpoint, error) {
	if err := ValidRunName(run); err != nil {
		return nil, err
	}
	obj, err := s.cli.GetObject(ctx, s.bucket, s.key(run), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return decode(run, b)
}

func (s *ObjectStore) Save(ctx context.Context, cp *Checkpoint) error {
	b, err := encode(cp)
	if err != nil {
		return err
	}
	_, err = s.cli.PutObject(ctx, s.bucket, s.key(cp.RunName), bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

func (s *ObjectStore) Reset(ctx context.Context, run string) error {
	if err := ValidRunName(run); err != nil {
		return err
	}
	if err := s.cli.RemoveObject(ctx, s.bucket, s.key(run), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	return nil
}
