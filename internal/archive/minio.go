// Package archive copies downloaded call recordings to S3 compatible
// object storage before they are transcribed and removed.
package archive

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/resilience"
)

// Config holds object storage configuration. An empty Endpoint disables the
// archive.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
	Retry     *resilience.RetryConfig
}

// objectStore is the part of *minio.Client the archive uses
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archive uploads recordings as recordings/<callID>/<unix>.wav
type Archive struct {
	client objectStore
	bucket string
	region string
	retry  *resilience.RetryConfig
	now    func() time.Time
}

// New connects to the object store and makes sure the bucket exists.
// Returns a disabled archive when no endpoint is configured.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	if cfg.Endpoint == "" {
		log.Info().Msg("Recording archive disabled")
		return &Archive{now: time.Now}, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init S3 client: %w", err)
	}

	a := &Archive{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		retry:  cfg.Retry,
		now:    time.Now,
	}
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Str("bucket", cfg.Bucket).
		Msg("Recording archive enabled")
	return a, nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", a.bucket, err)
	}
	return nil
}

// Enabled reports whether recordings are uploaded
func (a *Archive) Enabled() bool {
	return a != nil && a.client != nil
}

// ObjectKey returns the key a recording for callID is stored under
func (a *Archive) ObjectKey(callID string) string {
	return path.Join("recordings", callID, fmt.Sprintf("%d.wav", a.now().Unix()))
}

// Store uploads the file at filePath and returns its object key. A disabled
// archive returns "" and no error.
func (a *Archive) Store(ctx context.Context, callID, filePath string) (string, error) {
	if !a.Enabled() {
		return "", nil
	}

	key := a.ObjectKey(callID)
	var info minio.UploadInfo
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		var err error
		info, err = a.client.FPutObject(ctx, a.bucket, key, filePath, minio.PutObjectOptions{
			ContentType:  "audio/wav",
			UserMetadata: map[string]string{"call-id": callID},
		})
		return err
	}, a.retry, resilience.IsRetryableNetworkError)
	if err != nil {
		observability.RecordError("upload", "archive")
		return "", fmt.Errorf("upload recording %s: %w", callID, err)
	}

	log.Debug().
		Str("call_id", callID).
		Str("key", key).
		Int64("size", info.Size).
		Msg("Recording archived")
	return key, nil
}

// Ping checks the bucket is reachable
func (a *Archive) Ping(ctx context.Context) error {
	if !a.Enabled() {
		return nil
	}
	_, err := a.client.BucketExists(ctx, a.bucket)
	return err
}
