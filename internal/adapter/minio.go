package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonno85/columbiastream-uploader/internal/config"
	"github.com/jonno85/columbiastream-uploader/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioRegistrar issues upload tickets locally by presigning PUTs against a
// MinIO bucket. It stands in for the composite service in local development;
// no metadata row is written anywhere.
type MinioRegistrar struct {
	client *minio.Client
	bucket string
	region string
	ttl    time.Duration
	logger *slog.Logger
	newID  func() uuid.UUID
}

func NewMinioRegistrar(cfg config.MinioConfig, logger *slog.Logger) (*MinioRegistrar, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MinioRegistrar{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		ttl:    ttl,
		logger: logger,
		newID:  uuid.New,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (m *MinioRegistrar) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	m.logger.Info("Bucket created", "bucket", m.bucket)
	return nil
}

// Register presigns a PUT for raw_videos/<offering>/<video id> bound to the declared MIME type.
func (m *MinioRegistrar) Register(ctx context.Context, reg domain.RegistrationRequest) (domain.UploadTicket, error) {
	videoID := m.newID().String()
	objectName := ObjectKey(reg.OfferingID, videoID)

	headers := make(http.Header)
	headers.Set("Content-Type", reg.MimeType)

	signedURL, err := m.client.PresignHeader(ctx, http.MethodPut, m.bucket, objectName, m.ttl, nil, headers)
	if err != nil {
		return domain.UploadTicket{}, &domain.RegistrationError{Err: fmt.Errorf("failed to generate pre-signed URL: %w", err)}
	}
	m.logger.Debug("Presigned local upload", "bucket", m.bucket, "object", objectName, "ttl", m.ttl.String())

	return domain.UploadTicket{VideoID: videoID, SignedURL: signedURL.String()}, nil
}

func ObjectKey(offeringID int, videoID string) string {
	return fmt.Sprintf("raw_videos/%d/%s", offeringID, videoID)
}
