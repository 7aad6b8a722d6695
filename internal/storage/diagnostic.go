package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ooblik/drive-backend/internal/settings"
	"go.uber.org/zap"
)

const defaultTimeout = 8 * time.Second

// ErrBucketNotFound means the account is reachable but the configured bucket
// does not exist.
var ErrBucketNotFound = errors.New("storage: configured bucket not found")

// Diagnostic probes S3-compatible storage accounts for the admin
// back-office. Object transfer itself happens out of band; the broker only
// issues keys.
type Diagnostic struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewDiagnostic constructs a Diagnostic.
func NewDiagnostic(timeout time.Duration, logger *zap.Logger) *Diagnostic {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Diagnostic{timeout: timeout, logger: logger}
}

// TestConnection checks that the configured credentials reach the account and
// that the bucket exists.
func (d *Diagnostic) TestConnection(ctx context.Context, cfg settings.S3Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return fmt.Errorf("storage: building client: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	exists, err := client.BucketExists(probeCtx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("storage: bucket probe: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, cfg.Bucket)
	}

	d.logger.Info("s3 connectivity check passed",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.Bucket))
	return nil
}
