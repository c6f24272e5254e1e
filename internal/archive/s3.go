package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds object storage settings for archive uploads.
type S3Config struct {
	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// Endpoint points at S3-compatible storage such as MinIO.
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style"`

	// Static credentials. IAM is used when empty.
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`

	StorageClass     string `yaml:"storage_class"`
	RetryMaxAttempts int    `yaml:"retry_max_attempts"`
}

// DefaultS3Config returns archive storage defaults.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:           "us-east-1",
		Bucket:           "stockguard-audit-archive",
		Prefix:           "ledger/",
		StorageClass:     "STANDARD_IA",
		RetryMaxAttempts: 3,
	}
}

// Validate checks required fields.
func (c *S3Config) Validate() error {
	if c.Region == "" {
		return errors.New("archive: s3 region is required")
	}
	if c.Bucket == "" {
		return errors.New("archive: s3 bucket is required")
	}
	return nil
}

func (c *S3Config) storageClass() types.StorageClass {
	switch c.StorageClass {
	case "STANDARD_IA":
		return types.StorageClassStandardIa
	case "INTELLIGENT_TIERING":
		return types.StorageClassIntelligentTiering
	case "GLACIER":
		return types.StorageClassGlacier
	case "DEEP_ARCHIVE":
		return types.StorageClassDeepArchive
	default:
		return types.StorageClassStandard
	}
}

// S3Uploader implements Uploader against S3-compatible storage.
type S3Uploader struct {
	client *s3.Client
	cfg    S3Config
	logger *slog.Logger
}

// NewS3Uploader builds the archive uploader.
func NewS3Uploader(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	if cfg.RetryMaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: loading aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	logger.Info("archive storage ready", "bucket", cfg.Bucket, "region", cfg.Region)
	return &S3Uploader{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Upload stores one object under the configured prefix.
func (u *S3Uploader) Upload(ctx context.Context, key, contentType string, body io.Reader, metadata map[string]string) error {
	input := &s3.PutObjectInput{
		Bucket:       aws.String(u.cfg.Bucket),
		Key:          aws.String(u.cfg.Prefix + key),
		Body:         body,
		StorageClass: u.cfg.storageClass(),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("archive: put object %s: %w", key, err)
	}
	return nil
}
