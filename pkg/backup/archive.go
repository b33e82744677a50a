package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dd0wney/cluso-rollover/pkg/graph"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/metrics"
)

// ArchiveConfig locates the snapshot archive bucket
type ArchiveConfig struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // S3 compatible endpoint; path style addressing when set

	// Static credentials; empty uses the default AWS credential chain
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Enabled reports whether an archive bucket is configured
func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

// PutObjectAPI is the part of the S3 client the archiver uses
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads received stores to s3://bucket/prefix/<runID>/<dir>.db
type S3Archiver struct {
	api     PutObjectAPI
	bucket  string
	prefix  string
	runID   string
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewS3Archiver builds an S3 client from cfg
func NewS3Archiver(ctx context.Context, cfg ArchiveConfig, runID string, logger logging.Logger, reg *metrics.Registry) (*S3Archiver, error) {
	if !cfg.Enabled() {
		return nil, ErrBucketRequired
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewArchiver(client, cfg, runID, logger, reg), nil
}

// NewArchiver wraps an existing S3 client
func NewArchiver(api PutObjectAPI, cfg ArchiveConfig, runID string, logger logging.Logger, reg *metrics.Registry) *S3Archiver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &S3Archiver{
		api:     api,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		runID:   runID,
		logger:  logger.With(logging.Component("archive")),
		metrics: reg,
	}
}

// Key returns the object key for the store in storagePath
func (a *S3Archiver) Key(storagePath string) string {
	return path.Join(a.prefix, a.runID, filepath.Base(filepath.Clean(storagePath))+".db")
}

// Archive uploads the store file in storagePath
func (a *S3Archiver) Archive(ctx context.Context, storagePath string) (err error) {
	defer func() { a.metrics.RecordArchive(err) }()

	f, err := os.Open(graph.StoreFile(storagePath))
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	key := a.Key(storagePath)
	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", a.bucket, key, err)
	}
	a.logger.Info("snapshot archived", logging.String("bucket", a.bucket), logging.String("key", key), logging.Int64("bytes", info.Size()))
	return nil
}
