// Package archive mirrors daily transcript documents to an S3 bucket.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ubv/ubv-transcribe/internal/logging"
)

const contentType = "text/markdown; charset=utf-8"

// Config contains minimal configuration for the S3 mirror. Credentials come
// from the standard AWS chain.
type Config struct {
	Bucket       string
	Prefix       string // key prefix, e.g. "transcripts/"
	Region       string
	Profile      string
	UsePathStyle bool   // for S3-compatible providers
	Endpoint     string // overrides the AWS endpoint, e.g. a MinIO URL
	Logger       *slog.Logger
}

// objectAPI is the narrow slice of the S3 client the archive needs.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive uploads documents under Prefix, keeping the local
// YYYY/YYYY-MM-DD_Camera.md layout.
type S3Archive struct {
	api    objectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3 loads the default AWS configuration and returns an archive.
func NewS3(ctx context.Context, cfg Config) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, clientOptions(cfg))
	return newWithAPI(client, cfg.Bucket, cfg.Prefix, cfg.Logger), nil
}

func clientOptions(cfg Config) func(*s3.Options) {
	return func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}
}

func newWithAPI(api objectAPI, bucket, prefix string, logger *slog.Logger) *S3Archive {
	return &S3Archive{
		api:    api,
		bucket: bucket,
		prefix: prefix,
		logger: logging.WithComponent(logging.OrDiscard(logger), "archive"),
	}
}

// Key maps a document path relative to the transcripts root to its object key.
func (a *S3Archive) Key(relPath string) string {
	rel := strings.TrimPrefix(filepath.ToSlash(relPath), "/")
	prefix := strings.Trim(a.prefix, "/")
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}

// Publish uploads the document at localPath under the key for relPath,
// replacing any previous version.
func (a *S3Archive) Publish(ctx context.Context, localPath, relPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	key := a.Key(relPath)
	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}

	a.logger.Debug("published document", "bucket", a.bucket, "key", key, "bytes", len(data))
	return nil
}
