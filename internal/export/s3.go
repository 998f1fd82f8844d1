package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Backend stores reports in S3 or MinIO.
type S3Backend struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucket     string
	pathPrefix string
}

// S3Config holds S3/MinIO connection configuration.
type S3Config struct {
	// Endpoint for MinIO (e.g. "minio.flowreach.svc:9000").
	// Leave empty for AWS S3.
	Endpoint string

	// Bucket name
	Bucket string

	// Region (required for AWS S3, optional for MinIO)
	Region string

	// Credentials
	AccessKeyID     string
	SecretAccessKey string

	// UseSSL enables HTTPS (default: false for internal MinIO)
	UseSSL bool

	// PathPrefix is prepended to all report keys
	PathPrefix string
}

// NewS3Backend creates an S3/MinIO backend.
func NewS3Backend(cfg *S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1" // Default region for MinIO
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"", // session token (not used for MinIO)
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)

	if cfg.Endpoint != "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		endpoint := fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)

		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	presigner := s3.NewPresignClient(client)

	return &S3Backend{
		client:     client,
		presigner:  presigner,
		bucket:     cfg.Bucket,
		pathPrefix: cfg.PathPrefix,
	}, nil
}

var _ Backend = (*S3Backend)(nil)

// fullPath returns the full S3 key for a report path.
func (b *S3Backend) fullPath(path string) string {
	if b.pathPrefix == "" {
		return path
	}
	return b.pathPrefix + "/" + path
}

// Put stores data and returns a report reference.
func (b *S3Backend) Put(ctx context.Context, path string, data io.Reader, contentType string) (*ReportRef, error) {
	key := b.fullPath(path)

	// Read everything up front for the checksum and content length.
	content, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	hash := sha256.Sum256(content)
	checksum := hex.EncodeToString(hash[:])

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(content))),
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	return &ReportRef{
		URI:         fmt.Sprintf("s3://%s/%s", b.bucket, key),
		ContentType: contentType,
		Size:        int64(len(content)),
		Checksum:    checksum,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Get retrieves the stored bytes for a reference.
func (b *S3Backend) Get(ctx context.Context, ref *ReportRef) (io.ReadCloser, error) {
	key := b.extractKey(ref.URI)

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}

	return result.Body, nil
}

// List returns references under a path prefix.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]*ReportRef, error) {
	fullPrefix := b.fullPath(prefix)

	var refs []*ReportRef
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}

		for _, obj := range page.Contents {
			refs = append(refs, &ReportRef{
				URI:       fmt.Sprintf("s3://%s/%s", b.bucket, *obj.Key),
				Size:      *obj.Size,
				CreatedAt: *obj.LastModified,
			})
		}
	}

	return refs, nil
}

// PresignGet generates a presigned URL for download.
func (b *S3Backend) PresignGet(ctx context.Context, ref *ReportRef, expiry time.Duration) (string, error) {
	key := b.extractKey(ref.URI)

	result, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}

	return result.URL, nil
}

// extractKey extracts the S3 key from a report URI.
func (b *S3Backend) extractKey(uri string) string {
	// URI format: s3://bucket/key
	uri = strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(uri, "/", 2)
	if len(parts) < 2 {
		return uri
	}
	return parts[1]
}
