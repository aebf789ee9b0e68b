// Package s3 stores export artifacts in an S3-compatible backend (AWS S3 or
// MinIO). Minimal surface area: single bucket, artifact IDs map to object
// keys directly.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"kincore/internal/adapters/export"
)

// Store implements export.ObjectStore against S3.
type Store struct {
	client  Client
	bucket  string
	presign Presigner
}

// Client is the subset of the S3 API the store uses. Satisfied by *s3.Client.
type Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner produces time-limited GET URLs for stored artifacts.
type Presigner interface {
	SignedGetURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// Config holds explicit construction parameters (mostly for tests). For prod
// we rely primarily on environment variables.
type Config struct {
	Region    string
	Bucket    string
	Endpoint  string // optional; if set enables custom endpoint (e.g. MinIO)
	PathStyle bool
}

// Environment variables:
//   KINCORE_EXPORT_S3_BUCKET=<bucket> (required)
//   KINCORE_EXPORT_S3_REGION=<region> (default us-east-1)
//   KINCORE_EXPORT_S3_ENDPOINT=<url> (optional, for MinIO)
//   KINCORE_EXPORT_S3_PATH_STYLE=true|false (default false)
//   AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// New creates an S3 artifact store from Config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		presign: presignAdapter{s3.NewPresignClient(client)},
	}, nil
}

// OpenFromEnv constructs an S3 store from process environment.
func OpenFromEnv(ctx context.Context) (*Store, error) {
	bucket := os.Getenv("KINCORE_EXPORT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("KINCORE_EXPORT_S3_BUCKET required for s3 artifacts")
	}
	return New(ctx, Config{
		Bucket:    bucket,
		Region:    os.Getenv("KINCORE_EXPORT_S3_REGION"),
		Endpoint:  os.Getenv("KINCORE_EXPORT_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("KINCORE_EXPORT_S3_PATH_STYLE"), "true"),
	})
}

// NewWithClient wires explicit client implementations; used by tests.
func NewWithClient(client Client, presign Presigner, bucket string) *Store {
	return &Store{client: client, bucket: bucket, presign: presign}
}

type presignAdapter struct {
	inner *s3.PresignClient
}

func (p presignAdapter) SignedGetURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	out, err := p.inner.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key}, func(po *s3.PresignOptions) {
		po.Expires = expiry
	})
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

// Put stores a new immutable object. Keys are create-only; an existing key
// fails the call.
func (s *Store) Put(ctx context.Context, key string, payload []byte, contentType string, metadata map[string]any) (export.Artifact, error) {
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key}); err == nil {
		return export.Artifact{}, fmt.Errorf("object %s already exists", key)
	}
	input := &s3.PutObjectInput{Bucket: &s.bucket, Key: &key, Body: bytes.NewReader(payload)}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if md := stringMetadata(metadata); len(md) > 0 {
		input.Metadata = md
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return export.Artifact{}, err
	}
	artifact := export.Artifact{
		ID:          key,
		ContentType: contentType,
		SizeBytes:   int64(len(payload)),
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if url, err := s.signedURL(ctx, key); err == nil {
		artifact.URL = url
	}
	return artifact, nil
}

// Get returns the artifact metadata and full payload bytes.
func (s *Store) Get(ctx context.Context, key string) (export.Artifact, []byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return export.Artifact{}, nil, err
	}
	defer func() { _ = out.Body.Close() }()
	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return export.Artifact{}, nil, err
	}
	artifact := export.Artifact{
		ID:        key,
		SizeBytes: int64(len(payload)),
		Metadata:  anyMetadata(out.Metadata),
		CreatedAt: aws.ToTime(out.LastModified),
	}
	if out.ContentType != nil {
		artifact.ContentType = *out.ContentType
	}
	if url, err := s.signedURL(ctx, key); err == nil {
		artifact.URL = url
	}
	return artifact, payload, nil
}

// Delete removes the object. S3 deletes are idempotent; existence is assumed
// when the call succeeds.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return false, err
	}
	return true, nil
}

// List returns artifacts whose keys start with prefix, sorted by key.
func (s *Store) List(ctx context.Context, prefix string) ([]export.Artifact, error) {
	var artifacts []export.Artifact
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			var size int64
			if obj.Size != nil {
				size = *obj.Size
			}
			artifacts = append(artifacts, export.Artifact{
				ID:        aws.ToString(obj.Key),
				SizeBytes: size,
				CreatedAt: aws.ToTime(obj.LastModified),
			})
		}
		if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].ID < artifacts[j].ID })
	return artifacts, nil
}

func (s *Store) signedURL(ctx context.Context, key string) (string, error) {
	if s.presign == nil {
		return "", fmt.Errorf("presigner not configured")
	}
	return s.presign.SignedGetURL(ctx, s.bucket, key, 15*time.Minute)
}

func stringMetadata(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func anyMetadata(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
