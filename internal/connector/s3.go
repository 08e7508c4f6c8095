package connector

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config locates an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	MaxBytes  int64
}

// S3 reads resources from an S3-compatible object store.
type S3 struct {
	maxBytes int64
	list     func(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	open     func(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// NewS3 creates an S3 connector. No request is made until List or ReadText.
func NewS3(cfg S3Config) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	return &S3{
		maxBytes: cfg.MaxBytes,
		list:     client.ListObjects,
		open: func(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
			return client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		},
	}, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("s3 uri must start with s3://: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 uri has no bucket: %q", uri)
	}
	return bucket, key, nil
}

// List returns the objects under the root prefix. Directory markers are
// skipped.
func (s *S3) List(ctx context.Context, root string, recursive bool) ([]Resource, error) {
	bucket, prefix, err := ParseS3URI(root)
	if err != nil {
		return nil, err
	}

	var out []Resource
	for obj := range s.list(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", bucket, prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		out = append(out, Resource{
			URI:  "s3://" + bucket + "/" + obj.Key,
			Kind: KindFromName(path.Base(obj.Key)),
			Metadata: map[string]string{
				"key":  obj.Key,
				"etag": obj.ETag,
			},
		})
	}
	return out, nil
}

// ReadText reads up to MaxBytes of the object.
func (s *S3) ReadText(ctx context.Context, uri string) (string, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return "", err
	}
	obj, err := s.open(ctx, bucket, key)
	if err != nil {
		return "", fmt.Errorf("getting %s: %w", uri, err)
	}
	defer obj.Close()
	return readText(obj, s.maxBytes)
}
