// Package blob provides the S3-compatible payload store adapter.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/healthcompanion/processor/internal/core"
)

// S3Store implements blob access against any S3-compatible endpoint
// (AWS S3, MinIO, Cloudflare R2).
type S3Store struct {
	client *s3.Client
}

// Options configures the S3 store connection.
type Options struct {
	// Endpoint overrides the AWS default, for S3-compatible services.
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Store creates a store from explicit credentials.
func NewS3Store(ctx context.Context, opts Options) (*S3Store, error) {
	if opts.Region == "" {
		return nil, errors.New("region is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// Compatible services commonly require path-style addressing.
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client}, nil
}

// NewS3StoreFromClient wraps an existing client (useful for tests).
func NewS3StoreFromClient(client *s3.Client) *S3Store {
	return &S3Store{client: client}
}

// Get fetches a blob's full contents.
func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer func() {
		_ = out.Body.Close()
	}()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Delete removes a blob. Deleting a missing blob is not an error: S3
// DeleteObject is idempotent by contract.
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// List returns all objects in the bucket under the given prefix,
// paginating until the listing is exhausted.
func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]core.ObjectInfo, error) {
	var objects []core.ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			info := core.ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.LastModified != nil {
				info.LastModified = obj.LastModified.UTC()
			} else {
				info.LastModified = time.Now().UTC()
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}
