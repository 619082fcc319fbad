package replication

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3FS implements RemoteFS against an AWS S3 (or S3-compatible) bucket.
type S3FS struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3FS builds an S3FS for bucket, scoping every key under prefix
// (empty for bucket root).
func NewS3FS(ctx context.Context, bucket, prefix string) (*S3FS, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &S3FS{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (f *S3FS) key(k string) string {
	if f.prefix == "" {
		return k
	}
	return strings.TrimSuffix(f.prefix, "/") + "/" + k
}

func (f *S3FS) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(f.key(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			out = append(out, strings.TrimPrefix(aws.ToString(obj.Key), f.key("")))
		}
	}
	return out, nil
}

func (f *S3FS) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(key)),
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return nil, &NotExistError{Key: key}
	}
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (f *S3FS) Put(ctx context.Context, key string, data []byte) error {
	uploader := manager.NewUploader(f.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(key)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (f *S3FS) Delete(ctx context.Context, key string) error {
	_, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(key)),
	})
	return err
}
