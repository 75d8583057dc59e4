package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kebairia/mybak/internal/config"
	"github.com/kebairia/mybak/internal/logger"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	manager.UploadAPIClient
}

// S3 uploads to Amazon S3 or an S3 compatible endpoint. The run container
// maps to a bucket.
type S3 struct {
	client S3API
	region string
	log    logger.Logger
}

var _ Provider = (*S3)(nil)

// NewS3Client builds an S3 client from static keys when given, otherwise
// from the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrTargetFailed, err)
	}

	if cfg.Endpoint != "" {
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}), nil
	}
	return s3.NewFromConfig(awsCfg), nil
}

// NewS3 wraps an S3 client.
func NewS3(client S3API, region string, log logger.Logger) *S3 {
	if log == nil {
		log = logger.Nop()
	}
	return &S3{client: client, region: region, log: log}
}

func (p *S3) Name() string { return config.ProviderS3 }

// EnsureTarget creates the bucket unless HeadBucket finds it.
func (p *S3) EnsureTarget(ctx context.Context, bucket string) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		p.log.Debug("bucket already exists", "bucket", bucket)
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("%w: head bucket %s: %v", ErrTargetFailed, bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if p.region != "" && p.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(p.region),
		}
	}
	if _, err := p.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("%w: create bucket %s: %v", ErrTargetFailed, bucket, err)
	}
	p.log.Info("bucket created", "bucket", bucket, "region", p.region)
	return nil
}

// Upload sends r through the multipart upload manager.
func (p *S3) Upload(ctx context.Context, bucket, name string, r io.Reader, size int64) (string, error) {
	uploader := manager.NewUploader(p.client)
	out, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(name),
		Body:        r,
		ContentType: aws.String(ContentType(name)),
		Metadata:    map[string]string{"created-by": "mybak"},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s: %v", ErrUploadFailed, bucket, name, err)
	}
	if out.Location != "" {
		return out.Location, nil
	}
	return fmt.Sprintf("s3://%s/%s", bucket, name), nil
}

// Confirm compares the remote object length with size.
func (p *S3) Confirm(ctx context.Context, bucket, name string, size int64) error {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrNotConfirmed, bucket, name, err)
	}
	return confirmSize(name, size, aws.ToInt64(out.ContentLength))
}
