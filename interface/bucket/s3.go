package bucket

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const defaultAWSRegion = "eu-central-1"

// S3Bucket implements service.Bucket for AWS S3 (or any S3-compatible endpoint)
type S3Bucket struct {
	name       string
	client     *s3.Client
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

// NewS3Bucket connects to the bucket, using static credentials if provided
func NewS3Bucket(ctx context.Context, name string, cfg Config) (*S3Bucket, error) {
	region := cfg.Region
	if region == "" {
		region = defaultAWSRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewS3Bucket.LoadDefaultConfig: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Bucket{
		name:   name,
		client: client,
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.PartSize = 10 * 1024 * 1024 // 10MB per part
		}),
		uploader: manager.NewUploader(client),
	}, nil
}

// Name implements service.Bucket
func (b *S3Bucket) Name() string { return b.name }

// URI implements service.Bucket
func (b *S3Bucket) URI(key string) string { return joinURI("s3", b.name, key) }

// Exists implements service.Bucket
func (b *S3Bucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, service.MakeTemporary(fmt.Errorf("Exists[%s]: %w", b.URI(key), err))
	}
	return true, nil
}

// List implements service.Bucket
func (b *S3Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	})
	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, service.MakeTemporary(fmt.Errorf("List[%s].NextPage: %w", b.URI(prefix), err))
		}
		for _, object := range page.Contents {
			keys = append(keys, aws.ToString(object.Key))
		}
	}
	return keys, nil
}

// Download implements service.Bucket
func (b *S3Bucket) Download(ctx context.Context, key, localPath string) error {
	if err := service.MkParentDir(localPath); err != nil {
		return err
	}
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("Download: failed to create file %s: %w", localPath, err)
	}
	defer file.Close()

	if _, err = b.downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	}); err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			os.Remove(localPath)
			return service.ErrFileNotFound{File: b.URI(key)}
		}
		return fmt.Errorf("Download: failed to download object %s: %w", b.URI(key), err)
	}
	return nil
}

// Upload implements service.Bucket
func (b *S3Bucket) Upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("Upload.Open: %w", err)
	}
	defer file.Close()
	if _, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
		Body:   file,
	}); err != nil {
		return service.MakeTemporary(fmt.Errorf("Upload[%s]: %w", b.URI(key), err))
	}
	return nil
}
