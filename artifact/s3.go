package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	s3NumRetries = 3
	s3RetryWait  = 5 * time.Second
)

var errS3KeyNotFound = errors.New("key not found in s3 bucket")

type s3Fetcher interface {
	fetch(ctx context.Context, cfg S3Config, bucket, key, dest string) error
}

type awsS3Fetcher struct {
	logger log.Logger
}

func newS3Fetcher(logger log.Logger) s3Fetcher {
	return awsS3Fetcher{logger: logger}
}

func (f awsS3Fetcher) fetch(ctx context.Context, cfg S3Config, bucket, key, dest string) error {
	awsConfig, err := loadAWSCredentials(ctx, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey, f.logger)
	if err != nil {
		return fmt.Errorf("load aws credentials: %w", err)
	}
	client := s3.NewFromConfig(*awsConfig)

	return retry.Times(s3NumRetries).Wait(s3RetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			f.logger.Debugf("Retrying S3 download, attempt %d", attempt+1)
		}

		if err := headObject(ctx, client, bucket, key); err != nil {
			if errors.Is(err, errS3KeyNotFound) {
				return fmt.Errorf("s3://%s/%s: %w", bucket, key, err), true
			}
			return err, false
		}

		if err := downloadObject(ctx, client, bucket, key, dest); err != nil {
			return fmt.Errorf("download object: %w", err), false
		}

		return nil, true
	})
}

func headObject(ctx context.Context, client *s3.Client, bucket, key string) error {
	_, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiError smithy.APIError
		if errors.As(err, &apiError) {
			switch apiError.(type) {
			case *types.NotFound:
				return errS3KeyNotFound
			default:
				return fmt.Errorf("aws api error: %w", err)
			}
		}
		return fmt.Errorf("generic aws error: %w", err)
	}

	return nil
}

func downloadObject(ctx context.Context, client *s3.Client, bucket, key, dest string) error {
	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	downloader := manager.NewDownloader(client)
	if _, err := downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return err
	}

	return nil
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
