package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"sync-service/pkg/models"
)

// R2Config holds the Cloudflare R2 connection parameters for the
// execution archive bucket.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	BucketName      string
}

// R2Archiver writes finished sync executions to R2 before the retention
// janitor purges them from Postgres.
type R2Archiver struct {
	client *s3.Client
	config R2Config
}

func NewR2Archiver(cfg R2Config) (*R2Archiver, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("missing required R2 configuration parameters")
	}

	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID),
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithEndpointResolverWithOptions(r2Resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.AccessKeySecret,
			"",
		)),
		awsconfig.WithRetryer(func() aws.Retryer {
			return aws.NopRetryer{}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	// Verify bucket exists and we have permissions
	_, err = client.HeadBucket(context.TODO(), &s3.HeadBucketInput{
		Bucket: aws.String(cfg.BucketName),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") {
			return nil, fmt.Errorf("bucket %s not found or you don't have permission to access it", cfg.BucketName)
		}
		return nil, fmt.Errorf("failed to access bucket: %w", err)
	}

	return &R2Archiver{
		client: client,
		config: cfg,
	}, nil
}

// ArchiveExecution serializes the execution, including its logs and
// metrics, and uploads it under executions/<scheduleID>/<executionID>.json.
func (a *R2Archiver) ArchiveExecution(ctx context.Context, exec *models.SyncExecution) error {
	if exec == nil {
		return fmt.Errorf("execution cannot be nil")
	}

	content, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to serialize execution %s: %w", exec.ID, err)
	}

	key := fmt.Sprintf("executions/%s/%s.json", exec.ScheduleID, exec.ID)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}

	log.Printf("📥 [ARCHIVE] Stored execution %s at %s", exec.ID, key)
	return nil
}
