// Package storage は成果物をS3互換のオブジェクトストレージへ複製します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const defaultPresignExpiry = 15 * time.Minute

// S3Config は S3 互換ストレージの接続設定です。
type S3Config struct {
	Bucket string
	Region string
	// Endpoint を指定するとパス形式でアクセスします（MinIO / R2 など）。
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PresignExpiry   time.Duration
	// Prefix はオブジェクトキーの前に付ける文字列です。
	Prefix string
}

// S3Publisher は成果物をアップロードし、署名付きURLを発行します。
type S3Publisher struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	prefix    string
	expiry    time.Duration
	logger    *zap.Logger
}

// NewS3Publisher は S3Publisher を作成します。
func NewS3Publisher(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	return &S3Publisher{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		expiry:    expiry,
		logger:    logger,
	}, nil
}

// Upload はローカルファイルを key に保存します。
func (p *S3Publisher) Upload(ctx context.Context, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(p.objectKey(key)),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to s3: %w", err)
	}
	p.logger.Debug("object uploaded", zap.String("key", p.objectKey(key)), zap.Int64("bytes", info.Size()))
	return nil
}

// PresignGet は key の一時的なダウンロードURLを返します。
func (p *S3Publisher) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(key)),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return req.URL, nil
}

func (p *S3Publisher) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if p.prefix == "" {
		return key
	}
	return p.prefix + "/" + key
}
