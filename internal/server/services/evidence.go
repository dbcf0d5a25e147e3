package services

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/paywall/internal/clock"
	sc "github.com/dmitrijs2005/paywall/internal/server/config"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// EvidenceService hands out presigned S3 links for deposit evidence
// (receipts, screenshots). Clients upload directly to the bucket.
type EvidenceService struct {
	config *sc.Config
	clock  clock.Clock
}

func NewEvidenceService(cfg *sc.Config, c clock.Clock) *EvidenceService {
	if c == nil {
		c = clock.Real{}
	}
	return &EvidenceService{config: cfg, clock: c}
}

// EvidenceKey is deposits/<account>/<yyyy>/<mm>/<dd>/<uuid>.
func EvidenceKey(accountID string, at time.Time) string {
	return fmt.Sprintf("%s%04d/%02d/%02d/%s", evidencePrefix(accountID), at.Year(), at.Month(), at.Day(), uuid.New())
}

func evidencePrefix(accountID string) string {
	return "deposits/" + accountID + "/"
}

func (s *EvidenceService) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return newS3PresignClient(client), nil
}

func (s *EvidenceService) ttl() time.Duration {
	if s.config.PresignTTL > 0 {
		return s.config.PresignTTL
	}
	return 15 * time.Minute
}

// PresignUpload returns a fresh storage key under the account's prefix and
// a presigned PUT URL for it.
func (s *EvidenceService) PresignUpload(ctx context.Context, accountID string) (key, url string, err error) {
	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return "", "", err
	}

	bucket := s.config.S3Bucket
	key = EvidenceKey(accountID, s.clock.Now())

	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.ttl()))
	if err != nil {
		return "", "", err
	}

	return key, req.URL, nil
}

// PresignDownload returns a presigned GET URL for an evidence key.
func (s *EvidenceService) PresignDownload(ctx context.Context, key string) (string, error) {
	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket
	req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.ttl()))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
