package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/records"
)

// ObjectGetter is the subset of the S3 client the loaders need
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config describes how to reach the bucket holding listings and documents
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an S3 client from cfg, falling back to the default credential chain
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// S3Listings reads a day folder stored under Prefix in Bucket
type S3Listings struct {
	Client ObjectGetter
	Bucket string
	Prefix string
}

func (l *S3Listings) Today(ctx context.Context, sourceID string) ([]records.FileRecord, error) {
	return l.read(ctx, TodayListing, sourceID)
}

func (l *S3Listings) LastWeekday(ctx context.Context, sourceID string) ([]records.FileRecord, error) {
	return l.read(ctx, LastWeekdayListing, sourceID)
}

// Sources lists the source ids present in either listing
func (l *S3Listings) Sources(ctx context.Context) ([]string, error) {
	today, err := l.decode(ctx, TodayListing)
	if err != nil {
		return nil, err
	}
	last, err := l.decode(ctx, LastWeekdayListing)
	if err != nil {
		return nil, err
	}
	return SourceIDs(today, last), nil
}

func (l *S3Listings) read(ctx context.Context, name, sourceID string) ([]records.FileRecord, error) {
	all, err := l.decode(ctx, name)
	if err != nil {
		return nil, err
	}
	return all[sourceID], nil
}

func (l *S3Listings) decode(ctx context.Context, name string) (map[string][]records.FileRecord, error) {
	key := path.Join(l.Prefix, name)
	body, err := getObject(ctx, l.Client, l.Bucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	res, err := DecodeListing(body)
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", l.Bucket, key, err)
	}
	return res, nil
}

// S3Docs reads <source_id>_native.md objects under Prefix in Bucket
type S3Docs struct {
	Client ObjectGetter
	Bucket string
	Prefix string
}

func (d *S3Docs) Documentation(ctx context.Context, sourceID string) (string, error) {
	body, err := getObject(ctx, d.Client, d.Bucket, path.Join(d.Prefix, DocName(sourceID)))
	if err != nil {
		return "", err
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read documentation: %w", err)
	}
	return string(b), nil
}

func getObject(ctx context.Context, client ObjectGetter, bucket, key string) (io.ReadCloser, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", core.ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func isNotFoundError(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
