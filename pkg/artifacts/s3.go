package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archive stores run logs in an S3 bucket. URIs are of the form
// s3://bucket/key.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config configures an S3Archive. Endpoint is for MinIO and
// LocalStack; the real service leaves it empty.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// NewS3Archive creates an S3-backed archive using the default AWS
// credential chain.
func NewS3Archive(ctx context.Context, cfg S3Config) (*S3Archive, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("artifacts: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // MinIO and LocalStack need path style
		}
	})
	return &S3Archive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *S3Archive) Put(ctx context.Context, key string, data []byte) (string, error) {
	objectKey := a.prefix + key
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("artifacts: s3 put %s: %w", objectKey, err)
	}
	return "s3://" + a.bucket + "/" + objectKey, nil
}

func (a *S3Archive) Get(ctx context.Context, uri string) ([]byte, error) {
	objectKey, err := a.keyFromURI(uri)
	if err != nil {
		return nil, err
	}
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, fmt.Errorf("artifacts: s3 get %s: %w", uri, err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("artifacts: s3 read %s: %w", uri, err)
	}
	return data, nil
}

func (a *S3Archive) Exists(ctx context.Context, uri string) (bool, error) {
	objectKey, err := a.keyFromURI(uri)
	if err != nil {
		return false, err
	}
	_, err = a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (a *S3Archive) Delete(ctx context.Context, uri string) error {
	objectKey, err := a.keyFromURI(uri)
	if err != nil {
		return err
	}
	_, err = a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("artifacts: s3 delete %s: %w", uri, err)
	}
	return nil
}

func (a *S3Archive) keyFromURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "s3://"+a.bucket+"/")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: %s", ErrForeignURI, uri)
	}
	return rest, nil
}
