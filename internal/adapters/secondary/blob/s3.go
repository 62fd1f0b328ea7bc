package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// S3Config configures the S3-compatible driver (AWS S3 or MinIO).
type S3Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional, e.g. MinIO
	AccessKeyID     string // optional, falls back to the default credential chain
	SecretAccessKey string
	PathStyle       bool
}

// S3 stores objects in a single bucket; keys map directly to object keys.
type S3 struct {
	client *s3.Client
	bucket string
	urls   urlBuilder
}

var _ ports.ImageStore = (*S3)(nil)

func NewS3(ctx context.Context, cfg S3Config, publicBaseURL string) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3WithClient(client, cfg.Bucket, publicBaseURL), nil
}

func newS3WithClient(client *s3.Client, bucket string, publicBaseURL string) *S3 {
	return &S3{client: client, bucket: bucket, urls: urlBuilder(publicBaseURL)}
}

func (s *S3) Driver() string { return DriverS3 }

func (s *S3) URL(key string) string { return s.urls.url(key) }

// Put is create-only: an existing key is reported as ErrObjectExists.
func (s *S3) Put(ctx context.Context, key string, r io.Reader, contentType string) (ports.StoredObject, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return ports.StoredObject{}, err
	}

	if _, err := s.head(ctx, key); err == nil {
		return ports.StoredObject{}, apperrors.ErrObjectExists
	} else if !errors.Is(err, apperrors.ErrObjectNotFound) {
		return ports.StoredObject{}, err
	}

	// The SDK needs a seekable body to sign the payload.
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return ports.StoredObject{}, err
		}
		body = bytes.NewReader(data)
	}

	input := &s3.PutObjectInput{Bucket: &s.bucket, Key: &key, Body: body}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return ports.StoredObject{}, fmt.Errorf("put object: %w", err)
	}
	return s.head(ctx, key)
}

func (s *S3) Get(ctx context.Context, key string) (ports.StoredObject, io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return ports.StoredObject{}, nil, mapS3Error(err)
	}
	info := ports.StoredObject{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: lastModified(out.LastModified),
	}
	return info, out.Body, nil
}

func (s *S3) Delete(ctx context.Context, key string) (bool, error) {
	if _, err := s.head(ctx, key); err != nil {
		if errors.Is(err, apperrors.ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return false, mapS3Error(err)
	}
	return true, nil
}

func (s *S3) head(ctx context.Context, key string) (ports.StoredObject, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return ports.StoredObject{}, mapS3Error(err)
	}
	return ports.StoredObject{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: lastModified(out.LastModified),
	}, nil
}

func mapS3Error(err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
		return apperrors.ErrObjectNotFound
	}
	return err
}

func lastModified(t *time.Time) time.Time {
	if t == nil {
		return time.Now().UTC()
	}
	return *t
}
