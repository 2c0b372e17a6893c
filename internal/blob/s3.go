package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dukerupert/teacaddy/internal/model"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// S3Store keeps each blob as one object named <prefix><id>.
type S3Store struct {
	client s3Client
	bucket string
	prefix string
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates a blob store backed by an S3-compatible bucket.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 blob store: bucket and credentials are required")
	}
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &S3Store{client: s3.New(opts), bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) key(id string) string {
	return s.prefix + id
}

func (s *S3Store) Put(ctx context.Context, data []byte, mimeType string) (string, error) {
	id := NewID()
	if err := s.Save(ctx, model.Blob{ID: id, MIMEType: mimeType, Data: data}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *S3Store) Save(ctx context.Context, b model.Blob) error {
	if b.MIMEType == "" {
		b.MIMEType = DefaultMIMEType
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(b.ID)),
		Body:          bytes.NewReader(b.Data),
		ContentLength: aws.Int64(int64(len(b.Data))),
		ContentType:   aws.String(b.MIMEType),
	})
	if err != nil {
		return fmt.Errorf("put blob %s: %w: %w", b.ID, model.ErrStorage, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, id string) (*model.Blob, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("get blob %s: %w: %w", id, model.ErrStorage, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w: %w", id, model.ErrStorage, err)
	}
	b := &model.Blob{ID: id, MIMEType: aws.ToString(out.ContentType), Data: data}
	if b.MIMEType == "" {
		b.MIMEType = DefaultMIMEType
	}
	if out.LastModified != nil {
		b.CreatedAt = out.LastModified.UTC()
	} else {
		b.CreatedAt = time.Now().UTC()
	}
	return b, nil
}
