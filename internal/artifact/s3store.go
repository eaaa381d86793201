package artifact

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/zeebo/blake3"
)

// ObjectPutter is the subset of the S3 client used by S3Store.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads artifacts under content-addressed keys.
type S3Store struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Store builds a store from an AWS config. A non-empty endpoint selects
// an S3-compatible service with path-style addressing.
func NewS3Store(cfg aws.Config, bucket, prefix, endpoint string) *S3Store {
	client := s3.NewFromConfig(cfg, endpointOptions(endpoint))
	return NewS3StoreWithClient(client, bucket, prefix)
}

// endpointOptions leaves AWS addressing untouched unless endpoint is set.
func endpointOptions(endpoint string) func(*s3.Options) {
	return func(o *s3.Options) {
		if endpoint == "" {
			return
		}
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client ObjectPutter, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key derives the object key for data. Identical bytes map to one object.
func (s *S3Store) Key(name string, data []byte) string {
	sum := blake3.Sum256(data)
	key := hex.EncodeToString(sum[:16]) + path.Ext(name)
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return key
}

// Put uploads data and returns an s3:// reference.
func (s *S3Store) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := s.Key(name, data)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
