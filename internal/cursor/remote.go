package cursor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the subset of the S3 client the remote store needs, narrowed
// for testability against a stub.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// RemoteStore persists the cursor blob as a single S3 object, chosen when
// both AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are present (spec §6).
// Atomicity relies on S3's own atomic PUT semantics: readers never
// observe a partially written object.
type RemoteStore struct {
	client s3API
	bucket string
	key    string
}

// NewRemoteStore returns a Store backed by s3://bucket/key.
func NewRemoteStore(client *s3.Client, bucket, key string) *RemoteStore {
	return &RemoteStore{client: client, bucket: bucket, key: key}
}

func (s *RemoteStore) Load(ctx context.Context) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("getting s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("reading s3://%s/%s body: %w", s.bucket, s.key, err)
	}
	return b, true, nil
}

func (s *RemoteStore) Save(ctx context.Context, token []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   bytes.NewReader(token),
	})
	if err != nil {
		return fmt.Errorf("putting s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}
