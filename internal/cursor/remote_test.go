package cursor

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

type stubS3 struct {
	objects map[string][]byte
}

func newStubS3() *stubS3 { return &stubS3{objects: map[string][]byte{}} }

func (s *stubS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := s.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (s *stubS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	s.objects[*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func TestRemoteStore_LoadAbsent(t *testing.T) {
	store := &RemoteStore{client: newStubS3(), bucket: "b", key: "resume-token.json"}
	token, present, err := store.Load(context.Background())
	require.NoError(t, err)
	require.False(t, present)
	require.Nil(t, token)
}

func TestRemoteStore_SaveThenLoad(t *testing.T) {
	stub := newStubS3()
	store := &RemoteStore{client: stub, bucket: "b", key: "resume-token.json"}
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, []byte(`{"_data":"T1"}`)))
	token, present, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, []byte(`{"_data":"T1"}`), token)
}
