package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, "reports/r1/a1", strings.NewReader("poc"), "text/plain"))

	rc, err := m.Get(ctx, "reports/r1/a1")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "poc", string(b))

	require.NoError(t, m.Delete(ctx, "reports/r1/a1"))
	_, err = m.Get(ctx, "reports/r1/a1")
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeS3 struct {
	objects map[string][]byte
	lastPut *s3.PutObjectInput
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = b
	f.lastPut = in
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(b)))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3MapsRequests(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	s := &S3{client: fake, bucket: "attachments", lg: zap.NewNop().Sugar()}

	require.NoError(t, s.Put(ctx, "k", strings.NewReader("hello"), "image/png"))
	assert.Equal(t, "attachments", aws.ToString(fake.lastPut.Bucket))
	assert.Equal(t, "image/png", aws.ToString(fake.lastPut.ContentType))
	assert.EqualValues(t, 5, aws.ToInt64(fake.lastPut.ContentLength))

	rc, err := s.Get(ctx, "k")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "hello", string(b))

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{}, zap.NewNop().Sugar())
	assert.Error(t, err)
}
