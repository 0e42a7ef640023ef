package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	failGet error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3StorePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	st := NewS3StoreWithClient(fake, "bucket", "snapshots/")

	data := []byte(`{"a":1}`)
	hash, err := st.Put(ctx, data)
	require.NoError(t, err)
	_, err = st.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.puts)

	key, err := objectKey("snapshots/", hash)
	require.NoError(t, err)
	assert.Contains(t, fake.objects, key)

	got, err := st.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := st.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestS3StoreMissing(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	st := NewS3StoreWithClient(fake, "bucket", "")
	hash := ContentHash([]byte("absent"))

	_, err := st.Get(ctx, hash)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := st.Exists(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	fake.failGet = errors.New("throttled")
	_, err = st.Get(ctx, hash)
	assert.ErrorContains(t, err, "throttled")
	assert.NotErrorIs(t, err, ErrNotFound)
}
