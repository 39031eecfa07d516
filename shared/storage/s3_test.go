package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failPut error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func notFound() error {
	return awserr.NewRequestFailure(awserr.New("NotFound", "not found", nil), http.StatusNotFound, "req")
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	f.types[*in.Key] = aws.StringValue(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, notFound()
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) HeadBucketWithContext(aws.Context, *s3.HeadBucketInput, ...request.Option) (*s3.HeadBucketOutput, error) {
	return nil, notFound()
}

func (f *fakeS3) CreateBucketWithContext(aws.Context, *s3.CreateBucketInput, ...request.Option) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}

// 1x1 transparent GIF
var gifPixel = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

func TestS3StoreRoundTrip(t *testing.T) {
	fake := newFakeS3()
	store := NewS3StoreWithClient(fake, "avatars", "http://localhost:9000/avatars/", nil)
	ctx := context.Background()

	require.NoError(t, store.ensureBucket(ctx))
	require.NoError(t, store.Put(ctx, "a/b.png", strings.NewReader("data"), "image/png"))

	ok, err := store.Exists(ctx, "a/b.png")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "a/b.png"))
	ok, err = store.Exists(ctx, "a/b.png")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, "http://localhost:9000/avatars/a/b.png", store.URL("a/b.png"))
}

func TestS3StoreBreakerOpens(t *testing.T) {
	fake := newFakeS3()
	fake.failPut = errors.New("connection refused")
	store := NewS3StoreWithClient(fake, "avatars", "http://x", utils.NewCircuitBreaker("storage", 2, 0))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.Error(t, store.Put(ctx, "k", strings.NewReader("d"), "text/plain"))
	}
	assert.ErrorIs(t, store.Put(ctx, "k", strings.NewReader("d"), "text/plain"), utils.ErrCircuitOpen)
}

func TestUploadAvatar(t *testing.T) {
	fake := newFakeS3()
	store := NewS3StoreWithClient(fake, "avatars", "http://x", nil)
	userID := uuid.New()

	key, err := UploadAvatar(context.Background(), store, userID, bytes.NewReader(gifPixel))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "avatars/"+userID.String()+"/"))
	assert.True(t, strings.HasSuffix(key, ".gif"))
	assert.Equal(t, "image/gif", fake.types[key])
}

func TestUploadAvatarRejects(t *testing.T) {
	store := NewS3StoreWithClient(newFakeS3(), "avatars", "http://x", nil)
	ctx := context.Background()

	_, err := UploadAvatar(ctx, store, uuid.New(), strings.NewReader("plain text, not an image"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	big := append(append([]byte{}, gifPixel...), make([]byte, MaxAvatarBytes)...)
	_, err = UploadAvatar(ctx, store, uuid.New(), bytes.NewReader(big))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = UploadAvatar(ctx, store, uuid.New(), strings.NewReader(""))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAvatarURL(t *testing.T) {
	store := NewS3StoreWithClient(newFakeS3(), "avatars", "http://cdn/avatars", nil)

	assert.Nil(t, AvatarURL(store, nil))

	external := "https://avatars.githubusercontent.com/u/1"
	assert.Equal(t, external, *AvatarURL(store, &external))

	key := "avatars/u/x.png"
	assert.Equal(t, "http://cdn/avatars/avatars/u/x.png", *AvatarURL(store, &key))
}
