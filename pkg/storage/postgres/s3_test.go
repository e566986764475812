package postgres

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sellhub/pkg/storage"
)

type fakeS3 struct {
	mu            sync.Mutex
	objects       map[string][]byte
	metadata      map[string]map[string]string
	bucketExists  bool
	createCalls   int
	headBucketErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.metadata[aws.ToString(in.Key)] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headBucketErr != nil {
		return nil, f.headBucketErr
	}
	if !f.bucketExists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.createCalls++
	f.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	fake := newFakeS3()
	store := &S3Store{client: fake, bucket: "kyc"}
	ctx := context.Background()

	require.NoError(t, store.ensureBucket(ctx))
	require.NoError(t, store.ensureBucket(ctx))
	assert.Equal(t, 1, fake.createCalls)

	info, err := store.Put(ctx, "kyc/7/1/id_front", strings.NewReader("hello"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", info.SHA256)
	assert.Equal(t, info.SHA256, fake.metadata["kyc/7/1/id_front"]["checksum-sha256"])

	rc, err := store.Get(ctx, "kyc/7/1/id_front")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hello", string(data))

	require.NoError(t, store.Delete(ctx, "kyc/7/1/id_front"))
	_, err = store.Get(ctx, "kyc/7/1/id_front")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	assert.NoError(t, store.Ping(ctx))
	fake.headBucketErr = errors.New("forbidden")
	assert.Error(t, store.Ping(ctx))
}

func TestNewObjectStoreFilesystem(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.FilesystemRoot = t.TempDir()

	store, err := NewObjectStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.FileSystemStore{}, store)

	cfg.ObjectStoreType = "gcs"
	_, err = NewObjectStore(context.Background(), cfg)
	assert.Error(t, err)
}
