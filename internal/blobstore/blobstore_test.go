package blobstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asascience/matos/internal/config"
)

func TestSubmissionKey(t *testing.T) {
	assert.Equal(t, "submissions/s1/sub1/tags.csv", SubmissionKey("s1", "sub1", "tags.csv"))
	assert.Equal(t, "submissions/s1/sub1/tags.csv", SubmissionKey("s1", "sub1", `C:\Users\me\tags.csv`))
	assert.Equal(t, "submissions/s1/sub1/passwd", SubmissionKey("s1", "sub1", "../../etc/passwd"))
	assert.Equal(t, "submissions/s1/sub1/datafile", SubmissionKey("s1", "sub1", ""))
}

func TestValidateKey(t *testing.T) {
	for _, bad := range []string{"", "  ", "/abs", "a/../b", ".."} {
		_, err := validateKey(bad)
		assert.Error(t, err, bad)
	}
	k, err := validateKey("a//b/c.csv")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.csv", k)
}

func TestFilesystem_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, fs.Driver())

	info, err := fs.Put(ctx, "submissions/s1/x/tags.csv", bytes.NewReader([]byte("a,b\n1,2\n")), PutOptions{ContentType: "text/csv"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Size)
	assert.NotEmpty(t, info.ETag)

	_, err = fs.Put(ctx, "submissions/s1/x/tags.csv", bytes.NewReader([]byte("z")), PutOptions{})
	assert.Error(t, err, "duplicate key")

	got, rc, err := fs.Get(ctx, "submissions/s1/x/tags.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "a,b\n1,2\n", string(body))
	assert.Equal(t, "text/csv", got.ContentType)
	assert.Equal(t, info.ETag, got.ETag)

	require.NoError(t, fs.Delete(ctx, "submissions/s1/x/tags.csv"))
	_, _, err = fs.Get(ctx, "submissions/s1/x/tags.csv")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, fs.Delete(ctx, "submissions/s1/x/tags.csv"), "deleting twice is fine")
}

func TestFilesystem_GetWithoutSidecar(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFilesystem(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "raw.csv"), []byte("abc"), 0o644))

	info, rc, err := fs.Get(context.Background(), "raw.csv")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(3), info.Size)
}

func TestFilesystem_RejectsTraversal(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	_, err = fs.Put(context.Background(), "../escape", bytes.NewReader(nil), PutOptions{})
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), config.BlobConfig{Driver: "fs", Path: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, store.Driver())

	_, err = Open(context.Background(), config.BlobConfig{Driver: "gcs"})
	assert.Error(t, err)

	_, err = Open(context.Background(), config.BlobConfig{Driver: "s3"})
	assert.Error(t, err, "bucket required")
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]fakeObject{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeObject{
		body:        body,
		contentType: aws.ToString(in.ContentType),
		metadata:    in.Metadata,
		modified:    time.Now().UTC(),
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.body)),
		ContentLength: aws.Int64(int64(len(obj.body))),
		ContentType:   aws.String(obj.contentType),
		Metadata:      obj.metadata,
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.body))),
		ContentType:   aws.String(obj.contentType),
		ETag:          aws.String(`"etag"`),
		Metadata:      obj.metadata,
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newS3WithClient(newFakeS3(), "matos")
	assert.Equal(t, DriverS3, store.Driver())

	info, err := store.Put(ctx, "submissions/s1/x/hits.csv", bytes.NewReader([]byte("hello")), PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"datatype": "receptions"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "receptions", info.Metadata["datatype"])

	_, err = store.Put(ctx, "submissions/s1/x/hits.csv", bytes.NewReader([]byte("again")), PutOptions{})
	assert.Error(t, err)

	_, rc, err := store.Get(ctx, "submissions/s1/x/hits.csv")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "hello", string(body))

	require.NoError(t, store.Delete(ctx, "submissions/s1/x/hits.csv"))
	_, _, err = store.Get(ctx, "submissions/s1/x/hits.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}
