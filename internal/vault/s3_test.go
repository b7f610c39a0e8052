package vault

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

	"drift-go/internal/drift"
)

// fakeS3 keeps objects in memory. Multipart calls are never reached for
// the small payloads used here.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

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

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func TestS3Vault_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	v := NewS3VaultWithClient("remote", "bucket", "drift/prod", client)
	hash := hashOf("payload")

	if ok, err := v.HasContent(ctx, hash); err != nil || ok {
		t.Fatalf("HasContent() before upload = %v, %v", ok, err)
	}
	if err := v.PutContent(ctx, hash, strings.NewReader("sealed"), 6); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}
	if _, ok := client.objects["drift/prod/content/"+hash]; !ok {
		t.Errorf("object not stored under prefix, keys: %v", client.objects)
	}

	var buf bytes.Buffer
	if err := v.GetContent(ctx, hash, &buf); err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if buf.String() != "sealed" {
		t.Errorf("GetContent() = %q", buf.String())
	}
	if err := v.ValidateSetup(ctx); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
}

func TestS3Vault_PutContentSkipsExisting(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	v := NewS3VaultWithClient("remote", "bucket", "", client)
	hash := hashOf("payload")

	v.PutContent(ctx, hash, strings.NewReader("sealed"), 6)
	v.PutContent(ctx, hash, strings.NewReader("sealed"), 6)
	if client.puts != 1 {
		t.Errorf("PutObject called %d times, want 1", client.puts)
	}
}

func TestS3Vault_GetMissing(t *testing.T) {
	v := NewS3VaultWithClient("remote", "bucket", "", newFakeS3())

	err := v.GetContent(context.Background(), hashOf("missing"), &bytes.Buffer{})
	if !drift.IsNotFound(err) {
		t.Errorf("GetContent() error = %v, want NotFoundError", err)
	}
}
