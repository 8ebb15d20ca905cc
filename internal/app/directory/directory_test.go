package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkroom/internal/app/room"
)

func sampleRoom(code string) room.Room {
	return room.Room{
		ID:        "7d4b6a4e-0000-4000-8000-000000000001",
		Code:      code,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Document:  "<h1>start</h1>",
		Language:  room.DefaultLanguage,
	}
}

// exerciseDirectory runs the behaviour every Directory implementation must share.
func exerciseDirectory(t *testing.T, dir Directory) {
	t.Helper()
	ctx := context.Background()

	_, err := dir.Lookup(ctx, "AB12CD")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, dir.Register(ctx, sampleRoom("AB12CD")))
	assert.ErrorIs(t, dir.Register(ctx, sampleRoom("AB12CD")), ErrCodeTaken)

	got, err := dir.Lookup(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, "<h1>start</h1>", got.Document)
	assert.Equal(t, room.DefaultLanguage, got.Language)
	assert.True(t, got.CreatedAt.Equal(sampleRoom("AB12CD").CreatedAt))

	require.NoError(t, dir.SaveDocument(ctx, "AB12CD", "<h1>hi</h1>", time.Now()))
	got, err = dir.Lookup(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", got.Document)

	assert.ErrorIs(t, dir.SaveDocument(ctx, "ZZZZZZ", "x", time.Now()), ErrNotFound)
}

func TestMemoryDirectory(t *testing.T) {
	dir := NewMemory()
	exerciseDirectory(t, dir)
	assert.Equal(t, 1, dir.Len())
	assert.NoError(t, dir.Close())
}

func TestMemoryDirectoryHonoursContext(t *testing.T) {
	dir := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dir.Lookup(ctx, "AB12CD")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, dir.Register(ctx, sampleRoom("AB12CD")), context.Canceled)
}

// fakeBucket emulates the parts of S3 the directory relies on, including If-None-Match.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (b *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.getErr != nil {
		return nil, b.getErr
	}
	body, ok := b.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (b *fakeBucket) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if in.IfNoneMatch != nil && *in.IfNoneMatch == "*" {
		if _, exists := b.objects[*in.Key]; exists {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
		}
	}

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.objects[*in.Key] = body
	return &manager.UploadOutput{}, nil
}

func TestS3Directory(t *testing.T) {
	bucket := newFakeBucket()
	dir := &S3{bucket: "rooms", getter: bucket, uploader: bucket}

	exerciseDirectory(t, dir)

	raw, ok := bucket.objects["rooms/AB12CD.json"]
	require.True(t, ok)

	var rec s3Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "<h1>hi</h1>", rec.Document)
	assert.False(t, rec.DocumentUpdatedAt.IsZero())
}

func TestS3DirectoryWrapsTransportErrors(t *testing.T) {
	bucket := newFakeBucket()
	bucket.getErr = errors.New("connection reset")
	dir := &S3{bucket: "rooms", getter: bucket, uploader: bucket}

	_, err := dir.Lookup(context.Background(), "AB12CD")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(nil))
}
