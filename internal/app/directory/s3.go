package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"linkroom/internal/app/room"
)

// S3Config holds the configuration required to connect to S3-compatible storage.
type S3Config struct {
	BucketName      string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// objectGetter is the subset of *s3.Client the directory reads with.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// objectUploader is the subset of *manager.Uploader the directory writes with.
type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 is a Directory storing one JSON object per room under rooms/<code>.json.
type S3 struct {
	bucket   string
	getter   objectGetter
	uploader objectUploader
}

// s3Record is the stored object layout.
type s3Record struct {
	ID                string    `json:"id"`
	Code              string    `json:"code"`
	CreatedAt         time.Time `json:"createdAt"`
	Document          string    `json:"document"`
	Language          string    `json:"language"`
	DocumentUpdatedAt time.Time `json:"documentUpdatedAt"`
}

// NewS3 initializes the S3 client using a custom configuration that supports S3-compatible endpoints.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	sdkCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 client configuration: %w", err)
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &S3{
		bucket:   cfg.BucketName,
		getter:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func objectKey(code string) string {
	return "rooms/" + code + ".json"
}

func (d *S3) Lookup(ctx context.Context, code string) (room.Room, error) {
	rec, err := d.get(ctx, code)
	if err != nil {
		return room.Room{}, err
	}

	return room.Room{
		ID:        rec.ID,
		Code:      rec.Code,
		CreatedAt: rec.CreatedAt,
		Document:  rec.Document,
		Language:  rec.Language,
	}, nil
}

// Register writes the room object only if no object exists for the code yet.
func (d *S3) Register(ctx context.Context, r room.Room) error {
	rec := s3Record{
		ID:                r.ID,
		Code:              r.Code,
		CreatedAt:         r.CreatedAt,
		Document:          r.Document,
		Language:          r.Language,
		DocumentUpdatedAt: r.CreatedAt,
	}

	err := d.put(ctx, rec, aws.String("*"))
	if isPreconditionFailed(err) {
		return ErrCodeTaken
	}
	return err
}

func (d *S3) SaveDocument(ctx context.Context, code string, content string, at time.Time) error {
	rec, err := d.get(ctx, code)
	if err != nil {
		return err
	}

	rec.Document = content
	rec.DocumentUpdatedAt = at
	return d.put(ctx, rec, nil)
}

func (d *S3) Close() error { return nil }

func (d *S3) get(ctx context.Context, code string) (s3Record, error) {
	out, err := d.getter.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(objectKey(code)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return s3Record{}, ErrNotFound
		}
		return s3Record{}, fmt.Errorf("fetch room object %s: %w", code, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return s3Record{}, fmt.Errorf("read room object %s: %w", code, err)
	}

	var rec s3Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return s3Record{}, fmt.Errorf("decode room object %s: %w", code, err)
	}
	return rec, nil
}

func (d *S3) put(ctx context.Context, rec s3Record, ifNoneMatch *string) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode room object %s: %w", rec.Code, err)
	}

	_, err = d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(objectKey(rec.Code)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: ifNoneMatch,
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return err
		}
		return fmt.Errorf("store room object %s: %w", rec.Code, err)
	}
	return nil
}

// isPreconditionFailed reports whether a conditional write was rejected because the object exists.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "PreconditionFailed"
	}
	return false
}
