// internal/adapters/s3.go
package adapters

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/provider"
)

const s3KeyPrefix = "entities/"

// S3 stores one object per entity in a bucket. It works against any
// S3-compatible endpoint, not just AWS.
type S3 struct {
	bucket string
	client *s3.Client
	logger *zap.Logger
}

// S3Config carries the connection parameters for an S3-compatible store.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// NewS3 creates an S3 adapter. Bucket reachability is verified on
// activation.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, core.WrapAdapterError("S3", "configure", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{bucket: cfg.Bucket, client: client, logger: logger}, nil
}

func (s *S3) Type() provider.Type           { return provider.TypeS3 }
func (s *S3) Categories() provider.Category { return provider.CategoryStorage }

func s3Key(id uuid.UUID) string {
	return s3KeyPrefix + id.String() + ".json"
}

func (s *S3) ActivateProvider(ctx context.Context) *core.Result[bool] {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return core.FailErr[bool](core.WrapAdapterError("S3", "activate", err), "")
	}
	return core.OK(true)
}

func (s *S3) DeactivateProvider(context.Context) *core.Result[bool] {
	return core.OK(true)
}

func isNoSuchKey(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

func (s *S3) LoadEntity(ctx context.Context, id uuid.UUID) *core.Result[core.Entity] {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key(id)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return core.FailErr[core.Entity](core.ErrNotFound, "entity not found")
		}
		return core.FailErr[core.Entity](core.WrapAdapterError("S3", "load", err), "")
	}
	defer func() { _ = out.Body.Close() }()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("S3", "load", err), "")
	}

	e, err := core.UnmarshalEntity(raw)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("S3", "load", err), "")
	}
	res := core.OK(e)
	res.WasLoaded = true
	return res
}

func (s *S3) SaveEntity(ctx context.Context, entity core.Entity) *core.Result[core.Entity] {
	raw, err := core.MarshalEntity(entity)
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("S3", "save", err), "")
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key(entity.EntityID())),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return core.FailErr[core.Entity](core.WrapAdapterError("S3", "save", err), "")
	}

	res := core.OK(entity)
	res.WasSaved = true
	return res
}

func (s *S3) DeleteEntity(ctx context.Context, id uuid.UUID, softDelete bool) *core.Result[bool] {
	if softDelete {
		load := s.LoadEntity(ctx, id)
		if load.IsError {
			return core.Rewrap[bool](load)
		}
		if !markDeleted(load.Value, time.Now().UTC()) {
			return core.Fail[bool]("entity kind does not support soft deletion")
		}
		if save := s.SaveEntity(ctx, load.Value); save.IsError {
			return core.Rewrap[bool](save)
		}
	} else {
		// DeleteObject is idempotent in S3, so probe first to report a
		// missing entity the same way the other backends do.
		if load := s.LoadEntity(ctx, id); load.IsError {
			return core.Rewrap[bool](load)
		}
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s3Key(id)),
		})
		if err != nil {
			return core.FailErr[bool](core.WrapAdapterError("S3", "delete", err), "")
		}
	}

	res := core.OK(true)
	res.WasDeleted = true
	res.DeletedCount = 1
	return res
}

func (s *S3) Search(ctx context.Context, query core.SearchQuery) *core.Result[core.SearchResults] {
	var matched []core.Entity

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s3KeyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return core.FailErr[core.SearchResults](core.WrapAdapterError("S3", "search", err), "")
		}
		for _, obj := range page.Contents {
			out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				continue
			}
			raw, err := io.ReadAll(out.Body)
			_ = out.Body.Close()
			if err != nil {
				continue
			}
			e, err := core.UnmarshalEntity(raw)
			if err != nil {
				continue
			}
			if query.Matches(e) {
				matched = append(matched, e)
			}
		}
	}

	matched = applyLimit(matched, query.Limit)
	return core.OK(core.SearchResults{Entities: matched, NumResults: len(matched)})
}
