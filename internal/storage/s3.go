package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/akave-ai/clockwork/internal/config"
	"github.com/akave-ai/clockwork/internal/model"
)

// S3Storage keeps one object per request in an S3-compatible bucket
// (AWS, MinIO, Akave O3).
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
	codec  Codec
}

// NewS3Storage builds a path-style client for cfg.
func NewS3Storage(cfg config.S3Config, codec Codec) (*S3Storage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage: endpoint and bucket are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return &S3Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		codec:  codec,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist (HeadBucket fails → CreateBucket).
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if createErr != nil {
		var apiErr smithy.APIError
		if errors.As(createErr, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return createErr
	}
	return nil
}

// key returns the object key for id, e.g. clockwork/0190....json.
func (s *S3Storage) key(id string) string {
	return path.Join(s.prefix, id+s.codec.Ext())
}

// idFromKey is the inverse of key; ok is false for foreign objects.
func (s *S3Storage) idFromKey(key string) (string, bool) {
	dir, name := path.Split(key)
	if strings.TrimSuffix(dir, "/") != s.prefix || !strings.HasSuffix(name, s.codec.Ext()) {
		return "", false
	}
	id := strings.TrimSuffix(name, s.codec.Ext())
	return id, validID(id)
}

func (s *S3Storage) Store(ctx context.Context, req *model.Request) error {
	if !validID(req.ID) {
		return fmt.Errorf("s3 storage: invalid id %q", req.ID)
	}
	data, err := s.codec.Encode(req)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(req.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(s.codec.ContentType()),
	})
	if err != nil {
		return fmt.Errorf("s3 storage: put %s: %w", req.ID, err)
	}
	return nil
}

func (s *S3Storage) Update(ctx context.Context, req *model.Request) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(req.ID)),
	})
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("s3 storage: head %s: %w", req.ID, err)
	}
	return s.Store(ctx, req)
}

func (s *S3Storage) Find(ctx context.Context, id string) (*model.Request, error) {
	if !validID(id) {
		return nil, nil
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 storage: get %s: %w", id, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 storage: read %s: %w", id, err)
	}
	return s.codec.Decode(data)
}

func (s *S3Storage) Latest(ctx context.Context) (*model.Request, error) {
	ids, err := s.ids(ctx)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return s.Find(ctx, ids[len(ids)-1])
}

func (s *S3Storage) Previous(ctx context.Context, id string, count int) ([]*model.Request, error) {
	return s.around(ctx, id, count, false)
}

func (s *S3Storage) Next(ctx context.Context, id string, count int) ([]*model.Request, error) {
	return s.around(ctx, id, count, true)
}

func (s *S3Storage) around(ctx context.Context, id string, count int, after bool) ([]*model.Request, error) {
	ids, err := s.ids(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Request
	for _, candidate := range window(ids, id, count, after) {
		req, err := s.Find(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if req != nil {
			out = append(out, req)
		}
	}
	return out, nil
}

// ids lists stored request ids under the prefix, oldest first.
func (s *S3Storage) ids(ctx context.Context) ([]string, error) {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(listPrefix),
	})
	var ids []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 storage: list: %w", err)
		}
		for _, o := range page.Contents {
			if id, ok := s.idFromKey(aws.ToString(o.Key)); ok {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
