package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"time"

	"pobbin/pkg/digest"
	"pobbin/pkg/domain"
	"pobbin/svc/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	metaLastModified = "last-modified"
	metaEntityID     = "entity-id"
	metaPaste        = "paste-meta"
	maxObjectSize    = 16 << 20
)

// S3 stores pastes in an S3 compatible bucket such as R2. Each paste is one
// JSON object; light metadata is mirrored into object metadata for listing.
type S3 struct {
	client      *s3.Client
	bucket      string
	concurrency int
}

type S3Opts struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// ListConcurrency bounds parallel HeadObject calls in List.
	ListConcurrency int
}

func NewS3(ctx context.Context, o S3Opts) (*S3, error) {
	if o.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(o.Region)}
	if o.AccessKey != "" && o.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	})
	if o.ListConcurrency <= 0 {
		o.ListConcurrency = 8
	}
	return &S3{client: client, bucket: o.Bucket, concurrency: o.ListConcurrency}, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (s *S3) Get(ctx context.Context, id domain.PasteID) (*domain.StoredPaste, error) {
	key := ObjectPath(id)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewStorageError("get", errors.Wrapf(err, "s3 get %s", key))
	}
	defer out.Body.Close()
	body, err := io.ReadAll(io.LimitReader(out.Body, maxObjectSize))
	if err != nil {
		return nil, domain.NewStorageError("get", errors.Wrapf(err, "s3 read %s", key))
	}
	p, err := decodeRecord(body)
	if err != nil {
		return nil, domain.NewStorageError("get", err)
	}
	return p, nil
}

func (s *S3) Put(ctx context.Context, id domain.PasteID, d digest.Digest, content []byte, meta *domain.PasteMetadata) error {
	rec := NewRecord(d, content, meta, time.Now().UnixMilli())
	body, err := encodeRecord(rec)
	if err != nil {
		return domain.NewStorageError("put", err)
	}
	objMeta := map[string]string{
		metaLastModified: strconv.FormatInt(rec.LastModified, 10),
		metaEntityID:     rec.EntityID,
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			objMeta[metaPaste] = base64.RawURLEncoding.EncodeToString(b)
		}
	}
	key := ObjectPath(id)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    objMeta,
	})
	if err != nil {
		return domain.NewStorageError("put", errors.Wrapf(err, "s3 put %s", key))
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, id domain.PasteID) error {
	key := ObjectPath(id)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return domain.NewStorageError("delete", errors.Wrapf(err, "s3 delete %s", key))
	}
	return nil
}

func (s *S3) List(ctx context.Context, user domain.User) ([]domain.ListPaste, error) {
	prefix := UserPrefix(user)
	var keys []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, domain.NewStorageError("list", errors.Wrapf(err, "s3 list %s", prefix))
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	var mu sync.Mutex
	out := make([]domain.ListPaste, 0, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, key := range keys {
		id, err := IDFromPath(user, key)
		if err != nil {
			util.Ctx(ctx).Warn().Err(err).Msg("skipping foreign object in user listing")
			continue
		}
		g.Go(func() error {
			head, err := s.client.HeadObject(gctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if isNotFound(err) {
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "s3 head %s", key)
			}
			lp := listEntry(id, head.Metadata)
			mu.Lock()
			out = append(out, lp)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, domain.NewStorageError("list", err)
	}
	SortNewestFirst(out)
	return out, nil
}

func listEntry(id domain.PasteID, m map[string]string) domain.ListPaste {
	lp := domain.ListPaste{ID: id}
	lp.LastModified, _ = strconv.ParseInt(m[metaLastModified], 10, 64)
	raw, err := base64.RawURLEncoding.DecodeString(m[metaPaste])
	if err != nil || len(raw) == 0 {
		return lp
	}
	var pm domain.PasteMetadata
	if json.Unmarshal(raw, &pm) == nil {
		lp.Metadata = &pm
	}
	return lp
}

func (s *S3) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return errors.Wrapf(err, "s3 head bucket %s", s.bucket)
}
