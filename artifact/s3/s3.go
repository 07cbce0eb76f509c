// Package s3 provides an Amazon S3 backed artifact.Store.
//
// Objects are keyed as prefix/runID/name. The client is abstracted behind
// ObjectAPI so tests can substitute a fake.
package s3

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
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/evalmesh/artifact"
)

// ObjectAPI is the subset of the S3 client used by Store.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options configure a Store.
type Options struct {
	Prefix      string
	ContentType string
}

// Store implements artifact.Store on top of an S3 bucket.
type Store struct {
	client ObjectAPI
	bucket string
	opts   Options
}

var _ artifact.Store = (*Store)(nil)

// NewStore loads the default AWS configuration chain and returns a Store for
// bucket.
func NewStore(ctx context.Context, bucket string, optFns ...func(o *Options)) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewStoreFromClient(s3.NewFromConfig(cfg), bucket, optFns...), nil
}

// NewStoreFromClient wraps an existing client.
func NewStoreFromClient(client ObjectAPI, bucket string, optFns ...func(o *Options)) *Store {
	opts := Options{ContentType: "application/json"}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &Store{client: client, bucket: bucket, opts: opts}
}

func (s *Store) key(runID, name string) string {
	return path.Join(s.opts.Prefix, runID, name)
}

func (s *Store) dirPrefix(runID string) string {
	p := path.Join(s.opts.Prefix, runID)
	if p == "" || p == "." {
		return ""
	}
	return p + "/"
}

// Save uploads data as one object.
func (s *Store) Save(ctx context.Context, runID, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(runID, name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(s.opts.ContentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, s.key(runID, name), err)
	}
	return nil
}

// Get downloads an object or returns artifact.ErrNotFound.
func (s *Store) Get(ctx context.Context, runID, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(runID, name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, artifact.ErrNotFound
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, s.key(runID, name), err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// List returns the sorted names of the objects directly below runID.
func (s *Store) List(ctx context.Context, runID string) ([]string, error) {
	prefix := s.dirPrefix(runID)
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	names := []string{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			rest := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if rest == "" || strings.Contains(rest, "/") {
				continue
			}
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes an object. S3 deletes are idempotent, so a missing key is
// reported as artifact.ErrNotFound only when a preceding Get confirms it.
func (s *Store) Delete(ctx context.Context, runID, name string) error {
	if _, err := s.Get(ctx, runID, name); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(runID, name)),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", s.bucket, s.key(runID, name), err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
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
