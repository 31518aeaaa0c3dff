package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of the S3 client used for sources and sinks.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// newS3Client is replaced in tests.
var newS3Client = func(ctx context.Context) (s3API, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

// Source is an opened object to upload.
type Source struct {
	io.ReadCloser
	Size int64
	Name string
}

// OpenSource opens a local path, a file:// URI or an s3://bucket/key URI.
func OpenSource(ctx context.Context, location string) (*Source, error) {
	scheme, target, err := splitLocation(location)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case "file":
		f, err := os.Open(target)
		if err != nil {
			return nil, err
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		if st.IsDir() {
			f.Close()
			return nil, fmt.Errorf("%s is a directory", target)
		}
		return &Source{ReadCloser: f, Size: st.Size(), Name: filepath.Base(target)}, nil

	case "s3":
		bucket, key := splitBucketKey(target)
		cl, err := newS3Client(ctx)
		if err != nil {
			return nil, err
		}
		out, err := cl.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		if err != nil {
			return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
		}
		return &Source{ReadCloser: out.Body, Size: aws.ToInt64(out.ContentLength), Name: filepath.Base(key)}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
}

// CreateSink creates the destination of a download. Local parents are
// created as needed. S3 sinks buffer in memory and upload on Close.
func CreateSink(ctx context.Context, location string) (io.WriteCloser, error) {
	scheme, target, err := splitLocation(location)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case "file":
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		return os.Create(target)

	case "s3":
		bucket, key := splitBucketKey(target)
		return &s3Sink{ctx: ctx, bucket: bucket, key: key}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
}

type s3Sink struct {
	ctx    context.Context
	bucket string
	key    string
	buf    bytes.Buffer
	closed bool
}

func (s *s3Sink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	return s.buf.Write(p)
}

func (s *s3Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	cl, err := newS3Client(s.ctx)
	if err != nil {
		return err
	}
	_, err = cl.PutObject(s.ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   bytes.NewReader(s.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

func splitLocation(location string) (scheme, target string, err error) {
	if location == "" {
		return "", "", fmt.Errorf("%w: empty location", ErrInvalidRequest)
	}
	if !strings.Contains(location, "://") {
		return "file", location, nil
	}
	if p, ok := strings.CutPrefix(location, "file://"); ok {
		return "file", p, nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "s3" {
		if u.Host == "" || strings.TrimPrefix(u.Path, "/") == "" {
			return "", "", fmt.Errorf("%w: s3 location needs bucket and key", ErrInvalidRequest)
		}
		return "s3", u.Host + u.Path, nil
	}
	return u.Scheme, location, nil
}

func splitBucketKey(target string) (bucket, key string) {
	bucket, key, _ = strings.Cut(target, "/")
	return bucket, key
}
