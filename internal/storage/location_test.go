package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	objects map[string][]byte
	getErr  error
	putErr  error
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data)), ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func withFakeS3(t *testing.T, f *fakeS3) {
	t.Helper()
	old := newS3Client
	newS3Client = func(context.Context) (s3API, error) { return f, nil }
	t.Cleanup(func() { newS3Client = old })
}

func TestOpenSourceFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(p, []byte("hello world\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, loc := range []string{p, "file://" + p} {
		src, err := OpenSource(context.Background(), loc)
		if err != nil {
			t.Fatalf("OpenSource(%s): %v", loc, err)
		}
		b, _ := io.ReadAll(src)
		src.Close()
		if string(b) != "hello world\n" || src.Size != 12 || src.Name != "notes.txt" {
			t.Errorf("unexpected source %q size=%d name=%s", b, src.Size, src.Name)
		}
	}
}

func TestOpenSourceRejectsDirectory(t *testing.T) {
	if _, err := OpenSource(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error for a directory")
	}
}

func TestOpenSourceS3(t *testing.T) {
	withFakeS3(t, &fakeS3{objects: map[string][]byte{"bucket/dir/a.bin": []byte("remote")}})

	src, err := OpenSource(context.Background(), "s3://bucket/dir/a.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	b, _ := io.ReadAll(src)
	if string(b) != "remote" || src.Size != 6 || src.Name != "a.bin" {
		t.Errorf("unexpected source %q size=%d name=%s", b, src.Size, src.Name)
	}
}

func TestCreateSinkFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "out.bin")
	sink, err := CreateSink(context.Background(), "file://"+p)
	if err != nil {
		t.Fatal(err)
	}
	sink.Write([]byte("data"))
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(p)
	if err != nil || string(b) != "data" {
		t.Fatalf("read back %q, %v", b, err)
	}
}

func TestCreateSinkS3UploadsOnClose(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	withFakeS3(t, fake)

	sink, err := CreateSink(context.Background(), "s3://bucket/out/x.bin")
	if err != nil {
		t.Fatal(err)
	}
	sink.Write([]byte("part1-"))
	sink.Write([]byte("part2"))
	if len(fake.objects) != 0 {
		t.Fatal("object uploaded before Close")
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if got := string(fake.objects["bucket/out/x.bin"]); got != "part1-part2" {
		t.Errorf("uploaded %q", got)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCreateSinkS3PutError(t *testing.T) {
	withFakeS3(t, &fakeS3{objects: map[string][]byte{}, putErr: errors.New("denied")})
	sink, _ := CreateSink(context.Background(), "s3://bucket/key")
	if err := sink.Close(); err == nil {
		t.Fatal("expected put error")
	}
}

func TestLocationErrors(t *testing.T) {
	if _, err := OpenSource(context.Background(), "ftp://host/file"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("expected ErrUnsupportedScheme, got %v", err)
	}
	if _, err := CreateSink(context.Background(), "s3://bucket"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for missing key, got %v", err)
	}
	if _, err := OpenSource(context.Background(), ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for empty location, got %v", err)
	}
}
