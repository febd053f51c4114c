package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestResolver_HTTPAndCache(t *testing.T) {
	img := pngBytes(t, 3, 2)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/a.png":
			w.Write(img)
		case "/page.html":
			w.Write([]byte("<html><body>hi</body></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewResolver(Options{}).Defaults(0, "")

	got, err := r.ResolveImage(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatalf("ResolveImage() error = %v", err)
	}
	if got.ContentType != "image/png" || got.Width != 3 || got.Height != 2 {
		t.Errorf("resolved = %s %dx%d, want image/png 3x2", got.ContentType, got.Width, got.Height)
	}

	if _, err := r.ResolveImage(context.Background(), srv.URL+"/a.png"); err != nil {
		t.Fatalf("second ResolveImage() error = %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1 (cached)", n)
	}

	if _, err := r.ResolveImage(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Error("404 resolved")
	}
	if _, err := r.ResolveImage(context.Background(), srv.URL+"/page.html"); !errors.Is(err, ErrNotImage) {
		t.Errorf("html error = %v, want ErrNotImage", err)
	}
}

func TestResolver_SizeCap(t *testing.T) {
	img := pngBytes(t, 50, 50)
	r := NewResolver(Options{MaxBytes: 10, CacheTTL: -1})
	r.Register("mem", FetcherFunc(func(_ context.Context, _ string, limit int64) ([]byte, error) {
		return readLimited(bytes.NewReader(img), limit)
	}))

	if _, err := r.ResolveImage(context.Background(), "mem://big.png"); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("error = %v, want ErrImageTooLarge", err)
	}
}

func TestResolver_Schemes(t *testing.T) {
	r := NewResolver(Options{})
	if _, err := r.ResolveImage(context.Background(), "ftp://host/x.png"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("error = %v, want ErrUnsupportedScheme", err)
	}
	if _, err := r.ResolveImage(context.Background(), "  "); err == nil {
		t.Error("empty reference resolved")
	}
}

func TestSchemeOf(t *testing.T) {
	tests := map[string]string{
		"https://x/a.png":    "https",
		"HTTP://x/a.png":     "http",
		"s3://bucket/key":    "s3",
		"data:image/png,abc": "data",
		"/srv/img/a.png":     "file",
		"img/a.png":          "file",
		`C:\img\a.png`:       "file",
		"file:///srv/a.png":  "file",
	}
	for ref, want := range tests {
		if got := schemeOf(ref); got != want {
			t.Errorf("schemeOf(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestDataFetcher(t *testing.T) {
	img := pngBytes(t, 1, 1)
	r := NewResolver(Options{}).Defaults(0, "")

	ref := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)
	got, err := r.ResolveImage(context.Background(), ref)
	if err != nil {
		t.Fatalf("ResolveImage(data) error = %v", err)
	}
	if !bytes.Equal(got.Data, img) {
		t.Error("decoded data differs")
	}

	svg, err := r.ResolveImage(context.Background(), `data:image/svg+xml,%3Csvg xmlns="http://www.w3.org/2000/svg"/%3E`)
	if err != nil {
		t.Fatalf("ResolveImage(svg) error = %v", err)
	}
	if svg.ContentType != "image/svg+xml" {
		t.Errorf("content type = %s, want image/svg+xml", svg.ContentType)
	}

	if _, err := (DataFetcher{}).Fetch(context.Background(), "data:image/png;base64", 100); err == nil {
		t.Error("data URI without payload accepted")
	}
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	img := pngBytes(t, 2, 2)
	if err := os.WriteFile(filepath.Join(dir, "a.png"), img, 0o644); err != nil {
		t.Fatal(err)
	}

	f := FileFetcher{BaseDir: dir}
	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{"relative", "a.png", false},
		{"absolute inside", filepath.Join(dir, "a.png"), false},
		{"file url", "file://" + filepath.ToSlash(filepath.Join(dir, "a.png")), false},
		{"escape", "../a.png", true},
		{"missing", "b.png", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := f.Fetch(context.Background(), tt.ref, 1<<20)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Fetch(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if err == nil && !bytes.Equal(data, img) {
				t.Error("file content differs")
			}
		})
	}
}

func TestFileAccessNeedsBaseDir(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "a.png")
	if err := os.WriteFile(abs, pngBytes(t, 2, 2), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := (FileFetcher{}).Fetch(context.Background(), abs, 1<<20); !errors.Is(err, ErrFileAccessDisabled) {
		t.Errorf("zero FileFetcher error = %v, want ErrFileAccessDisabled", err)
	}

	closed := NewResolver(Options{CacheTTL: -1}).Defaults(0, "")
	for _, ref := range []string{abs, "file://" + filepath.ToSlash(abs), "/etc/passwd"} {
		if _, err := closed.ResolveImage(context.Background(), ref); !errors.Is(err, ErrUnsupportedScheme) {
			t.Errorf("ResolveImage(%q) without base dir error = %v, want ErrUnsupportedScheme", ref, err)
		}
	}

	open := NewResolver(Options{CacheTTL: -1}).Defaults(0, dir)
	if _, err := open.ResolveImage(context.Background(), "a.png"); err != nil {
		t.Errorf("ResolveImage(a.png) with base dir error = %v", err)
	}
	if _, err := open.ResolveImage(context.Background(), "/etc/passwd"); err == nil {
		t.Error("path outside base dir resolved")
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	size := int64(len(data))
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data)), ContentLength: &size}, nil
}

func TestS3Fetcher(t *testing.T) {
	img := pngBytes(t, 4, 4)
	r := NewResolver(Options{})
	r.Register("s3", S3Fetcher{Client: fakeS3{objects: map[string][]byte{"assets/people/ana.png": img}}})

	got, err := r.ResolveImage(context.Background(), "s3://assets/people/ana.png")
	if err != nil {
		t.Fatalf("ResolveImage(s3) error = %v", err)
	}
	if got.Width != 4 {
		t.Errorf("width = %d, want 4", got.Width)
	}

	for _, ref := range []string{"s3://assets/missing.png", "s3://bucket-only"} {
		if _, err := r.ResolveImage(context.Background(), ref); err == nil {
			t.Errorf("ResolveImage(%q) succeeded", ref)
		}
	}
}
