package assets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// readLimited reads at most limit+1 bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit+1))
}

// HTTPFetcher downloads http and https references.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher returns a fetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, UserAgent: "mailmerge/1.0"}
}

func (h *HTTPFetcher) Fetch(ctx context.Context, ref string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	req.Header.Set("Accept", "image/*")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, resp.ContentLength)
	}
	return readLimited(resp.Body, limit)
}

// FileFetcher reads file:// references and bare paths confined to BaseDir.
// Relative paths are resolved against BaseDir and paths outside it are
// refused. A zero FileFetcher refuses every path.
type FileFetcher struct {
	BaseDir string
}

func (f FileFetcher) Fetch(_ context.Context, ref string, limit int64) ([]byte, error) {
	p := ref
	if strings.HasPrefix(strings.ToLower(ref), "file:") {
		u, err := url.Parse(ref)
		if err != nil {
			return nil, err
		}
		p = u.Path
		if p == "" {
			p = u.Opaque
		}
	}

	p, err := f.resolve(p)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readLimited(file, limit)
}

func (f FileFetcher) resolve(p string) (string, error) {
	if f.BaseDir == "" {
		return "", ErrFileAccessDisabled
	}
	base, err := filepath.Abs(f.BaseDir)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", p, base)
	}
	return p, nil
}

// DataFetcher decodes data: URIs.
type DataFetcher struct{}

func (DataFetcher) Fetch(_ context.Context, ref string, limit int64) ([]byte, error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return nil, errors.New("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("malformed data URI")
	}
	if int64(len(payload)) > limit*4/3+4 {
		return nil, ErrImageTooLarge
	}

	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
		if err != nil {
			return nil, fmt.Errorf("malformed data URI: %w", err)
		}
		return data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data URI: %w", err)
	}
	return []byte(s), nil
}

// S3GetObjectAPI is the part of the S3 client the fetcher uses.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads s3://bucket/key references.
type S3Fetcher struct {
	Client S3GetObjectAPI
}

func (f S3Fetcher) Fetch(ctx context.Context, ref string, limit int64) ([]byte, error) {
	bucket, key, err := parseS3(ref)
	if err != nil {
		return nil, err
	}
	out, err := f.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > limit {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, *out.ContentLength)
	}
	return readLimited(out.Body, limit)
}

func parseS3(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 reference: %s", ref)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 reference %s needs a bucket and key", ref)
	}
	return bucket, key, nil
}

// Defaults registers the http, https and data fetchers. Local files are
// opt-in: the file fetcher is registered only when baseDir is set.
func (r *Resolver) Defaults(httpTimeout time.Duration, baseDir string) *Resolver {
	h := NewHTTPFetcher(httpTimeout)
	r.Register("http", h)
	r.Register("https", h)
	r.Register("data", DataFetcher{})
	if baseDir != "" {
		r.Register("file", FileFetcher{BaseDir: baseDir})
	}
	return r
}
