// Package assets resolves image references found in record data.
//
// A reference is fetched by the fetcher registered for its scheme (http,
// https, data, s3 or file; bare paths are files), checked to be an image
// under the size cap and cached by reference.
package assets

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // image decoders for DecodeConfig
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/zeebo/xxh3"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

const (
	DefaultMaxBytes int64 = 20 * 1024 * 1024
	DefaultCacheTTL       = 10 * time.Minute
)

var (
	ErrImageTooLarge     = errors.New("image too large")
	ErrNotImage          = errors.New("not an image")
	ErrUnsupportedScheme = errors.New("unsupported image scheme")

	// ErrFileAccessDisabled is returned for local paths when no base
	// directory is configured.
	ErrFileAccessDisabled = errors.New("local image files need a base directory")
)

// Fetcher loads the raw bytes behind a reference. It must not return more
// than limit+1 bytes so oversized images can be detected without reading
// them fully.
type Fetcher interface {
	Fetch(ctx context.Context, ref string, limit int64) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, ref string, limit int64) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, ref string, limit int64) ([]byte, error) {
	return f(ctx, ref, limit)
}

// Options configure a Resolver.
type Options struct {
	MaxBytes int64         // 0 selects DefaultMaxBytes
	CacheTTL time.Duration // 0 selects DefaultCacheTTL, negative disables caching
	Logger   *slog.Logger
}

// Resolver implements core.ImageResolver.
type Resolver struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher

	maxBytes int64
	cache    *gocache.Cache
	log      *slog.Logger
}

// NewResolver returns a resolver with no fetchers registered.
func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		fetchers: make(map[string]Fetcher),
		maxBytes: opts.MaxBytes,
		log:      opts.Logger,
	}
	if r.maxBytes <= 0 {
		r.maxBytes = DefaultMaxBytes
	}
	if r.log == nil {
		r.log = slog.Default()
	}

	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	if ttl > 0 {
		r.cache = gocache.New(ttl, 2*ttl)
	}
	return r
}

// Register sets the fetcher for a scheme such as "https" or "file".
func (r *Resolver) Register(scheme string, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[strings.ToLower(scheme)] = f
}

// Schemes lists the registered schemes.
func (r *Resolver) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fetchers))
	for s := range r.fetchers {
		out = append(out, s)
	}
	return out
}

// ResolveImage loads and checks the image behind ref.
func (r *Resolver) ResolveImage(ctx context.Context, ref string) (*core.ResolvedImage, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("empty image reference")
	}

	key := cacheKey(ref)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v.(*core.ResolvedImage), nil
		}
	}

	scheme := schemeOf(ref)
	r.mu.RLock()
	f, ok := r.fetchers[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	start := time.Now()
	data, err := f.Fetch(ctx, ref, r.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", redact(ref), err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrImageTooLarge, redact(ref), r.maxBytes)
	}

	img, err := inspect(ref, data)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.SetDefault(key, img)
	}
	r.log.Debug("image resolved",
		"scheme", scheme,
		"bytes", len(data),
		"content_type", img.ContentType,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return img, nil
}

// Purge empties the cache.
func (r *Resolver) Purge() {
	if r.cache != nil {
		r.cache.Flush()
	}
}

// inspect sniffs the content type and reads the pixel size.
func inspect(ref string, data []byte) (*core.ResolvedImage, error) {
	ct := http.DetectContentType(data)
	if isSVG(data) {
		ct = "image/svg+xml"
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotImage, redact(ref), ct)
	}

	img := &core.ResolvedImage{Ref: ref, ContentType: ct, Data: data}
	if ct != "image/svg+xml" {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotImage, redact(ref), err)
		}
		img.Width, img.Height = cfg.Width, cfg.Height
	}
	return img, nil
}

func isSVG(data []byte) bool {
	head := data[:min(len(data), 512)]
	return bytes.Contains(bytes.ToLower(head), []byte("<svg"))
}

// schemeOf returns the lower-cased scheme of ref. Bare paths are "file".
func schemeOf(ref string) string {
	i := strings.Index(ref, ":")
	if i <= 1 { // no scheme, or a Windows drive letter
		return "file"
	}
	scheme := strings.ToLower(ref[:i])
	for _, c := range scheme {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return "file"
		}
	}
	return scheme
}

func cacheKey(ref string) string {
	sum := xxh3.HashString128(ref).Bytes()
	return hex.EncodeToString(sum[:])
}

// redact shortens data URIs for messages and logs.
func redact(ref string) string {
	if strings.HasPrefix(ref, "data:") && len(ref) > 48 {
		return ref[:48] + "..."
	}
	return ref
}
