// Package archive packs a run's outputs into one zip file.
//
// Entries are written in the order they are added. When metadata is
// requested, Finish appends metadata.json (the run metadata plus an xxh3
// checksum per file) and manifest.xlsx (one row per generated file).
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/zeebo/xxh3"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

const (
	MetadataName = "metadata.json"
	ManifestName = "manifest.xlsx"
)

// ErrFinished is returned when adding to a finished bundle.
var ErrFinished = errors.New("archive already finished")

// Options control what Finish writes.
type Options struct {
	IncludeMetadata bool
	Level           int // flate level, 0 selects flate.DefaultCompression
	Clock           func() time.Time
}

// Bundle is an in-memory zip archive implementing core.Bundle.
type Bundle struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	zw        *zip.Writer
	opts      Options
	checksums map[string]string
	names     []string
	finished  bool
}

// New returns an empty bundle.
func New(opts Options) *Bundle {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	b := &Bundle{opts: opts, checksums: make(map[string]string)}
	b.zw = zip.NewWriter(&b.buf)

	level := opts.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	b.zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})
	return b
}

// Factory returns a core.BundleFactory producing bundles with opts. The
// run's IncludeMetadata setting overrides opts.IncludeMetadata.
func Factory(opts Options) core.BundleFactory {
	return func(cfg core.GenerationConfig) core.Bundle {
		o := opts
		o.IncludeMetadata = cfg.IncludeMetadata
		return New(o)
	}
}

// Add writes one entry. Names must be unique within the bundle and may not
// be absolute or contain a ".." path segment; dots inside a name are fine.
func (b *Bundle) Add(name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		return ErrFinished
	}
	if name == "" || strings.HasPrefix(name, "/") || slices.Contains(strings.Split(name, "/"), "..") {
		return fmt.Errorf("invalid entry name %q", name)
	}
	if _, dup := b.checksums[name]; dup {
		return fmt.Errorf("duplicate entry %q", name)
	}

	if err := b.write(name, data, methodFor(name)); err != nil {
		return err
	}
	b.checksums[name] = checksum(data)
	b.names = append(b.names, name)
	return nil
}

func (b *Bundle) write(name string, data []byte, method uint16) error {
	w, err := b.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: b.opts.Clock(),
	})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}

// Len returns the number of entries added so far.
func (b *Bundle) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.names)
}

// Finish closes the archive and returns its bytes. meta is only written
// when the bundle was created with IncludeMetadata.
func (b *Bundle) Finish(meta core.RunMetadata) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		return nil, ErrFinished
	}
	b.finished = true

	if b.opts.IncludeMetadata {
		doc := metadataDoc{RunMetadata: meta, Checksums: b.checksums}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		if err := b.write(MetadataName, data, zip.Deflate); err != nil {
			return nil, err
		}

		manifest, err := buildManifest(meta, b.checksums)
		if err != nil {
			return nil, err
		}
		if err := b.write(ManifestName, manifest, zip.Store); err != nil {
			return nil, err
		}
	}

	if err := b.zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return bytes.Clone(b.buf.Bytes()), nil
}

type metadataDoc struct {
	core.RunMetadata
	Checksums map[string]string `json:"checksums"`
}

// methodFor stores already-compressed formats and deflates the rest.
func methodFor(name string) uint16 {
	switch strings.ToLower(name[strings.LastIndex(name, ".")+1:]) {
	case "png", "jpg", "jpeg", "webp", "zip", "xlsx":
		return zip.Store
	}
	return zip.Deflate
}

// checksum returns the xxh3-64 hash of data in hex.
func checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(data))
}
