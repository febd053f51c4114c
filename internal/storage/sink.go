// Package storage holds export sinks for generated outputs and run history
// stores.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Object is a stored output.
type Object struct {
	Name     string
	Data     []byte
	StoredAt time.Time
}

// MemorySink keeps outputs in memory so the web layer can serve them for
// download. Objects older than the retention are dropped on the next Save.
type MemorySink struct {
	mu        sync.RWMutex
	objects   map[string]Object
	retention time.Duration
	now       func() time.Time
}

// NewMemorySink returns a sink keeping objects for retention (0 keeps them
// until deleted).
func NewMemorySink(retention time.Duration) *MemorySink {
	return &MemorySink{objects: make(map[string]Object), retention: retention, now: time.Now}
}

// Save implements core.ExportSink. The location is "mem://" + name.
func (m *MemorySink) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.expireLocked(now)
	m.objects[name] = Object{Name: name, Data: data, StoredAt: now}
	return "mem://" + name, nil
}

// Open returns the object stored under name or location.
func (m *MemorySink) Open(nameOrLocation string) (Object, bool) {
	name := strings.TrimPrefix(nameOrLocation, "mem://")
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[name]
	return obj, ok
}

// List returns object names under prefix, sorted.
func (m *MemorySink) List(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name := range m.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Delete removes an object.
func (m *MemorySink) Delete(name string) {
	m.mu.Lock()
	delete(m.objects, name)
	m.mu.Unlock()
}

func (m *MemorySink) expireLocked(now time.Time) {
	if m.retention <= 0 {
		return
	}
	for name, obj := range m.objects {
		if now.Sub(obj.StoredAt) > m.retention {
			delete(m.objects, name)
		}
	}
}

// FileSink writes outputs under a directory.
type FileSink struct {
	Dir string
}

// Save writes data to Dir/name through a temp file and rename so readers
// never see a partial file. The location is the absolute path.
func (f FileSink) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(f.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("file sink: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".part-*")
	if err != nil {
		return "", fmt.Errorf("file sink: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("file sink: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("file sink: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("file sink: %w", err)
	}

	abs, err := filepath.Abs(dst)
	if err != nil {
		return dst, nil
	}
	return abs, nil
}

// cleanName normalizes an object name to a relative slash path.
func cleanName(name string) (string, error) {
	name = strings.TrimLeft(filepath.ToSlash(name), "/")
	if name == "" {
		return "", fmt.Errorf("empty object name")
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." || part == "." || part == "" {
			return "", fmt.Errorf("invalid object name %q", name)
		}
	}
	return name, nil
}
