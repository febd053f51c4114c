// Package source loads tabular data into core data sources.
//
// Every loader returns a *core.DataSource whose columns keep the order of
// the input and whose types are inferred from the loaded records. Malformed
// input is reported as a *core.ParseError.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

// DefaultMaxBytes caps the size of an uploaded source (100MB).
const DefaultMaxBytes int64 = 100 * 1024 * 1024

var (
	ErrUnsupportedFormat = errors.New("unsupported source format")
	ErrFileTooLarge      = errors.New("file too large")
	ErrEmptyFile         = errors.New("empty file")
)

// Options tune a load.
type Options struct {
	MaxBytes int64  // 0 selects DefaultMaxBytes, negative disables the cap
	Sheet    string // xlsx sheet, empty selects the first sheet
}

func (o Options) maxBytes() int64 {
	switch {
	case o.MaxBytes == 0:
		return DefaultMaxBytes
	case o.MaxBytes < 0:
		return 0
	}
	return o.MaxBytes
}

// FormatFor maps a file name to its source format by extension.
func FormatFor(name string) (core.SourceFormat, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt":
		return core.SourceCSV, nil
	case ".xlsx", ".xlsm":
		return core.SourceXLSX, nil
	case ".json":
		return core.SourceJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}

// Load parses r according to the extension of name.
func Load(ctx context.Context, name string, r io.Reader, opts Options) (*core.DataSource, error) {
	format, err := FormatFor(name)
	if err != nil {
		return nil, err
	}
	switch format {
	case core.SourceXLSX:
		return LoadXLSX(ctx, name, r, opts)
	case core.SourceJSON:
		return LoadJSON(ctx, name, r, opts)
	}
	return LoadCSV(ctx, name, r, opts)
}

// build derives columns and assembles the data source.
func build(name string, format core.SourceFormat, headers []string, records []core.Record) (*core.DataSource, error) {
	if len(headers) == 0 {
		return nil, &core.ParseError{Source: name, Err: ErrEmptyFile}
	}
	return &core.DataSource{
		Name:    name,
		Format:  format,
		Columns: core.DeriveColumns(headers, records),
		Records: records,
	}, nil
}

// uniqueHeaders cleans header cells and makes them unique. Blank headers
// become column_N and repeats get a numeric suffix.
func uniqueHeaders(raw []string) []string {
	seen := make(map[string]int, len(raw))
	out := make([]string, len(raw))
	for i, h := range raw {
		h = core.CleanCell(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = fmt.Sprintf("%s_%d", h, n+1)
		}
		seen[h]++
		out[i] = h
	}
	return out
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// rowRecord maps a row onto headers. Cells are cleaned.
func rowRecord(headers, row []string) core.Record {
	rec := make(core.Record, len(headers))
	for i, h := range headers {
		if i < len(row) {
			rec[h] = core.CleanCell(row[i])
		} else {
			rec[h] = ""
		}
	}
	return rec
}
