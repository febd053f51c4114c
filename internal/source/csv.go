package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

// LoadCSV parses a delimited text source. The first non-blank row is the
// header. A row with more cells than the header is malformed; shorter rows
// are padded with empty values. Blank rows are skipped.
//
// Files ending in .tsv are read tab-separated.
func LoadCSV(ctx context.Context, name string, r io.Reader, opts Options) (*core.DataSource, error) {
	cr := csv.NewReader(wrapText(r, opts.maxBytes()))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	if strings.EqualFold(filepath.Ext(name), ".tsv") {
		cr.Comma = '\t'
	}

	var headers []string
	var records []core.Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, ErrFileTooLarge) {
				return nil, err
			}
			var line int
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.Line
			}
			return nil, &core.ParseError{Source: name, Line: line, Err: fmt.Errorf("invalid csv: %w", err)}
		}
		line, _ := cr.FieldPos(0)
		if isBlankRow(row) {
			continue
		}

		if headers == nil {
			headers = uniqueHeaders(row)
			continue
		}
		if len(row) > len(headers) && !isBlankRow(row[len(headers):]) {
			return nil, &core.ParseError{
				Source: name,
				Line:   line,
				Err:    fmt.Errorf("invalid csv: row has %d fields, header has %d", len(row), len(headers)),
			}
		}
		records = append(records, rowRecord(headers, row))
	}

	return build(name, core.SourceCSV, headers, records)
}
