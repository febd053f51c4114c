package source

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

// LoadXLSX reads one sheet of a workbook. The first non-blank row is the
// header; cells are read as displayed text so types are inferred the same
// way as for CSV.
func LoadXLSX(ctx context.Context, name string, r io.Reader, opts Options) (*core.DataSource, error) {
	f, err := excelize.OpenReader(&limitReader{r: r, limit: opts.maxBytes()})
	if err != nil {
		return nil, &core.ParseError{Source: name, Err: fmt.Errorf("open workbook: %w", err)}
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, &core.ParseError{Source: name, Err: fmt.Errorf("sheet %q not found", sheet)}
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, &core.ParseError{Source: name, Err: fmt.Errorf("read sheet %q: %w", sheet, err)}
	}
	defer rows.Close()

	var headers []string
	var records []core.Record
	line := 0
	for rows.Next() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		row, err := rows.Columns()
		if err != nil {
			return nil, &core.ParseError{Source: name, Line: line, Err: err}
		}
		if isBlankRow(row) {
			continue
		}
		if headers == nil {
			headers = uniqueHeaders(trimTrailingBlank(row))
			continue
		}
		records = append(records, rowRecord(headers, row))
	}
	if err := rows.Error(); err != nil {
		return nil, &core.ParseError{Source: name, Line: line, Err: err}
	}

	return build(name, core.SourceXLSX, headers, records)
}

// trimTrailingBlank drops empty cells after the last used header column.
func trimTrailingBlank(row []string) []string {
	end := len(row)
	for end > 0 && core.CleanCell(row[end-1]) == "" {
		end--
	}
	return row[:end]
}
