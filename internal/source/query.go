package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

// Querier runs a query. *pgxpool.Pool, *pgx.Conn and pgx.Tx satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// MaxQueryRows caps the rows read from a query source.
const MaxQueryRows = 100_000

// LoadQuery runs sql and loads its result set. Column names come from the
// result description.
func LoadQuery(ctx context.Context, db Querier, name, sql string, args ...any) (*core.DataSource, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query source %s: %w", name, err)
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	raw := make([]string, len(descs))
	for i, d := range descs {
		raw[i] = d.Name
	}
	headers := uniqueHeaders(raw)

	var records []core.Record
	for rows.Next() {
		if len(records) >= MaxQueryRows {
			return nil, &core.ParseError{Source: name, Err: fmt.Errorf("more than %d rows", MaxQueryRows)}
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, &core.ParseError{Source: name, Line: len(records) + 1, Err: err}
		}
		rec := make(core.Record, len(headers))
		for i, h := range headers {
			rec[h] = queryValue(vals[i])
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query source %s: %w", name, err)
	}

	return build(name, core.SourceQuery, headers, records)
}

// queryValue converts driver values into the scalar shapes records hold.
func queryValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = queryValue(e)
		}
		return out
	}
	return v
}
