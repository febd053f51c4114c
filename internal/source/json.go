package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

// LoadJSON reads an array of objects. Columns appear in the order their keys
// are first seen. Numbers keep their literal text, nested arrays become
// []any and nested objects are kept as decoded maps.
func LoadJSON(ctx context.Context, name string, r io.Reader, opts Options) (*core.DataSource, error) {
	dec := json.NewDecoder(&limitReader{r: newBOMReader(r), limit: opts.maxBytes()})
	dec.UseNumber()

	fail := func(err error) (*core.DataSource, error) {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, err
		}
		return nil, &core.ParseError{Source: name, Err: fmt.Errorf("offset %d: %w", dec.InputOffset(), err)}
	}

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil, &core.ParseError{Source: name, Err: ErrEmptyFile}
	}
	if err != nil {
		return fail(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return fail(errors.New("expected an array of objects"))
	}

	var headers []string
	seen := map[string]bool{}
	var records []core.Record

	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys, rec, err := readObject(dec)
		if err != nil {
			return fail(fmt.Errorf("record %d: %w", len(records)+1, err))
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				headers = append(headers, k)
			}
		}
		records = append(records, rec)
	}
	if _, err := dec.Token(); err != nil {
		return fail(err)
	}

	if len(headers) == 0 {
		return nil, &core.ParseError{Source: name, Err: ErrEmptyFile}
	}
	return build(name, core.SourceJSON, headers, records)
}

// readObject decodes one object and returns its keys in document order.
func readObject(dec *json.Decoder) ([]string, core.Record, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}

	var keys []string
	rec := core.Record{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected key, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", key, err)
		}
		if _, dup := rec[key]; !dup {
			keys = append(keys, key)
		}
		rec[key] = normalize(v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, rec, nil
}

// normalize converts json.Number to its literal string so number inference
// and formatting see the value as written.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		return x.String()
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	}
	return v
}
