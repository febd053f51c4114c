package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "no data source", err: ErrNoDataSource, wantCode: "SRC001"},
		{name: "wrapped parse error", err: fmt.Errorf("load: %w", &ParseError{Source: "a.csv", Line: 3, Err: errors.New("bad quote")}), wantCode: "SRC002"},
		{name: "unsupported source by message", err: errors.New("unsupported source format: .txt"), wantCode: "SRC003"},
		{name: "unknown field", err: fmt.Errorf("%w: city", ErrUnknownField), wantCode: "SRC004"},
		{name: "no template", err: ErrNoTemplate, wantCode: "TPL001"},
		{name: "invalid template", err: fmt.Errorf("%w: duplicate id", ErrInvalidTemplate), wantCode: "TPL002"},
		{name: "no records", err: fmt.Errorf("start: %w", ErrNoRecords), wantCode: "GEN001"},
		{name: "unsupported format", err: fmt.Errorf("%w: webp", ErrUnsupportedFormat), wantCode: "GEN002"},
		{name: "invalid config", err: fmt.Errorf("%w: Resolution failed min 72", ErrInvalidConfig), wantCode: "GEN003"},
		{name: "pipeline error", err: &PipelineError{Stage: "export", Err: errors.New("disk full")}, wantCode: "GEN004"},
		{name: "run not found", err: fmt.Errorf("%w: abc", ErrRunNotFound), wantCode: "RUN001"},
		{name: "run not active", err: ErrRunNotActive, wantCode: "RUN002"},
		{name: "too many loads", err: ErrTooManyLoads, wantCode: "UPL001"},
		{name: "cancelled", err: context.Canceled, wantCode: "UPL002"},
		{name: "deadline", err: fmt.Errorf("fetch: %w", context.DeadlineExceeded), wantCode: "UPL003"},
		{name: "file too large", err: errors.New("file too large: 60MB"), wantCode: "FILE001"},
		{name: "empty file", err: errors.New("empty file"), wantCode: "FILE005"},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), wantCode: "DB001"},
		{name: "image", err: errors.New("fetch image: 404"), wantCode: "IMG001"},
		{name: "rate limit", err: errors.New("rate limit exceeded"), wantCode: "RATE001"},
		{name: "unknown error falls back", err: errors.New("random internal error xyz"), wantCode: "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && got.Message == "" {
				t.Error("MapError() returned an empty message")
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrNoRecords)
	want := "No records match the selection (Code: GEN001). Adjust the filters or the record range"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}

	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error is not user facing", err: nil, want: false},
		{name: "sentinel is user facing", err: ErrNoTemplate, want: true},
		{name: "known pattern is user facing", err: errors.New("invalid csv header"), want: true},
		{name: "unknown error is not user facing", err: errors.New("random internal error xyz"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordErrorMessage(t *testing.T) {
	err := &RecordError{Index: 2, Stage: StageImage, Err: errors.New("404")}
	if got, want := err.Error(), "record 3: image: 404"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
