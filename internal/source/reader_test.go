package source

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestBOMReader(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{name: "with BOM", input: append([]byte{0xEF, 0xBB, 0xBF}, "a,b"...), want: "a,b"},
		{name: "without BOM", input: []byte("a,b"), want: "a,b"},
		{name: "empty", input: nil, want: ""},
		{name: "only BOM", input: []byte{0xEF, 0xBB, 0xBF}, want: ""},
		{name: "partial BOM kept", input: []byte{0xEF, 0xBB, 'x'}, want: "\xEF\xBBx"},
		{name: "short input", input: []byte("a"), want: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newBOMReader(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUTF8Reader(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{name: "ascii", input: []byte("hello"), want: "hello"},
		{name: "multibyte", input: []byte("Zoë,Ångström"), want: "Zoë,Ångström"},
		{name: "invalid byte", input: []byte{'a', 0x80, 'b'}, want: "a?b"},
		{name: "truncated rune at end", input: []byte{'a', 0xC3}, want: "a?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newUTF8Reader(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUTF8Reader_SplitRunes(t *testing.T) {
	input := "Zoë naïve 日本語"
	got, err := io.ReadAll(newUTF8Reader(iotest.OneByteReader(strings.NewReader(input))))
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != input {
		t.Errorf("got %q, want %q", got, input)
	}
}

func TestLimitReader(t *testing.T) {
	_, err := io.ReadAll(&limitReader{r: strings.NewReader("0123456789"), limit: 4})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("error = %v, want ErrFileTooLarge", err)
	}

	got, err := io.ReadAll(&limitReader{r: strings.NewReader("0123"), limit: 4})
	if err != nil || string(got) != "0123" {
		t.Errorf("at limit: %q, %v", got, err)
	}
}
