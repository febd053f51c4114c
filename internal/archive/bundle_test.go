package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		out[f.Name] = b
	}
	return out
}

func testMeta() core.RunMetadata {
	return core.RunMetadata{
		RunID:        "run-1",
		SourceName:   "people.csv",
		TemplateName: "Badge",
		Config:       core.GenerationConfig{Format: core.FormatPNG},
		TotalRecords: 2,
		SuccessCount: 1,
		ErrorCount:   1,
		Files: []core.GeneratedFile{
			{Name: "Ana.png", RecordIndex: 0, Size: 3, Format: core.FormatPNG},
			{Name: "Bo.svg", RecordIndex: 1, Size: 5, Format: core.FormatSVG, Error: "record 2: image: 404"},
		},
		StartedAt:  time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 6, 1, 9, 1, 0, 0, time.UTC),
	}
}

func TestBundle_WithoutMetadata(t *testing.T) {
	b := New(Options{})
	if err := b.Add("Ana.png", []byte("png")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := b.Add("Bo.svg", []byte("<svg>")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if b.Len() != 2 {
		t.Errorf("Len() = %d, want 2", b.Len())
	}

	data, err := b.Finish(testMeta())
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	files := readZip(t, data)
	if len(files) != 2 {
		t.Errorf("entries = %d, want 2", len(files))
	}
	if string(files["Bo.svg"]) != "<svg>" {
		t.Errorf("Bo.svg = %q", files["Bo.svg"])
	}

	if err := b.Add("late.png", nil); !errors.Is(err, ErrFinished) {
		t.Errorf("Add after Finish = %v, want ErrFinished", err)
	}
	if _, err := b.Finish(testMeta()); !errors.Is(err, ErrFinished) {
		t.Errorf("second Finish = %v, want ErrFinished", err)
	}
}

func TestBundle_RejectsBadNames(t *testing.T) {
	b := New(Options{})
	_ = b.Add("a.png", nil)
	for _, name := range []string{"", "/etc/passwd", "../x.png", "out/../../x.png", "..", "a.png"} {
		if err := b.Add(name, []byte("x")); err == nil {
			t.Errorf("Add(%q) succeeded", name)
		}
	}
}

func TestBundle_AcceptsDotsInsideNames(t *testing.T) {
	b := New(Options{})
	names := []string{
		core.OutputFilename("{{company}}", core.Record{"company": "Acme..Corp"}, 0, core.FormatPNG),
		"v1..2/card.png",
		"...png",
	}
	for _, name := range names {
		if err := b.Add(name, []byte("x")); err != nil {
			t.Errorf("Add(%q) error = %v", name, err)
		}
	}

	data, err := b.Finish(testMeta())
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	files := readZip(t, data)
	if _, ok := files["Acme..Corp.png"]; !ok {
		t.Errorf("entries = %v, want Acme..Corp.png", slices.Collect(maps.Keys(files)))
	}
}

func TestBundle_Metadata(t *testing.T) {
	b := New(Options{IncludeMetadata: true})
	_ = b.Add("Ana.png", []byte("png"))
	_ = b.Add("Bo.svg", []byte("<svg>"))

	data, err := b.Finish(testMeta())
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	files := readZip(t, data)

	var doc struct {
		RunID     string            `json:"runId"`
		Files     []map[string]any  `json:"files"`
		Checksums map[string]string `json:"checksums"`
	}
	if err := json.Unmarshal(files[MetadataName], &doc); err != nil {
		t.Fatalf("metadata.json: %v", err)
	}
	if doc.RunID != "run-1" || len(doc.Files) != 2 {
		t.Errorf("metadata = %+v", doc)
	}
	if got, want := doc.Checksums["Ana.png"], checksum([]byte("png")); got != want || len(got) != 16 {
		t.Errorf("checksum = %q, want %q", got, want)
	}

	x, err := excelize.OpenReader(bytes.NewReader(files[ManifestName]))
	if err != nil {
		t.Fatalf("manifest.xlsx: %v", err)
	}
	defer x.Close()

	rows, err := x.GetRows(manifestSheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("manifest rows = %d, want 3", len(rows))
	}
	if want := []string{"Bo.svg", "2", "svg", "5"}; !slices.Equal(rows[2][:4], want) {
		t.Errorf("row 2 = %v, want prefix %v", rows[2], want)
	}
	if rows[2][5] != "record 2: image: 404" {
		t.Errorf("error cell = %q", rows[2][5])
	}

	summary, _ := x.GetRows("Run")
	if len(summary) == 0 || summary[0][1] != "run-1" {
		t.Errorf("summary = %v", summary)
	}
}

func TestMethodFor(t *testing.T) {
	tests := map[string]uint16{
		"a.png": zip.Store,
		"a.JPG": zip.Store,
		"a.svg": zip.Deflate,
		"a.pdf": zip.Deflate,
		"noext": zip.Deflate,
	}
	for name, want := range tests {
		if got := methodFor(name); got != want {
			t.Errorf("methodFor(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestFactory(t *testing.T) {
	f := Factory(Options{IncludeMetadata: true})

	plain := f(core.GenerationConfig{})
	if plain == f(core.GenerationConfig{}) {
		t.Error("factory returned the same bundle twice")
	}
	plain.Add("a.png", []byte("a"))
	data, err := plain.Finish(testMeta())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := readZip(t, data)[MetadataName]; ok {
		t.Error("metadata written although the run did not ask for it")
	}

	withMeta := f(core.GenerationConfig{IncludeMetadata: true})
	withMeta.Add("a.png", []byte("a"))
	data, err = withMeta.Finish(testMeta())
	if err != nil {
		t.Fatal(err)
	}
	entries := readZip(t, data)
	if _, ok := entries[MetadataName]; !ok {
		t.Error("metadata missing for a run that asked for it")
	}
	if _, ok := entries[ManifestName]; !ok {
		t.Error("manifest missing for a run that asked for it")
	}
}
