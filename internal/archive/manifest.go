package archive

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

const manifestSheet = "Files"

var manifestHeader = []any{"File", "Record", "Format", "Size (bytes)", "Checksum", "Error", "Warning"}

// buildManifest writes one row per generated file and a summary sheet.
func buildManifest(meta core.RunMetadata, checksums map[string]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", manifestSheet); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	if err := f.SetSheetRow(manifestSheet, "A1", &manifestHeader); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	_ = f.SetCellStyle(manifestSheet, "A1", "G1", headerStyle)

	for i, file := range meta.Files {
		row := []any{
			file.Name,
			file.RecordIndex + 1,
			string(file.Format),
			file.Size,
			checksums[file.Name],
			file.Error,
			file.Warning,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(manifestSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("manifest row %d: %w", i+1, err)
		}
	}
	_ = f.SetColWidth(manifestSheet, "A", "A", 32)
	_ = f.SetColWidth(manifestSheet, "E", "G", 24)

	if err := writeSummary(f, meta); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, meta core.RunMetadata) error {
	const sheet = "Run"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	rows := [][]any{
		{"Run", meta.RunID},
		{"Source", meta.SourceName},
		{"Template", meta.TemplateName},
		{"Template hash", meta.TemplateHash},
		{"Format", string(meta.Config.Format)},
		{"Records", meta.TotalRecords},
		{"Succeeded", meta.SuccessCount},
		{"Failed", meta.ErrorCount},
		{"Warnings", meta.WarningCount},
		{"Started", meta.StartedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Finished", meta.FinishedAt.UTC().Format("2006-01-02 15:04:05")},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("manifest summary: %w", err)
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 16)
	_ = f.SetColWidth(sheet, "B", "B", 40)
	return nil
}
