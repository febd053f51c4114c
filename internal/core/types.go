package core

import (
	"context"
	"time"
)

// FieldType is the semantic type inferred for a column.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldNumber  FieldType = "number"
	FieldDate    FieldType = "date"
	FieldBoolean FieldType = "boolean"
	FieldImage   FieldType = "image"
	FieldArray   FieldType = "array"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldDate, FieldBoolean, FieldImage, FieldArray:
		return true
	}
	return false
}

// Record is one row of input data keyed by column name.
type Record map[string]any

// Column describes one column of a data source.
type Column struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Samples  []any     `json:"samples,omitempty"`
	NonEmpty int       `json:"nonEmpty"`
	Empty    int       `json:"empty"`
}

// EmptyRatio returns the fraction of records with no value in this column.
func (c Column) EmptyRatio() float64 {
	total := c.NonEmpty + c.Empty
	if total == 0 {
		return 0
	}
	return float64(c.Empty) / float64(total)
}

// SourceFormat identifies how a data source was loaded.
type SourceFormat string

const (
	SourceCSV   SourceFormat = "csv"
	SourceXLSX  SourceFormat = "xlsx"
	SourceJSON  SourceFormat = "json"
	SourceQuery SourceFormat = "query"
)

// DataSource is a loaded table of records with derived columns.
type DataSource struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Format   SourceFormat `json:"format"`
	Columns  []Column     `json:"columns"`
	Records  []Record     `json:"-"`
	LoadedAt time.Time    `json:"loadedAt"`
}

// RecordCount returns the number of records in the source.
func (d *DataSource) RecordCount() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// Column looks up a column by exact name.
func (d *DataSource) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// TextTransform is applied to text values before rendering.
type TextTransform string

const (
	TransformNone       TextTransform = ""
	TransformUppercase  TextTransform = "uppercase"
	TransformLowercase  TextTransform = "lowercase"
	TransformCapitalize TextTransform = "capitalize"
)

// OverflowPolicy controls how text longer than MaxLength is handled.
type OverflowPolicy string

const (
	OverflowVisible  OverflowPolicy = ""
	OverflowTruncate OverflowPolicy = "truncate"
	OverflowEllipsis OverflowPolicy = "ellipsis"
)

// ImageFit controls how an image is scaled into its element box.
type ImageFit string

const (
	FitContain ImageFit = "contain"
	FitCover   ImageFit = "cover"
	FitFill    ImageFit = "fill"
	FitNone    ImageFit = "none"
)

// NumberFormat controls number rendering.
type NumberFormat struct {
	Decimals     *int   `json:"decimals,omitempty"`
	ThousandsSep string `json:"thousandsSeparator,omitempty"`
	DecimalSep   string `json:"decimalSeparator,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	Suffix       string `json:"suffix,omitempty"`
}

// FieldFormat holds per-type formatting options for a field.
type FieldFormat struct {
	TextTransform  TextTransform  `json:"textTransform,omitempty"`
	Overflow       OverflowPolicy `json:"overflow,omitempty"`
	MaxLength      int            `json:"maxLength,omitempty"`
	Number         NumberFormat   `json:"number"`
	DateFormat     string         `json:"dateFormat,omitempty"` // e.g. "MM/DD/YYYY"
	ImageFit       ImageFit       `json:"imageFit,omitempty"`
	ArraySeparator string         `json:"arraySeparator,omitempty"`
}

// FieldValidation holds advisory validation bounds for a field.
type FieldValidation struct {
	Required  bool     `json:"required,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MinLength int      `json:"minLength,omitempty"`
	MaxLength int      `json:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
}

// Field is a typed binding derived 1:1 from a column.
type Field struct {
	Name       string          `json:"name"`
	Type       FieldType       `json:"type"`
	Format     FieldFormat     `json:"format"`
	Validation FieldValidation `json:"validation"`
	UsageCount int             `json:"usageCount"`
	Favorite   bool            `json:"favorite,omitempty"`
}

// LogicOperator connects predicates.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// Operator is a comparison operator. Operator sets are scoped by field type,
// see [OperatorsFor].
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "notEquals"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "notContains"
	OpStartsWith         Operator = "startsWith"
	OpEndsWith           Operator = "endsWith"
	OpRegex              Operator = "regex"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "notIn"
	OpIsEmpty            Operator = "isEmpty"
	OpIsNotEmpty         Operator = "isNotEmpty"
	OpGreaterThan        Operator = "greaterThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpLessThan           Operator = "lessThan"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
	OpBetween            Operator = "between"
	OpNotBetween         Operator = "notBetween"
	OpBefore             Operator = "before"
	OpAfter              Operator = "after"
	OpIsToday            Operator = "isToday"
	OpThisWeek           Operator = "thisWeek"
	OpThisMonth          Operator = "thisMonth"
	OpThisYear           Operator = "thisYear"
	OpIsTrue             Operator = "isTrue"
	OpIsFalse            Operator = "isFalse"
	OpArrayContains      Operator = "arrayContains"
	OpArrayNotContains   Operator = "arrayNotContains"
	OpArrayIsEmpty       Operator = "arrayIsEmpty"
	OpArrayIsNotEmpty    Operator = "arrayIsNotEmpty"
)

// Filter is one link of a filter chain. Logic connects it to the next filter.
type Filter struct {
	ID          string        `json:"id"`
	Field       string        `json:"field"`
	Operator    Operator      `json:"operator"`
	Value       any           `json:"value,omitempty"`
	SecondValue any           `json:"secondValue,omitempty"`
	Logic       LogicOperator `json:"logicOperator,omitempty"`
}

// SortDirection is asc or desc.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortKey is one sort criterion. Lower priority sorts first.
type SortKey struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
	Priority  int           `json:"priority"`
}

// Condition is one predicate of a conditional rule.
type Condition struct {
	Field       string   `json:"field"`
	Operator    Operator `json:"operator"`
	Value       any      `json:"value,omitempty"`
	SecondValue any      `json:"secondValue,omitempty"`
}

// RuleAction is what a matching rule does to its target elements.
type RuleAction string

const (
	ActionShow RuleAction = "show"
	ActionHide RuleAction = "hide"
)

// ConditionalRule toggles element visibility. Logic applies uniformly to all
// conditions.
type ConditionalRule struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Conditions       []Condition   `json:"conditions"`
	Logic            LogicOperator `json:"logicOperator"`
	Action           RuleAction    `json:"action"`
	AffectedElements []string      `json:"affectedElements"`
	Enabled          bool          `json:"enabled"`
}

// OutputFormat is the rendered artifact format.
type OutputFormat string

const (
	FormatPDF  OutputFormat = "pdf"
	FormatJPEG OutputFormat = "jpeg"
	FormatPNG  OutputFormat = "png"
	FormatSVG  OutputFormat = "svg"
	FormatWEBP OutputFormat = "webp"
)

// Extension returns the file extension including the dot.
func (f OutputFormat) Extension() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return "." + string(f)
}

// ContentType returns the MIME type of the format.
func (f OutputFormat) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatSVG:
		return "image/svg+xml"
	case FormatWEBP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// SelectionMode picks which records a run generates.
type SelectionMode string

const (
	SelectAll      SelectionMode = "all"
	SelectFiltered SelectionMode = "filtered"
	SelectRange    SelectionMode = "range"
	SelectSelected SelectionMode = "selected"
)

// RecordSelection picks records for a run. Start, End and Indices are
// zero-based positions in the source; the range is inclusive.
type RecordSelection struct {
	Mode    SelectionMode `json:"mode" yaml:"mode" validate:"required,oneof=all filtered range selected"`
	Start   int           `json:"start,omitempty" yaml:"start" validate:"gte=0"`
	End     int           `json:"end,omitempty" yaml:"end" validate:"gte=0"`
	Indices []int         `json:"indices,omitempty" yaml:"indices" validate:"dive,gte=0"`
}

// GenerationConfig configures one generation run.
type GenerationConfig struct {
	Selection       RecordSelection `json:"recordSelection" yaml:"recordSelection"`
	Format          OutputFormat    `json:"format" yaml:"format" validate:"required,oneof=pdf jpeg png svg webp"`
	Resolution      int             `json:"resolution" yaml:"resolution" validate:"min=72,max=600"`
	Quality         int             `json:"quality" yaml:"quality" validate:"min=1,max=100"`
	FilenamePattern string          `json:"filenamePattern" yaml:"filenamePattern" validate:"max=255"`
	CreateArchive   bool            `json:"createArchive" yaml:"createArchive"`
	IncludeMetadata bool            `json:"includeMetadata" yaml:"includeMetadata"`
}

// DefaultGenerationConfig returns the config used when a caller supplies none.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Selection:       RecordSelection{Mode: SelectAll},
		Format:          FormatPNG,
		Resolution:      150,
		Quality:         90,
		FilenamePattern: DefaultFilenamePattern,
		CreateArchive:   true,
	}
}

// RunStatus is the state of a generation run.
type RunStatus string

const (
	StatusIdle       RunStatus = "idle"
	StatusGenerating RunStatus = "generating"
	StatusPaused     RunStatus = "paused"
	StatusCompleted  RunStatus = "completed"
	StatusError      RunStatus = "error"
)

// GeneratedFile describes one output of a run.
type GeneratedFile struct {
	Name        string       `json:"name"`
	RecordIndex int          `json:"recordIndex"`
	Size        int          `json:"size"`
	Format      OutputFormat `json:"format"`
	Error       string       `json:"error,omitempty"`
	Warning     string       `json:"warning,omitempty"`
}

// GenerationProgress is a snapshot of a run.
type GenerationProgress struct {
	RunID                string          `json:"runId"`
	Status               RunStatus       `json:"status"`
	CurrentRecord        int             `json:"currentRecord"`
	TotalRecords         int             `json:"totalRecords"`
	Percentage           int             `json:"percentage"`
	ElapsedMs            int64           `json:"elapsedTime"`
	EstimatedRemainingMs int64           `json:"estimatedRemaining"`
	Speed                float64         `json:"speed"`
	SuccessCount         int             `json:"successCount"`
	ErrorCount           int             `json:"errorCount"`
	WarningCount         int             `json:"warningCount"`
	GeneratedFiles       []GeneratedFile `json:"generatedFiles"`
	Cancelled            bool            `json:"cancelled,omitempty"`
	LastError            string          `json:"lastError,omitempty"`
	Location             string          `json:"location,omitempty"`
	StartedAt            time.Time       `json:"startedAt"`
	FinishedAt           time.Time       `json:"finishedAt,omitempty"`
}

// Finished reports whether the run can no longer change state.
// A cancelled run reports status paused but is finished.
func (p GenerationProgress) Finished() bool {
	return p.Status == StatusCompleted || p.Status == StatusError || p.Cancelled
}

// clone copies the snapshot so callers never share the files slice.
func (p GenerationProgress) clone() GenerationProgress {
	if p.GeneratedFiles != nil {
		files := make([]GeneratedFile, len(p.GeneratedFiles))
		copy(files, p.GeneratedFiles)
		p.GeneratedFiles = files
	}
	return p
}

// ProgressFunc receives a progress snapshot on every tick.
type ProgressFunc func(GenerationProgress)

// RenderOptions configures a surface render.
type RenderOptions struct {
	Format     OutputFormat
	Resolution int
	Quality    int
}

// Surface draws a template snapshot. A run owns one surface and uses it
// for every record, so implementations need no locking.
type Surface interface {
	Load(t Template) error
	Render(ctx context.Context, opts RenderOptions) ([]byte, error)
	Dimensions() (width, height float64)
}

// SurfaceFactory builds the surface for a run.
type SurfaceFactory func(t Template) (Surface, error)

// ImageResolver loads the image behind a reference such as a URL or path.
type ImageResolver interface {
	ResolveImage(ctx context.Context, ref string) (*ResolvedImage, error)
}

// ExportSink receives finished outputs and returns where they were stored.
type ExportSink interface {
	Save(ctx context.Context, name string, data []byte) (location string, err error)
}

// OutputFile is a named rendered blob.
type OutputFile struct {
	Name string
	Data []byte
}

// Bundle collects a run's outputs into one downloadable container.
type Bundle interface {
	Add(name string, data []byte) error
	Finish(meta RunMetadata) ([]byte, error)
}

// BundleFactory creates the bundle for a run from its config.
type BundleFactory func(cfg GenerationConfig) Bundle

// RunMetadata describes a finished run. It is written into archives when
// metadata is requested and persisted as run history.
type RunMetadata struct {
	RunID        string           `json:"runId"`
	SourceName   string           `json:"sourceName"`
	TemplateName string           `json:"templateName"`
	TemplateHash string           `json:"templateHash"`
	Config       GenerationConfig `json:"config"`
	TotalRecords int              `json:"totalRecords"`
	SuccessCount int              `json:"successCount"`
	ErrorCount   int              `json:"errorCount"`
	WarningCount int              `json:"warningCount"`
	Files        []GeneratedFile  `json:"files"`
	StartedAt    time.Time        `json:"startedAt"`
	FinishedAt   time.Time        `json:"finishedAt"`
}

// RunSummary is the persisted history entry of a run.
type RunSummary struct {
	ID           string       `json:"id"`
	SourceName   string       `json:"sourceName"`
	TemplateName string       `json:"templateName"`
	Format       OutputFormat `json:"format"`
	Status       RunStatus    `json:"status"`
	Cancelled    bool         `json:"cancelled"`
	TotalRecords int          `json:"totalRecords"`
	SuccessCount int          `json:"successCount"`
	ErrorCount   int          `json:"errorCount"`
	WarningCount int          `json:"warningCount"`
	Location     string       `json:"location,omitempty"`
	LastError    string       `json:"lastError,omitempty"`
	StartedAt    time.Time    `json:"startedAt"`
	FinishedAt   time.Time    `json:"finishedAt"`
}

// RunStore persists run history.
type RunStore interface {
	SaveRun(ctx context.Context, run RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ProgressPublisher forwards progress snapshots to an external channel.
type ProgressPublisher interface {
	Publish(ctx context.Context, p GenerationProgress) error
}
