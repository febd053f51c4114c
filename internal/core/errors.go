package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the service and pipeline.
var (
	ErrNoDataSource      = errors.New("no data source connected")
	ErrNoTemplate        = errors.New("no template loaded")
	ErrNoRecords         = errors.New("no records selected for generation")
	ErrRunNotFound       = errors.New("run not found")
	ErrRunNotActive      = errors.New("run is not active")
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrInvalidTemplate   = errors.New("invalid template")
	ErrUnknownField      = errors.New("unknown field")
	ErrInvalidConfig     = errors.New("invalid generation config")
)

// ParseError reports a malformed data source. It aborts the load only.
type ParseError struct {
	Source string
	Line   int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s: line %d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Record processing stages.
const (
	StageImage  = "image"
	StageLoad   = "load"
	StageRender = "render"
	StageBundle = "bundle"
	StagePanic  = "panic"
)

// RecordError is a failure scoped to one record. It is counted and the run
// continues.
type RecordError struct {
	Index int
	Stage string
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %s: %v", e.Index+1, e.Stage, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// PipelineError is a failure outside any record boundary. It ends the run
// with status error.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("generation %s failed: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
