package core

// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Typed and sentinel errors are matched first with errors.Is / errors.As, so
// wrapping never hides them. Anything else is matched by message pattern.
//
// # Data Source Errors (SRC001-SRC099)
//
//	SRC001 - No data source: No data source is connected
//	         Action: Upload a CSV, Excel or JSON file first
//	SRC002 - Malformed data: The data source could not be parsed
//	         Action: Check the file near the reported line
//	SRC003 - Unsupported source: The file format is not supported
//	         Action: Upload a .csv, .xlsx or .json file
//	SRC004 - Unknown field: The field does not exist in the data source
//	         Action: Refresh the field list and try again
//
// # Template Errors (TPL001-TPL099)
//
//	TPL001 - No template: No template is loaded
//	TPL002 - Invalid template: The template is malformed
//
// # Generation Errors (GEN001-GEN099)
//
//	GEN001 - No records: No records match the selection
//	GEN002 - Unsupported format: The output format is not available
//	GEN003 - Invalid settings: Generation settings are out of range
//	GEN004 - Generation failed: The run stopped with an error
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Run not found: The run does not exist or has expired
//	RUN002 - Run not active: The run has already finished
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large, FILE002 - Invalid CSV, FILE003 - Encoding error,
//	FILE004 - No file, FILE005 - Empty file
//
// # Load Errors (UPL001-UPL099)
//
//	UPL001 - System busy: Too many data sources loading
//	UPL002 - Request cancelled
//	UPL003 - Request timeout
//
// # Infrastructure (DB, IMG, RATE)
//
//	DB001 - Database unavailable, IMG001 - Image unavailable,
//	RATE001 - Rate limited
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Check application logs for the
// original technical error when users report ERR000.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgNoDataSource = UserMessage{
		Message: "No data source is connected",
		Action:  "Upload a CSV, Excel or JSON file first",
		Code:    "SRC001",
	}
	msgMalformedSource = UserMessage{
		Message: "The data source could not be parsed",
		Action:  "Check the file near the reported line and upload it again",
		Code:    "SRC002",
	}
	msgUnsupportedSource = UserMessage{
		Message: "The file format is not supported",
		Action:  "Upload a .csv, .xlsx or .json file",
		Code:    "SRC003",
	}
	msgUnknownField = UserMessage{
		Message: "The field does not exist in the data source",
		Action:  "Refresh the field list and try again",
		Code:    "SRC004",
	}
	msgNoTemplate = UserMessage{
		Message: "No template is loaded",
		Action:  "Load or create a template before generating",
		Code:    "TPL001",
	}
	msgInvalidTemplate = UserMessage{
		Message: "The template is malformed",
		Action:  "Check element ids and that every element has content for its kind",
		Code:    "TPL002",
	}
	msgNoRecords = UserMessage{
		Message: "No records match the selection",
		Action:  "Adjust the filters or the record range",
		Code:    "GEN001",
	}
	msgUnsupportedFormat = UserMessage{
		Message: "The output format is not available",
		Action:  "Choose PDF, PNG, JPEG or SVG",
		Code:    "GEN002",
	}
	msgInvalidConfig = UserMessage{
		Message: "Generation settings are out of range",
		Action:  "Use a resolution of 72-600 DPI and a quality of 1-100",
		Code:    "GEN003",
	}
	msgGenerationFailed = UserMessage{
		Message: "The generation run stopped with an error",
		Action:  "Check the run details and try again",
		Code:    "GEN004",
	}
	msgRunNotFound = UserMessage{
		Message: "The generation run was not found",
		Action:  "The run may have expired. Start a new run",
		Code:    "RUN001",
	}
	msgRunNotActive = UserMessage{
		Message: "The generation run has already finished",
		Action:  "Start a new run to generate again",
		Code:    "RUN002",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL002",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or check your connection",
		Code:    "UPL003",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so more specific patterns come first.
var errorPatterns = []errorPattern{
	// =========================================================================
	// File Errors (FILE001-FILE005)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with consistent columns",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a file with a header and data rows",
			Code:    "FILE005",
		},
	},
	{
		pattern: "unsupported source format",
		msg:     msgUnsupportedSource,
	},

	// =========================================================================
	// Load Errors (UPL001)
	// =========================================================================
	{
		pattern: "too many concurrent loads",
		msg: UserMessage{
			Message: "Too many data sources are loading",
			Action:  "Please wait a moment and try again",
			Code:    "UPL001",
		},
	},

	// =========================================================================
	// Infrastructure Errors (DB001, IMG001, RATE001)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "A backing service is unavailable",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		pattern: "image",
		msg: UserMessage{
			Message: "An image could not be loaded",
			Action:  "Check that image URLs and paths in the data are reachable",
			Code:    "IMG001",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Known error types are matched first; otherwise the message is searched for
// known patterns (case-insensitive). If nothing matches, a generic fallback
// message with code ERR000 is returned.
//
// Example:
//
//	err := fmt.Errorf("start: %w", ErrNoRecords)
//	msg := MapError(err)
//	// msg.Code == "GEN001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if msg, ok := mapTyped(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

func mapTyped(err error) (UserMessage, bool) {
	var parseErr *ParseError
	var pipelineErr *PipelineError

	switch {
	case errors.Is(err, ErrNoDataSource):
		return msgNoDataSource, true
	case errors.As(err, &parseErr):
		return msgMalformedSource, true
	case errors.Is(err, ErrUnknownField):
		return msgUnknownField, true
	case errors.Is(err, ErrNoTemplate):
		return msgNoTemplate, true
	case errors.Is(err, ErrInvalidTemplate):
		return msgInvalidTemplate, true
	case errors.Is(err, ErrNoRecords):
		return msgNoRecords, true
	case errors.Is(err, ErrUnsupportedFormat):
		return msgUnsupportedFormat, true
	case errors.Is(err, ErrRunNotFound):
		return msgRunNotFound, true
	case errors.Is(err, ErrRunNotActive):
		return msgRunNotActive, true
	case errors.As(err, &pipelineErr):
		return msgGenerationFailed, true
	case errors.Is(err, context.Canceled):
		return msgCancelled, true
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout, true
	case errors.Is(err, ErrInvalidConfig):
		return msgInvalidConfig, true
	}
	return UserMessage{}, false
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error matches a known pattern and should be shown to users.
// Returns true if the error matches a specific pattern (not the generic ERR000 fallback).
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
