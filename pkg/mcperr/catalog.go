package mcperr

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Code defines a canonical MCP error code used across tools.
type Code string

const (
	// Validation & input
	Validation    Code = "VALIDATION"
	InvalidHandle Code = "INVALID_HANDLE"
	CursorInvalid Code = "CURSOR_INVALID"

	// Resource & limits
	BusyResource    Code = "BUSY_RESOURCE"
	Timeout         Code = "TIMEOUT"
	LimitExceeded   Code = "LIMIT_EXCEEDED"
	PayloadTooLarge Code = "PAYLOAD_TOO_LARGE"

	// Load & normalization
	LoadFailed    Code = "LOAD_FAILED"
	SchemaError   Code = "SCHEMA_ERROR"
	InvalidPeriod Code = "INVALID_PERIOD"

	// Analysis
	AnalysisFailed  Code = "ANALYSIS_FAILED"
	EmptyResult     Code = "EMPTY_RESULT"
	NoReferenceData Code = "NO_REFERENCE_DATA"

	// Export & integrity
	ExportFailed      Code = "EXPORT_FAILED"
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	PermissionDenied  Code = "PERMISSION_DENIED"
)

// Entry documents a code's standard message, retry semantics, and next steps.
type Entry struct {
	Code      Code
	Message   string
	Retryable bool
	NextSteps []string
}

// catalog maps canonical codes to guidance. Messages can be overridden per error.
var catalog = map[Code]Entry{
	Validation:    {Code: Validation, Message: "invalid inputs", Retryable: true, NextSteps: []string{"Correct the inputs per schema and retry", "See examples in tool description"}},
	InvalidHandle: {Code: InvalidHandle, Message: "dataset handle not found or expired", Retryable: true, NextSteps: []string{"Reload the dataset via load_dataset and retry"}},
	CursorInvalid: {Code: CursorInvalid, Message: "cursor is invalid for current context", Retryable: true, NextSteps: []string{"Restart pagination from the first page", "Keep facets unchanged between pages or reissue the query"}},

	BusyResource:    {Code: BusyResource, Message: "concurrent request limit reached", Retryable: true, NextSteps: []string{"Retry after a short delay"}},
	Timeout:         {Code: Timeout, Message: "operation exceeded configured time limit", Retryable: true, NextSteps: []string{"Narrow facets or reduce requested rows"}},
	LimitExceeded:   {Code: LimitExceeded, Message: "operation exceeded configured limits", Retryable: true, NextSteps: []string{"Reduce rows or page size"}},
	PayloadTooLarge: {Code: PayloadTooLarge, Message: "payload exceeds configured size", Retryable: true, NextSteps: []string{"Reduce requested rows or export to a file instead"}},

	LoadFailed:    {Code: LoadFailed, Message: "failed to load dataset", Retryable: true, NextSteps: []string{"Verify path, permissions, and format (.csv, .xlsx)"}},
	SchemaError:   {Code: SchemaError, Message: "required source column missing", Retryable: false, NextSteps: []string{"The file must carry a YearMonth column (or its bilingual variant)"}},
	InvalidPeriod: {Code: InvalidPeriod, Message: "YearMonth value has month outside 1..12", Retryable: false, NextSteps: []string{"Fix the offending row in the source file and reload"}},

	AnalysisFailed:  {Code: AnalysisFailed, Message: "analysis failed", Retryable: true, NextSteps: []string{"Verify facets and retry"}},
	EmptyResult:     {Code: EmptyResult, Message: "no rows matched the given filters", Retryable: true, NextSteps: []string{"Relax facets (years, country, HS/SUPC) and retry"}},
	NoReferenceData: {Code: NoReferenceData, Message: "reference table absent or empty", Retryable: false, NextSteps: []string{"Provide an IPTB table (and a concordance table when restricting by SUPC)"}},

	ExportFailed:      {Code: ExportFailed, Message: "failed to export table", Retryable: true, NextSteps: []string{"Verify the target path is inside an allowed directory"}},
	UnsupportedFormat: {Code: UnsupportedFormat, Message: "unsupported file format", Retryable: false, NextSteps: []string{"Use .csv or .xlsx"}},
	PermissionDenied:  {Code: PermissionDenied, Message: "insufficient permissions to access path", Retryable: false, NextSteps: []string{"Adjust permissions or choose an allowed directory"}},
}

// normalize builds a standard error string including next steps for MCP
// clients that surface only a message string. Format: "CODE: message"
// followed by a guidance tail.
func normalize(code Code, msg string) string {
	base := strings.TrimSpace(msg)
	e, ok := catalog[code]
	if !ok {
		if base == "" {
			return string(code)
		}
		return fmt.Sprintf("%s: %s", string(code), base)
	}
	if base == "" {
		base = e.Message
	}
	guidance := ""
	if len(e.NextSteps) > 0 {
		guidance = " | nextSteps: " + strings.Join(e.NextSteps, "; ")
	}
	return fmt.Sprintf("%s: %s%s", e.Code, base, guidance)
}

// New returns an MCP error result for a given code and optional message override.
func New(code Code, message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, message))
}

// Wrapf formats details and returns an MCP error result for the code.
func Wrapf(code Code, format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, fmt.Sprintf(format, args...)))
}
