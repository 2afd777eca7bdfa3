package engine

import (
	"errors"
	"fmt"
)

// SchemaError reports a required source column that is absent at normalization
// time. It aborts the whole load; there is no way to derive the period fields
// without the source column.
type SchemaError struct {
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("engine: required column %q missing from source table", e.Column)
}

// InvalidPeriodError reports a YearMonth cell whose month component falls
// outside 1..12. The load is aborted rather than the row dropped, so a bad
// period can never silently shrink the dataset.
type InvalidPeriodError struct {
	Row    int // 1-based data row index (header excluded)
	Period int
}

func (e *InvalidPeriodError) Error() string {
	return fmt.Sprintf("engine: row %d: period %d has month outside 1..12", e.Row, e.Period)
}

// ErrEmptyResult signals that a filter or aggregation step matched zero rows.
// It is a normal terminal state, not a failure; callers skip dependent
// computations when they see it.
var ErrEmptyResult = errors.New("engine: no rows matched")

// ErrNoReferenceData signals that a reference table (IPTB or concordance)
// required by the matrix builder is absent or empty. Callers degrade to
// "matrix unavailable" instead of crashing.
var ErrNoReferenceData = errors.New("engine: reference table absent or empty")
