package models

import "fmt"

// DataFormatError reports a malformed or inconsistent input row.
type DataFormatError struct {
	Row    int    // zero-based position in the input, -1 when unknown
	Date   string // raw date string of the offending row
	Reason string
}

func (e *DataFormatError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("data format error (date %q): %s", e.Date, e.Reason)
	}
	return fmt.Sprintf("data format error in row %d (date %q): %s", e.Row, e.Date, e.Reason)
}

// InsufficientDataError reports that a series is too short for the requested
// window or lookback.
type InsufficientDataError struct {
	Need   int
	Have   int
	Reason string
}

func (e *InsufficientDataError) Error() string {
	if e.Need > 0 {
		return fmt.Sprintf("insufficient data: %s (need %d records, have %d)", e.Reason, e.Need, e.Have)
	}
	return fmt.Sprintf("insufficient data: %s", e.Reason)
}

// NonPositiveRateError is returned when a projection is requested with a rate
// that would never reach full coverage.
type NonPositiveRateError struct {
	Rate float64
}

func (e *NonPositiveRateError) Error() string {
	return fmt.Sprintf("dose rate must be positive, got %g", e.Rate)
}

// IterationLimitError is returned when a projection exceeds its day budget.
type IterationLimitError struct {
	MaxDays int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("projection did not complete within %d days", e.MaxDays)
}
