package models

import "fmt"

// DataShapeError is returned when a chain snapshot or provider payload does
// not have the shape the scanner expects.
type DataShapeError struct {
	Symbol     string
	Expiration string
	Reason     string
}

func (e *DataShapeError) Error() string {
	if e.Expiration != "" {
		return fmt.Sprintf("malformed data for %s %s: %s", e.Symbol, e.Expiration, e.Reason)
	}
	return fmt.Sprintf("malformed data for %s: %s", e.Symbol, e.Reason)
}

// DivisionByZeroError is returned when a ratio against the underlying price
// is requested while that price is zero.
type DivisionByZeroError struct {
	Op string
}

func (e *DivisionByZeroError) Error() string {
	return fmt.Sprintf("division by zero in %s", e.Op)
}

// ExternalFetchError wraps a failed call to a market-data or brokerage provider.
type ExternalFetchError struct {
	Err    error
	Op     string
	Symbol string
}

func (e *ExternalFetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *ExternalFetchError) Unwrap() error {
	return e.Err
}

// ValidationError reports a malformed scan parameter set or trade request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}
