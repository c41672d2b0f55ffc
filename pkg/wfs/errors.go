package wfs

import (
	"errors"
	"fmt"
)

// Failure taxonomy for fetch operations. Callers match these with errors.Is.
var (
	// ErrInvalidQuery is returned for query-definition errors detected
	// before any network call is made.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrMalformedResponse is returned when a response body does not parse
	// as the requested output format.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrUnsupportedGeometry is returned when a page carries a geometry
	// kind the collection cannot represent.
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")

	// ErrCRSMismatch is returned when a page reports a CRS different from
	// the one the collection was pinned to by the first page.
	ErrCRSMismatch = errors.New("crs mismatch")

	// ErrSchemaDrift is returned when a page introduces fields the first
	// non-empty page did not declare, or changes a field's type.
	ErrSchemaDrift = errors.New("schema drift")

	// ErrStagnantPagination is returned when the service repeats page
	// content at a different offset instead of advancing.
	ErrStagnantPagination = errors.New("stagnant pagination")

	// ErrTransportExhausted is returned when the per-page retry budget is
	// spent on transport-level failures.
	ErrTransportExhausted = errors.New("transport retries exhausted")

	// ErrCancelled is returned when the caller cancels the fetch between
	// page requests or during a retry backoff.
	ErrCancelled = errors.New("fetch cancelled")
)

// ErrorClass represents a classification of page-request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses. Never retried.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents timeouts and connection failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassParse represents undecodable response bodies.
	ErrorClassParse ErrorClass = "parse"
)

// ServiceError is an HTTP-level failure reported by the remote service.
type ServiceError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("WFS %s error (status %d): %s", e.Class, e.StatusCode, e.Message)
}

// FetchError wraps a failed fetch with its diagnostics. Fetch returns no
// collection on failure; the records accepted before the failure are
// reachable only through Partial.
type FetchError struct {
	Err          error
	PagesFetched int

	// Partial holds whatever was assembled before the failure. It is a
	// diagnostic, never a complete result.
	Partial *FeatureCollection
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed after %d pages: %v", e.PagesFetched, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// shouldRetry reports whether a failed page attempt may be re-sent.
// Client errors are permanent: retrying cannot fix a malformed query.
// Unsupported geometry is a data problem, not a transport problem.
func shouldRetry(class ErrorClass, err error) bool {
	if errors.Is(err, ErrUnsupportedGeometry) {
		return false
	}
	switch class {
	case ErrorClassServer, ErrorClassNetwork, ErrorClassParse:
		return true
	default:
		return false
	}
}
