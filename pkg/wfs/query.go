// Package wfs implements a paginated GetFeature client for OGC Web Feature
// Services: request building, page parsing, bounded retry, and assembly of
// the returned pages into one consistent feature collection.
package wfs

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultMaxPageSize caps the count parameter when neither the caller nor
// the service's CountDefault constraint provides a ceiling.
const DefaultMaxPageSize = 10000

// DefaultOutputFormat is requested when the spec does not name one.
const DefaultOutputFormat = "application/json"

// BBox is a bounding filter [minx, miny, maxx, maxy] in a named CRS.
type BBox struct {
	MinX, MinY float64
	MaxX, MaxY float64
	CRS        string
}

// String renders the box in WFS bbox parameter form.
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.MinX, b.MinY, b.MaxX, b.MaxY, b.CRS)
}

// QuerySpec describes one fetch operation. It is supplied once per fetch
// and never mutated by the fetcher.
type QuerySpec struct {
	// Endpoint is the service base URL, without query parameters.
	Endpoint string

	// Layer is the WFS type name (typeNames parameter).
	Layer string

	// OutputFormat is the response encoding to request.
	// Defaults to application/json (GeoJSON).
	OutputFormat string

	// TargetCRS is the coordinate reference system to request, e.g.
	// "EPSG:25832".
	TargetCRS string

	// BBox restricts results to a bounding box. Its CRS must match
	// TargetCRS.
	BBox *BBox

	// PageSize is the count parameter sent per page request.
	PageSize int

	// Username and Password are optional credentials for protected
	// services, sent as HTTP basic auth on every page request. They must
	// be provided together.
	Username string
	Password string
}

// withDefaults returns a copy with unset optional fields filled in.
func (s QuerySpec) withDefaults() QuerySpec {
	if s.OutputFormat == "" {
		s.OutputFormat = DefaultOutputFormat
	}
	return s
}

// Validate checks the spec before any network call is made. maxPageSize
// protects the remote service and local memory; zero means
// DefaultMaxPageSize.
func (s QuerySpec) Validate(maxPageSize int) error {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}

	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidQuery)
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: endpoint %q is not an absolute URL", ErrInvalidQuery, s.Endpoint)
	}
	if strings.TrimSpace(s.Layer) == "" {
		return fmt.Errorf("%w: layer is required", ErrInvalidQuery)
	}
	if strings.TrimSpace(s.TargetCRS) == "" {
		return fmt.Errorf("%w: target CRS is required", ErrInvalidQuery)
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("%w: page size must be positive (got %d)", ErrInvalidQuery, s.PageSize)
	}
	if s.PageSize > maxPageSize {
		return fmt.Errorf("%w: page size %d exceeds maximum %d", ErrInvalidQuery, s.PageSize, maxPageSize)
	}
	if s.BBox != nil && s.BBox.CRS != s.TargetCRS {
		return fmt.Errorf("%w: bbox CRS %q does not match target CRS %q",
			ErrInvalidQuery, s.BBox.CRS, s.TargetCRS)
	}
	if (s.Username == "") != (s.Password == "") {
		return fmt.Errorf("%w: username and password must be provided together", ErrInvalidQuery)
	}

	return nil
}

// PageRequest is one transport-ready GetFeature request.
type PageRequest struct {
	URL    string
	Layer  string
	Offset int
	Count  int
	Accept string

	// Username and Password, when set, are sent as HTTP basic auth.
	Username string
	Password string
}

// BuildPageRequest constructs the GetFeature request for one page starting
// at the given offset. It has no side effects.
func BuildPageRequest(spec QuerySpec, offset int) PageRequest {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", "2.0.0")
	params.Set("request", "GetFeature")
	params.Set("typeNames", spec.Layer)
	params.Set("srsName", spec.TargetCRS)
	if spec.BBox != nil {
		params.Set("bbox", spec.BBox.String())
	}
	params.Set("outputFormat", spec.OutputFormat)
	params.Set("count", strconv.Itoa(spec.PageSize))
	params.Set("startIndex", strconv.Itoa(offset))

	return PageRequest{
		URL:      strings.TrimRight(spec.Endpoint, "?&") + "?" + params.Encode(),
		Layer:    spec.Layer,
		Offset:   offset,
		Count:    spec.PageSize,
		Accept:   spec.OutputFormat,
		Username: spec.Username,
		Password: spec.Password,
	}
}
