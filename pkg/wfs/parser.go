package wfs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Page is one decoded batch of features. It is produced by ParsePage,
// consumed once by the fetch loop, and not retained after assembly.
type Page struct {
	Records     []FeatureRecord
	ReportedCRS string
	HasMore     bool
	PageIndex   int

	// Matched is the service-reported total match count, -1 when the
	// service did not report one (or reported "unknown").
	Matched int
}

// Fingerprint hashes the page structure for the stagnation guard. Two
// pages with the same records in the same order collide, whatever offset
// they were served at.
func (p *Page) Fingerprint() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.Itoa(len(p.Records)))
	for _, r := range p.Records {
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(r.Identity())
	}
	return d.Sum64()
}

// geometryTypes the collection can represent.
var supportedGeometries = map[string]bool{
	"Point":              true,
	"MultiPoint":         true,
	"LineString":         true,
	"MultiLineString":    true,
	"Polygon":            true,
	"MultiPolygon":       true,
	"GeometryCollection": true,
}

type pageEnvelope struct {
	Type           string            `json:"type"`
	CRS            *crsMember        `json:"crs"`
	NumberMatched  json.RawMessage   `json:"numberMatched"`
	NumberReturned *int              `json:"numberReturned"`
	Features       []json.RawMessage `json:"features"`
}

type crsMember struct {
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type featureEnvelope struct {
	ID         json.RawMessage   `json:"id"`
	Geometry   *geometryEnvelope `json:"geometry"`
	Properties json.RawMessage   `json:"properties"`
}

type geometryEnvelope struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ParsePage decodes one raw GeoJSON response into a Page. It is a pure
// decode with no side effects. offset is the startIndex the page was
// requested at and feeds the hasMore derivation.
func ParsePage(body []byte, spec QuerySpec, pageIndex, offset int) (*Page, error) {
	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: document type %q is not a FeatureCollection", ErrMalformedResponse, env.Type)
	}

	// RFC 7946 dropped the crs member; services that omit it answered in
	// the CRS we asked for.
	crs := spec.TargetCRS
	if env.CRS != nil && env.CRS.Properties.Name != "" {
		crs = NormalizeCRS(env.CRS.Properties.Name)
	}

	records := make([]FeatureRecord, 0, len(env.Features))
	for i, raw := range env.Features {
		rec, err := parseFeature(raw, crs)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		records = append(records, rec)
	}

	matched := parseNumberMatched(env.NumberMatched)

	var hasMore bool
	switch {
	case matched >= 0:
		hasMore = offset+len(records) < matched
	case len(records) == 0:
		hasMore = false
	default:
		// No total reported: a full page may be followed by more, a
		// short page signals the end.
		hasMore = len(records) == spec.PageSize
	}

	return &Page{
		Records:     records,
		ReportedCRS: crs,
		HasMore:     hasMore,
		PageIndex:   pageIndex,
		Matched:     matched,
	}, nil
}

func parseFeature(raw json.RawMessage, crs string) (FeatureRecord, error) {
	var env featureEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return FeatureRecord{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	rec := FeatureRecord{ID: decodeFeatureID(env.ID)}

	if env.Geometry != nil {
		if !supportedGeometries[env.Geometry.Type] {
			return FeatureRecord{}, fmt.Errorf("%w: %q", ErrUnsupportedGeometry, env.Geometry.Type)
		}
		rec.Geometry = Geometry{
			Type:        env.Geometry.Type,
			Coordinates: env.Geometry.Coordinates,
			CRS:         crs,
		}
	}

	attrs, err := decodeOrderedProperties(env.Properties)
	if err != nil {
		return FeatureRecord{}, err
	}
	rec.Attributes = attrs

	return rec, nil
}

// decodeFeatureID accepts string and numeric feature ids.
func decodeFeatureID(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// decodeOrderedProperties walks the properties object token by token so
// field order survives the decode. encoding/json maps would lose it, and
// the schema is an ordered field set.
func decodeOrderedProperties(raw json.RawMessage) ([]Attribute, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: properties: %v", ErrMalformedResponse, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: properties is not an object", ErrMalformedResponse)
	}

	var attrs []Attribute
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: properties: %v", ErrMalformedResponse, err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: properties key is not a string", ErrMalformedResponse)
		}

		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("%w: properties[%s]: %v", ErrMalformedResponse, name, err)
		}

		attrs = append(attrs, Attribute{Name: name, Value: decodeScalar(val)})
	}

	return attrs, nil
}

func decodeScalar(raw json.RawMessage) Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Value{Kind: KindNull}
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return Value{Kind: KindString, Str: s}
		}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return Value{Kind: KindBool, Bool: b}
		}
	case '{', '[':
		return Value{Kind: KindJSON, Raw: string(raw)}
	default:
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return Value{Kind: KindNumber, Num: n}
		}
	}
	// Unparseable scalar, keep it verbatim rather than dropping it.
	return Value{Kind: KindJSON, Raw: string(raw)}
}

// parseNumberMatched handles the WFS 2.0 quirk that numberMatched may be
// the literal string "unknown". Returns -1 when no usable total exists.
func parseNumberMatched(raw json.RawMessage) int {
	if len(raw) == 0 {
		return -1
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil && n >= 0 {
		return n
	}
	return -1
}

// NormalizeCRS maps the spellings services use for a coordinate reference
// system onto the compact authority:code form, so
// "urn:ogc:def:crs:EPSG::25832" and "EPSG:25832" compare equal.
func NormalizeCRS(name string) string {
	trimmed := strings.TrimSpace(name)
	upper := strings.ToUpper(trimmed)

	if idx := strings.Index(upper, "EPSG"); idx >= 0 {
		rest := trimmed[idx:]
		// Take the trailing numeric code after the last separator.
		for i := len(rest) - 1; i >= 0; i-- {
			c := rest[i]
			if c >= '0' && c <= '9' {
				continue
			}
			if code := rest[i+1:]; code != "" {
				return "EPSG:" + code
			}
			break
		}
	}
	return trimmed
}
