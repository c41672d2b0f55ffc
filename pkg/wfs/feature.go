package wfs

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ValueKind discriminates the scalar types an attribute can hold.
type ValueKind int

const (
	// KindNull is an explicit JSON null.
	KindNull ValueKind = iota

	// KindAbsent marks a schema field the page did not carry at all.
	// Distinct from null: the service never mentioned the field.
	KindAbsent

	// KindString is a text value.
	KindString

	// KindNumber is a numeric value.
	KindNumber

	// KindBool is a boolean value.
	KindBool

	// KindJSON is a nested object or array kept verbatim.
	KindJSON
)

// String returns the kind name for schema reporting.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Value is one typed attribute scalar.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Raw  string // verbatim text for KindJSON
}

// Absent is the marker stored for schema fields a page omitted.
var Absent = Value{Kind: KindAbsent}

// render returns a canonical text form used for structural hashing.
func (v Value) render() string {
	switch v.Kind {
	case KindNull:
		return "\x00null"
	case KindAbsent:
		return "\x00absent"
	case KindString:
		return "s:" + v.Str
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return "b:" + strconv.FormatBool(v.Bool)
	case KindJSON:
		return "j:" + v.Raw
	default:
		return ""
	}
}

// Attribute is one named attribute of a feature. Order within a record is
// significant and follows the schema.
type Attribute struct {
	Name  string
	Value Value
}

// Geometry is a CRS-tagged geometry value. Coordinates are kept verbatim
// so no precision is lost between decode and re-encode.
type Geometry struct {
	Type        string
	Coordinates json.RawMessage
	CRS         string
}

// FeatureRecord is one geometry plus its named attributes.
type FeatureRecord struct {
	// ID is the service-assigned feature identifier, empty when the
	// service did not assign one.
	ID string

	Geometry   Geometry
	Attributes []Attribute
}

// Identity returns the deduplication key for this record: the service
// feature ID when present, otherwise a structural hash of geometry and
// attributes.
func (r FeatureRecord) Identity() string {
	if r.ID != "" {
		return "id:" + r.ID
	}

	d := xxhash.New()
	_, _ = d.WriteString(r.Geometry.Type)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(r.Geometry.Coordinates)
	for _, a := range r.Attributes {
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(a.Name)
		_, _ = d.Write([]byte{'='})
		_, _ = d.WriteString(a.Value.render())
	}
	return fmt.Sprintf("x:%016x", d.Sum64())
}

// Attribute returns the value for name and whether the record carries it.
func (r FeatureRecord) Attribute(name string) (Value, bool) {
	for _, a := range r.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return Value{}, false
}
