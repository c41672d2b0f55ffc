package wfs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// MarshalGeoJSON renders the collection as a GeoJSON FeatureCollection.
// Property order follows the schema; Absent fields are omitted from the
// output (they were never part of the record on the wire).
func (c *FeatureCollection) MarshalGeoJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"FeatureCollection"`)

	if c.crs != "" {
		name, err := json.Marshal(c.crs)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, `,"crs":{"type":"name","properties":{"name":%s}}`, name)
	}

	buf.WriteString(`,"features":[`)
	for i, rec := range c.records {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeFeature(&buf, rec); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`]}`)

	return buf.Bytes(), nil
}

func writeFeature(buf *bytes.Buffer, rec FeatureRecord) error {
	buf.WriteString(`{"type":"Feature"`)

	if rec.ID != "" {
		id, err := json.Marshal(rec.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(buf, `,"id":%s`, id)
	}

	if rec.Geometry.Type != "" {
		typ, err := json.Marshal(rec.Geometry.Type)
		if err != nil {
			return err
		}
		fmt.Fprintf(buf, `,"geometry":{"type":%s,"coordinates":%s}`, typ, rec.Geometry.Coordinates)
	} else {
		buf.WriteString(`,"geometry":null`)
	}

	buf.WriteString(`,"properties":{`)
	first := true
	for _, a := range rec.Attributes {
		if a.Value.Kind == KindAbsent {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		name, err := json.Marshal(a.Name)
		if err != nil {
			return err
		}
		buf.Write(name)
		buf.WriteByte(':')
		if err := writeValue(buf, a.Value); err != nil {
			return err
		}
	}
	buf.WriteString(`}}`)

	return nil
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch v.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		s, err := json.Marshal(v.Str)
		if err != nil {
			return err
		}
		buf.Write(s)
	case KindNumber:
		buf.WriteString(strconv.FormatFloat(v.Num, 'g', -1, 64))
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.Bool))
	case KindJSON:
		buf.WriteString(v.Raw)
	default:
		return fmt.Errorf("cannot encode value of kind %s", v.Kind)
	}
	return nil
}
