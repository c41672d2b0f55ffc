package wfs

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestMarshalGeoJSON(t *testing.T) {
	c := NewFeatureCollection()
	body := []byte(`{
		"type": "FeatureCollection",
		"crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::25832"}},
		"numberMatched": 2,
		"features": [
			{"type": "Feature", "id": "f.1", "geometry": {"type": "Point", "coordinates": [548123.45, 5931000.1]},
			 "properties": {"name": "a", "area": 10.5, "valid": true, "note": null}},
			{"type": "Feature", "id": "f.2", "geometry": null,
			 "properties": {"name": "b"}}
		]
	}`)
	page, err := ParsePage(body, validSpec(), 0, 0)
	if err != nil {
		t.Fatalf("ParsePage: %v", err)
	}
	if err := c.Fold(page); err != nil {
		t.Fatalf("Fold: %v", err)
	}

	out, err := c.MarshalGeoJSON()
	if err != nil {
		t.Fatalf("MarshalGeoJSON: %v", err)
	}

	// The output must itself parse as a page with identical content.
	reparsed, err := ParsePage(out, validSpec(), 0, 0)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if len(reparsed.Records) != 2 {
		t.Fatalf("re-parsed records = %d, want 2", len(reparsed.Records))
	}
	if reparsed.ReportedCRS != "EPSG:25832" {
		t.Errorf("re-parsed CRS = %q, want EPSG:25832", reparsed.ReportedCRS)
	}

	rec := reparsed.Records[0]
	if v, _ := rec.Attribute("area"); v.Kind != KindNumber || v.Num != 10.5 {
		t.Errorf("area = %+v", v)
	}
	if v, _ := rec.Attribute("valid"); v.Kind != KindBool || !v.Bool {
		t.Errorf("valid = %+v", v)
	}
	if v, _ := rec.Attribute("note"); v.Kind != KindNull {
		t.Errorf("note = %+v, want explicit null", v)
	}

	// Coordinates are carried verbatim, no float reformatting.
	if !bytes.Contains(out, []byte("[548123.45, 5931000.1]")) {
		t.Error("coordinates were not preserved verbatim")
	}
}

func TestMarshalGeoJSON_OmitsAbsent(t *testing.T) {
	c := NewFeatureCollection()
	if err := c.Fold(page(0, "EPSG:25832",
		record("f.1", strAttr("name", "a"), numAttr("area", 1)),
	)); err != nil {
		t.Fatalf("page 0: %v", err)
	}
	// f.2 never carried area; the marker must not leak into the output.
	if err := c.Fold(page(1, "EPSG:25832",
		record("f.2", strAttr("name", "b")),
	)); err != nil {
		t.Fatalf("page 1: %v", err)
	}

	out, err := c.MarshalGeoJSON()
	if err != nil {
		t.Fatalf("MarshalGeoJSON: %v", err)
	}

	var doc struct {
		Features []struct {
			ID         string                     `json:"id"`
			Properties map[string]json.RawMessage `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	if len(doc.Features) != 2 {
		t.Fatalf("features = %d, want 2", len(doc.Features))
	}
	if _, ok := doc.Features[0].Properties["area"]; !ok {
		t.Error("f.1 lost its area property")
	}
	if _, ok := doc.Features[1].Properties["area"]; ok {
		t.Error("absent field emitted for f.2")
	}
}

func TestMarshalGeoJSON_PropertyOrderFollowsSchema(t *testing.T) {
	c := NewFeatureCollection()
	body := []byte(`{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "id": "f.1", "properties": {"zeta": 1, "alpha": 2}}
		]
	}`)
	p, err := ParsePage(body, validSpec(), 0, 0)
	if err != nil {
		t.Fatalf("ParsePage: %v", err)
	}
	if err := c.Fold(p); err != nil {
		t.Fatalf("Fold: %v", err)
	}

	out, err := c.MarshalGeoJSON()
	if err != nil {
		t.Fatalf("MarshalGeoJSON: %v", err)
	}
	zeta := bytes.Index(out, []byte(`"zeta"`))
	alpha := bytes.Index(out, []byte(`"alpha"`))
	if zeta < 0 || alpha < 0 || zeta > alpha {
		t.Errorf("property order lost: zeta at %d, alpha at %d", zeta, alpha)
	}
}

func TestMarshalGeoJSON_Empty(t *testing.T) {
	c := NewFeatureCollection()
	out, err := c.MarshalGeoJSON()
	if err != nil {
		t.Fatalf("MarshalGeoJSON: %v", err)
	}
	want := `{"type":"FeatureCollection","features":[]}`
	if string(out) != want {
		t.Errorf("output = %s, want %s", out, want)
	}
}
