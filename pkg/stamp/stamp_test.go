package stamp

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lkgis/wfs-fetch/pkg/wfs"
)

func testCollection(t *testing.T) *wfs.FeatureCollection {
	t.Helper()

	body := []byte(`{
		"type": "FeatureCollection",
		"crs": {"type": "name", "properties": {"name": "EPSG:25832"}},
		"features": [
			{"type": "Feature", "id": "f.1", "properties": {"name": "a"}},
			{"type": "Feature", "id": "f.2", "properties": {"name": "b"}}
		]
	}`)
	page, err := wfs.ParsePage(body, wfs.QuerySpec{TargetCRS: "EPSG:25832", PageSize: 10}, 0, 0)
	if err != nil {
		t.Fatalf("ParsePage: %v", err)
	}

	c := wfs.NewFeatureCollection()
	if err := c.Fold(page); err != nil {
		t.Fatalf("Fold: %v", err)
	}
	return c
}

func TestNew(t *testing.T) {
	a := New()
	b := New()

	if a.RunID == uuid.Nil {
		t.Error("RunID is the nil UUID")
	}
	if a.RunID == b.RunID {
		t.Error("two stamps share a RunID")
	}
	if a.FetchedAt.Location() != time.UTC {
		t.Errorf("FetchedAt zone = %v, want UTC", a.FetchedAt.Location())
	}
}

func TestStamp_Apply(t *testing.T) {
	c := testCollection(t)
	s := New()

	if err := s.Apply(c); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	for _, rec := range c.Records() {
		runID, ok := rec.Attribute(FieldRunID)
		if !ok || runID.Str != s.RunID.String() {
			t.Errorf("record %s run_id = %+v", rec.ID, runID)
		}

		fetchedAt, ok := rec.Attribute(FieldFetchedAt)
		if !ok {
			t.Fatalf("record %s missing fetched_at", rec.ID)
		}
		parsed, err := time.Parse(time.RFC3339, fetchedAt.Str)
		if err != nil {
			t.Errorf("fetched_at %q is not RFC3339: %v", fetchedAt.Str, err)
		}
		if !parsed.Equal(s.FetchedAt.Truncate(time.Second)) {
			t.Errorf("fetched_at = %v, want %v", parsed, s.FetchedAt)
		}
	}

	// The stamp fields become part of the schema.
	schema := c.Schema()
	tail := schema[len(schema)-2:]
	if tail[0].Name != FieldRunID || tail[1].Name != FieldFetchedAt {
		t.Errorf("schema tail = %+v", tail)
	}
}

func TestStamp_ApplyTwiceFails(t *testing.T) {
	c := testCollection(t)

	if err := New().Apply(c); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if err := New().Apply(c); err == nil {
		t.Error("second Apply succeeded, want duplicate field error")
	}
}
