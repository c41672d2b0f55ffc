package wfs

import (
	"strings"
	"testing"
)

func TestFeatureRecord_Identity(t *testing.T) {
	withID := FeatureRecord{ID: "flur.42"}
	if got := withID.Identity(); got != "id:flur.42" {
		t.Errorf("Identity = %q, want id:flur.42", got)
	}

	geom := Geometry{Type: "Point", Coordinates: []byte("[10.1,53.5]")}
	a := FeatureRecord{Geometry: geom, Attributes: []Attribute{strAttr("name", "x")}}
	b := FeatureRecord{Geometry: geom, Attributes: []Attribute{strAttr("name", "x")}}
	c := FeatureRecord{Geometry: geom, Attributes: []Attribute{strAttr("name", "y")}}

	if a.Identity() != b.Identity() {
		t.Error("identical records have different identities")
	}
	if a.Identity() == c.Identity() {
		t.Error("different records share an identity")
	}
	if !strings.HasPrefix(a.Identity(), "x:") {
		t.Errorf("structural identity %q lacks x: prefix", a.Identity())
	}
}

func TestFeatureRecord_IdentityDistinguishesKinds(t *testing.T) {
	// The string "true" and the boolean true must not collide.
	asString := FeatureRecord{Attributes: []Attribute{
		{Name: "flag", Value: Value{Kind: KindString, Str: "true"}},
	}}
	asBool := FeatureRecord{Attributes: []Attribute{
		{Name: "flag", Value: Value{Kind: KindBool, Bool: true}},
	}}
	if asString.Identity() == asBool.Identity() {
		t.Error("string and bool values of same spelling collide")
	}

	asNull := FeatureRecord{Attributes: []Attribute{
		{Name: "flag", Value: Value{Kind: KindNull}},
	}}
	asAbsent := FeatureRecord{Attributes: []Attribute{
		{Name: "flag", Value: Absent},
	}}
	if asNull.Identity() == asAbsent.Identity() {
		t.Error("null and absent collide")
	}
}

func TestFeatureRecord_AttributeLookup(t *testing.T) {
	rec := record("f.1", strAttr("name", "a"), numAttr("area", 12))

	if v, ok := rec.Attribute("area"); !ok || v.Num != 12 {
		t.Errorf("area = %+v, %v", v, ok)
	}
	if _, ok := rec.Attribute("missing"); ok {
		t.Error("lookup of missing attribute succeeded")
	}
}

func TestValueKind_String(t *testing.T) {
	kinds := map[ValueKind]string{
		KindNull:   "null",
		KindAbsent: "absent",
		KindString: "string",
		KindNumber: "number",
		KindBool:   "bool",
		KindJSON:   "json",
	}
	for kind, want := range kinds {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
