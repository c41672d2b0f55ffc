package wfs

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lkgis/wfs-fetch/pkg/cache"
)

const sampleCapabilities = `<?xml version="1.0" encoding="UTF-8"?>
<wfs:WFS_Capabilities version="2.0.0"
    xmlns:wfs="http://www.opengis.net/wfs/2.0"
    xmlns:ows="http://www.opengis.net/ows/1.1">
  <ows:OperationsMetadata>
    <ows:Operation name="GetCapabilities"/>
    <ows:Operation name="DescribeFeatureType"/>
    <ows:Operation name="GetFeature"/>
    <ows:Constraint name="CountDefault">
      <ows:NoValues/>
      <ows:DefaultValue>1000000</ows:DefaultValue>
    </ows:Constraint>
  </ows:OperationsMetadata>
  <wfs:FeatureTypeList>
    <wfs:FeatureType>
      <wfs:Name>ave:Flurstueck</wfs:Name>
      <wfs:Title>Flurstücke</wfs:Title>
      <wfs:Abstract>Cadastral parcels</wfs:Abstract>
      <wfs:DefaultCRS>urn:ogc:def:crs:EPSG::25832</wfs:DefaultCRS>
      <ows:WGS84BoundingBox>
        <ows:LowerCorner>9.85 53.39</ows:LowerCorner>
        <ows:UpperCorner>10.33 53.74</ows:UpperCorner>
      </ows:WGS84BoundingBox>
    </wfs:FeatureType>
    <wfs:FeatureType>
      <wfs:Name>ave:Gebaeude</wfs:Name>
      <wfs:Title>Gebäude</wfs:Title>
      <wfs:DefaultCRS>urn:ogc:def:crs:EPSG::25832</wfs:DefaultCRS>
    </wfs:FeatureType>
  </wfs:FeatureTypeList>
</wfs:WFS_Capabilities>`

const sampleSchema = `<?xml version="1.0" encoding="UTF-8"?>
<xsd:schema xmlns:xsd="http://www.w3.org/2001/XMLSchema"
    xmlns:gml="http://www.opengis.net/gml/3.2">
  <xsd:complexType name="FlurstueckType">
    <xsd:complexContent>
      <xsd:extension base="gml:AbstractFeatureType">
        <xsd:sequence>
          <xsd:element name="flurstuecksnummer" type="xsd:string"/>
          <xsd:element name="flaeche" type="xsd:double"/>
          <xsd:element name="aktualitaet" type="xsd:date"/>
          <xsd:element name="erfasst_am" type="xsd:dateTime"/>
          <xsd:element name="geom" type="gml:GeometryPropertyType"/>
        </xsd:sequence>
      </xsd:extension>
    </xsd:complexContent>
  </xsd:complexType>
</xsd:schema>`

func TestCapabilitiesClient_Capabilities(t *testing.T) {
	tr := &scriptTransport{handler: func(call int, req PageRequest) (*RawResponse, error) {
		return &RawResponse{StatusCode: 200, Body: []byte(sampleCapabilities)}, nil
	}}
	client := NewCapabilitiesClient(tr, nil)

	caps, err := client.Capabilities(context.Background(), "https://geodata.example.com/wfs")
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}

	if caps.Version != "2.0.0" {
		t.Errorf("Version = %q, want 2.0.0", caps.Version)
	}
	if caps.MaxFeatures != 1000000 {
		t.Errorf("MaxFeatures = %d, want 1000000", caps.MaxFeatures)
	}
	if len(caps.Operations) != 3 {
		t.Errorf("Operations = %v, want 3 entries", caps.Operations)
	}
	if len(caps.FeatureTypes) != 2 {
		t.Fatalf("FeatureTypes = %d, want 2", len(caps.FeatureTypes))
	}

	ft := caps.FeatureTypes[0]
	if ft.Name != "ave:Flurstueck" {
		t.Errorf("Name = %q", ft.Name)
	}
	if ft.DefaultCRS != "EPSG:25832" {
		t.Errorf("DefaultCRS = %q, want EPSG:25832", ft.DefaultCRS)
	}
	if ft.WGS84BBox == nil {
		t.Fatal("WGS84BBox missing")
	}
	if ft.WGS84BBox.MinX != 9.85 || ft.WGS84BBox.MaxY != 53.74 {
		t.Errorf("WGS84BBox = %+v", ft.WGS84BBox)
	}
}

func TestCapabilities_FeatureTypeLookup(t *testing.T) {
	caps := &Capabilities{FeatureTypes: []FeatureType{
		{Name: "ave:Flurstueck"},
		{Name: "ave:Gebaeude"},
	}}

	tests := []struct {
		query string
		want  string
		found bool
	}{
		{"ave:Flurstueck", "ave:Flurstueck", true},
		{"Flurstueck", "ave:Flurstueck", true},
		{"other:Gebaeude", "ave:Gebaeude", true},
		{"Strasse", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			ft, ok := caps.FeatureType(tt.query)
			if ok != tt.found {
				t.Fatalf("found = %v, want %v", ok, tt.found)
			}
			if ok && ft.Name != tt.want {
				t.Errorf("Name = %q, want %q", ft.Name, tt.want)
			}
		})
	}
}

func TestCapabilitiesClient_DescribeLayer(t *testing.T) {
	tr := &scriptTransport{handler: func(call int, req PageRequest) (*RawResponse, error) {
		return &RawResponse{StatusCode: 200, Body: []byte(sampleSchema)}, nil
	}}
	client := NewCapabilitiesClient(tr, nil)

	schema, err := client.DescribeLayer(context.Background(), "https://geodata.example.com/wfs", "ave:Flurstueck")
	if err != nil {
		t.Fatalf("DescribeLayer: %v", err)
	}

	if len(schema.Fields) != 5 {
		t.Fatalf("Fields = %d, want 5", len(schema.Fields))
	}
	if schema.Fields[0].Name != "flurstuecksnummer" || schema.Fields[0].Type != "xsd:string" {
		t.Errorf("Fields[0] = %+v", schema.Fields[0])
	}

	dates := schema.DateFields()
	if len(dates) != 2 || dates[0] != "aktualitaet" || dates[1] != "erfasst_am" {
		t.Errorf("DateFields = %v, want [aktualitaet erfasst_am]", dates)
	}

	// The parsed schema is memoized; a second call makes no request.
	if _, err := client.DescribeLayer(context.Background(), "https://geodata.example.com/wfs", "ave:Flurstueck"); err != nil {
		t.Fatalf("second DescribeLayer: %v", err)
	}
	if tr.calls != 1 {
		t.Errorf("transport calls = %d, want 1", tr.calls)
	}
}

func TestCapabilitiesClient_DocumentCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tr := &scriptTransport{handler: func(call int, req PageRequest) (*RawResponse, error) {
		return &RawResponse{StatusCode: 200, Body: []byte(sampleCapabilities)}, nil
	}}
	client := NewCapabilitiesClient(tr, cache.NewManager(rdb))
	ctx := context.Background()

	if _, err := client.Capabilities(ctx, "https://geodata.example.com/wfs"); err != nil {
		t.Fatalf("first Capabilities: %v", err)
	}
	if _, err := client.Capabilities(ctx, "https://geodata.example.com/wfs"); err != nil {
		t.Fatalf("second Capabilities: %v", err)
	}
	if tr.calls != 1 {
		t.Errorf("transport calls = %d, want 1 (second call served from cache)", tr.calls)
	}
}

func TestCapabilitiesClient_ServiceError(t *testing.T) {
	body := `<ows:ExceptionReport xmlns:ows="http://www.opengis.net/ows/1.1">` +
		`<ows:Exception exceptionCode="OperationNotSupported">` +
		`<ows:ExceptionText>GetCapabilities disabled</ows:ExceptionText>` +
		`</ows:Exception></ows:ExceptionReport>`
	tr := &scriptTransport{handler: func(call int, req PageRequest) (*RawResponse, error) {
		return &RawResponse{StatusCode: 403, Body: []byte(body)}, nil
	}}
	client := NewCapabilitiesClient(tr, nil)

	_, err := client.Capabilities(context.Background(), "https://geodata.example.com/wfs")
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *ServiceError", err)
	}
	if se.Message != "OperationNotSupported: GetCapabilities disabled" {
		t.Errorf("Message = %q", se.Message)
	}
}

func TestCapabilitiesClient_MalformedDocument(t *testing.T) {
	tr := &scriptTransport{handler: func(call int, req PageRequest) (*RawResponse, error) {
		return &RawResponse{StatusCode: 200, Body: []byte("not xml at all")}, nil
	}}
	client := NewCapabilitiesClient(tr, nil)

	_, err := client.Capabilities(context.Background(), "https://geodata.example.com/wfs")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("error = %v, want ErrMalformedResponse", err)
	}
}
