package wfs

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lkgis/wfs-fetch/pkg/cache"
)

// Capabilities summarizes a GetCapabilities document.
type Capabilities struct {
	Version      string
	FeatureTypes []FeatureType
	Operations   []string

	// MaxFeatures is the service's CountDefault constraint, 0 when the
	// service does not advertise one.
	MaxFeatures int
}

// FeatureType describes one layer the service offers.
type FeatureType struct {
	Name       string
	Title      string
	Abstract   string
	DefaultCRS string
	WGS84BBox  *BBox
}

// FeatureType returns the entry whose name matches, ignoring any
// namespace prefix, and whether it was found.
func (c *Capabilities) FeatureType(name string) (FeatureType, bool) {
	short := name[strings.LastIndex(name, ":")+1:]
	for _, ft := range c.FeatureTypes {
		if ft.Name == name || ft.Name[strings.LastIndex(ft.Name, ":")+1:] == short {
			return ft, true
		}
	}
	return FeatureType{}, false
}

// LayerSchema is the declared field set of one feature type, from
// DescribeFeatureType.
type LayerSchema struct {
	Fields []LayerField
}

// LayerField is one declared field with its XML schema type.
type LayerField struct {
	Name string
	Type string
}

// DateFields returns the names of date- and timestamp-typed fields, the
// ones a consumer typically needs to coerce.
func (s LayerSchema) DateFields() []string {
	var out []string
	for _, f := range s.Fields {
		if strings.Contains(strings.ToLower(f.Type), "date") {
			out = append(out, f.Name)
		}
	}
	return out
}

// CapabilitiesClient retrieves WFS service metadata: the capabilities
// document and per-layer schema descriptions. Raw documents may be cached
// in a document cache; parsed layer schemas are memoized in-process.
type CapabilitiesClient struct {
	transport Transport
	docs      *cache.Manager
	docTTL    time.Duration
	schemas   *lru.Cache[string, LayerSchema]
	logger    zerolog.Logger
}

// NewCapabilitiesClient creates a metadata client. docs may be nil to
// disable document caching.
func NewCapabilitiesClient(transport Transport, docs *cache.Manager) *CapabilitiesClient {
	if transport == nil {
		transport = NewHTTPTransport(30*time.Second, "")
	}
	schemas, _ := lru.New[string, LayerSchema](128)
	return &CapabilitiesClient{
		transport: transport,
		docs:      docs,
		docTTL:    1 * time.Hour,
		schemas:   schemas,
		logger:    log.With().Str("component", "wfs-capabilities").Logger(),
	}
}

// Capabilities fetches and parses the service's GetCapabilities document.
func (c *CapabilitiesClient) Capabilities(ctx context.Context, endpoint string) (*Capabilities, error) {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("request", "GetCapabilities")

	body, err := c.document(ctx, endpoint, params, "capabilities", "")
	if err != nil {
		return nil, err
	}

	var doc capabilitiesDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: capabilities: %v", ErrMalformedResponse, err)
	}

	caps := &Capabilities{Version: doc.Version}
	for _, op := range doc.Operations {
		caps.Operations = append(caps.Operations, op.Name)
	}
	for _, con := range doc.Constraints {
		if con.Name == "CountDefault" && con.DefaultValue != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(con.DefaultValue)); err == nil {
				caps.MaxFeatures = n
			}
		}
	}
	for _, ft := range doc.FeatureTypes {
		entry := FeatureType{
			Name:       strings.TrimSpace(ft.Name),
			Title:      strings.TrimSpace(ft.Title),
			Abstract:   strings.TrimSpace(ft.Abstract),
			DefaultCRS: NormalizeCRS(ft.DefaultCRS),
		}
		if ft.WGS84BoundingBox != nil {
			if bbox, ok := parseCorners(ft.WGS84BoundingBox.LowerCorner, ft.WGS84BoundingBox.UpperCorner); ok {
				entry.WGS84BBox = bbox
			}
		}
		caps.FeatureTypes = append(caps.FeatureTypes, entry)
	}

	return caps, nil
}

// DescribeLayer fetches and parses the DescribeFeatureType document for
// one layer. Results are memoized per endpoint and layer.
func (c *CapabilitiesClient) DescribeLayer(ctx context.Context, endpoint, layer string) (LayerSchema, error) {
	memoKey := endpoint + "|" + layer
	if schema, ok := c.schemas.Get(memoKey); ok {
		return schema, nil
	}

	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", "2.0.0")
	params.Set("request", "DescribeFeatureType")
	params.Set("typeNames", layer)

	body, err := c.document(ctx, endpoint, params, "describe", layer)
	if err != nil {
		return LayerSchema{}, err
	}

	var doc schemaDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return LayerSchema{}, fmt.Errorf("%w: feature type description: %v", ErrMalformedResponse, err)
	}

	schema := LayerSchema{}
	for _, el := range doc.elements() {
		if el.Name == "" {
			continue
		}
		schema.Fields = append(schema.Fields, LayerField{Name: el.Name, Type: el.Type})
	}

	c.schemas.Add(memoKey, schema)
	return schema, nil
}

// document fetches a metadata document, going through the document cache
// when one is configured. Cache failures degrade to a direct fetch.
func (c *CapabilitiesClient) document(ctx context.Context, endpoint string, params url.Values, kind, layer string) ([]byte, error) {
	key := cache.DocumentKey{Endpoint: endpoint, Request: kind, Layer: layer}

	if c.docs != nil {
		entry, err := c.docs.Get(ctx, key)
		if err == nil {
			c.logger.Debug().Str("key", key.String()).Msg("Metadata document served from cache")
			return entry.Data, nil
		}
		if err != cache.ErrCacheMiss {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Document cache get error")
		}
	}

	req := PageRequest{
		URL:   strings.TrimRight(endpoint, "?&") + "?" + params.Encode(),
		Layer: layer,
	}
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s document: %w", kind, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    serviceErrorMessage(resp),
		}
	}

	if c.docs != nil {
		now := time.Now()
		entry := &cache.Entry{Data: resp.Body, FetchedAt: now, Expires: now.Add(c.docTTL)}
		if err := c.docs.Set(ctx, key, entry); err != nil {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Document cache set error")
		}
	}

	return resp.Body, nil
}

func parseCorners(lower, upper string) (*BBox, bool) {
	lo := strings.Fields(lower)
	up := strings.Fields(upper)
	if len(lo) < 2 || len(up) < 2 {
		return nil, false
	}
	minX, err1 := strconv.ParseFloat(lo[0], 64)
	minY, err2 := strconv.ParseFloat(lo[1], 64)
	maxX, err3 := strconv.ParseFloat(up[0], 64)
	maxY, err4 := strconv.ParseFloat(up[1], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return nil, false
	}
	return &BBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY, CRS: "EPSG:4326"}, true
}

// XML document shapes. Field tags match local names, so the decode works
// across the ows/wfs namespace prefixes different servers emit.

type capabilitiesDoc struct {
	XMLName      xml.Name         `xml:"WFS_Capabilities"`
	Version      string           `xml:"version,attr"`
	FeatureTypes []featureTypeDoc `xml:"FeatureTypeList>FeatureType"`
	Operations   []operationDoc   `xml:"OperationsMetadata>Operation"`
	Constraints  []constraintDoc  `xml:"OperationsMetadata>Constraint"`
}

type featureTypeDoc struct {
	Name             string     `xml:"Name"`
	Title            string     `xml:"Title"`
	Abstract         string     `xml:"Abstract"`
	DefaultCRS       string     `xml:"DefaultCRS"`
	WGS84BoundingBox *cornerDoc `xml:"WGS84BoundingBox"`
}

type cornerDoc struct {
	LowerCorner string `xml:"LowerCorner"`
	UpperCorner string `xml:"UpperCorner"`
}

type operationDoc struct {
	Name string `xml:"name,attr"`
}

type constraintDoc struct {
	Name         string `xml:"name,attr"`
	DefaultValue string `xml:"DefaultValue"`
}

type schemaDoc struct {
	XMLName xml.Name `xml:"schema"`
	// GeoServer nests element declarations under an extension sequence;
	// other servers put them directly in the complexType sequence.
	Extended []schemaElement `xml:"complexType>complexContent>extension>sequence>element"`
	Direct   []schemaElement `xml:"complexType>sequence>element"`
}

func (d schemaDoc) elements() []schemaElement {
	if len(d.Extended) > 0 {
		return d.Extended
	}
	return d.Direct
}

type schemaElement struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

// exceptionReport is the OWS error document services return instead of
// data when a request fails.
type exceptionReport struct {
	XMLName    xml.Name `xml:"ExceptionReport"`
	Exceptions []struct {
		ExceptionCode string   `xml:"exceptionCode,attr"`
		ExceptionText []string `xml:"ExceptionText"`
	} `xml:"Exception"`
}

// serviceErrorMessage extracts a human-readable message from an error
// response, preferring the OWS exception report over the bare status.
func serviceErrorMessage(resp *RawResponse) string {
	var report exceptionReport
	if err := xml.Unmarshal(resp.Body, &report); err == nil && len(report.Exceptions) > 0 {
		exc := report.Exceptions[0]
		msg := exc.ExceptionCode
		if len(exc.ExceptionText) > 0 {
			if msg != "" {
				msg += ": "
			}
			msg += strings.Join(exc.ExceptionText, " | ")
		}
		if msg != "" {
			return msg
		}
	}
	return http.StatusText(resp.StatusCode)
}
