package wfs

import (
	"fmt"
)

// Field is one schema entry: an attribute name plus the scalar kind
// observed on the page that established the schema.
type Field struct {
	Name string
	Kind ValueKind
}

// FeatureCollection is the assembled result of a fetch. The CRS is pinned
// by the first page, the schema by the first non-empty page, and records
// are unique by identity with insertion order preserved.
//
// A collection is owned by a single fetch while it is being built and by
// the caller once returned; it is not safe for concurrent mutation.
type FeatureCollection struct {
	crs        string
	crsPinned  bool
	schema     []Field
	haveSchema bool

	records    []FeatureRecord
	byIdentity map[string]int
	merged     int
}

// NewFeatureCollection returns an empty collection.
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{byIdentity: make(map[string]int)}
}

// CRS returns the collection CRS, empty until the first page is folded.
func (c *FeatureCollection) CRS() string { return c.crs }

// Len returns the number of unique records.
func (c *FeatureCollection) Len() int { return len(c.records) }

// Merged returns how many identity collisions were silently folded.
func (c *FeatureCollection) Merged() int { return c.merged }

// Schema returns a copy of the established field set in order.
func (c *FeatureCollection) Schema() []Field {
	out := make([]Field, len(c.schema))
	copy(out, c.schema)
	return out
}

// Records returns the records in insertion order. The slice is shared;
// callers must not grow it.
func (c *FeatureCollection) Records() []FeatureRecord { return c.records }

// Fold applies one accepted page to the collection:
//
//   - the CRS is set from the first page and every later page must match;
//   - the schema is derived from the first non-empty page, later pages may
//     omit fields (filled with Absent) but never introduce or retype them;
//   - records already present by identity are merged silently.
func (c *FeatureCollection) Fold(p *Page) error {
	if !c.crsPinned {
		c.crs = p.ReportedCRS
		c.crsPinned = true
	} else if p.ReportedCRS != c.crs {
		return fmt.Errorf("%w: page %d reports %q, collection is pinned to %q",
			ErrCRSMismatch, p.PageIndex, p.ReportedCRS, c.crs)
	}

	if !c.haveSchema && len(p.Records) > 0 {
		c.schema = deriveSchema(p.Records)
		c.haveSchema = true
	}

	for _, rec := range p.Records {
		conformed, err := c.conform(rec, p.PageIndex)
		if err != nil {
			return err
		}
		id := conformed.Identity()
		if _, dup := c.byIdentity[id]; dup {
			c.merged++
			continue
		}
		c.byIdentity[id] = len(c.records)
		c.records = append(c.records, conformed)
	}

	return nil
}

// AddAttribute appends a field to the schema and sets its value on every
// record. Used for provenance stamping after a completed fetch.
func (c *FeatureCollection) AddAttribute(name string, v Value) error {
	for _, f := range c.schema {
		if f.Name == name {
			return fmt.Errorf("attribute %q already exists in schema", name)
		}
	}
	c.schema = append(c.schema, Field{Name: name, Kind: v.Kind})
	c.haveSchema = true
	for i := range c.records {
		c.records[i].Attributes = append(c.records[i].Attributes, Attribute{Name: name, Value: v})
	}
	return nil
}

// deriveSchema unions the fields of a page's records in first-seen order.
func deriveSchema(records []FeatureRecord) []Field {
	var schema []Field
	seen := make(map[string]int)
	for _, rec := range records {
		for _, a := range rec.Attributes {
			if idx, ok := seen[a.Name]; ok {
				// A null on the defining page must not mask the type a
				// sibling record shows.
				if schema[idx].Kind == KindNull && a.Value.Kind != KindNull {
					schema[idx].Kind = a.Value.Kind
				}
				continue
			}
			seen[a.Name] = len(schema)
			schema = append(schema, Field{Name: a.Name, Kind: a.Value.Kind})
		}
	}
	return schema
}

// conform validates a record against the schema and rewrites its
// attributes into schema order, filling omitted fields with Absent.
func (c *FeatureCollection) conform(rec FeatureRecord, pageIndex int) (FeatureRecord, error) {
	if !c.haveSchema {
		return rec, nil
	}

	index := make(map[string]int, len(c.schema))
	for i, f := range c.schema {
		index[f.Name] = i
	}

	values := make([]Value, len(c.schema))
	for i := range values {
		values[i] = Absent
	}

	for _, a := range rec.Attributes {
		idx, ok := index[a.Name]
		if !ok {
			return FeatureRecord{}, fmt.Errorf("%w: page %d introduces field %q",
				ErrSchemaDrift, pageIndex, a.Name)
		}
		want := c.schema[idx].Kind
		got := a.Value.Kind
		if got != want && got != KindNull && want != KindNull {
			return FeatureRecord{}, fmt.Errorf("%w: page %d field %q changed type from %s to %s",
				ErrSchemaDrift, pageIndex, a.Name, want, got)
		}
		values[idx] = a.Value
	}

	attrs := make([]Attribute, len(c.schema))
	for i, f := range c.schema {
		attrs[i] = Attribute{Name: f.Name, Value: values[i]}
	}
	rec.Attributes = attrs
	return rec, nil
}
