// Package stamp tags fetched collections with run provenance: a run UUID
// and the retrieval timestamp, appended as attributes on every record.
// Downstream jobs use the timestamp column to tell fetch runs apart.
package stamp

import (
	"time"

	"github.com/google/uuid"

	"github.com/lkgis/wfs-fetch/pkg/wfs"
)

// Attribute names added to stamped collections.
const (
	FieldRunID     = "run_id"
	FieldFetchedAt = "fetched_at"
)

// Stamp identifies one fetch run.
type Stamp struct {
	RunID     uuid.UUID
	FetchedAt time.Time
}

// New creates a stamp for a run starting now.
func New() Stamp {
	return Stamp{
		RunID:     uuid.New(),
		FetchedAt: time.Now().UTC(),
	}
}

// Apply appends the run attributes to every record in the collection.
// It fails if the collection already carries either field.
func (s Stamp) Apply(c *wfs.FeatureCollection) error {
	if err := c.AddAttribute(FieldRunID, wfs.Value{Kind: wfs.KindString, Str: s.RunID.String()}); err != nil {
		return err
	}
	return c.AddAttribute(FieldFetchedAt, wfs.Value{
		Kind: wfs.KindString,
		Str:  s.FetchedAt.Format(time.RFC3339),
	})
}
