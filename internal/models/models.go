package models

import (
	"time"
)

// Parameter identifies what a measurement quantifies (e.g. pm25) and its unit.
type Parameter struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Units string `json:"units"`
}

// ParameterKind is the parameter descriptor attached to a sub-source by the
// upstream discovery endpoint. It carries a single unit field rather than the
// measurement payload's "units".
type ParameterKind struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// UTCTimestamp wraps the upstream's nested {"utc": ...} timestamp object.
type UTCTimestamp struct {
	UTC time.Time `json:"utc"`
}

// Period is the measurement interval. From must precede To for a record to
// be considered valid, but the shape is persisted as received.
type Period struct {
	From UTCTimestamp `json:"datetimeFrom"`
	To   UTCTimestamp `json:"datetimeTo"`
}

// SubSource is one sensor belonging to an entity, reporting exactly one
// parameter kind.
type SubSource struct {
	ID        int64         `json:"id"`
	Parameter ParameterKind `json:"parameterKind"`
}

// Record is a single measurement as fetched from upstream and persisted in
// an entity's dataset file.
type Record struct {
	Value       float64   `json:"value"`
	Parameter   Parameter `json:"parameter"`
	Period      Period    `json:"period"`
	EntityID    int64     `json:"entityId"`
	SubSourceID int64     `json:"subSourceId"`
}

// RecordKey is the composite natural key used for deduplication. No two
// records with the same key may ever coexist in an entity's dataset.
type RecordKey struct {
	EntityID    int64
	Parameter   string
	SubSourceID int64
	Start       string
}

// Key derives the record's composite key. The interval start is normalized
// to RFC3339 UTC so identical instants compare equal regardless of how the
// upstream serialized them.
func (r Record) Key() RecordKey {
	return RecordKey{
		EntityID:    r.EntityID,
		Parameter:   r.Parameter.Name,
		SubSourceID: r.SubSourceID,
		Start:       r.Period.From.UTC.UTC().Format(time.RFC3339Nano),
	}
}

// IntervalStart returns the record's interval start in UTC.
func (r Record) IntervalStart() time.Time {
	return r.Period.From.UTC.UTC()
}

// Watermark tracks fetch progress for one entity. A nil LastFetchTime means
// no data has ever been committed and the next cycle fetches full history.
type Watermark struct {
	LastFetchTime     *time.Time `json:"lastFetchTime,omitempty"`
	LastRecordCount   int        `json:"lastRecordCount"`
	LastSuccessfulRun time.Time  `json:"lastSuccessfulRun"`
}
