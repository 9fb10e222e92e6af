package dedup

import (
	"github.com/vayuaq/vayu/internal/models"
)

// KeySet is the set of composite keys already present in a dataset.
type KeySet map[models.RecordKey]struct{}

// Keys builds the key set for a stored dataset.
func Keys(records []models.Record) KeySet {
	set := make(KeySet, len(records))
	for _, r := range records {
		set[r.Key()] = struct{}{}
	}
	return set
}

// Filter walks candidates once and keeps each record whose composite key is
// not yet in seen, adding the key as it goes so duplicates within the
// candidate batch collapse to their first occurrence. Candidate order is
// preserved. The seen set is mutated.
func Filter(seen KeySet, candidates []models.Record) []models.Record {
	out := make([]models.Record, 0, len(candidates))
	for _, cand := range candidates {
		key := cand.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, cand)
	}
	return out
}
