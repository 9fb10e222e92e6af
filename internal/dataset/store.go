// Package dataset persists per-entity measurement datasets as append-only
// collections committed atomically.
package dataset

import (
	"context"
	"time"

	"github.com/vayuaq/vayu/internal/models"
)

// AppendResult describes the outcome of one committed merge.
type AppendResult struct {
	// Appended is the number of records added by this merge.
	Appended int
	// Total is the dataset size after the merge.
	Total int
	// MaxIntervalStart is the latest interval start among the appended
	// records, nil when nothing was appended. It is the candidate next
	// watermark for the entity.
	MaxIntervalStart *time.Time
}

// Store is a durable per-entity record collection. Implementations must
// commit merges atomically: a reader never observes a partial dataset and a
// failed merge leaves the previous dataset intact.
type Store interface {
	// Load returns the entity's stored records in append order, empty when
	// no dataset exists yet.
	Load(ctx context.Context, entityID int64) ([]models.Record, error)
	// Merge commits existing ++ fresh as the entity's new dataset.
	Merge(ctx context.Context, entityID int64, existing, fresh []models.Record) (AppendResult, error)
}

func appendResult(existing, fresh []models.Record) AppendResult {
	res := AppendResult{Appended: len(fresh), Total: len(existing) + len(fresh)}
	for _, r := range fresh {
		start := r.IntervalStart()
		if res.MaxIntervalStart == nil || start.After(*res.MaxIntervalStart) {
			res.MaxIntervalStart = &start
		}
	}
	return res
}
