// Package pipeline composes the watermark store, upstream client,
// deduplicator, validator and dataset store into per-entity ingestion
// cycles and aggregates a run summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vayuaq/vayu/internal/dataset"
	"github.com/vayuaq/vayu/internal/dedup"
	"github.com/vayuaq/vayu/internal/metrics"
	"github.com/vayuaq/vayu/internal/models"
	"github.com/vayuaq/vayu/internal/openaq"
	"github.com/vayuaq/vayu/internal/state"
	"github.com/vayuaq/vayu/internal/validate"
)

// ErrTotalFetchFailure reports that every sub-source of an entity failed to
// fetch. Partial failures are tolerated; a total failure fails the entity.
var ErrTotalFetchFailure = errors.New("all sub-sources failed to fetch")

// State names one step of the per-entity ingestion cycle.
type State string

const (
	StateIdle               State = "idle"
	StateLoadingWatermark   State = "loading_watermark"
	StateDiscovering        State = "discovering"
	StateFetching           State = "fetching"
	StateDeduplicating      State = "deduplicating"
	StateValidating         State = "validating"
	StateWriting            State = "writing"
	StateAdvancingWatermark State = "advancing_watermark"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// EntityResult reports one entity's cycle outcome.
type EntityResult struct {
	EntityID          int64           `json:"entityId"`
	Success           bool            `json:"success"`
	FailedAt          State           `json:"failedAt,omitempty"`
	Error             string          `json:"error,omitempty"`
	NewRecords        int             `json:"newRecords"`
	TotalRecords      int             `json:"totalRecords"`
	DuplicatesRemoved int             `json:"duplicatesRemoved"`
	MalformedDropped  int             `json:"malformedDropped"`
	SubSourceErrors   []string        `json:"subSourceErrors,omitempty"`
	Quality           validate.Report `json:"quality"`
	Elapsed           time.Duration   `json:"elapsed"`
}

// RunSummary aggregates one invocation over all configured entities. It is
// always returned, even under partial failure; callers (alerting, exit
// codes) decide what to do with it.
type RunSummary struct {
	RunID              string         `json:"runId"`
	StartedAt          time.Time      `json:"startedAt"`
	Elapsed            time.Duration  `json:"elapsed"`
	TotalNewRecords    int            `json:"totalNewRecords"`
	SuccessfulEntities int            `json:"successfulEntities"`
	FailedEntities     int            `json:"failedEntities"`
	Entities           []EntityResult `json:"entities"`
}

// Orchestrator drives ingestion cycles. It is the only writer of watermarks
// and datasets during a run; entities are processed strictly sequentially.
type Orchestrator struct {
	upstream  openaq.Client
	datasets  dataset.Store
	marks     *state.Store
	validator *validate.Validator
	log       zerolog.Logger
	dryRun    bool
	now       func() time.Time
}

// New builds an orchestrator.
func New(upstream openaq.Client, datasets dataset.Store, marks *state.Store, validator *validate.Validator, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		upstream:  upstream,
		datasets:  datasets,
		marks:     marks,
		validator: validator,
		log:       log,
		now:       time.Now,
	}
}

// SetDryRun makes cycles stop short of writing datasets or watermarks.
func (o *Orchestrator) SetDryRun(dryRun bool) {
	o.dryRun = dryRun
}

// Run processes every entity sequentially and returns the aggregate
// summary. One entity's failure never prevents processing the others.
// Cancellation is honored at the entity boundary: the entity currently
// being processed finishes, later entities are not started.
func (o *Orchestrator) Run(ctx context.Context, entityIDs []int64) RunSummary {
	summary := RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: o.now().UTC(),
	}
	log := o.log.With().Str("run_id", summary.RunID).Logger()
	log.Info().Int("entities", len(entityIDs)).Bool("dry_run", o.dryRun).Msg("starting ingestion run")

	for _, entityID := range entityIDs {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Int64("entity", entityID).Msg("run cancelled, remaining entities not started")
			break
		}

		res := o.runEntity(ctx, log, entityID)
		summary.Entities = append(summary.Entities, res)
		if res.Success {
			summary.SuccessfulEntities++
			summary.TotalNewRecords += res.NewRecords
		} else {
			summary.FailedEntities++
			metrics.EntityFailuresTotal.Inc()
		}
	}

	summary.Elapsed = o.now().UTC().Sub(summary.StartedAt)
	log.Info().
		Int("total_new_records", summary.TotalNewRecords).
		Int("successful", summary.SuccessfulEntities).
		Int("failed", summary.FailedEntities).
		Dur("elapsed", summary.Elapsed).
		Msg("ingestion run finished")
	return summary
}

func (o *Orchestrator) runEntity(ctx context.Context, log zerolog.Logger, entityID int64) EntityResult {
	started := o.now()
	res := EntityResult{EntityID: entityID}
	elog := log.With().Int64("entity", entityID).Logger()

	fail := func(at State, err error) EntityResult {
		res.Success = false
		res.FailedAt = at
		res.Error = err.Error()
		res.Elapsed = o.now().Sub(started)
		elog.Error().Err(err).Str("state", string(at)).Msg("entity cycle failed")
		return res
	}

	// loading_watermark: absence is a valid value, never an error.
	var since *time.Time
	mark, hasMark := o.marks.Get(entityID)
	if hasMark {
		since = mark.LastFetchTime
	}

	// discovering
	subSources, err := o.upstream.DiscoverSubSources(ctx, entityID)
	if err != nil {
		return fail(StateDiscovering, err)
	}
	elog.Info().Int("sub_sources", len(subSources)).Msg("discovered sub-sources")

	// fetching: one sub-source failing must not abort the others.
	var candidates []models.Record
	succeeded := 0
	for _, sub := range subSources {
		fetched, err := o.upstream.FetchSince(ctx, sub.ID, since)
		res.MalformedDropped += fetched.Malformed
		if err != nil {
			res.SubSourceErrors = append(res.SubSourceErrors, fmt.Sprintf("sub-source %d: %v", sub.ID, err))
			metrics.SubSourceFailuresTotal.Inc()
			elog.Warn().Err(err).Int64("sub_source", sub.ID).Msg("sub-source fetch failed, continuing")
			continue
		}
		succeeded++
		candidates = append(candidates, fetched.Records...)
	}
	if len(subSources) > 0 && succeeded == 0 {
		return fail(StateFetching, fmt.Errorf("entity %d: %w", entityID, ErrTotalFetchFailure))
	}
	metrics.RecordsFetchedTotal.Add(float64(len(candidates)))
	metrics.MalformedRecordsTotal.Add(float64(res.MalformedDropped))

	// deduplicating, against the stored dataset's keys and within the batch.
	existing, err := o.datasets.Load(ctx, entityID)
	if err != nil {
		return fail(StateDeduplicating, err)
	}
	fresh := dedup.Filter(dedup.Keys(existing), candidates)
	res.DuplicatesRemoved = len(candidates) - len(fresh)
	metrics.DuplicatesRemovedTotal.Add(float64(res.DuplicatesRemoved))

	// validating: advisory only, invalid records are still merged.
	res.Quality = o.validator.Batch(fresh)
	metrics.QualityScore.WithLabelValues(strconv.FormatInt(entityID, 10)).Set(res.Quality.QualityScore)
	if res.Quality.InvalidRecords > 0 {
		elog.Warn().
			Int("invalid", res.Quality.InvalidRecords).
			Float64("quality_score", res.Quality.QualityScore).
			Msg("batch contains records failing validation")
	}

	res.NewRecords = len(fresh)
	res.TotalRecords = len(existing) + len(fresh)

	if o.dryRun {
		res.Success = true
		res.Elapsed = o.now().Sub(started)
		elog.Info().Int("would_append", len(fresh)).Msg("dry-run: skipping write and watermark advance")
		return res
	}

	// writing: always commit, so a new entity's first successful cycle
	// creates its dataset even when the batch is empty. On failure the
	// watermark stays untouched so the next run retries the same window.
	committed, err := o.datasets.Merge(ctx, entityID, existing, fresh)
	if err != nil {
		return fail(StateWriting, err)
	}
	res.TotalRecords = committed.Total
	maxStart := committed.MaxIntervalStart
	metrics.RecordsWrittenTotal.Add(float64(committed.Appended))

	// advancing_watermark: lastFetchTime never regresses; an empty batch
	// still refreshes lastSuccessfulRun.
	next := mark
	if maxStart != nil && (next.LastFetchTime == nil || maxStart.After(*next.LastFetchTime)) {
		t := *maxStart
		next.LastFetchTime = &t
	}
	next.LastRecordCount = len(fresh)
	next.LastSuccessfulRun = o.now().UTC()
	if err := o.marks.Set(entityID, next); err != nil {
		return fail(StateAdvancingWatermark, err)
	}

	res.Success = true
	res.Elapsed = o.now().Sub(started)
	metrics.CycleDuration.Observe(res.Elapsed.Seconds())
	elog.Info().
		Int("new_records", res.NewRecords).
		Int("total_records", res.TotalRecords).
		Int("duplicates_removed", res.DuplicatesRemoved).
		Int("malformed_dropped", res.MalformedDropped).
		Dur("elapsed", res.Elapsed).
		Msg("entity cycle complete")
	return res
}
