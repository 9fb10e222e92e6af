package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vayuaq/vayu/internal/dataset"
	"github.com/vayuaq/vayu/internal/models"
	"github.com/vayuaq/vayu/internal/openaq"
	"github.com/vayuaq/vayu/internal/state"
	"github.com/vayuaq/vayu/internal/validate"
)

var (
	t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func rec(entity, sensor int64, param string, start time.Time, value float64) models.Record {
	return models.Record{
		Value:       value,
		Parameter:   models.Parameter{ID: 2, Name: param, Units: "µg/m³"},
		Period:      models.Period{From: models.UTCTimestamp{UTC: start}, To: models.UTCTimestamp{UTC: start.Add(time.Hour)}},
		EntityID:    entity,
		SubSourceID: sensor,
	}
}

// fakeUpstream serves scripted sub-sources and measurements, honoring the
// date_from lower bound inclusively as the real API does.
type fakeUpstream struct {
	subs      map[int64][]models.SubSource
	missing   map[int64]bool
	records   map[int64][]models.Record
	failing   map[int64]error
	malformed map[int64]int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		subs:      make(map[int64][]models.SubSource),
		missing:   make(map[int64]bool),
		records:   make(map[int64][]models.Record),
		failing:   make(map[int64]error),
		malformed: make(map[int64]int),
	}
}

func (f *fakeUpstream) DiscoverSubSources(_ context.Context, entityID int64) ([]models.SubSource, error) {
	if f.missing[entityID] {
		return nil, fmt.Errorf("entity %d: %w", entityID, openaq.ErrEntityNotFound)
	}
	return f.subs[entityID], nil
}

func (f *fakeUpstream) FetchSince(_ context.Context, subSourceID int64, since *time.Time) (openaq.FetchResult, error) {
	if err := f.failing[subSourceID]; err != nil {
		return openaq.FetchResult{}, err
	}
	res := openaq.FetchResult{Malformed: f.malformed[subSourceID]}
	for _, r := range f.records[subSourceID] {
		if since != nil && r.IntervalStart().Before(*since) {
			continue
		}
		res.Records = append(res.Records, r)
	}
	return res, nil
}

// failingStore delegates loads but refuses every merge.
type failingStore struct {
	dataset.Store
}

func (f *failingStore) Merge(context.Context, int64, []models.Record, []models.Record) (dataset.AppendResult, error) {
	return dataset.AppendResult{}, errors.New("disk full")
}

type fixture struct {
	upstream *fakeUpstream
	files    *dataset.FileStore
	marks    *state.Store
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	files, err := dataset.NewFileStore(dir)
	require.NoError(t, err)

	upstream := newFakeUpstream()
	marks := state.Open(filepath.Join(dir, "watermarks.json"), zerolog.Nop())
	orch := New(upstream, files, marks, validate.New(validate.DefaultRules()), zerolog.Nop())

	return &fixture{upstream: upstream, files: files, marks: marks, orch: orch}
}

func subSource(id int64, param string) models.SubSource {
	return models.SubSource{ID: id, Parameter: models.ParameterKind{ID: 2, Name: param, Unit: "µg/m³"}}
}

func TestCycleAppendsOnlyNewRecords(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Dataset already holds the record at T0.
	seeded := rec(1, 10, "pm25", t0, 42)
	_, err := fx.files.Merge(ctx, 1, nil, []models.Record{seeded})
	require.NoError(t, err)

	// Upstream retransmits T0 alongside the new T1.
	fx.upstream.subs[1] = []models.SubSource{subSource(10, "pm25")}
	fx.upstream.records[10] = []models.Record{seeded, rec(1, 10, "pm25", t1, 17)}

	summary := fx.orch.Run(ctx, []int64{1})
	assert.Equal(t, 1, summary.TotalNewRecords)
	assert.Equal(t, 1, summary.SuccessfulEntities)

	stored, err := fx.files.Load(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 42.0, stored[0].Value)
	assert.True(t, stored[1].IntervalStart().Equal(t1))

	wm, ok := fx.marks.Get(1)
	require.True(t, ok)
	require.NotNil(t, wm.LastFetchTime)
	assert.True(t, wm.LastFetchTime.Equal(t1))
	assert.Equal(t, 1, wm.LastRecordCount)
}

func TestSecondRunAgainstUnchangedUpstreamIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.upstream.subs[1] = []models.SubSource{subSource(10, "pm25")}
	fx.upstream.records[10] = []models.Record{
		rec(1, 10, "pm25", t0, 1),
		rec(1, 10, "pm25", t1, 2),
	}

	first := fx.orch.Run(ctx, []int64{1})
	require.Equal(t, 2, first.TotalNewRecords)
	wmBefore, ok := fx.marks.Get(1)
	require.True(t, ok)

	second := fx.orch.Run(ctx, []int64{1})
	assert.Equal(t, 0, second.TotalNewRecords)
	assert.Equal(t, 1, second.SuccessfulEntities)

	wmAfter, ok := fx.marks.Get(1)
	require.True(t, ok)
	assert.True(t, wmAfter.LastFetchTime.Equal(*wmBefore.LastFetchTime))
	assert.Equal(t, 0, wmAfter.LastRecordCount)
	assert.False(t, wmAfter.LastSuccessfulRun.Before(wmBefore.LastSuccessfulRun))

	stored, err := fx.files.Load(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestWriteFailureLeavesWatermarkUntouched(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fetchTime := t0
	before := models.Watermark{LastFetchTime: &fetchTime, LastRecordCount: 3, LastSuccessfulRun: t0}
	require.NoError(t, fx.marks.Set(1, before))

	fx.upstream.subs[1] = []models.SubSource{subSource(10, "pm25")}
	fx.upstream.records[10] = []models.Record{rec(1, 10, "pm25", t1, 9)}

	orch := New(fx.upstream, &failingStore{Store: fx.files}, fx.marks, validate.New(validate.DefaultRules()), zerolog.Nop())
	summary := orch.Run(ctx, []int64{1})

	require.Equal(t, 1, summary.FailedEntities)
	res := summary.Entities[0]
	assert.False(t, res.Success)
	assert.Equal(t, StateWriting, res.FailedAt)

	after, ok := fx.marks.Get(1)
	require.True(t, ok)
	assert.True(t, after.LastFetchTime.Equal(t0))
	assert.Equal(t, 3, after.LastRecordCount)
	assert.True(t, after.LastSuccessfulRun.Equal(before.LastSuccessfulRun))
}

func TestPartialSubSourceFailureIsIsolated(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.upstream.subs[1] = []models.SubSource{
		subSource(10, "pm25"),
		subSource(11, "pm10"),
		subSource(12, "o3"),
	}
	fx.upstream.records[10] = []models.Record{rec(1, 10, "pm25", t0, 1)}
	fx.upstream.failing[11] = errors.New("timeout")
	fx.upstream.records[12] = []models.Record{rec(1, 12, "o3", t0, 2)}

	summary := fx.orch.Run(ctx, []int64{1})
	require.Equal(t, 1, summary.SuccessfulEntities)

	res := summary.Entities[0]
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.NewRecords)
	require.Len(t, res.SubSourceErrors, 1)
	assert.Contains(t, res.SubSourceErrors[0], "sub-source 11")

	stored, err := fx.files.Load(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestTotalFetchFailureFailsEntity(t *testing.T) {
	fx := newFixture(t)

	fx.upstream.subs[1] = []models.SubSource{subSource(10, "pm25"), subSource(11, "pm10")}
	fx.upstream.failing[10] = errors.New("timeout")
	fx.upstream.failing[11] = errors.New("timeout")

	summary := fx.orch.Run(context.Background(), []int64{1})
	require.Equal(t, 1, summary.FailedEntities)
	res := summary.Entities[0]
	assert.Equal(t, StateFetching, res.FailedAt)
	assert.Contains(t, res.Error, ErrTotalFetchFailure.Error())

	_, ok := fx.marks.Get(1)
	assert.False(t, ok)
}

func TestZeroSubSourcesSucceedsWithoutAdvancingFetchTime(t *testing.T) {
	fx := newFixture(t)

	fetchTime := t0
	require.NoError(t, fx.marks.Set(1, models.Watermark{LastFetchTime: &fetchTime, LastSuccessfulRun: t0}))
	fx.upstream.subs[1] = nil

	summary := fx.orch.Run(context.Background(), []int64{1})
	require.Equal(t, 1, summary.SuccessfulEntities)
	assert.Equal(t, 0, summary.TotalNewRecords)

	wm, ok := fx.marks.Get(1)
	require.True(t, ok)
	require.NotNil(t, wm.LastFetchTime)
	assert.True(t, wm.LastFetchTime.Equal(t0))
	assert.True(t, wm.LastSuccessfulRun.After(t0))
}

func TestFirstSuccessfulCycleCreatesEmptyDataset(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// New entity, nothing fetched: the cycle still commits, creating the
	// entity's dataset as an empty collection.
	fx.upstream.subs[1] = nil

	summary := fx.orch.Run(ctx, []int64{1})
	require.Equal(t, 1, summary.SuccessfulEntities)

	_, err := os.Stat(fx.files.Path(1))
	require.NoError(t, err)

	stored, err := fx.files.Load(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestEntityNotFoundDoesNotBlockOthers(t *testing.T) {
	fx := newFixture(t)

	fx.upstream.missing[1] = true
	fx.upstream.subs[2] = []models.SubSource{subSource(20, "pm25")}
	fx.upstream.records[20] = []models.Record{rec(2, 20, "pm25", t0, 5)}

	summary := fx.orch.Run(context.Background(), []int64{1, 2})
	assert.Equal(t, 1, summary.FailedEntities)
	assert.Equal(t, 1, summary.SuccessfulEntities)
	assert.Equal(t, 1, summary.TotalNewRecords)

	require.Len(t, summary.Entities, 2)
	assert.Equal(t, StateDiscovering, summary.Entities[0].FailedAt)
	assert.True(t, summary.Entities[1].Success)
}

func TestMalformedCountsSurfaceInSummary(t *testing.T) {
	fx := newFixture(t)

	fx.upstream.subs[1] = []models.SubSource{subSource(10, "pm25")}
	fx.upstream.records[10] = []models.Record{rec(1, 10, "pm25", t0, 5)}
	fx.upstream.malformed[10] = 3

	summary := fx.orch.Run(context.Background(), []int64{1})
	require.Equal(t, 1, summary.SuccessfulEntities)
	assert.Equal(t, 3, summary.Entities[0].MalformedDropped)
}

func TestDryRunWritesNothing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.upstream.subs[1] = []models.SubSource{subSource(10, "pm25")}
	fx.upstream.records[10] = []models.Record{rec(1, 10, "pm25", t0, 5)}

	fx.orch.SetDryRun(true)
	summary := fx.orch.Run(ctx, []int64{1})
	require.Equal(t, 1, summary.SuccessfulEntities)
	assert.Equal(t, 1, summary.Entities[0].NewRecords)

	stored, err := fx.files.Load(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, stored)
	_, ok := fx.marks.Get(1)
	assert.False(t, ok)
}

func TestCancellationStopsBeforeNextEntity(t *testing.T) {
	fx := newFixture(t)

	fx.upstream.subs[1] = []models.SubSource{subSource(10, "pm25")}
	fx.upstream.records[10] = []models.Record{rec(1, 10, "pm25", t0, 5)}
	fx.upstream.subs[2] = []models.SubSource{subSource(20, "pm25")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := fx.orch.Run(ctx, []int64{1, 2})
	assert.Empty(t, summary.Entities)
}

func TestValidationIsAdvisoryOnly(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// A record with an inverted interval fails validation but must still
	// be persisted.
	bad := rec(1, 10, "pm25", t1, 7)
	bad.Period.To.UTC = t0

	fx.upstream.subs[1] = []models.SubSource{subSource(10, "pm25")}
	fx.upstream.records[10] = []models.Record{bad}

	summary := fx.orch.Run(ctx, []int64{1})
	require.Equal(t, 1, summary.SuccessfulEntities)

	res := summary.Entities[0]
	assert.Equal(t, 1, res.NewRecords)
	assert.Equal(t, 1, res.Quality.InvalidRecords)

	stored, err := fx.files.Load(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
